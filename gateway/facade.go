// Package gateway is the thin routing layer between an external API surface
// (out of this repository's scope — see SPEC_FULL.md §1) and the consensus
// engine: it maps each client operation to either a local read (the state
// machine or the store, answered on whatever replica received the call) or
// a replicated write (validated, then driven through raft.Node.Submit).
package gateway

import (
	"time"

	"github.com/google/uuid"

	"github.com/kartikbazzad/docraft/fsm"
	"github.com/kartikbazzad/docraft/internal/apperrors"
	"github.com/kartikbazzad/docraft/internal/validate"
	"github.com/kartikbazzad/docraft/raft"
	"github.com/kartikbazzad/docraft/store"
	"github.com/kartikbazzad/docraft/wire"
)

// Node is what Gateway needs from the consensus engine.
type Node interface {
	Submit(cmd wire.Command) (interface{}, error)
	Status() raft.ServerStatus
}

// Gateway routes client operations for one server replica.
type Gateway struct {
	node Node
	fsm  *fsm.StateMachine
}

// New returns a Gateway backed by node (for writes) and sm (for local reads).
func New(node Node, sm *fsm.StateMachine) *Gateway {
	return &Gateway{node: node, fsm: sm}
}

// FSMAdapter wraps a *fsm.StateMachine to satisfy raft.StateMachine, whose
// Apply signature is deliberately untyped so the raft package never needs to
// import fsm.
type FSMAdapter struct {
	SM *fsm.StateMachine
}

// Apply implements raft.StateMachine.
func (a FSMAdapter) Apply(cmd wire.Command) (interface{}, error) {
	result, err := a.SM.Apply(cmd)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (g *Gateway) submit(cmd wire.Command) (fsm.Result, error) {
	if err := validate.Command(cmd); err != nil {
		return fsm.Result{}, err
	}
	result, err := g.node.Submit(cmd)
	if err != nil {
		return fsm.Result{}, err
	}
	r, ok := result.(fsm.Result)
	if !ok {
		return fsm.Result{}, apperrors.Internal(nil)
	}
	return r, nil
}

// RegisterUser creates a new account. A write: replicated through the log.
func (g *Gateway) RegisterUser(username, password string) error {
	_, err := g.submit(wire.Command{
		Op:        wire.OpRegisterUser,
		Username:  username,
		Password:  password,
		Timestamp: time.Now(),
	})
	return err
}

// AuthenticateUser checks credentials and returns the caller's document
// list. A read: answered locally against whichever replica's Store happens
// to be current, bypassing the log — every replica is expected to already
// reflect the same committed state by the time a client authenticates
// (spec.md §2's "reads bypass the log").
func (g *Gateway) AuthenticateUser(username, password string) (*fsm.Session, error) {
	cmd := wire.Command{Op: wire.OpAuthenticateUser, Username: username, Password: password}
	if err := validate.Command(cmd); err != nil {
		return nil, err
	}
	result, err := g.fsm.Apply(cmd)
	if err != nil {
		return nil, err
	}
	return result.Session, nil
}

// GetDocument returns documentID's current state if username has access to
// it. A read: answered locally against this replica's Store, bypassing the
// log, the same way AuthenticateUser does.
func (g *Gateway) GetDocument(documentID, username string) (*store.Document, error) {
	doc, err := g.fsm.GetDocument(documentID, username)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// CreateDocument mints a new document ID and timestamp on this node before
// submitting, so the command is a pure value every replica applies
// identically.
func (g *Gateway) CreateDocument(username, title string) (*store.Document, error) {
	result, err := g.submit(wire.Command{
		Op:            wire.OpCreateDocument,
		Username:      username,
		Title:         title,
		NewDocumentID: uuid.NewString(),
		Timestamp:     time.Now(),
	})
	if err != nil {
		return nil, err
	}
	return result.Document, nil
}

// UpdateDocumentTitle renames a document the caller has access to.
func (g *Gateway) UpdateDocumentTitle(documentID, title, username string) (*store.Document, error) {
	result, err := g.submit(wire.Command{
		Op:         wire.OpUpdateDocumentTitle,
		DocumentID: documentID,
		Title:      title,
		Username:   username,
		Timestamp:  time.Now(),
	})
	if err != nil {
		return nil, err
	}
	return result.Document, nil
}

// UpdateDocumentContent overwrites a document's text outright (no merge).
func (g *Gateway) UpdateDocumentContent(documentID, content, username string) (*store.Document, error) {
	result, err := g.submit(wire.Command{
		Op:         wire.OpUpdateDocumentContent,
		DocumentID: documentID,
		Content:    content,
		Username:   username,
		Timestamp:  time.Now(),
	})
	if err != nil {
		return nil, err
	}
	return result.Document, nil
}

// UpdateDocumentContentWithMerge reconciles a concurrent edit against
// baseContent via the three-way merge.
func (g *Gateway) UpdateDocumentContentWithMerge(documentID, content, baseContent, username string) (*store.Document, error) {
	result, err := g.submit(wire.Command{
		Op:          wire.OpUpdateDocumentContentWithMerge,
		DocumentID:  documentID,
		Content:     content,
		BaseContent: baseContent,
		Username:    username,
		Timestamp:   time.Now(),
	})
	if err != nil {
		return nil, err
	}
	return result.Document, nil
}

// DeleteDocument removes a document the caller has access to.
func (g *Gateway) DeleteDocument(documentID, username string) error {
	_, err := g.submit(wire.Command{
		Op:         wire.OpDeleteDocument,
		DocumentID: documentID,
		Username:   username,
		Timestamp:  time.Now(),
	})
	return err
}

// AddUserToDocument grants username access to documentID, on behalf of addedBy.
func (g *Gateway) AddUserToDocument(documentID, username, addedBy string) (*store.Document, error) {
	result, err := g.submit(wire.Command{
		Op:         wire.OpAddUserToDocument,
		DocumentID: documentID,
		Username:   username,
		AddedBy:    addedBy,
		Timestamp:  time.Now(),
	})
	if err != nil {
		return nil, err
	}
	return result.Document, nil
}

// RemoveUserFromDocument revokes username's access to documentID, on behalf
// of removedBy.
func (g *Gateway) RemoveUserFromDocument(documentID, username, removedBy string) (*store.Document, error) {
	result, err := g.submit(wire.Command{
		Op:         wire.OpRemoveUserFromDocument,
		DocumentID: documentID,
		Username:   username,
		RemovedBy:  removedBy,
		Timestamp:  time.Now(),
	})
	if err != nil {
		return nil, err
	}
	return result.Document, nil
}

// ServerStatus reports this node's own consensus state.
func (g *Gateway) ServerStatus() raft.ServerStatus {
	return g.node.Status()
}

// ClusterStatus reports this node's view of cluster consensus state. No RPC
// exists (spec.md §6.1) to aggregate remote peers' status, so it shares
// ServerStatus's field set and vantage point.
func (g *Gateway) ClusterStatus() raft.ServerStatus {
	return g.node.Status()
}
