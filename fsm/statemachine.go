// Package fsm is the deterministic state machine applied to the replicated
// log: given a store.Store and a wire.Command, Apply produces the same
// observable result on every replica (spec §4.2). Authorization, existence
// checks, and the three-way merge all live here rather than at the gateway,
// so a command replayed from the log on any node — not just the one that
// first accepted it — reaches the same state.
package fsm

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/kartikbazzad/docraft/internal/apperrors"
	"github.com/kartikbazzad/docraft/store"
	"github.com/kartikbazzad/docraft/wire"
)

// Result is what Apply reports back to whichever caller is waiting on a
// command (the leader's submitter, or nobody if this replica only reached
// the command through replication). Document is only meaningful for the
// commands that produce or mutate one.
type Result struct {
	Document *store.Document
	Session  *Session

	// Message carries the literal confirmation text for register_user and
	// authenticate_user (the latter alongside its Session), matching the
	// wording the original business logic returns to its caller.
	Message string
}

// Session is returned by authenticate_user: proof of valid credentials plus
// the caller's current document list, so a gateway can answer an
// authenticate_user call without a second round trip.
type Session struct {
	Username  string
	Documents []store.Document
}

// StateMachine applies committed commands to a Store. It holds no
// replication state of its own — a raft.Node calls Apply once per committed
// LogEntry, in log order, on every replica.
type StateMachine struct {
	store *store.Store
}

// New returns a StateMachine backed by s.
func New(s *store.Store) *StateMachine {
	return &StateMachine{store: s}
}

// Apply executes cmd against the store and returns its result. Apply never
// itself enforces per-command argument presence — that is
// internal/validate's job, run once by the leader before the command ever
// reaches the log — but it does enforce every authorization and existence
// rule in spec §4.2, since those depend on state no earlier validation pass
// could see.
func (m *StateMachine) Apply(cmd wire.Command) (Result, error) {
	switch cmd.Op {
	case wire.OpRegisterUser:
		return m.registerUser(cmd)
	case wire.OpAuthenticateUser:
		return m.authenticateUser(cmd)
	case wire.OpCreateDocument:
		return m.createDocument(cmd)
	case wire.OpUpdateDocumentTitle:
		return m.updateDocumentTitle(cmd)
	case wire.OpUpdateDocumentContent:
		return m.updateDocumentContent(cmd)
	case wire.OpUpdateDocumentContentWithMerge:
		return m.updateDocumentContentWithMerge(cmd)
	case wire.OpDeleteDocument:
		return m.deleteDocument(cmd)
	case wire.OpAddUserToDocument:
		return m.addUserToDocument(cmd)
	case wire.OpRemoveUserFromDocument:
		return m.removeUserFromDocument(cmd)
	default:
		return Result{}, apperrors.BadRequest(fmt.Sprintf("unknown operation %q", cmd.Op))
	}
}

func (m *StateMachine) registerUser(cmd wire.Command) (Result, error) {
	created, err := m.store.CreateUser(store.User{
		Username: cmd.Username,
		Password: cmd.Password,
	})
	if err != nil {
		return Result{}, apperrors.Internal(err)
	}
	if !created {
		return Result{}, apperrors.Conflict(fmt.Sprintf("user %q already exists", cmd.Username))
	}
	return Result{Message: "User registered successfully."}, nil
}

func (m *StateMachine) authenticateUser(cmd wire.Command) (Result, error) {
	u, ok, err := m.store.GetUser(cmd.Username)
	if err != nil {
		return Result{}, apperrors.Internal(err)
	}
	if !ok {
		return Result{}, apperrors.Unauthorized(fmt.Sprintf("user %q does not exist", cmd.Username))
	}
	if u.Password != cmd.Password {
		return Result{}, apperrors.Unauthorized("Invalid password.")
	}
	docs, err := m.store.GetUserDocuments(cmd.Username)
	if err != nil {
		return Result{}, apperrors.Internal(err)
	}
	return Result{Message: "Authentication successful.", Session: &Session{Username: cmd.Username, Documents: docs}}, nil
}

func (m *StateMachine) createDocument(cmd wire.Command) (Result, error) {
	if _, ok, err := m.store.GetUser(cmd.Username); err != nil {
		return Result{}, apperrors.Internal(err)
	} else if !ok {
		return Result{}, apperrors.NotFound(fmt.Sprintf("user %q does not exist", cmd.Username))
	}

	id := cmd.NewDocumentID
	if id == "" {
		// Only reached when this command was authored without going through
		// the gateway's leader-side minting path (e.g. a test driving Apply
		// directly); the leader always stamps NewDocumentID before append.
		id = uuid.NewString()
	}

	doc := store.Document{
		ID:         id,
		Title:      cmd.Title,
		Data:       "",
		LastEdited: cmd.Timestamp,
		Users:      []string{cmd.Username},
	}
	created, err := m.store.CreateDocument(doc)
	if err != nil {
		return Result{}, apperrors.Internal(err)
	}
	if !created {
		return Result{}, apperrors.Conflict(fmt.Sprintf("document %q already exists", id))
	}
	return Result{Document: &doc}, nil
}

func (m *StateMachine) updateDocumentTitle(cmd wire.Command) (Result, error) {
	doc, err := m.authorizedDocument(cmd.DocumentID, cmd.Username)
	if err != nil {
		return Result{}, err
	}
	doc.Title = cmd.Title
	doc.LastEdited = cmd.Timestamp
	return m.saveDocument(doc)
}

func (m *StateMachine) updateDocumentContent(cmd wire.Command) (Result, error) {
	doc, err := m.authorizedDocument(cmd.DocumentID, cmd.Username)
	if err != nil {
		return Result{}, err
	}
	doc.Data = cmd.Content
	doc.LastEdited = cmd.Timestamp
	return m.saveDocument(doc)
}

// updateDocumentContentWithMerge reconciles a concurrent edit: cmd.Content is
// the client's proposed text, cmd.BaseContent the version it was edited
// against, and the document's current Data the server's latest text. The
// three-way merge (fsm.Merge) resolves all three into the new Data.
func (m *StateMachine) updateDocumentContentWithMerge(cmd wire.Command) (Result, error) {
	doc, err := m.authorizedDocument(cmd.DocumentID, cmd.Username)
	if err != nil {
		return Result{}, err
	}
	doc.Data = Merge(cmd.BaseContent, doc.Data, cmd.Content)
	doc.LastEdited = cmd.Timestamp
	return m.saveDocument(doc)
}

func (m *StateMachine) deleteDocument(cmd wire.Command) (Result, error) {
	if _, err := m.authorizedDocument(cmd.DocumentID, cmd.Username); err != nil {
		return Result{}, err
	}
	deleted, err := m.store.DeleteDocument(cmd.DocumentID)
	if err != nil {
		return Result{}, apperrors.Internal(err)
	}
	if !deleted {
		return Result{}, apperrors.NotFound(fmt.Sprintf("document %q does not exist", cmd.DocumentID))
	}
	return Result{}, nil
}

func (m *StateMachine) addUserToDocument(cmd wire.Command) (Result, error) {
	doc, err := m.authorizedDocument(cmd.DocumentID, cmd.AddedBy)
	if err != nil {
		return Result{}, err
	}
	if _, ok, err := m.store.GetUser(cmd.Username); err != nil {
		return Result{}, apperrors.Internal(err)
	} else if !ok {
		return Result{}, apperrors.NotFound(fmt.Sprintf("user %q does not exist", cmd.Username))
	}
	if doc.HasUser(cmd.Username) {
		return Result{}, apperrors.Conflict(fmt.Sprintf("user %q already has access to document %q", cmd.Username, cmd.DocumentID))
	}
	doc.Users = append(doc.Users, cmd.Username)
	return m.saveDocumentAndUser(doc, cmd.Username, true)
}

func (m *StateMachine) removeUserFromDocument(cmd wire.Command) (Result, error) {
	doc, err := m.authorizedDocument(cmd.DocumentID, cmd.RemovedBy)
	if err != nil {
		return Result{}, err
	}
	if !doc.HasUser(cmd.Username) {
		return Result{}, apperrors.NotFound(fmt.Sprintf("user %q does not have access to document %q", cmd.Username, cmd.DocumentID))
	}
	users := make([]string, 0, len(doc.Users))
	for _, u := range doc.Users {
		if u != cmd.Username {
			users = append(users, u)
		}
	}
	doc.Users = users
	return m.saveDocumentAndUser(doc, cmd.Username, false)
}

// authorizedDocument loads the document and enforces that username is among
// its Users. Returns apperrors.NotFound / apperrors.Forbidden as appropriate.
func (m *StateMachine) authorizedDocument(documentID, username string) (store.Document, error) {
	doc, ok, err := m.store.GetDocument(documentID)
	if err != nil {
		return store.Document{}, apperrors.Internal(err)
	}
	if !ok {
		return store.Document{}, apperrors.NotFound(fmt.Sprintf("document %q does not exist", documentID))
	}
	if !doc.HasUser(username) {
		return store.Document{}, apperrors.Forbidden("User does not have access to this document.")
	}
	return doc, nil
}

// GetDocument is the access-controlled read: it returns documentID's current
// state if username is among its Users, or the same Forbidden error
// authorizedDocument's callers see otherwise. Unlike the write commands
// above, this is never appended to the log — any replica can answer it
// directly against its own Store.
func (m *StateMachine) GetDocument(documentID, username string) (store.Document, error) {
	return m.authorizedDocument(documentID, username)
}

func (m *StateMachine) saveDocument(doc store.Document) (Result, error) {
	updated, err := m.store.UpdateDocument(doc)
	if err != nil {
		return Result{}, apperrors.Internal(err)
	}
	if !updated {
		return Result{}, apperrors.NotFound(fmt.Sprintf("document %q does not exist", doc.ID))
	}
	return Result{Document: &doc}, nil
}

// saveDocumentAndUser persists doc (whose Users list already reflects the
// grant/revoke) and keeps the affected user's Documents list in sync, so the
// two cross-references never diverge.
func (m *StateMachine) saveDocumentAndUser(doc store.Document, username string, granted bool) (Result, error) {
	u, ok, err := m.store.GetUser(username)
	if err != nil {
		return Result{}, apperrors.Internal(err)
	}
	if ok {
		if granted {
			u.Documents = appendDocumentID(u.Documents, doc.ID)
		} else {
			u.Documents = removeDocumentID(u.Documents, doc.ID)
		}
		if _, err := m.store.UpdateUser(u); err != nil {
			return Result{}, apperrors.Internal(err)
		}
	}

	if _, err := m.store.UpdateDocument(doc); err != nil {
		return Result{}, apperrors.Internal(err)
	}
	return Result{Document: &doc}, nil
}

func appendDocumentID(list []string, id string) []string {
	for _, existing := range list {
		if existing == id {
			return list
		}
	}
	return append(list, id)
}

func removeDocumentID(list []string, id string) []string {
	out := make([]string, 0, len(list))
	for _, existing := range list {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}
