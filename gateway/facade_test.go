package gateway

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/kartikbazzad/docraft/fsm"
	"github.com/kartikbazzad/docraft/internal/apperrors"
	"github.com/kartikbazzad/docraft/raft"
	"github.com/kartikbazzad/docraft/store"
	"github.com/kartikbazzad/docraft/wire"
)

// fakeNode drives cmd.Op straight into an in-process fsm.StateMachine,
// standing in for a raft.Node so Gateway tests don't need a running cluster.
type fakeNode struct {
	sm       *fsm.StateMachine
	status   raft.ServerStatus
	notLeader bool
}

func (f *fakeNode) Submit(cmd wire.Command) (interface{}, error) {
	if f.notLeader {
		return nil, apperrors.NotLeader("other-node")
	}
	return f.sm.Apply(cmd)
}

func (f *fakeNode) Status() raft.ServerStatus { return f.status }

func newTestGateway(t *testing.T) (*Gateway, *fakeNode) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	sm := fsm.New(s)
	node := &fakeNode{sm: sm, status: raft.ServerStatus{ServerID: "n0", State: "leader"}}
	return New(node, sm), node
}

func TestRegisterUserThenAuthenticate(t *testing.T) {
	g, _ := newTestGateway(t)

	if err := g.RegisterUser("ada", "secret"); err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}

	session, err := g.AuthenticateUser("ada", "secret")
	if err != nil {
		t.Fatalf("AuthenticateUser: %v", err)
	}
	if session.Username != "ada" {
		t.Fatalf("session.Username = %q, want %q", session.Username, "ada")
	}
}

func TestRegisterUserValidatesBlankUsername(t *testing.T) {
	g, _ := newTestGateway(t)

	err := g.RegisterUser("", "secret")
	if err == nil {
		t.Fatalf("expected a validation error for a blank username")
	}
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) || appErr.Code != 400 {
		t.Fatalf("expected a 400 validation error, got %v", err)
	}
}

func TestCreateDocumentMintsIDAndTimestamp(t *testing.T) {
	g, _ := newTestGateway(t)
	if err := g.RegisterUser("ada", "secret"); err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}

	doc, err := g.CreateDocument("ada", "Notes")
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if doc.ID == "" {
		t.Fatalf("expected CreateDocument to mint a non-empty document ID")
	}
	if doc.LastEdited.IsZero() {
		t.Fatalf("expected CreateDocument to stamp a non-zero timestamp")
	}
}

func TestUpdateDocumentContentWithMergeRoundTrip(t *testing.T) {
	g, _ := newTestGateway(t)
	if err := g.RegisterUser("ada", "secret"); err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	doc, err := g.CreateDocument("ada", "Notes")
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if _, err := g.UpdateDocumentContent(doc.ID, "hello world", "ada"); err != nil {
		t.Fatalf("UpdateDocumentContent: %v", err)
	}

	merged, err := g.UpdateDocumentContentWithMerge(doc.ID, "hello WORLD", "hello world", "ada")
	if err != nil {
		t.Fatalf("UpdateDocumentContentWithMerge: %v", err)
	}
	if merged.Data != "hello WORLD" {
		t.Fatalf("merged.Data = %q, want %q", merged.Data, "hello WORLD")
	}
}

func TestGetDocumentAllowsMemberDeniesOutsider(t *testing.T) {
	g, _ := newTestGateway(t)
	for _, u := range []string{"ada", "bob", "carol"} {
		if err := g.RegisterUser(u, "secret"); err != nil {
			t.Fatalf("RegisterUser(%s): %v", u, err)
		}
	}
	doc, err := g.CreateDocument("ada", "Notes")
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if _, err := g.AddUserToDocument(doc.ID, "bob", "ada"); err != nil {
		t.Fatalf("AddUserToDocument: %v", err)
	}

	got, err := g.GetDocument(doc.ID, "bob")
	if err != nil {
		t.Fatalf("GetDocument by a member: %v", err)
	}
	if got.ID != doc.ID {
		t.Fatalf("got.ID = %q, want %q", got.ID, doc.ID)
	}

	_, err = g.GetDocument(doc.ID, "carol")
	if err == nil {
		t.Fatalf("expected an error reading a document carol has no access to")
	}
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) || appErr.Code != 403 {
		t.Fatalf("expected a 403 forbidden error, got %v", err)
	}
	if appErr.Message != "User does not have access to this document." {
		t.Fatalf("message = %q, want the literal access-denied text", appErr.Message)
	}
}

func TestSubmitPropagatesNotLeader(t *testing.T) {
	g, node := newTestGateway(t)
	node.notLeader = true

	err := g.RegisterUser("ada", "secret")
	if err == nil {
		t.Fatalf("expected a not-leader error")
	}
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) || appErr.Code != 421 {
		t.Fatalf("expected a 421 not-leader error, got %v", err)
	}
}

func TestServerStatusAndClusterStatusShareVantagePoint(t *testing.T) {
	g, node := newTestGateway(t)
	node.status = raft.ServerStatus{ServerID: "n0", State: "leader", CurrentTerm: 3}

	if g.ServerStatus() != g.ClusterStatus() {
		t.Fatalf("ServerStatus() and ClusterStatus() should agree: %+v vs %+v", g.ServerStatus(), g.ClusterStatus())
	}
}
