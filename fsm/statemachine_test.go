package fsm

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/kartikbazzad/docraft/internal/apperrors"
	"github.com/kartikbazzad/docraft/store"
	"github.com/kartikbazzad/docraft/wire"
)

func newStateMachine(t *testing.T) *StateMachine {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	return New(s)
}

func appErrorCode(t *testing.T, err error) int {
	t.Helper()
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected an *apperrors.AppError, got %T (%v)", err, err)
	}
	return appErr.Code
}

func TestRegisterUserRejectsDuplicateUsername(t *testing.T) {
	m := newStateMachine(t)

	if _, err := m.Apply(wire.Command{Op: wire.OpRegisterUser, Username: "ada", Password: "secret"}); err != nil {
		t.Fatalf("first register_user: %v", err)
	}

	_, err := m.Apply(wire.Command{Op: wire.OpRegisterUser, Username: "ada", Password: "other"})
	if err == nil {
		t.Fatalf("expected an error registering a duplicate username")
	}
	if code := appErrorCode(t, err); code != 409 {
		t.Fatalf("error code = %d, want 409", code)
	}
}

func TestAuthenticateUserReturnsSessionWithDocuments(t *testing.T) {
	m := newStateMachine(t)
	mustApply(t, m, wire.Command{Op: wire.OpRegisterUser, Username: "ada", Password: "secret"})
	created := mustApply(t, m, wire.Command{
		Op: wire.OpCreateDocument, Username: "ada", Title: "Notes",
		NewDocumentID: "doc1", Timestamp: time.Now(),
	})
	if created.Document == nil {
		t.Fatalf("expected create_document to return a document")
	}

	result, err := m.Apply(wire.Command{Op: wire.OpAuthenticateUser, Username: "ada", Password: "secret"})
	if err != nil {
		t.Fatalf("authenticate_user: %v", err)
	}
	if result.Session == nil {
		t.Fatalf("expected a session")
	}
	if len(result.Session.Documents) != 1 || result.Session.Documents[0].ID != "doc1" {
		t.Fatalf("session.Documents = %+v, want one document doc1", result.Session.Documents)
	}
}

func TestAuthenticateUserRejectsWrongPassword(t *testing.T) {
	m := newStateMachine(t)
	mustApply(t, m, wire.Command{Op: wire.OpRegisterUser, Username: "ada", Password: "secret"})

	_, err := m.Apply(wire.Command{Op: wire.OpAuthenticateUser, Username: "ada", Password: "wrong"})
	if err == nil {
		t.Fatalf("expected an error for a wrong password")
	}
	if code := appErrorCode(t, err); code != 401 {
		t.Fatalf("error code = %d, want 401", code)
	}
}

func TestCreateDocumentRequiresExistingUser(t *testing.T) {
	m := newStateMachine(t)
	_, err := m.Apply(wire.Command{Op: wire.OpCreateDocument, Username: "ghost", Title: "Notes", NewDocumentID: "doc1"})
	if err == nil {
		t.Fatalf("expected an error creating a document for an unknown user")
	}
	if code := appErrorCode(t, err); code != 404 {
		t.Fatalf("error code = %d, want 404", code)
	}
}

func TestUpdateDocumentContentRejectsNonMember(t *testing.T) {
	m := newStateMachine(t)
	mustApply(t, m, wire.Command{Op: wire.OpRegisterUser, Username: "ada", Password: "secret"})
	mustApply(t, m, wire.Command{Op: wire.OpCreateDocument, Username: "ada", NewDocumentID: "doc1"})

	_, err := m.Apply(wire.Command{Op: wire.OpUpdateDocumentContent, DocumentID: "doc1", Username: "intruder", Content: "hi"})
	if err == nil {
		t.Fatalf("expected an error updating a document the caller has no access to")
	}
	if code := appErrorCode(t, err); code != 403 {
		t.Fatalf("error code = %d, want 403", code)
	}
}

func TestUpdateDocumentContentWithMergeAppliesThreeWayMerge(t *testing.T) {
	m := newStateMachine(t)
	mustApply(t, m, wire.Command{Op: wire.OpRegisterUser, Username: "ada", Password: "secret"})
	mustApply(t, m, wire.Command{Op: wire.OpCreateDocument, Username: "ada", NewDocumentID: "doc1"})
	mustApply(t, m, wire.Command{Op: wire.OpUpdateDocumentContent, DocumentID: "doc1", Username: "ada", Content: "hello world"})

	// Another replica already committed "HELLO world"; this client's base was
	// still "hello world" and it proposes "hello WORLD".
	mustApply(t, m, wire.Command{Op: wire.OpUpdateDocumentContent, DocumentID: "doc1", Username: "ada", Content: "HELLO world"})

	result, err := m.Apply(wire.Command{
		Op: wire.OpUpdateDocumentContentWithMerge, DocumentID: "doc1", Username: "ada",
		BaseContent: "hello world", Content: "hello WORLD",
	})
	if err != nil {
		t.Fatalf("update_document_content_with_merge: %v", err)
	}
	if result.Document.Data != "HELLO WORLD" {
		t.Fatalf("merged data = %q, want %q", result.Document.Data, "HELLO WORLD")
	}
}

func TestAddUserToDocumentGrantsAccessAndUpdatesUser(t *testing.T) {
	m := newStateMachine(t)
	mustApply(t, m, wire.Command{Op: wire.OpRegisterUser, Username: "ada", Password: "secret"})
	mustApply(t, m, wire.Command{Op: wire.OpRegisterUser, Username: "grace", Password: "secret"})
	mustApply(t, m, wire.Command{Op: wire.OpCreateDocument, Username: "ada", NewDocumentID: "doc1"})

	result, err := m.Apply(wire.Command{Op: wire.OpAddUserToDocument, DocumentID: "doc1", Username: "grace", AddedBy: "ada"})
	if err != nil {
		t.Fatalf("add_user_to_document: %v", err)
	}
	if !result.Document.HasUser("grace") {
		t.Fatalf("expected grace to have access after being added")
	}

	// grace can now read/write the document.
	_, err = m.Apply(wire.Command{Op: wire.OpUpdateDocumentContent, DocumentID: "doc1", Username: "grace", Content: "shared"})
	if err != nil {
		t.Fatalf("grace should now have write access: %v", err)
	}
}

func TestAddUserToDocumentRejectsNonMemberGranter(t *testing.T) {
	m := newStateMachine(t)
	mustApply(t, m, wire.Command{Op: wire.OpRegisterUser, Username: "ada", Password: "secret"})
	mustApply(t, m, wire.Command{Op: wire.OpRegisterUser, Username: "grace", Password: "secret"})
	mustApply(t, m, wire.Command{Op: wire.OpRegisterUser, Username: "alan", Password: "secret"})
	mustApply(t, m, wire.Command{Op: wire.OpCreateDocument, Username: "ada", NewDocumentID: "doc1"})

	_, err := m.Apply(wire.Command{Op: wire.OpAddUserToDocument, DocumentID: "doc1", Username: "alan", AddedBy: "grace"})
	if err == nil {
		t.Fatalf("expected an error granting access from a non-member account")
	}
	if code := appErrorCode(t, err); code != 403 {
		t.Fatalf("error code = %d, want 403", code)
	}
}

func TestRemoveUserFromDocumentRevokesAccess(t *testing.T) {
	m := newStateMachine(t)
	mustApply(t, m, wire.Command{Op: wire.OpRegisterUser, Username: "ada", Password: "secret"})
	mustApply(t, m, wire.Command{Op: wire.OpRegisterUser, Username: "grace", Password: "secret"})
	mustApply(t, m, wire.Command{Op: wire.OpCreateDocument, Username: "ada", NewDocumentID: "doc1"})
	mustApply(t, m, wire.Command{Op: wire.OpAddUserToDocument, DocumentID: "doc1", Username: "grace", AddedBy: "ada"})

	result, err := m.Apply(wire.Command{Op: wire.OpRemoveUserFromDocument, DocumentID: "doc1", Username: "grace", RemovedBy: "ada"})
	if err != nil {
		t.Fatalf("remove_user_from_document: %v", err)
	}
	if result.Document.HasUser("grace") {
		t.Fatalf("expected grace to lose access")
	}

	_, err = m.Apply(wire.Command{Op: wire.OpUpdateDocumentContent, DocumentID: "doc1", Username: "grace", Content: "nope"})
	if err == nil {
		t.Fatalf("expected grace to lose write access after removal")
	}
}

func TestDeleteDocumentRequiresAccess(t *testing.T) {
	m := newStateMachine(t)
	mustApply(t, m, wire.Command{Op: wire.OpRegisterUser, Username: "ada", Password: "secret"})
	mustApply(t, m, wire.Command{Op: wire.OpCreateDocument, Username: "ada", NewDocumentID: "doc1"})

	_, err := m.Apply(wire.Command{Op: wire.OpDeleteDocument, DocumentID: "doc1", Username: "intruder"})
	if err == nil {
		t.Fatalf("expected an error deleting a document the caller has no access to")
	}

	if _, err := m.Apply(wire.Command{Op: wire.OpDeleteDocument, DocumentID: "doc1", Username: "ada"}); err != nil {
		t.Fatalf("delete_document by an authorized member: %v", err)
	}
}

func TestGetDocumentAllowsMemberDeniesOutsider(t *testing.T) {
	m := newStateMachine(t)
	mustApply(t, m, wire.Command{Op: wire.OpRegisterUser, Username: "ada", Password: "secret"})
	mustApply(t, m, wire.Command{Op: wire.OpRegisterUser, Username: "bob", Password: "secret"})
	mustApply(t, m, wire.Command{Op: wire.OpRegisterUser, Username: "carol", Password: "secret"})
	mustApply(t, m, wire.Command{Op: wire.OpCreateDocument, Username: "ada", NewDocumentID: "doc1"})
	mustApply(t, m, wire.Command{Op: wire.OpAddUserToDocument, DocumentID: "doc1", Username: "bob", AddedBy: "ada"})

	doc, err := m.GetDocument("doc1", "bob")
	if err != nil {
		t.Fatalf("get_document by a member: %v", err)
	}
	if doc.ID != "doc1" {
		t.Fatalf("doc.ID = %q, want doc1", doc.ID)
	}

	_, err = m.GetDocument("doc1", "carol")
	if err == nil {
		t.Fatalf("expected an error reading a document carol has no access to")
	}
	if code := appErrorCode(t, err); code != 403 {
		t.Fatalf("error code = %d, want 403", code)
	}
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected an *apperrors.AppError, got %T", err)
	}
	if appErr.Message != "User does not have access to this document." {
		t.Fatalf("message = %q, want the literal access-denied text", appErr.Message)
	}
}

func TestRegisterAndAuthenticateCarryLiteralConfirmationText(t *testing.T) {
	m := newStateMachine(t)

	registered := mustApply(t, m, wire.Command{Op: wire.OpRegisterUser, Username: "ada", Password: "secret"})
	if registered.Message != "User registered successfully." {
		t.Fatalf("register_user message = %q, want the literal confirmation text", registered.Message)
	}

	authenticated := mustApply(t, m, wire.Command{Op: wire.OpAuthenticateUser, Username: "ada", Password: "secret"})
	if authenticated.Message != "Authentication successful." {
		t.Fatalf("authenticate_user message = %q, want the literal confirmation text", authenticated.Message)
	}

	_, err := m.Apply(wire.Command{Op: wire.OpAuthenticateUser, Username: "ada", Password: "wrong"})
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected an *apperrors.AppError, got %T", err)
	}
	if appErr.Message != "Invalid password." {
		t.Fatalf("wrong-password message = %q, want %q", appErr.Message, "Invalid password.")
	}
}

func TestApplyRejectsUnknownOperation(t *testing.T) {
	m := newStateMachine(t)
	_, err := m.Apply(wire.Command{Op: wire.Operation("not_a_real_op")})
	if err == nil {
		t.Fatalf("expected an error for an unknown operation")
	}
	if code := appErrorCode(t, err); code != 400 {
		t.Fatalf("error code = %d, want 400", code)
	}
}

func mustApply(t *testing.T, m *StateMachine, cmd wire.Command) Result {
	t.Helper()
	result, err := m.Apply(cmd)
	if err != nil {
		t.Fatalf("Apply(%s): %v", cmd.Op, err)
	}
	return result
}
