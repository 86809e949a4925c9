// Package validate checks state-machine command argument payloads against a
// JSON Schema before they are submitted to the consensus log, giving
// "missing/blank argument" validation (spec §7) a declarative home instead of
// a hand-rolled `if args.X == ""` chain per command constructor. Uses
// xeipuuv/gojsonschema, the same validation library the reference stack
// already depends on for its own document schemas.
package validate

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/kartikbazzad/docraft/internal/apperrors"
	"github.com/kartikbazzad/docraft/wire"
)

// schemas maps each operation to the JSON Schema its args must satisfy.
// Schemas are expressed against the same field names wire.Command serializes.
var schemas = map[wire.Operation]string{
	wire.OpRegisterUser: `{
		"type": "object",
		"required": ["username", "password"],
		"properties": {
			"username": {"type": "string", "minLength": 1},
			"password": {"type": "string", "minLength": 1}
		}
	}`,
	wire.OpAuthenticateUser: `{
		"type": "object",
		"required": ["username", "password"],
		"properties": {
			"username": {"type": "string", "minLength": 1},
			"password": {"type": "string", "minLength": 1}
		}
	}`,
	wire.OpCreateDocument: `{
		"type": "object",
		"required": ["username"],
		"properties": {
			"username": {"type": "string", "minLength": 1},
			"title": {"type": "string"}
		}
	}`,
	wire.OpUpdateDocumentTitle: `{
		"type": "object",
		"required": ["document_id", "title", "username"],
		"properties": {
			"document_id": {"type": "string", "minLength": 1},
			"title": {"type": "string"},
			"username": {"type": "string", "minLength": 1}
		}
	}`,
	wire.OpUpdateDocumentContent: `{
		"type": "object",
		"required": ["document_id", "content", "username"],
		"properties": {
			"document_id": {"type": "string", "minLength": 1},
			"content": {"type": "string"},
			"username": {"type": "string", "minLength": 1}
		}
	}`,
	wire.OpUpdateDocumentContentWithMerge: `{
		"type": "object",
		"required": ["document_id", "content", "base_content", "username"],
		"properties": {
			"document_id": {"type": "string", "minLength": 1},
			"content": {"type": "string"},
			"base_content": {"type": "string"},
			"username": {"type": "string", "minLength": 1}
		}
	}`,
	wire.OpDeleteDocument: `{
		"type": "object",
		"required": ["document_id", "username"],
		"properties": {
			"document_id": {"type": "string", "minLength": 1},
			"username": {"type": "string", "minLength": 1}
		}
	}`,
	wire.OpAddUserToDocument: `{
		"type": "object",
		"required": ["document_id", "username", "added_by"],
		"properties": {
			"document_id": {"type": "string", "minLength": 1},
			"username": {"type": "string", "minLength": 1},
			"added_by": {"type": "string", "minLength": 1}
		}
	}`,
	wire.OpRemoveUserFromDocument: `{
		"type": "object",
		"required": ["document_id", "username", "removed_by"],
		"properties": {
			"document_id": {"type": "string", "minLength": 1},
			"username": {"type": "string", "minLength": 1},
			"removed_by": {"type": "string", "minLength": 1}
		}
	}`,
}

var (
	compileOnce sync.Once
	compiled    map[wire.Operation]*gojsonschema.Schema
	compileErr  error
)

func compileAll() {
	compiled = make(map[wire.Operation]*gojsonschema.Schema, len(schemas))
	for op, raw := range schemas {
		loader := gojsonschema.NewStringLoader(raw)
		schema, err := gojsonschema.NewSchema(loader)
		if err != nil {
			compileErr = fmt.Errorf("validate: compile schema for %s: %w", op, err)
			return
		}
		compiled[op] = schema
	}
}

// Command validates cmd's arguments against its operation's JSON Schema.
// Returns an *apperrors.AppError (BadRequest) describing the first violation.
func Command(cmd wire.Command) error {
	compileOnce.Do(compileAll)
	if compileErr != nil {
		return apperrors.Internal(compileErr)
	}

	schema, ok := compiled[cmd.Op]
	if !ok {
		return apperrors.BadRequest(fmt.Sprintf("unknown operation %q", cmd.Op))
	}

	raw, err := json.Marshal(cmd)
	if err != nil {
		return apperrors.Internal(fmt.Errorf("validate: marshal command: %w", err))
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return apperrors.Internal(fmt.Errorf("validate: evaluate schema: %w", err))
	}
	if !result.Valid() {
		return apperrors.BadRequest(fmt.Sprintf("invalid %s arguments: %s", cmd.Op, result.Errors()[0]))
	}
	return nil
}
