// Package apperrors defines the standardized error taxonomy the consensus
// engine and its collaborators use to report failures: validation,
// authorization, conflict, not-leader, and storage errors all carry an HTTP-
// style code so an outer REST surface (out of this repository's scope) can
// translate them mechanically.
package apperrors

import (
	"fmt"
	"net/http"
)

// AppError is a standardized application error.
type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// New creates a new AppError.
func New(code int, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// NotFound creates a 404 error (unknown user / unknown document).
func NotFound(message string) *AppError {
	return New(http.StatusNotFound, message, nil)
}

// BadRequest creates a 400 error (missing/blank argument).
func BadRequest(message string) *AppError {
	return New(http.StatusBadRequest, message, nil)
}

// Unauthorized creates a 401 error (bad credentials).
func Unauthorized(message string) *AppError {
	return New(http.StatusUnauthorized, message, nil)
}

// Forbidden creates a 403 error (caller lacks access to a document).
func Forbidden(message string) *AppError {
	return New(http.StatusForbidden, message, nil)
}

// Conflict creates a 409 error (user/document already exists, duplicate access grant).
func Conflict(message string) *AppError {
	return New(http.StatusConflict, message, nil)
}

// NotLeader creates a 421 error carrying the last known leader, so a client
// (or a future forwarding layer) knows where to retry.
func NotLeader(leaderID string) *AppError {
	msg := "not leader"
	if leaderID != "" {
		msg = fmt.Sprintf("not leader; last known leader is %s", leaderID)
	}
	return New(421, msg, nil)
}

// Internal creates a 500 error wrapping an underlying failure (e.g. Store I/O).
func Internal(err error) *AppError {
	return New(http.StatusInternalServerError, "internal error", err)
}
