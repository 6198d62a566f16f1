package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"arrowhead/api/internal/auth"
)

// DomainError is rendered as {"message": Message, "error": Detail} plus any
// Extra fields. Err holds the underlying cause for logs only.
type DomainError struct {
	Status  int
	Message string
	Detail  string
	Extra   map[string]any
	Err     error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Message, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Message, e.Detail)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

func (e *DomainError) body() map[string]any {
	response := map[string]any{
		"message": e.Message,
		"error":   e.Detail,
	}
	for key, value := range e.Extra {
		response[key] = value
	}
	return response
}

func badRequestError(detail string) *DomainError {
	return &DomainError{Status: http.StatusBadRequest, Message: "Bad Request", Detail: detail}
}

func authenticationError(detail string) *DomainError {
	return &DomainError{Status: http.StatusUnauthorized, Message: "Unauthorized", Detail: detail}
}

func authorizationError(detail string) *DomainError {
	return &DomainError{Status: http.StatusForbidden, Message: "Forbidden", Detail: detail}
}

func notFoundError(detail string) *DomainError {
	return &DomainError{Status: http.StatusNotFound, Message: "Not Found", Detail: detail}
}

func conflictError(lockedUntil time.Time) *DomainError {
	return &DomainError{
		Status:  http.StatusLocked,
		Message: "Locked",
		Detail:  "Objective is currently being edited by another user",
		Extra:   map[string]any{"locked_until": isoTime(lockedUntil)},
	}
}

func configurationError(err error) *DomainError {
	return &DomainError{Status: http.StatusInternalServerError, Message: "Internal Server Error", Detail: "Server misconfiguration", Err: err}
}

func upstreamError(detail string, err error) *DomainError {
	return &DomainError{Status: http.StatusInternalServerError, Message: "Internal Server Error", Detail: detail, Err: err}
}

var errMissingJWTSecret = errors.New("SUPABASE_JWT_SECRET is not configured")

func mapError(err error) *DomainError {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, sql.ErrNoRows) {
		return notFoundError("Not found")
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return authenticationError("Invalid or expired token")
	}
	return upstreamError("Internal server error", err)
}

// isoTime matches JavaScript's Date.toISOString output.
func isoTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
