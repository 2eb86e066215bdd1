package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// Error taxonomy for remote failures. Callers branch with errors.Is:
//
//	Unauthorized - credential invalid or expired; surfaced, never retried
//	NotFound     - rule deleted remotely; mark stale, stop managing
//	BadRequest   - payload rejected; an invariant bug, surfaced with context
//	Unreachable  - transient transport failure; retried on the next sweep
//
// Malformed responses (decode errors) are classified as Unreachable so they
// share its retry behavior.
var (
	ErrUnauthorized = errors.New("remote: unauthorized")
	ErrNotFound     = errors.New("remote: rule not found")
	ErrBadRequest   = errors.New("remote: bad request")
	ErrUnreachable  = errors.New("remote: unreachable")
)

// APIError carries the full request context for a rejected call.
type APIError struct {
	Op     string
	RuleID string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	if e.RuleID != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Op, e.RuleID, e.Status, e.Body)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Body)
}

// Unwrap maps the HTTP status onto the taxonomy sentinel.
func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden:
		return ErrUnauthorized
	case e.Status == http.StatusNotFound:
		return ErrNotFound
	case e.Status >= 400 && e.Status < 500:
		return ErrBadRequest
	default:
		return ErrUnreachable
	}
}

// decodeError wraps a malformed-response failure as Unreachable.
func decodeError(op string, err error) error {
	return fmt.Errorf("%w: %s: decoding response: %v", ErrUnreachable, op, err)
}

// transportError wraps a transport-level failure as Unreachable.
func transportError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnreachable, op, err)
}
