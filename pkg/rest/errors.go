package rest

import (
	"errors"
	"fmt"
)

// ErrDuplicate signals the server already processed a send with the same
// idempotency key (HTTP 409). Callers treat it as a soft success.
var ErrDuplicate = errors.New("message already processed")

// ForbiddenError carries the server-supplied reason for a policy rejection
// (HTTP 403). The reason is surfaced to the user verbatim.
type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string {
	if e.Reason == "" {
		return "message not allowed"
	}
	return e.Reason
}

// APIError is any other non-2xx response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status %d: %s", e.Status, e.Body)
}
