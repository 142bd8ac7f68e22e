package platform

import (
	"errors"
	"fmt"
)

// ErrPollTimeout is returned when a polling operation exhausts its attempt
// ceiling without observing every awaited document. It signals a
// processing stall upstream and is fatal to the operation.
var ErrPollTimeout = errors.New("poll timed out")

// APIError wraps a non-success transport response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d: %s", e.StatusCode, e.Body)
}

// QueryError is a semantic error the platform reports for an otherwise
// successful transport response. Always fatal to the operation.
type QueryError struct {
	Message string
}

func (e *QueryError) Error() string {
	return "query error: " + e.Message
}
