package activityapi

import (
	"errors"
	"fmt"
)

// ErrMalformedListing is returned when the activities listing is not a JSON object.
var ErrMalformedListing = errors.New("activities listing is not a JSON object")

// TransportError wraps a request that never produced a response.
type TransportError struct {
	Op  string // "GET /activities", "POST /activities/{name}/signup", ...
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// APIError is a non-2xx response from the activities service.
// Detail and Message are taken from the JSON body when present as strings.
type APIError struct {
	Op      string
	Status  int
	Detail  string
	Message string
}

func (e *APIError) Error() string {
	if text := e.Text(""); text != "" {
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, text)
	}
	return fmt.Sprintf("%s: status %d", e.Op, e.Status)
}

// Text returns the server-provided explanation, preferring detail over message,
// or fallback when the server gave neither.
// PRE: none
// POST: Returns a non-empty string when fallback is non-empty
func (e *APIError) Text(fallback string) string {
	if e.Detail != "" {
		return e.Detail
	}
	if e.Message != "" {
		return e.Message
	}
	return fallback
}

// AsAPIError extracts an APIError from err.
func AsAPIError(err error) (*APIError, bool) {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
