package agentapi

import (
	"errors"
	"fmt"
)

// AuthError is returned for 401/403 responses.
type AuthError struct {
	Msg string
}

func (e *AuthError) Error() string {
	return e.Msg
}

// StatusError is any other non-2xx response. Body is scrubbed and capped.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("agent server returned HTTP %d", e.Code)
	}
	return fmt.Sprintf("agent server returned HTTP %d: %s", e.Code, e.Body)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == 404
}

func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
