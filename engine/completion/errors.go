package completion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAuth marks a failure to obtain or use an access token.
	ErrAuth = errors.New("completion: authentication failed")
	// ErrBadToolArguments marks tool arguments that do not decode strictly.
	ErrBadToolArguments = errors.New("completion: malformed tool arguments")
	// ErrNoChoices is returned when the API answers without a message.
	ErrNoChoices = errors.New("completion: response has no choices")
)

// UpstreamError is a non-2xx answer from the token or chat endpoint.
type UpstreamError struct {
	Op     string
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("completion: %s: status %d: %s", e.Op, e.Status, e.Body)
}

// Unwrap reports 401 and 403 answers as ErrAuth.
func (e *UpstreamError) Unwrap() error {
	if e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden {
		return ErrAuth
	}
	return nil
}

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool { return errors.Is(err, ErrAuth) }

// tripsBreaker reports whether err says the upstream itself is unhealthy.
func tripsBreaker(err error) bool {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Status >= 500 || ue.Status == http.StatusTooManyRequests
	}
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, ErrAuth),
		errors.Is(err, ErrBadToolArguments):
		return false
	}
	return true
}
