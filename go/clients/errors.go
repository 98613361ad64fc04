package clients

import (
	"errors"
	"fmt"
)

// ErrAuthenticationLost is returned when the session could not be refreshed.
// Credentials have been cleared and the user must sign in again.
var ErrAuthenticationLost = errors.New("authentication lost")

// ErrTransientNetwork marks failures worth an explicit user retry.
var ErrTransientNetwork = errors.New("transient network error")

// NetworkError wraps a transport failure or a 5xx response.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool { return target == ErrTransientNetwork }

// StatusError is a non-2xx response that is neither retryable nor an auth failure.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API returned status code: %d, response: %s", e.StatusCode, e.Body)
}

// TokenRefreshError is returned to every caller waiting on a failed refresh.
type TokenRefreshError struct {
	Err error
}

func (e *TokenRefreshError) Error() string {
	return fmt.Sprintf("token refresh failed: %v", e.Err)
}

func (e *TokenRefreshError) Unwrap() error { return e.Err }

func (e *TokenRefreshError) Is(target error) bool { return target == ErrAuthenticationLost }

// IsRetryable reports whether err should be surfaced with a retry affordance.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientNetwork)
}
