package transport

import "fmt"

// NetworkError wraps a transport-level failure. Recoverable by retry, but
// never retried here; the caller owns the retry policy.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("transport: %s: network failure: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// AuthError reports a rejected session (401/403). The caller must trigger
// re-authentication; retrying with the same token is pointless.
type AuthError struct {
	Status int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("transport: authentication rejected (status %d)", e.Status)
}

// ValidationError rejects bad local input before any network call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("transport: invalid %s: %s", e.Field, e.Reason)
}

// SendError reports a send the server rejected or that failed in flight. The
// caller rolls back the provisional message; no automatic retry.
type SendError struct {
	Status int
	Err    error
}

func (e *SendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport: send failed: %v", e.Err)
	}
	return fmt.Sprintf("transport: send rejected (status %d)", e.Status)
}

func (e *SendError) Unwrap() error { return e.Err }

// DeleteError reports a rejected delete. Local state keeps the message.
type DeleteError struct {
	Status int
	Err    error
}

func (e *DeleteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport: delete failed: %v", e.Err)
	}
	return fmt.Sprintf("transport: delete rejected (status %d)", e.Status)
}

func (e *DeleteError) Unwrap() error { return e.Err }
