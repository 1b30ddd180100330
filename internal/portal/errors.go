package portal

import (
	"errors"
	"fmt"
)

// Error taxonomy for the authenticated session layer. Transport classifies
// outcomes; the session manager decides recovery, so callers only ever see
// one of these classes.
var (
	// ErrTransient marks network-level failures worth retrying locally.
	ErrTransient = errors.New("transient upstream failure")

	// ErrAuthExpired means the portal answered with its login page instead
	// of the requested resource.
	ErrAuthExpired = errors.New("session expired")

	// ErrAuthenticationFailed means the reconnect budget was exhausted or
	// the identity provider rejected the stored credentials.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrProtocol marks an unexpected upstream response shape. Retrying a
	// parse failure cannot help, so this class is never retried.
	ErrProtocol = errors.New("unexpected upstream response")
)

// RetriesExhaustedError is returned when the transient-retry budget for one
// operation is spent. The session itself may still be valid.
type RetriesExhaustedError struct {
	Op       string
	Attempts int
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("%s: %d attempts exhausted: %v", e.Op, e.Attempts, e.Last)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Last }
