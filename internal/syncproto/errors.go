package syncproto

import (
	"errors"
	"fmt"
)

// Sentinel errors for session failure classification (distilled spec §7).
// Use errors.Is(err, syncproto.ErrSanityMismatch) etc. to check.
var (
	ErrTransport      = errors.New("syncproto: connection error")
	ErrAuth           = errors.New("syncproto: auth failed")
	ErrSanityMismatch = errors.New("syncproto: sanity check mismatch")
	ErrIntegrity      = errors.New("syncproto: integrity violation")
)

// SyncError wraps a sentinel with session id, step, and role for logging
// and forensic recovery, mirroring graph.GraphError's status/request-id/
// sentinel shape from the teacher's HTTP client.
type SyncError struct {
	SessionID string
	Step      string
	Role      Role
	Err       error // sentinel, for errors.Is()
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("syncproto: session %s step %s (%s): %s", e.SessionID, e.Step, e.Role, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// NewSyncError wraps sentinel in a SyncError carrying session context.
func NewSyncError(sessionID, step string, role Role, sentinel error) *SyncError {
	return &SyncError{SessionID: sessionID, Step: step, Role: role, Err: sentinel}
}

// IntegrityViolation names which of the four §4.6 invariants failed.
type IntegrityViolation struct {
	Rule   string
	Detail string
}

func (v IntegrityViolation) Error() string {
	return fmt.Sprintf("%s: %s", v.Rule, v.Detail)
}
