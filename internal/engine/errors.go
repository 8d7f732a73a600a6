package engine

import "errors"

// Precondition and integrity failures are expected steady-state conditions
// (peer asleep, not yet paired, replayed garbage); they are reported as
// sentinel errors and absorbed at the scheduler boundary, never panics.
var (
	ErrNoCrypto    = errors.New("no crypto provider configured")
	ErrNoTransport = errors.New("no transport configured")
	ErrNotPaired   = errors.New("no shared secret registered for device")
	ErrUnreachable = errors.New("device not reachable")
	ErrIntegrity   = errors.New("payload integrity check failed")
	ErrEmptyReply  = errors.New("peer returned no payload")
)
