package client

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned by Send when the transport has not reached the
// connected state. Callers decide whether to retry after reconnect or drop;
// nothing is queued silently.
var ErrNotConnected = errors.New("transport not connected")

// AuthError is returned when a connection is attempted without a credential.
// It is fatal to the session; publishing must stop.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth: %s", e.Reason)
}

// InvalidDestinationError reports a malformed destination or missing room id
// on subscribe or publish. This is a programmer error and is never dropped
// silently.
type InvalidDestinationError struct {
	Destination string
	Reason      string
}

func (e *InvalidDestinationError) Error() string {
	return fmt.Sprintf("invalid destination %q: %s", e.Destination, e.Reason)
}

// VoteConflictError is a recoverable server rejection of a vote intent. The
// vote unit reverts to idle and surfaces the message per entity.
type VoteConflictError struct {
	WantId  int64
	Message string
}

func (e *VoteConflictError) Error() string {
	return fmt.Sprintf("vote conflict on want %d: %s", e.WantId, e.Message)
}
