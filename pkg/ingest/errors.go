package ingest

import (
	"errors"
	"fmt"
)

// ErrBackpressure signals that the bounded inbound queue is full and the
// update was dropped. Freshness over completeness: a later reading will
// supersede the dropped one anyway.
var ErrBackpressure = errors.New("telemetry queue full, update dropped")

// RejectedSourceError reports an unauthenticated or untrusted sender.
// Rejections never touch registry state and are never fatal.
type RejectedSourceError struct {
	Source string
}

func (e *RejectedSourceError) Error() string {
	return fmt.Sprintf("telemetry source %q rejected: invalid credentials", e.Source)
}
