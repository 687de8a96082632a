package broker

import (
	"sync"

	"github.com/iotman/webui/pkg/metrics"
	"github.com/iotman/webui/pkg/models"
)

// Session is one subscribed UI session's delivery endpoint. Events drain
// through a bounded channel; when the consumer falls behind far enough to
// fill it, pending events are discarded and the session is told to take a
// fresh full snapshot instead of being disconnected.
type Session struct {
	ID    string
	scope models.CompiledScope

	events chan models.ChangeEvent
	resync chan struct{}

	mu     sync.Mutex
	closed bool
}

func newSession(id string, scope models.CompiledScope, bufferSize int) *Session {
	return &Session{
		ID:     id,
		scope:  scope,
		events: make(chan models.ChangeEvent, bufferSize),
		resync: make(chan struct{}, 1),
	}
}

// Events is the session's ordered event stream. The channel is closed on
// unsubscribe.
func (s *Session) Events() <-chan models.ChangeEvent {
	return s.events
}

// Resync signals that buffered events were dropped and the consumer must
// re-render a full snapshot before applying further patches.
func (s *Session) Resync() <-chan struct{} {
	return s.resync
}

// Scope returns the session's compiled subscription scope.
func (s *Session) Scope() models.CompiledScope {
	return s.scope
}

// publish enqueues an event without ever blocking the notifier. On
// overflow the queued backlog is collapsed into a forced resnapshot.
func (s *Session) publish(ev models.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	select {
	case s.events <- ev:
		return
	default:
	}

	// Buffer full: everything queued is superseded by a fresh snapshot.
	for {
		select {
		case <-s.events:
		default:
			select {
			case s.resync <- struct{}{}:
				metrics.ResnapshotsForced.Inc()
			default:
			}

			return
		}
	}
}

// close makes the session terminal. Publishing after close is a no-op, so
// a notifier that raced Unsubscribe cannot panic on the closed channel.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.closed = true
	close(s.events)
}
