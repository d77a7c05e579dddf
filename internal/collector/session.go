package collector

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
)

// Session carries the state shared by every task of one collection run:
// the credential rotator, request pacing and the cooperative stop flag.
// Sessions are independent, so several collections may run side by side.
type Session struct {
	ID      string
	rotator *Rotator
	pacer   *pacer
	stopped atomic.Bool
}

// SessionOption configures a Session
type SessionOption func(*Session)

// WithRequestsPerSecond paces requests of the session; 0 disables pacing
func WithRequestsPerSecond(rps float64) SessionOption {
	return func(s *Session) {
		s.pacer = newPacer(rps)
	}
}

// WithSessionID overrides the generated session ID
func WithSessionID(id string) SessionOption {
	return func(s *Session) {
		s.ID = id
	}
}

// NewSession creates a session around a rotator
func NewSession(rotator *Rotator, opts ...SessionOption) *Session {
	s := &Session{
		ID:      uuid.New().String(),
		rotator: rotator,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Rotator returns the session's credential rotator
func (s *Session) Rotator() *Rotator {
	return s.rotator
}

// Stop asks the session to start no new work. Work already running finishes.
func (s *Session) Stop() {
	s.stopped.Store(true)
}

// Stopped reports whether Stop has been called
func (s *Session) Stopped() bool {
	return s.stopped.Load()
}

// halted reports whether new work must not be started
func (s *Session) halted(ctx context.Context) bool {
	return s.Stopped() || ctx.Err() != nil
}
