// Package session tracks per-conversation runtime state: the working
// message window, pipeline occupancy, cancellation, and client
// connectivity.
package session

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/tweenson/artificer/core/protocol"
)

// Session is the runtime state of one conversation. A session admits at
// most one pipeline at a time; concurrent requests for the same session
// are rejected rather than queued.
type Session struct {
	id string

	mu        sync.Mutex
	messages  []protocol.Message
	connected bool
	cancelled bool

	active bool
	cancel context.CancelFunc
}

// New creates a session with a fresh identifier.
func New() *Session {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the entropy source does, at which point
		// time-ordering is already lost.
		id = uuid.New()
	}
	return &Session{id: id.String()}
}

// newWithID is used by the manager to key sessions by conversation id.
func newWithID(id string) *Session {
	return &Session{id: id}
}

// ID returns the session's identifier.
func (s *Session) ID() string {
	return s.id
}

// Messages returns a copy of the session's working message window.
func (s *Session) Messages() []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// SetMessages replaces the working message window.
func (s *Session) SetMessages(msgs []protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = make([]protocol.Message, len(msgs))
	copy(s.messages, msgs)
}

// Append adds messages to the working window.
func (s *Session) Append(msgs ...protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msgs...)
}

// BeginPipeline claims the session's single pipeline slot and returns a
// context cancelled either by the parent or by Cancel. Returns
// ErrPipelineActive when a pipeline already holds the slot.
func (s *Session) BeginPipeline(ctx context.Context) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return nil, ErrPipelineActive
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.active = true
	s.cancelled = false
	s.cancel = cancel
	return runCtx, nil
}

// EndPipeline releases the pipeline slot. Safe to call when no pipeline
// is active.
func (s *Session) EndPipeline() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.active = false
}

// Active reports whether a pipeline currently holds the session's slot.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Cancel aborts the running pipeline, if any. The slot stays claimed
// until the pipeline observes the cancellation and calls EndPipeline.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancelled = true
}

// Cancelled reports whether Cancel has been called since the last
// BeginPipeline.
func (s *Session) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// SetConnected records whether a client is attached to the session's
// event stream.
func (s *Session) SetConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = connected
}

// Connected reports whether a client is attached to the session's event
// stream.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}
