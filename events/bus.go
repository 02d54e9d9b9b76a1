package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tweenson/artificer/observability"
)

const defaultBufferSize = 128

// Bus fans events out to at most one subscriber per session, preserving
// publish order and assigning strictly increasing sequence numbers.
//
// A subscriber that (re)connects mid-run receives only events from that
// point forward; there is no backlog replay. Sequence numbers survive
// resubscription, so a reconnecting client can detect the gap.
type Bus struct {
	mu         sync.Mutex
	sessions   map[string]*stream
	bufferSize int
	observer   observability.Observer
}

type stream struct {
	seq      uint64
	terminal bool

	// sub is the active subscriber's channel, nil when nobody listens.
	// done is closed when the subscriber is detached so in-flight sends
	// don't block forever.
	sub  chan Event
	done chan struct{}
}

// Option configures a Bus.
type Option func(*Bus)

// WithBufferSize sets the per-subscriber channel buffer.
func WithBufferSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// WithObserver sets the observer for defensive-fault logging.
func WithObserver(o observability.Observer) Option {
	return func(b *Bus) {
		if o != nil {
			b.observer = o
		}
	}
}

// NewBus creates an empty Bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		sessions:   make(map[string]*stream),
		bufferSize: defaultBufferSize,
		observer:   observability.NoOpObserver{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Begin opens a new pipeline run for the session, clearing the terminal
// latch left by the previous run. Sequence numbering continues from where
// the last run stopped.
func (b *Bus) Begin(session string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ensure(session).terminal = false
}

// Publish appends an event to the session's stream. The payload is JSON
// encoded into the frame. Publishing after a terminal event (and before the
// next Begin) is an invariant violation: the event is logged and dropped and
// ErrTerminated is returned.
func (b *Bus) Publish(session string, kind Kind, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", kind, err)
	}

	b.mu.Lock()
	st := b.ensure(session)

	if st.terminal {
		b.mu.Unlock()
		b.observer.OnEvent(context.Background(), observability.Event{
			Type:      EventDroppedAfterTerminal,
			Level:     observability.LevelWarning,
			Timestamp: time.Now(),
			Source:    "events.Bus",
			Data:      map[string]any{"session": session, "kind": string(kind)},
		})
		return fmt.Errorf("%w: %s on session %s", ErrTerminated, kind, session)
	}

	st.seq++
	ev := Event{Session: session, Seq: st.seq, Kind: kind, Payload: data}

	var p ErrorPayload
	if kind.Terminal() || (kind == KindError && json.Unmarshal(data, &p) == nil && p.Terminal) {
		st.terminal = true
	}

	sub, done := st.sub, st.done
	b.mu.Unlock()

	if sub == nil {
		return nil
	}

	// Publishers for one session are sequential, so blocking here preserves
	// strict ordering; a detached subscriber unblocks via done.
	select {
	case sub <- ev:
	case <-done:
	}
	return nil
}

// Subscribe attaches the single subscriber for the session, detaching any
// previous subscriber. Only events published after the call are delivered.
func (b *Bus) Subscribe(session string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.ensure(session)
	st.detach()

	st.sub = make(chan Event, b.bufferSize)
	st.done = make(chan struct{})
	return st.sub
}

// Unsubscribe detaches the session's subscriber, if any. In-flight
// publishes stop blocking; subsequent events are discarded until the next
// Subscribe.
func (b *Bus) Unsubscribe(session string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if st, ok := b.sessions[session]; ok {
		st.detach()
	}
}

// LastSeq returns the session's last assigned sequence number.
func (b *Bus) LastSeq(session string) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if st, ok := b.sessions[session]; ok {
		return st.seq
	}
	return 0
}

// Close tears down the session's stream entirely. A later Begin starts
// sequence numbering from zero again.
func (b *Bus) Close(session string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if st, ok := b.sessions[session]; ok {
		st.detach()
		delete(b.sessions, session)
	}
}

func (b *Bus) ensure(session string) *stream {
	st, ok := b.sessions[session]
	if !ok {
		st = &stream{}
		b.sessions[session] = st
	}
	return st
}

// detach signals the current subscriber away via done and drops the
// references. The subscriber channel is never closed: a publisher may hold
// a copy of it outside the lock, so the channel is left for the collector
// once both sides let go.
func (st *stream) detach() {
	if st.sub != nil {
		close(st.done)
		st.sub = nil
		st.done = nil
	}
}
