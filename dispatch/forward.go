package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/tweenson/artificer/observability"
)

// Table tracks outstanding forwarded invocations by correlation id. An
// invocation and its eventual result or timeout resolve exactly once; a
// late or duplicate result for an id with no waiter is logged and dropped.
type Table struct {
	mu       sync.Mutex
	waiters  map[string]chan ClientResult
	observer observability.Observer
}

// NewTable creates an empty correlation table.
func NewTable(observer observability.Observer) *Table {
	if observer == nil {
		observer = observability.NoOpObserver{}
	}
	return &Table{
		waiters:  make(map[string]chan ClientResult),
		observer: observer,
	}
}

// register adds a waiter for a correlation id. The returned channel receives
// at most one result.
func (t *Table) register(id string) <-chan ClientResult {
	ch := make(chan ClientResult, 1)
	t.mu.Lock()
	t.waiters[id] = ch
	t.mu.Unlock()
	return ch
}

// cancel removes a waiter that gave up (timeout or cancellation). The
// invocation is considered resolved; a result arriving later is dropped.
func (t *Table) cancel(id string) {
	t.mu.Lock()
	delete(t.waiters, id)
	t.mu.Unlock()
}

// Resolve delivers a client result to its waiter. Returns false when no
// waiter holds the correlation id, in which case the result is dropped.
func (t *Table) Resolve(res ClientResult) bool {
	t.mu.Lock()
	ch, ok := t.waiters[res.CorrelationID]
	if ok {
		delete(t.waiters, res.CorrelationID)
	}
	t.mu.Unlock()

	if !ok {
		t.observer.OnEvent(context.Background(), observability.Event{
			Type:      EventLateResult,
			Level:     observability.LevelWarning,
			Timestamp: time.Now(),
			Source:    "dispatch.Table",
			Data:      map[string]any{"correlation_id": res.CorrelationID},
		})
		return false
	}

	ch <- res
	return true
}

// Pending returns the number of outstanding forwarded invocations.
func (t *Table) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.waiters)
}
