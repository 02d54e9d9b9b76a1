package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/tweenson/artificer/events"
	"github.com/tweenson/artificer/observability"
	"github.com/tweenson/artificer/tools"
)

const (
	defaultExecTimeout    = 30 * time.Second
	defaultForwardTimeout = 45 * time.Second
)

// ClientDirectory reports whether a session currently has a connected
// client able to receive forwarded invocations. The session manager
// implements it.
type ClientDirectory interface {
	Connected(session string) bool
}

// Dispatcher validates and executes tool invocations for pipeline steps.
//
// It publishes the ToolCall and ToolResult frames for every invocation it
// handles: for client-located tools the ToolCall frame on the session's
// event channel IS the forwarded message, and the result arrives back
// through Resolve. Server-located tools never produce a forwarded message.
type Dispatcher struct {
	registry *tools.Registry
	bus      *events.Bus
	forwards *Table
	clients  ClientDirectory
	observer observability.Observer

	execTimeout    time.Duration
	forwardTimeout time.Duration
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithExecTimeout bounds in-process tool execution.
func WithExecTimeout(d time.Duration) Option {
	return func(dp *Dispatcher) {
		if d > 0 {
			dp.execTimeout = d
		}
	}
}

// WithForwardTimeout bounds the wait for a forwarded invocation's result.
func WithForwardTimeout(d time.Duration) Option {
	return func(dp *Dispatcher) {
		if d > 0 {
			dp.forwardTimeout = d
		}
	}
}

// WithObserver sets the dispatcher's observer.
func WithObserver(o observability.Observer) Option {
	return func(dp *Dispatcher) {
		if o != nil {
			dp.observer = o
		}
	}
}

// New creates a Dispatcher over the given registry, event bus, and client
// directory.
func New(registry *tools.Registry, bus *events.Bus, clients ClientDirectory, opts ...Option) *Dispatcher {
	dp := &Dispatcher{
		registry:       registry,
		bus:            bus,
		clients:        clients,
		observer:       observability.NoOpObserver{},
		execTimeout:    defaultExecTimeout,
		forwardTimeout: defaultForwardTimeout,
	}
	for _, opt := range opts {
		opt(dp)
	}
	dp.forwards = NewTable(dp.observer)
	return dp
}

// Resolve delivers a client-posted result for a forwarded invocation.
// Returns false for a late or duplicate correlation id; the result is
// dropped.
func (dp *Dispatcher) Resolve(res ClientResult) bool {
	return dp.forwards.Resolve(res)
}

// Pending returns the number of outstanding forwarded invocations.
func (dp *Dispatcher) Pending() int {
	return dp.forwards.Pending()
}

// Invoke validates and executes one invocation on behalf of a task running
// in the given session. The returned error wraps one of the package's
// sentinel tool errors; every invocation resolves exactly once, one way or
// the other.
func (dp *Dispatcher) Invoke(ctx context.Context, session, task string, inv Invocation) (Result, error) {
	desc, ok := dp.registry.Lookup(inv.Toolbelt, inv.Tool)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s/%s", ErrToolNotFound, inv.Toolbelt, inv.Tool)
	}

	dp.observer.OnEvent(ctx, observability.Event{
		Type:      EventInvoke,
		Level:     observability.LevelVerbose,
		Timestamp: time.Now(),
		Source:    "dispatch.Dispatcher",
		Data: map[string]any{
			"session":        session,
			"tool":           inv.Tool,
			"location":       string(desc.Location),
			"correlation_id": inv.ID,
		},
	})

	if err := validateParams(desc.Parameters, inv.Params); err != nil {
		dp.publishResult(session, task, desc, inv.ID, err.Error(), true)
		return Result{}, err
	}

	if desc.Location == tools.LocationClient {
		return dp.forward(ctx, session, task, desc, inv)
	}
	return dp.execute(ctx, session, task, desc, inv)
}

// execute runs a server-located tool in-process under the execution timeout.
func (dp *Dispatcher) execute(ctx context.Context, session, task string, desc tools.Descriptor, inv Invocation) (Result, error) {
	handler, ok := dp.registry.Handler(inv.Tool)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s has no handler", ErrToolNotFound, inv.Tool)
	}

	dp.publishCall(session, task, desc, inv)

	execCtx, cancel := context.WithTimeout(ctx, dp.execTimeout)
	defer cancel()

	type outcome struct {
		value string
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		value, err := handler(execCtx, inv.Params)
		done <- outcome{value: value, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			err := fmt.Errorf("%w: %s: %v", ErrExecutionFailed, inv.Tool, o.err)
			dp.publishResult(session, task, desc, inv.ID, err.Error(), true)
			return Result{}, err
		}
		dp.publishResult(session, task, desc, inv.ID, o.value, false)
		return Result{ID: inv.ID, Value: o.value}, nil
	case <-execCtx.Done():
		var err error
		if ctx.Err() != nil {
			err = ctx.Err()
		} else {
			err = fmt.Errorf("%w: %s after %v", ErrTimeout, inv.Tool, dp.execTimeout)
		}
		dp.publishResult(session, task, desc, inv.ID, err.Error(), true)
		return Result{}, err
	}
}

// forward sends a client-located invocation over the session's event
// channel and suspends until the correlated result arrives or the wait
// times out.
func (dp *Dispatcher) forward(ctx context.Context, session, task string, desc tools.Descriptor, inv Invocation) (Result, error) {
	if dp.clients == nil || !dp.clients.Connected(session) {
		err := fmt.Errorf("%w: session %s", ErrClientUnavailable, session)
		dp.publishResult(session, task, desc, inv.ID, err.Error(), true)
		return Result{}, err
	}

	waiter := dp.forwards.register(inv.ID)
	dp.publishCall(session, task, desc, inv)

	dp.observer.OnEvent(ctx, observability.Event{
		Type:      EventForward,
		Level:     observability.LevelVerbose,
		Timestamp: time.Now(),
		Source:    "dispatch.Dispatcher",
		Data:      map[string]any{"session": session, "correlation_id": inv.ID},
	})

	timer := time.NewTimer(dp.forwardTimeout)
	defer timer.Stop()

	select {
	case res := <-waiter:
		dp.observer.OnEvent(ctx, observability.Event{
			Type:      EventResolved,
			Level:     observability.LevelVerbose,
			Timestamp: time.Now(),
			Source:    "dispatch.Dispatcher",
			Data:      map[string]any{"session": session, "correlation_id": inv.ID, "is_error": res.Error != ""},
		})
		if res.Error != "" {
			err := fmt.Errorf("%w: %s: %s", ErrExecutionFailed, inv.Tool, res.Error)
			dp.publishResult(session, task, desc, inv.ID, res.Error, true)
			return Result{}, err
		}
		dp.publishResult(session, task, desc, inv.ID, res.Value, false)
		return Result{ID: inv.ID, Value: res.Value}, nil
	case <-timer.C:
		dp.forwards.cancel(inv.ID)
		err := fmt.Errorf("%w: %s after %v", ErrTimeout, inv.Tool, dp.forwardTimeout)
		dp.publishResult(session, task, desc, inv.ID, err.Error(), true)
		return Result{}, err
	case <-ctx.Done():
		dp.forwards.cancel(inv.ID)
		dp.publishResult(session, task, desc, inv.ID, ctx.Err().Error(), true)
		return Result{}, ctx.Err()
	}
}

func (dp *Dispatcher) publishCall(session, task string, desc tools.Descriptor, inv Invocation) {
	_ = dp.bus.Publish(session, events.KindToolCall, events.ToolCallPayload{
		Task:          task,
		Toolbelt:      desc.Toolbelt,
		Tool:          desc.Name,
		CorrelationID: inv.ID,
		Location:      string(desc.Location),
		Args:          inv.Params,
	})
}

func (dp *Dispatcher) publishResult(session, task string, desc tools.Descriptor, id, result string, isError bool) {
	preview, truncated := events.Preview(result)
	_ = dp.bus.Publish(session, events.KindToolResult, events.ToolResultPayload{
		Task:          task,
		Toolbelt:      desc.Toolbelt,
		Tool:          desc.Name,
		CorrelationID: id,
		Result:        preview,
		Truncated:     truncated,
		IsError:       isError,
	})
}
