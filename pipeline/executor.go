package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tweenson/artificer/core/protocol"
	"github.com/tweenson/artificer/dispatch"
	"github.com/tweenson/artificer/events"
	"github.com/tweenson/artificer/observability"
	"github.com/tweenson/artificer/session"
	"github.com/tweenson/artificer/specialist"
	"github.com/tweenson/artificer/tools"
)

const (
	defaultMaxToolRounds   = 8
	defaultOverloadRetries = 3

	overloadBackoffBase = 200 * time.Millisecond
	overloadBackoffCap  = 2 * time.Second
)

// Run carries everything a pipeline execution needs beyond the plan
// itself: the session it runs in, the conversation being served, the
// stored history, and any rendered memory facts for system prompts.
//
// Background marks a run driven by the job worker rather than a waiting
// client. Background runs never queue for a specialist slot: they fail
// fast on overload so interactive runs keep priority, and the worker's
// retry ledger absorbs the failure.
type Run struct {
	Session      *session.Session
	Conversation int64
	History      []protocol.Message
	Facts        string
	Background   bool
}

// Executor drives pipelines step by step: per step it announces the task
// switch, leases a specialist, streams generation, runs the agentic tool
// loop, and threads the output into the next step's context. Every run
// ends with exactly one terminal event.
type Executor struct {
	bus        *events.Bus
	registry   *specialist.Registry
	generator  specialist.Generator
	dispatcher *dispatch.Dispatcher
	toolset    *tools.Registry
	observer   observability.Observer

	maxToolRounds   int
	overloadRetries int
}

// Option configures an Executor.
type Option func(*Executor)

// WithMaxToolRounds caps agentic tool-loop iterations per step.
func WithMaxToolRounds(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxToolRounds = n
		}
	}
}

// WithOverloadRetries sets how many times a best-effort step retries an
// overloaded specialist before giving up.
func WithOverloadRetries(n int) Option {
	return func(e *Executor) {
		if n >= 0 {
			e.overloadRetries = n
		}
	}
}

// WithObserver sets the executor's observer.
func WithObserver(o observability.Observer) Option {
	return func(e *Executor) {
		if o != nil {
			e.observer = o
		}
	}
}

// NewExecutor creates an Executor over the given collaborators.
func NewExecutor(bus *events.Bus, registry *specialist.Registry, generator specialist.Generator, dispatcher *dispatch.Dispatcher, toolset *tools.Registry, opts ...Option) *Executor {
	e := &Executor{
		bus:             bus,
		registry:        registry,
		generator:       generator,
		dispatcher:      dispatcher,
		toolset:         toolset,
		observer:        observability.NoOpObserver{},
		maxToolRounds:   defaultMaxToolRounds,
		overloadRetries: defaultOverloadRetries,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs a pipeline in the session's single slot and returns the
// final step's output. A second pipeline for a busy session is rejected
// with session.ErrPipelineActive before any event is published.
func (e *Executor) Execute(ctx context.Context, p Pipeline, run Run) (string, error) {
	if len(p) == 0 {
		return "", ErrEmptyPipeline
	}
	sess := run.Session
	runCtx, err := sess.BeginPipeline(ctx)
	if err != nil {
		return "", err
	}
	defer sess.EndPipeline()

	id := sess.ID()
	e.bus.Begin(id)

	e.observer.OnEvent(runCtx, observability.Event{
		Type:      EventPipelineStart,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "pipeline.Executor",
		Data:      map[string]any{"session": id, "steps": len(p)},
	})

	var carry string
	previous := ""
	for _, step := range p {
		if cancelled(runCtx, sess) {
			e.publishCancelled(id, step.Type)
			return "", context.Canceled
		}

		_ = e.bus.Publish(id, events.KindTaskSwitch, events.TaskSwitchPayload{
			From: previous,
			To:   string(step.Type),
		})
		previous = string(step.Type)

		output, err := e.runStep(runCtx, id, step, run, carry)
		if err != nil {
			if cancelled(runCtx, sess) || errors.Is(err, context.Canceled) {
				e.publishCancelled(id, step.Type)
				return "", context.Canceled
			}
			if step.Criticality == Blocking {
				_ = e.bus.Publish(id, events.KindError, events.ErrorPayload{
					Task:     string(step.Type),
					Message:  err.Error(),
					Terminal: true,
				})
				e.observer.OnEvent(runCtx, observability.Event{
					Type:      EventPipelineFailed,
					Level:     observability.LevelError,
					Timestamp: time.Now(),
					Source:    "pipeline.Executor",
					Data:      map[string]any{"session": id, "task": string(step.Type), "error": err.Error()},
				})
				return "", err
			}
			_ = e.bus.Publish(id, events.KindError, events.ErrorPayload{
				Task:    string(step.Type),
				Message: err.Error(),
			})
			continue
		}
		carry = output
	}

	_ = e.bus.Publish(id, events.KindDone, events.DonePayload{
		ConversationID: run.Conversation,
		Content:        carry,
	})
	e.observer.OnEvent(runCtx, observability.Event{
		Type:      EventPipelineDone,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "pipeline.Executor",
		Data:      map[string]any{"session": id},
	})
	return carry, nil
}

// runStep leases a specialist for the step's tier and runs the agentic
// loop until the model answers without tool calls or the round cap hits.
func (e *Executor) runStep(ctx context.Context, sessionID string, step TaskSpec, run Run, carry string) (string, error) {
	def, ok := Lookup(step.Type)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTask, step.Type)
	}

	lease, err := e.acquire(ctx, def.Tier, step.Criticality, run.Background)
	if err != nil {
		return "", err
	}
	defer lease.Release()

	messages := e.buildMessages(def, run, step.Input, carry)
	toolset := e.toolsFor(def)

	onChunk := func(content string) {
		_ = e.bus.Publish(sessionID, events.KindContentChunk, events.ContentChunkPayload{Content: content})
	}

	for round := 0; round < e.maxToolRounds; round++ {
		resp, err := e.generator.ChatStream(ctx, lease.Specialist, messages, toolset, onChunk)
		if err != nil {
			return "", err
		}
		if len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}

		messages = append(messages, resp.Message())
		for _, tc := range resp.ToolCalls {
			messages = append(messages, e.invokeTool(ctx, sessionID, step.Type, tc))
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
		}
	}
	return "", fmt.Errorf("%w: %s after %d rounds", ErrToolLoop, step.Type, e.maxToolRounds)
}

// invokeTool dispatches one model-issued tool call and renders its
// outcome as the tool message the next round will see. Dispatch failures
// are surfaced to the model rather than aborting the step; cancellation
// is caught by the caller.
func (e *Executor) invokeTool(ctx context.Context, sessionID string, task TaskType, tc protocol.ToolCall) protocol.Message {
	content := ""
	desc, ok := e.toolset.Find(tc.Name)
	if !ok {
		content = fmt.Sprintf("error: unknown tool %q", tc.Name)
	} else {
		inv := dispatch.NewInvocation(desc.Toolbelt, desc.Name, tc.Arguments)
		res, err := e.dispatcher.Invoke(ctx, sessionID, string(task), inv)
		if err != nil {
			content = "error: " + err.Error()
		} else {
			content = res.Value
		}
	}
	return protocol.Message{
		Role:       protocol.RoleTool,
		Content:    content,
		ToolCallID: tc.ID,
	}
}

// acquire leases a specialist. Interactive blocking steps wait for a
// slot; best-effort and background steps fail fast and retry with capped
// backoff before giving up. Admission is decided here; whether the step's
// failure is terminal stays with its criticality.
func (e *Executor) acquire(ctx context.Context, tier specialist.Tier, crit Criticality, background bool) (*specialist.Lease, error) {
	if crit == Blocking && !background {
		return e.registry.Acquire(ctx, tier)
	}

	backoff := overloadBackoffBase
	for attempt := 0; ; attempt++ {
		lease, err := e.registry.AcquireNoWait(tier)
		if err == nil {
			return lease, nil
		}
		if !errors.Is(err, specialist.ErrOverloaded) || attempt >= e.overloadRetries {
			return nil, err
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if backoff *= 2; backoff > overloadBackoffCap {
			backoff = overloadBackoffCap
		}
	}
}

// buildMessages assembles the step's prompt: task instructions plus
// rendered memory facts as the system message, stored history, then the
// step input with any carried output from earlier steps.
func (e *Executor) buildMessages(def Definition, run Run, input, carry string) []protocol.Message {
	system := def.Instructions
	if run.Facts != "" {
		system += "\n\n" + run.Facts
	}

	messages := make([]protocol.Message, 0, len(run.History)+2)
	messages = append(messages, protocol.NewMessage(protocol.RoleSystem, system))
	messages = append(messages, run.History...)

	var user strings.Builder
	if carry != "" {
		user.WriteString("Context from the previous step:\n")
		user.WriteString(carry)
		user.WriteString("\n\n")
	}
	user.WriteString(input)
	return append(messages, protocol.NewMessage(protocol.RoleUser, user.String()))
}

// toolsFor flattens the step's toolbelts into the wire tool list.
func (e *Executor) toolsFor(def Definition) []protocol.Tool {
	var out []protocol.Tool
	for _, belt := range def.Toolbelts {
		for _, desc := range e.toolset.Toolbelt(belt) {
			out = append(out, desc.Tool())
		}
	}
	return out
}

func (e *Executor) publishCancelled(sessionID string, task TaskType) {
	_ = e.bus.Publish(sessionID, events.KindCancelled, events.CancelledPayload{Task: string(task)})
}

func cancelled(ctx context.Context, sess *session.Session) bool {
	return ctx.Err() != nil || sess.Cancelled()
}
