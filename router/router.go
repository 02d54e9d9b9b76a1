// Package router turns an inbound message into a pipeline by asking the
// routing-tier specialist to plan, falling back to plain chat whenever
// planning fails.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tweenson/artificer/core/protocol"
	"github.com/tweenson/artificer/observability"
	"github.com/tweenson/artificer/pipeline"
	"github.com/tweenson/artificer/specialist"
)

// ErrEmptyMessage is the router's only error: everything else degrades to
// the chat fallback.
var ErrEmptyMessage = errors.New("router: empty message")

// Observability event types emitted by the router.
const (
	EventPlanned  observability.EventType = "router.planned"
	EventFallback observability.EventType = "router.fallback"
)

// Router plans pipelines. Stateless: the same message and context always
// produce the same plan request.
type Router struct {
	registry  *specialist.Registry
	generator specialist.Generator
	observer  observability.Observer
}

// Option configures a Router.
type Option func(*Router)

// WithObserver sets the router's observer.
func WithObserver(o observability.Observer) Option {
	return func(r *Router) {
		if o != nil {
			r.observer = o
		}
	}
}

// New creates a Router over the specialist registry and generator.
func New(registry *specialist.Registry, generator specialist.Generator, opts ...Option) *Router {
	r := &Router{
		registry:  registry,
		generator: generator,
		observer:  observability.NoOpObserver{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route plans a pipeline for the message. The returned pipeline is never
// empty: any planning failure degrades to a single blocking chat step
// carrying the raw message. Only an empty message is an error.
func (r *Router) Route(ctx context.Context, message string, history []protocol.Message) (pipeline.Pipeline, error) {
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyMessage
	}

	catalog := pipeline.Advertisable()
	p, err := r.plan(ctx, message, history, catalog)
	if err != nil {
		r.observer.OnEvent(ctx, observability.Event{
			Type:      EventFallback,
			Level:     observability.LevelWarning,
			Timestamp: time.Now(),
			Source:    "router.Router",
			Data:      map[string]any{"reason": err.Error()},
		})
		return pipeline.Chat(message), nil
	}

	r.observer.OnEvent(ctx, observability.Event{
		Type:      EventPlanned,
		Level:     observability.LevelVerbose,
		Timestamp: time.Now(),
		Source:    "router.Router",
		Data:      map[string]any{"steps": len(p)},
	})
	return p, nil
}

// plan asks the routing specialist to call plan_tasks and validates the
// result. Any failure is returned for the caller to degrade on.
func (r *Router) plan(ctx context.Context, message string, history []protocol.Message, catalog []pipeline.TaskType) (pipeline.Pipeline, error) {
	lease, err := r.registry.Acquire(ctx, specialist.TierRouting)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	messages := []protocol.Message{
		protocol.NewMessage(protocol.RoleSystem, systemPrompt(catalog)),
	}
	messages = append(messages, history...)
	messages = append(messages, protocol.NewMessage(protocol.RoleUser, message))

	resp, err := r.generator.Chat(ctx, lease.Specialist, messages, []protocol.Tool{planTasksTool(catalog)})
	if err != nil {
		return nil, err
	}

	for _, tc := range resp.ToolCalls {
		if tc.Name != "plan_tasks" {
			continue
		}
		var parsed plan
		if err := json.Unmarshal(tc.Arguments, &parsed); err != nil {
			return nil, fmt.Errorf("unparseable plan: %w", err)
		}
		p, ok := parsed.toPipeline(catalog)
		if !ok {
			return nil, errors.New("plan failed validation")
		}
		return p, nil
	}
	return nil, errors.New("no plan produced")
}

// systemPrompt describes the catalog to the routing model.
func systemPrompt(catalog []pipeline.TaskType) string {
	var b strings.Builder
	b.WriteString("You are a request router. Decompose the user's message into an ordered plan of tasks by calling plan_tasks. Prefer the shortest plan that fully answers the request; a single chat step is the right plan for most messages.\n\nAvailable tasks:\n")
	for _, t := range catalog {
		def, ok := pipeline.Lookup(t)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", t, def.Description)
	}
	return b.String()
}
