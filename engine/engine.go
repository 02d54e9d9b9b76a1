// Package engine is the composition root: it wires the store, memory,
// specialists, tools, router, and executor together and exposes the
// operations the transport and job worker run.
package engine

import (
	"context"
	"strconv"
	"time"

	"github.com/tweenson/artificer/auth"
	"github.com/tweenson/artificer/core/protocol"
	"github.com/tweenson/artificer/dispatch"
	"github.com/tweenson/artificer/events"
	"github.com/tweenson/artificer/memory"
	"github.com/tweenson/artificer/observability"
	"github.com/tweenson/artificer/pipeline"
	"github.com/tweenson/artificer/router"
	"github.com/tweenson/artificer/session"
	"github.com/tweenson/artificer/specialist"
	"github.com/tweenson/artificer/store"
	"github.com/tweenson/artificer/tools"
)

// historyWindow caps how many stored messages are replayed into a
// pipeline's context.
const historyWindow = 40

// Engine runs interactive and background pipelines over shared state.
type Engine struct {
	cfg Config

	store       *store.Store
	memory      *memory.Cache
	sessions    *session.Manager
	bus         *events.Bus
	tools       *tools.Registry
	specialists *specialist.Registry
	generator   specialist.Generator
	dispatcher  *dispatch.Dispatcher
	router      *router.Router
	executor    *pipeline.Executor
	observer    observability.Observer
}

// Option configures an Engine before its subsystems are wired.
type Option func(*Engine)

// WithGenerator replaces the default specialist HTTP client.
func WithGenerator(g specialist.Generator) Option {
	return func(e *Engine) {
		if g != nil {
			e.generator = g
		}
	}
}

// WithObserver sets the observer shared by all subsystems.
func WithObserver(o observability.Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithStore hands the engine an already-open store instead of opening
// one from config.
func WithStore(s *store.Store) Option {
	return func(e *Engine) {
		if s != nil {
			e.store = s
		}
	}
}

// WithMemoryStore replaces the file-backed memory store.
func WithMemoryStore(ms memory.Store) Option {
	return func(e *Engine) {
		if ms != nil {
			e.memory = memory.NewCache(ms)
		}
	}
}

// New wires an Engine from config and a frozen tool registry.
func New(cfg Config, toolset *tools.Registry, opts ...Option) (*Engine, error) {
	specialists, err := specialist.NewRegistry(cfg.Specialists)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:         cfg,
		sessions:    session.NewManager(),
		tools:       toolset,
		specialists: specialists,
		observer:    observability.NoOpObserver{},
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.store == nil {
		s, err := store.Open(cfg.DatabasePath)
		if err != nil {
			return nil, err
		}
		e.store = s
	}
	if e.memory == nil {
		e.memory = memory.NewCache(memory.NewFileStore(cfg.MemoryPath))
	}
	if e.generator == nil {
		e.generator = specialist.NewClient(time.Duration(cfg.Timeouts.Generation))
	}

	e.bus = events.NewBus(events.WithObserver(e.observer))
	e.dispatcher = dispatch.New(e.tools, e.bus, e.sessions,
		dispatch.WithExecTimeout(time.Duration(cfg.Timeouts.ToolExecution)),
		dispatch.WithForwardTimeout(time.Duration(cfg.Timeouts.ClientForward)),
		dispatch.WithObserver(e.observer),
	)
	e.executor = pipeline.NewExecutor(e.bus, e.specialists, e.generator, e.dispatcher, e.tools,
		pipeline.WithMaxToolRounds(cfg.Pipeline.MaxToolRounds),
		pipeline.WithOverloadRetries(cfg.Pipeline.OverloadRetries),
		pipeline.WithObserver(e.observer),
	)
	e.router = router.New(e.specialists, e.generator, router.WithObserver(e.observer))
	return e, nil
}

// Close releases the engine's persistent resources.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Store exposes the persistence layer to the transport.
func (e *Engine) Store() *store.Store {
	return e.store
}

// SessionID maps a conversation to its session key.
func SessionID(conversationID int64) string {
	return "conv-" + strconv.FormatInt(conversationID, 10)
}

// EnsureConversation resolves the conversation a message targets. A zero
// id creates a new conversation for the device; a non-zero id must belong
// to the device or the lookup fails with store.ErrNotFound.
func (e *Engine) EnsureConversation(ctx context.Context, deviceID string, conversationID int64) (int64, error) {
	if conversationID == 0 {
		conv, err := e.store.CreateConversation(ctx, deviceID)
		if err != nil {
			return 0, err
		}
		return conv.ID, nil
	}
	conv, err := e.store.ConversationByID(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	if conv.DeviceID != deviceID {
		return 0, store.ErrNotFound
	}
	return conversationID, nil
}

// HandleMessage runs one inbound message end to end: it persists the
// message, plans a pipeline, executes it in the conversation's session,
// and persists the response. A zero conversation id starts a new
// conversation; the first message of a conversation enqueues its title
// job.
func (e *Engine) HandleMessage(ctx context.Context, deviceID string, conversationID int64, message string) (int64, string, error) {
	conversationID, err := e.EnsureConversation(ctx, deviceID, conversationID)
	if err != nil {
		return 0, "", err
	}

	history, err := e.store.MessagesFor(ctx, conversationID)
	if err != nil {
		return 0, "", err
	}
	newConversation := len(history) == 0
	history = trimHistory(history)

	p, err := e.router.Route(ctx, message, history)
	if err != nil {
		return 0, "", err
	}

	if err := e.store.AppendMessage(ctx, conversationID, protocol.NewMessage(protocol.RoleUser, message)); err != nil {
		return 0, "", err
	}

	run := pipeline.Run{
		Session:      e.sessions.GetOrCreate(SessionID(conversationID)),
		Conversation: conversationID,
		History:      history,
		Facts:        e.renderFacts(ctx),
	}

	// Device-scoped tools (the archivist) read the caller's device off
	// the context.
	final, err := e.executor.Execute(auth.WithDevice(ctx, deviceID), p, run)
	if err != nil {
		return conversationID, "", err
	}

	if err := e.store.AppendMessage(ctx, conversationID, protocol.NewMessage(protocol.RoleAssistant, final)); err != nil {
		return conversationID, "", err
	}

	if newConversation {
		if _, err := e.store.EnqueueJob(ctx, string(pipeline.TaskTitleGeneration), conversationID, message, 0); err != nil {
			e.observer.OnEvent(ctx, observability.Event{
				Type:      EventJobEnqueueFailed,
				Level:     observability.LevelWarning,
				Timestamp: time.Now(),
				Source:    "engine.Engine",
				Data:      map[string]any{"conversation": conversationID, "error": err.Error()},
			})
		}
	}
	return conversationID, final, nil
}

// RunBackground executes one background task against a conversation in
// an ephemeral session, outside any interactive slot. Background runs
// never wait on a saturated tier; overload surfaces as an error for the
// worker's retry ledger. The job worker's Runner.
func (e *Engine) RunBackground(ctx context.Context, task pipeline.TaskType, conversationID int64, input string) (string, error) {
	history, err := e.store.MessagesFor(ctx, conversationID)
	if err != nil {
		return "", err
	}

	sess := session.New()
	// The ephemeral session leaves a stream behind on the bus once the run
	// publishes; tear it down so background jobs don't accrete sessions.
	defer e.bus.Close(sess.ID())

	run := pipeline.Run{
		Session:      sess,
		Conversation: conversationID,
		History:      trimHistory(history),
		Background:   true,
	}
	return e.executor.Execute(ctx, pipeline.Single(task, input, pipeline.Blocking), run)
}

// Cancel aborts the conversation's running pipeline, if any.
func (e *Engine) Cancel(conversationID int64) {
	if sess, ok := e.sessions.Get(SessionID(conversationID)); ok {
		sess.Cancel()
	}
}

// Subscribe attaches to the conversation's event stream.
func (e *Engine) Subscribe(conversationID int64) <-chan events.Event {
	return e.bus.Subscribe(SessionID(conversationID))
}

// Unsubscribe detaches the conversation's event stream subscriber.
func (e *Engine) Unsubscribe(conversationID int64) {
	e.bus.Unsubscribe(SessionID(conversationID))
}

// SetConnected marks whether the conversation's client is attached.
func (e *Engine) SetConnected(conversationID int64, connected bool) {
	e.sessions.GetOrCreate(SessionID(conversationID)).SetConnected(connected)
}

// ResolveToolResult delivers a client-posted tool result.
func (e *Engine) ResolveToolResult(res dispatch.ClientResult) bool {
	return e.dispatcher.Resolve(res)
}

// SaveFacts persists extracted memory facts.
func (e *Engine) SaveFacts(ctx context.Context, facts ...memory.Fact) error {
	return e.memory.SaveFacts(ctx, facts...)
}

// renderFacts formats known memory for system prompts; memory being
// unavailable degrades to no facts.
func (e *Engine) renderFacts(ctx context.Context) string {
	facts, err := e.memory.Facts(ctx)
	if err != nil {
		e.observer.OnEvent(ctx, observability.Event{
			Type:      EventMemoryUnavailable,
			Level:     observability.LevelWarning,
			Timestamp: time.Now(),
			Source:    "engine.Engine",
			Data:      map[string]any{"error": err.Error()},
		})
		return ""
	}
	return memory.RenderFacts(facts)
}

func trimHistory(history []protocol.Message) []protocol.Message {
	if len(history) <= historyWindow {
		return history
	}
	return history[len(history)-historyWindow:]
}
