// Package jobs runs queued background work, each job as a single-task
// pipeline: conversation titles, summaries, memory extraction, and
// payload tasks like translation whose output lands on the job row.
package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tweenson/artificer/memory"
	"github.com/tweenson/artificer/observability"
	"github.com/tweenson/artificer/pipeline"
	"github.com/tweenson/artificer/store"
)

const (
	defaultPollInterval = 2 * time.Second
	maxTitleLength      = 80
)

// Runner executes background tasks and persists extracted memory. The
// engine implements it.
type Runner interface {
	RunBackground(ctx context.Context, task pipeline.TaskType, conversationID int64, input string) (string, error)
	SaveFacts(ctx context.Context, facts ...memory.Fact) error
}

// Observability event types emitted by the worker.
const (
	EventJobCompleted observability.EventType = "jobs.completed"
	EventJobFailed    observability.EventType = "jobs.failed"
	EventJobExhausted observability.EventType = "jobs.exhausted"
)

// Worker polls the job queue and executes pending jobs one at a time in
// priority-then-FIFO order.
type Worker struct {
	store    *store.Store
	runner   Runner
	observer observability.Observer
	interval time.Duration
}

// Option configures a Worker.
type Option func(*Worker)

// WithPollInterval sets the queue polling cadence.
func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithObserver sets the worker's observer.
func WithObserver(o observability.Observer) Option {
	return func(w *Worker) {
		if o != nil {
			w.observer = o
		}
	}
}

// NewWorker creates a Worker over the store and runner.
func NewWorker(s *store.Store, runner Runner, opts ...Option) *Worker {
	w := &Worker{
		store:    s,
		runner:   runner,
		observer: observability.NoOpObserver{},
		interval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls until the context is cancelled. Each tick drains every job
// already pending.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.Drain(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// Drain executes pending jobs until the queue is empty or the context is
// cancelled.
func (w *Worker) Drain(ctx context.Context) {
	for ctx.Err() == nil {
		job, ok, err := w.store.ClaimJob(ctx)
		if err != nil || !ok {
			return
		}
		w.execute(ctx, job)
	}
}

// execute runs one claimed job and records its outcome.
func (w *Worker) execute(ctx context.Context, job store.Job) {
	output, err := w.run(ctx, job)
	if err == nil {
		_ = w.store.CompleteJob(ctx, job.ID, output)
		w.observe(ctx, EventJobCompleted, observability.LevelVerbose, job, "")
		return
	}

	exhausted, failErr := w.store.FailJob(ctx, job.ID, err.Error())
	if failErr != nil {
		w.observe(ctx, EventJobFailed, observability.LevelError, job, failErr.Error())
		return
	}
	if !exhausted {
		w.observe(ctx, EventJobFailed, observability.LevelWarning, job, err.Error())
		return
	}
	w.observe(ctx, EventJobExhausted, observability.LevelError, job, err.Error())
	w.fallback(ctx, job)
}

// run executes the job's task, applies any side effects, and returns the
// output stored as the job's result.
func (w *Worker) run(ctx context.Context, job store.Job) (string, error) {
	task := pipeline.TaskType(job.Task)
	if _, ok := pipeline.Lookup(task); !ok {
		return "", fmt.Errorf("unknown task %q", job.Task)
	}

	output, err := w.runner.RunBackground(ctx, task, job.ConversationID, w.input(task, job))
	if err != nil {
		return "", err
	}
	return output, w.apply(ctx, task, job, output)
}

// input picks the user-turn content for the job's single step.
func (w *Worker) input(task pipeline.TaskType, job store.Job) string {
	if job.Payload != "" {
		return job.Payload
	}
	switch task {
	case pipeline.TaskTitleGeneration:
		return "Title this conversation."
	case pipeline.TaskSummarization:
		return "Summarize this conversation."
	case pipeline.TaskMemoryExtraction:
		return "Extract facts from this conversation."
	default:
		return ""
	}
}

// apply routes a task's output to its destination.
func (w *Worker) apply(ctx context.Context, task pipeline.TaskType, job store.Job, output string) error {
	switch task {
	case pipeline.TaskTitleGeneration:
		title := sanitizeTitle(output)
		if title == "" {
			return fmt.Errorf("empty title")
		}
		return w.store.SetTitle(ctx, job.ConversationID, title)
	case pipeline.TaskSummarization:
		return w.store.SetSummary(ctx, job.ConversationID, strings.TrimSpace(output))
	case pipeline.TaskMemoryExtraction:
		facts, err := memory.ParseFacts(output)
		if err != nil {
			return err
		}
		return w.runner.SaveFacts(ctx, facts...)
	case pipeline.TaskTranslation, pipeline.TaskExtraction:
		// Payload tasks: the stored job result is the destination.
		return nil
	default:
		return fmt.Errorf("no destination for task %q", task)
	}
}

// fallback applies a last-resort result for exhausted jobs. Only title
// generation has one: a generated placeholder so the conversation is
// never left unnamed.
func (w *Worker) fallback(ctx context.Context, job store.Job) {
	if pipeline.TaskType(job.Task) != pipeline.TaskTitleGeneration {
		return
	}
	placeholder := "conv_" + uuid.NewString()[:8]
	_ = w.store.SetTitle(ctx, job.ConversationID, placeholder)
}

// sanitizeTitle strips quoting and whitespace the model tends to add and
// caps the length.
func sanitizeTitle(title string) string {
	title = strings.TrimSpace(title)
	title = strings.Trim(title, "\"'`")
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	title = strings.TrimSpace(title)
	if len(title) > maxTitleLength {
		title = strings.TrimSpace(title[:maxTitleLength])
	}
	return title
}

func (w *Worker) observe(ctx context.Context, typ observability.EventType, level observability.Level, job store.Job, detail string) {
	data := map[string]any{"job": job.ID, "task": job.Task, "conversation": job.ConversationID}
	if detail != "" {
		data["error"] = detail
	}
	w.observer.OnEvent(ctx, observability.Event{
		Type:      typ,
		Level:     level,
		Timestamp: time.Now(),
		Source:    "jobs.Worker",
		Data:      data,
	})
}
