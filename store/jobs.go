package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Job statuses.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// Job is one queued unit of background work.
type Job struct {
	ID             int64
	Task           string
	ConversationID int64
	Payload        string
	Status         string
	Priority       int
	Attempts       int
	MaxAttempts    int
	LastError      string
	Result         string
}

// EnqueueJob adds a pending job. Higher priority runs first; equal
// priorities run oldest first.
func (s *Store) EnqueueJob(ctx context.Context, task string, conversationID int64, payload string, priority int) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (task, conversation_id, payload, priority, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		task, conversationID, payload, priority, now, now)
	if err != nil {
		return 0, fmt.Errorf("enqueue job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("enqueue job: %w", err)
	}
	return id, nil
}

// ClaimJob atomically takes the next pending job, marks it running, and
// counts the attempt. The false return means the queue is empty.
func (s *Store) ClaimJob(ctx context.Context) (Job, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Job{}, false, fmt.Errorf("claim job: %w", err)
	}
	defer tx.Rollback()

	var j Job
	err = tx.QueryRowContext(ctx,
		`SELECT id, task, conversation_id, payload, status, priority, attempts, max_attempts, last_error
		 FROM jobs WHERE status = ? ORDER BY priority DESC, id ASC LIMIT 1`, JobPending).
		Scan(&j.ID, &j.Task, &j.ConversationID, &j.Payload, &j.Status, &j.Priority, &j.Attempts, &j.MaxAttempts, &j.LastError)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, fmt.Errorf("claim job: %w", err)
	}

	j.Status = JobRunning
	j.Attempts++
	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, attempts = ?, updated_at = ? WHERE id = ?`,
		j.Status, j.Attempts, time.Now().UTC(), j.ID); err != nil {
		return Job{}, false, fmt.Errorf("claim job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Job{}, false, fmt.Errorf("claim job: %w", err)
	}
	return j, true, nil
}

// CompleteJob marks a running job completed and stores its result. Tasks
// whose output also lands elsewhere (titles, summaries) keep the raw
// output here; payload tasks like translation are read back from it.
func (s *Store) CompleteJob(ctx context.Context, id int64, result string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, result = ?, updated_at = ? WHERE id = ?`,
		JobCompleted, result, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// JobByID fetches one job.
func (s *Store) JobByID(ctx context.Context, id int64) (Job, error) {
	var j Job
	err := s.db.QueryRowContext(ctx,
		`SELECT id, task, conversation_id, payload, status, priority, attempts, max_attempts, last_error, result
		 FROM jobs WHERE id = ?`, id).
		Scan(&j.ID, &j.Task, &j.ConversationID, &j.Payload, &j.Status, &j.Priority, &j.Attempts, &j.MaxAttempts, &j.LastError, &j.Result)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("fetch job: %w", err)
	}
	return j, nil
}

// FailJob records a failed attempt. The job returns to pending until its
// attempts are exhausted, at which point it is marked failed and the
// returned exhausted flag is true.
func (s *Store) FailJob(ctx context.Context, id int64, cause string) (exhausted bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("fail job: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRowContext(ctx,
		`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).
		Scan(&attempts, &maxAttempts)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("fail job: %w", err)
	}

	status := JobPending
	if attempts >= maxAttempts {
		status = JobFailed
		exhausted = true
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		status, cause, time.Now().UTC(), id); err != nil {
		return false, fmt.Errorf("fail job: %w", err)
	}
	return exhausted, tx.Commit()
}

// HasPendingJobs reports whether any pending work remains.
func (s *Store) HasPendingJobs(ctx context.Context) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE status IN (?, ?)`, JobPending, JobRunning).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count jobs: %w", err)
	}
	return n > 0, nil
}
