// Package queue delivers background jobs to registered handlers with
// at-least-once semantics. Failed jobs are retried with quadratic backoff
// until the configured retry budget is spent.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrClosed is returned when enqueueing into a closed queue.
	ErrClosed = errors.New("queue closed")

	// ErrNoHandler is returned when a job type has no subscriber.
	ErrNoHandler = errors.New("no handler subscribed for job type")

	// ErrRetriesExhausted is passed to Options.OnDrop when a job failed on
	// its last allowed attempt.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrRetryDropped is passed to Options.OnDrop when a retry could not be
	// buffered in time.
	ErrRetryDropped = errors.New("retry dropped, queue full")
)

// Job is one unit of background work.
type Job struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Attempt    int             `json:"attempt"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Decode unmarshals the job payload into v.
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", j.Type, err)
	}
	return nil
}

// Handler processes a job. A returned error schedules a retry.
type Handler func(ctx context.Context, job *Job) error

// Queue is the contract shared by every backend.
type Queue interface {
	// Enqueue submits a job and returns its ID.
	Enqueue(ctx context.Context, jobType string, payload any) (string, error)
	// Subscribe registers the handler for jobType. Call before Start.
	Subscribe(jobType string, h Handler) error
	// Start launches delivery. It returns immediately.
	Start(ctx context.Context) error
	// Close stops delivery and waits for in-flight jobs or ctx. Handlers
	// keep running after the Start context is cancelled; their context is
	// cancelled only when ctx expires here.
	Close(ctx context.Context) error
}

// Options tunes retry and concurrency behavior.
type Options struct {
	Workers    int
	Size       int
	MaxRetries int
	Backoff    func(attempt int) time.Duration

	// OnDrop, when set, is called for every job that will not be delivered
	// again, with ErrRetriesExhausted, ErrRetryDropped or ErrClosed.
	OnDrop func(job *Job, reason error)
}

// DefaultOptions returns two workers, a 1000 job buffer and three retries.
func DefaultOptions() Options {
	return Options{Workers: 2, Size: 1000, MaxRetries: 3, Backoff: QuadraticBackoff}
}

func (o Options) normalize() Options {
	d := DefaultOptions()
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	if o.Size <= 0 {
		o.Size = d.Size
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.Backoff == nil {
		o.Backoff = d.Backoff
	}
	return o
}

// QuadraticBackoff waits 100ms, 400ms, 900ms... before retry n.
func QuadraticBackoff(attempt int) time.Duration {
	return time.Duration(attempt*attempt) * 100 * time.Millisecond
}

func newJob(jobType string, payload any) (*Job, error) {
	if jobType == "" {
		return nil, fmt.Errorf("queue: job type is required")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("queue: failed to marshal payload: %w", err)
	}
	return &Job{
		ID:         uuid.NewString(),
		Type:       jobType,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
