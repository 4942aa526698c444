package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TaskTypeRunJob = "genreswap:run"
	QueueJobs      = "genreswap"
)

// ErrDispatcherClosed is returned once shutdown has begun.
var ErrDispatcherClosed = errors.New("dispatcher is shut down")

// Runner drives one job to a terminal state.
type Runner interface {
	Run(ctx context.Context, jobID string) error
}

// Dispatcher schedules a created job. Dispatch must return without
// waiting for the job to make progress.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

// RunJobPayload is the asynq task body.
type RunJobPayload struct {
	JobID string `json:"jobId"`
}

func NewRunJobTask(jobID string) (*asynq.Task, error) {
	data, err := json.Marshal(RunJobPayload{JobID: jobID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeRunJob, data), nil
}

// InProcessDispatcher runs each job on its own goroutine. With a positive
// limit at most that many jobs run at once; the rest wait in pending.
type InProcessDispatcher struct {
	runner Runner
	base   context.Context
	sem    chan struct{}
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewInProcessDispatcher runs jobs under base rather than the submitting
// request's context; cancelling base interrupts running jobs.
func NewInProcessDispatcher(base context.Context, runner Runner, limit int, logger *slog.Logger) *InProcessDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &InProcessDispatcher{
		runner: runner,
		base:   base,
		logger: logger.With("component", "dispatcher"),
	}
	if limit > 0 {
		d.sem = make(chan struct{}, limit)
	}
	return d
}

func (d *InProcessDispatcher) Dispatch(_ context.Context, jobID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if d.sem != nil {
			// on shutdown a waiting job still runs so that it is failed
			// as interrupted instead of left pending
			select {
			case d.sem <- struct{}{}:
				defer func() { <-d.sem }()
			case <-d.base.Done():
			}
		}
		if err := d.runner.Run(d.base, jobID); err != nil {
			d.logger.Warn("job run returned error", "job_id", jobID, "error", err)
		}
	}()
	return nil
}

// Shutdown refuses new jobs and waits for running ones until ctx is done.
func (d *InProcessDispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AsynqDispatcher enqueues jobs for an asynq worker server, possibly in
// another process sharing the redis registry.
type AsynqDispatcher struct {
	client    *asynq.Client
	retention time.Duration
}

func NewAsynqDispatcher(client *asynq.Client, retention time.Duration) *AsynqDispatcher {
	return &AsynqDispatcher{client: client, retention: retention}
}

func (d *AsynqDispatcher) Dispatch(ctx context.Context, jobID string) error {
	task, err := NewRunJobTask(jobID)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	// a job runs once; a retried run would find it already claimed
	opts := []asynq.Option{
		asynq.Queue(QueueJobs),
		asynq.MaxRetry(0),
		asynq.TaskID(jobID),
	}
	if d.retention > 0 {
		opts = append(opts, asynq.Retention(d.retention))
	}
	if _, err := d.client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}
