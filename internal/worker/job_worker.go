package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/makeasinger/genreswap/internal/pipeline"
	"github.com/makeasinger/genreswap/internal/registry"
	"github.com/makeasinger/genreswap/internal/service"
)

// JobWorker runs queued genre-swap jobs
type JobWorker struct {
	runner service.Runner
	logger *slog.Logger
}

func NewJobWorker(runner service.Runner, logger *slog.Logger) *JobWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobWorker{runner: runner, logger: logger.With("component", "worker")}
}

// ProcessTask handles a TaskTypeRunJob task. A job that is already claimed
// or gone is skipped; asynq must not retry it.
func (w *JobWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload service.RunJobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.JobID == "" {
		return fmt.Errorf("task payload has no job id: %w", asynq.SkipRetry)
	}

	log := w.logger.With("job_id", payload.JobID)
	log.Info("task received")

	err := w.runner.Run(ctx, payload.JobID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pipeline.ErrAlreadyStarted), errors.Is(err, registry.ErrNotFound):
		log.Warn("skipping task", "reason", err)
		return nil
	default:
		return fmt.Errorf("job %s: %v: %w", payload.JobID, err, asynq.SkipRetry)
	}
}

// Mux routes task types to the worker.
func (w *JobWorker) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeRunJob, w.ProcessTask)
	return mux
}
