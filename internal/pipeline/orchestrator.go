// Package pipeline drives a job through its stage table. The registry is
// the only place job state lives; the orchestrator only ever folds stage
// outcomes into it through Replace.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/makeasinger/genreswap/internal/artifact"
	"github.com/makeasinger/genreswap/internal/backend"
	"github.com/makeasinger/genreswap/internal/model"
	"github.com/makeasinger/genreswap/internal/registry"
	"github.com/makeasinger/genreswap/internal/selector"
	"github.com/makeasinger/genreswap/internal/stage"
)

// ErrAlreadyStarted is returned by Run for a job that left pending before
// this call could claim it.
var ErrAlreadyStarted = errors.New("job already started")

// Executor runs one stage against its candidates.
type Executor interface {
	Execute(ctx context.Context, name stage.Name, in *stage.Input, fallback selector.Fallback) (*selector.Outcome, error)
}

// Orchestrator runs jobs. It is safe for concurrent use; each Run owns one
// job.
type Orchestrator struct {
	registry   registry.Registry
	executor   Executor
	workspaces *artifact.Manager
	steps      []Step
	logger     *slog.Logger
	now        func() time.Time
	retryFail  []time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSteps replaces the default stage table.
func WithSteps(steps []Step) Option {
	return func(o *Orchestrator) { o.steps = steps }
}

// WithFailRetry sets the delays between attempts to record a failed job
// after a registry write was lost mid-run.
func WithFailRetry(delays ...time.Duration) Option {
	return func(o *Orchestrator) { o.retryFail = delays }
}

// WithClock overrides the time source used for stage log entries.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func New(reg registry.Registry, exec Executor, workspaces *artifact.Manager, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		registry:   reg,
		executor:   exec,
		workspaces: workspaces,
		steps:      DefaultSteps(),
		logger:     logger,
		now:        time.Now,
		retryFail:  []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 2 * time.Second},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run claims a pending job and drives it to a terminal state. The returned
// error reports problems claiming or recording the job; a job that ends in
// failed is not an error of Run.
func (o *Orchestrator) Run(ctx context.Context, jobID string) (err error) {
	log := o.logger.With("job_id", jobID)

	claimed := false
	job, err := o.registry.Replace(ctx, jobID, func(j *model.Job) error {
		if j.Status != model.JobStatusPending {
			return ErrAlreadyStarted
		}
		claimed = true
		j.Status = model.JobStatusProcessing
		j.StageLog = append(j.StageLog, model.StageLogEntry{At: o.now(), Message: "Processing started"})
		return nil
	})
	if err != nil {
		return err
	}
	if !claimed {
		return ErrAlreadyStarted
	}
	log.Info("job started", "genre", job.Params.TargetGenre)

	r := &run{o: o, job: job, log: log}

	// any panic below becomes a failed job instead of a crashed worker
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("pipeline panic", "panic", rec, "stack", string(debug.Stack()))
			err = r.fail(context.WithoutCancel(ctx), "", "internal error")
		}
	}()

	if err := r.execute(ctx); err != nil {
		if r.job.Status.IsTerminal() {
			return err
		}
		return r.abandon(ctx, err)
	}
	return nil
}

// run is the state of one Run call.
type run struct {
	o   *Orchestrator
	job *model.Job
	log *slog.Logger
	ws  *artifact.Workspace

	artifacts map[model.ArtifactKind]model.Artifact
	published []model.Artifact
	degraded  []string
}

func (r *run) execute(ctx context.Context) error {
	ws, err := r.o.workspaces.Open(r.job.ID)
	if err != nil {
		r.log.Error("workspace unavailable", "error", err)
		return r.fail(ctx, "", "could not allocate a workspace")
	}
	r.ws = ws
	defer r.cleanup()

	r.artifacts = map[model.ArtifactKind]model.Artifact{}
	for _, step := range r.o.steps {
		if err := r.runStep(ctx, step); err != nil {
			return err
		}
		if r.job.Status.IsTerminal() {
			return nil
		}
	}
	return r.complete(ctx)
}

func (r *run) input() *stage.Input {
	arts := make(map[model.ArtifactKind]model.Artifact, len(r.artifacts))
	for k, v := range r.artifacts {
		arts[k] = v
	}
	return &stage.Input{
		JobID:     r.job.ID,
		Params:    r.job.Params,
		Workspace: r.ws,
		Artifacts: arts,
		Prompt:    backend.Prompt(r.job.Params),
	}
}

func (r *run) runStep(ctx context.Context, step Step) error {
	log := r.log.With("stage", step.Name)

	if err := r.update(ctx, func(j *model.Job) {
		j.CurrentStage = string(step.Name)
		j.Progress = max(j.Progress, step.Start)
		j.StageLog = append(j.StageLog, r.entry(step.Name, "Stage started"))
	}); err != nil {
		return err
	}

	in := r.input()
	if step.Skip != nil {
		skip, reason, out, err := step.Skip(ctx, in)
		if err != nil {
			log.Error("stage skip failed", "error", err)
			return r.fail(ctx, step.Name, "could not skip stage")
		}
		if skip {
			log.Info("stage skipped", "reason", reason)
			r.fold(step.Name, out)
			return r.finishStep(ctx, step, reason)
		}
	}

	outcome, err := r.o.executor.Execute(ctx, step.Name, in, step.Fallback)
	if err != nil {
		if ctx.Err() != nil {
			log.Warn("stage interrupted", "error", err)
			return r.fail(context.WithoutCancel(ctx), step.Name, "interrupted before completion")
		}
		log.Error("stage failed", "error", err)
		return r.fail(ctx, step.Name, failureSummary(err))
	}

	r.fold(step.Name, outcome.Output)
	msg := "Completed via " + outcome.Backend
	if outcome.Degraded {
		r.degraded = append(r.degraded, string(step.Name))
		msg = fmt.Sprintf("Degraded to fallback after %d failed attempt(s)", len(outcome.Attempts))
	}
	return r.finishStep(ctx, step, msg)
}

func (r *run) finishStep(ctx context.Context, step Step, msg string) error {
	return r.update(ctx, func(j *model.Job) {
		j.Progress = max(j.Progress, step.End)
		j.StageLog = append(j.StageLog, r.entry(step.Name, msg))
	})
}

// fold merges stage output into the run's artifact set. Finalize output is
// what gets published in the result.
func (r *run) fold(name stage.Name, out *stage.Output) {
	if out == nil {
		return
	}
	for _, a := range out.Artifacts {
		r.artifacts[a.Kind] = a
	}
	if name == stage.Finalize {
		r.published = append(r.published, out.Artifacts...)
	}
}

func (r *run) complete(ctx context.Context) error {
	result := &model.JobResult{Degraded: r.degraded}
	for _, a := range r.published {
		pub := model.Artifact{Kind: a.Kind, URL: a.URL}
		result.Artifacts = append(result.Artifacts, pub)
		switch a.Kind {
		case model.ArtifactMix:
			result.OutputURL = a.URL
		case model.ArtifactLyrics:
			result.LyricsURL = a.URL
		}
	}
	if result.OutputURL == "" {
		r.log.Error("finalize produced no output url")
		return r.fail(ctx, stage.Finalize, "no output was published")
	}

	err := r.update(ctx, func(j *model.Job) {
		j.Status = model.JobStatusCompleted
		j.CurrentStage = ""
		j.Result = result
		j.StageLog = append(j.StageLog, r.entry("", "Job completed"))
	})
	if err == nil {
		r.log.Info("job completed", "output_url", result.OutputURL, "degraded", r.degraded)
	}
	return err
}

func (r *run) fail(ctx context.Context, name stage.Name, reason string) error {
	msg := reason
	if name != "" {
		msg = fmt.Sprintf("%s failed: %s", name, reason)
	}
	err := r.update(ctx, func(j *model.Job) {
		j.Status = model.JobStatusFailed
		j.Error = &msg
		j.StageLog = append(j.StageLog, r.entry(name, "Job failed: "+reason))
	})
	if err == nil {
		r.log.Error("job failed", "reason", msg)
	}
	return err
}

// abandon records failed for a job whose run stopped on a registry error.
// The write ignores cancellation and is retried; a job that still cannot be
// recorded stays processing until eviction and Run reports both errors.
func (r *run) abandon(ctx context.Context, cause error) error {
	ctx = context.WithoutCancel(ctx)
	r.log.Warn("job state write failed, recording failure", "error", cause)

	err := r.fail(ctx, "", "could not record job progress")
	for _, d := range r.o.retryFail {
		if err == nil {
			return nil
		}
		time.Sleep(d)
		err = r.fail(ctx, "", "could not record job progress")
	}
	if err == nil {
		return nil
	}
	r.log.Error("JOB STATE LOST: could not record failure, job left processing",
		"cause", cause, "error", err, "attempts", len(r.o.retryFail)+1)
	return errors.Join(cause, err)
}

// update applies fn through the registry and keeps the latest snapshot.
func (r *run) update(ctx context.Context, fn func(j *model.Job)) error {
	job, err := r.o.registry.Replace(ctx, r.job.ID, func(j *model.Job) error {
		fn(j)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", r.job.ID, err)
	}
	r.job = job
	return nil
}

func (r *run) entry(name stage.Name, msg string) model.StageLogEntry {
	return model.StageLogEntry{At: r.o.now(), Stage: string(name), Message: msg}
}

func (r *run) cleanup() {
	if r.ws == nil {
		return
	}
	if err := r.ws.Cleanup(); err != nil {
		r.log.Warn("workspace cleanup failed", "error", err)
	}
}

// failureSummary is the client-facing text for a fatal stage error.
// Details stay in the logs.
func failureSummary(err error) string {
	switch {
	case errors.Is(err, stage.ErrExhausted):
		return "no backend could complete the stage"
	case stage.Classify(err) == stage.KindFatal:
		return "stage could not produce a result"
	}
	return "unexpected error"
}
