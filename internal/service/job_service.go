package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/makeasinger/genreswap/internal/model"
	"github.com/makeasinger/genreswap/internal/registry"
)

// ValidationError is returned for a request that must not create a job.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// History lists archived terminal jobs, newest first.
type History interface {
	Recent(ctx context.Context, limit int) ([]model.JobView, error)
}

// JobService is the ingress side of the job lifecycle: it creates jobs,
// hands them to a dispatcher and serves status reads from the registry.
type JobService struct {
	registry    registry.Registry
	dispatcher  Dispatcher
	history     History
	historySize int
	statusPath  string
	logger      *slog.Logger
}

type JobServiceOptions struct {
	History     History
	HistorySize int
	// StatusPath prefixes the statusUrl handed back on submit.
	StatusPath string
	Logger     *slog.Logger
}

func NewJobService(reg registry.Registry, dispatcher Dispatcher, opts JobServiceOptions) *JobService {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.StatusPath == "" {
		opts.StatusPath = "/api/jobs"
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = 100
	}
	return &JobService{
		registry:    reg,
		dispatcher:  dispatcher,
		history:     opts.History,
		historySize: opts.HistorySize,
		statusPath:  strings.TrimRight(opts.StatusPath, "/"),
		logger:      opts.Logger.With("component", "job_service"),
	}
}

// Submit creates a pending job and schedules it. It never waits for any
// stage to run. When scheduling fails the job is recorded as failed and
// its handle is returned together with the error.
func (s *JobService) Submit(ctx context.Context, req *model.SubmitRequest, userID string) (*model.SubmitResponse, error) {
	params, err := paramsFrom(req)
	if err != nil {
		return nil, err
	}
	params.UserID = userID

	job, err := s.registry.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	log := s.logger.With("job_id", job.ID)

	if err := s.dispatcher.Dispatch(ctx, job.ID); err != nil {
		log.Error("dispatch failed", "error", err)
		msg := "job could not be scheduled"
		_, ferr := s.registry.Replace(context.WithoutCancel(ctx), job.ID, func(j *model.Job) error {
			j.Status = model.JobStatusFailed
			j.Error = &msg
			j.StageLog = append(j.StageLog, model.StageLogEntry{At: time.Now(), Message: "Job failed: " + msg})
			return nil
		})
		status := model.JobStatusFailed
		if ferr != nil {
			log.Warn("could not record dispatch failure", "error", ferr)
			status = job.Status
		}
		return s.handle(job.ID, status), fmt.Errorf("failed to dispatch job: %w", err)
	}

	log.Info("job submitted", "genre", params.TargetGenre, "karaoke", params.KaraokeEnabled())
	return s.handle(job.ID, job.Status), nil
}

func (s *JobService) handle(id string, status model.JobStatus) *model.SubmitResponse {
	return &model.SubmitResponse{JobID: id, StatusURL: s.statusPath + "/" + id, Status: status}
}

func paramsFrom(req *model.SubmitRequest) (model.JobParams, error) {
	if req == nil {
		return model.JobParams{}, &ValidationError{Field: "body", Message: "request body is required"}
	}
	source := strings.TrimSpace(req.Source)
	if source == "" {
		return model.JobParams{}, &ValidationError{Field: "source", Message: "source is required"}
	}
	if strings.TrimSpace(req.TargetGenre) == "" {
		return model.JobParams{}, &ValidationError{Field: "targetGenre", Message: "targetGenre is required"}
	}
	genre := model.SanitizeGenre(req.TargetGenre)
	if !model.IsSupportedGenre(genre) {
		return model.JobParams{}, &ValidationError{Field: "targetGenre", Message: fmt.Sprintf("unsupported genre %q", req.TargetGenre)}
	}

	params := model.JobParams{Source: source, TargetGenre: genre}
	if req.Options != nil {
		params.Options = *req.Options
		if req.Options.KaraokeMode != nil {
			v := *req.Options.KaraokeMode
			params.Options.KaraokeMode = &v
		}
		params.Options.Prompt = strings.TrimSpace(req.Options.Prompt)
	}
	return params, nil
}

// GetStatus returns the read-only projection of a job. Evicted jobs are
// looked up in the history before reporting not found.
func (s *JobService) GetStatus(ctx context.Context, id string) (*model.JobView, error) {
	job, err := s.registry.Get(ctx, id)
	if err == nil {
		v := job.View()
		return &v, nil
	}
	if !errors.Is(err, registry.ErrNotFound) || s.history == nil {
		return nil, err
	}

	recent, herr := s.history.Recent(ctx, s.historySize)
	if herr != nil {
		s.logger.Warn("history lookup failed", "job_id", id, "error", herr)
		return nil, err
	}
	for _, v := range recent {
		if v.ID == id {
			return &v, nil
		}
	}
	return nil, err
}

// List returns active jobs, oldest first, followed by archived terminal
// jobs when includeHistory is set.
func (s *JobService) List(ctx context.Context, includeHistory bool) ([]model.JobView, error) {
	active, err := s.registry.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	views := make([]model.JobView, 0, len(active))
	seen := make(map[string]struct{}, len(active))
	for _, j := range active {
		views = append(views, j.View())
		seen[j.ID] = struct{}{}
	}
	if !includeHistory || s.history == nil {
		return views, nil
	}

	recent, err := s.history.Recent(ctx, s.historySize)
	if err != nil {
		return nil, fmt.Errorf("failed to list job history: %w", err)
	}
	for _, v := range recent {
		if _, dup := seen[v.ID]; !dup {
			views = append(views, v)
		}
	}
	return views, nil
}

// Snapshot returns the views a push subscriber starts from: one job, or
// every active job when id is empty.
func (s *JobService) Snapshot(ctx context.Context, id string) ([]model.JobView, error) {
	if id == "" {
		return s.List(ctx, false)
	}
	v, err := s.GetStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	return []model.JobView{*v}, nil
}
