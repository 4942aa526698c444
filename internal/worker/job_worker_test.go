package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"

	"github.com/makeasinger/genreswap/internal/logging"
	"github.com/makeasinger/genreswap/internal/pipeline"
	"github.com/makeasinger/genreswap/internal/service"
)

type stubRunner struct {
	got string
	err error
}

func (s *stubRunner) Run(_ context.Context, id string) error {
	s.got = id
	return s.err
}

func TestProcessTask(t *testing.T) {
	task, err := service.NewRunJobTask("job-1")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		runErr    error
		wantErr   bool
		skipRetry bool
	}{
		{name: "success"},
		{name: "already started is skipped", runErr: pipeline.ErrAlreadyStarted},
		{name: "registry failure", runErr: errors.New("redis down"), wantErr: true, skipRetry: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &stubRunner{err: tt.runErr}
			w := NewJobWorker(r, logging.Discard())

			err := w.ProcessTask(context.Background(), task)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.skipRetry && !errors.Is(err, asynq.SkipRetry) {
				t.Fatalf("expected SkipRetry, got %v", err)
			}
			if r.got != "job-1" {
				t.Fatalf("runner got %q", r.got)
			}
		})
	}
}

func TestProcessTask_BadPayload(t *testing.T) {
	r := &stubRunner{}
	w := NewJobWorker(r, logging.Discard())
	err := w.ProcessTask(context.Background(), asynq.NewTask(service.TaskTypeRunJob, []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
	if r.got != "" {
		t.Fatal("runner called for a bad payload")
	}
}
