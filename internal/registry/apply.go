package registry

import (
	"fmt"
	"time"

	"github.com/makeasinger/genreswap/internal/model"
)

func newJob(id string, params model.JobParams, now time.Time) *model.Job {
	job := &model.Job{
		ID:        id,
		Status:    model.JobStatusPending,
		Progress:  0,
		Params:    params,
		CreatedAt: now,
		UpdatedAt: now,
		StageLog: []model.StageLogEntry{
			{At: now, Message: fmt.Sprintf("Job created (genre: %s)", params.TargetGenre)},
		},
	}
	return job.Clone()
}

// applyMutation runs fn on a copy of prev and enforces the record
// invariants on the result. changed is false when prev is terminal, in
// which case the mutation is dropped.
func applyMutation(prev *model.Job, fn Mutator, now time.Time) (next *model.Job, changed bool, err error) {
	if prev.Status.IsTerminal() {
		return prev, false, nil
	}

	next = prev.Clone()
	if err := fn(next); err != nil {
		return prev, false, err
	}

	// identity and input never change
	orig := prev.Clone()
	next.ID = orig.ID
	next.Params = orig.Params
	next.CreatedAt = orig.CreatedAt

	if !model.CanTransition(prev.Status, next.Status) {
		return prev, false, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, prev.Status, next.Status)
	}

	// stage log is append-only: keep the stored prefix, accept new tail
	if len(next.StageLog) < len(orig.StageLog) {
		next.StageLog = orig.StageLog
	} else {
		next.StageLog = append(orig.StageLog, next.StageLog[len(orig.StageLog):]...)
	}

	switch next.Status {
	case model.JobStatusCompleted:
		if next.Result == nil {
			return prev, false, fmt.Errorf("%w: completed without result", ErrInvariant)
		}
		next.Error = nil
		next.Progress = 100
	case model.JobStatusFailed:
		if next.Error == nil || *next.Error == "" {
			return prev, false, fmt.Errorf("%w: failed without error", ErrInvariant)
		}
		next.Result = nil
		next.Progress = prev.Progress
	default:
		next.Result = nil
		next.Error = nil
		if next.Progress < prev.Progress {
			next.Progress = prev.Progress
		}
	}
	if next.Progress < 0 {
		next.Progress = 0
	}
	if next.Progress > 100 {
		next.Progress = 100
	}

	if next.Status.IsTerminal() {
		t := now
		next.CompletedAt = &t
	} else {
		next.CompletedAt = nil
	}

	// strictly increasing so observers can deduplicate by updatedAt
	if !now.After(prev.UpdatedAt) {
		now = prev.UpdatedAt.Add(time.Microsecond)
	}
	next.UpdatedAt = now

	return next, true, nil
}
