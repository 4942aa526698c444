// Package registry is the authoritative store of job records. Every
// mutation goes through Replace, which applies a mutator to a private copy
// and swaps the whole record in one step, so readers only ever observe
// complete snapshots.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/makeasinger/genreswap/internal/model"
)

var (
	ErrNotFound          = errors.New("job not found")
	ErrIllegalTransition = errors.New("illegal job status transition")
	ErrInvariant         = errors.New("job invariant violated")
)

// Mutator edits a private copy of the job. Returning an error discards the
// copy and leaves the stored record untouched.
type Mutator func(job *model.Job) error

// Publisher receives the projection of every applied mutation, in the
// order the registry applied them for a given job. Implementations must
// not block for long: they run while the job's mutation lock is held.
type Publisher interface {
	Publish(ctx context.Context, view model.JobView)
}

type Registry interface {
	Create(ctx context.Context, params model.JobParams) (*model.Job, error)
	Get(ctx context.Context, id string) (*model.Job, error)
	Replace(ctx context.Context, id string, fn Mutator) (*model.Job, error)
	ListActive(ctx context.Context) ([]*model.Job, error)
	EvictTerminalOlderThan(ctx context.Context, age time.Duration) (int, error)
}

// Options shared by the registry implementations.
type Options struct {
	NewID     func() string
	Now       func() time.Time
	Publisher Publisher
	Logger    *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

func (o Options) publish(ctx context.Context, job *model.Job) {
	if o.Publisher != nil {
		o.Publisher.Publish(ctx, job.View())
	}
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, view model.JobView)

func (f PublisherFunc) Publish(ctx context.Context, view model.JobView) { f(ctx, view) }
