package fanout

import (
	"context"
	"log/slog"
	"sync"

	"github.com/makeasinger/genreswap/internal/model"
	"github.com/makeasinger/genreswap/internal/registry"
)

// Multi publishes every view to each publisher in turn.
type Multi []registry.Publisher

func (m Multi) Publish(ctx context.Context, view model.JobView) {
	for _, p := range m {
		if p != nil {
			p.Publish(ctx, view)
		}
	}
}

// TerminalOnly forwards only completed and failed views.
func TerminalOnly(p registry.Publisher) registry.Publisher {
	return registry.PublisherFunc(func(ctx context.Context, view model.JobView) {
		if view.Status.IsTerminal() {
			p.Publish(ctx, view)
		}
	})
}

// Async decouples a slow publisher (network, database) from the registry:
// Publish enqueues and returns, Run drains the queue in order. When the
// queue is full the view is dropped and logged.
type Async struct {
	name   string
	next   registry.Publisher
	queue  chan model.JobView
	logger *slog.Logger

	once sync.Once
	done chan struct{}
}

func NewAsync(name string, next registry.Publisher, buffer int, logger *slog.Logger) *Async {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = 256
	}
	return &Async{
		name:   name,
		next:   next,
		queue:  make(chan model.JobView, buffer),
		logger: logger.With("component", name),
		done:   make(chan struct{}),
	}
}

func (a *Async) Publish(_ context.Context, view model.JobView) {
	select {
	case a.queue <- view:
	default:
		a.logger.Warn("publish queue full, event dropped", "job_id", view.ID, "status", view.Status)
	}
}

// Run delivers queued views until ctx is done, then drains what is left
// with a detached context.
func (a *Async) Run(ctx context.Context) {
	defer a.once.Do(func() { close(a.done) })
	for {
		select {
		case view := <-a.queue:
			a.next.Publish(ctx, view)
		case <-ctx.Done():
			drain := context.WithoutCancel(ctx)
			for {
				select {
				case view := <-a.queue:
					a.next.Publish(drain, view)
				default:
					return
				}
			}
		}
	}
}

// Done is closed when Run has returned.
func (a *Async) Done() <-chan struct{} { return a.done }
