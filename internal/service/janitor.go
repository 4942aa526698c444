package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/makeasinger/genreswap/internal/registry"
)

// Trimmer bounds an archive's size.
type Trimmer interface {
	Trim(ctx context.Context) (int64, error)
}

// Janitor periodically evicts terminal jobs older than the retention
// period from the registry and trims the archive.
type Janitor struct {
	registry  registry.Registry
	trimmer   Trimmer
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
}

func NewJanitor(reg registry.Registry, trimmer Trimmer, retention, interval time.Duration, logger *slog.Logger) *Janitor {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		registry:  reg,
		trimmer:   trimmer,
		retention: retention,
		interval:  interval,
		logger:    logger.With("component", "janitor"),
	}
}

// Start blocks until ctx is done.
func (j *Janitor) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

func (j *Janitor) Sweep(ctx context.Context) {
	n, err := j.registry.EvictTerminalOlderThan(ctx, j.retention)
	if err != nil {
		j.logger.Warn("eviction failed", "error", err)
	} else if n > 0 {
		j.logger.Info("evicted terminal jobs", "count", n)
	}

	if j.trimmer == nil {
		return
	}
	if trimmed, err := j.trimmer.Trim(ctx); err != nil {
		j.logger.Warn("archive trim failed", "error", err)
	} else if trimmed > 0 {
		j.logger.Debug("archive trimmed", "rows", trimmed)
	}
}
