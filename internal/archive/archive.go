// Package archive keeps a bounded history of terminal jobs after the
// registry has evicted them.
package archive

import (
	"context"
	"sync"

	"github.com/makeasinger/genreswap/internal/model"
)

// Archive records terminal job views and lists the most recent ones.
type Archive interface {
	Publish(ctx context.Context, view model.JobView)
	Recent(ctx context.Context, limit int) ([]model.JobView, error)
}

// Memory is a fixed-size in-process history, newest first.
type Memory struct {
	mu    sync.RWMutex
	size  int
	views []model.JobView
}

func NewMemory(size int) *Memory {
	if size <= 0 {
		size = 100
	}
	return &Memory{size: size}
}

// Publish stores terminal views; others are ignored. A redelivered view
// replaces the earlier copy.
func (m *Memory) Publish(_ context.Context, view model.JobView) {
	if !view.Status.IsTerminal() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := make([]model.JobView, 0, m.size)
	kept = append(kept, view)
	for _, v := range m.views {
		if len(kept) == m.size {
			break
		}
		if v.ID != view.ID {
			kept = append(kept, v)
		}
	}
	m.views = kept
}

func (m *Memory) Recent(_ context.Context, limit int) ([]model.JobView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.views) {
		limit = len(m.views)
	}
	return append([]model.JobView(nil), m.views[:limit]...), nil
}
