// Package selector runs a stage against an ordered list of candidate
// backends until one succeeds.
package selector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/makeasinger/genreswap/internal/stage"
)

const defaultTimeout = 5 * time.Minute

// Candidate is one resolved backend for a stage.
type Candidate struct {
	Name    string
	Timeout time.Duration
	Backend stage.Backend
}

// Fallback produces the degraded output of a stage when every candidate
// failed. Mandatory stages have none.
type Fallback func(ctx context.Context, in *stage.Input) (*stage.Output, error)

// Attempt records one candidate invocation.
type Attempt struct {
	Backend  string
	Kind     stage.Kind
	Err      error
	Duration time.Duration
}

// Outcome is the result of running a stage.
type Outcome struct {
	Output   *stage.Output
	Backend  string
	Degraded bool
	Attempts []Attempt
}

// Catalog maps stage -> backend name -> implementation.
type Catalog map[stage.Name]map[string]stage.Backend

// Selector holds the candidate lists resolved at startup. They are never
// re-read, so a job sees the same backends for its whole lifetime.
type Selector struct {
	candidates map[stage.Name][]Candidate
	logger     *slog.Logger
}

// New resolves the configured order against the catalog. Unknown names and
// backends that report themselves unconfigured are dropped.
func New(order map[stage.Name][]string, timeouts map[stage.Name]time.Duration, catalog Catalog, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Selector{
		candidates: make(map[stage.Name][]Candidate),
		logger:     logger,
	}
	for name, names := range order {
		timeout := timeouts[name]
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		for _, backendName := range names {
			backend, ok := catalog[name][backendName]
			if !ok {
				logger.Warn("unknown backend in configuration", "stage", name, "backend", backendName)
				continue
			}
			if c, ok := backend.(stage.Configurable); ok && !c.IsConfigured() {
				logger.Info("backend not configured, skipping", "stage", name, "backend", backendName)
				continue
			}
			s.candidates[name] = append(s.candidates[name], Candidate{
				Name:    backendName,
				Timeout: timeout,
				Backend: backend,
			})
		}
	}
	return s
}

// NewFromCandidates builds a selector from explicit candidate lists.
func NewFromCandidates(candidates map[stage.Name][]Candidate, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Selector{candidates: make(map[stage.Name][]Candidate, len(candidates)), logger: logger}
	for name, list := range candidates {
		s.candidates[name] = append([]Candidate(nil), list...)
	}
	return s
}

// Resolve returns the ordered candidates for a stage.
func (s *Selector) Resolve(name stage.Name) []Candidate {
	return append([]Candidate(nil), s.candidates[name]...)
}

// Describe returns the backend names per stage, for health reporting.
func (s *Selector) Describe() map[stage.Name][]string {
	out := make(map[stage.Name][]string, len(s.candidates))
	for name, list := range s.candidates {
		for _, c := range list {
			out[name] = append(out[name], c.Name)
		}
	}
	return out
}

// Execute tries each candidate once, in order. Per-candidate failures are
// logged and absorbed. When all fail, a non-nil fallback yields a degraded
// outcome; otherwise the stage fails with a KindFatal error.
func (s *Selector) Execute(ctx context.Context, name stage.Name, in *stage.Input, fallback Fallback) (*Outcome, error) {
	outcome := &Outcome{}
	log := s.logger.With("job_id", in.JobID, "stage", name)

	for _, c := range s.candidates[name] {
		start := time.Now()
		out, err := s.attempt(ctx, c, in)
		if err == nil {
			log.Info("stage backend succeeded", "backend", c.Name, "duration", time.Since(start))
			outcome.Output = out
			outcome.Backend = c.Name
			return outcome, nil
		}

		// the job itself is being torn down; don't burn the remaining candidates
		if ctx.Err() != nil {
			return outcome, ctx.Err()
		}

		kind := stage.Classify(err)
		outcome.Attempts = append(outcome.Attempts, Attempt{
			Backend:  c.Name,
			Kind:     kind,
			Err:      err,
			Duration: time.Since(start),
		})
		log.Warn("stage backend failed", "backend", c.Name, "kind", kind, "error", err)
	}

	if fallback != nil {
		out, err := runFallback(ctx, fallback, in)
		if err == nil {
			log.Warn("stage degraded to fallback", "attempts", len(outcome.Attempts))
			outcome.Output = out
			outcome.Backend = "fallback"
			outcome.Degraded = true
			return outcome, nil
		}
		log.Error("stage fallback failed", "error", err)
		return outcome, &stage.Error{Kind: stage.KindFatal, Stage: name, Err: fmt.Errorf("fallback failed: %w", err)}
	}

	return outcome, &stage.Error{
		Kind:  stage.KindFatal,
		Stage: name,
		Err:   fmt.Errorf("%w (%s)", stage.ErrExhausted, summarize(outcome.Attempts)),
	}
}

func (s *Selector) attempt(ctx context.Context, c Candidate, in *stage.Input) (*stage.Output, error) {
	actx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	type result struct {
		out *stage.Output
		err error
	}
	ch := make(chan result, 1)

	// A hung backend keeps its goroutine until it returns, but the stage
	// moves on as soon as the time box closes.
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("backend panic: %v", r)}
			}
		}()
		out, err := c.Backend.Execute(actx, in)
		ch <- result{out: out, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		if r.out == nil {
			return nil, stage.Malformedf("backend returned no output")
		}
		return r.out, nil
	case <-actx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &stage.Error{Kind: stage.KindTimeout, Backend: c.Name, Err: fmt.Errorf("no result within %v", c.Timeout)}
	}
}

func runFallback(ctx context.Context, fb Fallback, in *stage.Input) (out *stage.Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fallback panic: %v", r)
		}
	}()
	out, err = fb(ctx, in)
	if err == nil && out == nil {
		err = errors.New("fallback returned no output")
	}
	return out, err
}

func summarize(attempts []Attempt) string {
	if len(attempts) == 0 {
		return "no backends configured"
	}
	parts := make([]string, len(attempts))
	for i, a := range attempts {
		parts[i] = a.Backend + ": " + string(a.Kind)
	}
	return strings.Join(parts, ", ")
}
