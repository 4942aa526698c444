package selector

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/makeasinger/genreswap/internal/logging"
	"github.com/makeasinger/genreswap/internal/model"
	"github.com/makeasinger/genreswap/internal/stage"
)

type fakeBackend struct {
	name       string
	configured bool
	calls      atomic.Int32
	fn         func(ctx context.Context) (*stage.Output, error)
}

func (f *fakeBackend) Name() string       { return f.name }
func (f *fakeBackend) IsConfigured() bool { return f.configured }
func (f *fakeBackend) Execute(ctx context.Context, _ *stage.Input) (*stage.Output, error) {
	f.calls.Add(1)
	return f.fn(ctx)
}

func ok(path string) func(context.Context) (*stage.Output, error) {
	return func(context.Context) (*stage.Output, error) {
		return &stage.Output{Artifacts: []model.Artifact{{Kind: model.ArtifactBacking, Path: path}}}, nil
	}
}

func fail(err error) func(context.Context) (*stage.Output, error) {
	return func(context.Context) (*stage.Output, error) { return nil, err }
}

func hang(ctx context.Context) (*stage.Output, error) {
	<-ctx.Done()
	time.Sleep(50 * time.Millisecond)
	return nil, ctx.Err()
}

func candidates(timeout time.Duration, backends ...*fakeBackend) []Candidate {
	out := make([]Candidate, len(backends))
	for i, b := range backends {
		out[i] = Candidate{Name: b.name, Timeout: timeout, Backend: b}
	}
	return out
}

func newSelector(list []Candidate) *Selector {
	return NewFromCandidates(map[stage.Name][]Candidate{stage.GenerateBacking: list}, logging.Discard())
}

func input() *stage.Input {
	return &stage.Input{JobID: "job-1"}
}

func passthrough(_ context.Context, _ *stage.Input) (*stage.Output, error) {
	return &stage.Output{Artifacts: []model.Artifact{{Kind: model.ArtifactBacking, Path: "source.wav"}}}, nil
}

func TestExecute_FirstSuccessWins(t *testing.T) {
	a := &fakeBackend{name: "a", fn: ok("a.wav")}
	b := &fakeBackend{name: "b", fn: ok("b.wav")}
	s := newSelector(candidates(time.Second, a, b))

	out, err := s.Execute(context.Background(), stage.GenerateBacking, input(), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Backend != "a" || out.Degraded {
		t.Errorf("unexpected outcome %+v", out)
	}
	if b.calls.Load() != 0 {
		t.Error("second candidate must not run after a success")
	}
}

func TestExecute_AdvancesOnErrorTimeoutPanicAndNil(t *testing.T) {
	erroring := &fakeBackend{name: "erroring", fn: fail(stage.Unavailable(errors.New("no token")))}
	hung := &fakeBackend{name: "hung", fn: hang}
	panicking := &fakeBackend{name: "panicking", fn: func(context.Context) (*stage.Output, error) { panic("boom") }}
	empty := &fakeBackend{name: "empty", fn: func(context.Context) (*stage.Output, error) { return nil, nil }}
	good := &fakeBackend{name: "good", fn: ok("good.wav")}

	s := newSelector(candidates(100*time.Millisecond, erroring, hung, panicking, empty, good))

	start := time.Now()
	out, err := s.Execute(context.Background(), stage.GenerateBacking, input(), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Backend != "good" {
		t.Errorf("expected good backend, got %s", out.Backend)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("hung backend blocked stage progression")
	}

	wantKinds := []stage.Kind{stage.KindUnavailable, stage.KindTimeout, stage.KindUpstream, stage.KindMalformed}
	if len(out.Attempts) != len(wantKinds) {
		t.Fatalf("expected %d failed attempts, got %d", len(wantKinds), len(out.Attempts))
	}
	for i, want := range wantKinds {
		if out.Attempts[i].Kind != want {
			t.Errorf("attempt %d (%s): expected %s, got %s", i, out.Attempts[i].Backend, want, out.Attempts[i].Kind)
		}
	}
	for _, b := range []*fakeBackend{erroring, hung, panicking, empty, good} {
		if b.calls.Load() != 1 {
			t.Errorf("%s called %d times, want exactly once", b.name, b.calls.Load())
		}
	}
}

func TestExecute_ExhaustedMandatoryIsFatal(t *testing.T) {
	a := &fakeBackend{name: "a", fn: fail(errors.New("500"))}
	s := newSelector(candidates(time.Second, a))

	_, err := s.Execute(context.Background(), stage.GenerateBacking, input(), nil)
	var se *stage.Error
	if !errors.As(err, &se) || se.Kind != stage.KindFatal {
		t.Fatalf("expected fatal stage error, got %v", err)
	}
	if !errors.Is(err, stage.ErrExhausted) {
		t.Error("expected ErrExhausted in chain")
	}
}

func TestExecute_ExhaustedDegradableFallsBack(t *testing.T) {
	a := &fakeBackend{name: "a", fn: fail(errors.New("500"))}
	s := newSelector(candidates(time.Second, a))

	out, err := s.Execute(context.Background(), stage.GenerateBacking, input(), passthrough)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !out.Degraded || out.Backend != "fallback" {
		t.Errorf("expected degraded fallback outcome, got %+v", out)
	}
	if out.Output.Artifacts[0].Path != "source.wav" {
		t.Error("expected passthrough artifact")
	}
}

func TestExecute_NoCandidates(t *testing.T) {
	s := newSelector(nil)

	out, err := s.Execute(context.Background(), stage.GenerateBacking, input(), passthrough)
	if err != nil || !out.Degraded {
		t.Fatalf("expected degraded outcome with zero candidates, got %+v, %v", out, err)
	}

	_, err = s.Execute(context.Background(), stage.GenerateBacking, input(), nil)
	if !errors.Is(err, stage.ErrExhausted) {
		t.Fatalf("expected exhaustion without fallback, got %v", err)
	}
}

func TestExecute_ParentCancelStopsSearch(t *testing.T) {
	hung := &fakeBackend{name: "hung", fn: hang}
	next := &fakeBackend{name: "next", fn: ok("x")}
	s := newSelector(candidates(time.Minute, hung, next))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := s.Execute(ctx, stage.GenerateBacking, input(), passthrough)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if next.calls.Load() != 0 {
		t.Error("no further candidates should run after cancellation")
	}
}

func TestNew_ResolvesConfiguredOrder(t *testing.T) {
	local := &fakeBackend{name: "localml", configured: false, fn: ok("x")}
	hosted := &fakeBackend{name: "replicate", configured: true, fn: ok("x")}
	catalog := Catalog{
		stage.SeparateStems: {"localml": local, "replicate": hosted},
	}
	order := map[stage.Name][]string{
		stage.SeparateStems: {"localml", "unknown", "replicate"},
	}

	s := New(order, map[stage.Name]time.Duration{stage.SeparateStems: time.Second}, catalog, logging.Discard())

	got := s.Resolve(stage.SeparateStems)
	if len(got) != 1 || got[0].Name != "replicate" || got[0].Timeout != time.Second {
		t.Fatalf("unexpected candidates %+v", got)
	}

	got[0].Name = "mutated"
	if s.Resolve(stage.SeparateStems)[0].Name != "replicate" {
		t.Error("Resolve must return a copy")
	}
	if names := s.Describe()[stage.SeparateStems]; len(names) != 1 {
		t.Errorf("unexpected describe output %v", names)
	}
}
