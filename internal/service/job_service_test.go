package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/makeasinger/genreswap/internal/archive"
	"github.com/makeasinger/genreswap/internal/logging"
	"github.com/makeasinger/genreswap/internal/model"
	"github.com/makeasinger/genreswap/internal/registry"
)

type recordingDispatcher struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.ids = append(d.ids, id)
	return nil
}

func newService(t *testing.T, d Dispatcher, hist History) (*JobService, *registry.MemoryRegistry) {
	t.Helper()
	reg := registry.NewMemoryRegistry(registry.Options{Logger: logging.Discard()})
	return NewJobService(reg, d, JobServiceOptions{History: hist, Logger: logging.Discard()}), reg
}

func TestSubmit_ReturnsHandleAndDispatches(t *testing.T) {
	d := &recordingDispatcher{}
	svc, reg := newService(t, d, nil)

	off := false
	resp, err := svc.Submit(context.Background(), &model.SubmitRequest{
		Source:      " http://x/a.wav ",
		TargetGenre: "Rock!",
		Options:     &model.JobOptions{KaraokeMode: &off, Prompt: "  heavy  "},
	}, "user-1")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if resp.JobID == "" || resp.StatusURL != "/api/jobs/"+resp.JobID || resp.Status != model.JobStatusPending {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(d.ids) != 1 || d.ids[0] != resp.JobID {
		t.Fatalf("dispatched %v", d.ids)
	}

	job, err := reg.Get(context.Background(), resp.JobID)
	if err != nil {
		t.Fatal(err)
	}
	p := job.Params
	if p.Source != "http://x/a.wav" || p.TargetGenre != "rock" || p.UserID != "user-1" || p.KaraokeEnabled() || p.Options.Prompt != "heavy" {
		t.Fatalf("params not normalised: %+v", p)
	}
}

func TestSubmit_InvalidCreatesNoJob(t *testing.T) {
	d := &recordingDispatcher{}
	svc, reg := newService(t, d, nil)

	cases := []*model.SubmitRequest{
		nil,
		{Source: "", TargetGenre: "rock"},
		{Source: "http://x/a.wav", TargetGenre: ""},
		{Source: "http://x/a.wav", TargetGenre: "not-a-genre"},
	}
	for i, req := range cases {
		_, err := svc.Submit(context.Background(), req, "")
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("case %d: expected ValidationError, got %v", i, err)
		}
	}
	active, _ := reg.ListActive(context.Background())
	if len(active) != 0 || len(d.ids) != 0 {
		t.Fatalf("invalid requests created %d jobs", len(active))
	}
}

func TestSubmit_DispatchFailureFailsJob(t *testing.T) {
	d := &recordingDispatcher{err: errors.New("queue down")}
	svc, reg := newService(t, d, nil)

	resp, err := svc.Submit(context.Background(), &model.SubmitRequest{Source: "a", TargetGenre: "jazz"}, "")
	if err == nil {
		t.Fatal("expected dispatch error")
	}
	active, _ := reg.ListActive(context.Background())
	if len(active) != 0 {
		t.Fatalf("job left active after dispatch failure: %+v", active[0])
	}
	if resp == nil || resp.Status != model.JobStatusFailed {
		t.Fatalf("expected the failed job's handle, got %+v", resp)
	}
	v, err := svc.GetStatus(context.Background(), resp.JobID)
	if err != nil || v.Status != model.JobStatusFailed || v.Error == nil {
		t.Fatalf("handle does not resolve to the failed job: %+v, %v", v, err)
	}
}

func TestGetStatus_RepeatedReadsAreIdentical(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	hist := archive.NewMemory(10)
	reg := registry.NewMemoryRegistry(registry.Options{
		Logger:    logging.Discard(),
		Now:       func() time.Time { return now },
		Publisher: hist,
	})
	svc := NewJobService(reg, &recordingDispatcher{}, JobServiceOptions{History: hist, Logger: logging.Discard()})

	resp, err := svc.Submit(ctx, &model.SubmitRequest{Source: "http://x/a.wav", TargetGenre: "rock"}, "")
	if err != nil {
		t.Fatal(err)
	}
	read := func() model.JobView {
		t.Helper()
		v, err := svc.GetStatus(ctx, resp.JobID)
		if err != nil {
			t.Fatalf("GetStatus: %v", err)
		}
		return *v
	}

	if a, b := read(), read(); !reflect.DeepEqual(a, b) {
		t.Fatalf("pending reads differ:\n%+v\n%+v", a, b)
	}

	msg := "separate-stems failed: boom"
	reg.Replace(ctx, resp.JobID, func(j *model.Job) error {
		j.Status = model.JobStatusProcessing
		j.Progress = 30
		return nil
	})
	reg.Replace(ctx, resp.JobID, func(j *model.Job) error {
		j.Status = model.JobStatusFailed
		j.Error = &msg
		return nil
	})
	live := read()
	if again := read(); !reflect.DeepEqual(live, again) {
		t.Fatalf("terminal reads differ:\n%+v\n%+v", live, again)
	}

	// once evicted, reads are served from the archive and still agree
	now = now.Add(time.Hour)
	if n, err := reg.EvictTerminalOlderThan(ctx, time.Minute); err != nil || n != 1 {
		t.Fatalf("evicted %d, %v", n, err)
	}
	if _, err := reg.Get(ctx, resp.JobID); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("job still in registry: %v", err)
	}
	archived := read()
	if again := read(); !reflect.DeepEqual(archived, again) {
		t.Fatalf("archived reads differ:\n%+v\n%+v", archived, again)
	}
	if !reflect.DeepEqual(live, archived) {
		t.Fatalf("archived view differs from the last live view:\n%+v\n%+v", live, archived)
	}
}

func TestGetStatus_NotFoundAndHistory(t *testing.T) {
	hist := archive.NewMemory(10)
	svc, _ := newService(t, &recordingDispatcher{}, hist)

	if _, err := svc.GetStatus(context.Background(), "nope"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	hist.Publish(context.Background(), model.JobView{ID: "old", Status: model.JobStatusCompleted})
	v, err := svc.GetStatus(context.Background(), "old")
	if err != nil || v.ID != "old" {
		t.Fatalf("history lookup = %+v, %v", v, err)
	}
}

func TestList_ActiveThenHistory(t *testing.T) {
	hist := archive.NewMemory(10)
	svc, _ := newService(t, &recordingDispatcher{}, hist)

	resp, err := svc.Submit(context.Background(), &model.SubmitRequest{Source: "a", TargetGenre: "pop"}, "")
	if err != nil {
		t.Fatal(err)
	}
	hist.Publish(context.Background(), model.JobView{ID: "done", Status: model.JobStatusFailed})

	views, _ := svc.List(context.Background(), false)
	if len(views) != 1 || views[0].ID != resp.JobID {
		t.Fatalf("active list = %+v", views)
	}
	views, _ = svc.List(context.Background(), true)
	if len(views) != 2 || views[1].ID != "done" {
		t.Fatalf("list with history = %+v", views)
	}
}

func TestSubmit_ConcurrentIsolation(t *testing.T) {
	d := &recordingDispatcher{}
	svc, reg := newService(t, d, nil)

	const n = 100
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := svc.Submit(context.Background(), &model.SubmitRequest{
				Source:      fmt.Sprintf("http://x/%d.wav", i),
				TargetGenre: "rock",
			}, "")
			if err != nil {
				t.Error(err)
				return
			}
			ids[i] = resp.JobID
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for i, id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
		job, err := reg.Get(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		if want := fmt.Sprintf("http://x/%d.wav", i); job.Params.Source != want {
			t.Fatalf("job %s source %s, want %s", id, job.Params.Source, want)
		}
	}
}

type blockingRunner struct {
	running atomic.Int32
	peak    atomic.Int32
	release chan struct{}
	done    chan string
}

func (r *blockingRunner) Run(ctx context.Context, id string) error {
	n := r.running.Add(1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			break
		}
	}
	select {
	case <-r.release:
	case <-ctx.Done():
	}
	r.running.Add(-1)
	r.done <- id
	return nil
}

func TestInProcessDispatcher_ReturnsImmediatelyAndBounds(t *testing.T) {
	r := &blockingRunner{release: make(chan struct{}), done: make(chan string, 10)}
	d := NewInProcessDispatcher(context.Background(), r, 2, logging.Discard())

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := d.Dispatch(context.Background(), fmt.Sprint(i)); err != nil {
			t.Fatal(err)
		}
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("Dispatch waited for the runner")
	}

	time.Sleep(50 * time.Millisecond)
	if got := r.running.Load(); got != 2 {
		t.Fatalf("running = %d, want 2", got)
	}
	close(r.release)
	for i := 0; i < 5; i++ {
		<-r.done
	}
	if r.peak.Load() > 2 {
		t.Fatalf("peak concurrency %d exceeded limit", r.peak.Load())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if err := d.Dispatch(context.Background(), "late"); !errors.Is(err, ErrDispatcherClosed) {
		t.Fatalf("expected ErrDispatcherClosed, got %v", err)
	}
}

type countingTrimmer struct{ calls atomic.Int32 }

func (c *countingTrimmer) Trim(context.Context) (int64, error) {
	c.calls.Add(1)
	return 0, nil
}

func TestJanitor_SweepEvictsTerminal(t *testing.T) {
	now := time.Now()
	reg := registry.NewMemoryRegistry(registry.Options{
		Logger: logging.Discard(),
		Now:    func() time.Time { return now },
	})
	job, _ := reg.Create(context.Background(), model.JobParams{Source: "a", TargetGenre: "rock"})
	msg := "boom"
	reg.Replace(context.Background(), job.ID, func(j *model.Job) error {
		j.Status = model.JobStatusFailed
		j.Error = &msg
		return nil
	})

	trim := &countingTrimmer{}
	jan := NewJanitor(reg, trim, time.Minute, time.Minute, logging.Discard())

	jan.Sweep(context.Background())
	if _, err := reg.Get(context.Background(), job.ID); err != nil {
		t.Fatal("job evicted before retention elapsed")
	}

	now = now.Add(2 * time.Minute)
	jan.Sweep(context.Background())
	if _, err := reg.Get(context.Background(), job.ID); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected eviction, got %v", err)
	}
	if trim.calls.Load() != 2 {
		t.Fatalf("trim calls = %d", trim.calls.Load())
	}
}
