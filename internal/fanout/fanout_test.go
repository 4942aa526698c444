package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/makeasinger/genreswap/internal/logging"
	"github.com/makeasinger/genreswap/internal/model"
	"github.com/makeasinger/genreswap/internal/registry"
)

type frame struct {
	typ  int
	data []byte
}

// fakeConn feeds ReadMessage from in and records writes on out.
type fakeConn struct {
	in    chan []byte
	out   chan frame
	block chan struct{} // when non-nil, writes wait on it

	once   sync.Once
	closed chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 8),
		out:    make(chan frame, 512),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-c.in:
		return websocket.TextMessage, msg, nil
	case <-c.closed:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}
}

func (c *fakeConn) WriteMessage(typ int, data []byte) error {
	if c.block != nil {
		select {
		case <-c.block:
		case <-c.closed:
			return errors.New("closed")
		}
	}
	select {
	case <-c.closed:
		return errors.New("closed")
	default:
	}
	c.out <- frame{typ: typ, data: data}
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) next(t *testing.T) frame {
	t.Helper()
	select {
	case f := <-c.out:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return frame{}
	}
}

func (c *fakeConn) nextUpdate(t *testing.T) model.WSJobUpdateMessage {
	t.Helper()
	for {
		f := c.next(t)
		if f.typ != websocket.TextMessage {
			continue
		}
		var msg model.WSJobUpdateMessage
		if err := json.Unmarshal(f.data, &msg); err != nil {
			t.Fatalf("bad frame %s: %v", f.data, err)
		}
		return msg
	}
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub(time.Second, logging.Discard())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

var (
	epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ticks atomic.Int64
)

// view returns a snapshot newer than every view built before it.
func view(id string, progress int) model.JobView {
	return model.JobView{
		ID:        id,
		Status:    model.JobStatusProcessing,
		Progress:  progress,
		Log:       []model.StageLogEntry{},
		UpdatedAt: epoch.Add(time.Duration(ticks.Add(1)) * time.Millisecond),
	}
}

func TestHub_SnapshotThenUpdatesInOrder(t *testing.T) {
	h := startHub(t)
	conn := newFakeConn()

	go h.HandleConnection(conn, "job-1", func() ([]model.JobView, error) {
		return []model.JobView{view("job-1", 10)}, nil
	})

	if got := conn.nextUpdate(t); got.JobID != "job-1" || got.Job.Progress != 10 {
		t.Fatalf("first frame = %+v", got)
	}
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	h.Publish(context.Background(), view("other", 50))
	for p := 20; p <= 40; p += 10 {
		h.Publish(context.Background(), view("job-1", p))
	}
	for p := 20; p <= 40; p += 10 {
		if got := conn.nextUpdate(t); got.JobID != "job-1" || got.Job.Progress != p {
			t.Fatalf("expected job-1 progress %d, got %+v", p, got)
		}
	}

	conn.Close()
	waitFor(t, func() bool { return h.ClientCount() == 0 })
}

func TestHub_UpdatesQueuedDuringSnapshotAreNotReplayed(t *testing.T) {
	h := startHub(t)
	conn := newFakeConn()

	go h.HandleConnection(conn, "job-1", func() ([]model.JobView, error) {
		// the job moves on while the snapshot is being read
		h.Publish(context.Background(), view("job-1", 30))
		latest := view("job-1", 55)
		h.Publish(context.Background(), latest)
		return []model.JobView{latest}, nil
	})

	if got := conn.nextUpdate(t); got.Job.Progress != 55 {
		t.Fatalf("snapshot progress = %d, want 55", got.Job.Progress)
	}
	h.Publish(context.Background(), view("job-1", 80))

	var progress []int
	for {
		got := conn.nextUpdate(t)
		progress = append(progress, got.Job.Progress)
		if got.Job.Progress == 80 {
			break
		}
	}
	if len(progress) != 1 {
		t.Fatalf("observer saw progress %v after the snapshot, want [80]", progress)
	}
	conn.Close()
}

func TestHub_AllJobsSubscriber(t *testing.T) {
	h := startHub(t)
	conn := newFakeConn()
	go h.HandleConnection(conn, AllJobs, func() ([]model.JobView, error) { return nil, nil })
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	h.Publish(context.Background(), view("a", 1))
	h.Publish(context.Background(), view("b", 2))

	if got := conn.nextUpdate(t); got.JobID != "a" {
		t.Fatalf("got %+v", got)
	}
	if got := conn.nextUpdate(t); got.JobID != "b" {
		t.Fatalf("got %+v", got)
	}
	conn.Close()
}

func TestHub_UnknownJobClosesWithError(t *testing.T) {
	h := startHub(t)
	conn := newFakeConn()

	done := make(chan struct{})
	go func() {
		h.HandleConnection(conn, "missing", func() ([]model.JobView, error) { return nil, registry.ErrNotFound })
		close(done)
	}()

	f := conn.next(t)
	var msg model.WSErrorMessage
	if err := json.Unmarshal(f.data, &msg); err != nil || msg.Type != model.WSMessageTypeError || msg.Error.Code != model.WSErrorNotFound {
		t.Fatalf("error frame = %s (%v)", f.data, err)
	}
	if f := conn.next(t); f.typ != websocket.CloseMessage {
		t.Fatalf("expected close frame, got type %d", f.typ)
	}
	<-done
	waitFor(t, func() bool { return h.ClientCount() == 0 })
}

func TestHub_PingPong(t *testing.T) {
	h := startHub(t)
	conn := newFakeConn()
	go h.HandleConnection(conn, "job-1", func() ([]model.JobView, error) { return nil, nil })

	conn.in <- []byte(`{"type":"ping"}`)
	f := conn.next(t)
	var msg model.WSMessage
	json.Unmarshal(f.data, &msg)
	if msg.Type != model.WSMessageTypePong {
		t.Fatalf("expected pong, got %s", f.data)
	}
	conn.Close()
}

func TestHub_SlowClientIsDroppedWithoutBlockingPublish(t *testing.T) {
	h := startHub(t)
	slow := newFakeConn()
	slow.block = make(chan struct{})
	fast := newFakeConn()

	go h.HandleConnection(slow, "job-1", func() ([]model.JobView, error) { return nil, nil })
	go h.HandleConnection(fast, "job-1", func() ([]model.JobView, error) { return nil, nil })
	waitFor(t, func() bool { return h.ClientCount() == 2 })

	// drain the fast client concurrently so only the slow one backs up
	received := make(chan int, 1)
	go func() {
		n := 0
		for f := range fast.out {
			if f.typ == websocket.TextMessage {
				n++
				if n == 200 {
					received <- n
					return
				}
			}
		}
	}()

	start := time.Now()
	for i := 0; i < 200; i++ {
		h.Publish(context.Background(), view("job-1", i%100))
		if i%50 == 0 {
			time.Sleep(10 * time.Millisecond)
		}
	}
	if time.Since(start) > time.Second {
		t.Fatal("Publish blocked on a slow client")
	}

	waitFor(t, func() bool { return h.ClientCount() == 1 })
	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("fast client did not receive every update")
	}
	close(slow.block)
	fast.Close()
}

func TestHub_StopClosesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub(time.Second, logging.Discard())
	go h.Run(ctx)

	conn := newFakeConn()
	done := make(chan struct{})
	go func() {
		h.HandleConnection(conn, "job-1", func() ([]model.JobView, error) { return nil, nil })
		close(done)
	}()
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("connection handler did not return after hub stop")
	}

	// late registrations are refused rather than hanging
	if h.Register(&Client{JobID: "x", Send: make(chan *BroadcastMessage, 1)}) {
		t.Fatal("register succeeded on a stopped hub")
	}
}

type sink struct {
	mu    sync.Mutex
	views []model.JobView
}

func (s *sink) Publish(_ context.Context, v model.JobView) {
	s.mu.Lock()
	s.views = append(s.views, v)
	s.mu.Unlock()
}

func (s *sink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.views)
}

func TestMultiAndTerminalOnly(t *testing.T) {
	all, terminal := &sink{}, &sink{}
	p := Multi{all, TerminalOnly(terminal), nil}

	p.Publish(context.Background(), view("a", 10))
	done := view("a", 100)
	done.Status = model.JobStatusCompleted
	p.Publish(context.Background(), done)

	if all.len() != 2 || terminal.len() != 1 {
		t.Fatalf("all=%d terminal=%d", all.len(), terminal.len())
	}
}

func TestAsync_DrainsOnShutdown(t *testing.T) {
	s := &sink{}
	a := NewAsync("test", s, 16, logging.Discard())
	for i := 0; i < 10; i++ {
		a.Publish(context.Background(), view("a", i))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a.Run(ctx)

	<-a.Done()
	if s.len() != 10 {
		t.Fatalf("drained %d views, want 10", s.len())
	}
	for i, v := range s.views {
		if v.Progress != i {
			t.Fatalf("out of order at %d: %d", i, v.Progress)
		}
	}
}

func TestAsync_FullQueueDrops(t *testing.T) {
	s := &sink{}
	a := NewAsync("test", s, 2, logging.Discard())
	for i := 0; i < 5; i++ {
		a.Publish(context.Background(), view("a", i))
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a.Run(ctx)
	if s.len() != 2 {
		t.Fatalf("expected the 2 queued views, got %d", s.len())
	}
}

func TestRoutingKey(t *testing.T) {
	v := view("a", 100)
	v.Status = model.JobStatusFailed
	if RoutingKey(v) != "job.failed" {
		t.Fatalf("routing key = %s", RoutingKey(v))
	}
}

func TestRedisRelay(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	defer rdb.Close()

	relay := NewRedisRelay(rdb, "genreswap:test:"+time.Now().Format("150405.000000"), logging.Discard())
	s := &sink{}

	subCtx, stop := context.WithCancel(ctx)
	defer stop()
	go relay.Subscribe(subCtx, s)

	// publish until the subscription is live
	waitFor(t, func() bool {
		relay.Publish(ctx, view("relayed", 42))
		return s.len() > 0
	})
	s.mu.Lock()
	got := s.views[0]
	s.mu.Unlock()
	if got.ID != "relayed" || got.Progress != 42 {
		t.Fatalf("relayed view = %+v", got)
	}
}
