package jobclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/fasthttp/websocket"

	"github.com/makeasinger/genreswap/pkg/api"
)

// the server pings every 30s
const readTimeout = 75 * time.Second

// Watch streams views of a job until it reaches a terminal state, the job
// is unknown, or ctx is done; then the channel is closed. Views arrive in
// updatedAt order and redeliveries are dropped.
func (c *Client) Watch(ctx context.Context, jobID string) <-chan api.JobView {
	out := make(chan api.JobView, 16)
	w := &watcher{c: c, jobID: jobID, out: out}
	go func() {
		defer close(out)
		w.run(ctx)
	}()
	return out
}

type watcher struct {
	c     *Client
	jobID string
	out   chan<- api.JobView
	last  time.Time
}

// emit forwards v unless it is stale. done reports that watching is over.
func (w *watcher) emit(ctx context.Context, v api.JobView) (done bool) {
	if !w.last.IsZero() && !v.UpdatedAt.After(w.last) {
		return false
	}
	w.last = v.UpdatedAt
	select {
	case w.out <- v:
	case <-ctx.Done():
		return true
	}
	return v.Status.IsTerminal()
}

func (w *watcher) run(ctx context.Context) {
	backoff := w.c.minBackoff
	for ctx.Err() == nil {
		connected, done := w.stream(ctx)
		if done {
			return
		}
		if connected {
			backoff = w.c.minBackoff
		}

		if w.pollUntil(ctx, time.Now().Add(backoff)) {
			return
		}
		backoff *= 2
		if backoff > w.c.maxBackoff {
			backoff = w.c.maxBackoff
		}
	}
}

// stream follows the push channel until it drops.
func (w *watcher) stream(ctx context.Context) (connected, done bool) {
	wsURL, err := w.c.wsURL(w.jobID)
	if err != nil {
		w.c.logger.Warn("bad websocket url", "error", err)
		return false, false
	}
	header := http.Header{}
	if w.c.token != "" {
		header.Set("Authorization", "Bearer "+w.c.token)
	}

	conn, _, err := w.c.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		w.c.logger.Debug("websocket unavailable, polling", "job_id", w.jobID, "error", err)
		return false, false
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, true
			}
			w.c.logger.Debug("websocket dropped", "job_id", w.jobID, "error", err)
			return true, false
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		var head api.WSMessage
		if err := json.Unmarshal(data, &head); err != nil {
			continue
		}
		switch head.Type {
		case api.WSMessageTypeJobUpdate:
			var msg api.WSJobUpdateMessage
			if err := json.Unmarshal(data, &msg); err != nil || msg.JobID != w.jobID {
				continue
			}
			if w.emit(ctx, msg.Job) {
				return true, true
			}
		case api.WSMessageTypeError:
			var msg api.WSErrorMessage
			_ = json.Unmarshal(data, &msg)
			if msg.Error.Code == api.WSErrorNotFound {
				return true, true
			}
		}
	}
}

// pollUntil polls Status until deadline. It polls once immediately so
// that a dropped push channel never hides a transition.
func (w *watcher) pollUntil(ctx context.Context, deadline time.Time) (done bool) {
	ticker := time.NewTicker(w.c.pollInterval)
	defer ticker.Stop()
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	for {
		v, err := w.c.Status(ctx, w.jobID)
		switch {
		case errors.Is(err, ErrNotFound):
			return true
		case err != nil:
			if ctx.Err() != nil {
				return true
			}
			w.c.logger.Debug("status poll failed", "job_id", w.jobID, "error", err)
		default:
			if w.emit(ctx, *v) {
				return true
			}
		}

		select {
		case <-ctx.Done():
			return true
		case <-timer.C:
			return false
		case <-ticker.C:
		}
	}
}
