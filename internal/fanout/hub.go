// Package fanout delivers job snapshots to observers: websocket clients
// through the Hub, other processes through the redis relay, and downstream
// consumers through the AMQP sink.
package fanout

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/fasthttp/websocket"

	"github.com/makeasinger/genreswap/internal/model"
)

const (
	pingInterval     = 30 * time.Second
	clientBufferSize = 64
	broadcastBuffer  = 1024
)

// AllJobs is the subscription key for observers of every job.
const AllJobs = ""

// Conn is the part of a websocket connection the hub uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Client represents a WebSocket client
type Client struct {
	JobID string
	Send  chan *BroadcastMessage
}

// Hub maintains active WebSocket connections. The Run loop owns the
// subscription table; everything else talks to it through channels.
type Hub struct {
	clients map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage
	stopped    chan struct{}

	writeTimeout time.Duration
	logger       *slog.Logger

	mu    sync.Mutex
	count int
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	JobID     string
	UpdatedAt time.Time
	Message   []byte
}

// NewHub creates a new Hub. A client whose write does not complete within
// writeTimeout is disconnected.
func NewHub(writeTimeout time.Duration, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &Hub{
		clients:      make(map[string]map[*Client]struct{}),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		broadcast:    make(chan *BroadcastMessage, broadcastBuffer),
		stopped:      make(chan struct{}),
		writeTimeout: writeTimeout,
		logger:       logger.With("component", "hub"),
	}
}

// Run starts the hub's main loop and blocks until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case <-ctx.Done():
			for _, clients := range h.clients {
				for client := range clients {
					close(client.Send)
				}
			}
			h.clients = map[string]map[*Client]struct{}{}
			h.setCount(0)
			return

		case client := <-h.register:
			if h.clients[client.JobID] == nil {
				h.clients[client.JobID] = make(map[*Client]struct{})
			}
			h.clients[client.JobID][client] = struct{}{}
			h.setCount(h.count + 1)
			h.logger.Debug("client registered", "job_id", client.JobID)

		case client := <-h.unregister:
			h.remove(client)

		case msg := <-h.broadcast:
			h.deliver(h.clients[msg.JobID], msg)
			if msg.JobID != AllJobs {
				h.deliver(h.clients[AllJobs], msg)
			}
		}
	}
}

// deliver never blocks: a client that cannot keep up is dropped and has to
// resynchronise by polling.
func (h *Hub) deliver(clients map[*Client]struct{}, msg *BroadcastMessage) {
	for client := range clients {
		select {
		case client.Send <- msg:
		default:
			h.logger.Warn("dropping slow client", "job_id", client.JobID)
			h.remove(client)
		}
	}
}

func (h *Hub) remove(client *Client) {
	clients, ok := h.clients[client.JobID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.Send)
	if len(clients) == 0 {
		delete(h.clients, client.JobID)
	}
	h.setCount(h.count - 1)
	h.logger.Debug("client unregistered", "job_id", client.JobID)
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}

// ClientCount reports the number of connected observers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Register adds a new client. It returns false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.stopped:
		return false
	}
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.stopped:
	}
}

// Publish implements registry.Publisher. It must not block the registry,
// so a full broadcast queue drops the update; the registry still holds the
// latest state for pollers.
func (h *Hub) Publish(_ context.Context, view model.JobView) {
	data, err := json.Marshal(model.WSJobUpdateMessage{
		Type:  model.WSMessageTypeJobUpdate,
		JobID: view.ID,
		Job:   view,
	})
	if err != nil {
		h.logger.Error("failed to marshal job update", "job_id", view.ID, "error", err)
		return
	}

	select {
	case h.broadcast <- &BroadcastMessage{JobID: view.ID, UpdatedAt: view.UpdatedAt, Message: data}:
	default:
		h.logger.Warn("broadcast queue full, update dropped", "job_id", view.ID)
	}
}

// HandleConnection serves one websocket observer of jobID (AllJobs for
// every job). initial is called after the client is subscribed, so no
// update published after it can be missed; its snapshots are written
// before any queued update, and queued updates not newer than what the
// observer has already seen for that job are dropped.
func (h *Hub) HandleConnection(c Conn, jobID string, initial func() ([]model.JobView, error)) {
	defer c.Close()

	client := &Client{JobID: jobID, Send: make(chan *BroadcastMessage, clientBufferSize)}
	if !h.Register(client) {
		return
	}
	defer h.Unregister(client)

	var first [][]byte
	seen := make(map[string]time.Time)
	views, err := initial()
	if err != nil {
		data, _ := json.Marshal(model.WSErrorMessage{
			Type:  model.WSMessageTypeError,
			JobID: jobID,
			Error: model.WSError{Code: model.WSErrorNotFound, Message: err.Error()},
		})
		h.write(c, websocket.TextMessage, data)
		h.write(c, websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown job"))
		return
	}
	for _, v := range views {
		data, err := json.Marshal(model.WSJobUpdateMessage{Type: model.WSMessageTypeJobUpdate, JobID: v.ID, Job: v})
		if err == nil {
			first = append(first, data)
			seen[v.ID] = v.UpdatedAt
		}
	}

	pongs := make(chan []byte, 4)
	quit := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		// closing the conn unblocks the reader below
		defer c.Close()
		h.writePump(c, client, first, seen, pongs, quit)
	}()

	h.readPump(c, jobID, pongs)
	close(quit)
	<-writerDone
}

func (h *Hub) write(c Conn, messageType int, data []byte) error {
	if err := c.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err != nil {
		return err
	}
	return c.WriteMessage(messageType, data)
}

// writePump is the only writer of c. seen holds the newest updatedAt
// written per job.
func (h *Hub) writePump(c Conn, client *Client, first [][]byte, seen map[string]time.Time, pongs <-chan []byte, quit <-chan struct{}) {
	for _, data := range first {
		if err := h.write(c, websocket.TextMessage, data); err != nil {
			return
		}
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.Send:
			if !ok {
				h.write(c, websocket.CloseMessage, []byte{})
				return
			}
			if last, ok := seen[msg.JobID]; ok && !msg.UpdatedAt.After(last) {
				continue
			}
			seen[msg.JobID] = msg.UpdatedAt
			if err := h.write(c, websocket.TextMessage, msg.Message); err != nil {
				h.logger.Debug("write failed", "job_id", client.JobID, "error", err)
				return
			}

		case data := <-pongs:
			if err := h.write(c, websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			if err := h.write(c, websocket.PingMessage, nil); err != nil {
				return
			}

		case <-quit:
			return
		}
	}
}

func (h *Hub) readPump(c Conn, jobID string, pongs chan<- []byte) {
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("websocket read error", "job_id", jobID, "error", err)
			}
			return
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == model.WSMessageTypePing {
			data, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			select {
			case pongs <- data:
			default:
			}
		}
	}
}
