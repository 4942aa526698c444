// Package jobclient is a Go client for the genre-swap job API. Watch
// follows a job over the websocket push channel and falls back to
// polling while the push channel is unavailable.
package jobclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fasthttp/websocket"

	"github.com/makeasinger/genreswap/pkg/api"
)

// ErrNotFound is returned for an unknown job id.
var ErrNotFound = errors.New("job not found")

// APIError is a non-2xx answer from the API. JobID is set when the
// server created a job but could not schedule it; the job is failed.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	JobID      string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d %s: %s", e.StatusCode, e.Code, e.Message)
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	dialer     *websocket.Dialer

	pollInterval time.Duration
	minBackoff   time.Duration
	maxBackoff   time.Duration
	logger       *slog.Logger
}

type Option func(*Client)

// WithToken sends a bearer token on every request.
func WithToken(token string) Option { return func(c *Client) { c.token = token } }

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.httpClient = h } }

// WithPollInterval sets how often Status is polled while the push channel
// is down.
func WithPollInterval(d time.Duration) Option { return func(c *Client) { c.pollInterval = d } }

// WithBackoff bounds the delay between websocket reconnect attempts.
func WithBackoff(min, max time.Duration) Option {
	return func(c *Client) { c.minBackoff, c.maxBackoff = min, max }
}

func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		dialer:       &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		pollInterval: 2 * time.Second,
		minBackoff:   500 * time.Millisecond,
		maxBackoff:   30 * time.Second,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit creates a job and returns its handle.
func (c *Client) Submit(ctx context.Context, req *api.SubmitRequest) (*api.SubmitResponse, error) {
	var out api.SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/api/jobs", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status reads the current view of a job.
func (c *Client) Status(ctx context.Context, jobID string) (*api.JobView, error) {
	var out api.JobView
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(jobID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// same envelope as response.ErrorResponse, with the job handle
		// picked out of details
		var er struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
				Details struct {
					JobID string `json:"jobId"`
				} `json:"details"`
			} `json:"error"`
		}
		_ = json.Unmarshal(data, &er)
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Code:       er.Error.Code,
			Message:    er.Error.Message,
			JobID:      er.Error.Details.JobID,
		}
		if resp.StatusCode == http.StatusNotFound {
			return errors.Join(ErrNotFound, apiErr)
		}
		return apiErr
	}
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// wsURL maps the API base URL to the push endpoint of one job.
func (c *Client) wsURL(jobID string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/jobs/" + url.PathEscape(jobID)
	return u.String(), nil
}
