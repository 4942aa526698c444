package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// maxLoggedBody caps how much of a response body ends up in a log line.
const maxLoggedBody = 512

// APIError is returned when an upstream service answers with a non-2xx status.
type APIError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.StatusCode, e.Body)
}

// Temporary reports whether retrying against another provider makes sense
// because this one is overloaded or down.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// jsonAPI is the JSON-over-HTTP plumbing shared by the provider clients.
type jsonAPI struct {
	service    string
	httpClient *http.Client
	baseURL    string
	headers    map[string]string
	logger     *slog.Logger
}

func newJSONAPI(service, baseURL string, timeout time.Duration, logger *slog.Logger) *jsonAPI {
	if logger == nil {
		logger = slog.Default()
	}
	return &jsonAPI{
		service:    service,
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		headers:    map[string]string{},
		logger:     logger.With("client", service),
	}
}

// post sends a POST request with JSON body
func (c *jsonAPI) post(ctx context.Context, endpoint string, body, result any) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(req, result)
}

// get sends a GET request and parses JSON response
func (c *jsonAPI) get(ctx context.Context, endpoint string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, result)
}

// doRequest executes an HTTP request and parses the response
func (c *jsonAPI) doRequest(req *http.Request, result any) error {
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("request failed", "method", req.Method, "path", req.URL.Path, "error", err)
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.Debug("response",
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"latency", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Service: c.service, StatusCode: resp.StatusCode, Body: truncate(string(respBody))}
	}

	if result == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		c.logger.Warn("unmarshal failed", "path", req.URL.Path, "error", err, "body", truncate(string(respBody)))
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

// poll calls check every interval until it reports done, the context ends,
// or maxWait elapses.
func poll[T any](ctx context.Context, interval, maxWait time.Duration, check func(ctx context.Context) (T, bool, error)) (T, error) {
	var zero T
	deadline := time.Now().Add(maxWait)

	for time.Now().Before(deadline) {
		result, done, err := check(ctx)
		if err != nil {
			return zero, err
		}
		if done {
			return result, nil
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(interval):
		}
	}

	return zero, fmt.Errorf("timed out after %v: %w", maxWait, context.DeadlineExceeded)
}

func truncate(s string) string {
	if len(s) <= maxLoggedBody {
		return s
	}
	return s[:maxLoggedBody] + "..."
}
