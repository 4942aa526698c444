package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/makeasinger/genreswap/internal/config"
)

// AudioProcessor defines the operations of the audio microservice.
type AudioProcessor interface {
	Mix(ctx context.Context, req *MixRequest) (*MixResponse, error)
	HealthCheck(ctx context.Context) error
}

// AudioClient implements AudioProcessor for the Python microservice
type AudioClient struct {
	api *jsonAPI
}

// MixTrack is one input of a mixdown with its gain.
type MixTrack struct {
	URL    string  `json:"url"`
	Volume float64 `json:"volume"`
}

// MixRequest overlays tracks into a single file.
type MixRequest struct {
	Tracks    []MixTrack `json:"tracks"`
	Format    string     `json:"format"`
	OutputKey string     `json:"output_key"`
}

// MixResponse represents the response from mixing
type MixResponse struct {
	OutputURL string  `json:"output_url"`
	Duration  float64 `json:"duration"`
	PeakDb    float64 `json:"peak_db"`
}

// NewAudioClient creates a new audio processing client
func NewAudioClient(cfg *config.AudioConfig, logger *slog.Logger) *AudioClient {
	return &AudioClient{
		api: newJSONAPI("audio", cfg.ServiceURL, time.Duration(cfg.Timeout)*time.Second, logger),
	}
}

// Mix sends tracks to the mixing endpoint
func (c *AudioClient) Mix(ctx context.Context, req *MixRequest) (*MixResponse, error) {
	var result MixResponse
	if err := c.api.post(ctx, "/mix", req, &result); err != nil {
		return nil, err
	}
	if result.OutputURL == "" {
		return nil, fmt.Errorf("audio service returned no output_url")
	}
	return &result, nil
}

// HealthCheck checks if the audio service is available
func (c *AudioClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.api.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.api.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("audio service unhealthy: status %d", resp.StatusCode)
	}

	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *AudioClient) IsConfigured() bool {
	return c.api.baseURL != ""
}
