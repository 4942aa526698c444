package client

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/makeasinger/genreswap/internal/config"
)

// MusicGenerator is the task-based generation and separation API the
// Suno backends drive: start a task, then poll it to completion.
type MusicGenerator interface {
	GenerateMusic(ctx context.Context, req *GenerateMusicRequest) (*GenerateMusicResponse, error)
	PollMusicStatus(ctx context.Context, taskID string, interval, maxWait time.Duration) (*MusicResult, error)
	SeparateVocals(ctx context.Context, audioURL string) (*SeparationResult, error)
	PollSeparationStatus(ctx context.Context, taskID string, interval, maxWait time.Duration) (*SeparationResult, error)
	IsConfigured() bool
}

var _ MusicGenerator = (*SunoClient)(nil)

// SunoClient implements MusicGenerator for Suno API
type SunoClient struct {
	api    *jsonAPI
	apiKey string
}

// GenerateMusicRequest represents the request for music generation
type GenerateMusicRequest struct {
	Prompt           string `json:"prompt"`
	Style            string `json:"style,omitempty"`
	Title            string `json:"title,omitempty"`
	MakeInstrumental bool   `json:"make_instrumental,omitempty"`
}

// GenerateMusicResponse represents the response from music generation
type GenerateMusicResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// MusicResult represents a music generation task
type MusicResult struct {
	ID       string  `json:"id"`
	AudioURL string  `json:"audio_url"`
	Duration float64 `json:"duration"`
	Status   string  `json:"status"`
}

// SeparationResult represents a vocal separation task
type SeparationResult struct {
	TaskID     string `json:"task_id"`
	Status     string `json:"status"`
	VocalURL   string `json:"vocal_url,omitempty"`
	BackingURL string `json:"backing_url,omitempty"`
}

// NewSunoClient creates a new Suno API client
func NewSunoClient(cfg *config.SunoConfig, logger *slog.Logger) *SunoClient {
	api := newJSONAPI("suno", cfg.BaseURL, 120*time.Second, logger)
	api.headers["Authorization"] = "Bearer " + cfg.APIKey
	return &SunoClient{api: api, apiKey: cfg.APIKey}
}

// GenerateMusic initiates music generation
func (c *SunoClient) GenerateMusic(ctx context.Context, req *GenerateMusicRequest) (*GenerateMusicResponse, error) {
	var result GenerateMusicResponse
	if err := c.api.post(ctx, "/v1/music/generate", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetMusicStatus retrieves the status of a music generation task
func (c *SunoClient) GetMusicStatus(ctx context.Context, taskID string) (*MusicResult, error) {
	var result MusicResult
	if err := c.api.get(ctx, "/v1/music/status/"+taskID, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SeparateVocals initiates vocal separation for an audio file
func (c *SunoClient) SeparateVocals(ctx context.Context, audioURL string) (*SeparationResult, error) {
	var result SeparationResult
	if err := c.api.post(ctx, "/v1/audio/separate-vocals", map[string]string{"audio_url": audioURL}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetSeparationStatus retrieves the status of a vocal separation task
func (c *SunoClient) GetSeparationStatus(ctx context.Context, taskID string) (*SeparationResult, error) {
	var result SeparationResult
	if err := c.api.get(ctx, "/v1/audio/separate-vocals/"+taskID, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *SunoClient) IsConfigured() bool {
	return c.apiKey != "" && c.api.baseURL != ""
}

// PollMusicStatus polls for music generation completion
func (c *SunoClient) PollMusicStatus(ctx context.Context, taskID string, interval, maxWait time.Duration) (*MusicResult, error) {
	return poll(ctx, interval, maxWait, func(ctx context.Context) (*MusicResult, bool, error) {
		result, err := c.GetMusicStatus(ctx, taskID)
		if err != nil {
			return nil, false, err
		}
		c.api.logger.Debug("poll music", "task", taskID, "status", result.Status)
		switch result.Status {
		case "completed", "success":
			return result, true, nil
		case "failed", "error":
			return nil, false, fmt.Errorf("music generation failed: %s", result.Status)
		}
		return nil, false, nil
	})
}

// PollSeparationStatus polls for vocal separation completion
func (c *SunoClient) PollSeparationStatus(ctx context.Context, taskID string, interval, maxWait time.Duration) (*SeparationResult, error) {
	return poll(ctx, interval, maxWait, func(ctx context.Context) (*SeparationResult, bool, error) {
		result, err := c.GetSeparationStatus(ctx, taskID)
		if err != nil {
			return nil, false, err
		}
		c.api.logger.Debug("poll separation", "task", taskID, "status", result.Status)
		switch result.Status {
		case "completed", "success":
			return result, true, nil
		case "failed", "error":
			return nil, false, fmt.Errorf("vocal separation failed: %s", result.Status)
		}
		return nil, false, nil
	})
}
