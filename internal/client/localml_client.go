package client

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/makeasinger/genreswap/internal/config"
)

// ErrServiceRejected means the local ML service answered with ok=false.
var ErrServiceRejected = errors.New("local ml service rejected the request")

// LocalMLClient talks to the self-hosted inference service exposing
// /separate, /musicgen and /transcribe.
type LocalMLClient struct {
	api *jsonAPI
}

// localMLStatus is embedded in every local ML response.
type localMLStatus struct {
	OK    *bool  `json:"ok,omitempty"`
	Error string `json:"error,omitempty"`
}

func (s localMLStatus) err() error {
	if s.OK != nil && !*s.OK {
		if s.Error != "" {
			return errors.Join(ErrServiceRejected, errors.New(s.Error))
		}
		return ErrServiceRejected
	}
	return nil
}

// LocalSeparation is the /separate response.
type LocalSeparation struct {
	localMLStatus
	VocalsURL       string `json:"vocals_url"`
	InstrumentalURL string `json:"instrumental_url"`
}

// LocalGeneration is the /musicgen response.
type LocalGeneration struct {
	localMLStatus
	AudioURL string `json:"audio_url"`
}

// LocalTranscription is the /transcribe response. Exactly one of the
// fields is normally populated.
type LocalTranscription struct {
	localMLStatus
	LRC    string `json:"lrc,omitempty"`
	SRTURL string `json:"srt_url,omitempty"`
	Text   string `json:"text,omitempty"`
}

// NewLocalMLClient creates a client for the local inference service.
func NewLocalMLClient(cfg *config.LocalMLConfig, logger *slog.Logger) *LocalMLClient {
	return &LocalMLClient{
		api: newJSONAPI("localml", cfg.BaseURL, time.Duration(cfg.Timeout)*time.Second, logger),
	}
}

// Separate splits the audio at audioURL into vocals and instrumental.
func (c *LocalMLClient) Separate(ctx context.Context, audioURL string) (*LocalSeparation, error) {
	var result LocalSeparation
	if err := c.api.post(ctx, "/separate", map[string]string{"audio_url": audioURL}, &result); err != nil {
		return nil, err
	}
	if err := result.err(); err != nil {
		return nil, err
	}
	return &result, nil
}

// Generate produces a backing track for prompt.
func (c *LocalMLClient) Generate(ctx context.Context, prompt string) (*LocalGeneration, error) {
	var result LocalGeneration
	if err := c.api.post(ctx, "/musicgen", map[string]string{"prompt": prompt}, &result); err != nil {
		return nil, err
	}
	if err := result.err(); err != nil {
		return nil, err
	}
	return &result, nil
}

// Transcribe asks for time-synced lyrics of the audio at audioURL.
func (c *LocalMLClient) Transcribe(ctx context.Context, audioURL string) (*LocalTranscription, error) {
	var result LocalTranscription
	body := map[string]string{"audio_url": audioURL, "format": "lrc"}
	if err := c.api.post(ctx, "/transcribe", body, &result); err != nil {
		return nil, err
	}
	if err := result.err(); err != nil {
		return nil, err
	}
	return &result, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *LocalMLClient) IsConfigured() bool {
	return c.api.baseURL != ""
}
