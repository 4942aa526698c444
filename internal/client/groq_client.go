package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/makeasinger/genreswap/internal/config"
)

// GroqClient talks to Groq's OpenAI-compatible speech-to-text endpoint.
type GroqClient struct {
	api    *jsonAPI
	apiKey string
	model  string
}

// TranscriptionSegment is one timed span of a verbose_json transcription.
type TranscriptionSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// TranscriptionResponse is the verbose_json transcription body.
type TranscriptionResponse struct {
	Text     string                 `json:"text"`
	Language string                 `json:"language,omitempty"`
	Duration float64                `json:"duration,omitempty"`
	Segments []TranscriptionSegment `json:"segments,omitempty"`
}

// NewGroqClient creates a new Groq API client
func NewGroqClient(cfg *config.GroqConfig, logger *slog.Logger) *GroqClient {
	api := newJSONAPI("groq", cfg.BaseURL, 5*time.Minute, logger)
	api.headers["Authorization"] = "Bearer " + cfg.APIKey
	return &GroqClient{api: api, apiKey: cfg.APIKey, model: cfg.TranscriptionModel}
}

// Transcribe uploads a local audio file and returns timed segments.
func (c *GroqClient) Transcribe(ctx context.Context, audioPath string) (*TranscriptionResponse, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("failed to buffer audio: %w", err)
	}
	_ = w.WriteField("model", c.model)
	_ = w.WriteField("response_format", "verbose_json")
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.api.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var result TranscriptionResponse
	if err := c.api.doRequest(req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *GroqClient) IsConfigured() bool {
	return c.apiKey != "" && c.api.baseURL != ""
}
