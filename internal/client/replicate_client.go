package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/makeasinger/genreswap/internal/config"
)

// Prediction statuses reported by Replicate.
const (
	PredictionStarting   = "starting"
	PredictionProcessing = "processing"
	PredictionSucceeded  = "succeeded"
	PredictionFailed     = "failed"
	PredictionCanceled   = "canceled"
)

// ReplicateClient runs hosted models through the Replicate predictions API.
type ReplicateClient struct {
	api          *jsonAPI
	token        string
	pollInterval time.Duration

	DemucsModel   string
	MusicgenModel string
	WhisperModel  string
}

// Prediction is a Replicate prediction. Output is left raw because its
// shape depends on the model.
type Prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  any             `json:"error,omitempty"`
}

type predictionRequest struct {
	Version string         `json:"version,omitempty"`
	Input   map[string]any `json:"input"`
}

// NewReplicateClient creates a new Replicate API client
func NewReplicateClient(cfg *config.ReplicateConfig, logger *slog.Logger) *ReplicateClient {
	api := newJSONAPI("replicate", strings.TrimRight(cfg.BaseURL, "/"), 60*time.Second, logger)
	api.headers["Authorization"] = "Bearer " + cfg.APIToken
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &ReplicateClient{
		api:           api,
		token:         cfg.APIToken,
		pollInterval:  interval,
		DemucsModel:   cfg.DemucsModel,
		MusicgenModel: cfg.MusicgenModel,
		WhisperModel:  cfg.WhisperModel,
	}
}

// CreatePrediction starts a prediction. model is either "owner/name" for
// an official model or "owner/name:version" / a bare version hash.
func (c *ReplicateClient) CreatePrediction(ctx context.Context, model string, input map[string]any) (*Prediction, error) {
	endpoint := "/predictions"
	body := predictionRequest{Input: input}
	if _, version, ok := strings.Cut(model, ":"); ok {
		body.Version = version
	} else if strings.Contains(model, "/") {
		endpoint = "/models/" + model + "/predictions"
	} else {
		body.Version = model
	}

	var result Prediction
	if err := c.api.post(ctx, endpoint, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetPrediction fetches the current state of a prediction.
func (c *ReplicateClient) GetPrediction(ctx context.Context, id string) (*Prediction, error) {
	var result Prediction
	if err := c.api.get(ctx, "/predictions/"+id, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PollPrediction waits until the prediction reaches a terminal status.
func (c *ReplicateClient) PollPrediction(ctx context.Context, id string, maxWait time.Duration) (*Prediction, error) {
	return poll(ctx, c.pollInterval, maxWait, func(ctx context.Context) (*Prediction, bool, error) {
		p, err := c.GetPrediction(ctx, id)
		if err != nil {
			return nil, false, err
		}
		c.api.logger.Debug("poll prediction", "prediction", id, "status", p.Status)
		switch p.Status {
		case PredictionSucceeded:
			return p, true, nil
		case PredictionFailed, PredictionCanceled:
			return nil, false, fmt.Errorf("prediction %s %s: %v", id, p.Status, p.Error)
		}
		return nil, false, nil
	})
}

// Run creates a prediction and waits for it to succeed.
func (c *ReplicateClient) Run(ctx context.Context, model string, input map[string]any, maxWait time.Duration) (*Prediction, error) {
	p, err := c.CreatePrediction(ctx, model, input)
	if err != nil {
		return nil, err
	}
	if p.Status == PredictionSucceeded {
		return p, nil
	}
	if p.Status == PredictionFailed || p.Status == PredictionCanceled {
		return nil, fmt.Errorf("prediction %s %s: %v", p.ID, p.Status, p.Error)
	}
	return c.PollPrediction(ctx, p.ID, maxWait)
}

// IsConfigured returns true if the client has valid configuration
func (c *ReplicateClient) IsConfigured() bool {
	return c.token != "" && c.api.baseURL != ""
}
