// Package api holds the JSON types exchanged with the genre-swap service:
// request and response bodies of the REST endpoints and the frames of the
// websocket push channel. The server and pkg/jobclient share them.
package api

import "time"

// Job status types
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether the job will not change any more.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Genre types
type Genre string

// Artifact kinds produced by pipeline stages
type ArtifactKind string

const (
	ArtifactSource       ArtifactKind = "source"
	ArtifactVocals       ArtifactKind = "vocals"
	ArtifactInstrumental ArtifactKind = "instrumental"
	ArtifactBacking      ArtifactKind = "backing"
	ArtifactMix          ArtifactKind = "mix"
	ArtifactLyrics       ArtifactKind = "lyrics"
)

// JobOptions are the optional mode flags of a request
type JobOptions struct {
	KaraokeMode *bool  `json:"karaokeMode,omitempty"`
	Prompt      string `json:"prompt,omitempty" validate:"omitempty,max=500"`
}

// StageLogEntry is one append-only stage transition record
type StageLogEntry struct {
	At      time.Time `json:"at"`
	Stage   string    `json:"stage,omitempty"`
	Message string    `json:"message"`
}

// ArtifactView exposes only dereferenceable artifacts
type ArtifactView struct {
	Kind ArtifactKind `json:"kind"`
	URL  string       `json:"url"`
}

type ResultView struct {
	OutputURL string         `json:"outputUrl"`
	LrcURL    string         `json:"lrcUrl,omitempty"`
	Degraded  []string       `json:"degradedStages,omitempty"`
	Artifacts []ArtifactView `json:"artifacts,omitempty"`
}

// JobView is the read-only projection returned to observers. Views of one
// job are totally ordered by UpdatedAt.
type JobView struct {
	ID           string          `json:"id"`
	Status       JobStatus       `json:"status"`
	Progress     int             `json:"progress"`
	CurrentStage string          `json:"currentStage,omitempty"`
	TargetGenre  Genre           `json:"targetGenre"`
	KaraokeMode  bool            `json:"karaokeMode"`
	Log          []StageLogEntry `json:"log"`
	Result       *ResultView     `json:"result,omitempty"`
	Error        *string         `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
}

// SubmitRequest is the body of POST /api/jobs
type SubmitRequest struct {
	Source      string      `json:"source" validate:"required,max=2048"`
	TargetGenre string      `json:"targetGenre" validate:"required,genre"`
	Options     *JobOptions `json:"options,omitempty"`
}

// SubmitResponse is returned immediately after a job is accepted
type SubmitResponse struct {
	JobID     string    `json:"jobId"`
	StatusURL string    `json:"statusUrl"`
	Status    JobStatus `json:"status"`
}

// JobListResponse is returned by GET /api/jobs. With includeHistory,
// archived terminal jobs follow the active ones.
type JobListResponse struct {
	Jobs []JobView `json:"jobs"`
}

// GenresResponse is returned by GET /api/genres
type GenresResponse struct {
	SupportedGenres []Genre `json:"supportedGenres"`
	Count           int     `json:"count"`
}
