package model

import (
	"time"

	"github.com/makeasinger/genreswap/pkg/api"
)

// Artifact kinds produced by pipeline stages
type ArtifactKind = api.ArtifactKind

const (
	ArtifactSource       = api.ArtifactSource
	ArtifactVocals       = api.ArtifactVocals
	ArtifactInstrumental = api.ArtifactInstrumental
	ArtifactBacking      = api.ArtifactBacking
	ArtifactMix          = api.ArtifactMix
	ArtifactLyrics       = api.ArtifactLyrics
)

// Artifact is a reference to media produced by a stage. Path is local to
// the job workspace and never leaves the server; URL is externally
// dereferenceable once set.
type Artifact struct {
	Kind ArtifactKind `json:"kind"`
	Path string       `json:"path,omitempty"`
	URL  string       `json:"url,omitempty"`
}

// JobParams is the immutable input captured at creation
type JobParams struct {
	Source      string     `json:"source"`
	TargetGenre Genre      `json:"targetGenre"`
	Options     JobOptions `json:"options"`
	UserID      string     `json:"userId,omitempty"`
}

// KaraokeEnabled defaults to true when the flag is absent.
func (p JobParams) KaraokeEnabled() bool {
	return p.Options.KaraokeMode == nil || *p.Options.KaraokeMode
}

// JobResult is written once, on completion
type JobResult struct {
	OutputURL string     `json:"outputUrl"`
	LyricsURL string     `json:"lrcUrl,omitempty"`
	Degraded  []string   `json:"degradedStages,omitempty"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
}

// Wire types shared with pkg/jobclient
type (
	JobOptions      = api.JobOptions
	StageLogEntry   = api.StageLogEntry
	ArtifactView    = api.ArtifactView
	ResultView      = api.ResultView
	JobView         = api.JobView
	SubmitRequest   = api.SubmitRequest
	SubmitResponse  = api.SubmitResponse
	JobListResponse = api.JobListResponse
	GenresResponse  = api.GenresResponse
)

// Job represents a genre-swap job
type Job struct {
	ID           string          `json:"id"`
	Status       JobStatus       `json:"status"`
	Progress     int             `json:"progress"`
	CurrentStage string          `json:"currentStage,omitempty"`
	StageLog     []StageLogEntry `json:"stageLog"`
	Params       JobParams       `json:"params"`
	Result       *JobResult      `json:"result,omitempty"`
	Error        *string         `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
}

// Clone returns a deep copy so the registry never hands out shared state.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.StageLog = append([]StageLogEntry(nil), j.StageLog...)
	if j.Params.Options.KaraokeMode != nil {
		v := *j.Params.Options.KaraokeMode
		c.Params.Options.KaraokeMode = &v
	}
	if j.Result != nil {
		r := *j.Result
		r.Degraded = append([]string(nil), j.Result.Degraded...)
		r.Artifacts = append([]Artifact(nil), j.Result.Artifacts...)
		c.Result = &r
	}
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// View projects the job for external consumption. Local paths are dropped.
func (j *Job) View() JobView {
	c := j.Clone()
	v := JobView{
		ID:           c.ID,
		Status:       c.Status,
		Progress:     c.Progress,
		CurrentStage: c.CurrentStage,
		TargetGenre:  c.Params.TargetGenre,
		KaraokeMode:  c.Params.KaraokeEnabled(),
		Log:          c.StageLog,
		Error:        c.Error,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
		CompletedAt:  c.CompletedAt,
	}
	if v.Log == nil {
		v.Log = []StageLogEntry{}
	}
	if c.Result != nil {
		rv := &ResultView{
			OutputURL: c.Result.OutputURL,
			LrcURL:    c.Result.LyricsURL,
			Degraded:  c.Result.Degraded,
		}
		for _, a := range c.Result.Artifacts {
			if a.URL != "" {
				rv.Artifacts = append(rv.Artifacts, ArtifactView{Kind: a.Kind, URL: a.URL})
			}
		}
		v.Result = rv
	}
	return v
}
