// Package stage defines the unit of work the pipeline runs and the
// contract every backend implements.
package stage

import (
	"context"

	"github.com/makeasinger/genreswap/internal/model"
)

// Name identifies a pipeline stage
type Name string

const (
	PrepareSource    Name = "prepare-source"
	SeparateStems    Name = "separate-stems"
	GenerateBacking  Name = "generate-backing"
	Remix            Name = "remix"
	TranscribeLyrics Name = "transcribe-lyrics"
	Finalize         Name = "finalize"
)

// All lists the stages in execution order.
var All = []Name{PrepareSource, SeparateStems, GenerateBacking, Remix, TranscribeLyrics, Finalize}

// ConfigKey is the form used in configuration files and env vars.
func (n Name) ConfigKey() string {
	b := []byte(n)
	for i := range b {
		if b[i] == '-' {
			b[i] = '_'
		}
	}
	return string(b)
}

// Workspace is the job-scoped area a backend reads and writes.
type Workspace interface {
	Dir() string
	Path(name string) string
	// URL returns an externally reachable URL for a file inside the
	// workspace, for backends that hand references to remote services.
	URL(path string) string
}

// Input is what a backend sees. Artifacts holds everything earlier stages
// produced, keyed by kind.
type Input struct {
	JobID     string
	Params    model.JobParams
	Workspace Workspace
	Artifacts map[model.ArtifactKind]model.Artifact
	Prompt    string
}

// Artifact returns the artifact of the given kind and whether it exists.
func (in *Input) Artifact(kind model.ArtifactKind) (model.Artifact, bool) {
	a, ok := in.Artifacts[kind]
	return a, ok
}

// Output is a successful stage result: references only, never bytes.
type Output struct {
	Artifacts []model.Artifact
	// Lyrics carries time-aligned text for the transcribe stage.
	Lyrics string
}

// Backend executes one stage against one concrete service or tool.
// Execute does not enforce its own deadline; the caller does.
type Backend interface {
	Name() string
	Execute(ctx context.Context, in *Input) (*Output, error)
}

// BackendFunc adapts a function into a Backend.
type BackendFunc struct {
	ID string
	Fn func(ctx context.Context, in *Input) (*Output, error)
}

func (b BackendFunc) Name() string { return b.ID }

func (b BackendFunc) Execute(ctx context.Context, in *Input) (*Output, error) {
	return b.Fn(ctx, in)
}

// Configurable is implemented by backends that can report whether they
// have the credentials or endpoints they need.
type Configurable interface {
	IsConfigured() bool
}
