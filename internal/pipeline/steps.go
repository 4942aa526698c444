package pipeline

import (
	"context"

	"github.com/makeasinger/genreswap/internal/backend"
	"github.com/makeasinger/genreswap/internal/model"
	"github.com/makeasinger/genreswap/internal/selector"
	"github.com/makeasinger/genreswap/internal/stage"
)

// Step is one entry of the stage table. A nil Fallback makes the stage
// mandatory.
type Step struct {
	Name     stage.Name
	Start    int
	End      int
	Fallback selector.Fallback
	// Skip short-circuits the stage. A non-nil output is folded in as if a
	// backend produced it.
	Skip func(ctx context.Context, in *stage.Input) (skip bool, reason string, out *stage.Output, err error)
}

// Mandatory reports whether exhausting the stage fails the job.
func (s Step) Mandatory() bool { return s.Fallback == nil }

// DefaultSteps is the karaoke genre-swap pipeline.
func DefaultSteps() []Step {
	fb := backend.Fallbacks()
	return []Step{
		{Name: stage.PrepareSource, Start: 10, End: 30},
		{Name: stage.SeparateStems, Start: 30, End: 55, Fallback: fb[stage.SeparateStems]},
		{Name: stage.GenerateBacking, Start: 55, End: 75, Fallback: fb[stage.GenerateBacking]},
		{Name: stage.Remix, Start: 75, End: 80, Fallback: fb[stage.Remix], Skip: skipRemixWithoutVocals},
		{Name: stage.TranscribeLyrics, Start: 80, End: 95, Fallback: fb[stage.TranscribeLyrics], Skip: skipTranscribeUnlessKaraoke},
		{Name: stage.Finalize, Start: 95, End: 100},
	}
}

// With nothing to lay over the backing, the backing is the mix.
func skipRemixWithoutVocals(ctx context.Context, in *stage.Input) (bool, string, *stage.Output, error) {
	if _, ok := in.Artifact(model.ArtifactVocals); ok {
		return false, "", nil, nil
	}
	out, err := backend.RemixFallback(ctx, in)
	return true, "No vocals to mix, using backing track", out, err
}

func skipTranscribeUnlessKaraoke(_ context.Context, in *stage.Input) (bool, string, *stage.Output, error) {
	if in.Params.KaraokeEnabled() {
		return false, "", nil, nil
	}
	return true, "Karaoke mode off, lyrics skipped", nil, nil
}
