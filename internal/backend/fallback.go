package backend

import (
	"context"

	"github.com/makeasinger/genreswap/internal/artifact"
	"github.com/makeasinger/genreswap/internal/lyrics"
	"github.com/makeasinger/genreswap/internal/model"
	"github.com/makeasinger/genreswap/internal/selector"
	"github.com/makeasinger/genreswap/internal/stage"
)

// Fallbacks returns the degraded result of each optional stage. Stages
// without an entry are mandatory.
func Fallbacks() map[stage.Name]selector.Fallback {
	return map[stage.Name]selector.Fallback{
		stage.SeparateStems:    SeparateFallback,
		stage.GenerateBacking:  GenerateFallback,
		stage.Remix:            RemixFallback,
		stage.TranscribeLyrics: TranscribeFallback,
	}
}

// SeparateFallback treats the whole source as the instrumental; no vocals
// are produced.
func SeparateFallback(_ context.Context, in *stage.Input) (*stage.Output, error) {
	src, ok := in.Artifact(model.ArtifactSource)
	if !ok {
		return nil, stage.Malformedf("no source artifact")
	}
	return &stage.Output{Artifacts: []model.Artifact{{
		Kind: model.ArtifactInstrumental,
		Path: src.Path,
		URL:  src.URL,
	}}}, nil
}

// GenerateFallback uses a copy of the prepared source as the backing track.
func GenerateFallback(_ context.Context, in *stage.Input) (*stage.Output, error) {
	src, ok := in.Artifact(model.ArtifactSource)
	if !ok {
		return nil, stage.Malformedf("no source artifact")
	}
	dst := in.Workspace.Path("backing_passthrough" + extOf(src.Path, ".wav"))
	if err := artifact.CopyFile(src.Path, dst); err != nil {
		return nil, err
	}
	return &stage.Output{Artifacts: []model.Artifact{produced(in.Workspace, model.ArtifactBacking, dst)}}, nil
}

// RemixFallback ships the backing track as the mix.
func RemixFallback(_ context.Context, in *stage.Input) (*stage.Output, error) {
	backing, ok := in.Artifact(model.ArtifactBacking)
	if !ok {
		return nil, stage.Malformedf("no backing artifact")
	}
	return &stage.Output{Artifacts: []model.Artifact{{
		Kind: model.ArtifactMix,
		Path: backing.Path,
		URL:  backing.URL,
	}}}, nil
}

// TranscribeFallback writes placeholder lyrics.
func TranscribeFallback(_ context.Context, in *stage.Input) (*stage.Output, error) {
	return writeLyrics(in.Workspace, lyrics.Placeholder)
}
