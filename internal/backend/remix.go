package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os/exec"

	"github.com/makeasinger/genreswap/internal/client"
	"github.com/makeasinger/genreswap/internal/model"
	"github.com/makeasinger/genreswap/internal/stage"
)

// Vocals sit slightly under the backing in the mix.
const vocalsGainDB = -2.0

var errNoVocals = errors.New("nothing to mix: no vocals")

func dbToGain(db float64) float64 { return math.Pow(10, db/20) }

// AudioMix overlays vocals on the backing via the audio microservice.
type AudioMix struct {
	client *client.AudioClient
	dl     downloader
}

func (b *AudioMix) Name() string       { return "audio" }
func (b *AudioMix) IsConfigured() bool { return b.client.IsConfigured() }

func (b *AudioMix) Execute(ctx context.Context, in *stage.Input) (*stage.Output, error) {
	if _, ok := in.Artifact(model.ArtifactVocals); !ok {
		return nil, stage.Malformed(errNoVocals)
	}
	vocals, err := reachableURL(in, model.ArtifactVocals)
	if err != nil {
		return nil, err
	}
	backing, err := reachableURL(in, model.ArtifactBacking)
	if err != nil {
		return nil, err
	}

	res, err := b.client.Mix(ctx, &client.MixRequest{
		Tracks: []client.MixTrack{
			{URL: vocals, Volume: dbToGain(vocalsGainDB)},
			{URL: backing, Volume: 1},
		},
		Format:    "wav",
		OutputKey: in.JobID + "/mix.wav",
	})
	if err != nil {
		return nil, classify(err)
	}

	p, err := b.dl.fetch(ctx, in.Workspace, res.OutputURL, "mix", ".wav")
	if err != nil {
		return nil, err
	}
	return &stage.Output{Artifacts: []model.Artifact{produced(in.Workspace, model.ArtifactMix, p)}}, nil
}

// FFmpegMix mixes locally with an ffmpeg binary on PATH.
type FFmpegMix struct {
	Binary string
	Logger *slog.Logger
}

func (b *FFmpegMix) Name() string { return "ffmpeg" }

func (b *FFmpegMix) binary() string {
	if b.Binary != "" {
		return b.Binary
	}
	return "ffmpeg"
}

func (b *FFmpegMix) IsConfigured() bool {
	_, err := exec.LookPath(b.binary())
	return err == nil
}

func (b *FFmpegMix) Execute(ctx context.Context, in *stage.Input) (*stage.Output, error) {
	vocals, ok := in.Artifact(model.ArtifactVocals)
	if !ok {
		return nil, stage.Malformed(errNoVocals)
	}
	backing, ok := in.Artifact(model.ArtifactBacking)
	if !ok {
		return nil, stage.Malformedf("no backing artifact")
	}

	out := in.Workspace.Path("mix.wav")
	filter := fmt.Sprintf("[0:a]volume=%.4f[v];[v][1:a]amix=inputs=2:normalize=0[m]", dbToGain(vocalsGainDB))
	cmd := exec.CommandContext(ctx, b.binary(),
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", vocals.Path,
		"-i", backing.Path,
		"-filter_complex", filter,
		"-map", "[m]",
		"-ac", "2", "-ar", "44100",
		out,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if b.Logger != nil {
			b.Logger.Warn("ffmpeg mix failed", "job_id", in.JobID, "stderr", stderr.String())
		}
		return nil, stage.Upstream(fmt.Errorf("ffmpeg: %w", err))
	}
	return &stage.Output{Artifacts: []model.Artifact{produced(in.Workspace, model.ArtifactMix, out)}}, nil
}
