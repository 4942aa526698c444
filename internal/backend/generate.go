package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/makeasinger/genreswap/internal/client"
	"github.com/makeasinger/genreswap/internal/model"
	"github.com/makeasinger/genreswap/internal/stage"
)

const sunoPollInterval = 5 * time.Second

// Prompt builds the text prompt for backing generation. A caller-supplied
// override wins.
func Prompt(params model.JobParams) string {
	if params.Options.Prompt != "" {
		return params.Options.Prompt
	}
	return fmt.Sprintf("%s backing track, no vocals, clean mix, radio ready", params.TargetGenre)
}

// LocalMLGenerate runs MusicGen on the self-hosted inference service.
type LocalMLGenerate struct {
	client *client.LocalMLClient
	dl     downloader
}

func (b *LocalMLGenerate) Name() string       { return "localml" }
func (b *LocalMLGenerate) IsConfigured() bool { return b.client.IsConfigured() }

func (b *LocalMLGenerate) Execute(ctx context.Context, in *stage.Input) (*stage.Output, error) {
	res, err := b.client.Generate(ctx, in.Prompt)
	if err != nil {
		return nil, classify(err)
	}
	if res.AudioURL == "" {
		return nil, stage.Malformedf("musicgen returned no audio_url")
	}
	return b.dl.backing(ctx, in.Workspace, res.AudioURL)
}

// ReplicateGenerate runs a hosted MusicGen model.
type ReplicateGenerate struct {
	client *client.ReplicateClient
	dl     downloader
}

func (b *ReplicateGenerate) Name() string { return "replicate" }
func (b *ReplicateGenerate) IsConfigured() bool {
	return b.client.IsConfigured() && b.client.MusicgenModel != ""
}

func (b *ReplicateGenerate) Execute(ctx context.Context, in *stage.Input) (*stage.Output, error) {
	p, err := b.client.Run(ctx, b.client.MusicgenModel, map[string]any{
		"prompt":        in.Prompt,
		"output_format": "wav",
	}, pollBudget(ctx))
	if err != nil {
		return nil, classify(err)
	}
	url, err := client.FirstOutputURL(p.Output)
	if err != nil {
		return nil, classify(err)
	}
	return b.dl.backing(ctx, in.Workspace, url)
}

// SunoGenerate asks Suno for an instrumental in the target style.
type SunoGenerate struct {
	client client.MusicGenerator
	dl     downloader
}

func (b *SunoGenerate) Name() string       { return "suno" }
func (b *SunoGenerate) IsConfigured() bool { return b.client.IsConfigured() }

func (b *SunoGenerate) Execute(ctx context.Context, in *stage.Input) (*stage.Output, error) {
	task, err := b.client.GenerateMusic(ctx, &client.GenerateMusicRequest{
		Prompt:           in.Prompt,
		Style:            string(in.Params.TargetGenre),
		MakeInstrumental: true,
	})
	if err != nil {
		return nil, classify(err)
	}
	res, err := b.client.PollMusicStatus(ctx, task.TaskID, sunoPollInterval, pollBudget(ctx))
	if err != nil {
		return nil, classify(err)
	}
	if res.AudioURL == "" {
		return nil, stage.Malformedf("suno returned no audio_url")
	}
	return b.dl.backing(ctx, in.Workspace, res.AudioURL)
}

func (d downloader) backing(ctx context.Context, ws stage.Workspace, url string) (*stage.Output, error) {
	p, err := d.fetch(ctx, ws, url, "backing", ".wav")
	if err != nil {
		return nil, err
	}
	return &stage.Output{Artifacts: []model.Artifact{produced(ws, model.ArtifactBacking, p)}}, nil
}
