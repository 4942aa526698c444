package backend

import (
	"context"

	"github.com/makeasinger/genreswap/internal/client"
	"github.com/makeasinger/genreswap/internal/model"
	"github.com/makeasinger/genreswap/internal/stage"
)

// LocalMLSeparate splits stems on the self-hosted inference service.
type LocalMLSeparate struct {
	client *client.LocalMLClient
	dl     downloader
}

func (b *LocalMLSeparate) Name() string       { return "localml" }
func (b *LocalMLSeparate) IsConfigured() bool { return b.client.IsConfigured() }

func (b *LocalMLSeparate) Execute(ctx context.Context, in *stage.Input) (*stage.Output, error) {
	src, err := reachableURL(in, model.ArtifactSource)
	if err != nil {
		return nil, err
	}
	res, err := b.client.Separate(ctx, src)
	if err != nil {
		return nil, classify(err)
	}
	return b.dl.stems(ctx, in.Workspace, res.VocalsURL, res.InstrumentalURL)
}

// ReplicateSeparate runs a hosted demucs model.
type ReplicateSeparate struct {
	client *client.ReplicateClient
	dl     downloader
}

func (b *ReplicateSeparate) Name() string { return "replicate" }
func (b *ReplicateSeparate) IsConfigured() bool {
	return b.client.IsConfigured() && b.client.DemucsModel != ""
}

func (b *ReplicateSeparate) Execute(ctx context.Context, in *stage.Input) (*stage.Output, error) {
	src, err := reachableURL(in, model.ArtifactSource)
	if err != nil {
		return nil, err
	}
	p, err := b.client.Run(ctx, b.client.DemucsModel, map[string]any{
		"audio":         src,
		"stem":          "vocals",
		"output_format": "wav",
	}, pollBudget(ctx))
	if err != nil {
		return nil, classify(err)
	}
	vocals, instrumental, err := client.StemOutputURLs(p.Output)
	if err != nil {
		return nil, classify(err)
	}
	return b.dl.stems(ctx, in.Workspace, vocals, instrumental)
}

// SunoSeparate uses Suno's vocal separation task.
type SunoSeparate struct {
	client client.MusicGenerator
	dl     downloader
}

func (b *SunoSeparate) Name() string       { return "suno" }
func (b *SunoSeparate) IsConfigured() bool { return b.client.IsConfigured() }

func (b *SunoSeparate) Execute(ctx context.Context, in *stage.Input) (*stage.Output, error) {
	src, err := reachableURL(in, model.ArtifactSource)
	if err != nil {
		return nil, err
	}
	task, err := b.client.SeparateVocals(ctx, src)
	if err != nil {
		return nil, classify(err)
	}
	res, err := b.client.PollSeparationStatus(ctx, task.TaskID, sunoPollInterval, pollBudget(ctx))
	if err != nil {
		return nil, classify(err)
	}
	return b.dl.stems(ctx, in.Workspace, res.VocalURL, res.BackingURL)
}

// stems downloads separation results. The instrumental is required;
// vocals are optional.
func (d downloader) stems(ctx context.Context, ws stage.Workspace, vocalsURL, instrumentalURL string) (*stage.Output, error) {
	if instrumentalURL == "" {
		return nil, stage.Malformedf("separation returned no instrumental")
	}
	instPath, err := d.fetch(ctx, ws, instrumentalURL, "instrumental", ".wav")
	if err != nil {
		return nil, err
	}
	out := &stage.Output{Artifacts: []model.Artifact{produced(ws, model.ArtifactInstrumental, instPath)}}

	if vocalsURL != "" {
		vocPath, err := d.fetch(ctx, ws, vocalsURL, "vocals", ".wav")
		if err != nil {
			return nil, err
		}
		out.Artifacts = append(out.Artifacts, produced(ws, model.ArtifactVocals, vocPath))
	}
	return out, nil
}
