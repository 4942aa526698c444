package backend

import (
	"context"
	"fmt"
	"os"

	"github.com/makeasinger/genreswap/internal/client"
	"github.com/makeasinger/genreswap/internal/lyrics"
	"github.com/makeasinger/genreswap/internal/model"
	"github.com/makeasinger/genreswap/internal/stage"
)

// LocalMLTranscribe asks the inference service for LRC directly.
type LocalMLTranscribe struct {
	client *client.LocalMLClient
	dl     downloader
}

func (b *LocalMLTranscribe) Name() string       { return "localml" }
func (b *LocalMLTranscribe) IsConfigured() bool { return b.client.IsConfigured() }

func (b *LocalMLTranscribe) Execute(ctx context.Context, in *stage.Input) (*stage.Output, error) {
	audio, err := reachableURL(in, vocalsOrSource(in))
	if err != nil {
		return nil, err
	}
	res, err := b.client.Transcribe(ctx, audio)
	if err != nil {
		return nil, classify(err)
	}

	var lrc string
	switch {
	case res.LRC != "":
		lrc = lyrics.Normalize(res.LRC)
	case res.SRTURL != "":
		lrc, err = b.dl.srt(ctx, in.Workspace, res.SRTURL)
		if err != nil {
			return nil, err
		}
	case res.Text != "":
		lrc = lyrics.FromPlainText(res.Text)
	default:
		return nil, stage.Malformedf("transcription returned no lyrics")
	}
	return writeLyrics(in.Workspace, lrc)
}

// ReplicateTranscribe runs a hosted Whisper model.
type ReplicateTranscribe struct {
	client *client.ReplicateClient
	dl     downloader
}

func (b *ReplicateTranscribe) Name() string { return "replicate" }
func (b *ReplicateTranscribe) IsConfigured() bool {
	return b.client.IsConfigured() && b.client.WhisperModel != ""
}

func (b *ReplicateTranscribe) Execute(ctx context.Context, in *stage.Input) (*stage.Output, error) {
	audio, err := reachableURL(in, vocalsOrSource(in))
	if err != nil {
		return nil, err
	}
	p, err := b.client.Run(ctx, b.client.WhisperModel, map[string]any{
		"audio":         audio,
		"transcription": "srt",
	}, pollBudget(ctx))
	if err != nil {
		return nil, classify(err)
	}
	t, err := client.TranscriptOutput(p.Output)
	if err != nil {
		return nil, classify(err)
	}

	var lrc string
	switch {
	case len(t.Segments) > 0:
		lrc = lyrics.FromSegments(toSegments(t.Segments))
	case t.SRTURL != "":
		lrc, err = b.dl.srt(ctx, in.Workspace, t.SRTURL)
		if err != nil {
			return nil, err
		}
	default:
		lrc = lyrics.Normalize(t.Text)
	}
	return writeLyrics(in.Workspace, lrc)
}

// GroqTranscribe uploads the audio to Groq's Whisper endpoint.
type GroqTranscribe struct {
	client *client.GroqClient
}

func (b *GroqTranscribe) Name() string       { return "groq" }
func (b *GroqTranscribe) IsConfigured() bool { return b.client.IsConfigured() }

func (b *GroqTranscribe) Execute(ctx context.Context, in *stage.Input) (*stage.Output, error) {
	a, ok := in.Artifact(vocalsOrSource(in))
	if !ok {
		return nil, stage.Malformedf("no audio to transcribe")
	}
	res, err := b.client.Transcribe(ctx, a.Path)
	if err != nil {
		return nil, classify(err)
	}

	var lrc string
	switch {
	case len(res.Segments) > 0:
		lrc = lyrics.FromSegments(toSegments(res.Segments))
	case res.Text != "":
		lrc = lyrics.FromPlainText(res.Text)
	default:
		return nil, stage.Malformedf("transcription returned no text")
	}
	return writeLyrics(in.Workspace, lrc)
}

// srt downloads an SRT subtitle file and converts it to LRC.
func (d downloader) srt(ctx context.Context, ws stage.Workspace, url string) (string, error) {
	p, err := d.fetch(ctx, ws, url, "lyrics", ".srt")
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return "", fmt.Errorf("failed to read subtitles: %w", err)
	}
	return lyrics.FromSRT(string(b)), nil
}

func toSegments(in []client.TranscriptionSegment) []lyrics.Segment {
	out := make([]lyrics.Segment, len(in))
	for i, s := range in {
		out[i] = lyrics.Segment{Start: s.Start, End: s.End, Text: s.Text}
	}
	return out
}

// writeLyrics stores the LRC text as the job's lyrics artifact.
func writeLyrics(ws stage.Workspace, lrc string) (*stage.Output, error) {
	if lrc == "" {
		return nil, stage.Malformedf("empty lyrics")
	}
	p := ws.Path("lyrics.lrc")
	if err := os.WriteFile(p, []byte(lrc), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write lyrics: %w", err)
	}
	return &stage.Output{
		Artifacts: []model.Artifact{produced(ws, model.ArtifactLyrics, p)},
		Lyrics:    lrc,
	}, nil
}
