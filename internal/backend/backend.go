// Package backend holds the concrete stage implementations: one type per
// (stage, provider) pair, plus the degraded fallbacks used when every
// provider of a stage fails.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/makeasinger/genreswap/internal/artifact"
	"github.com/makeasinger/genreswap/internal/client"
	"github.com/makeasinger/genreswap/internal/model"
	"github.com/makeasinger/genreswap/internal/selector"
	"github.com/makeasinger/genreswap/internal/stage"
)

// defaultPollWait bounds provider polling when the context carries no deadline.
const defaultPollWait = 10 * time.Minute

// Deps are the clients the catalog is built from. Nil entries simply
// contribute no backends.
type Deps struct {
	LocalML   *client.LocalMLClient
	Replicate *client.ReplicateClient
	Suno      client.MusicGenerator
	Groq      *client.GroqClient
	Audio     *client.AudioClient
	R2        client.StorageClient
	Minio     client.StorageClient
	Local     *LocalPublisher

	UploadDir string
	FFmpeg    string
	HTTP      *http.Client
	Logger    *slog.Logger
}

// Catalog registers every backend under the name used in configuration.
func Catalog(d Deps) selector.Catalog {
	if d.HTTP == nil {
		d.HTTP = &http.Client{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	dl := downloader{http: d.HTTP}

	cat := selector.Catalog{
		stage.PrepareSource: {
			"upload": &Upload{Dir: d.UploadDir},
			"fetch":  &Fetch{HTTP: d.HTTP},
		},
		stage.SeparateStems:    {},
		stage.GenerateBacking:  {},
		stage.Remix:            {"ffmpeg": &FFmpegMix{Binary: d.FFmpeg, Logger: d.Logger}},
		stage.TranscribeLyrics: {},
		stage.Finalize:         {},
	}

	if d.LocalML != nil {
		cat[stage.SeparateStems]["localml"] = &LocalMLSeparate{client: d.LocalML, dl: dl}
		cat[stage.GenerateBacking]["localml"] = &LocalMLGenerate{client: d.LocalML, dl: dl}
		cat[stage.TranscribeLyrics]["localml"] = &LocalMLTranscribe{client: d.LocalML, dl: dl}
	}
	if d.Replicate != nil {
		cat[stage.SeparateStems]["replicate"] = &ReplicateSeparate{client: d.Replicate, dl: dl}
		cat[stage.GenerateBacking]["replicate"] = &ReplicateGenerate{client: d.Replicate, dl: dl}
		cat[stage.TranscribeLyrics]["replicate"] = &ReplicateTranscribe{client: d.Replicate, dl: dl}
	}
	if d.Suno != nil {
		cat[stage.SeparateStems]["suno"] = &SunoSeparate{client: d.Suno, dl: dl}
		cat[stage.GenerateBacking]["suno"] = &SunoGenerate{client: d.Suno, dl: dl}
	}
	if d.Groq != nil {
		cat[stage.TranscribeLyrics]["groq"] = &GroqTranscribe{client: d.Groq}
	}
	if d.Audio != nil {
		cat[stage.Remix]["audio"] = &AudioMix{client: d.Audio, dl: dl}
	}
	if d.R2 != nil {
		cat[stage.Finalize]["r2"] = &StoragePublish{ID: "r2", Storage: d.R2}
	}
	if d.Minio != nil {
		cat[stage.Finalize]["minio"] = &StoragePublish{ID: "minio", Storage: d.Minio}
	}
	if d.Local != nil {
		cat[stage.Finalize]["local"] = d.Local
	}
	return cat
}

// downloader pulls provider results into the job workspace.
type downloader struct {
	http *http.Client
}

// fetch downloads url into the workspace as base+ext, where ext is taken
// from the URL or falls back to def.
func (d downloader) fetch(ctx context.Context, ws stage.Workspace, url, base, def string) (string, error) {
	dst := ws.Path(base + extOf(url, def))
	if err := artifact.Download(ctx, d.http, url, dst); err != nil {
		return "", classify(err)
	}
	return dst, nil
}

// reachableURL returns the externally reachable URL of an input artifact,
// for providers that pull media by reference.
func reachableURL(in *stage.Input, kind model.ArtifactKind) (string, error) {
	a, ok := in.Artifact(kind)
	if !ok {
		return "", stage.Malformedf("no %s artifact", kind)
	}
	if a.URL != "" {
		return a.URL, nil
	}
	if u := in.Workspace.URL(a.Path); u != "" {
		return u, nil
	}
	return "", stage.Unavailable(fmt.Errorf("%s artifact is not reachable by url", kind))
}

// vocalsOrSource picks what transcription listens to.
func vocalsOrSource(in *stage.Input) model.ArtifactKind {
	if _, ok := in.Artifact(model.ArtifactVocals); ok {
		return model.ArtifactVocals
	}
	return model.ArtifactSource
}

func produced(ws stage.Workspace, kind model.ArtifactKind, p string) model.Artifact {
	return model.Artifact{Kind: kind, Path: p, URL: ws.URL(p)}
}

// classify maps client failures onto stage error kinds.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var se *stage.Error
	if errors.As(err, &se) {
		return err
	}

	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Temporary() {
			return stage.Unavailable(err)
		}
		return stage.Upstream(err)
	}
	var statusErr *artifact.HTTPStatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode >= 500 {
			return stage.Unavailable(err)
		}
		return stage.Upstream(err)
	}
	switch {
	case errors.Is(err, client.ErrNoOutput), errors.Is(err, artifact.ErrEmptyDownload):
		return stage.Malformed(err)
	case errors.Is(err, client.ErrServiceRejected):
		return stage.Upstream(err)
	}
	return err
}

// pollBudget is how long a provider may be polled within ctx.
func pollBudget(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		return time.Until(dl)
	}
	return defaultPollWait
}

func extOf(ref, def string) string {
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	ext := strings.ToLower(path.Ext(ref))
	if ext == "" || len(ext) > 6 {
		return def
	}
	return ext
}
