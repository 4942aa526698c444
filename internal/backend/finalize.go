package backend

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/makeasinger/genreswap/internal/artifact"
	"github.com/makeasinger/genreswap/internal/client"
	"github.com/makeasinger/genreswap/internal/model"
	"github.com/makeasinger/genreswap/internal/stage"
)

// publishable lists what finalize hands out, in order. The mix is required.
var publishable = []model.ArtifactKind{model.ArtifactMix, model.ArtifactLyrics}

// objectName is the published file name of an artifact.
func objectName(in *stage.Input, a model.Artifact) string {
	switch a.Kind {
	case model.ArtifactMix:
		return fmt.Sprintf("%s_karaoke%s", in.Params.TargetGenre, extOf(a.Path, ".wav"))
	case model.ArtifactLyrics:
		return "lyrics.lrc"
	}
	return filepath.Base(a.Path)
}

func contentType(name string) string {
	if filepath.Ext(name) == ".lrc" {
		return "text/plain; charset=utf-8"
	}
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// publishAll runs put for every publishable artifact present in the input.
// When a put fails, the artifacts already published for this job are
// removed again so a failed finalize leaves nothing behind.
func publishAll(in *stage.Input, put func(a model.Artifact, name string) (string, error), remove func(name string) error) (*stage.Output, error) {
	if _, ok := in.Artifact(model.ArtifactMix); !ok {
		return nil, stage.Malformedf("no mix to publish")
	}
	out := &stage.Output{}
	var published []string
	for _, kind := range publishable {
		a, ok := in.Artifact(kind)
		if !ok {
			continue
		}
		name := objectName(in, a)
		url, err := put(a, name)
		if err != nil {
			errs := []error{err}
			for _, done := range published {
				if rmErr := remove(done); rmErr != nil {
					errs = append(errs, fmt.Errorf("rollback of %s: %w", done, rmErr))
				}
			}
			return nil, errors.Join(errs...)
		}
		published = append(published, name)
		out.Artifacts = append(out.Artifacts, model.Artifact{Kind: kind, Path: a.Path, URL: url})
	}
	return out, nil
}

// StoragePublish uploads the final artifacts to an object store.
type StoragePublish struct {
	ID      string
	Storage client.StorageClient
}

func (b *StoragePublish) Name() string       { return b.ID }
func (b *StoragePublish) IsConfigured() bool { return b.Storage.IsConfigured() }

func (b *StoragePublish) Execute(ctx context.Context, in *stage.Input) (*stage.Output, error) {
	key := func(name string) string { return "genreswap/" + in.JobID + "/" + name }
	return publishAll(in, func(a model.Artifact, name string) (string, error) {
		f, err := os.Open(a.Path)
		if err != nil {
			return "", fmt.Errorf("failed to open %s: %w", a.Kind, err)
		}
		defer f.Close()

		size := int64(-1)
		if st, err := f.Stat(); err == nil {
			size = st.Size()
		}
		url, err := b.Storage.Upload(ctx, key(name), f, size, contentType(name))
		if err != nil {
			return "", stage.Unavailable(err)
		}
		return url, nil
	}, func(name string) error {
		return b.Storage.Delete(context.WithoutCancel(ctx), key(name))
	})
}

// LocalPublisher copies final artifacts into a directory served by this
// server.
type LocalPublisher struct {
	Dir     string
	BaseURL string
}

// NewLocalPublisher serves files from dir at baseURL.
func NewLocalPublisher(dir, baseURL string) *LocalPublisher {
	return &LocalPublisher{Dir: dir, BaseURL: strings.TrimRight(baseURL, "/")}
}

func (b *LocalPublisher) Name() string       { return "local" }
func (b *LocalPublisher) IsConfigured() bool { return b.Dir != "" }

func (b *LocalPublisher) Execute(_ context.Context, in *stage.Input) (*stage.Output, error) {
	return publishAll(in, func(a model.Artifact, name string) (string, error) {
		dst := filepath.Join(b.Dir, in.JobID, name)
		if err := artifact.CopyFile(a.Path, dst); err != nil {
			return "", err
		}
		return b.BaseURL + "/" + in.JobID + "/" + name, nil
	}, func(name string) error {
		return os.Remove(filepath.Join(b.Dir, in.JobID, name))
	})
}
