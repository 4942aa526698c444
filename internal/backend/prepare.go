package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/makeasinger/genreswap/internal/artifact"
	"github.com/makeasinger/genreswap/internal/model"
	"github.com/makeasinger/genreswap/internal/stage"
)

// UploadPrefix marks a source that refers to a file already uploaded to
// this server.
const UploadPrefix = "/uploads/"

var errNotUpload = errors.New("source is not an uploaded file")

// Upload copies a previously uploaded file into the job workspace.
type Upload struct {
	Dir string
}

func (b *Upload) Name() string       { return "upload" }
func (b *Upload) IsConfigured() bool { return b.Dir != "" }

func (b *Upload) Execute(_ context.Context, in *stage.Input) (*stage.Output, error) {
	src := in.Params.Source
	if !strings.HasPrefix(src, UploadPrefix) {
		return nil, stage.Unavailable(errNotUpload)
	}
	name := filepath.Base(strings.TrimPrefix(src, UploadPrefix))
	if name == "." || name == "/" || name == "" {
		return nil, stage.Malformedf("invalid upload reference %q", src)
	}

	local := filepath.Join(b.Dir, name)
	if _, err := os.Stat(local); err != nil {
		return nil, stage.Malformed(fmt.Errorf("upload %s: %w", name, err))
	}

	dst := in.Workspace.Path("source" + extOf(name, ".wav"))
	if err := artifact.CopyFile(local, dst); err != nil {
		return nil, err
	}
	return &stage.Output{Artifacts: []model.Artifact{produced(in.Workspace, model.ArtifactSource, dst)}}, nil
}

// Fetch downloads a remote source over HTTP(S).
type Fetch struct {
	HTTP *http.Client
}

func (b *Fetch) Name() string { return "fetch" }

func (b *Fetch) Execute(ctx context.Context, in *stage.Input) (*stage.Output, error) {
	src := in.Params.Source
	if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
		return nil, stage.Malformedf("source %q is not an http(s) url", src)
	}

	dst := in.Workspace.Path("source" + extOf(src, ".wav"))
	if err := artifact.Download(ctx, b.HTTP, src, dst); err != nil {
		return nil, classify(err)
	}
	return &stage.Output{Artifacts: []model.Artifact{produced(in.Workspace, model.ArtifactSource, dst)}}, nil
}
