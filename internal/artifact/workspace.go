// Package artifact manages the per-job working directories that stages
// read and write.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Manager creates job workspaces under a root directory. Files in a
// workspace are reachable at <baseURL>/<jobID>/<name> when the server
// mounts the root statically.
type Manager struct {
	root    string
	baseURL string
}

func NewManager(root, baseURL string) *Manager {
	return &Manager{root: root, baseURL: strings.TrimRight(baseURL, "/")}
}

func (m *Manager) Root() string { return m.root }

// Open creates (or reuses) the workspace of a job.
func (m *Manager) Open(jobID string) (*Workspace, error) {
	if jobID == "" || strings.ContainsAny(jobID, `/\`) || jobID == "." || jobID == ".." {
		return nil, fmt.Errorf("invalid job id %q", jobID)
	}
	dir := filepath.Join(m.root, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	return &Workspace{jobID: jobID, dir: dir, baseURL: m.baseURL}, nil
}

// Workspace is the private directory of one job.
type Workspace struct {
	jobID   string
	dir     string
	baseURL string
}

func (w *Workspace) Dir() string { return w.dir }

func (w *Workspace) Path(name string) string {
	return filepath.Join(w.dir, filepath.Base(name))
}

// URL maps a file inside the workspace to its public URL. Paths outside
// the workspace map to "".
func (w *Workspace) URL(path string) string {
	if w.baseURL == "" {
		return ""
	}
	rel, err := filepath.Rel(w.dir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}
	return fmt.Sprintf("%s/%s/%s", w.baseURL, w.jobID, filepath.ToSlash(rel))
}

// Cleanup removes the workspace. Callers treat failures as best-effort.
func (w *Workspace) Cleanup() error {
	return os.RemoveAll(w.dir)
}

// CopyFile copies src to dst, creating parent directories.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy: %w", err)
	}
	return out.Close()
}

// ErrEmptyDownload is returned when a download produced no bytes.
var ErrEmptyDownload = errors.New("downloaded file is empty")

// Download fetches url into dst. A partial file is removed on error.
func Download(ctx context.Context, client *http.Client, url, dst string) (err error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPStatusError{StatusCode: resp.StatusCode, URL: url}
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer func() {
		if err != nil {
			os.Remove(dst)
		}
	}()

	n, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write download: %w", err)
	}
	if n == 0 {
		return ErrEmptyDownload
	}
	return nil
}

// HTTPStatusError reports a non-2xx download response.
type HTTPStatusError struct {
	StatusCode int
	URL        string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("download %s: HTTP %d", e.URL, e.StatusCode)
}
