package artifact

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestWorkspace_PathsAndURLs(t *testing.T) {
	m := NewManager(t.TempDir(), "http://localhost:8000/work/")

	ws, err := m.Open("job-1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := os.Stat(ws.Dir()); err != nil {
		t.Fatalf("workspace dir missing: %v", err)
	}

	p := ws.Path("../../etc/passwd")
	if filepath.Dir(p) != ws.Dir() {
		t.Errorf("Path escaped the workspace: %s", p)
	}
	if got := ws.URL(ws.Path("mix.mp3")); got != "http://localhost:8000/work/job-1/mix.mp3" {
		t.Errorf("unexpected URL %q", got)
	}
	if got := ws.URL("/somewhere/else.wav"); got != "" {
		t.Errorf("expected empty URL for foreign path, got %q", got)
	}

	if _, err := m.Open("../escape"); err == nil {
		t.Error("expected invalid job id to be rejected")
	}

	if err := ws.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := os.Stat(ws.Dir()); !os.IsNotExist(err) {
		t.Error("expected workspace to be removed")
	}
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.wav")
	os.WriteFile(src, []byte("RIFF"), 0o644)

	dst := filepath.Join(dir, "nested", "b.wav")
	if err := CopyFile(src, dst); err != nil {
		t.Fatalf("CopyFile: %v", err)
	}
	got, _ := os.ReadFile(dst)
	if string(got) != "RIFF" {
		t.Errorf("unexpected contents %q", got)
	}
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.wav":
			w.Write([]byte("audio-bytes"))
		case "/empty.wav":
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	dst := filepath.Join(dir, "ok.wav")
	if err := Download(context.Background(), srv.Client(), srv.URL+"/ok.wav", dst); err != nil {
		t.Fatalf("Download: %v", err)
	}

	missing := filepath.Join(dir, "missing.wav")
	err := Download(context.Background(), srv.Client(), srv.URL+"/missing.wav", missing)
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 status error, got %v", err)
	}

	empty := filepath.Join(dir, "empty.wav")
	if err := Download(context.Background(), srv.Client(), srv.URL+"/empty.wav", empty); !errors.Is(err, ErrEmptyDownload) {
		t.Errorf("expected ErrEmptyDownload, got %v", err)
	}
	if _, err := os.Stat(empty); !os.IsNotExist(err) {
		t.Error("expected partial file to be removed")
	}
}
