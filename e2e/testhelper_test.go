package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/genreswap/internal/archive"
	"github.com/makeasinger/genreswap/internal/artifact"
	"github.com/makeasinger/genreswap/internal/backend"
	"github.com/makeasinger/genreswap/internal/fanout"
	"github.com/makeasinger/genreswap/internal/handler"
	"github.com/makeasinger/genreswap/internal/logging"
	"github.com/makeasinger/genreswap/internal/pipeline"
	"github.com/makeasinger/genreswap/internal/registry"
	"github.com/makeasinger/genreswap/internal/selector"
	"github.com/makeasinger/genreswap/internal/service"
	"github.com/makeasinger/genreswap/internal/stage"
	"github.com/makeasinger/genreswap/pkg/jobclient"
)

// sourceAudio is what the media server returns for /song.wav.
const sourceAudio = "RIFF....WAVEfmt fake source audio"

// testApp is the server wired as in main.go, with no remote ML backends
// configured, so degradable stages run their fallbacks.
type testApp struct {
	baseURL   string
	sourceURL string
	client    *jobclient.Client
	registry  registry.Registry
}

// setupApp starts the stack; opts adjust the routes before mounting.
func setupApp(t *testing.T, opts ...func(*handler.Routes)) *testApp {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	lg := logging.Discard()

	media := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/song.wav" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "audio/wav")
		io.WriteString(w, sourceAudio)
	}))
	t.Cleanup(media.Close)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	baseURL := "http://" + ln.Addr().String()

	root := t.TempDir()
	workDir := filepath.Join(root, "work")
	publicDir := filepath.Join(root, "public")

	hub := fanout.NewHub(time.Second, lg)
	go hub.Run(ctx)
	history := archive.NewMemory(10)
	reg := registry.NewMemoryRegistry(registry.Options{
		Publisher: fanout.Multi{hub, fanout.TerminalOnly(history)},
		Logger:    lg,
	})

	catalog := backend.Catalog(backend.Deps{
		Local:     backend.NewLocalPublisher(publicDir, baseURL+"/media"),
		UploadDir: filepath.Join(root, "uploads"),
		FFmpeg:    "ffmpeg-not-installed-here",
		HTTP:      &http.Client{},
		Logger:    lg,
	})
	order := map[stage.Name][]string{
		stage.PrepareSource:    {"upload", "fetch"},
		stage.SeparateStems:    {"localml", "replicate"},
		stage.GenerateBacking:  {"localml", "replicate", "suno"},
		stage.Remix:            {"audio", "ffmpeg"},
		stage.TranscribeLyrics: {"groq"},
		stage.Finalize:         {"r2", "local"},
	}
	sel := selector.New(order, map[stage.Name]time.Duration{stage.PrepareSource: 5 * time.Second}, catalog, lg)
	orch := pipeline.New(reg, sel, artifact.NewManager(workDir, baseURL+"/work"), lg)

	dispatcher := service.NewInProcessDispatcher(ctx, orch, 0, lg)
	t.Cleanup(func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		dispatcher.Shutdown(sctx)
	})
	jobs := service.NewJobService(reg, dispatcher, service.JobServiceOptions{History: history, Logger: lg})

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	routes := handler.Routes{
		Jobs:      handler.NewJobHandler(jobs, handler.NewValidator()),
		Health:    handler.NewHealthHandler(sel.Describe(), fiber.Map{"dispatch": "inprocess"}),
		Hub:       hub,
		Snapshot:  jobs.Snapshot,
		MediaPath: "/media",
		MediaDir:  publicDir,
		WorkDir:   workDir,
	}
	for _, opt := range opts {
		opt(&routes)
	}
	handler.Mount(app, routes)
	go app.Listener(ln)
	t.Cleanup(func() { app.ShutdownWithTimeout(2 * time.Second) })

	return &testApp{
		baseURL:   baseURL,
		sourceURL: media.URL + "/song.wav",
		client: jobclient.New(baseURL,
			jobclient.WithPollInterval(50*time.Millisecond),
			jobclient.WithBackoff(50*time.Millisecond, 200*time.Millisecond),
			jobclient.WithLogger(lg),
		),
		registry: reg,
	}
}

func (a *testApp) request(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, a.baseURL+path, r)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

func fetch(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, resp.StatusCode)
	}
	data, _ := io.ReadAll(resp.Body)
	return string(data)
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return v
}
