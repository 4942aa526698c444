package e2e

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/makeasinger/genreswap/internal/lyrics"
	"github.com/makeasinger/genreswap/internal/model"
)

func waitTerminal(t *testing.T, app *testApp, id string) *model.JobView {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		v, err := app.client.Status(context.Background(), id)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if v.Status.IsTerminal() {
			return v
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return nil
}

func TestSubmitAndPollToCompletion(t *testing.T) {
	app := setupApp(t)

	sub, err := app.client.Submit(context.Background(), &model.SubmitRequest{
		Source:      app.sourceURL,
		TargetGenre: "rock",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sub.JobID == "" || !strings.HasSuffix(sub.StatusURL, sub.JobID) {
		t.Fatalf("submit response %+v", sub)
	}

	v := waitTerminal(t, app, sub.JobID)
	if v.Status != model.JobStatusCompleted || v.Progress != 100 {
		t.Fatalf("final view %+v (error %v)", v, v.Error)
	}
	if v.Result == nil || v.Result.OutputURL == "" {
		t.Fatal("completed job has no output url")
	}

	// every ML stage degraded, so the output is the prepared source
	if got := fetch(t, v.Result.OutputURL); got != sourceAudio {
		t.Fatalf("output = %q", got)
	}
	if v.Result.LrcURL == "" || fetch(t, v.Result.LrcURL) != lyrics.Placeholder {
		t.Fatalf("lyrics url %q", v.Result.LrcURL)
	}
	for _, want := range []string{"separate-stems", "generate-backing", "transcribe-lyrics"} {
		found := false
		for _, d := range v.Result.Degraded {
			found = found || d == want
		}
		if !found {
			t.Errorf("%s not reported as degraded: %v", want, v.Result.Degraded)
		}
	}
}

func TestKaraokeOffSkipsLyrics(t *testing.T) {
	app := setupApp(t)
	off := false
	sub, err := app.client.Submit(context.Background(), &model.SubmitRequest{
		Source:      app.sourceURL,
		TargetGenre: "jazz",
		Options:     &model.JobOptions{KaraokeMode: &off},
	})
	if err != nil {
		t.Fatal(err)
	}
	v := waitTerminal(t, app, sub.JobID)
	if v.Status != model.JobStatusCompleted || v.Result.LrcURL != "" || v.KaraokeMode {
		t.Fatalf("view %+v", v)
	}
}

func TestUnreachableSourceFails(t *testing.T) {
	app := setupApp(t)
	sub, err := app.client.Submit(context.Background(), &model.SubmitRequest{
		Source:      app.sourceURL + ".missing",
		TargetGenre: "pop",
	})
	if err != nil {
		t.Fatal(err)
	}
	v := waitTerminal(t, app, sub.JobID)
	if v.Status != model.JobStatusFailed || v.Error == nil || !strings.HasPrefix(*v.Error, "prepare-source failed") {
		t.Fatalf("view %+v", v)
	}
	if v.Result != nil {
		t.Fatal("failed job carries a result")
	}
}

func TestSubmitValidation(t *testing.T) {
	app := setupApp(t)
	code, body := app.request(t, http.MethodPost, "/api/jobs", `{"source":"http://x/a.wav"}`)
	if code != http.StatusBadRequest || !strings.Contains(string(body), "VALIDATION_ERROR") {
		t.Fatalf("missing genre: %d %s", code, body)
	}
	code, _ = app.request(t, http.MethodGet, "/api/jobs/unknown-id", "")
	if code != http.StatusNotFound {
		t.Fatalf("unknown job: %d", code)
	}
}
