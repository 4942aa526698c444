package e2e

import (
	"net/http"
	"testing"
)

func TestHealth(t *testing.T) {
	app := setupApp(t)

	code, body := app.request(t, http.MethodGet, "/health", "")
	if code != http.StatusOK {
		t.Fatalf("status %d: %s", code, body)
	}
	got := decode[struct {
		Status   string              `json:"status"`
		Backends map[string][]string `json:"backends"`
	}](t, body)

	if got.Status != "ok" {
		t.Fatalf("status %q", got.Status)
	}
	// only the always-available backends are configured here
	if b := got.Backends["prepare-source"]; len(b) != 2 || b[0] != "upload" || b[1] != "fetch" {
		t.Errorf("prepare-source backends %v", b)
	}
	if b := got.Backends["finalize"]; len(b) != 1 || b[0] != "local" {
		t.Errorf("finalize backends %v", b)
	}
	if b := got.Backends["generate-backing"]; len(b) != 0 {
		t.Errorf("generate-backing backends %v, want none", b)
	}
}

func TestGenres(t *testing.T) {
	app := setupApp(t)
	code, body := app.request(t, http.MethodGet, "/api/genres", "")
	got := decode[struct {
		Count int `json:"count"`
	}](t, body)
	if code != http.StatusOK || got.Count != 50 {
		t.Fatalf("genres %d: %s", code, body)
	}
}
