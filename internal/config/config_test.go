package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != "8000" {
		t.Errorf("expected default port 8000, got %s", cfg.Server.Port)
	}
	if cfg.Registry.Retention != 5*time.Minute {
		t.Errorf("expected retention 5m, got %v", cfg.Registry.Retention)
	}
	if got := cfg.Pipeline.Backends["separate_stems"]; len(got) != 3 || got[0] != "localml" {
		t.Errorf("unexpected separate_stems order: %v", got)
	}
	if cfg.Pipeline.Timeouts["prepare_source"] != 20*time.Second {
		t.Errorf("expected prepare_source timeout 20s, got %v", cfg.Pipeline.Timeouts["prepare_source"])
	}
}

func TestLoad_EnvOverridesBackendList(t *testing.T) {
	t.Setenv("PIPELINE_BACKENDS_GENERATE_BACKING", "suno, replicate")
	t.Setenv("PIPELINE_BACKENDS_TRANSCRIBE_LYRICS", "none")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	got := cfg.Pipeline.Backends["generate_backing"]
	if len(got) != 2 || got[0] != "suno" || got[1] != "replicate" {
		t.Errorf("expected [suno replicate], got %v", got)
	}
	if len(cfg.Pipeline.Backends["transcribe_lyrics"]) != 0 {
		t.Errorf("expected no transcription backends, got %v", cfg.Pipeline.Backends["transcribe_lyrics"])
	}
}

func TestReadSecret(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token")
	if err := os.WriteFile(path, []byte("s3cr3t\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("REPLICATE_API_TOKEN", "")
	t.Setenv("REPLICATE_API_TOKEN_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Replicate.APIToken != "s3cr3t" {
		t.Errorf("expected token from file, got %q", cfg.Replicate.APIToken)
	}
}
