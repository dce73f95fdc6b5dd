package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TTS.SampleRate != 24000 {
		t.Fatalf("expected default sample rate, got %d", cfg.TTS.SampleRate)
	}
	if cfg.Pipeline.GapMS != 500 {
		t.Fatalf("expected default gap, got %d", cfg.Pipeline.GapMS)
	}
	if len(cfg.Voices.Profiles) != 2 {
		t.Fatalf("expected Host and Expert profiles, got %d", len(cfg.Voices.Profiles))
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PODENGINE_TTS_SAMPLE_RATE", "16000")
	t.Setenv("PODENGINE_TTS_CHANNELS", "2")
	t.Setenv("PODENGINE_PIPELINE_GAP_MS", "200")
	t.Setenv("PODENGINE_PIPELINE_MAX_STAGE_ATTEMPTS", "5")
	t.Setenv("PODENGINE_LLM_MODE", "ollama")
	t.Setenv("PODENGINE_LLM_TEMPERATURE", "0.2")
	t.Setenv("PODENGINE_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("PODENGINE_STORE_PATH", "./tmp.db")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.TTS.SampleRate != 16000 || cfg.TTS.Channels != 2 {
		t.Fatalf("expected tts overrides, got %d/%d", cfg.TTS.SampleRate, cfg.TTS.Channels)
	}
	if cfg.Pipeline.GapMS != 200 {
		t.Fatalf("expected gap override, got %d", cfg.Pipeline.GapMS)
	}
	if cfg.Pipeline.MaxStageAttempts != 5 {
		t.Fatalf("expected attempts override, got %d", cfg.Pipeline.MaxStageAttempts)
	}
	if cfg.LLM.Mode != "ollama" || cfg.LLM.Temperature != 0.2 {
		t.Fatalf("expected llm overrides, got %s/%f", cfg.LLM.Mode, cfg.LLM.Temperature)
	}
	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Store.Path != "./tmp.db" {
		t.Fatalf("expected store path override")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "podengine.yaml")
	data := []byte(`
runtime_name: test-engine
tts:
  mode: exec
  command: "synth --json"
  sample_rate: 22050
  channels: 1
pipeline:
  gap_ms: 250
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RuntimeName != "test-engine" {
		t.Fatalf("expected runtime name from file, got %s", cfg.RuntimeName)
	}
	if cfg.TTS.Mode != "exec" || cfg.TTS.SampleRate != 22050 {
		t.Fatalf("expected tts from file, got %+v", cfg.TTS)
	}
	if cfg.Pipeline.GapMS != 250 {
		t.Fatalf("expected gap from file, got %d", cfg.Pipeline.GapMS)
	}
}

func TestValidateRejectsBadModes(t *testing.T) {
	t.Setenv("PODENGINE_TTS_MODE", "cloud")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for unknown tts mode")
	}
}

func TestValidateExecNeedsCommand(t *testing.T) {
	t.Setenv("PODENGINE_LLM_MODE", "exec")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for exec mode without command")
	}
}
