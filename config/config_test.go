package config

import (
	"os"
	"testing"
	"time"
)

// writeTempConfig creates a minimal configuration file required for LoadConfig
// and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

const minimalConfig = `bookflow:
  name: "TestApp"
  version: "1.0"
channels:
  queue_buffer: 16
storage:
  data_dir: "/tmp/bookflow-test"
streams:
  - start_time: "02/06/24 14:30:00"
    name: "afternoon"
    market_filter:
      event_type_ids: ["1"]
      market_type_codes: ["MATCH_ODDS"]
`

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t, minimalConfig)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Bookflow.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Bookflow.Name)
	}
	if cfg.Channels.QueueBuffer != 16 {
		t.Errorf("unexpected queue buffer: %d", cfg.Channels.QueueBuffer)
	}
	if len(cfg.Streams) != 1 || cfg.Streams[0].Name != "afternoon" {
		t.Errorf("unexpected streams: %+v", cfg.Streams)
	}
	if got := cfg.Streams[0].MarketFilter.MarketTypeCodes; len(got) != 1 || got[0] != "MATCH_ODDS" {
		t.Errorf("unexpected market type codes: %v", got)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeTempConfig(t, minimalConfig)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Scheduler.LivenessInterval != 90*time.Second {
		t.Errorf("liveness interval default: %v", cfg.Scheduler.LivenessInterval)
	}
	if cfg.Stream.Retry.Multiplier != 1 || cfg.Stream.Retry.MinWait != 2*time.Second || cfg.Stream.Retry.MaxWait != 20*time.Second {
		t.Errorf("retry defaults: %+v", cfg.Stream.Retry)
	}
	if cfg.Writer.Backend != "file" {
		t.Errorf("backend default: %s", cfg.Writer.Backend)
	}
	if cfg.Writer.Buffer.MaxSize != 5 || cfg.Writer.Buffer.MaxIdle != 10*time.Second || cfg.Writer.Buffer.PollInterval != 5*time.Second {
		t.Errorf("buffer defaults: %+v", cfg.Writer.Buffer)
	}
}

func TestLoadConfigMissingName(t *testing.T) {
	path := writeTempConfig(t, `bookflow:
  version: "1.0"
channels:
  queue_buffer: 1
storage:
  data_dir: "/tmp/x"
`)
	defer os.Remove(path)

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected validation error for missing name")
	}
}

func TestLoadConfigS3BackendRequiresBucket(t *testing.T) {
	path := writeTempConfig(t, minimalConfig+`writer:
  backend: "s3"
`)
	defer os.Remove(path)

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected validation error for s3 backend without bucket")
	}
}

func TestLoadConfigUnknownBackend(t *testing.T) {
	path := writeTempConfig(t, minimalConfig+`writer:
  backend: "carrier-pigeon"
`)
	defer os.Remove(path)

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected validation error for unknown backend")
	}
}

func TestLoadConfigEnvOverridesCredentials(t *testing.T) {
	t.Setenv("PROVIDER_USERNAME", "env-user")
	t.Setenv("PROVIDER_PASSWORD", "env-pass")
	t.Setenv("PROVIDER_APP_KEY", "env-key")

	path := writeTempConfig(t, minimalConfig+`provider:
  username: "file-user"
`)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Provider.Username != "env-user" || cfg.Provider.Password != "env-pass" || cfg.Provider.AppKey != "env-key" {
		t.Errorf("env overrides not applied: %+v", cfg.Provider)
	}
}
