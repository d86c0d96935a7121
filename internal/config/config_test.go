package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing config fixture: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
identity:
  npub: "npub1exampleexampleexampleexampleexampleexampleexampleexamplex"
relays:
  discover_relays:
    - "wss://relay.example"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Picker.NumRelaysPerPerson != Default().Picker.NumRelaysPerPerson {
		t.Fatalf("expected default num_relays_per_person, got %d", cfg.Picker.NumRelaysPerPerson)
	}
	if cfg.Storage.SQLitePath != Default().Storage.SQLitePath {
		t.Fatalf("expected default sqlite_path, got %q", cfg.Storage.SQLitePath)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("expected default log level info, got %q", cfg.Logging.Level)
	}
}

func TestLoadHonorsExplicitValues(t *testing.T) {
	path := writeConfig(t, `
identity:
  npub: "npub1exampleexampleexampleexampleexampleexampleexampleexamplex"
picker:
  num_relays_per_person: 4
  max_relays: 10
feed:
  feed_chunk_seconds: 3600
  overlap_seconds: 60
logging:
  level: "debug"
  format: "json"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Picker.NumRelaysPerPerson != 4 || cfg.Picker.MaxRelays != 10 {
		t.Fatalf("explicit picker tunables not honored: %+v", cfg.Picker)
	}
	if cfg.Feed.FeedChunk().Seconds() != 3600 || cfg.Feed.Overlap().Seconds() != 60 {
		t.Fatalf("explicit feed tunables not honored: %+v", cfg.Feed)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Fatalf("explicit logging not honored: %+v", cfg.Logging)
	}
}

func TestLoadRejectsMalformedNpub(t *testing.T) {
	path := writeConfig(t, `
identity:
  npub: "not-an-npub"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for a malformed npub")
	}
}

func TestLoadRejectsNonWebsocketDiscoverRelay(t *testing.T) {
	path := writeConfig(t, `
relays:
  discover_relays:
    - "https://relay.example"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for a non-websocket discover relay url")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestGetExampleConfigParses(t *testing.T) {
	data, err := GetExampleConfig()
	if err != nil {
		t.Fatalf("GetExampleConfig: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty embedded example config")
	}
}

func TestConnectTimeoutAndFeedHelpers(t *testing.T) {
	cfg := Default()
	if cfg.Relays.ConnectTimeout().Milliseconds() != int64(cfg.Relays.ConnectTimeoutMs) {
		t.Fatalf("ConnectTimeout mismatch: %v vs %dms", cfg.Relays.ConnectTimeout(), cfg.Relays.ConnectTimeoutMs)
	}
	if cfg.Feed.FeedChunk().Seconds() != float64(cfg.Feed.FeedChunkSeconds) || cfg.Feed.Overlap().Seconds() != float64(cfg.Feed.OverlapSeconds) {
		t.Fatalf("feed helper mismatch: %v/%v vs %ds/%ds", cfg.Feed.FeedChunk(), cfg.Feed.Overlap(), cfg.Feed.FeedChunkSeconds, cfg.Feed.OverlapSeconds)
	}
}
