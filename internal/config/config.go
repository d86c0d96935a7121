// Package config loads the relay coordination core's YAML configuration:
// identity, relay policy, picker and feed tunables, storage, and logging.
package config

import (
	"embed"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed example.yaml
var exampleConfig embed.FS

// Config is the complete gossipcore configuration document.
type Config struct {
	Identity Identity `yaml:"identity"`
	Relays   Relays   `yaml:"relays"`
	Picker   Picker   `yaml:"picker"`
	Feed     Feed     `yaml:"feed"`
	Pow      uint32   `yaml:"pow"`
	Client   Client   `yaml:"client"`
	Retention Retention `yaml:"retention"`
	Storage  Storage  `yaml:"storage"`
	Logging  Logging  `yaml:"logging"`
}

// Identity holds the user's own public key, used to build mentions
// filters and to tag our relay list advertisements.
type Identity struct {
	Npub string `yaml:"npub"`
}

// Relays contains relay discovery and connection policy.
type Relays struct {
	DiscoverRelays []string `yaml:"discover_relays"`
	ConnectTimeoutMs int    `yaml:"connect_timeout_ms"`
	Offline        bool     `yaml:"offline"`
}

// Picker holds the Relay Picker's tunables, per spec §3.
type Picker struct {
	NumRelaysPerPerson uint8 `yaml:"num_relays_per_person"`
	MaxRelays          int   `yaml:"max_relays"`
}

// Feed holds the general-feed filter construction tunables, per spec §5.
type Feed struct {
	FeedChunkSeconds int `yaml:"feed_chunk_seconds"`
	OverlapSeconds   int `yaml:"overlap_seconds"`
}

// Client holds publishing-related toggles independent of relay selection.
type Client struct {
	SetClientTag bool `yaml:"set_client_tag"`
}

// Retention holds the cache/database pruning windows mentioned in
// spec §7's "user-visible failures" (prune results are status messages).
type Retention struct {
	CachePrunePeriodDays int `yaml:"cache_prune_period_days"`
	PrunePeriodDays      int `yaml:"prune_period_days"`
}

// Storage selects the relay-record backend and its optional distributed
// score cache.
type Storage struct {
	SQLitePath string `yaml:"sqlite_path"`
	RedisAddr  string `yaml:"redis_addr"`
}

// Logging configures internal/ops.Logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// FeedChunk returns the feed chunk tunable as a time.Duration.
func (f Feed) FeedChunk() time.Duration {
	return time.Duration(f.FeedChunkSeconds) * time.Second
}

// Overlap returns the overlap tunable as a time.Duration.
func (f Feed) Overlap() time.Duration {
	return time.Duration(f.OverlapSeconds) * time.Second
}

// ConnectTimeout returns the relay connect timeout as a time.Duration.
func (r Relays) ConnectTimeout() time.Duration {
	return time.Duration(r.ConnectTimeoutMs) * time.Millisecond
}

// Load reads and parses a configuration file, applies defaults for any
// zero-valued tunable, then validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if redisAddr := os.Getenv("GOSSIPCORE_REDIS_ADDR"); redisAddr != "" {
		cfg.Storage.RedisAddr = redisAddr
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults fills in missing configuration fields with sensible
// defaults. Zero is never a meaningful value for these tunables, so a
// zero read from YAML is treated as "not set".
func applyDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Relays.ConnectTimeoutMs == 0 {
		cfg.Relays.ConnectTimeoutMs = defaults.Relays.ConnectTimeoutMs
	}
	if cfg.Picker.NumRelaysPerPerson == 0 {
		cfg.Picker.NumRelaysPerPerson = defaults.Picker.NumRelaysPerPerson
	}
	if cfg.Picker.MaxRelays == 0 {
		cfg.Picker.MaxRelays = defaults.Picker.MaxRelays
	}
	if cfg.Feed.FeedChunkSeconds == 0 {
		cfg.Feed.FeedChunkSeconds = defaults.Feed.FeedChunkSeconds
	}
	if cfg.Feed.OverlapSeconds == 0 {
		cfg.Feed.OverlapSeconds = defaults.Feed.OverlapSeconds
	}
	if cfg.Retention.CachePrunePeriodDays == 0 {
		cfg.Retention.CachePrunePeriodDays = defaults.Retention.CachePrunePeriodDays
	}
	if cfg.Retention.PrunePeriodDays == 0 {
		cfg.Retention.PrunePeriodDays = defaults.Retention.PrunePeriodDays
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = defaults.Storage.SQLitePath
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaults.Logging.Format
	}
}

// GetExampleConfig returns the embedded example configuration.
func GetExampleConfig() ([]byte, error) {
	return exampleConfig.ReadFile("example.yaml")
}

// Default returns a configuration with sensible defaults for every
// tunable the picker and minion consult.
func Default() *Config {
	return &Config{
		Identity: Identity{Npub: ""},
		Relays: Relays{
			DiscoverRelays: []string{
				"wss://relay.damus.io",
				"wss://relay.nostr.band",
				"wss://purplepag.es",
			},
			ConnectTimeoutMs: 15000,
			Offline:          false,
		},
		Picker: Picker{
			NumRelaysPerPerson: 2,
			MaxRelays:          50,
		},
		Feed: Feed{
			FeedChunkSeconds: 86400,
			OverlapSeconds:   300,
		},
		Pow:    0,
		Client: Client{SetClientTag: true},
		Retention: Retention{
			CachePrunePeriodDays: 7,
			PrunePeriodDays:      365,
		},
		Storage: Storage{
			SQLitePath: "./data/gossipcore.db",
			RedisAddr:  "",
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks that a loaded configuration is internally consistent.
func Validate(cfg *Config) error {
	if cfg.Identity.Npub != "" && !strings.HasPrefix(cfg.Identity.Npub, "npub1") {
		return fmt.Errorf("identity.npub must start with 'npub1'")
	}

	for _, url := range cfg.Relays.DiscoverRelays {
		if !strings.HasPrefix(url, "wss://") && !strings.HasPrefix(url, "ws://") {
			return fmt.Errorf("discover_relays entry must start with ws:// or wss://: %s", url)
		}
	}

	if cfg.Picker.NumRelaysPerPerson == 0 {
		return fmt.Errorf("picker.num_relays_per_person must be > 0")
	}
	if cfg.Picker.MaxRelays <= 0 {
		return fmt.Errorf("picker.max_relays must be > 0")
	}
	if cfg.Feed.FeedChunkSeconds <= 0 {
		return fmt.Errorf("feed.feed_chunk_seconds must be > 0")
	}
	if cfg.Feed.OverlapSeconds < 0 {
		return fmt.Errorf("feed.overlap_seconds must be >= 0")
	}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", cfg.Logging.Level)
	}
	if cfg.Storage.SQLitePath == "" {
		return fmt.Errorf("storage.sqlite_path is required")
	}

	return nil
}
