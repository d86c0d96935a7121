// Command gossipcore runs the relay coordination core standalone: it
// loads configuration, opens storage, and drives the Overlord until
// SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"

	"github.com/gossipcore/relay/internal/config"
	"github.com/gossipcore/relay/internal/ingest"
	"github.com/gossipcore/relay/internal/ops"
	"github.com/gossipcore/relay/internal/overlord"
	"github.com/gossipcore/relay/internal/person"
	"github.com/gossipcore/relay/internal/relay"
)

var (
	version = "dev"
	commit  = "unknown"
)

// scoreCacheTTL bounds how long a cached BestRelays result is trusted
// before a picker pass re-reads it from SQLite.
const scoreCacheTTL = 5 * time.Minute

func main() {
	var (
		showVersion = flag.Bool("version", false, "Show version information")
		configPath  = flag.String("config", "", "Path to configuration file")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("gossipcore %s (%s)\n", version, commit)
		os.Exit(0)
	}

	if *configPath == "" {
		fmt.Println("gossipcore - Nostr relay coordination core")
		fmt.Println()
		fmt.Println("Usage: gossipcore --config <path>")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Starting gossipcore %s\n", version)
	fmt.Printf("  Identity: %s\n", cfg.Identity.Npub)

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := ops.NewLogger(ops.LogConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	store, err := relay.OpenSQLiteStore(ctx, cfg.Storage.SQLitePath)
	if err != nil {
		return fmt.Errorf("opening relay store: %w", err)
	}
	defer store.Close()

	if cfg.Storage.RedisAddr != "" {
		cache := relay.NewRedisScoreCache(cfg.Storage.RedisAddr, scoreCacheTTL)
		defer cache.Close()
		store.WithScoreCache(cache)
	}

	events, err := ingest.Open(ctx, cfg.Storage.SQLitePath+".events")
	if err != nil {
		return fmt.Errorf("opening event store: %w", err)
	}
	defer events.Close()
	sink := ingest.NewSink(events)

	ourPubkey, err := decodeNpub(cfg.Identity.Npub)
	if err != nil {
		logger.Warn("identity.npub not set or invalid, running without a known identity", "error", err)
	}

	o := overlord.New(overlord.Deps{
		Store:  store,
		Signer: &unconfiguredSigner{pubkey: ourPubkey},
		Sink:   sink,
		SeenOn: events,
		Status: &logStatusReporter{logger: logger},
		Logger: logger,
	}, cfg.Picker.NumRelaysPerPerson, cfg.Picker.MaxRelays)

	if err := store.WriteSettings(ctx, relay.Settings{
		Offline:              cfg.Relays.Offline,
		Pow:                  cfg.Pow,
		SetClientTag:         cfg.Client.SetClientTag,
		FeedChunk:            cfg.Feed.FeedChunk(),
		Overlap:              cfg.Feed.Overlap(),
		NumRelaysPerPerson:   cfg.Picker.NumRelaysPerPerson,
		MaxRelays:            cfg.Picker.MaxRelays,
		CachePrunePeriodDays: cfg.Retention.CachePrunePeriodDays,
		PrunePeriodDays:      cfg.Retention.PrunePeriodDays,
	}); err != nil {
		return fmt.Errorf("writing initial settings: %w", err)
	}

	discoverRelays := make([]relay.Url, 0, len(cfg.Relays.DiscoverRelays))
	for _, u := range cfg.Relays.DiscoverRelays {
		discoverRelays = append(discoverRelays, relay.Url(u))
	}

	var followed []person.PublicKey
	if !ourPubkey.IsZero() {
		followed = []person.PublicKey{ourPubkey}
	}

	if err := o.Startup(ctx, followed, discoverRelays); err != nil {
		return fmt.Errorf("starting overlord: %w", err)
	}

	done := make(chan struct{})
	go func() {
		o.Run(ctx)
		close(done)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutting down gracefully...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Relays.ConnectTimeout())
	defer shutdownCancel()
	o.Shutdown(shutdownCtx)
	<-done

	fmt.Println("Shutdown complete")
	return nil
}

func decodeNpub(npub string) (person.PublicKey, error) {
	if npub == "" {
		return person.PublicKey{}, fmt.Errorf("no npub configured")
	}
	prefix, data, err := nip19.Decode(npub)
	if err != nil {
		return person.PublicKey{}, fmt.Errorf("decoding npub: %w", err)
	}
	if prefix != "npub" {
		return person.PublicKey{}, fmt.Errorf("expected npub, got %s", prefix)
	}
	hex, ok := data.(string)
	if !ok {
		return person.PublicKey{}, fmt.Errorf("unexpected npub payload type")
	}
	return person.ParsePublicKeyHex(hex)
}

// unconfiguredSigner reports our own public key (for mentions filters and
// relay-list advertisements) but refuses to sign: signing and key
// management are an external collaborator this core never implements.
type unconfiguredSigner struct {
	pubkey person.PublicKey
}

func (s *unconfiguredSigner) Sign(ctx context.Context, unsigned nostr.Event) (*nostr.Event, error) {
	return nil, fmt.Errorf("gossipcore: no signer configured")
}

func (s *unconfiguredSigner) PublicKey() person.PublicKey {
	return s.pubkey
}

// logStatusReporter routes user-visible status messages (spec.md §7) to
// the structured logger until a real UI-facing channel is wired in.
type logStatusReporter struct {
	logger *ops.Logger
}

func (r *logStatusReporter) Report(message string, fields ...any) {
	r.logger.Info(message, fields...)
}
