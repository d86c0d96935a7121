package relay

import (
	"context"
	"time"

	"github.com/gossipcore/relay/internal/person"
)

// ScoredRelay pairs a relay with the score an identity-relay scoring pass
// assigned it, per spec.md §3 "Identity-Relay scores".
type ScoredRelay struct {
	URL   Url
	Score uint64
}

// Settings are the subset of spec.md §6 "read_setting_*" keys the core
// consults. Everything else (UI-only settings) is out of scope.
type Settings struct {
	Offline              bool
	Pow                  uint32
	SetClientTag         bool
	FeedChunk            time.Duration
	Overlap              time.Duration
	NumRelaysPerPerson   uint8
	MaxRelays            int
	CachePrunePeriodDays int
	PrunePeriodDays      int
}

// Store is the narrow storage interface the core consumes, per spec.md
// §6 "Storage surface (consumed)". The core never assumes a particular
// backend; SQLiteStore is the concrete implementation this repo ships.
type Store interface {
	ReadRelay(ctx context.Context, url Url) (*Record, error)
	WriteRelay(ctx context.Context, rec *Record) error
	WriteRelayIfMissing(ctx context.Context, url Url) error
	FilterRelays(ctx context.Context, pred func(*Record) bool) ([]*Record, error)
	BestRelays(ctx context.Context, pk person.PublicKey, dir Direction) ([]ScoredRelay, error)
	ReadSettings(ctx context.Context) (Settings, error)
}
