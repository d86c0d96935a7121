package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/fiatjaf/eventstore"
	"github.com/nbd-wtf/go-nostr"

	"github.com/gossipcore/relay/internal/relay"
)

// Sink adapts Store to minion.EventSink: every event a Minion receives is
// saved (deduplicating against an existing row is eventstore's job) and
// recorded against the relay it arrived on.
type Sink struct {
	store *Store
}

// NewSink wraps store as a minion.EventSink.
func NewSink(store *Store) *Sink {
	return &Sink{store: store}
}

// HandleEvent implements minion.EventSink.
func (s *Sink) HandleEvent(ctx context.Context, relayURL relay.Url, subName string, event *nostr.Event) {
	if event == nil {
		return
	}
	if err := s.store.SaveEvent(ctx, event); err != nil && !errors.Is(err, eventstore.ErrDupEvent) {
		return
	}
	s.store.RecordSeen(ctx, event.ID, relayURL, time.Now())
}
