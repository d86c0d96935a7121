package ingest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/gossipcore/relay/internal/relay"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.db")
	store, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestHasEventMissingReturnsFalse(t *testing.T) {
	store := setupTestStore(t)
	ok, err := store.HasEvent(context.Background(), "deadbeef")
	if err != nil {
		t.Fatalf("HasEvent: %v", err)
	}
	if ok {
		t.Errorf("expected HasEvent to report false for a missing id")
	}
}

func TestSaveAndReadEventRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	ev := &nostr.Event{
		ID:        "abc123",
		PubKey:    "author1",
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Kind:      1,
		Content:   "hello",
	}
	if err := store.SaveEvent(ctx, ev); err != nil {
		t.Fatalf("SaveEvent: %v", err)
	}

	ok, err := store.HasEvent(ctx, ev.ID)
	if err != nil {
		t.Fatalf("HasEvent: %v", err)
	}
	if !ok {
		t.Errorf("expected HasEvent to report true after SaveEvent")
	}

	got, err := store.ReadEvent(ctx, ev.ID)
	if err != nil {
		t.Fatalf("ReadEvent: %v", err)
	}
	if got == nil || got.ID != ev.ID || got.Content != ev.Content {
		t.Errorf("round trip mismatch: got %+v", got)
	}
}

func TestReadEventMissingReturnsNil(t *testing.T) {
	store := setupTestStore(t)
	got, err := store.ReadEvent(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("ReadEvent: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for a missing event, got %+v", got)
	}
}

func TestFindEventsFiltersByKindAndPredicate(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	now := nostr.Timestamp(time.Now().Unix())
	matching := &nostr.Event{ID: "m1", PubKey: "author1", CreatedAt: now, Kind: 1, Content: "keep"}
	wrongKind := &nostr.Event{ID: "m2", PubKey: "author1", CreatedAt: now, Kind: 7, Content: "drop"}
	filteredOut := &nostr.Event{ID: "m3", PubKey: "author1", CreatedAt: now, Kind: 1, Content: "drop"}

	for _, ev := range []*nostr.Event{matching, wrongKind, filteredOut} {
		if err := store.SaveEvent(ctx, ev); err != nil {
			t.Fatalf("SaveEvent: %v", err)
		}
	}

	got, err := store.FindEvents(ctx, []int{1}, []string{"author1"}, 0, true, func(ev *nostr.Event) bool {
		return ev.Content == "keep"
	})
	if err != nil {
		t.Fatalf("FindEvents: %v", err)
	}
	if len(got) != 1 || got[0].ID != matching.ID {
		t.Errorf("expected only %q to survive the kind+predicate filter, got %+v", matching.ID, got)
	}
}

func TestRecordSeenAndSeenOnRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	id := "event-with-hints"
	a := relay.Url("wss://a.example.com")
	b := relay.Url("wss://b.example.com")

	if err := store.RecordSeen(ctx, id, a, time.Now()); err != nil {
		t.Fatalf("RecordSeen a: %v", err)
	}
	if err := store.RecordSeen(ctx, id, b, time.Now()); err != nil {
		t.Fatalf("RecordSeen b: %v", err)
	}
	// duplicate insert must not error or double the result
	if err := store.RecordSeen(ctx, id, a, time.Now()); err != nil {
		t.Fatalf("RecordSeen duplicate: %v", err)
	}

	urls, err := store.SeenOn(ctx, id)
	if err != nil {
		t.Fatalf("SeenOn: %v", err)
	}
	if len(urls) != 2 {
		t.Errorf("expected 2 distinct relays, got %+v", urls)
	}
}

func TestSeenOnUnknownEventReturnsEmpty(t *testing.T) {
	store := setupTestStore(t)
	urls, err := store.SeenOn(context.Background(), "never-seen")
	if err != nil {
		t.Fatalf("SeenOn: %v", err)
	}
	if len(urls) != 0 {
		t.Errorf("expected no relays for an unseen event, got %+v", urls)
	}
}
