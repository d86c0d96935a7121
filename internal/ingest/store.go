// Package ingest is the narrow event-database contract spec.md treats as
// an external collaborator (§1 non-goals, §6 storage surface): has_event,
// read_event, search_events, find_events, plus save and seen-on tracking
// so a Minion has something real to hand received events to.
package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fiatjaf/eventstore/sqlite3"
	"github.com/nbd-wtf/go-nostr"

	"github.com/gossipcore/relay/internal/relay"
)

// seenOnSchema tracks every relay an event has been observed on, for
// the Post/Like compound fan-out's "relays where a replied-to event was
// seen" rule. eventstore's sqlite3 backend has no notion of this, so it
// lives in a sibling table in the same database file.
const seenOnSchema = `
CREATE TABLE IF NOT EXISTS seen_on (
	event_id TEXT NOT NULL,
	relay_url TEXT NOT NULL,
	seen_at INTEGER NOT NULL,
	PRIMARY KEY (event_id, relay_url)
);
`

// Store wraps fiatjaf/eventstore's sqlite3 backend with the read surface
// spec.md §6 names, plus SaveEvent and seen-on tracking.
type Store struct {
	backend *sqlite3.SQLite3Backend
	db      *sql.DB
}

// Open creates (if necessary) and initializes a sqlite3-backed event
// store at path, sharing the same file a relay.SQLiteStore might use
// would be wasteful of lock contention, so this takes its own path.
func Open(ctx context.Context, path string) (*Store, error) {
	backend := &sqlite3.SQLite3Backend{DatabaseURL: path}
	if err := backend.Init(); err != nil {
		return nil, fmt.Errorf("ingest: initializing sqlite3 backend: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("ingest: opening seen-on database: %w", err)
	}
	if _, err := db.ExecContext(ctx, seenOnSchema); err != nil {
		db.Close()
		backend.Close()
		return nil, fmt.Errorf("ingest: migrating seen-on table: %w", err)
	}

	return &Store{backend: backend, db: db}, nil
}

// Close releases both the eventstore backend and the seen-on connection.
func (s *Store) Close() error {
	s.db.Close()
	return s.backend.Close()
}

// HasEvent reports whether id is already stored, per spec.md §6 has_event.
func (s *Store) HasEvent(ctx context.Context, id string) (bool, error) {
	ch, err := s.backend.QueryEvents(ctx, nostr.Filter{IDs: []string{id}, Limit: 1})
	if err != nil {
		return false, fmt.Errorf("ingest: has_event %s: %w", id, err)
	}
	_, ok := <-ch
	return ok, nil
}

// ReadEvent returns the stored event for id, or nil if absent, per
// spec.md §6 read_event.
func (s *Store) ReadEvent(ctx context.Context, id string) (*nostr.Event, error) {
	ch, err := s.backend.QueryEvents(ctx, nostr.Filter{IDs: []string{id}, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("ingest: read_event %s: %w", id, err)
	}
	ev, ok := <-ch
	if !ok {
		return nil, nil
	}
	return ev, nil
}

// SearchEvents runs a full-text search, per spec.md §6 search_events.
func (s *Store) SearchEvents(ctx context.Context, text string, limit int) ([]*nostr.Event, error) {
	ch, err := s.backend.QueryEvents(ctx, nostr.Filter{Search: text, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("ingest: search_events %q: %w", text, err)
	}
	return drain(ch), nil
}

// FindEvents runs a kind/author/since query, per spec.md §6 find_events.
// predicate, when non-nil, is applied client-side as an additional filter
// (spec.md allows an arbitrary predicate the storage layer cannot express).
func (s *Store) FindEvents(ctx context.Context, kinds []int, authors []string, since nostr.Timestamp, ascending bool, predicate func(*nostr.Event) bool) ([]*nostr.Event, error) {
	ch, err := s.backend.QueryEvents(ctx, nostr.Filter{Kinds: kinds, Authors: authors, Since: &since})
	if err != nil {
		return nil, fmt.Errorf("ingest: find_events: %w", err)
	}
	events := drain(ch)
	if predicate != nil {
		filtered := events[:0]
		for _, ev := range events {
			if predicate(ev) {
				filtered = append(filtered, ev)
			}
		}
		events = filtered
	}
	if ascending {
		for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
			events[i], events[j] = events[j], events[i]
		}
	}
	return events, nil
}

// SaveEvent persists a newly received event.
func (s *Store) SaveEvent(ctx context.Context, event *nostr.Event) error {
	if err := s.backend.SaveEvent(ctx, event); err != nil {
		return fmt.Errorf("ingest: saving event %s: %w", event.ID, err)
	}
	return nil
}

// RecordSeen notes that event id was observed on url at at, for the
// Post/Like compound fan-out's seen-on rule.
func (s *Store) RecordSeen(ctx context.Context, id string, url relay.Url, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO seen_on (event_id, relay_url, seen_at) VALUES (?, ?, ?)
		ON CONFLICT(event_id, relay_url) DO NOTHING
	`, id, string(url), at.Unix())
	if err != nil {
		return fmt.Errorf("ingest: recording seen-on for %s: %w", id, err)
	}
	return nil
}

// SeenOn returns every relay id has been observed on, per spec.md §6
// get_event_seen_on_relay.
func (s *Store) SeenOn(ctx context.Context, id string) ([]relay.Url, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT relay_url FROM seen_on WHERE event_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("ingest: reading seen-on for %s: %w", id, err)
	}
	defer rows.Close()

	var out []relay.Url
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("ingest: scanning seen-on row: %w", err)
		}
		out = append(out, relay.Url(url))
	}
	return out, rows.Err()
}

func drain(ch chan *nostr.Event) []*nostr.Event {
	var out []*nostr.Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}
