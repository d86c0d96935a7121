package picker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gossipcore/relay/internal/person"
	"github.com/gossipcore/relay/internal/relay"
)

type fakeStore struct {
	best map[person.PublicKey][]relay.ScoredRelay
}

func (f *fakeStore) ReadRelay(ctx context.Context, url relay.Url) (*relay.Record, error) {
	return nil, nil
}
func (f *fakeStore) WriteRelay(ctx context.Context, rec *relay.Record) error { return nil }
func (f *fakeStore) WriteRelayIfMissing(ctx context.Context, url relay.Url) error {
	return nil
}
func (f *fakeStore) FilterRelays(ctx context.Context, pred func(*relay.Record) bool) ([]*relay.Record, error) {
	return nil, nil
}
func (f *fakeStore) BestRelays(ctx context.Context, pk person.PublicKey, dir relay.Direction) ([]relay.ScoredRelay, error) {
	return f.best[pk], nil
}
func (f *fakeStore) ReadSettings(ctx context.Context) (relay.Settings, error) {
	return relay.Settings{}, nil
}

func mkPubkey(b byte) person.PublicKey {
	var pk person.PublicKey
	pk[0] = b
	return pk
}

func newTestPicker(t *testing.T, r1rank, r2rank uint8) (*Picker, person.PublicKey, person.PublicKey, relay.Url, relay.Url) {
	t.Helper()
	r1 := relay.MustParseURL("wss://r1.example.com")
	r2 := relay.MustParseURL("wss://r2.example.com")
	p1 := mkPubkey(1)
	p2 := mkPubkey(2)

	store := &fakeStore{best: map[person.PublicKey][]relay.ScoredRelay{
		p1: {{URL: r1, Score: 100}, {URL: r2, Score: 50}},
		p2: {{URL: r1, Score: 80}, {URL: r2, Score: 40}},
	}}

	pk := New(store, 2, 5)
	pk.SetAllRelays([]*relay.Record{
		{URL: r1, Rank: r1rank, SuccessCount: 1, FailureCount: 0},
		{URL: r2, Rank: r2rank, SuccessCount: 1, FailureCount: 0},
	})
	if err := pk.RefreshScores(context.Background(), []person.PublicKey{p1, p2}, true); err != nil {
		t.Fatalf("RefreshScores: %v", err)
	}
	return pk, p1, p2, r1, r2
}

// S1 — Picker covers two identities with one relay.
func TestPickCoversTwoIdentitiesWithOneRelay(t *testing.T) {
	pk, p1, p2, r1, r2 := newTestPicker(t, 3, 3)
	now := time.Unix(1000, 0)

	winner, covered, err := pk.Pick(now)
	if err != nil {
		t.Fatalf("first pick: %v", err)
	}
	if winner != r1 {
		t.Fatalf("first winner = %s, want %s", winner, r1)
	}
	if !covered.Has(p1) || !covered.Has(p2) {
		t.Errorf("expected first pick to cover both identities, got %+v", covered.Identities)
	}

	winner2, covered2, err := pk.Pick(now)
	if err != nil {
		t.Fatalf("second pick: %v", err)
	}
	if winner2 != r2 {
		t.Fatalf("second winner = %s, want %s", winner2, r2)
	}
	if !covered2.Has(p1) || !covered2.Has(p2) {
		t.Errorf("expected second pick to cover both identities, got %+v", covered2.Identities)
	}

	_, _, err = pk.Pick(now)
	if !errors.Is(err, ErrNoPeopleLeft) {
		t.Fatalf("third pick: got %v, want ErrNoPeopleLeft", err)
	}
}

// S2 — Exclusion honored.
func TestPickHonorsExclusion(t *testing.T) {
	pk, p1, p2, r1, r2 := newTestPicker(t, 3, 3)
	now := time.Unix(1000, 0)

	if _, _, err := pk.Pick(now); err != nil {
		t.Fatalf("warmup pick: %v", err)
	}
	pk.MarkDisconnected(r1, now, 60*time.Second)
	if err := pk.RefreshScores(context.Background(), []person.PublicKey{p1, p2}, true); err != nil {
		t.Fatalf("RefreshScores: %v", err)
	}

	winner, _, err := pk.Pick(now.Add(time.Second))
	if err != nil {
		t.Fatalf("pick after exclusion: %v", err)
	}
	if winner != r2 {
		t.Fatalf("winner = %s, want %s (r1 should be excluded)", winner, r2)
	}

	winner2, _, err := pk.Pick(now.Add(61 * time.Second))
	if err != nil {
		t.Fatalf("pick after exclusion expiry: %v", err)
	}
	_ = winner2
}

// S3 — Rank 0 suppresses use.
func TestPickRankZeroSuppressesRelay(t *testing.T) {
	pk, _, _, _, r2 := newTestPicker(t, 0, 3)
	now := time.Unix(1000, 0)

	winner, _, err := pk.Pick(now)
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if winner != r2 {
		t.Fatalf("winner = %s, want %s (rank-0 relay must contribute zero score)", winner, r2)
	}
}

func TestMarkDisconnectedCapsPubkeyCounts(t *testing.T) {
	r1 := relay.MustParseURL("wss://r1.example.com")
	p1 := mkPubkey(1)
	store := &fakeStore{best: map[person.PublicKey][]relay.ScoredRelay{p1: {{URL: r1, Score: 10}}}}
	pk := New(store, 2, 5)
	pk.SetAllRelays([]*relay.Record{{URL: r1, Rank: 3, SuccessCount: 1}})
	pk.RefreshScores(context.Background(), []person.PublicKey{p1}, true)

	now := time.Unix(1000, 0)
	pk.Pick(now)
	pk.MarkDisconnected(r1, now, 30*time.Second)
	pk.MarkDisconnected(r1, now, 30*time.Second)

	if pk.pubkeyCounts[p1] > pk.numRelaysPerPerson {
		t.Errorf("pubkeyCounts[p1] = %d, must not exceed numRelaysPerPerson = %d", pk.pubkeyCounts[p1], pk.numRelaysPerPerson)
	}
}

// newDisjointTestPicker sets up two relays, each the sole coverage
// source for a distinct identity, so a GarbageCollect pass can be
// exercised against an assignment that covers only one of them.
func newDisjointTestPicker(t *testing.T) (pk *Picker, p1, p2 person.PublicKey, r1, r2 relay.Url) {
	t.Helper()
	r1 = relay.MustParseURL("wss://r1.example.com")
	r2 = relay.MustParseURL("wss://r2.example.com")
	p1 = mkPubkey(1)
	p2 = mkPubkey(2)

	store := &fakeStore{best: map[person.PublicKey][]relay.ScoredRelay{
		p1: {{URL: r1, Score: 100}},
		p2: {{URL: r2, Score: 100}},
	}}

	pk = New(store, 1, 5)
	pk.SetAllRelays([]*relay.Record{
		{URL: r1, Rank: 3, SuccessCount: 1},
		{URL: r2, Rank: 3, SuccessCount: 1},
	})
	if err := pk.RefreshScores(context.Background(), []person.PublicKey{p1, p2}, true); err != nil {
		t.Fatalf("RefreshScores: %v", err)
	}
	return pk, p1, p2, r1, r2
}

func TestGarbageCollectFindsAssignmentsFullyUnfollowed(t *testing.T) {
	pk, _, p2, r1, r2 := newDisjointTestPicker(t)
	now := time.Unix(1000, 0)
	if _, _, err := pk.Pick(now); err != nil {
		t.Fatalf("first pick: %v", err)
	}
	if _, _, err := pk.Pick(now); err != nil {
		t.Fatalf("second pick: %v", err)
	}

	// p1 has unfollowed; only p2 is still followed. r1's assignment
	// covers only p1, so it should be reported stale; r2's covers p2
	// and should not be.
	stillFollowed := map[person.PublicKey]struct{}{p2: {}}
	stale := pk.GarbageCollect(stillFollowed)

	if len(stale) != 1 || stale[0] != r1 {
		t.Errorf("expected only r1 to be stale, got %+v", stale)
	}
}

func TestGarbageCollectKeepsAssignmentsWithAnyFollowedIdentity(t *testing.T) {
	pk, p1, p2, r1, r2 := newDisjointTestPicker(t)
	now := time.Unix(1000, 0)
	pk.Pick(now)
	pk.Pick(now)

	stillFollowed := map[person.PublicKey]struct{}{p1: {}, p2: {}}
	stale := pk.GarbageCollect(stillFollowed)
	for _, url := range stale {
		if url == r1 || url == r2 {
			t.Errorf("did not expect %s to be stale while both identities are still followed", url)
		}
	}
}

func TestCompleteStaleDropsAssignment(t *testing.T) {
	pk, _, _, r1, _ := newTestPicker(t, 3, 3)
	pk.Pick(time.Unix(1000, 0))

	if _, ok := pk.assignments[r1]; !ok {
		t.Fatalf("expected r1 to have an assignment before CompleteStale")
	}
	pk.CompleteStale(r1)
	if _, ok := pk.assignments[r1]; ok {
		t.Errorf("expected CompleteStale to remove r1's assignment")
	}
}
