// Package picker decides, given identity-relay scores and current
// assignments, which relay to engage next and which followed identities
// it covers.
package picker

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/gossipcore/relay/internal/job"
	"github.com/gossipcore/relay/internal/person"
	"github.com/gossipcore/relay/internal/relay"
)

// Picker holds all in-memory planning state. It is owned by the
// Overlord and mutated only while the Overlord holds its own turn; it
// is not safe for concurrent use by multiple goroutines.
type Picker struct {
	store relay.Store

	allRelays       map[relay.Url]*relay.Record
	connectedRelays map[relay.Url]struct{}
	assignments     map[relay.Url]job.Assignment
	excludedRelays  map[relay.Url]time.Time

	pubkeyCounts      map[person.PublicKey]uint8
	personRelayScores map[person.PublicKey][]relay.ScoredRelay

	numRelaysPerPerson uint8
	maxRelays          int
}

// New constructs an empty Picker with the given tunables.
func New(store relay.Store, numRelaysPerPerson uint8, maxRelays int) *Picker {
	return &Picker{
		store:              store,
		allRelays:          make(map[relay.Url]*relay.Record),
		connectedRelays:    make(map[relay.Url]struct{}),
		assignments:        make(map[relay.Url]job.Assignment),
		excludedRelays:     make(map[relay.Url]time.Time),
		pubkeyCounts:       make(map[person.PublicKey]uint8),
		personRelayScores:  make(map[person.PublicKey][]relay.ScoredRelay),
		numRelaysPerPerson: numRelaysPerPerson,
		maxRelays:          maxRelays,
	}
}

// SetAllRelays replaces the candidate relay set, keyed by url.
func (p *Picker) SetAllRelays(records []*relay.Record) {
	p.allRelays = make(map[relay.Url]*relay.Record, len(records))
	for _, r := range records {
		p.allRelays[r.URL] = r
	}
}

// MarkConnected/MarkNotConnected track which relays currently have a
// live Minion, used by the at_cap rule in Pick.
func (p *Picker) MarkConnected(url relay.Url)    { p.connectedRelays[url] = struct{}{} }
func (p *Picker) MarkNotConnected(url relay.Url) { delete(p.connectedRelays, url) }

// Assignments returns the current relay -> assignment map.
func (p *Picker) Assignments() map[relay.Url]job.Assignment {
	return p.assignments
}

// Pick runs one pass of the algorithm: prune expired exclusions, score
// every candidate relay against identities still needing coverage, and
// either return the winning relay and the identities it newly covers,
// or a typed failure (ErrNoPeopleLeft, ErrNoRelays, ErrNoProgress).
func (p *Picker) Pick(now time.Time) (relay.Url, job.Assignment, error) {
	p.pruneExcluded(now)

	if len(p.pubkeyCounts) == 0 {
		return "", job.Assignment{}, ErrNoPeopleLeft
	}
	if len(p.allRelays) == 0 {
		return "", job.Assignment{}, ErrNoRelays
	}

	atCap := len(p.assignments) >= p.maxRelays

	score := make(map[relay.Url]float64, len(p.allRelays))
	for url := range p.allRelays {
		score[url] = 0
	}

	for _, pk := range p.sortedPeopleNeedingCoverage() {
		for _, sr := range p.personRelayScores[pk] {
			if _, excluded := p.excludedRelays[sr.URL]; excluded {
				continue
			}
			if atCap {
				if _, connected := p.connectedRelays[sr.URL]; !connected {
					continue
				}
			}
			if a, ok := p.assignments[sr.URL]; ok && a.Has(pk) {
				continue
			}
			score[sr.URL] += float64(sr.Score)
		}
	}

	for url, s := range score {
		rec := p.allRelays[url]
		if rec == nil {
			score[url] = 0
			continue
		}
		score[url] = s * math.Floor(float64(rec.Rank)*1.3*rec.SuccessRate())
	}

	winner, winnerScore := p.argmax(score)
	if winnerScore <= 0 {
		return "", job.Assignment{}, ErrNoProgress
	}

	covered := job.NewAssignment(winner)
	for _, pk := range p.sortedPeopleNeedingCoverage() {
		if !scoresContain(p.personRelayScores[pk], winner) {
			continue
		}
		if a, ok := p.assignments[winner]; ok && a.Has(pk) {
			continue
		}
		covered.Identities[pk] = struct{}{}
		p.pubkeyCounts[pk]--
		if p.pubkeyCounts[pk] == 0 {
			delete(p.pubkeyCounts, pk)
		}
	}

	if covered.Len() == 0 {
		return "", job.Assignment{}, ErrNoProgress
	}

	if existing, ok := p.assignments[winner]; ok {
		existing.Merge(covered)
		p.assignments[winner] = existing
	} else {
		p.assignments[winner] = covered
	}

	return winner, covered, nil
}

// MarkDisconnected removes the assignment for url, returns its
// identities to pubkey_counts (capped at numRelaysPerPerson), and
// extends the exclusion window to now+exclusion.
func (p *Picker) MarkDisconnected(url relay.Url, now time.Time, exclusion time.Duration) {
	delete(p.connectedRelays, url)
	if a, ok := p.assignments[url]; ok {
		for pk := range a.Identities {
			if p.pubkeyCounts[pk] < p.numRelaysPerPerson {
				p.pubkeyCounts[pk]++
			}
		}
		delete(p.assignments, url)
	}
	expiry := now.Add(exclusion)
	if existing, ok := p.excludedRelays[url]; !ok || expiry.After(existing) {
		p.excludedRelays[url] = expiry
	}
}

// RefreshScores rebuilds person_relay_scores for every followed identity
// from the storage best_relays helper. When initializeCounts is true
// (startup) pubkey_counts is also reset to numRelaysPerPerson for each.
func (p *Picker) RefreshScores(ctx context.Context, followed []person.PublicKey, initializeCounts bool) error {
	scores := make(map[person.PublicKey][]relay.ScoredRelay, len(followed))
	for _, pk := range followed {
		s, err := p.store.BestRelays(ctx, pk, relay.DirectionWrite)
		if err != nil {
			return err
		}
		scores[pk] = s
	}
	p.personRelayScores = scores

	if initializeCounts {
		p.pubkeyCounts = make(map[person.PublicKey]uint8, len(followed))
		for _, pk := range followed {
			p.pubkeyCounts[pk] = p.numRelaysPerPerson
		}
	}
	return nil
}

// GarbageCollect returns the relays whose assignments no longer need
// the relay: none of the covered identities is in stillFollowed.
// Callers complete the Follow jobs for these relays, which may then
// trigger a disconnect.
func (p *Picker) GarbageCollect(stillFollowed map[person.PublicKey]struct{}) []relay.Url {
	var stale []relay.Url
	for url, a := range p.assignments {
		keep := false
		for pk := range a.Identities {
			if _, ok := stillFollowed[pk]; ok {
				keep = true
				break
			}
		}
		if !keep {
			stale = append(stale, url)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i] < stale[j] })
	return stale
}

// CompleteStale drops url's assignment after a GarbageCollect pass has
// determined none of its covered identities are still followed. Unlike
// MarkDisconnected, there is nothing to return to pubkey_counts: these
// identities aren't tracked there at all anymore.
func (p *Picker) CompleteStale(url relay.Url) {
	delete(p.assignments, url)
}

func (p *Picker) pruneExcluded(now time.Time) {
	for url, expiry := range p.excludedRelays {
		if expiry.Before(now) {
			delete(p.excludedRelays, url)
		}
	}
}

func (p *Picker) sortedPeopleNeedingCoverage() []person.PublicKey {
	out := make([]person.PublicKey, 0, len(p.pubkeyCounts))
	for pk, count := range p.pubkeyCounts {
		if count > 0 {
			out = append(out, pk)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// argmax returns the url with the highest score, breaking ties by the
// lexicographically smaller url for determinism.
func (p *Picker) argmax(score map[relay.Url]float64) (relay.Url, float64) {
	var best relay.Url
	bestScore := -1.0
	urls := make([]relay.Url, 0, len(score))
	for url := range score {
		urls = append(urls, url)
	}
	sort.Slice(urls, func(i, j int) bool { return urls[i] < urls[j] })
	for _, url := range urls {
		s := score[url]
		if s > bestScore {
			best, bestScore = url, s
		}
	}
	return best, bestScore
}

func scoresContain(scores []relay.ScoredRelay, url relay.Url) bool {
	for _, sr := range scores {
		if sr.URL == url {
			return true
		}
	}
	return false
}
