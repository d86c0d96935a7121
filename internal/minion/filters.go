package minion

import (
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/gossipcore/relay/internal/person"
)

// earliestSince is the floor every computed `since` is clamped to: no
// filter looks back further than this regardless of overlap/chunk math.
var earliestSince = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

func clampSince(t time.Time) nostr.Timestamp {
	if t.Before(earliestSince) {
		t = earliestSince
	}
	return nostr.Timestamp(t.Unix())
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func authorHexes(identities []person.PublicKey) []string {
	out := make([]string, len(identities))
	for i, id := range identities {
		out[i] = id.String()
	}
	return out
}

// generalFeedFilters builds the two filters SubscribeGeneralFeed installs:
// the followed identities' own notes/reactions/deletions since
// feed_since, and (if our own identity is known) mentions of us since
// special_since. feed_since/special_since are never before earliestSince.
func generalFeedFilters(identities []person.PublicKey, ourPubkey person.PublicKey, lastSuccessAt time.Time, overlap, feedChunk time.Duration, now time.Time) nostr.Filters {
	feedSince := clampSince(maxTime(lastSuccessAt.Add(-overlap), now.Add(-feedChunk)))
	filters := nostr.Filters{
		{
			Authors: authorHexes(identities),
			Kinds:   []int{nostr.KindTextNote, nostr.KindReaction, nostr.KindDeletion},
			Since:   &feedSince,
		},
	}
	if !ourPubkey.IsZero() {
		specialSince := clampSince(lastSuccessAt.Add(-overlap))
		filters = append(filters, nostr.Filter{
			Tags:  nostr.TagMap{"p": []string{ourPubkey.String()}},
			Since: &specialSince,
		})
	}
	return filters
}

// mentionsFilter builds the standalone mentions-of-us subscription.
func mentionsFilter(ourPubkey person.PublicKey, lastSuccessAt time.Time, overlap time.Duration) nostr.Filter {
	since := clampSince(lastSuccessAt.Add(-overlap))
	return nostr.Filter{
		Tags:  nostr.TagMap{"p": []string{ourPubkey.String()}},
		Since: &since,
	}
}

// threadFeedFilters builds the two filters SubscribeThreadFeed installs:
// the thread's own events by id, and anything tagging them since
// now-feed_chunk (to pick up new replies as they arrive).
func threadFeedFilters(root string, ancestors []string, feedChunk time.Duration, now time.Time) nostr.Filters {
	ids := append([]string{root}, ancestors...)
	since := clampSince(now.Add(-feedChunk))
	return nostr.Filters{
		{IDs: ids},
		{Tags: nostr.TagMap{"e": ids}, Since: &since},
	}
}
