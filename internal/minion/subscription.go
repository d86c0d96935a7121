package minion

import (
	"fmt"

	"github.com/nbd-wtf/go-nostr"
)

// subscriptionEntry is one row of the Minion's subscription table:
// name -> underlying library subscription, its filters, and whether its
// initial backlog has drained.
type subscriptionEntry struct {
	name         string
	sub          *nostr.Subscription
	filters      nostr.Filters
	eoseReceived bool
	jobID        uint64
}

// subscriptionTable tracks a Minion's named subscriptions. Names are
// stable per logical purpose (general_feed, mentions, outbox, discover,
// thread_feed, dm_channel_<id>, augments, temp_events_<n>,
// temp_metadata_<keyhex>) so a replace is idempotent on name rather than
// growing an unbounded set of subscriptions per relay.
type subscriptionTable struct {
	byName map[string]*subscriptionEntry
	bySub  map[string]*subscriptionEntry // keyed by the library's internal sub id
}

func newSubscriptionTable() *subscriptionTable {
	return &subscriptionTable{
		byName: make(map[string]*subscriptionEntry),
		bySub:  make(map[string]*subscriptionEntry),
	}
}

// replace installs sub under name, closing and replacing any existing
// subscription with that name first. Returns the job id previously
// installed under name, or 0 if there was none — the caller uses this
// to tell the Overlord a persistent subscription's job id changed.
func (t *subscriptionTable) replace(name string, sub *nostr.Subscription, filters nostr.Filters, jobID uint64) uint64 {
	var oldJobID uint64
	if existing, ok := t.byName[name]; ok {
		delete(t.bySub, existing.sub.GetID())
		existing.sub.Unsub()
		oldJobID = existing.jobID
	}
	entry := &subscriptionEntry{name: name, sub: sub, filters: filters, jobID: jobID}
	t.byName[name] = entry
	t.bySub[sub.GetID()] = entry
	return oldJobID
}

// close removes and unsubscribes name, if present.
func (t *subscriptionTable) close(name string) {
	entry, ok := t.byName[name]
	if !ok {
		return
	}
	delete(t.byName, name)
	delete(t.bySub, entry.sub.GetID())
	entry.sub.Unsub()
}

// get looks up a subscription entry by logical name.
func (t *subscriptionTable) get(name string) (*subscriptionEntry, bool) {
	e, ok := t.byName[name]
	return e, ok
}

// bySubID looks up a subscription entry by the protocol-level sub id,
// used to route EOSE and EVENT frames back to a logical name.
func (t *subscriptionTable) bySubID(subID string) (*subscriptionEntry, bool) {
	e, ok := t.bySub[subID]
	return e, ok
}

// markEOSE records that name's initial backlog has drained.
func (t *subscriptionTable) markEOSE(subID string) {
	if e, ok := t.bySub[subID]; ok {
		e.eoseReceived = true
	}
}

// closeAll unsubscribes every open subscription, used on Minion exit.
func (t *subscriptionTable) closeAll() {
	for name := range t.byName {
		t.close(name)
	}
}

func dmChannelName(channelID string) string  { return fmt.Sprintf("dm_channel_%s", channelID) }
func tempEventsName(n uint64) string         { return fmt.Sprintf("temp_events_%d", n) }
func tempMetadataName(keyHex string) string  { return fmt.Sprintf("temp_metadata_%s", keyHex) }
