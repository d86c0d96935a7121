package minion

import (
	"context"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"

	"github.com/gossipcore/relay/internal/job"
	"github.com/gossipcore/relay/internal/ops"
	"github.com/gossipcore/relay/internal/person"
)

const (
	nameGeneralFeed = "general_feed"
	nameMentions    = "mentions"
	nameOutbox      = "outbox"
	nameDiscover    = "discover"
	nameThreadFeed  = "thread_feed"
	nameAugments    = "augments"
)

// handlePayload dispatches one payload by its detail kind. It returns
// (true, nil) for Shutdown, telling the Minion's Run loop to exit
// cleanly; subscription and publish failures are logged and return
// (false, nil), so no payload ends the connection with an error.
func (m *Minion) handlePayload(ctx context.Context, p job.Payload) (bool, *ops.RelayError) {
	var err error
	switch p.Detail.Kind {
	case job.DetailSubscribeGeneralFeed:
		filters := generalFeedFilters(p.Detail.Identities, m.ourPubkey, m.lastSuccessAt(ctx), m.overlap, m.feedChunk, time.Now())
		err = m.subscribe(ctx, nameGeneralFeed, p.JobID, filters)

	case job.DetailSubscribeMentions:
		filter := mentionsFilter(m.ourPubkey, m.lastSuccessAt(ctx), m.overlap)
		err = m.subscribe(ctx, nameMentions, p.JobID, nostr.Filters{filter})

	case job.DetailSubscribeOutbox:
		filters := generalFeedFilters(p.Detail.Identities, m.ourPubkey, m.lastSuccessAt(ctx), m.overlap, m.feedChunk, time.Now())
		err = m.subscribe(ctx, nameOutbox, p.JobID, filters)

	case job.DetailSubscribeDiscover:
		filter := nostr.Filter{
			Authors: authorHexes(p.Detail.Identities),
			Kinds:   []int{nostr.KindRelayListMetadata},
		}
		err = m.subscribe(ctx, nameDiscover, p.JobID, nostr.Filters{filter})

	case job.DetailSubscribeThreadFeed:
		filters := threadFeedFilters(p.Detail.RootID, p.Detail.AncestorIDs, m.feedChunk, time.Now())
		err = m.subscribe(ctx, nameThreadFeed, p.JobID, filters)

	case job.DetailSubscribeDmChannel:
		filter := nostr.Filter{Tags: nostr.TagMap{"e": []string{p.Detail.ChannelID}}}
		err = m.subscribe(ctx, dmChannelName(p.Detail.ChannelID), p.JobID, nostr.Filters{filter})

	case job.DetailSubscribeAugments:
		filter := nostr.Filter{
			Tags:  nostr.TagMap{"e": p.Detail.AugmentIDs},
			Kinds: []int{nostr.KindReaction, nostr.KindZap},
		}
		err = m.subscribe(ctx, nameAugments, p.JobID, nostr.Filters{filter})

	case job.DetailTempSubscribeMetadata:
		name := tempMetadataName(firstPubkeyHex(p.Detail.Identities))
		filter := nostr.Filter{Authors: authorHexes(p.Detail.Identities), Kinds: []int{nostr.KindProfileMetadata}}
		err = m.subscribe(ctx, name, p.JobID, nostr.Filters{filter})

	case job.DetailFetchEvent:
		if _, already := m.seenFetches[p.Detail.EventID]; already {
			break
		}
		m.seenFetches[p.Detail.EventID] = struct{}{}
		m.tempCounter++
		name := tempEventsName(m.tempCounter)
		filter := nostr.Filter{IDs: []string{p.Detail.EventID}}
		err = m.subscribe(ctx, name, p.JobID, nostr.Filters{filter})

	case job.DetailFetchEventAddr:
		if _, already := m.seenFetches[p.Detail.EventAddr]; already {
			break
		}
		m.seenFetches[p.Detail.EventAddr] = struct{}{}
		m.tempCounter++
		name := tempEventsName(m.tempCounter)
		if filter, ok := addrFilter(p.Detail.EventAddr); ok {
			err = m.subscribe(ctx, name, p.JobID, nostr.Filters{filter})
		}

	case job.DetailPostEvent:
		if p.Detail.Event == nil {
			m.logger.Warn("post event job carried no event", "relay", m.URL)
			return false, nil
		}
		if err := m.conn.Publish(ctx, *p.Detail.Event); err != nil {
			m.logger.Warn("post event failed", "relay", m.URL, "error", err)
			return false, nil
		}
		m.toOverlord <- job.MinionJobComplete(m.URL, p.JobID)

	case job.DetailShutdown:
		return true, nil

	case job.DetailUnsubscribeThreadFeed:
		m.subs.close(nameThreadFeed)
	}
	if err != nil {
		m.logger.Warn("subscription failed", "relay", m.URL, "error", err)
	}
	return false, nil
}

// lastSuccessAt reads the relay's recorded last success time, or now if
// this relay has never succeeded before (first-ever connection).
func (m *Minion) lastSuccessAt(ctx context.Context) time.Time {
	rec, err := m.store.ReadRelay(ctx, m.URL)
	if err != nil || rec == nil || rec.LastSuccessAt == nil {
		return time.Now()
	}
	return *rec.LastSuccessAt
}

func firstPubkeyHex(identities []person.PublicKey) string {
	if len(identities) == 0 {
		return "unknown"
	}
	return identities[0].String()
}

// addrFilter decodes a NIP-19 "naddr" into the filter that fetches the
// addressable event it names.
func addrFilter(addr string) (nostr.Filter, bool) {
	prefix, data, err := nip19.Decode(addr)
	if err != nil || prefix != "naddr" {
		return nostr.Filter{}, false
	}
	pointer, ok := data.(nostr.EntityPointer)
	if !ok {
		return nostr.Filter{}, false
	}
	return nostr.Filter{
		Kinds:   []int{pointer.Kind},
		Authors: []string{pointer.PublicKey},
		Tags:    nostr.TagMap{"d": []string{pointer.Identifier}},
	}, true
}
