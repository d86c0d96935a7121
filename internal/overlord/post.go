package overlord

import (
	"context"

	"github.com/nbd-wtf/go-nostr"

	"github.com/gossipcore/relay/internal/job"
	"github.com/gossipcore/relay/internal/person"
	"github.com/gossipcore/relay/internal/relay"
)

// maxFetchFanOut bounds how many relays a one-shot fetch (FetchEvent,
// FetchEventAddr, metadata refresh) is sent to: these are lookups, not
// coverage, so there is no need to ask every relay we know about.
const maxFetchFanOut = 3

// postFanOutRelays computes the relay set spec §4.1's "Post & Like
// compound behaviors" describes: every write relay with rank>0, the
// top-scored read relays of each tagged identity, and, when replyTo
// names an event, every relay that event was seen on.
func (o *Overlord) postFanOutRelays(ctx context.Context, tagged []person.PublicKey, replyTo string) ([]relay.Url, error) {
	seen := make(map[relay.Url]struct{})
	var out []relay.Url
	add := func(url relay.Url) {
		if _, ok := seen[url]; !ok {
			seen[url] = struct{}{}
			out = append(out, url)
		}
	}

	writeRelays, err := o.store.FilterRelays(ctx, func(r *relay.Record) bool {
		return r.Rank > 0 && r.UsageBits.Has(relay.Write)
	})
	if err != nil {
		return nil, err
	}
	for _, r := range writeRelays {
		add(r.URL)
	}

	for _, pk := range tagged {
		scored, err := o.store.BestRelays(ctx, pk, relay.DirectionRead)
		if err != nil {
			continue
		}
		for i, sr := range scored {
			if i >= 2 {
				break
			}
			add(sr.URL)
		}
	}

	if replyTo != "" && o.seenOn != nil {
		if urls, err := o.seenOn.SeenOn(ctx, replyTo); err == nil {
			for _, url := range urls {
				add(url)
			}
		}
	}

	return out, nil
}

// post signs nothing itself (the event already arrives signed from the
// external signer); it fans the event out to the Post compound relay
// set and engages each with a PostEvent job.
func (o *Overlord) post(ctx context.Context, event *nostr.Event, reason job.Reason) error {
	if event == nil {
		return nil
	}
	relays, err := o.postFanOutRelays(ctx, taggedPubkeys(event), replyToID(event))
	if err != nil {
		return err
	}
	for _, url := range relays {
		if err := o.EngageMinion(ctx, url, []job.Job{job.New(reason, job.Detail{Kind: job.DetailPostEvent, Event: event})}); err != nil {
			o.logger.Warn("engage for post failed", "relay", url, "error", err)
		}
	}
	return nil
}

// postReaction fans out event (a Like or Repost) the same way post does,
// additionally covering the target author's read relays and the relays
// the target event was seen on, so the reaction reaches wherever the
// original was seen.
func (o *Overlord) postReaction(ctx context.Context, event, target *nostr.Event, reason job.Reason) error {
	if event == nil {
		return nil
	}
	tagged := taggedPubkeys(event)
	targetID := ""
	if target != nil {
		tagged = append(tagged, pubkeyFromHex(target.PubKey))
		targetID = target.ID
	}
	relays, err := o.postFanOutRelays(ctx, tagged, targetID)
	if err != nil {
		return err
	}
	for _, url := range relays {
		if err := o.EngageMinion(ctx, url, []job.Job{job.New(reason, job.Detail{Kind: job.DetailPostEvent, Event: event})}); err != nil {
			o.logger.Warn("engage for reaction failed", "relay", url, "error", err)
		}
	}
	return nil
}

// fanOutFetch sends a one-shot fetch job to a small set of relays: the
// currently connected ones if any exist, otherwise the write relays.
func (o *Overlord) fanOutFetch(ctx context.Context, j job.Job) error {
	o.mu.RLock()
	var candidates []relay.Url
	for url := range o.connectedRelays {
		candidates = append(candidates, url)
	}
	o.mu.RUnlock()

	if len(candidates) == 0 {
		writeRelays, err := o.store.FilterRelays(ctx, func(r *relay.Record) bool {
			return r.Rank > 0 && r.UsageBits.Has(relay.Write)
		})
		if err != nil {
			return err
		}
		for _, r := range writeRelays {
			candidates = append(candidates, r.URL)
		}
	}

	for i, url := range candidates {
		if i >= maxFetchFanOut {
			break
		}
		if err := o.EngageMinion(ctx, url, []job.Job{j}); err != nil {
			o.logger.Warn("engage for fetch failed", "relay", url, "error", err)
		}
	}
	return nil
}

// fanOutToReadRelays sends j to every read relay with rank>0, used for
// SetThreadFeed and SetDmChannel.
func (o *Overlord) fanOutToReadRelays(ctx context.Context, j job.Job) error {
	readRelays, err := o.store.FilterRelays(ctx, func(r *relay.Record) bool {
		return r.Rank > 0 && r.UsageBits.Has(relay.Read)
	})
	if err != nil {
		return err
	}
	for _, r := range readRelays {
		if err := o.EngageMinion(ctx, r.URL, []job.Job{j}); err != nil {
			o.logger.Warn("engage for thread/dm subscription failed", "relay", r.URL, "error", err)
		}
	}
	return nil
}

// kindRelayListMetadata is NIP-65's relay list event kind.
const kindRelayListMetadata = 10002

// buildRelayListEvent assembles an unsigned NIP-65 relay list event: one
// "r" tag per known relay, tagged "read" or "write" when the relay is
// only usable in one direction, untagged (both) otherwise.
func buildRelayListEvent(ourPubkey person.PublicKey, relays []*relay.Record) nostr.Event {
	tags := make(nostr.Tags, 0, len(relays))
	for _, r := range relays {
		read := r.UsageBits.Has(relay.Read)
		write := r.UsageBits.Has(relay.Write)
		switch {
		case read && write:
			tags = append(tags, nostr.Tag{"r", string(r.URL)})
		case read:
			tags = append(tags, nostr.Tag{"r", string(r.URL), "read"})
		case write:
			tags = append(tags, nostr.Tag{"r", string(r.URL), "write"})
		}
	}
	return nostr.Event{
		PubKey: ourPubkey.String(),
		Kind:   kindRelayListMetadata,
		Tags:   tags,
	}
}

// advertiseRelayList engages every write relay with an Advertising job
// carrying our signed NIP-65 relay list event. Signing failure (no
// signer configured, or the signer's own error) is reported and the
// advertisement is skipped rather than engaging relays with an event
// that was never produced.
func (o *Overlord) advertiseRelayList(ctx context.Context) error {
	allRelays, err := o.store.FilterRelays(ctx, func(r *relay.Record) bool {
		return r.Rank > 0 && (r.UsageBits.Has(relay.Read) || r.UsageBits.Has(relay.Write))
	})
	if err != nil {
		return err
	}

	if o.signer == nil {
		o.reportStatus("cannot advertise relay list: no signer configured")
		return nil
	}
	unsigned := buildRelayListEvent(o.signer.PublicKey(), allRelays)
	signed, err := o.signer.Sign(ctx, unsigned)
	if err != nil {
		o.reportStatus("signing relay list event failed: " + err.Error())
		return nil
	}

	for _, r := range allRelays {
		if !r.UsageBits.Has(relay.Write) {
			continue
		}
		if err := o.EngageMinion(ctx, r.URL, []job.Job{job.New(job.ReasonAdvertising, job.Detail{Kind: job.DetailPostEvent, Event: signed})}); err != nil {
			o.logger.Warn("engage for advertise failed", "relay", r.URL, "error", err)
		}
	}
	return nil
}

func (o *Overlord) reportStatus(message string) {
	o.logger.Warn(message)
	if o.status != nil {
		o.status.Report(message)
	}
}

func taggedPubkeys(event *nostr.Event) []person.PublicKey {
	var out []person.PublicKey
	for _, tag := range event.Tags {
		if len(tag) >= 2 && tag[0] == "p" {
			out = append(out, pubkeyFromHex(tag[1]))
		}
	}
	return out
}

// replyToID returns the event id of the "e" tag marked "reply" (or, in
// its absence, the last "e" tag per NIP-10's deprecated positional
// convention), or "" if event is not a reply.
func replyToID(event *nostr.Event) string {
	var last string
	for _, tag := range event.Tags {
		if len(tag) < 2 || tag[0] != "e" {
			continue
		}
		last = tag[1]
		if len(tag) >= 4 && tag[3] == "reply" {
			return tag[1]
		}
	}
	return last
}

func pubkeyFromHex(hex string) person.PublicKey {
	pk, err := person.ParsePublicKeyHex(hex)
	if err != nil {
		return person.PublicKey{}
	}
	return pk
}
