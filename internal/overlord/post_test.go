package overlord

import (
	"context"
	"testing"

	"github.com/nbd-wtf/go-nostr"

	"github.com/gossipcore/relay/internal/job"
	"github.com/gossipcore/relay/internal/person"
	"github.com/gossipcore/relay/internal/relay"
)

type fakeSeenOn struct {
	urls map[string][]relay.Url
}

func (f *fakeSeenOn) SeenOn(ctx context.Context, id string) ([]relay.Url, error) {
	return f.urls[id], nil
}

// fakeSigner returns the unsigned event unchanged, standing in for the
// external signer.
type fakeSigner struct{}

func (fakeSigner) Sign(ctx context.Context, unsigned nostr.Event) (*nostr.Event, error) {
	return &unsigned, nil
}

func (fakeSigner) PublicKey() person.PublicKey { return person.PublicKey{} }

func writeRelayRecord(t *testing.T, o *Overlord, url relay.Url, bits relay.UsageBits) {
	t.Helper()
	rec := relay.NewRecord(url)
	rec.UsageBits = bits
	rec.Rank = 3
	o.store.(*fakeStore).records[url] = rec
}

func TestPostFanOutRelaysCoversWriteAndTaggedReadRelays(t *testing.T) {
	o := newTestOverlord(t)
	writeURL := relay.Url("wss://write.example")
	readURL := relay.Url("wss://read.example")
	writeRelayRecord(t, o, writeURL, relay.Write)

	tagged := mkPK(t, 5)
	o.store.(*fakeStore).scores[tagged] = []relay.ScoredRelay{
		{URL: readURL, Score: 100},
	}

	relays, err := o.postFanOutRelays(context.Background(), []person.PublicKey{tagged}, "")
	if err != nil {
		t.Fatalf("postFanOutRelays: %v", err)
	}

	found := map[relay.Url]bool{}
	for _, url := range relays {
		found[url] = true
	}
	if !found[writeURL] {
		t.Errorf("expected write relay %s in fan-out, got %+v", writeURL, relays)
	}
	if !found[readURL] {
		t.Errorf("expected tagged identity's read relay %s in fan-out, got %+v", readURL, relays)
	}
}

func TestPostFanOutRelaysIncludesSeenOnRelays(t *testing.T) {
	o := newTestOverlord(t)
	seenURL := relay.Url("wss://seen.example")
	o.seenOn = &fakeSeenOn{urls: map[string][]relay.Url{"target-event": {seenURL}}}

	relays, err := o.postFanOutRelays(context.Background(), nil, "target-event")
	if err != nil {
		t.Fatalf("postFanOutRelays: %v", err)
	}

	found := false
	for _, url := range relays {
		if url == seenURL {
			found = true
		}
	}
	if !found {
		t.Errorf("expected seen-on relay %s in fan-out, got %+v", seenURL, relays)
	}
}

func TestPostFanOutRelaysDedupes(t *testing.T) {
	o := newTestOverlord(t)
	url := relay.Url("wss://shared.example")
	writeRelayRecord(t, o, url, relay.Write)

	tagged := mkPK(t, 7)
	o.store.(*fakeStore).scores[tagged] = []relay.ScoredRelay{{URL: url, Score: 10}}
	o.seenOn = &fakeSeenOn{urls: map[string][]relay.Url{"e1": {url}}}

	relays, err := o.postFanOutRelays(context.Background(), []person.PublicKey{tagged}, "e1")
	if err != nil {
		t.Fatalf("postFanOutRelays: %v", err)
	}
	count := 0
	for _, u := range relays {
		if u == url {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected %s to appear exactly once, appeared %d times in %+v", url, count, relays)
	}
}

func TestReplyToIDPrefersExplicitReplyMarker(t *testing.T) {
	ev := &nostr.Event{
		Tags: nostr.Tags{
			{"e", "root-id", "", "root"},
			{"e", "reply-id", "", "reply"},
		},
	}
	if got := replyToID(ev); got != "reply-id" {
		t.Errorf("replyToID() = %q, want %q", got, "reply-id")
	}
}

func TestReplyToIDFallsBackToLastETag(t *testing.T) {
	ev := &nostr.Event{
		Tags: nostr.Tags{
			{"e", "first-id"},
			{"e", "last-id"},
		},
	}
	if got := replyToID(ev); got != "last-id" {
		t.Errorf("replyToID() = %q, want %q", got, "last-id")
	}
}

func TestReplyToIDNoETagsReturnsEmpty(t *testing.T) {
	ev := &nostr.Event{Tags: nostr.Tags{{"p", "somepubkey"}}}
	if got := replyToID(ev); got != "" {
		t.Errorf("replyToID() = %q, want empty", got)
	}
}

func TestTaggedPubkeysExtractsPTags(t *testing.T) {
	ev := &nostr.Event{
		Tags: nostr.Tags{
			{"p", "aa11ff0000000000000000000000000000000000000000000000000000001a"},
			{"e", "someevent"},
		},
	}
	got := taggedPubkeys(ev)
	if len(got) != 1 {
		t.Fatalf("expected exactly one tagged pubkey, got %+v", got)
	}
}

func TestAdvertiseRelayListEngagesWriteRelaysOnly(t *testing.T) {
	o := newTestOverlord(t)
	o.signer = fakeSigner{}
	writeURL := relay.Url("wss://write.example")
	readURL := relay.Url("wss://read.example")
	writeRelayRecord(t, o, writeURL, relay.Write)
	writeRelayRecord(t, o, readURL, relay.Read)

	if err := o.advertiseRelayList(context.Background()); err != nil {
		t.Fatalf("advertiseRelayList: %v", err)
	}

	o.mu.RLock()
	_, writeAlive := o.connectedRelays[writeURL]
	_, readAlive := o.connectedRelays[readURL]
	o.mu.RUnlock()

	if !writeAlive {
		t.Errorf("expected write relay to be engaged")
	}
	if readAlive {
		t.Errorf("expected read-only relay not to be engaged by advertiseRelayList")
	}
}

func TestFanOutToReadRelaysEngagesReadRelaysOnly(t *testing.T) {
	o := newTestOverlord(t)
	writeURL := relay.Url("wss://write.example")
	readURL := relay.Url("wss://read.example")
	writeRelayRecord(t, o, writeURL, relay.Write)
	writeRelayRecord(t, o, readURL, relay.Read)

	j := job.New(job.ReasonReadThread, job.Detail{Kind: job.DetailSubscribeThreadFeed})
	if err := o.fanOutToReadRelays(context.Background(), j); err != nil {
		t.Fatalf("fanOutToReadRelays: %v", err)
	}

	o.mu.RLock()
	_, readAlive := o.connectedRelays[readURL]
	_, writeAlive := o.connectedRelays[writeURL]
	o.mu.RUnlock()

	if !readAlive {
		t.Errorf("expected read relay to be engaged")
	}
	if writeAlive {
		t.Errorf("expected write-only relay not to be engaged by fanOutToReadRelays")
	}
}

func TestFanOutFetchPrefersConnectedRelaysOverWriteRelays(t *testing.T) {
	o := newTestOverlord(t)
	connectedURL := relay.Url("wss://connected.example")
	writeURL := relay.Url("wss://write.example")
	writeRelayRecord(t, o, writeURL, relay.Write)
	writeRelayRecord(t, o, connectedURL, relay.Read)
	o.connectedRelays[connectedURL] = []job.Job{job.New(job.ReasonFollow, job.Detail{Kind: job.DetailSubscribeGeneralFeed})}

	j := job.New(job.ReasonFetchEvent, job.Detail{Kind: job.DetailFetchEvent, EventID: "abc"})
	if err := o.fanOutFetch(context.Background(), j); err != nil {
		t.Fatalf("fanOutFetch: %v", err)
	}

	o.mu.RLock()
	jobs := append([]job.Job(nil), o.connectedRelays[connectedURL]...)
	_, writeEngaged := o.connectedRelays[writeURL]
	o.mu.RUnlock()

	if len(jobs) != 2 {
		t.Errorf("expected the fetch job added to the already-connected relay, got %+v", jobs)
	}
	if writeEngaged {
		t.Errorf("expected fanOutFetch not to touch write relays when a relay is already connected")
	}
}
