package minion

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/nbd-wtf/go-nostr"

	"github.com/gossipcore/relay/internal/job"
	"github.com/gossipcore/relay/internal/relay"
)

// newFakeRelayServer accepts a single websocket connection and answers
// every EVENT frame with an OK. Every raw frame it reads is forwarded on
// the returned channel so a test can assert on what was published.
func newFakeRelayServer(t *testing.T) (wsURL relay.Url, frames chan []byte) {
	t.Helper()
	frames = make(chan []byte, 8)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		ctx := r.Context()
		for {
			_, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			frames <- data

			var frame []json.RawMessage
			if json.Unmarshal(data, &frame) != nil || len(frame) < 2 {
				continue
			}
			var kind string
			json.Unmarshal(frame[0], &kind)
			if kind != "EVENT" {
				continue
			}
			var ev nostr.Event
			if json.Unmarshal(frame[1], &ev) != nil {
				continue
			}
			ok, _ := json.Marshal([]any{"OK", ev.ID, true, ""})
			c.Write(ctx, websocket.MessageText, ok)
		}
	}))
	t.Cleanup(srv.Close)
	return relay.MustParseURL("ws://" + strings.TrimPrefix(srv.URL, "http://")), frames
}

// Regression test for the nil-pointer panic a DetailPostEvent payload
// with no Event used to cause: handlePayload must refuse gracefully
// instead of dereferencing a nil *nostr.Event.
func TestHandlePayloadPostEventNilEventDoesNotPanic(t *testing.T) {
	m := New(Config{URL: relay.MustParseURL("wss://unused.example.com"), Logger: testLogger()})
	payload := job.Payload{JobID: 1, Detail: job.Detail{Kind: job.DetailPostEvent}}

	done, rerr := m.handlePayload(context.Background(), payload)
	if done {
		t.Errorf("handlePayload should not request exit for a missing event")
	}
	if rerr != nil {
		t.Errorf("handlePayload returned %v, want nil", rerr)
	}
}

// This drives a DetailPostEvent payload end to end through a connected
// Minion: connect to a fake relay, then hand handlePayload a signed
// event, and confirm it reaches the wire and completion is reported.
func TestHandlePayloadPostEventPublishesSignedEvent(t *testing.T) {
	wsURL, frames := newFakeRelayServer(t)
	toOverlord := make(chan job.Command, 4)

	m := New(Config{
		URL:        wsURL,
		Store:      fakeStore{},
		Logger:     testLogger(),
		ToOverlord: toOverlord,
	})

	if rerr := m.connect(context.Background()); rerr != nil {
		t.Fatalf("connect: %v", rerr)
	}
	defer m.conn.Close()

	event := &nostr.Event{
		ID:        strings.Repeat("a", 64),
		PubKey:    strings.Repeat("b", 64),
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Kind:      1,
		Content:   "hello",
	}
	payload := job.Payload{JobID: 42, Detail: job.Detail{Kind: job.DetailPostEvent, Event: event}}

	done, rerr := m.handlePayload(context.Background(), payload)
	if done || rerr != nil {
		t.Fatalf("handlePayload(post) = (%v, %v), want (false, nil)", done, rerr)
	}

	select {
	case data := <-frames:
		if !strings.Contains(string(data), `"EVENT"`) {
			t.Errorf("expected an EVENT frame on the wire, got %s", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fake relay never received the published event")
	}

	select {
	case cmd := <-toOverlord:
		if cmd.Kind != job.CommandMinionJobComplete || cmd.JobID != 42 {
			t.Errorf("unexpected completion command: %+v", cmd)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("minion never reported job completion")
	}
}
