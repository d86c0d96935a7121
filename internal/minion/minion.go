// Package minion implements the per-relay worker: one Minion owns a
// single WebSocket connection, multiplexes named subscriptions over it,
// and reports job outcomes back to the Overlord.
package minion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/nbd-wtf/go-nostr"

	"github.com/gossipcore/relay/internal/job"
	"github.com/gossipcore/relay/internal/ops"
	"github.com/gossipcore/relay/internal/person"
	"github.com/gossipcore/relay/internal/relay"
)

const (
	handshakeTimeout     = 15 * time.Second
	capabilityTimeout    = 15 * time.Second
	statusProbeTimeout   = 5 * time.Second
	keepaliveInterval    = 55 * time.Second
	maxMessageBytes      = 16 << 20 // 16 MiB
)

// EventSink is the external collaborator events are delegated to: the
// ingest/deduplication pipeline, out of scope for this core.
type EventSink interface {
	HandleEvent(ctx context.Context, relayURL relay.Url, subName string, event *nostr.Event)
}

// NIP11 is the subset of a relay's capability document the core reads
// for compatibility decisions. Unknown fields are ignored.
type NIP11 struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	SupportedNIPs []int  `json:"supported_nips"`
	Software      string `json:"software"`
	Version       string `json:"version"`
}

type eventEnvelope struct {
	subID string
	event *nostr.Event
}

// Minion owns one relay connection for its lifetime. Run blocks until
// Shutdown is received or a fatal error occurs.
type Minion struct {
	URL relay.Url

	store      relay.Store
	sink       EventSink
	logger     *ops.Logger
	ourPubkey  person.PublicKey
	overlap    time.Duration
	feedChunk  time.Duration

	toOverlord chan<- job.Command
	inbox      <-chan job.Targeted

	conn *nostr.Relay
	subs *subscriptionTable
	nip11 *NIP11

	events chan eventEnvelope
	eose   chan string

	seenFetches map[string]struct{}
	tempCounter uint64
}

// Config collects a Minion's collaborators and tunables.
type Config struct {
	URL        relay.Url
	Store      relay.Store
	Sink       EventSink
	Logger     *ops.Logger
	OurPubkey  person.PublicKey
	Overlap    time.Duration
	FeedChunk  time.Duration
	ToOverlord chan<- job.Command
	Inbox      <-chan job.Targeted
}

// New constructs a Minion ready to Run. It does not connect.
func New(cfg Config) *Minion {
	return &Minion{
		URL:         cfg.URL,
		store:       cfg.Store,
		sink:        cfg.Sink,
		logger:      cfg.Logger.WithComponent("minion"),
		ourPubkey:   cfg.OurPubkey,
		overlap:     cfg.Overlap,
		feedChunk:   cfg.FeedChunk,
		toOverlord:  cfg.ToOverlord,
		inbox:       cfg.Inbox,
		subs:        newSubscriptionTable(),
		events:      make(chan eventEnvelope, 256),
		eose:        make(chan string, 32),
		seenFetches: make(map[string]struct{}),
	}
}

// Run connects, then races the keepalive ticker, inbound events, EOSE
// notices, and Overlord broadcasts until Shutdown or a fatal error.
// It returns a typed *ops.RelayError describing how it ended.
func (m *Minion) Run(ctx context.Context) *ops.RelayError {
	if err := m.connect(ctx); err != nil {
		return err
	}
	defer m.subs.closeAll()
	defer m.conn.Close()

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			// go-nostr manages protocol-level ping/pong on the
			// underlying websocket; this tick exists only so a dead
			// connection is noticed promptly rather than waiting for
			// the next inbound frame.
			if !m.conn.IsConnected() {
				return &ops.RelayError{Kind: ops.ErrorKindTransient, Err: fmt.Errorf("minion: %s: keepalive found connection closed", m.URL)}
			}

		case env, ok := <-m.events:
			if !ok {
				return &ops.RelayError{Kind: ops.ErrorKindTransient, Err: fmt.Errorf("minion: %s: event stream closed", m.URL)}
			}
			if entry, found := m.subs.bySubID(env.subID); found {
				m.sink.HandleEvent(ctx, m.URL, entry.name, env.event)
			}

		case subID, ok := <-m.eose:
			if !ok {
				continue
			}
			m.subs.markEOSE(subID)
			if entry, found := m.subs.bySubID(subID); found &&
				(strings.HasPrefix(entry.name, "temp_events_") || strings.HasPrefix(entry.name, "temp_metadata_")) {
				m.subs.close(entry.name)
			}

		case t, ok := <-m.inbox:
			if !ok {
				return &ops.RelayError{Kind: ops.ErrorKindShutdown, Err: ops.ErrShuttingDown}
			}
			if t.Target != job.TargetAll && t.Target != string(m.URL) {
				continue
			}
			if done, rerr := m.handlePayload(ctx, t.Payload); done {
				return rerr
			}
		}
	}
}

// connect performs the optional NIP-11 capability probe followed by the
// WebSocket handshake, then bumps the relay's success counter.
func (m *Minion) connect(ctx context.Context) *ops.RelayError {
	probeCtx, cancel := context.WithTimeout(ctx, capabilityTimeout)
	m.nip11 = fetchNIP11(probeCtx, string(m.URL))
	cancel()

	hsCtx, hsCancel := context.WithTimeout(ctx, handshakeTimeout)
	defer hsCancel()

	conn, err := nostr.RelayConnect(hsCtx, string(m.URL))
	if err != nil {
		status := probeHandshakeStatus(ctx, string(m.URL))
		m.logger.LogRelayConnection(string(m.URL), false, err)
		return &ops.RelayError{Kind: ops.ClassifyHandshakeStatus(status), Status: status, Err: err}
	}
	m.conn = conn
	m.logger.LogRelayConnection(string(m.URL), true, nil)

	if rec, rerr := m.store.ReadRelay(ctx, m.URL); rerr == nil && rec != nil {
		rec.BumpSuccess(time.Now())
		m.store.WriteRelay(ctx, rec)
	}
	return nil
}

// probeHandshakeStatus re-dials url directly to recover the HTTP status
// code a failed upgrade carried. go-nostr's RelayConnect discards the
// underlying *http.Response on a bad handshake, so a classification
// that needs the real status (the permanent set such as 401/403/404/
// 451/501/502 vs. everything else, per ClassifyHandshakeStatus) has to
// redial through the websocket
// client itself. Returns 0 if no response was ever received (dial
// never reached the server, DNS failure, connection refused, etc).
func probeHandshakeStatus(ctx context.Context, url string) int {
	probeCtx, cancel := context.WithTimeout(ctx, statusProbeTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(probeCtx, url, nil)
	if conn != nil {
		conn.CloseNow()
	}
	if resp != nil {
		return resp.StatusCode
	}
	_ = err
	return 0
}

// fetchNIP11 fetches the relay's capability document over HTTPS.
// Failure is non-fatal: a nil result just means no compatibility hints.
func fetchNIP11(ctx context.Context, wsURL string) *NIP11 {
	httpURL := strings.Replace(strings.Replace(wsURL, "wss://", "https://", 1), "ws://", "http://", 1)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("Accept", "application/nostr+json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var doc NIP11
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil
	}
	return &doc
}

// subscribe installs filters under name via the library connection and
// wires its Events/EOSE channels into the Minion's shared fan-in
// channels, replacing any existing subscription with that name. When a
// persistent subscription's filter set changes (a re-engage with a new
// job id under the same name), the Overlord is told via
// MinionJobUpdated so ConnectedRelays tracks the live job id.
func (m *Minion) subscribe(ctx context.Context, name string, jobID uint64, filters nostr.Filters) error {
	sub, err := m.conn.Subscribe(ctx, filters)
	if err != nil {
		return fmt.Errorf("minion: %s: subscribing %s: %w", m.URL, name, err)
	}
	oldJobID := m.subs.replace(name, sub, filters, jobID)
	if oldJobID != 0 && oldJobID != jobID {
		m.toOverlord <- job.MinionJobUpdated(m.URL, oldJobID, jobID)
	}

	go func(subID string, events <-chan *nostr.Event) {
		for ev := range events {
			m.events <- eventEnvelope{subID: subID, event: ev}
		}
	}(sub.GetID(), sub.Events)

	go func(subID string, eose <-chan struct{}) {
		if eose == nil {
			return
		}
		<-eose
		m.eose <- subID
	}(sub.GetID(), sub.EndOfStoredEvents)

	return nil
}
