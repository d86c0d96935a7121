// Package overlord implements the supervisor: it owns the connected
// relay fleet, dispatches jobs to Minions, applies failure-driven
// backoff, and drives the Picker.
package overlord

import (
	"context"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/gossipcore/relay/internal/job"
	"github.com/gossipcore/relay/internal/minion"
	"github.com/gossipcore/relay/internal/ops"
	"github.com/gossipcore/relay/internal/person"
	"github.com/gossipcore/relay/internal/picker"
	"github.com/gossipcore/relay/internal/relay"
)

// shutdownWatchdog is how often Shutdown is re-broadcast while Minion
// tasks are still draining.
const shutdownWatchdog = 10 * time.Second

// gcInterval is how often Run drives a Picker garbage-collection pass,
// per spec §4.3's "periodically" wording.
const gcInterval = 5 * time.Minute

// Signer is the external collaborator that produces signed events for
// Post/Like/Repost/DeletePost. Signing and key management are out of
// scope for this core.
type Signer interface {
	Sign(ctx context.Context, unsigned nostr.Event) (*nostr.Event, error)
	PublicKey() person.PublicKey
}

// StatusReporter receives user-visible status messages: connection
// problems, permanent rejections, invalid inputs, progress notes.
type StatusReporter interface {
	Report(message string, fields ...any)
}

// SeenOnLookup is the narrow slice of the ingest pipeline's contract the
// Post/Like compound fan-out needs: which relays have already shown us a
// given event, so a reply or reaction also reaches wherever its target
// was seen.
type SeenOnLookup interface {
	SeenOn(ctx context.Context, id string) ([]relay.Url, error)
}

// Overlord is the singleton supervisor. All mutations to the
// relay -> jobs mapping, all Minion spawns, and all backoff decisions
// happen here; every other subsystem interacts by enqueuing commands.
type Overlord struct {
	store  relay.Store
	signer Signer
	sink   minion.EventSink
	seenOn SeenOnLookup
	status StatusReporter
	logger *ops.Logger

	picker    *picker.Picker
	broadcast *job.Broadcast

	mu              sync.RWMutex
	connectedRelays map[relay.Url][]job.Job
	pendingReengage map[relay.Url][]job.Job

	inbox    *inbox
	minions  *joinSet
	settings relay.Settings

	shuttingDown bool
	followed     []person.PublicKey
}

// Deps collects an Overlord's external collaborators.
type Deps struct {
	Store  relay.Store
	Signer Signer
	Sink   minion.EventSink
	SeenOn SeenOnLookup
	Status StatusReporter
	Logger *ops.Logger
}

// New constructs an Overlord. Call Run to start its main loop.
func New(deps Deps, numRelaysPerPerson uint8, maxRelays int) *Overlord {
	return &Overlord{
		store:           deps.Store,
		signer:          deps.Signer,
		sink:            deps.Sink,
		seenOn:          deps.SeenOn,
		status:          deps.Status,
		logger:          deps.Logger.WithComponent("overlord"),
		picker:          picker.New(deps.Store, numRelaysPerPerson, maxRelays),
		broadcast:       job.NewBroadcast(),
		connectedRelays: make(map[relay.Url][]job.Job),
		pendingReengage: make(map[relay.Url][]job.Job),
		inbox:           newInbox(),
		minions:         newJoinSet(),
	}
}

// Enqueue hands a command to the Overlord's inbox. Fire-and-forget:
// results are observed through shared state and status messages.
func (o *Overlord) Enqueue(cmd job.Command) { o.inbox.Enqueue(cmd) }

// Startup runs the sequence from spec §4.1: load settings, initialize
// the picker, and (unless offline) pick relays and engage the standing
// Discovery/Config/FetchMentions subscriptions.
func (o *Overlord) Startup(ctx context.Context, followed []person.PublicKey, discoverRelays []relay.Url) error {
	settings, err := o.store.ReadSettings(ctx)
	if err != nil {
		return err
	}
	o.settings = settings
	o.followed = followed

	if err := o.picker.RefreshScores(ctx, followed, true); err != nil {
		return err
	}

	if o.settings.Offline {
		return nil
	}

	o.runPickPasses(ctx)

	for _, pk := range followed {
		for _, url := range discoverRelays {
			o.EngageMinion(ctx, url, []job.Job{job.New(job.ReasonDiscovery, job.Detail{
				Kind:       job.DetailSubscribeDiscover,
				Identities: []person.PublicKey{pk},
			})})
		}
	}

	writeRelays, err := o.store.FilterRelays(ctx, func(r *relay.Record) bool {
		return r.Rank > 0 && r.UsageBits.Has(relay.Write)
	})
	if err != nil {
		return err
	}
	for _, r := range writeRelays {
		o.EngageMinion(ctx, r.URL, []job.Job{job.New(job.ReasonConfig, job.Detail{Kind: job.DetailSubscribeOutbox})})
	}

	readRelays, err := o.store.FilterRelays(ctx, func(r *relay.Record) bool {
		return r.Rank > 0 && r.UsageBits.Has(relay.Read)
	})
	if err != nil {
		return err
	}
	for _, r := range readRelays {
		o.EngageMinion(ctx, r.URL, []job.Job{job.New(job.ReasonFetchMentions, job.Detail{Kind: job.DetailSubscribeMentions})})
	}

	return nil
}

// Run is the main loop: on each turn, either handle the next inbox
// command or observe a Minion task's completion. It exits once
// shutting_down is observed with no Minions left, or the inbox closes.
func (o *Overlord) Run(ctx context.Context) {
	gcTicker := time.NewTicker(gcInterval)
	defer gcTicker.Stop()

	for {
		if o.shuttingDown && o.minions.len() == 0 {
			return
		}

		select {
		case exit, ok := <-o.minions.exits:
			if !ok {
				return
			}
			o.minions.forget(exit.URL)
			o.RecoverFromMinionExit(ctx, exit.URL, exit.Err)

		case cmd, ok := <-o.inbox.C():
			if !ok {
				return
			}
			if err := o.handleCommand(ctx, cmd); err != nil {
				o.logger.Warn("command handler failed", "kind", cmd.Kind.String(), "error", err)
			}

		case <-gcTicker.C:
			o.garbageCollect(ctx)
		}

		if o.shuttingDown && o.minions.len() == 0 {
			return
		}
	}
}

// garbageCollect implements spec §4.3's periodic garbage collection
// step: find relays whose covered identities are all followed-off, then
// complete their Follow jobs so maybe_disconnect can drop the relay.
func (o *Overlord) garbageCollect(ctx context.Context) {
	stillFollowed := make(map[person.PublicKey]struct{}, len(o.followed))
	for _, pk := range o.followed {
		stillFollowed[pk] = struct{}{}
	}
	for _, url := range o.picker.GarbageCollect(stillFollowed) {
		o.FinishJobsByReason(url, job.ReasonFollow)
		o.picker.CompleteStale(url)
	}
}

// runPickPasses drives the Picker to exhaustion, engaging a Minion for
// every winning assignment along the way.
func (o *Overlord) runPickPasses(ctx context.Context) {
	for {
		winner, assignment, err := o.picker.Pick(time.Now())
		if err != nil {
			o.logger.LogPick("", 0, err)
			return
		}
		o.logger.LogPick(string(winner), assignment.Len(), nil)
		o.EngageMinion(ctx, winner, []job.Job{job.New(job.ReasonFollow, job.Detail{
			Kind:       job.DetailSubscribeGeneralFeed,
			Identities: identitySlice(assignment),
		})})
	}
}

func identitySlice(a job.Assignment) []person.PublicKey {
	out := make([]person.PublicKey, 0, a.Len())
	for pk := range a.Identities {
		out = append(out, pk)
	}
	return out
}

// EngageMinion implements spec §4.1's engage_minion contract.
func (o *Overlord) EngageMinion(ctx context.Context, url relay.Url, jobs []job.Job) error {
	if o.settings.Offline {
		return nil
	}
	if len(jobs) == 0 {
		return nil
	}

	rec, err := o.store.ReadRelay(ctx, url)
	if err != nil {
		return err
	}
	if rec != nil && rec.Rank == 0 {
		return nil
	}
	if rec == nil {
		if err := o.store.WriteRelayIfMissing(ctx, url); err != nil {
			return err
		}
	}

	o.mu.Lock()
	existing, alive := o.connectedRelays[url]
	if alive {
		existing = installJobs(existing, jobs)
		o.connectedRelays[url] = existing
	} else {
		o.connectedRelays[url] = installJobs(nil, jobs)
	}
	o.mu.Unlock()

	if alive {
		for _, j := range jobs {
			o.broadcast.Send(string(url), j.Payload)
		}
		return nil
	}

	o.picker.MarkConnected(url)
	inboxCh := o.broadcast.Subscribe(string(url))
	m := minion.New(minion.Config{
		URL:        url,
		Store:      o.store,
		Sink:       o.sink,
		Logger:     o.logger,
		OurPubkey:  o.signerPubkey(),
		Overlap:    o.settings.Overlap,
		FeedChunk:  o.settings.FeedChunk,
		ToOverlord: o.commandSink(),
		Inbox:      inboxCh,
	})
	for _, j := range jobs {
		o.broadcast.Send(string(url), j.Payload)
	}
	o.minions.spawn(ctx, url, m.Run)
	return nil
}

func (o *Overlord) signerPubkey() person.PublicKey {
	if o.signer == nil {
		return person.PublicKey{}
	}
	return o.signer.PublicKey()
}

// commandSink returns a channel that feeds commands from Minions back
// into the Overlord's own inbox.
func (o *Overlord) commandSink() chan<- job.Command {
	ch := make(chan job.Command, 64)
	go func() {
		for cmd := range ch {
			o.inbox.Enqueue(cmd)
		}
	}()
	return ch
}

// installJobs appends newJobs to existing, superseding any existing
// persistent job sharing a reason with an incoming persistent job.
func installJobs(existing []job.Job, newJobs []job.Job) []job.Job {
	for _, nj := range newJobs {
		if nj.Reason.Persistent() {
			out := existing[:0]
			for _, ej := range existing {
				if ej.Reason == nj.Reason {
					continue
				}
				out = append(out, ej)
			}
			existing = out
		}
		existing = append(existing, nj)
	}
	return existing
}

// FinishJob implements spec §4.1's finish_job: remove matching jobs,
// then call MaybeDisconnectRelay.
func (o *Overlord) FinishJob(url relay.Url, jobID uint64) {
	o.mu.Lock()
	jobs := o.connectedRelays[url]
	out := jobs[:0]
	for _, j := range jobs {
		if j.MatchesID(jobID) {
			continue
		}
		out = append(out, j)
	}
	o.connectedRelays[url] = out
	o.mu.Unlock()

	o.MaybeDisconnectRelay(url)
}

// FinishJobsByReason implements the by-reason form of spec §4.1's
// finish_job (gossip-lib's finish_job(relay_url, None,
// Some(reason))): remove every job matching reason rather than a
// single job id, then call MaybeDisconnectRelay.
func (o *Overlord) FinishJobsByReason(url relay.Url, reason job.Reason) {
	o.mu.Lock()
	jobs := o.connectedRelays[url]
	out := jobs[:0]
	for _, j := range jobs {
		if j.Reason == reason {
			continue
		}
		out = append(out, j)
	}
	o.connectedRelays[url] = out
	o.mu.Unlock()

	o.MaybeDisconnectRelay(url)
}

// MaybeDisconnectRelay sends a targeted Shutdown when url's job list is
// empty, or contains only a single FetchAugments entry.
func (o *Overlord) MaybeDisconnectRelay(url relay.Url) {
	o.mu.RLock()
	jobs := o.connectedRelays[url]
	o.mu.RUnlock()

	shouldDisconnect := len(jobs) == 0 || (len(jobs) == 1 && jobs[0].Reason == job.ReasonFetchAugments)
	if shouldDisconnect {
		o.broadcast.Send(string(url), job.ShutdownPayload())
	}
}

// Shutdown sets shutting_down, broadcasts Shutdown to every Minion, and
// returns once every Minion task has joined (or the watchdog has
// re-broadcast repeatedly while waiting).
func (o *Overlord) Shutdown(ctx context.Context) {
	o.mu.Lock()
	o.shuttingDown = true
	o.mu.Unlock()

	o.broadcast.Send(job.TargetAll, job.ShutdownPayload())
	o.inbox.Close()

	ticker := time.NewTicker(shutdownWatchdog)
	defer ticker.Stop()

	for o.minions.len() > 0 {
		select {
		case exit := <-o.minions.exits:
			o.minions.forget(exit.URL)
		case <-ticker.C:
			o.broadcast.Send(job.TargetAll, job.ShutdownPayload())
		case <-ctx.Done():
			o.minions.cancelAll()
			return
		}
	}
}
