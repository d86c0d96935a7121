package overlord

import (
	"context"
	"errors"
	"time"

	"github.com/gossipcore/relay/internal/job"
	"github.com/gossipcore/relay/internal/ops"
	"github.com/gossipcore/relay/internal/relay"
)

// classifyExclusion maps a Minion's exit error to the cooldown spec
// §4.1's "Minion exit handling" step 3 prescribes.
func classifyExclusion(err *ops.RelayError) time.Duration {
	if err == nil {
		return 0
	}
	switch {
	case errors.Is(err.Err, ops.ErrRelayRejectedUs):
		return 365 * 24 * time.Hour
	case errors.Is(err.Err, ops.ErrResetWithoutClose):
		return 30 * time.Second
	case err.Status != 0:
		switch {
		case err.Kind == ops.ErrorKindPermanent:
			return 86400 * time.Second
		case err.Status >= 400:
			return 90 * time.Second
		default:
			return 60 * time.Second
		}
	case err.Kind == ops.ErrorKindShutdown:
		return 0
	default:
		return 60 * time.Second
	}
}

// RecoverFromMinionExit implements spec §4.1's Minion exit handling.
func (o *Overlord) RecoverFromMinionExit(ctx context.Context, url relay.Url, minionErr *ops.RelayError) {
	o.broadcast.Unsubscribe(string(url))

	o.mu.Lock()
	jobs := o.connectedRelays[url]
	delete(o.connectedRelays, url)
	o.mu.Unlock()

	exclusion := classifyExclusion(minionErr)

	if exclusion > 0 {
		if rec, err := o.store.ReadRelay(ctx, url); err == nil && rec != nil {
			rec.BumpFailure()
			o.store.WriteRelay(ctx, rec)
		}
	}

	o.logger.LogMinionExit(string(url), exclusion, errOf(minionErr))
	o.picker.MarkDisconnected(url, time.Now(), exclusion)

	if o.shuttingDown {
		return
	}

	if err := o.picker.RefreshScores(ctx, o.followed, false); err != nil {
		o.logger.Warn("refresh scores after minion exit failed", "error", err)
	}
	o.runPickPasses(ctx)

	var persistent []job.Job
	for _, j := range jobs {
		if j.Reason.Persistent() {
			persistent = append(persistent, j)
		}
	}
	if len(persistent) > 0 {
		o.scheduleReengage(ctx, url, persistent, exclusion)
	}
}

// scheduleReengage re-engages url with its persistent jobs once the
// exclusion window has elapsed. Re-engagement still fires for very long
// exclusions (a permanent rejection is, in practice, "never"), matching
// the source's behavior rather than special-casing it.
func (o *Overlord) scheduleReengage(ctx context.Context, url relay.Url, jobs []job.Job, exclusion time.Duration) {
	go func() {
		timer := time.NewTimer(exclusion)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return
		}
		fresh := make([]job.Job, len(jobs))
		for i, j := range jobs {
			fresh[i] = job.New(j.Reason, j.Payload.Detail)
		}
		o.mu.Lock()
		o.pendingReengage[url] = append(o.pendingReengage[url], fresh...)
		o.mu.Unlock()
		o.Enqueue(job.ReengageMinion(url))
	}()
}

// reengage re-installs url's pending persistent jobs (queued by
// scheduleReengage) via EngageMinion.
func (o *Overlord) reengage(ctx context.Context, url relay.Url, _ []job.Job) error {
	o.mu.Lock()
	jobs := o.pendingReengage[url]
	delete(o.pendingReengage, url)
	o.mu.Unlock()
	if len(jobs) == 0 {
		return nil
	}
	return o.EngageMinion(ctx, url, jobs)
}

func errOf(e *ops.RelayError) error {
	if e == nil {
		return nil
	}
	return e
}
