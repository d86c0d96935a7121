package overlord

import (
	"context"
	"time"

	"github.com/gossipcore/relay/internal/job"
	"github.com/gossipcore/relay/internal/person"
	"github.com/gossipcore/relay/internal/relay"
)

// handleCommand dispatches one inbox entry. Failures are logged by the
// caller with relay context but never terminate the main loop, except
// CommandShutdown which sets shutting_down.
func (o *Overlord) handleCommand(ctx context.Context, cmd job.Command) error {
	switch cmd.Kind {
	case job.CommandAddRelay:
		return o.store.WriteRelayIfMissing(ctx, cmd.RelayURL)

	case job.CommandDropRelay:
		o.mu.Lock()
		delete(o.connectedRelays, cmd.RelayURL)
		o.mu.Unlock()
		o.minions.cancel(cmd.RelayURL)
		o.picker.MarkDisconnected(cmd.RelayURL, time.Now(), 0)
		return nil

	case job.CommandRankRelay:
		rec, err := o.store.ReadRelay(ctx, cmd.RelayURL)
		if err != nil {
			return err
		}
		if rec == nil {
			rec = relay.NewRecord(cmd.RelayURL)
		}
		rec.Rank = cmd.Rank
		if rec.Rank == 0 {
			o.minions.cancel(cmd.RelayURL)
		}
		return o.store.WriteRelay(ctx, rec)

	case job.CommandHideOrShowRelay:
		rec, err := o.store.ReadRelay(ctx, cmd.RelayURL)
		if err != nil {
			return err
		}
		if rec == nil {
			rec = relay.NewRecord(cmd.RelayURL)
		}
		rec.Hidden = cmd.Hidden
		return o.store.WriteRelay(ctx, rec)

	case job.CommandAdvertiseRelayList:
		return o.advertiseRelayList(ctx)

	case job.CommandPickRelays:
		o.runPickPasses(ctx)
		return nil

	case job.CommandReengageMinion:
		return o.reengage(ctx, cmd.RelayURL, nil)

	case job.CommandSubscribeConfig:
		return o.EngageMinion(ctx, cmd.RelayURL, []job.Job{job.New(job.ReasonConfig, job.Detail{Kind: job.DetailSubscribeOutbox})})

	case job.CommandSubscribeDiscover:
		return o.EngageMinion(ctx, cmd.RelayURL, []job.Job{job.New(job.ReasonDiscovery, job.Detail{Kind: job.DetailSubscribeDiscover})})

	case job.CommandFetchEvent:
		return o.fanOutFetch(ctx, job.New(job.ReasonFetchEvent, job.Detail{Kind: job.DetailFetchEvent, EventID: cmd.EventID}))

	case job.CommandFetchEventAddr:
		return o.fanOutFetch(ctx, job.New(job.ReasonFetchEvent, job.Detail{Kind: job.DetailFetchEventAddr, EventAddr: cmd.EventAddr}))

	case job.CommandPost:
		return o.post(ctx, cmd.Event, job.ReasonPostEvent)

	case job.CommandDeletePost:
		return o.post(ctx, cmd.Event, job.ReasonPostEvent)

	case job.CommandLike:
		return o.postReaction(ctx, cmd.Event, cmd.Target, job.ReasonPostLike)

	case job.CommandRepost:
		return o.postReaction(ctx, cmd.Event, cmd.Target, job.ReasonPostEvent)

	case job.CommandSetThreadFeed:
		return o.fanOutToReadRelays(ctx, job.New(job.ReasonReadThread, job.Detail{
			Kind: job.DetailSubscribeThreadFeed, RootID: cmd.ThreadRoot, AncestorIDs: cmd.ThreadAncestors,
		}))

	case job.CommandSetDmChannel:
		return o.fanOutToReadRelays(ctx, job.New(job.ReasonFetchDirectMessages, job.Detail{
			Kind: job.DetailSubscribeDmChannel, ChannelID: cmd.ChannelID,
		}))

	case job.CommandRefreshSubscribedMetadata:
		return nil

	case job.CommandUpdateMetadata:
		return o.fanOutFetch(ctx, job.New(job.ReasonFetchMetadata, job.Detail{
			Kind: job.DetailTempSubscribeMetadata, Identities: []person.PublicKey{cmd.Pubkey},
		}))

	case job.CommandUpdateMetadataInBulk:
		return o.fanOutFetch(ctx, job.New(job.ReasonFetchMetadata, job.Detail{
			Kind: job.DetailTempSubscribeMetadata, Identities: cmd.Pubkeys,
		}))

	case job.CommandVisibleNotesChanged:
		return nil

	case job.CommandPushPersonList:
		return nil

	case job.CommandPushMetadata:
		return nil

	case job.CommandMinionJobComplete:
		o.FinishJob(cmd.RelayURL, cmd.JobID)
		return nil

	case job.CommandMinionJobUpdated:
		o.minionJobUpdated(cmd.RelayURL, cmd.OldJobID, cmd.NewJobID)
		return nil

	case job.CommandShutdown:
		o.Shutdown(ctx)
		return nil
	}
	return nil
}

// minionJobUpdated folds a renumbered subscription id into
// ConnectedRelays: the row with OldJobID gets NewJobID; if a row with
// NewJobID already existed it is dropped rather than duplicated.
func (o *Overlord) minionJobUpdated(url relay.Url, oldID, newID uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	jobs := o.connectedRelays[url]
	out := jobs[:0]
	for _, j := range jobs {
		if j.MatchesID(newID) {
			continue
		}
		if j.MatchesID(oldID) {
			j.Payload.JobID = newID
		}
		out = append(out, j)
	}
	o.connectedRelays[url] = out
}
