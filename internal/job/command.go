package job

import (
	"github.com/nbd-wtf/go-nostr"

	"github.com/gossipcore/relay/internal/person"
	"github.com/gossipcore/relay/internal/relay"
)

// CommandKind tags a Command the same way DetailKind tags a Payload:
// Go has no tagged union, so Command carries every variant's fields.
type CommandKind int

const (
	CommandAddRelay CommandKind = iota
	CommandDropRelay
	CommandRankRelay
	CommandHideOrShowRelay
	CommandAdvertiseRelayList
	CommandPickRelays
	CommandReengageMinion
	CommandSubscribeConfig
	CommandSubscribeDiscover
	CommandFetchEvent
	CommandFetchEventAddr
	CommandPost
	CommandDeletePost
	CommandLike
	CommandRepost
	CommandSetThreadFeed
	CommandSetDmChannel
	CommandRefreshSubscribedMetadata
	CommandUpdateMetadata
	CommandUpdateMetadataInBulk
	CommandVisibleNotesChanged
	CommandPushPersonList
	CommandPushMetadata
	CommandMinionJobComplete
	CommandMinionJobUpdated
	CommandShutdown
)

func (k CommandKind) String() string {
	names := [...]string{
		"AddRelay", "DropRelay", "RankRelay", "HideOrShowRelay", "AdvertiseRelayList",
		"PickRelays", "ReengageMinion", "SubscribeConfig", "SubscribeDiscover",
		"FetchEvent", "FetchEventAddr", "Post", "DeletePost", "Like", "Repost",
		"SetThreadFeed", "SetDmChannel", "RefreshSubscribedMetadata", "UpdateMetadata",
		"UpdateMetadataInBulk", "VisibleNotesChanged", "PushPersonList", "PushMetadata",
		"MinionJobComplete", "MinionJobUpdated", "Shutdown",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "Unknown"
}

// Command is a single entry in the Overlord's inbox. All commands are
// enqueued and processed strictly FIFO by the Overlord's main loop.
type Command struct {
	Kind CommandKind

	// AddRelay, DropRelay, RankRelay, HideOrShowRelay, ReengageMinion,
	// SubscribeConfig/Discover, FetchEvent/FetchEventAddr,
	// MinionJobComplete/MinionJobUpdated
	RelayURL relay.Url

	// RankRelay
	Rank uint8

	// HideOrShowRelay
	Hidden bool

	// FetchEvent
	EventID string

	// FetchEventAddr
	EventAddr string

	// Post, Like, Repost, DeletePost
	Event *nostr.Event

	// Like, Repost: the event being reacted to / reposted, used to
	// compute the fan-out set (read relays of the tagged identity,
	// relays an ancestor was seen on).
	Target *nostr.Event

	// SetThreadFeed
	ThreadRoot      string
	ThreadAncestors []string

	// SetDmChannel
	ChannelID string

	// UpdateMetadata
	Pubkey person.PublicKey

	// UpdateMetadataInBulk, PushPersonList
	Pubkeys []person.PublicKey

	// MinionJobComplete
	JobID uint64

	// MinionJobUpdated
	OldJobID uint64
	NewJobID uint64
}

// AddRelay builds a CommandAddRelay command.
func AddRelay(url relay.Url) Command { return Command{Kind: CommandAddRelay, RelayURL: url} }

// DropRelay builds a CommandDropRelay command.
func DropRelay(url relay.Url) Command { return Command{Kind: CommandDropRelay, RelayURL: url} }

// RankRelay builds a CommandRankRelay command.
func RankRelay(url relay.Url, rank uint8) Command {
	return Command{Kind: CommandRankRelay, RelayURL: url, Rank: rank}
}

// HideOrShowRelay builds a CommandHideOrShowRelay command.
func HideOrShowRelay(url relay.Url, hidden bool) Command {
	return Command{Kind: CommandHideOrShowRelay, RelayURL: url, Hidden: hidden}
}

// PickRelays builds a CommandPickRelays command.
func PickRelays() Command { return Command{Kind: CommandPickRelays} }

// ReengageMinion builds a CommandReengageMinion command.
func ReengageMinion(url relay.Url) Command {
	return Command{Kind: CommandReengageMinion, RelayURL: url}
}

// FetchEvent builds a CommandFetchEvent command.
func FetchEvent(id string) Command { return Command{Kind: CommandFetchEvent, EventID: id} }

// FetchEventAddr builds a CommandFetchEventAddr command.
func FetchEventAddr(addr string) Command {
	return Command{Kind: CommandFetchEventAddr, EventAddr: addr}
}

// Post builds a CommandPost command for a freshly signed event.
func Post(event *nostr.Event) Command { return Command{Kind: CommandPost, Event: event} }

// DeletePost builds a CommandDeletePost command.
func DeletePost(event *nostr.Event) Command { return Command{Kind: CommandDeletePost, Event: event} }

// Like builds a CommandLike command; target is the event being reacted to.
func Like(event, target *nostr.Event) Command {
	return Command{Kind: CommandLike, Event: event, Target: target}
}

// Repost builds a CommandRepost command; target is the event being reposted.
func Repost(event, target *nostr.Event) Command {
	return Command{Kind: CommandRepost, Event: event, Target: target}
}

// SetThreadFeed builds a CommandSetThreadFeed command.
func SetThreadFeed(root string, ancestors []string) Command {
	return Command{Kind: CommandSetThreadFeed, ThreadRoot: root, ThreadAncestors: ancestors}
}

// SetDmChannel builds a CommandSetDmChannel command.
func SetDmChannel(channelID string) Command {
	return Command{Kind: CommandSetDmChannel, ChannelID: channelID}
}

// RefreshSubscribedMetadata builds a CommandRefreshSubscribedMetadata command.
func RefreshSubscribedMetadata() Command { return Command{Kind: CommandRefreshSubscribedMetadata} }

// UpdateMetadata builds a CommandUpdateMetadata command for one identity.
func UpdateMetadata(pk person.PublicKey) Command {
	return Command{Kind: CommandUpdateMetadata, Pubkey: pk}
}

// UpdateMetadataInBulk builds a CommandUpdateMetadataInBulk command.
func UpdateMetadataInBulk(pks []person.PublicKey) Command {
	return Command{Kind: CommandUpdateMetadataInBulk, Pubkeys: pks}
}

// VisibleNotesChanged builds a CommandVisibleNotesChanged command.
func VisibleNotesChanged() Command { return Command{Kind: CommandVisibleNotesChanged} }

// PushPersonList builds a CommandPushPersonList command.
func PushPersonList(pks []person.PublicKey) Command {
	return Command{Kind: CommandPushPersonList, Pubkeys: pks}
}

// PushMetadata builds a CommandPushMetadata command.
func PushMetadata() Command { return Command{Kind: CommandPushMetadata} }

// MinionJobComplete builds a CommandMinionJobComplete command.
func MinionJobComplete(url relay.Url, jobID uint64) Command {
	return Command{Kind: CommandMinionJobComplete, RelayURL: url, JobID: jobID}
}

// MinionJobUpdated builds a CommandMinionJobUpdated command.
func MinionJobUpdated(url relay.Url, oldID, newID uint64) Command {
	return Command{Kind: CommandMinionJobUpdated, RelayURL: url, OldJobID: oldID, NewJobID: newID}
}

// Shutdown builds a CommandShutdown command.
func Shutdown() Command { return Command{Kind: CommandShutdown} }
