package job

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/nbd-wtf/go-nostr"

	"github.com/gossipcore/relay/internal/person"
)

// DetailKind tags the variant carried by a Payload. Go has no tagged
// union, so Detail carries every variant's fields and Kind says which
// ones are meaningful — mirroring the Rust enum this is standing in for.
type DetailKind int

const (
	DetailSubscribeGeneralFeed DetailKind = iota
	DetailSubscribeMentions
	DetailSubscribeOutbox
	DetailSubscribeDiscover
	DetailSubscribeThreadFeed
	DetailSubscribeDmChannel
	DetailSubscribeAugments
	DetailTempSubscribeMetadata
	DetailFetchEvent
	DetailFetchEventAddr
	DetailPostEvent
	DetailShutdown
	DetailUnsubscribeThreadFeed
)

// Detail is the payload detail for a job. Only the fields relevant to
// Kind are populated; the rest are zero.
type Detail struct {
	Kind DetailKind

	// SubscribeGeneralFeed, SubscribeDiscover, TempSubscribeMetadata
	Identities []person.PublicKey

	// SubscribeThreadFeed
	RootID      string
	AncestorIDs []string

	// SubscribeDmChannel
	ChannelID string

	// SubscribeAugments
	AugmentIDs []string

	// FetchEvent
	EventID string

	// FetchEventAddr
	EventAddr string

	// PostEvent
	Event *nostr.Event
}

// Payload is what the Overlord hands a Minion: a job id to correlate
// completion against, and the detail describing what to do.
type Payload struct {
	JobID  uint64
	Detail Detail
}

// NewJobID returns a nonzero random 64-bit job id. Zero is reserved for
// "shutdown / no specific job" per the job-identity design note.
func NewJobID() uint64 {
	for {
		var buf [8]byte
		if _, err := rand.Read(buf[:]); err != nil {
			panic("job: reading random job id: " + err.Error())
		}
		id := binary.BigEndian.Uint64(buf[:])
		if id != 0 {
			return id
		}
	}
}

// ShutdownPayload is the targeted Shutdown payload sent to a single
// Minion, or broadcast to all of them. Its job id is always zero.
func ShutdownPayload() Payload {
	return Payload{JobID: 0, Detail: Detail{Kind: DetailShutdown}}
}
