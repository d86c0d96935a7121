// Package job defines the RelayJob, RelayAssignment and Overlord command
// types that bridge the Overlord, Minion and Picker.
package job

import "fmt"

// Reason identifies why a relay job exists. Each reason is either
// persistent (survives Minion exit via re-engage) or ephemeral (dropped
// on exit and not automatically retried).
type Reason int

const (
	ReasonFollow Reason = iota
	ReasonFetchMentions
	ReasonConfig
	ReasonAdvertising
	ReasonPostEvent
	ReasonPostLike
	ReasonPostContacts
	ReasonPostMetadata
	ReasonFetchMetadata
	ReasonFetchEvent
	ReasonFetchAugments
	ReasonDiscovery
	ReasonReadThread
	ReasonFetchDirectMessages
)

func (r Reason) String() string {
	switch r {
	case ReasonFollow:
		return "Follow"
	case ReasonFetchMentions:
		return "FetchMentions"
	case ReasonConfig:
		return "Config"
	case ReasonAdvertising:
		return "Advertising"
	case ReasonPostEvent:
		return "PostEvent"
	case ReasonPostLike:
		return "PostLike"
	case ReasonPostContacts:
		return "PostContacts"
	case ReasonPostMetadata:
		return "PostMetadata"
	case ReasonFetchMetadata:
		return "FetchMetadata"
	case ReasonFetchEvent:
		return "FetchEvent"
	case ReasonFetchAugments:
		return "FetchAugments"
	case ReasonDiscovery:
		return "Discovery"
	case ReasonReadThread:
		return "ReadThread"
	case ReasonFetchDirectMessages:
		return "FetchDirectMessages"
	default:
		return fmt.Sprintf("Reason(%d)", int(r))
	}
}

// Persistent reports whether jobs with this reason are re-engaged after a
// Minion exit once its exclusion period has elapsed.
func (r Reason) Persistent() bool {
	switch r {
	case ReasonFollow, ReasonFetchMentions, ReasonConfig, ReasonReadThread, ReasonFetchDirectMessages:
		return true
	default:
		return false
	}
}
