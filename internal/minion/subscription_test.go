package minion

import (
	"testing"

	"github.com/nbd-wtf/go-nostr"
)

func TestSubscriptionTableReplaceReturnsZeroForNewName(t *testing.T) {
	subs := newSubscriptionTable()
	old := subs.replace("general_feed", &nostr.Subscription{}, nostr.Filters{}, 7)
	if old != 0 {
		t.Errorf("old job id = %d, want 0 for a name with no prior entry", old)
	}
}

func TestSubscriptionTableReplaceReturnsPriorJobID(t *testing.T) {
	subs := newSubscriptionTable()
	subs.replace("general_feed", &nostr.Subscription{}, nostr.Filters{}, 7)
	old := subs.replace("general_feed", &nostr.Subscription{}, nostr.Filters{}, 9)
	if old != 7 {
		t.Errorf("old job id = %d, want 7 (the id installed by the first replace)", old)
	}
	entry, ok := subs.get("general_feed")
	if !ok || entry.jobID != 9 {
		t.Errorf("general_feed entry job id = %+v, want 9", entry)
	}
}
