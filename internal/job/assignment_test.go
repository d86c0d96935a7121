package job

import (
	"testing"

	"github.com/gossipcore/relay/internal/person"
	"github.com/gossipcore/relay/internal/relay"
)

func pk(b byte) person.PublicKey {
	var p person.PublicKey
	p[0] = b
	return p
}

func TestAssignmentMergeUnionsIdentities(t *testing.T) {
	url := relay.MustParseURL("wss://relay.example.com")
	a := NewAssignment(url, pk(1))
	b := NewAssignment(url, pk(2))

	if err := a.Merge(b); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if a.Len() != 2 || !a.Has(pk(1)) || !a.Has(pk(2)) {
		t.Errorf("expected union of both identities, got %+v", a.Identities)
	}
}

func TestAssignmentMergeDifferentRelaysErrors(t *testing.T) {
	a := NewAssignment(relay.MustParseURL("wss://a.example.com"), pk(1))
	b := NewAssignment(relay.MustParseURL("wss://b.example.com"), pk(2))

	if err := a.Merge(b); err == nil {
		t.Errorf("expected an error merging assignments for different relays")
	}
}
