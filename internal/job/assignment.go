package job

import (
	"fmt"

	"github.com/gossipcore/relay/internal/person"
	"github.com/gossipcore/relay/internal/relay"
)

// Assignment pairs a relay with the set of identities it is covering for
// the Follow purpose. Produced by the picker, installed into the
// Overlord's ConnectedRelays, and destroyed when the Minion exits.
type Assignment struct {
	RelayURL   relay.Url
	Identities map[person.PublicKey]struct{}
}

// NewAssignment builds an assignment covering the given identities.
func NewAssignment(url relay.Url, identities ...person.PublicKey) Assignment {
	a := Assignment{RelayURL: url, Identities: make(map[person.PublicKey]struct{}, len(identities))}
	for _, id := range identities {
		a.Identities[id] = struct{}{}
	}
	return a
}

// Merge unions other's identities into a, provided both name the same
// relay. Merging assignments for different relays is a programming
// error in the caller, not a recoverable condition.
func (a *Assignment) Merge(other Assignment) error {
	if a.RelayURL != other.RelayURL {
		return fmt.Errorf("job: cannot merge assignment for %s into assignment for %s", other.RelayURL, a.RelayURL)
	}
	if a.Identities == nil {
		a.Identities = make(map[person.PublicKey]struct{}, len(other.Identities))
	}
	for id := range other.Identities {
		a.Identities[id] = struct{}{}
	}
	return nil
}

// Has reports whether pk is already covered by this assignment.
func (a Assignment) Has(pk person.PublicKey) bool {
	_, ok := a.Identities[pk]
	return ok
}

// Len reports how many identities this assignment covers.
func (a Assignment) Len() int {
	return len(a.Identities)
}
