package picker

import "errors"

// ErrNoRelays is returned when there are no candidate relays at all.
var ErrNoRelays = errors.New("picker: no relays")

// ErrNoPeopleLeft is returned when every followed identity is already
// covered; this ends a pick loop successfully.
var ErrNoPeopleLeft = errors.New("picker: no people left to cover")

// ErrNoProgress is returned when a pick pass cannot improve coverage:
// either no relay scored positively, or the winning relay's coverage set
// was already fully assigned.
var ErrNoProgress = errors.New("picker: no progress")
