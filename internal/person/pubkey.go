// Package person defines the identity type the relay coordination core
// operates on. The core treats identities as opaque: it never interprets
// key material, only compares and orders it.
package person

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// PublicKey is a 32-byte Nostr public key, opaque to the core beyond
// equality and ordering.
type PublicKey [32]byte

// ParsePublicKeyHex decodes a 64-character lowercase hex public key.
func ParsePublicKeyHex(s string) (PublicKey, error) {
	var pk PublicKey
	if len(s) != 64 {
		return pk, fmt.Errorf("person: public key must be 64 hex chars, got %d", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return pk, fmt.Errorf("person: invalid public key hex: %w", err)
	}
	copy(pk[:], b)
	return pk, nil
}

// String renders the public key as lowercase hex.
func (pk PublicKey) String() string {
	return hex.EncodeToString(pk[:])
}

// Less orders public keys by byte value, for deterministic iteration.
func (pk PublicKey) Less(other PublicKey) bool {
	return bytes.Compare(pk[:], other[:]) < 0
}

// Equal reports whether two public keys are identical.
func (pk PublicKey) Equal(other PublicKey) bool {
	return pk == other
}

// IsZero reports whether the public key is the zero value (never a valid key).
func (pk PublicKey) IsZero() bool {
	return pk == PublicKey{}
}
