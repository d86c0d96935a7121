package relay

import (
	"fmt"
	"net/url"
	"strings"
)

// Url is a canonical lowercase WebSocket relay URL. It is immutable once
// constructed; ParseURL fails construction for anything that is not a
// plausible ws:// or wss:// relay address.
type Url string

// ParseURL canonicalizes and validates a relay URL string.
//
// Canonicalization lowercases the scheme and host and strips a trailing
// slash left bare (no path). Equality between two Urls is exact string
// equality after this canonicalization — the core never does fuzzy URL
// comparison.
func ParseURL(raw string) (Url, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("relay: empty url")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("relay: invalid url %q: %w", raw, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "ws" && scheme != "wss" {
		return "", fmt.Errorf("relay: url %q must use ws:// or wss://", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("relay: url %q has no host", raw)
	}

	u.Scheme = scheme
	u.Host = strings.ToLower(u.Host)
	if u.Path == "/" {
		u.Path = ""
	}

	return Url(u.String()), nil
}

// MustParseURL is ParseURL but panics on error. Reserved for tests and
// compile-time-known relay addresses.
func MustParseURL(raw string) Url {
	u, err := ParseURL(raw)
	if err != nil {
		panic(err)
	}
	return u
}

// String satisfies fmt.Stringer.
func (u Url) String() string { return string(u) }
