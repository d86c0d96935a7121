package relay

import (
	"strconv"
	"time"
)

// mergeOverrides applies string-keyed overrides (as stored in the
// settings table) on top of the receiver's defaults, ignoring any key
// that fails to parse rather than failing the whole read — an
// unparseable override should not make the relay core unusable.
func (s Settings) mergeOverrides(overrides map[string]string) Settings {
	if v, ok := overrides["offline"]; ok {
		if b, err := strconv.ParseBool(v); err == nil {
			s.Offline = b
		}
	}
	if v, ok := overrides["pow"]; ok {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			s.Pow = uint32(n)
		}
	}
	if v, ok := overrides["set_client_tag"]; ok {
		if b, err := strconv.ParseBool(v); err == nil {
			s.SetClientTag = b
		}
	}
	if v, ok := overrides["feed_chunk_seconds"]; ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			s.FeedChunk = time.Duration(n) * time.Second
		}
	}
	if v, ok := overrides["overlap_seconds"]; ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			s.Overlap = time.Duration(n) * time.Second
		}
	}
	if v, ok := overrides["num_relays_per_person"]; ok {
		if n, err := strconv.ParseUint(v, 10, 8); err == nil {
			s.NumRelaysPerPerson = uint8(n)
		}
	}
	if v, ok := overrides["max_relays"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			s.MaxRelays = n
		}
	}
	if v, ok := overrides["cache_prune_period_days"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			s.CachePrunePeriodDays = n
		}
	}
	if v, ok := overrides["prune_period_days"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			s.PrunePeriodDays = n
		}
	}
	return s
}
