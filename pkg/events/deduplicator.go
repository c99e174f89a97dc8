package events

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Deduplicator suppresses repeated events within a time window. Editors
// and package managers tend to produce bursts of identical filesystem
// events; scoring each copy would skew both alerts and training data.
//
// Entries live in an expirable LRU so the memory footprint stays bounded
// without a cleanup goroutine.
type Deduplicator struct {
	seen *expirable.LRU[string, time.Time]
}

// NewDeduplicator creates a deduplicator holding up to maxEntries event
// signatures for the given window.
func NewDeduplicator(maxEntries int, window time.Duration) *Deduplicator {
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	return &Deduplicator{
		seen: expirable.NewLRU[string, time.Time](maxEntries, nil, window),
	}
}

// IsDuplicate reports whether an equivalent event was seen within the
// window, recording the event either way.
func (d *Deduplicator) IsDuplicate(evt Event) bool {
	key := d.signature(evt)
	_, dup := d.seen.Get(key)
	d.seen.Add(key, evt.Timestamp)
	return dup
}

// signature hashes the fields that make two events equivalent for
// suppression purposes. The event ID and timestamp are deliberately
// excluded.
func (d *Deduplicator) signature(evt Event) string {
	data := fmt.Sprintf("%s:%s:%s:%s",
		evt.Type,
		evt.PayloadString("file_path", ""),
		evt.PayloadString("access_type", evt.PayloadString("event_type", "")),
		evt.PayloadString("device_path", evt.PayloadString("app_name", "")),
	)
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// Len returns the number of signatures currently tracked.
func (d *Deduplicator) Len() int {
	return d.seen.Len()
}
