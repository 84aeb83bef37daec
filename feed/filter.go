package feed

import (
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Filter decides whether a display line is delivered.
type Filter func(line string) bool

// IgnoreSuffixes drops lines ending in any of suffixes, such as the server's
// "Can't keep up!" lag warnings.
func IgnoreSuffixes(suffixes ...string) Filter {
	return func(line string) bool {
		trimmed := strings.TrimRight(line, " \t\r\n")
		for _, s := range suffixes {
			if s != "" && strings.HasSuffix(trimmed, s) {
				return false
			}
		}
		return true
	}
}

// All passes a line only when every filter passes it.
func All(filters ...Filter) Filter {
	return func(line string) bool {
		for _, f := range filters {
			if f != nil && !f(line) {
				return false
			}
		}
		return true
	}
}

// Deduper suppresses a line repeated within a time window.
type Deduper struct {
	cache *ttlcache.Cache[string, struct{}]
}

// NewDeduper starts a Deduper remembering lines for window.
func NewDeduper(window time.Duration) *Deduper {
	c := ttlcache.New[string, struct{}](
		ttlcache.WithTTL[string, struct{}](window),
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)
	go c.Start()
	return &Deduper{cache: c}
}

// Allow reports whether line was not seen within the window and records it.
func (d *Deduper) Allow(line string) bool {
	if d.cache.Has(line) {
		return false
	}
	d.cache.Set(line, struct{}{}, ttlcache.DefaultTTL)
	return true
}

// Stop ends the expiry goroutine.
func (d *Deduper) Stop() {
	d.cache.Stop()
}
