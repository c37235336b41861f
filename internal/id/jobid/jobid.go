// Package jobid generates per-owner job identifiers.
package jobid

import (
	"sync"

	"github.com/scrapeworks/harvester/internal/scrape"
)

// Crockford base-32: no i, l, o, or u, so ids stay unambiguous in URLs
// and support tickets.
const alphabet = "0123456789abcdefghjkmnpqrstvwxyz"

// width is enough for microsecond timestamps well past year 3000; fixed
// width keeps ids lexicographically time-sortable.
const width = 11

// Generator produces opaque, URL-safe, time-sortable job ids, unique per
// owner. Ids encode a monotonic microsecond timestamp: two calls for the
// same owner never collide even within the same clock tick.
type Generator struct {
	clock scrape.Clock

	mu   sync.Mutex
	last map[string]int64
}

// New constructs a Generator on the given clock.
func New(clock scrape.Clock) *Generator {
	return &Generator{clock: clock, last: make(map[string]int64)}
}

// Next returns the next id for the owner.
func (g *Generator) Next(ownerID string) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := g.clock.Now().UnixMicro()
	if ts <= g.last[ownerID] {
		ts = g.last[ownerID] + 1
	}
	g.last[ownerID] = ts
	return encode(ts)
}

func encode(n int64) string {
	var buf [width]byte
	for i := width - 1; i >= 0; i-- {
		buf[i] = alphabet[n&31]
		n >>= 5
	}
	return string(buf[:])
}
