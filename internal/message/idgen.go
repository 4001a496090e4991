package message

import (
	"strconv"
	"sync"
	"time"
)

type stamp struct {
	millis int64
	seq    int64
}

// IDGenerator hands out local message ids that are strictly increasing per
// realm within the process, even for sends in the same millisecond or across
// a clock step backwards.
type IDGenerator struct {
	mu   sync.Mutex
	now  func() time.Time
	last map[string]stamp
}

// NewIDGenerator creates a generator on the wall clock.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{now: time.Now, last: make(map[string]stamp)}
}

// Next returns "<millis>-<seq>" for realmID.
func (g *IDGenerator) Next(realmID string) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now().UnixMilli()
	prev, ok := g.last[realmID]
	next := stamp{millis: ms}
	if ok && ms <= prev.millis {
		next = stamp{millis: prev.millis, seq: prev.seq + 1}
	}
	g.last[realmID] = next
	return strconv.FormatInt(next.millis, 10) + "-" + strconv.FormatInt(next.seq, 10)
}
