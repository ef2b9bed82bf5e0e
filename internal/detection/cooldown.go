package detection

import (
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"proctor/internal/models"
)

// DefaultCooldown is the window used when configuration does not set one.
const DefaultCooldown = 30 * time.Second

const cooldownShards = 32

// CooldownKey identifies one deduplication slot.
type CooldownKey struct {
	SessionID int64
	SubjectID string
	Category  models.Category
}

type cooldownShard struct {
	mu   sync.Mutex
	last map[CooldownKey]time.Time
}

// CooldownGate suppresses repeated detections of the same (session, subject,
// category) inside a time window. The check and the update for a key happen
// under the key's shard lock, so concurrent callers for one key can never both
// be admitted within a window.
type CooldownGate struct {
	window time.Duration
	shards [cooldownShards]cooldownShard
}

// NewCooldownGate creates a gate; a non-positive window falls back to DefaultCooldown.
func NewCooldownGate(window time.Duration) *CooldownGate {
	if window <= 0 {
		window = DefaultCooldown
	}
	g := &CooldownGate{window: window}
	for i := range g.shards {
		g.shards[i].last = make(map[CooldownKey]time.Time)
	}
	return g
}

// Window returns the configured cooldown length.
func (g *CooldownGate) Window() time.Duration {
	return g.window
}

func (g *CooldownGate) shard(key CooldownKey) *cooldownShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strconv.FormatInt(key.SessionID, 10)))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(key.SubjectID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(key.Category))
	return &g.shards[h.Sum32()%cooldownShards]
}

// Admit returns true and records now as the key's last admission when the key
// has no record or its record is at least one window old. Otherwise it returns
// false and leaves the record untouched.
func (g *CooldownGate) Admit(key CooldownKey, now time.Time) bool {
	s := g.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.last[key]; ok && now.Sub(last) < g.window {
		return false
	}
	s.last[key] = now
	return true
}

// Revert undoes an admission recorded at the given time. A newer admission for
// the same key is left in place.
func (g *CooldownGate) Revert(key CooldownKey, at time.Time) {
	s := g.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.last[key]; ok && last.Equal(at) {
		delete(s.last, key)
	}
}

// Forget drops every key belonging to the session.
func (g *CooldownGate) Forget(sessionID int64) {
	for i := range g.shards {
		s := &g.shards[i]
		s.mu.Lock()
		for key := range s.last {
			if key.SessionID == sessionID {
				delete(s.last, key)
			}
		}
		s.mu.Unlock()
	}
}

// Sweep removes records whose window has elapsed and returns how many were dropped.
func (g *CooldownGate) Sweep(now time.Time) int {
	removed := 0
	for i := range g.shards {
		s := &g.shards[i]
		s.mu.Lock()
		for key, last := range s.last {
			if now.Sub(last) >= g.window {
				delete(s.last, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the number of tracked keys.
func (g *CooldownGate) Len() int {
	n := 0
	for i := range g.shards {
		s := &g.shards[i]
		s.mu.Lock()
		n += len(s.last)
		s.mu.Unlock()
	}
	return n
}
