// Package spawn implements the per-guild adaptive spawn engine: a scaled
// message counter with anti-farming penalties, a rate-limit gate, and a
// time-decayed threshold deciding when a carfigure appears.
package spawn

import (
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/carfigo/server/internal/config"
)

// State is the derived lifecycle phase of a cooldown.
type State int

const (
	StateCold    State = iota // inside the post-reset grace period
	StateWarming              // accumulating count
	StateReady                // threshold exceeded, eligible to fire
)

// Message is one observed chat message, pre-resolved by the gateway adapter.
// Only the fields the heuristics need are carried; content is never persisted.
type Message struct {
	GuildID       string
	ChannelID     string
	AuthorID      string
	Content       string
	AuthorCreated time.Time // account creation, from the snowflake
	GuildMembers  int
	SentAt        time.Time
}

type ringEntry struct {
	content  string // lowercased
	authorID string
}

// diversitySample is the minimum ring occupancy before the chatter-diversity
// heuristic engages. A near-empty buffer always looks undiverse; penalizing
// the first messages after a reset would punish every guild equally.
const diversitySample = 8

// Cooldown tracks spawn readiness for one guild. Created lazily on the first
// observed message, reset every time a spawn fires.
type Cooldown struct {
	cfg config.SpawnConfig
	rng *rand.Rand

	mu        sync.Mutex
	anchor    time.Time // last reset; spawns blocked for cfg.GracePeriod after
	count     float64   // scaled message counter
	threshold int       // redrawn uniformly from the configured range on reset
	gateUntil time.Time // counter updates are dropped until this instant

	ring    []ringEntry
	ringLen int
	ringPos int
}

func newCooldown(cfg config.SpawnConfig, rng *rand.Rand, now time.Time) *Cooldown {
	c := &Cooldown{
		cfg:  cfg,
		rng:  rng,
		ring: make([]ringEntry, cfg.RingCapacity),
	}
	c.resetLocked(now)
	return c
}

// Observe records a message and, if the gate is open, applies the penalty
// heuristics and advances the counter. Returns true when the counter moved.
// Messages inside the gate window still enter the ring buffer so the
// heuristics stay accurate.
func (c *Cooldown) Observe(msg Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	content := strings.ToLower(msg.Content)
	duplicate := c.containsLocked(content)
	c.appendLocked(content, msg.AuthorID)

	if msg.SentAt.Before(c.gateUntil) {
		return false // gate held: observed, not counted
	}

	penalty := 1.0
	if duplicate {
		penalty *= 0.5
	}
	if msg.GuildMembers > 1000 {
		penalty *= 0.5
	}
	if utf8.RuneCountInString(msg.Content) < 5 {
		penalty *= 0.5
	}
	if !msg.AuthorCreated.IsZero() && msg.SentAt.Sub(msg.AuthorCreated) < c.cfg.MinAccountAge {
		penalty *= 0.5
	}
	if c.lowDiversityLocked() {
		penalty *= 0.5 // single halving regardless of which sub-case matched
	}

	c.count += penalty
	c.gateUntil = msg.SentAt.Add(c.cfg.GateHold)
	return true
}

// TryFire atomically checks spawn eligibility and resets on success: the
// counter must exceed the effective threshold and the grace period must have
// elapsed. The member floor is the manager's concern.
func (c *Cooldown) TryFire(now time.Time, members int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Sub(c.anchor) < c.cfg.GracePeriod {
		return false
	}
	if c.count <= c.effectiveThresholdLocked(now, members) {
		return false
	}
	c.resetLocked(now)
	return true
}

// State derives the lifecycle phase for diagnostics.
func (c *Cooldown) State(now time.Time, members int) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Sub(c.anchor) < c.cfg.GracePeriod {
		return StateCold
	}
	if c.count > c.effectiveThresholdLocked(now, members) {
		return StateReady
	}
	return StateWarming
}

// Count returns the current scaled message counter.
func (c *Cooldown) Count() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Threshold returns the currently drawn raw threshold.
func (c *Cooldown) Threshold() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.threshold
}

// EffectiveThreshold returns the threshold after time decay.
func (c *Cooldown) EffectiveThreshold(now time.Time, members int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.effectiveThresholdLocked(now, members)
}

// effectiveThresholdLocked applies the per-minute decay so spawns get easier
// over time even in quiet guilds. Smaller guilds decay faster. Clamped at 0:
// a negative target would add nothing over an already-vacuous comparison.
func (c *Cooldown) effectiveThresholdLocked(now time.Time, members int) float64 {
	var perMinute float64
	switch {
	case members < 100:
		perMinute = 0.8
	case members < 1000:
		perMinute = 0.5
	default:
		perMinute = 0.2
	}
	elapsed := math.Floor(now.Sub(c.anchor).Minutes())
	if elapsed < 0 {
		elapsed = 0
	}
	eff := float64(c.threshold) - perMinute*elapsed
	if eff < 0 {
		eff = 0
	}
	return eff
}

func (c *Cooldown) resetLocked(now time.Time) {
	c.anchor = now
	c.count = c.cfg.SeedCount
	c.threshold = c.cfg.ThresholdMin + c.rng.Intn(c.cfg.ThresholdMax-c.cfg.ThresholdMin+1)
	c.gateUntil = time.Time{} // release unconditionally
}

func (c *Cooldown) appendLocked(content, authorID string) {
	c.ring[c.ringPos] = ringEntry{content: content, authorID: authorID}
	c.ringPos = (c.ringPos + 1) % len(c.ring)
	if c.ringLen < len(c.ring) {
		c.ringLen++
	}
}

func (c *Cooldown) containsLocked(content string) bool {
	for i := 0; i < c.ringLen; i++ {
		if c.ring[i].content == content {
			return true
		}
	}
	return false
}

// lowDiversityLocked reports a monotone chat pattern: few distinct authors,
// or one author dominating the buffer. Skipped until the ring holds a usable
// sample.
func (c *Cooldown) lowDiversityLocked() bool {
	if c.ringLen < diversitySample {
		return false
	}
	authors := make(map[string]int, c.ringLen)
	for i := 0; i < c.ringLen; i++ {
		authors[c.ring[i].authorID]++
	}
	if len(authors) < 4 {
		return true
	}
	for _, n := range authors {
		if float64(n) > 0.4*float64(c.ringLen) {
			return true
		}
	}
	return false
}

// ringSize returns the current ring occupancy (test hook).
func (c *Cooldown) ringSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ringLen
}
