package spawn

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/carfigo/server/internal/config"
	"github.com/carfigo/server/internal/data"
	"github.com/carfigo/server/internal/random"
)

// ErrChannelGone is returned (possibly wrapped) by a Messenger when the
// configured channel no longer exists or the bot lost access to it. The
// manager drops the guild's route on sight of it.
var ErrChannelGone = errors.New("spawn channel inaccessible")

// Messenger delivers a spawn prompt into a channel. Implemented by the
// Discord gateway adapter; delivery retries and rate limits are its problem.
type Messenger interface {
	SendSpawn(ctx context.Context, channelID string, sp *Spawned) (messageID string, err error)
}

// Filter is an optional pre-spawn hook (Lua-scripted in production). It may
// veto a spawn or pin a specific figure.
type Filter interface {
	FilterSpawn(fc FilterContext) FilterDecision
}

// FilterContext is the data handed to a spawn filter.
type FilterContext struct {
	GuildID      string
	ChannelID    string
	GuildMembers int
	Count        float64
	Threshold    int
}

// FilterDecision is the filter's verdict. FigureID 0 leaves the weighted
// draw in charge.
type FilterDecision struct {
	Allow    bool
	FigureID int32
}

// Spawned is one live spawn: the figure shown in a channel, waiting to be
// caught. At most one per guild; a new spawn replaces an uncaught one.
type Spawned struct {
	Figure    *data.Figure
	Event     *data.EventModifier // nil = plain spawn
	GuildID   string
	ChannelID string
	MessageID string
	SpawnedAt time.Time

	mu       sync.Mutex
	caught   bool
	caughtBy string
}

// Claim marks the spawn caught by a user. Returns false when someone was
// faster; exactly one caller ever wins.
func (s *Spawned) Claim(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.caught {
		return false
	}
	s.caught = true
	s.caughtBy = userID
	return true
}

// CaughtBy returns the catcher's user ID, or "" while uncaught.
func (s *Spawned) CaughtBy() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caughtBy
}

// Manager owns the guild→channel routing cache and one Cooldown per active
// guild, and turns ready cooldowns into spawns.
type Manager struct {
	cfg     config.SpawnConfig
	log     *zap.Logger
	figures *data.FigureTable
	events  *data.EventTable
	msgr    Messenger
	filter  Filter // may be nil

	mu         sync.Mutex
	rng        *rand.Rand
	routes     map[string]string // guildID → channelID
	blacklist  map[string]struct{}
	cooldowns  map[string]*Cooldown
	spawns     map[string]*Spawned // current spawn per guild
	farmWarned map[string]struct{}
}

func NewManager(cfg config.SpawnConfig, figures *data.FigureTable, events *data.EventTable,
	msgr Messenger, filter Filter, rng *rand.Rand, log *zap.Logger) *Manager {
	return &Manager{
		cfg:        cfg,
		log:        log,
		figures:    figures,
		events:     events,
		msgr:       msgr,
		filter:     filter,
		rng:        rng,
		routes:     make(map[string]string),
		blacklist:  make(map[string]struct{}),
		cooldowns:  make(map[string]*Cooldown),
		spawns:     make(map[string]*Spawned),
		farmWarned: make(map[string]struct{}),
	}
}

// SetRoute points a guild's spawns at a channel. Idempotent; applied from
// config-change notifications without a reload.
func (m *Manager) SetRoute(guildID, channelID string) {
	m.mu.Lock()
	m.routes[guildID] = channelID
	m.mu.Unlock()
}

// ClearRoute disables spawning for a guild and drops its cooldown state.
func (m *Manager) ClearRoute(guildID string) {
	m.mu.Lock()
	delete(m.routes, guildID)
	delete(m.cooldowns, guildID)
	delete(m.spawns, guildID)
	m.mu.Unlock()
}

// Blacklist permanently mutes a guild regardless of routing.
func (m *Manager) Blacklist(guildID string) {
	m.mu.Lock()
	m.blacklist[guildID] = struct{}{}
	m.mu.Unlock()
}

// CurrentSpawn returns the guild's live spawn, or nil.
func (m *Manager) CurrentSpawn(guildID string) *Spawned {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.spawns[guildID]
}

// HandleMessage feeds one chat message through the guild's cooldown and
// fires a spawn when it comes up ready. No-op for unrouted or blacklisted
// guilds. Errors degrade only the affected guild.
func (m *Manager) HandleMessage(ctx context.Context, msg Message) {
	m.mu.Lock()
	channelID, routed := m.routes[msg.GuildID]
	if !routed {
		m.mu.Unlock()
		return
	}
	if _, banned := m.blacklist[msg.GuildID]; banned {
		m.mu.Unlock()
		return
	}
	cd, ok := m.cooldowns[msg.GuildID]
	if !ok {
		// Own RNG per cooldown: threshold redraws happen under the
		// cooldown's lock, not the manager's.
		cd = newCooldown(m.cfg, rand.New(rand.NewSource(m.rng.Int63())), msg.SentAt)
		m.cooldowns[msg.GuildID] = cd
	}
	m.mu.Unlock()

	cd.Observe(msg)

	if msg.GuildMembers < m.cfg.MinMembers {
		m.warnFarm(msg.GuildID, msg.GuildMembers)
		return
	}
	if !cd.TryFire(msg.SentAt, msg.GuildMembers) {
		return
	}

	m.fire(ctx, msg, cd, channelID)
}

func (m *Manager) fire(ctx context.Context, msg Message, cd *Cooldown, channelID string) {
	if m.filter != nil {
		dec := m.filter.FilterSpawn(FilterContext{
			GuildID:      msg.GuildID,
			ChannelID:    channelID,
			GuildMembers: msg.GuildMembers,
			Count:        cd.Count(),
			Threshold:    cd.Threshold(),
		})
		if !dec.Allow {
			m.log.Debug("spawn vetoed by filter script", zap.String("guild", msg.GuildID))
			return
		}
		if dec.FigureID != 0 {
			if fig := m.figures.Get(dec.FigureID); fig != nil {
				m.emit(ctx, msg, channelID, fig)
				return
			}
			m.log.Warn("filter script pinned unknown figure",
				zap.Int32("figure_id", dec.FigureID))
		}
	}

	m.mu.Lock()
	fig, ok := random.Pick(m.rng, m.figures.Snapshot(), func(f *data.Figure) float64 {
		return f.Rarity
	})
	m.mu.Unlock()
	if !ok {
		m.log.Warn("no enabled figures to spawn", zap.String("guild", msg.GuildID))
		return
	}
	m.emit(ctx, msg, channelID, fig)
}

func (m *Manager) emit(ctx context.Context, msg Message, channelID string, fig *data.Figure) {
	m.mu.Lock()
	event, _ := random.PickModifier(m.rng, m.events.ActiveAt(msg.SentAt),
		func(e *data.EventModifier) float64 { return e.Rarity })
	m.mu.Unlock()

	sp := &Spawned{
		Figure:    fig,
		Event:     event,
		GuildID:   msg.GuildID,
		ChannelID: channelID,
		SpawnedAt: msg.SentAt,
	}

	messageID, err := m.msgr.SendSpawn(ctx, channelID, sp)
	if err != nil {
		if errors.Is(err, ErrChannelGone) {
			m.log.Warn("spawn channel lost, removing route",
				zap.String("guild", msg.GuildID),
				zap.String("channel", channelID),
				zap.Error(err))
			m.mu.Lock()
			if m.routes[msg.GuildID] == channelID {
				delete(m.routes, msg.GuildID)
			}
			m.mu.Unlock()
			return
		}
		m.log.Error("spawn send failed",
			zap.String("guild", msg.GuildID), zap.Error(err))
		return
	}
	sp.MessageID = messageID

	m.mu.Lock()
	m.spawns[msg.GuildID] = sp
	m.mu.Unlock()

	m.log.Info("figure spawned",
		zap.String("guild", msg.GuildID),
		zap.String("figure", fig.Name),
		zap.Bool("event", event != nil))
}

// warnFarm logs a suspected farm guild once. Below-floor guilds never spawn;
// nobody is waiting on a spawn that was never promised, so no user output.
func (m *Manager) warnFarm(guildID string, members int) {
	m.mu.Lock()
	_, seen := m.farmWarned[guildID]
	if !seen {
		m.farmWarned[guildID] = struct{}{}
	}
	m.mu.Unlock()
	if !seen {
		m.log.Warn("guild below member floor, spawns suppressed",
			zap.String("guild", guildID), zap.Int("members", members))
	}
}
