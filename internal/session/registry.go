package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/carfigo/server/internal/config"
)

// Registry tracks live sessions per guild and enforces the one-session-per-
// user-per-guild rule. Terminal sessions are swept out lazily on lookup.
type Registry struct {
	cfg   config.ExchangeConfig
	store Store
	msgr  Messenger
	log   *zap.Logger

	mu       sync.Mutex
	sessions map[string][]*Session // guildID → live sessions
}

func NewRegistry(cfg config.ExchangeConfig, store Store, msgr Messenger, log *zap.Logger) *Registry {
	return &Registry{
		cfg:      cfg,
		store:    store,
		msgr:     msgr,
		log:      log,
		sessions: make(map[string][]*Session),
	}
}

// Find returns the user's active session in the guild, restricted to the
// given channel when channelID is non-empty. Terminal sessions encountered
// on the way are dropped from the registry.
func (r *Registry) Find(guildID, channelID, userID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found *Session
	live := r.sessions[guildID][:0]
	for _, s := range r.sessions[guildID] {
		if s.State().Terminal() {
			continue
		}
		live = append(live, s)
		if !s.HasParty(userID) {
			continue
		}
		if channelID != "" && s.ChannelID != channelID {
			continue
		}
		found = s
	}
	if len(live) == 0 {
		delete(r.sessions, guildID)
	} else {
		r.sessions[guildID] = live
	}
	return found
}

// Begin opens a new session between two members, sends its panel and starts
// its refresh task. Fails when the members are the same user or either one
// already negotiates in this guild.
func (r *Registry) Begin(ctx context.Context, guildID, channelID string,
	a, b Member, outcome Outcome) (*Session, error) {
	if a.UserID == b.UserID {
		return nil, ErrSelfNegotiation
	}
	r.mu.Lock()
	for _, s := range r.sessions[guildID] {
		if s.State().Terminal() {
			continue
		}
		if s.HasParty(a.UserID) || s.HasParty(b.UserID) {
			r.mu.Unlock()
			return nil, ErrAlreadyNegotiating
		}
	}
	s := newSession(r.cfg, outcome, r.store, r.msgr, r.log,
		guildID, channelID, a, b, time.Now())
	r.sessions[guildID] = append(r.sessions[guildID], s)
	r.mu.Unlock()

	if err := s.start(ctx); err != nil {
		// Panel never reached the channel; back the registration out.
		r.mu.Lock()
		live := r.sessions[guildID][:0]
		for _, other := range r.sessions[guildID] {
			if other != s {
				live = append(live, other)
			}
		}
		r.sessions[guildID] = live
		r.mu.Unlock()
		return nil, err
	}
	r.log.Info("negotiation opened",
		zap.String("session", s.ID.String()),
		zap.String("kind", outcome.Kind()),
		zap.String("guild", guildID),
		zap.String("party_a", a.UserID),
		zap.String("party_b", b.UserID))
	return s, nil
}

// Shutdown cancels every live session, releasing their leases.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	var all []*Session
	for _, list := range r.sessions {
		all = append(all, list...)
	}
	r.sessions = make(map[string][]*Session)
	r.mu.Unlock()
	for _, s := range all {
		s.Timeout(ctx)
	}
}
