// Package session implements the two-party negotiation state machine behind
// trades and battles: proposal building, locking, dual confirmation and
// atomic settlement, with a periodic panel refresh and an absolute lifetime.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/carfigo/server/internal/config"
)

// State is the session lifecycle phase.
type State int

const (
	StateOpen      State = iota // both parties unlocked, proposals editable
	StateLocked                 // both locked, waiting on confirmations
	StateConfirmed              // both accepted, settlement in flight
	StateConcluded              // terminal: settled
	StateCancelled              // terminal: user cancel or settlement failure
	StateTimedOut               // terminal: lifetime cap breached
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateConcluded || s == StateCancelled || s == StateTimedOut
}

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateLocked:
		return "locked"
	case StateConfirmed:
		return "confirmed"
	case StateConcluded:
		return "concluded"
	case StateCancelled:
		return "cancelled"
	case StateTimedOut:
		return "timed out"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Explicit error kinds; callers branch with errors.Is instead of matching
// strings or catching panics.
var (
	ErrNotOpen            = errors.New("session is no longer open")
	ErrNotParty           = errors.New("user is not a party in this session")
	ErrPartyLocked        = errors.New("party already locked their proposal")
	ErrAlreadyLocked      = errors.New("proposal is already locked")
	ErrNotLocked          = errors.New("session is not in the locked state")
	ErrAlreadyProposed    = errors.New("instance already in the proposal")
	ErrNotOwner           = errors.New("instance does not belong to this party")
	ErrLockedElsewhere    = errors.New("instance is staged in another session")
	ErrOwnershipChanged   = errors.New("instance ownership changed during negotiation")
	ErrProposalFull       = errors.New("proposal is full")
	ErrSessionTerminal    = errors.New("session already ended")
	ErrSelfNegotiation    = errors.New("cannot negotiate with yourself")
	ErrAlreadyNegotiating = errors.New("user already has an active session in this guild")
)

// Instance is the in-memory view of one owned carfigure, loaded from the
// store when staged. Horsepower and weight are the effective (bonus-applied)
// battle stats.
type Instance struct {
	ID         int64
	FigureID   int32
	Name       string
	OwnerID    int64
	Horsepower int32
	Weight     int32
	Favorite   bool
}

// Party is one side of the negotiation.
type Party struct {
	UserID    string // Discord user
	PlayerID  int64  // store player id
	Proposal  []Instance
	Locked    bool
	Cancelled bool
	Accepted  bool
}

func (p *Party) proposes(instanceID int64) bool {
	for _, inst := range p.Proposal {
		if inst.ID == instanceID {
			return true
		}
	}
	return false
}

// Member identifies a prospective party when beginning a session.
type Member struct {
	UserID   string
	PlayerID int64
}

// SettleParty is one side of a settlement request.
type SettleParty struct {
	PlayerID  int64
	Instances []int64
}

// SettleInput asks the store for an all-or-nothing transfer: every instance
// must still belong to its expected party or nothing moves. Winner -1 swaps
// the proposals; a party index sends both proposals to that party.
type SettleInput struct {
	SessionID uuid.UUID
	Kind      string
	GuildID   string
	Parties   [2]SettleParty
	Winner    int // party index, or -1 for none/draw
}

// Store is the persistent instance store contract the session engine needs.
// AcquireLease must fail with ErrLockedElsewhere while another holder's
// unexpired lease exists; Settle must fail with ErrOwnershipChanged (and
// change nothing) when any expected owner no longer matches.
type Store interface {
	AcquireLease(ctx context.Context, instanceID int64, until time.Time) error
	ReleaseLease(ctx context.Context, instanceID int64) error
	Settle(ctx context.Context, in SettleInput) error
}

// Controls names the interactive control set currently attached to the panel.
type Controls int

const (
	ControlsProposal Controls = iota // add/remove/lock/cancel
	ControlsConfirm                  // confirm/deny
	ControlsNone                     // terminal, everything disabled
)

// PartyView is the render snapshot of one party.
type PartyView struct {
	UserID   string
	Proposal []Instance
	Locked   bool
	Accepted bool
}

// View is an immutable render snapshot of the session.
type View struct {
	Kind     string
	State    State
	Reason   string
	Parties  [2]PartyView
	Controls Controls
}

// Messenger renders the session panel. Implemented by the gateway adapter.
type Messenger interface {
	SendPanel(ctx context.Context, channelID string, v View) (messageID string, err error)
	EditPanel(ctx context.Context, channelID, messageID string, v View) error
}

// Outcome is the settlement strategy that makes a session a trade or a
// battle. Result inspects the locked proposals and names a winning party
// index, or -1 when the exchange has no winner.
type Outcome interface {
	Kind() string
	Result(a, b *Party) int
}

// Session is one live negotiation. All mutation goes through the exported
// methods, which serialize on the session mutex; the two parties may call in
// concurrently.
type Session struct {
	ID        uuid.UUID
	GuildID   string
	ChannelID string
	CreatedAt time.Time

	cfg     config.ExchangeConfig
	outcome Outcome
	store   Store
	msgr    Messenger
	log     *zap.Logger

	mu        sync.Mutex
	state     State
	reason    string
	messageID string
	parties   [2]*Party
	stopWatch context.CancelFunc
}

func newSession(cfg config.ExchangeConfig, outcome Outcome, store Store, msgr Messenger,
	log *zap.Logger, guildID, channelID string, a, b Member, now time.Time) *Session {
	return &Session{
		ID:        uuid.New(),
		GuildID:   guildID,
		ChannelID: channelID,
		CreatedAt: now,
		cfg:       cfg,
		outcome:   outcome,
		store:     store,
		msgr:      msgr,
		log:       log,
		state:     StateOpen,
		parties: [2]*Party{
			{UserID: a.UserID, PlayerID: a.PlayerID},
			{UserID: b.UserID, PlayerID: b.PlayerID},
		},
	}
}

// Kind returns the outcome kind ("trade" or "battle").
func (s *Session) Kind() string { return s.outcome.Kind() }

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Reason returns the terminal reason line, if any.
func (s *Session) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// HasParty reports whether the user is one of the two parties.
func (s *Session) HasParty(userID string) bool {
	return s.parties[0].UserID == userID || s.parties[1].UserID == userID
}

// Party returns a copy of the user's party record for rendering.
func (s *Session) Party(userID string) (Party, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.partyLocked(userID)
	if p == nil {
		return Party{}, false
	}
	cp := *p
	cp.Proposal = append([]Instance(nil), p.Proposal...)
	return cp, true
}

func (s *Session) partyLocked(userID string) *Party {
	if s.parties[0].UserID == userID {
		return s.parties[0]
	}
	if s.parties[1].UserID == userID {
		return s.parties[1]
	}
	return nil
}

func (s *Session) counterpartLocked(p *Party) *Party {
	if s.parties[0] == p {
		return s.parties[1]
	}
	return s.parties[0]
}

// start sends the initial panel and launches the refresh watchdog.
func (s *Session) start(ctx context.Context) error {
	id, err := s.msgr.SendPanel(ctx, s.ChannelID, s.view())
	if err != nil {
		return fmt.Errorf("send negotiation panel: %w", err)
	}
	s.mu.Lock()
	s.messageID = id
	watchCtx, cancel := context.WithCancel(context.Background())
	s.stopWatch = cancel
	s.mu.Unlock()
	go s.watch(watchCtx)
	return nil
}

// watch re-renders the panel on a fixed interval and enforces the absolute
// session lifetime. Periodic refresh stops once both parties lock; state
// transitions carry their own renders from there. Bound 1:1 to the session,
// cancelled on every terminal transition — never left orphaned.
func (s *Session) watch(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()
	deadline := s.CreatedAt.Add(s.cfg.SessionLifetime)
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if now.After(deadline) {
				s.Timeout(context.Background())
				return
			}
			if s.State() == StateOpen {
				s.render(context.Background())
			}
		}
	}
}

// Add stages an instance into the user's proposal. Open sessions only, and
// only while the party has not locked. The instance gets an exclusive lease
// so no other session can stage it concurrently.
func (s *Session) Add(ctx context.Context, userID string, inst Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return ErrSessionTerminal
	}
	if s.state != StateOpen {
		return ErrNotOpen
	}
	p := s.partyLocked(userID)
	if p == nil {
		return ErrNotParty
	}
	if p.Locked {
		return ErrPartyLocked
	}
	if inst.OwnerID != p.PlayerID {
		return ErrNotOwner
	}
	if p.proposes(inst.ID) {
		return ErrAlreadyProposed
	}
	if s.cfg.MaxProposal > 0 && len(p.Proposal) >= s.cfg.MaxProposal {
		return ErrProposalFull
	}
	if err := s.store.AcquireLease(ctx, inst.ID, time.Now().Add(s.cfg.LockLease)); err != nil {
		return err
	}
	p.Proposal = append(p.Proposal, inst)
	return nil
}

// Remove unstages an instance and releases its lease. Allowed while the
// party has not locked.
func (s *Session) Remove(ctx context.Context, userID string, instanceID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return ErrSessionTerminal
	}
	p := s.partyLocked(userID)
	if p == nil {
		return ErrNotParty
	}
	if p.Locked {
		return ErrPartyLocked
	}
	for i, inst := range p.Proposal {
		if inst.ID != instanceID {
			continue
		}
		if err := s.store.ReleaseLease(ctx, instanceID); err != nil {
			s.log.Warn("lease release failed on remove",
				zap.Int64("instance", instanceID), zap.Error(err))
		}
		p.Proposal = append(p.Proposal[:i], p.Proposal[i+1:]...)
		return nil
	}
	return ErrAlreadyProposed // not staged
}

// Lock freezes the user's proposal. When both parties have locked the
// session moves to LOCKED: the refresh task keeps running for the timeout
// but edits are over, and the panel swaps to confirm/deny controls.
func (s *Session) Lock(ctx context.Context, userID string) error {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return ErrSessionTerminal
	}
	if s.state != StateOpen {
		s.mu.Unlock()
		return ErrNotOpen
	}
	p := s.partyLocked(userID)
	if p == nil {
		s.mu.Unlock()
		return ErrNotParty
	}
	if p.Locked {
		s.mu.Unlock()
		return ErrAlreadyLocked
	}
	p.Locked = true
	both := s.counterpartLocked(p).Locked
	if both {
		s.state = StateLocked
	}
	s.mu.Unlock()

	if both {
		s.render(ctx)
	}
	return nil
}

// Confirm accepts the locked exchange. When both parties have accepted the
// session moves to CONFIRMED and settlement runs.
func (s *Session) Confirm(ctx context.Context, userID string) error {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return ErrSessionTerminal
	}
	if s.state != StateLocked {
		s.mu.Unlock()
		return ErrNotLocked
	}
	p := s.partyLocked(userID)
	if p == nil {
		s.mu.Unlock()
		return ErrNotParty
	}
	p.Accepted = true
	both := s.counterpartLocked(p).Accepted
	if !both {
		s.mu.Unlock()
		return nil
	}
	s.state = StateConfirmed
	s.mu.Unlock()

	return s.settle(ctx)
}

// Cancel aborts the session: releases every staged lease on both sides,
// disables the controls and parks the session in CANCELLED. Valid from any
// non-terminal state; calling it twice is a no-op.
func (s *Session) Cancel(ctx context.Context, userID string) error {
	return s.terminate(ctx, userID, StateCancelled, "cancelled")
}

// Timeout is the watchdog's cancellation: same path, distinct terminal state
// and reason.
func (s *Session) Timeout(ctx context.Context) {
	_ = s.terminate(ctx, "", StateTimedOut, "timed out")
}

func (s *Session) terminate(ctx context.Context, userID string, to State, reason string) error {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return nil // idempotent: leases already released once
	}
	if userID != "" {
		p := s.partyLocked(userID)
		if p == nil {
			s.mu.Unlock()
			return ErrNotParty
		}
		p.Cancelled = true
	}
	s.state = to
	s.reason = reason
	staged := s.stagedLocked()
	stop := s.stopWatch
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	for _, id := range staged {
		if err := s.store.ReleaseLease(ctx, id); err != nil {
			s.log.Warn("lease release failed on cancel",
				zap.Int64("instance", id), zap.Error(err))
		}
	}
	s.render(ctx)
	return nil
}

// settle re-verifies ownership and transfers everything in one atomic store
// operation. Any mismatch or failure aborts the whole exchange and the
// session ends CANCELLED; only a fully committed transfer reaches CONCLUDED.
func (s *Session) settle(ctx context.Context) error {
	s.mu.Lock()
	a, b := s.parties[0], s.parties[1]
	in := SettleInput{
		SessionID: s.ID,
		Kind:      s.outcome.Kind(),
		GuildID:   s.GuildID,
		Parties: [2]SettleParty{
			{PlayerID: a.PlayerID, Instances: instanceIDs(a.Proposal)},
			{PlayerID: b.PlayerID, Instances: instanceIDs(b.Proposal)},
		},
		Winner: s.outcome.Result(a, b),
	}
	staged := s.stagedLocked()
	stop := s.stopWatch
	s.mu.Unlock()

	err := s.store.Settle(ctx, in)

	s.mu.Lock()
	switch {
	case err == nil:
		s.state = StateConcluded
	case errors.Is(err, ErrOwnershipChanged):
		s.state = StateCancelled
		s.reason = "invalid operation detected"
		s.log.Warn("settlement aborted: ownership changed mid-session",
			zap.String("session", s.ID.String()),
			zap.String("party_a", a.UserID),
			zap.String("party_b", b.UserID))
	default:
		s.state = StateCancelled
		s.reason = "settlement failed"
		s.log.Error("settlement error",
			zap.String("session", s.ID.String()),
			zap.String("party_a", a.UserID),
			zap.String("party_b", b.UserID),
			zap.Error(err))
	}
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	if err != nil {
		// Settle changed nothing; the leases are still ours to give back.
		for _, id := range staged {
			if rerr := s.store.ReleaseLease(ctx, id); rerr != nil {
				s.log.Warn("lease release failed after aborted settlement",
					zap.Int64("instance", id), zap.Error(rerr))
			}
		}
	}
	s.render(ctx)
	return err
}

func (s *Session) stagedLocked() []int64 {
	var ids []int64
	for _, p := range s.parties {
		ids = append(ids, instanceIDs(p.Proposal)...)
	}
	return ids
}

func instanceIDs(proposal []Instance) []int64 {
	ids := make([]int64, len(proposal))
	for i, inst := range proposal {
		ids[i] = inst.ID
	}
	return ids
}

// view builds a render snapshot. Caller must not hold the mutex.
func (s *Session) view() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := View{
		Kind:   s.outcome.Kind(),
		State:  s.state,
		Reason: s.reason,
	}
	for i, p := range s.parties {
		v.Parties[i] = PartyView{
			UserID:   p.UserID,
			Proposal: append([]Instance(nil), p.Proposal...),
			Locked:   p.Locked,
			Accepted: p.Accepted,
		}
	}
	switch {
	case s.state.Terminal():
		v.Controls = ControlsNone
	case s.state == StateOpen:
		v.Controls = ControlsProposal
	default:
		v.Controls = ControlsConfirm
	}
	return v
}

func (s *Session) render(ctx context.Context) {
	s.mu.Lock()
	messageID := s.messageID
	s.mu.Unlock()
	if messageID == "" {
		return // panel never went out; nothing to refresh
	}
	if err := s.msgr.EditPanel(ctx, s.ChannelID, messageID, s.view()); err != nil {
		s.log.Warn("panel refresh failed",
			zap.String("session", s.ID.String()), zap.Error(err))
	}
}
