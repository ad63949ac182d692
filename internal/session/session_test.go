package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/carfigo/server/internal/config"
)

func testExchangeConfig() config.ExchangeConfig {
	return config.ExchangeConfig{
		RefreshInterval: 10 * time.Millisecond,
		SessionLifetime: time.Hour,
		LockLease:       30 * time.Minute,
		MaxProposal:     16,
	}
}

type memStore struct {
	mu        sync.Mutex
	leases    map[int64]time.Time
	released  []int64
	settled   []SettleInput
	settleErr error
}

func newMemStore() *memStore {
	return &memStore{leases: make(map[int64]time.Time)}
}

func (m *memStore) AcquireLease(_ context.Context, id int64, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if exp, held := m.leases[id]; held && time.Now().Before(exp) {
		return ErrLockedElsewhere
	}
	m.leases[id] = until
	return nil
}

func (m *memStore) ReleaseLease(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.leases, id)
	m.released = append(m.released, id)
	return nil
}

func (m *memStore) Settle(_ context.Context, in SettleInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settleErr != nil {
		return m.settleErr
	}
	m.settled = append(m.settled, in)
	for _, p := range in.Parties {
		for _, id := range p.Instances {
			delete(m.leases, id)
		}
	}
	return nil
}

func (m *memStore) leaseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.leases)
}

type panelRecorder struct {
	mu    sync.Mutex
	sends int
	last  View
}

func (p *panelRecorder) SendPanel(_ context.Context, _ string, v View) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sends++
	p.last = v
	return "panel-1", nil
}

func (p *panelRecorder) EditPanel(_ context.Context, _, _ string, v View) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = v
	return nil
}

func (p *panelRecorder) lastView() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

var (
	alice = Member{UserID: "u-alice", PlayerID: 1}
	bob   = Member{UserID: "u-bob", PlayerID: 2}
)

func inst(id int64, owner int64, hp, weight int32) Instance {
	return Instance{ID: id, FigureID: int32(id), OwnerID: owner,
		Horsepower: hp, Weight: weight}
}

func beginTrade(t *testing.T) (*Registry, *Session, *memStore, *panelRecorder) {
	t.Helper()
	store := newMemStore()
	msgr := &panelRecorder{}
	reg := NewRegistry(testExchangeConfig(), store, msgr, zap.NewNop())
	s, err := reg.Begin(context.Background(), "g1", "c1", alice, bob, TradeOutcome{})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	t.Cleanup(func() { s.Timeout(context.Background()) })
	return reg, s, store, msgr
}

func TestTradeRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, s, store, msgr := beginTrade(t)

	if err := s.Add(ctx, alice.UserID, inst(10, alice.PlayerID, 200, 1000)); err != nil {
		t.Fatalf("alice add: %v", err)
	}
	if err := s.Add(ctx, bob.UserID, inst(20, bob.PlayerID, 300, 1200)); err != nil {
		t.Fatalf("bob add: %v", err)
	}
	if err := s.Lock(ctx, alice.UserID); err != nil {
		t.Fatalf("alice lock: %v", err)
	}
	if err := s.Lock(ctx, bob.UserID); err != nil {
		t.Fatalf("bob lock: %v", err)
	}
	if s.State() != StateLocked {
		t.Fatalf("state after both locks = %v, want locked", s.State())
	}
	if err := s.Confirm(ctx, alice.UserID); err != nil {
		t.Fatalf("alice confirm: %v", err)
	}
	if s.State() != StateLocked {
		t.Fatal("single confirmation must not settle")
	}
	if err := s.Confirm(ctx, bob.UserID); err != nil {
		t.Fatalf("bob confirm: %v", err)
	}

	if s.State() != StateConcluded {
		t.Fatalf("state = %v, want concluded", s.State())
	}
	if len(store.settled) != 1 {
		t.Fatalf("settled %d times, want 1", len(store.settled))
	}
	in := store.settled[0]
	if in.Kind != "trade" || in.Winner != -1 {
		t.Errorf("settle kind=%q winner=%d, want trade/-1", in.Kind, in.Winner)
	}
	if len(in.Parties[0].Instances) != 1 || in.Parties[0].Instances[0] != 10 {
		t.Errorf("party A instances = %v, want [10]", in.Parties[0].Instances)
	}
	if len(in.Parties[1].Instances) != 1 || in.Parties[1].Instances[0] != 20 {
		t.Errorf("party B instances = %v, want [20]", in.Parties[1].Instances)
	}
	if store.leaseCount() != 0 {
		t.Errorf("%d leases still held after settlement", store.leaseCount())
	}
	if v := msgr.lastView(); v.Controls != ControlsNone {
		t.Error("terminal panel still has live controls")
	}
}

func TestAddValidation(t *testing.T) {
	ctx := context.Background()
	_, s, _, _ := beginTrade(t)

	if err := s.Add(ctx, "stranger", inst(1, 99, 0, 0)); !errors.Is(err, ErrNotParty) {
		t.Errorf("stranger add: %v, want ErrNotParty", err)
	}
	if err := s.Add(ctx, alice.UserID, inst(1, bob.PlayerID, 0, 0)); !errors.Is(err, ErrNotOwner) {
		t.Errorf("foreign instance add: %v, want ErrNotOwner", err)
	}
	if err := s.Add(ctx, alice.UserID, inst(1, alice.PlayerID, 0, 0)); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := s.Add(ctx, alice.UserID, inst(1, alice.PlayerID, 0, 0)); !errors.Is(err, ErrAlreadyProposed) {
		t.Errorf("duplicate add: %v, want ErrAlreadyProposed", err)
	}
	if err := s.Lock(ctx, alice.UserID); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := s.Add(ctx, alice.UserID, inst(2, alice.PlayerID, 0, 0)); !errors.Is(err, ErrPartyLocked) {
		t.Errorf("add after lock: %v, want ErrPartyLocked", err)
	}
	// The counterpart is still free to edit.
	if err := s.Add(ctx, bob.UserID, inst(3, bob.PlayerID, 0, 0)); err != nil {
		t.Errorf("counterpart add while other side locked: %v", err)
	}
}

func TestAddRejectsInstanceStagedElsewhere(t *testing.T) {
	ctx := context.Background()
	_, s, store, _ := beginTrade(t)

	store.mu.Lock()
	store.leases[7] = time.Now().Add(time.Hour) // staged in some other session
	store.mu.Unlock()

	err := s.Add(ctx, alice.UserID, inst(7, alice.PlayerID, 0, 0))
	if !errors.Is(err, ErrLockedElsewhere) {
		t.Fatalf("add of leased instance: %v, want ErrLockedElsewhere", err)
	}
	if p, _ := s.Party(alice.UserID); len(p.Proposal) != 0 {
		t.Error("rejected instance ended up in the proposal")
	}
}

func TestRemoveReleasesLease(t *testing.T) {
	ctx := context.Background()
	_, s, store, _ := beginTrade(t)

	if err := s.Add(ctx, alice.UserID, inst(5, alice.PlayerID, 0, 0)); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove(ctx, alice.UserID, 5); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if store.leaseCount() != 0 {
		t.Error("lease kept after remove")
	}
	if err := s.Remove(ctx, alice.UserID, 5); !errors.Is(err, ErrAlreadyProposed) {
		t.Errorf("remove of unstaged instance: %v, want ErrAlreadyProposed", err)
	}
	if err := s.Lock(ctx, alice.UserID); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove(ctx, alice.UserID, 5); !errors.Is(err, ErrPartyLocked) {
		t.Errorf("remove after lock: %v, want ErrPartyLocked", err)
	}
}

func TestConfirmRequiresLockedState(t *testing.T) {
	ctx := context.Background()
	_, s, _, _ := beginTrade(t)

	if err := s.Confirm(ctx, alice.UserID); !errors.Is(err, ErrNotLocked) {
		t.Errorf("confirm while open: %v, want ErrNotLocked", err)
	}
	if err := s.Lock(ctx, alice.UserID); err != nil {
		t.Fatal(err)
	}
	if err := s.Lock(ctx, alice.UserID); !errors.Is(err, ErrAlreadyLocked) {
		t.Errorf("double lock: %v, want ErrAlreadyLocked", err)
	}
}

func TestCancelReleasesLeasesAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	_, s, store, _ := beginTrade(t)

	if err := s.Add(ctx, alice.UserID, inst(1, alice.PlayerID, 0, 0)); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(ctx, bob.UserID, inst(2, bob.PlayerID, 0, 0)); err != nil {
		t.Fatal(err)
	}
	if err := s.Cancel(ctx, bob.UserID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if s.State() != StateCancelled {
		t.Fatalf("state = %v, want cancelled", s.State())
	}
	if store.leaseCount() != 0 {
		t.Error("leases survived cancellation")
	}
	released := len(store.released)
	if err := s.Cancel(ctx, bob.UserID); err != nil {
		t.Errorf("second cancel: %v, want no-op nil", err)
	}
	if len(store.released) != released {
		t.Error("second cancel released leases again")
	}
	if err := s.Add(ctx, alice.UserID, inst(3, alice.PlayerID, 0, 0)); !errors.Is(err, ErrSessionTerminal) {
		t.Errorf("add after cancel: %v, want ErrSessionTerminal", err)
	}
}

func TestSettlementAbortsOnOwnershipChange(t *testing.T) {
	ctx := context.Background()
	_, s, store, _ := beginTrade(t)

	if err := s.Add(ctx, alice.UserID, inst(1, alice.PlayerID, 0, 0)); err != nil {
		t.Fatal(err)
	}
	if err := s.Lock(ctx, alice.UserID); err != nil {
		t.Fatal(err)
	}
	if err := s.Lock(ctx, bob.UserID); err != nil {
		t.Fatal(err)
	}
	store.mu.Lock()
	store.settleErr = ErrOwnershipChanged
	store.mu.Unlock()

	if err := s.Confirm(ctx, alice.UserID); err != nil {
		t.Fatal(err)
	}
	err := s.Confirm(ctx, bob.UserID)
	if !errors.Is(err, ErrOwnershipChanged) {
		t.Fatalf("settling confirm: %v, want ErrOwnershipChanged", err)
	}
	if s.State() != StateCancelled {
		t.Fatalf("state = %v, want cancelled after aborted settlement", s.State())
	}
	if s.Reason() != "invalid operation detected" {
		t.Errorf("reason = %q", s.Reason())
	}
	if store.leaseCount() != 0 {
		t.Error("leases kept after aborted settlement")
	}
}

func TestRegistryOneSessionPerUserPerGuild(t *testing.T) {
	ctx := context.Background()
	reg, s, _, _ := beginTrade(t)

	carol := Member{UserID: "u-carol", PlayerID: 3}
	if _, err := reg.Begin(ctx, "g1", "c2", alice, carol, TradeOutcome{}); !errors.Is(err, ErrAlreadyNegotiating) {
		t.Errorf("second session for alice: %v, want ErrAlreadyNegotiating", err)
	}
	if _, err := reg.Begin(ctx, "g1", "c1", carol, carol, TradeOutcome{}); !errors.Is(err, ErrSelfNegotiation) {
		t.Errorf("self session: %v, want ErrSelfNegotiation", err)
	}
	// A different guild is a separate namespace.
	if _, err := reg.Begin(ctx, "g2", "c1", alice, carol, BattleOutcome{}); err != nil {
		t.Errorf("same user in another guild: %v", err)
	}

	if err := s.Cancel(ctx, alice.UserID); err != nil {
		t.Fatal(err)
	}
	// Terminal sessions are swept on lookup and stop blocking new ones.
	if got := reg.Find("g1", "", alice.UserID); got != nil {
		t.Error("Find returned a terminal session")
	}
	if _, err := reg.Begin(ctx, "g1", "c1", alice, carol, TradeOutcome{}); err != nil {
		t.Errorf("begin after cancel: %v", err)
	}
}

func TestRegistryFindFiltersByChannel(t *testing.T) {
	reg, s, _, _ := beginTrade(t)
	if got := reg.Find("g1", "c1", alice.UserID); got != s {
		t.Error("Find missed the session in its own channel")
	}
	if got := reg.Find("g1", "other", alice.UserID); got != nil {
		t.Error("Find matched a session from another channel")
	}
	if got := reg.Find("g1", "", bob.UserID); got != s {
		t.Error("guild-wide Find missed the counterpart")
	}
}

func TestSessionTimesOut(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	msgr := &panelRecorder{}
	cfg := testExchangeConfig()
	cfg.RefreshInterval = 5 * time.Millisecond
	cfg.SessionLifetime = 20 * time.Millisecond
	reg := NewRegistry(cfg, store, msgr, zap.NewNop())
	s, err := reg.Begin(ctx, "g1", "c1", alice, bob, TradeOutcome{})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Add(ctx, alice.UserID, inst(1, alice.PlayerID, 0, 0)); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.State() != StateTimedOut {
		if time.Now().After(deadline) {
			t.Fatalf("session never timed out, state %v", s.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if store.leaseCount() != 0 {
		t.Error("leases kept after timeout")
	}
	if s.Reason() != "timed out" {
		t.Errorf("reason = %q", s.Reason())
	}
}

func TestBattleResult(t *testing.T) {
	mk := func(stats ...[2]int32) []Instance {
		out := make([]Instance, len(stats))
		for i, st := range stats {
			out[i] = Instance{ID: int64(i), Horsepower: st[0], Weight: st[1]}
		}
		return out
	}
	cases := []struct {
		name string
		a, b []Instance
		want int
	}{
		{"higher ratio wins", mk([2]int32{400, 1000}), mk([2]int32{200, 1000}), 0},
		{"weaker engine loses", mk([2]int32{100, 1000}), mk([2]int32{300, 900}), 1},
		{"draw settles with no winner", mk([2]int32{200, 1000}), mk([2]int32{200, 1000}), -1},
		{"empty garages draw", nil, nil, -1},
		{"sums across the proposal", mk([2]int32{100, 500}, [2]int32{150, 500}), mk([2]int32{200, 1000}), 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := &Party{Proposal: tc.a}
			b := &Party{Proposal: tc.b}
			if got := (BattleOutcome{}).Result(a, b); got != tc.want {
				t.Errorf("Result = %d, want %d", got, tc.want)
			}
		})
	}
}
