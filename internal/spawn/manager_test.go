package spawn

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/carfigo/server/internal/config"
	"github.com/carfigo/server/internal/data"
)

const figureYAML = `figures:
  - id: 1
    name: "Roadster"
    catch_names: ["the roadster"]
    rarity: 1.0
    horsepower: 220
    weight: 1100
    enabled: true
  - id: 2
    name: "Prototype"
    rarity: 5.0
    horsepower: 900
    weight: 1400
    enabled: false
`

const eventYAML = `events: []
`

func loadTestTables(t *testing.T) (*data.FigureTable, *data.EventTable) {
	t.Helper()
	dir := t.TempDir()
	figPath := filepath.Join(dir, "figure_list.yaml")
	evPath := filepath.Join(dir, "event_list.yaml")
	if err := os.WriteFile(figPath, []byte(figureYAML), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(evPath, []byte(eventYAML), 0644); err != nil {
		t.Fatal(err)
	}
	figures, err := data.LoadFigureTable(figPath)
	if err != nil {
		t.Fatalf("load figure table: %v", err)
	}
	events, err := data.LoadEventTable(evPath)
	if err != nil {
		t.Fatalf("load event table: %v", err)
	}
	return figures, events
}

type fakeMessenger struct {
	mu    sync.Mutex
	sends []*Spawned
	err   error
}

func (f *fakeMessenger) SendSpawn(_ context.Context, channelID string, sp *Spawned) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sends = append(f.sends, sp)
	return fmt.Sprintf("m%d", len(f.sends)), nil
}

func (f *fakeMessenger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

type vetoFilter struct{ allow bool }

func (v vetoFilter) FilterSpawn(FilterContext) FilterDecision {
	return FilterDecision{Allow: v.allow}
}

func managerConfig() config.SpawnConfig {
	return config.SpawnConfig{
		ThresholdMin: 1,
		ThresholdMax: 1,
		SeedCount:    0,
		GracePeriod:  0,
		GateHold:     0,
		RingCapacity: 100,
		MinMembers:   5,
	}
}

func newTestManager(t *testing.T, msgr Messenger, filter Filter) *Manager {
	t.Helper()
	figures, events := loadTestTables(t)
	return NewManager(managerConfig(), figures, events, msgr, filter,
		rand.New(rand.NewSource(1)), zap.NewNop())
}

// driveToSpawn sends plain messages until the threshold is crossed.
func driveToSpawn(m *Manager, guildID string, members int, n int) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		m.HandleMessage(context.Background(), Message{
			GuildID:       guildID,
			ChannelID:     "chat",
			AuthorID:      fmt.Sprintf("u%d", i),
			Content:       fmt.Sprintf("ordinary chatter %d", i),
			AuthorCreated: base.Add(-90 * 24 * time.Hour),
			GuildMembers:  members,
			SentAt:        base.Add(time.Duration(i) * time.Second),
		})
	}
}

func TestUnroutedGuildNeverSpawns(t *testing.T) {
	msgr := &fakeMessenger{}
	m := newTestManager(t, msgr, nil)
	driveToSpawn(m, "g1", 50, 10)
	if msgr.count() != 0 {
		t.Errorf("unrouted guild produced %d spawns", msgr.count())
	}
}

func TestSpawnFiresAndPicksEnabledFigure(t *testing.T) {
	msgr := &fakeMessenger{}
	m := newTestManager(t, msgr, nil)
	m.SetRoute("g1", "spawn-channel")

	driveToSpawn(m, "g1", 50, 2)
	if msgr.count() != 1 {
		t.Fatalf("got %d spawns, want 1", msgr.count())
	}
	sp := msgr.sends[0]
	if sp.Figure.Name != "Roadster" {
		t.Errorf("spawned %q; disabled figures must never be drawn", sp.Figure.Name)
	}
	if sp.ChannelID != "spawn-channel" {
		t.Errorf("spawned into %q, want the routed channel", sp.ChannelID)
	}
	if got := m.CurrentSpawn("g1"); got != sp {
		t.Error("CurrentSpawn does not return the live spawn")
	}
	if sp.MessageID == "" {
		t.Error("message ID not recorded on the spawn")
	}
}

func TestBlacklistedGuildNeverSpawns(t *testing.T) {
	msgr := &fakeMessenger{}
	m := newTestManager(t, msgr, nil)
	m.SetRoute("g1", "spawn-channel")
	m.Blacklist("g1")
	driveToSpawn(m, "g1", 50, 10)
	if msgr.count() != 0 {
		t.Errorf("blacklisted guild produced %d spawns", msgr.count())
	}
}

func TestMemberFloorSuppressesSpawn(t *testing.T) {
	msgr := &fakeMessenger{}
	m := newTestManager(t, msgr, nil)
	m.SetRoute("g1", "spawn-channel")
	driveToSpawn(m, "g1", 3, 20) // below min_members = 5
	if msgr.count() != 0 {
		t.Errorf("below-floor guild produced %d spawns", msgr.count())
	}
}

func TestFilterVeto(t *testing.T) {
	msgr := &fakeMessenger{}
	m := newTestManager(t, msgr, vetoFilter{allow: false})
	m.SetRoute("g1", "spawn-channel")
	driveToSpawn(m, "g1", 50, 10)
	if msgr.count() != 0 {
		t.Errorf("vetoed spawn was sent %d times", msgr.count())
	}
}

func TestLostChannelDropsRoute(t *testing.T) {
	msgr := &fakeMessenger{err: fmt.Errorf("channel 404: %w", ErrChannelGone)}
	m := newTestManager(t, msgr, nil)
	m.SetRoute("g1", "spawn-channel")
	driveToSpawn(m, "g1", 50, 2)

	m.mu.Lock()
	_, routed := m.routes["g1"]
	m.mu.Unlock()
	if routed {
		t.Error("route kept after the channel became inaccessible")
	}
}

func TestSetRouteIdempotent(t *testing.T) {
	msgr := &fakeMessenger{}
	m := newTestManager(t, msgr, nil)
	m.SetRoute("g1", "a")
	m.SetRoute("g1", "a")
	m.SetRoute("g1", "b")
	m.mu.Lock()
	got := m.routes["g1"]
	m.mu.Unlock()
	if got != "b" {
		t.Errorf("route = %q, want latest channel %q", got, "b")
	}
}

func TestClaimExactlyOneWinner(t *testing.T) {
	sp := &Spawned{}
	var wg sync.WaitGroup
	wins := make(chan string, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if sp.Claim(fmt.Sprintf("u%d", n)) {
				wins <- fmt.Sprintf("u%d", n)
			}
		}(i)
	}
	wg.Wait()
	close(wins)
	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	if len(winners) != 1 {
		t.Fatalf("%d claimants won, want exactly 1", len(winners))
	}
	if sp.CaughtBy() != winners[0] {
		t.Errorf("CaughtBy = %q, want winner %q", sp.CaughtBy(), winners[0])
	}
}
