package scripting

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/carfigo/server/internal/spawn"
)

func writeScript(t *testing.T, dir, sub, name, body string) {
	t.Helper()
	p := filepath.Join(dir, sub)
	if err := os.MkdirAll(p, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(p, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestEngine(t *testing.T, dir string) *Engine {
	t.Helper()
	e, err := NewEngine(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func TestFilterSpawnVeto(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "spawn", "filter.lua", `
function spawn_filter(ctx)
    if ctx.guild_members < 10 then
        return { allow = false }
    end
    return { allow = true }
end
`)
	e := newTestEngine(t, dir)

	dec := e.FilterSpawn(spawn.FilterContext{GuildID: "g1", GuildMembers: 3})
	if dec.Allow {
		t.Fatal("small guild should be vetoed")
	}
	dec = e.FilterSpawn(spawn.FilterContext{GuildID: "g1", GuildMembers: 50})
	if !dec.Allow {
		t.Fatal("large guild should be allowed")
	}
}

func TestFilterSpawnPinsFigure(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "spawn", "filter.lua", `
function spawn_filter(ctx)
    return { allow = true, figure_id = 7 }
end
`)
	e := newTestEngine(t, dir)

	dec := e.FilterSpawn(spawn.FilterContext{GuildID: "g1"})
	if !dec.Allow || dec.FigureID != 7 {
		t.Fatalf("got %+v, want allow with figure 7", dec)
	}
}

func TestFilterSpawnFallsBackOnMissingFunction(t *testing.T) {
	e := newTestEngine(t, t.TempDir())

	dec := e.FilterSpawn(spawn.FilterContext{GuildID: "g1"})
	if !dec.Allow || dec.FigureID != 0 {
		t.Fatalf("got %+v, want plain allow", dec)
	}
}

func TestFilterSpawnFallsBackOnScriptError(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "spawn", "filter.lua", `
function spawn_filter(ctx)
    error("boom")
end
`)
	e := newTestEngine(t, dir)

	if dec := e.FilterSpawn(spawn.FilterContext{}); !dec.Allow {
		t.Fatal("script error must not suppress the spawn")
	}
}

func TestCatchBonus(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "catch", "bonus.lua", `
function catch_bonus(ctx)
    if ctx.event_active then
        return { range = 40 }
    end
    return { range = 0 }
end
`)
	e := newTestEngine(t, dir)

	if r := e.CatchBonus(1, true, 20); r != 40 {
		t.Fatalf("event catch range = %d, want 40", r)
	}
	// range 0 means "no opinion"; keep the default
	if r := e.CatchBonus(1, false, 20); r != 20 {
		t.Fatalf("plain catch range = %d, want fallback 20", r)
	}
}

func TestCatchBonusFallsBackOnMissingFunction(t *testing.T) {
	e := newTestEngine(t, t.TempDir())
	if r := e.CatchBonus(1, false, 20); r != 20 {
		t.Fatalf("range = %d, want fallback 20", r)
	}
}

func TestNewEngineRejectsBrokenScript(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "spawn", "broken.lua", `function ( this is not lua`)

	if _, err := NewEngine(dir, zap.NewNop()); err == nil {
		t.Fatal("expected load error for broken script")
	}
}
