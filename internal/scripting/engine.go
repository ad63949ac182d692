// Package scripting bridges server-side decisions into Lua. Go detects the
// moment (a cooldown came up ready, a figure was caught), Lua decides the
// tunable outcome; a missing or failing script always falls back to the
// built-in behavior.
package scripting

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/carfigo/server/internal/spawn"
)

// Engine wraps a single gopher-lua VM. Gateway events arrive on many
// goroutines, so calls are serialized on a mutex.
type Engine struct {
	mu  sync.Mutex
	vm  *lua.LState
	log *zap.Logger
}

// NewEngine creates a Lua engine and loads all scripts from the given directory.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log}

	for _, sub := range []string{"spawn", "catch"} {
		p := filepath.Join(scriptsDir, sub)
		if err := e.loadDir(p); err != nil {
			vm.Close()
			return nil, fmt.Errorf("load %s scripts: %w", sub, err)
		}
	}

	return e, nil
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// FilterSpawn calls the Lua spawn_filter function. The script can veto the
// spawn or pin a specific figure id; anything going wrong allows the spawn
// with the weighted draw in charge.
func (e *Engine) FilterSpawn(fc spawn.FilterContext) spawn.FilterDecision {
	e.mu.Lock()
	defer e.mu.Unlock()

	fn := e.vm.GetGlobal("spawn_filter")
	if fn == lua.LNil {
		return spawn.FilterDecision{Allow: true}
	}

	t := e.vm.NewTable()
	t.RawSetString("guild_id", lua.LString(fc.GuildID))
	t.RawSetString("channel_id", lua.LString(fc.ChannelID))
	t.RawSetString("guild_members", lua.LNumber(fc.GuildMembers))
	t.RawSetString("count", lua.LNumber(fc.Count))
	t.RawSetString("threshold", lua.LNumber(fc.Threshold))

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, t); err != nil {
		e.log.Error("lua spawn_filter error", zap.Error(err))
		return spawn.FilterDecision{Allow: true}
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)

	rt, ok := result.(*lua.LTable)
	if !ok {
		e.log.Error("lua spawn_filter returned non-table")
		return spawn.FilterDecision{Allow: true}
	}

	return spawn.FilterDecision{
		Allow:    rt.RawGetString("allow") == lua.LTrue,
		FigureID: int32(lua.LVAsNumber(rt.RawGetString("figure_id"))),
	}
}

// CatchBonus calls the Lua catch_bonus function, which may override the stat
// bonus range rolled for a fresh catch. Returns the half-range in percent;
// a missing script keeps the default.
func (e *Engine) CatchBonus(figureID int32, eventActive bool, fallback int) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	fn := e.vm.GetGlobal("catch_bonus")
	if fn == lua.LNil {
		return fallback
	}

	t := e.vm.NewTable()
	t.RawSetString("figure_id", lua.LNumber(figureID))
	if eventActive {
		t.RawSetString("event_active", lua.LTrue)
	} else {
		t.RawSetString("event_active", lua.LFalse)
	}

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, t); err != nil {
		e.log.Error("lua catch_bonus error", zap.Error(err))
		return fallback
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)

	rt, ok := result.(*lua.LTable)
	if !ok {
		return fallback
	}
	r := int(lua.LVAsNumber(rt.RawGetString("range")))
	if r <= 0 {
		return fallback
	}
	return r
}

// Close shuts down the Lua VM.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vm.Close()
}
