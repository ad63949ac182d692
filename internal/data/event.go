package data

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EventModifier is a rare overlay applied to a spawn (seasonal card art,
// limited drops). Rarity is the per-draw weight; the complement of all
// eligible rarities is the plain, no-modifier outcome.
type EventModifier struct {
	ID      int32     `yaml:"id"`
	Name    string    `yaml:"name"`
	Rarity  float64   `yaml:"rarity"`
	Banner  string    `yaml:"banner"`
	StartAt time.Time `yaml:"start_at"`
	EndAt   time.Time `yaml:"end_at"`
	Enabled bool      `yaml:"enabled"`
}

// ActiveAt reports whether the modifier can apply at the given time.
func (m *EventModifier) ActiveAt(now time.Time) bool {
	if !m.Enabled {
		return false
	}
	if !m.StartAt.IsZero() && now.Before(m.StartAt) {
		return false
	}
	if !m.EndAt.IsZero() && now.After(m.EndAt) {
		return false
	}
	return true
}

type eventListFile struct {
	Events []*EventModifier `yaml:"events"`
}

// EventTable holds all event modifiers indexed by ID.
type EventTable struct {
	events map[int32]*EventModifier
	all    []*EventModifier
}

// Get returns the modifier for an ID, or nil if unknown.
func (t *EventTable) Get(id int32) *EventModifier {
	return t.events[id]
}

// Count returns the number of loaded modifiers.
func (t *EventTable) Count() int {
	return len(t.events)
}

// ActiveAt returns the modifiers eligible at the given time.
func (t *EventTable) ActiveAt(now time.Time) []*EventModifier {
	var out []*EventModifier
	for _, m := range t.all {
		if m.ActiveAt(now) {
			out = append(out, m)
		}
	}
	return out
}

// LoadEventTable loads event modifiers from a YAML file.
func LoadEventTable(path string) (*EventTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read event_list: %w", err)
	}
	var f eventListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse event_list: %w", err)
	}
	t := &EventTable{events: make(map[int32]*EventModifier, len(f.Events))}
	for _, ev := range f.Events {
		if ev.Rarity < 0 {
			return nil, fmt.Errorf("event %d (%s): negative rarity", ev.ID, ev.Name)
		}
		t.events[ev.ID] = ev
		t.all = append(t.all, ev)
	}
	return t, nil
}
