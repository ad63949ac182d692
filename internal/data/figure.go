package data

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Figure is one carfigure template. Instances caught by players reference a
// template by ID; templates themselves live in YAML, not in the database.
type Figure struct {
	ID         int32    `yaml:"id"`
	Name       string   `yaml:"name"`
	FullName   string   `yaml:"full_name"`
	CatchNames []string `yaml:"catch_names"` // extra accepted guesses besides Name
	Rarity     float64  `yaml:"rarity"`      // non-negative selection weight
	Horsepower int32    `yaml:"horsepower"`
	Weight     int32    `yaml:"weight"`
	Emoji      string   `yaml:"emoji"`
	Image      string   `yaml:"image"`
	Enabled    bool     `yaml:"enabled"`
}

// MatchesGuess reports whether a player guess names this figure.
// Comparison is case-insensitive and ignores surrounding whitespace.
func (f *Figure) MatchesGuess(guess string) bool {
	g := strings.ToLower(strings.TrimSpace(guess))
	if g == "" {
		return false
	}
	if g == strings.ToLower(f.Name) || g == strings.ToLower(f.FullName) {
		return true
	}
	for _, alt := range f.CatchNames {
		if g == strings.ToLower(alt) {
			return true
		}
	}
	return false
}

type figureListFile struct {
	Figures []*Figure `yaml:"figures"`
}

// FigureTable holds all carfigure templates indexed by ID.
type FigureTable struct {
	figures map[int32]*Figure
	enabled []*Figure
}

// Get returns the template for an ID, or nil if unknown.
func (t *FigureTable) Get(id int32) *Figure {
	return t.figures[id]
}

// Count returns the number of loaded templates.
func (t *FigureTable) Count() int {
	return len(t.figures)
}

// Snapshot returns the enabled templates as a read-only slice. The slice is
// rebuilt on load, never mutated afterwards; callers must not modify it.
func (t *FigureTable) Snapshot() []*Figure {
	return t.enabled
}

// LoadFigureTable loads carfigure templates from a YAML file.
func LoadFigureTable(path string) (*FigureTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read figure_list: %w", err)
	}
	var f figureListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse figure_list: %w", err)
	}
	t := &FigureTable{figures: make(map[int32]*Figure, len(f.Figures))}
	for _, fig := range f.Figures {
		if fig.Rarity < 0 {
			return nil, fmt.Errorf("figure %d (%s): negative rarity", fig.ID, fig.Name)
		}
		t.figures[fig.ID] = fig
		if fig.Enabled {
			t.enabled = append(t.enabled, fig)
		}
	}
	return t, nil
}
