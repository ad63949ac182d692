package random

import (
	"math"
	"math/rand"
	"testing"
)

type weighted struct {
	name   string
	weight float64
}

func TestPickFrequencyConvergence(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	items := []weighted{
		{"common", 5.0},
		{"uncommon", 3.0},
		{"rare", 1.5},
		{"epic", 0.5},
	}
	const draws = 200_000
	counts := make(map[string]int, len(items))
	for i := 0; i < draws; i++ {
		it, ok := Pick(r, items, func(w weighted) float64 { return w.weight })
		if !ok {
			t.Fatal("pick failed on non-empty weighted list")
		}
		counts[it.name]++
	}
	total := 10.0
	for _, it := range items {
		want := it.weight / total
		got := float64(counts[it.name]) / draws
		if math.Abs(got-want) > 0.01 {
			t.Errorf("%s: frequency %.4f, want %.4f ±0.01", it.name, got, want)
		}
	}
}

func TestPickSkipsZeroWeight(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	items := []weighted{
		{"disabled", 0},
		{"only", 1.0},
		{"negative", -3},
	}
	for i := 0; i < 1000; i++ {
		it, ok := Pick(r, items, func(w weighted) float64 { return w.weight })
		if !ok {
			t.Fatal("pick failed")
		}
		if it.name != "only" {
			t.Fatalf("picked %q, want the only positive-weight item", it.name)
		}
	}
}

func TestPickEmpty(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	if _, ok := Pick(r, nil, func(w weighted) float64 { return w.weight }); ok {
		t.Error("pick on empty list reported success")
	}
	zeroed := []weighted{{"a", 0}, {"b", 0}}
	if _, ok := Pick(r, zeroed, func(w weighted) float64 { return w.weight }); ok {
		t.Error("pick on all-zero weights reported success")
	}
}

func TestPickModifierEmptyIsAlwaysPlain(t *testing.T) {
	r := rand.New(rand.NewSource(4))
	for i := 0; i < 100; i++ {
		if _, ok := PickModifier(r, nil, func(w weighted) float64 { return w.weight }); ok {
			t.Fatal("empty eligible list must yield the plain outcome")
		}
	}
}

func TestPickModifierComplementWeight(t *testing.T) {
	r := rand.New(rand.NewSource(5))
	items := []weighted{{"summer", 0.25}, {"anniversary", 0.25}}
	// Modifier weight 0.5 vs plain complement 1.5: plain should win ~75%.
	const draws = 100_000
	plain := 0
	for i := 0; i < draws; i++ {
		if _, ok := PickModifier(r, items, func(w weighted) float64 { return w.weight }); !ok {
			plain++
		}
	}
	got := float64(plain) / draws
	if math.Abs(got-0.75) > 0.01 {
		t.Errorf("plain outcome frequency %.4f, want 0.75 ±0.01", got)
	}
}
