// Package random implements weighted selection over registered candidates.
// Both the spawn engine (which figure appears) and the catch flow (which
// event modifier applies) draw from it.
package random

import "math/rand"

// Pick selects one item with probability proportional to weight(item).
// Items with non-positive weight are never selected. Returns false when no
// item is selectable.
func Pick[T any](r *rand.Rand, items []T, weight func(T) float64) (T, bool) {
	var zero T
	total := 0.0
	for _, it := range items {
		if w := weight(it); w > 0 {
			total += w
		}
	}
	if total <= 0 {
		return zero, false
	}
	roll := r.Float64() * total
	for _, it := range items {
		w := weight(it)
		if w <= 0 {
			continue
		}
		roll -= w
		if roll < 0 {
			return it, true
		}
	}
	// Float accumulation can leave roll at a hair above zero; fall back to
	// the last selectable item.
	for i := len(items) - 1; i >= 0; i-- {
		if weight(items[i]) > 0 {
			return items[i], true
		}
	}
	return zero, false
}

// PickModifier draws one modifier, or none. The plain outcome is a synthetic
// candidate weighted by the complement sum(1-rarity) of the eligible
// modifiers, so a crowded event table makes a plain draw rarer without ever
// ruling it out. An empty eligible list degenerates to the plain outcome.
func PickModifier[T any](r *rand.Rand, items []T, rarity func(T) float64) (T, bool) {
	var zero T
	if len(items) == 0 {
		return zero, false
	}
	none := 0.0
	for _, it := range items {
		if c := 1 - rarity(it); c > 0 {
			none += c
		}
	}
	type candidate struct {
		item T
		ok   bool
	}
	cands := make([]candidate, 0, len(items)+1)
	for _, it := range items {
		cands = append(cands, candidate{item: it, ok: true})
	}
	cands = append(cands, candidate{}) // synthetic plain outcome
	picked, ok := Pick(r, cands, func(c candidate) float64 {
		if !c.ok {
			return none
		}
		return rarity(c.item)
	})
	if !ok || !picked.ok {
		return zero, false
	}
	return picked.item, true
}
