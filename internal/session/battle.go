package session

// BattleOutcome settles a wager battle. Each side's score is its total
// horsepower divided by the opponent's total weight (floored at 1 so an
// empty garage cannot divide by zero); the higher score wins and takes both
// proposals. Equal scores are a draw and settle like a plain trade.
type BattleOutcome struct{}

func (BattleOutcome) Kind() string { return "battle" }

func (BattleOutcome) Result(a, b *Party) int {
	scoreA := score(a.Proposal, b.Proposal)
	scoreB := score(b.Proposal, a.Proposal)
	switch {
	case scoreA > scoreB:
		return 0
	case scoreB > scoreA:
		return 1
	default:
		return -1
	}
}

func score(own, opponent []Instance) float64 {
	var hp, weight int64
	for _, inst := range own {
		hp += int64(inst.Horsepower)
	}
	for _, inst := range opponent {
		weight += int64(inst.Weight)
	}
	if weight < 1 {
		weight = 1
	}
	return float64(hp) / float64(weight)
}
