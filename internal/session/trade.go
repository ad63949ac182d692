package session

// TradeOutcome settles a plain swap: each party's proposal transfers to the
// other side, nobody wins anything beyond the figures.
type TradeOutcome struct{}

func (TradeOutcome) Kind() string { return "trade" }

func (TradeOutcome) Result(_, _ *Party) int { return -1 }
