package persist

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/carfigo/server/internal/session"
)

// ExchangeRow is one settled exchange from the history log.
type ExchangeRow struct {
	ID          uuid.UUID
	Kind        string
	GuildID     string
	PartyA      int64
	PartyB      int64
	Winner      *int64
	ConcludedAt time.Time
	Items       int
}

type ExchangeRepo struct {
	db *DB
}

func NewExchangeRepo(db *DB) *ExchangeRepo {
	return &ExchangeRepo{db: db}
}

// Settle commits a negotiation in one transaction: every staged instance is
// row-locked, its ownership re-verified against the party that proposed it,
// and only then transferred. Any mismatch rolls the whole exchange back with
// session.ErrOwnershipChanged; a half-settled exchange cannot exist.
//
// Transfers set provenance (trader_id), clear the favorite flag for the new
// owner and drop the negotiation lease.
func (r *ExchangeRepo) Settle(ctx context.Context, in session.SettleInput) error {
	expected := make(map[int64]int64) // instance → proposing party
	dest := make(map[int64]int64)     // instance → receiving party
	var winnerID *int64
	if in.Winner >= 0 {
		w := in.Parties[in.Winner].PlayerID
		winnerID = &w
	}
	var all []int64
	for i, p := range in.Parties {
		counterpart := in.Parties[1-i].PlayerID
		for _, id := range p.Instances {
			expected[id] = p.PlayerID
			if winnerID != nil {
				dest[id] = *winnerID
			} else {
				dest[id] = counterpart
			}
			all = append(all, id)
		}
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT id, owner_id FROM figure_instances WHERE id = ANY($1) FOR UPDATE`, all)
	if err != nil {
		return err
	}
	seen := 0
	for rows.Next() {
		var id, owner int64
		if err := rows.Scan(&id, &owner); err != nil {
			rows.Close()
			return err
		}
		if expected[id] != owner {
			rows.Close()
			return session.ErrOwnershipChanged
		}
		seen++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if seen != len(all) {
		// A staged instance vanished mid-session.
		return session.ErrOwnershipChanged
	}

	for _, id := range all {
		if _, err := tx.Exec(ctx,
			`UPDATE figure_instances
			 SET owner_id = $2, trader_id = $3, favorite = FALSE, locked_until = NULL
			 WHERE id = $1`,
			id, dest[id], expected[id],
		); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO exchanges (id, kind, guild_id, party_a, party_b, winner)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		in.SessionID, in.Kind, in.GuildID,
		in.Parties[0].PlayerID, in.Parties[1].PlayerID, winnerID,
	); err != nil {
		return err
	}
	for _, id := range all {
		if _, err := tx.Exec(ctx,
			`INSERT INTO exchange_items (exchange_id, instance_id, from_player, to_player)
			 VALUES ($1, $2, $3, $4)`,
			in.SessionID, id, expected[id], dest[id],
		); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// History returns a player's most recent exchanges, newest first.
func (r *ExchangeRepo) History(ctx context.Context, playerID int64, limit int) ([]ExchangeRow, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT e.id, e.kind, e.guild_id, e.party_a, e.party_b, e.winner, e.concluded_at,
		        (SELECT COUNT(*) FROM exchange_items i WHERE i.exchange_id = e.id)
		 FROM exchanges e
		 WHERE e.party_a = $1 OR e.party_b = $1
		 ORDER BY e.concluded_at DESC
		 LIMIT $2`, playerID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ExchangeRow
	for rows.Next() {
		var ex ExchangeRow
		if err := rows.Scan(
			&ex.ID, &ex.Kind, &ex.GuildID, &ex.PartyA, &ex.PartyB,
			&ex.Winner, &ex.ConcludedAt, &ex.Items,
		); err != nil {
			return nil, err
		}
		result = append(result, ex)
	}
	return result, rows.Err()
}

// NegotiationStore bundles the lease operations and atomic settlement into
// the store contract the session engine works against.
type NegotiationStore struct {
	*FigureRepo
	*ExchangeRepo
}

func NewNegotiationStore(figures *FigureRepo, exchanges *ExchangeRepo) *NegotiationStore {
	return &NegotiationStore{FigureRepo: figures, ExchangeRepo: exchanges}
}
