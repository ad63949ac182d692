package persist

import (
	"context"
	"time"
)

// PlayerRow represents a registered player.
type PlayerRow struct {
	ID        int64
	DiscordID string
	CreatedAt time.Time
}

type PlayerRepo struct {
	db *DB
}

func NewPlayerRepo(db *DB) *PlayerRepo {
	return &PlayerRepo{db: db}
}

// GetOrCreate returns the player bound to a Discord user, registering them
// on first contact.
func (r *PlayerRepo) GetOrCreate(ctx context.Context, discordID string) (*PlayerRow, error) {
	row := &PlayerRow{}
	err := r.db.Pool.QueryRow(ctx,
		`INSERT INTO players (discord_id) VALUES ($1)
		 ON CONFLICT (discord_id) DO UPDATE SET discord_id = EXCLUDED.discord_id
		 RETURNING id, discord_id, created_at`, discordID,
	).Scan(&row.ID, &row.DiscordID, &row.CreatedAt)
	if err != nil {
		return nil, err
	}
	return row, nil
}
