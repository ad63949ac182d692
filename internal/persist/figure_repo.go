package persist

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/carfigo/server/internal/session"
)

// InstanceRow represents one owned carfigure.
type InstanceRow struct {
	ID              int64
	FigureID        int32
	OwnerID         int64
	GuildID         string
	CatchDate       time.Time
	HorsepowerBonus int16
	WeightBonus     int16
	EventID         *int32
	Favorite        bool
	TraderID        *int64
	LockedUntil     *time.Time
}

type FigureRepo struct {
	db *DB
}

func NewFigureRepo(db *DB) *FigureRepo {
	return &FigureRepo{db: db}
}

const instanceColumns = `id, figure_id, owner_id, guild_id, catch_date,
	        horsepower_bonus, weight_bonus, event_id, favorite, trader_id, locked_until`

func scanInstance(row pgx.Row) (*InstanceRow, error) {
	it := &InstanceRow{}
	err := row.Scan(
		&it.ID, &it.FigureID, &it.OwnerID, &it.GuildID, &it.CatchDate,
		&it.HorsepowerBonus, &it.WeightBonus, &it.EventID, &it.Favorite,
		&it.TraderID, &it.LockedUntil,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return it, nil
}

// Create records a fresh catch and returns the new instance id.
func (r *FigureRepo) Create(ctx context.Context, it *InstanceRow) (int64, error) {
	err := r.db.Pool.QueryRow(ctx,
		`INSERT INTO figure_instances
		     (figure_id, owner_id, guild_id, horsepower_bonus, weight_bonus, event_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		it.FigureID, it.OwnerID, it.GuildID,
		it.HorsepowerBonus, it.WeightBonus, it.EventID,
	).Scan(&it.ID)
	if err != nil {
		return 0, err
	}
	return it.ID, nil
}

// Get returns one instance, or nil when it does not exist.
func (r *FigureRepo) Get(ctx context.Context, id int64) (*InstanceRow, error) {
	return scanInstance(r.db.Pool.QueryRow(ctx,
		`SELECT `+instanceColumns+` FROM figure_instances WHERE id = $1`, id))
}

// ListByOwner returns a player's garage, newest catches first.
func (r *FigureRepo) ListByOwner(ctx context.Context, ownerID int64) ([]InstanceRow, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+instanceColumns+`
		 FROM figure_instances WHERE owner_id = $1
		 ORDER BY catch_date DESC`, ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []InstanceRow
	for rows.Next() {
		var it InstanceRow
		if err := rows.Scan(
			&it.ID, &it.FigureID, &it.OwnerID, &it.GuildID, &it.CatchDate,
			&it.HorsepowerBonus, &it.WeightBonus, &it.EventID, &it.Favorite,
			&it.TraderID, &it.LockedUntil,
		); err != nil {
			return nil, err
		}
		result = append(result, it)
	}
	return result, rows.Err()
}

// SetFavorite toggles the favorite flag on an owned instance.
func (r *FigureRepo) SetFavorite(ctx context.Context, id, ownerID int64, favorite bool) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE figure_instances SET favorite = $3 WHERE id = $1 AND owner_id = $2`,
		id, ownerID, favorite,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return session.ErrNotOwner
	}
	return nil
}

// AcquireLease stakes an exclusive negotiation lease on an instance. A live
// lease held by anyone else makes this fail; an expired one is simply taken
// over, so a crashed session can never strand an instance past its lease.
func (r *FigureRepo) AcquireLease(ctx context.Context, instanceID int64, until time.Time) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE figure_instances SET locked_until = $2
		 WHERE id = $1 AND (locked_until IS NULL OR locked_until < NOW())`,
		instanceID, until,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return session.ErrLockedElsewhere
	}
	return nil
}

// ReleaseLease clears the negotiation lease.
func (r *FigureRepo) ReleaseLease(ctx context.Context, instanceID int64) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE figure_instances SET locked_until = NULL WHERE id = $1`, instanceID)
	return err
}
