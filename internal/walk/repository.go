package walk

import (
	"context"
	"errors"

	"backend-pawwalk/internal/db"

	"github.com/jackc/pgx/v5"
)

const walkColumns = `id, owner_id, agent_id, state, origin_lat, origin_lng, started_at, finished_at, created_at, updated_at`

type Repository struct {
	db db.Querier
}

func NewRepository(db db.Querier) *Repository {
	return &Repository{db: db}
}

func (r *Repository) FindWalk(ctx context.Context, id string) (Walk, error) {
	row := r.db.QueryRow(ctx, `SELECT `+walkColumns+` FROM walks WHERE id=$1`, id)
	return scanWalk(row)
}

// transition applies a conditional update; the WHERE clause carries every
// precondition so concurrent transitions cannot both win.
func (r *Repository) transition(ctx context.Context, sql string, args ...any) (Walk, error) {
	return scanWalk(r.db.QueryRow(ctx, sql, args...))
}

func scanWalk(row pgx.Row) (Walk, error) {
	var w Walk
	err := row.Scan(&w.ID, &w.OwnerID, &w.AgentID, &w.State, &w.OriginLat, &w.OriginLng,
		&w.StartedAt, &w.FinishedAt, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Walk{}, ErrNotFound
	}
	if err != nil {
		return Walk{}, err
	}
	return w, nil
}
