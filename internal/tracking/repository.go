package tracking

import (
	"context"

	"backend-pawwalk/internal/db"

	"github.com/jackc/pgx/v5"
)

const sampleColumns = `id, walk_id, ST_Y(location::geometry), ST_X(location::geometry), accuracy_m, speed_mps, altitude_m, battery_level, captured_at, created_at`

// Repository persists samples in walk_positions. Rows are append-only; id
// order is arrival order.
type Repository struct {
	db db.Querier
}

func NewRepository(db db.Querier) *Repository {
	return &Repository{db: db}
}

func (r *Repository) SaveSample(ctx context.Context, s Sample) (Sample, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO walk_positions (walk_id, location, accuracy_m, speed_mps, altitude_m, battery_level, captured_at)
		VALUES ($1, ST_SetSRID(ST_MakePoint($2,$3), 4326)::geography, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`, s.WalkID, s.Lng, s.Lat, s.Accuracy, s.Speed, s.Altitude, s.BatteryLevel, s.CapturedAt)
	if err := row.Scan(&s.ID, &s.CreatedAt); err != nil {
		return Sample{}, err
	}
	return s, nil
}

// LoadRecentSamples returns the latest limit samples, arranged in order.
func (r *Repository) LoadRecentSamples(ctx context.Context, walkID string, limit int, order Order) ([]Sample, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+sampleColumns+`
		FROM walk_positions WHERE walk_id=$1
		ORDER BY id DESC
		LIMIT $2
	`, walkID, limit)
	if err != nil {
		return nil, err
	}
	samples, err := scanSamples(rows)
	if err != nil {
		return nil, err
	}
	if order == OrderAsc {
		for i, j := 0, len(samples)-1; i < j; i, j = i+1, j-1 {
			samples[i], samples[j] = samples[j], samples[i]
		}
	}
	return samples, nil
}

// LoadAllSamples returns up to limit samples from the start of the walk.
func (r *Repository) LoadAllSamples(ctx context.Context, walkID string, limit int) ([]Sample, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+sampleColumns+`
		FROM walk_positions WHERE walk_id=$1
		ORDER BY id
		LIMIT $2
	`, walkID, limit)
	if err != nil {
		return nil, err
	}
	return scanSamples(rows)
}

func scanSamples(rows pgx.Rows) ([]Sample, error) {
	defer rows.Close()

	samples := []Sample{}
	for rows.Next() {
		var s Sample
		if err := rows.Scan(&s.ID, &s.WalkID, &s.Lat, &s.Lng, &s.Accuracy, &s.Speed, &s.Altitude, &s.BatteryLevel, &s.CapturedAt, &s.CreatedAt); err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}
