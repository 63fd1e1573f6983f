// README: Refined location store backed by Postgres/PostGIS.
package location

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vectra/internal/modules/heuristics"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const selectRefined = `SELECT id,
	ST_Y(nav_point), ST_X(nav_point),
	ST_Y(entry_point), ST_X(entry_point),
	confidence_score, updated_at, COALESCE(source, '')
	FROM refined_locations`

func scanRefined(row pgx.Row) (RefinedLocation, error) {
	var r RefinedLocation
	err := row.Scan(&r.ID,
		&r.NavigationPoint.Lat, &r.NavigationPoint.Lon,
		&r.EntryPoint.Lat, &r.EntryPoint.Lon,
		&r.ConfidenceScore, &r.UpdatedAt, &r.Source)
	return r, err
}

func (s *Store) Get(ctx context.Context, id string) (RefinedLocation, error) {
	r, err := scanRefined(s.db.QueryRow(ctx, selectRefined+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return RefinedLocation{}, ErrNotFound
	}
	if err != nil {
		return RefinedLocation{}, fmt.Errorf("get refined location %s: %w", id, err)
	}
	return r, nil
}

// UpsertBatch writes every record in one transaction; either all land or
// none do. updated_at strictly increases on each overwrite of an id. The
// returned records carry the committed timestamps.
func (s *Store) UpsertBatch(ctx context.Context, recs []RefinedLocation) ([]RefinedLocation, error) {
	if len(recs) == 0 {
		return nil, nil
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	out := make([]RefinedLocation, len(recs))
	for i, r := range recs {
		err := tx.QueryRow(ctx, `
			INSERT INTO refined_locations (id, nav_point, entry_point, confidence_score, source, updated_at)
			VALUES ($1,
				ST_SetSRID(ST_MakePoint($2, $3), 4326),
				ST_SetSRID(ST_MakePoint($4, $5), 4326),
				$6, $7, clock_timestamp())
			ON CONFLICT (id) DO UPDATE SET
				nav_point = EXCLUDED.nav_point,
				entry_point = EXCLUDED.entry_point,
				confidence_score = EXCLUDED.confidence_score,
				source = EXCLUDED.source,
				updated_at = GREATEST(EXCLUDED.updated_at, refined_locations.updated_at + interval '1 microsecond')
			RETURNING updated_at`,
			r.ID, r.NavigationPoint.Lon, r.NavigationPoint.Lat, r.EntryPoint.Lon, r.EntryPoint.Lat,
			r.ConfidenceScore, r.Source,
		).Scan(&r.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("upsert %s: %w", r.ID, err)
		}
		out[i] = r
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit upsert: %w", err)
	}
	return out, nil
}

// Candidates lists geohashes with SCAN events newer than their refined
// record, or with no record at all, oldest change first. Cells holding fewer
// SCANs than the engine can estimate from are left out until more arrive.
func (s *Store) Candidates(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT t.geohash
		FROM raw_gps_traces t
		LEFT JOIN refined_locations r ON t.geohash = r.id
		WHERE t.event_type = 'SCAN'
		GROUP BY t.geohash, r.updated_at
		HAVING COUNT(*) >= $2
		   AND (r.updated_at IS NULL OR MAX(t.timestamp) > r.updated_at)
		ORDER BY MAX(t.timestamp), t.geohash
		LIMIT $1`, limit, heuristics.MinScanPoints)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var gh string
		if err := rows.Scan(&gh); err != nil {
			return nil, err
		}
		out = append(out, gh)
	}
	return out, rows.Err()
}

// RecentlyUpdated streams records updated at or after since.
func (s *Store) RecentlyUpdated(ctx context.Context, since time.Time, fn func(RefinedLocation) error) error {
	rows, err := s.db.Query(ctx, selectRefined+` WHERE updated_at >= $1 ORDER BY id`, since)
	if err != nil {
		return fmt.Errorf("query recent locations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		r, err := scanRefined(rows)
		if err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}
