package feedback

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Save(ctx context.Context, f Feedback) error {
	var comment *string
	if f.Comment != "" {
		comment = &f.Comment
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO location_feedback
			(location_id, driver_id, is_nav_point_accurate, is_entry_point_accurate,
			 corrected_lat, corrected_lon, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		f.AddressID, f.DriverID, f.IsNavPointOK, f.IsEntryPointOK,
		f.CorrectedLat, f.CorrectedLon, comment, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("save feedback for %s: %w", f.AddressID, err)
	}
	return nil
}

// CountFor returns how many feedback rows exist for a location.
func (s *Store) CountFor(ctx context.Context, addressID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM location_feedback WHERE location_id = $1`, addressID).Scan(&n)
	return n, err
}
