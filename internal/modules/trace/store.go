// README: Trace store backed by Postgres; each refinement worker opens its own session.
package trace

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Source hands out scoped read sessions over the raw trace table.
type Source interface {
	Open(ctx context.Context) (Session, error)
}

// Session is owned by a single worker and must be closed on every exit path.
type Session interface {
	ScanPoints(ctx context.Context, geohash string) ([]RawTracePoint, error)
	PointsIn(ctx context.Context, geohashes []string) ([]RawTracePoint, error)
	Close()
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Open acquires a dedicated pooled connection for the session.
func (s *Store) Open(ctx context.Context) (Session, error) {
	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire trace connection: %w", err)
	}
	return &pgSession{conn: conn}, nil
}

type pgSession struct {
	conn *pgxpool.Conn
}

const traceColumns = `driver_id, COALESCE(vehicle_id, ''), lat, lon, COALESCE(speed, 0),
	COALESCE(accuracy_m, 0), event_type, timestamp, geohash`

func (s *pgSession) ScanPoints(ctx context.Context, geohash string) ([]RawTracePoint, error) {
	rows, err := s.conn.Query(ctx, `SELECT `+traceColumns+`
		FROM raw_gps_traces
		WHERE geohash = $1 AND event_type = 'SCAN'
		ORDER BY timestamp`, geohash)
	if err != nil {
		return nil, fmt.Errorf("query scan points: %w", err)
	}
	return collect(rows)
}

func (s *pgSession) PointsIn(ctx context.Context, geohashes []string) ([]RawTracePoint, error) {
	rows, err := s.conn.Query(ctx, `SELECT `+traceColumns+`
		FROM raw_gps_traces
		WHERE geohash = ANY($1)
		ORDER BY driver_id, timestamp`, geohashes)
	if err != nil {
		return nil, fmt.Errorf("query neighbourhood points: %w", err)
	}
	return collect(rows)
}

func (s *pgSession) Close() {
	s.conn.Release()
}

func collect(rows pgx.Rows) ([]RawTracePoint, error) {
	defer rows.Close()
	var out []RawTracePoint
	for rows.Next() {
		var p RawTracePoint
		var ev string
		if err := rows.Scan(&p.DriverID, &p.VehicleID, &p.Lat, &p.Lon, &p.Speed, &p.AccuracyM, &ev, &p.Timestamp, &p.Geohash); err != nil {
			return nil, fmt.Errorf("scan trace row: %w", err)
		}
		p.EventType = EventType(ev)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Insert appends trace points. Used by seed tooling and integration tests.
func (s *Store) Insert(ctx context.Context, points []RawTracePoint) error {
	batch := &pgx.Batch{}
	for _, p := range points {
		batch.Queue(`INSERT INTO raw_gps_traces
			(driver_id, vehicle_id, lat, lon, speed, accuracy_m, event_type, timestamp, geohash)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			p.DriverID, p.VehicleID, p.Lat, p.Lon, p.Speed, p.AccuracyM, string(p.EventType), p.Timestamp, p.Geohash)
	}
	br := s.db.SendBatch(ctx, batch)
	defer br.Close()
	for range points {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert trace: %w", err)
		}
	}
	return nil
}
