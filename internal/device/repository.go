package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// History is the persisted sighting record of one device.
type History struct {
	ID         string     `json:"id"`
	Class      string     `json:"class"`
	Transport  string     `json:"transport"`
	Address    string     `json:"address"`
	Source     string     `json:"source"`
	FirstSeen  time.Time  `json:"first_seen"`
	LastSeen   time.Time  `json:"last_seen"`
	RemovedAt  *time.Time `json:"removed_at,omitempty"`
	ReleasedAt *time.Time `json:"released_at,omitempty"`
	Arrivals   int        `json:"arrivals"`
}

// SightingRepository persists device arrivals, removals and releases.
// The registry writes through it; the API reads History.
type SightingRepository interface {
	// RecordArrival inserts the device or bumps its arrival count.
	RecordArrival(ctx context.Context, d Device) error

	// RecordRemoval stamps removed_at.
	RecordRemoval(ctx context.Context, id string, at time.Time) error

	// RecordRelease stamps released_at, or clears it when at is nil.
	RecordRelease(ctx context.Context, id string, at *time.Time) error

	// History returns the record for id, or ErrDeviceNotFound.
	History(ctx context.Context, id string) (*History, error)

	// Released lists the IDs still held by a release.
	Released(ctx context.Context) ([]string, error)
}

// SQLiteRepository implements SightingRepository on the device_sightings table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed sighting repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// RecordArrival implements SightingRepository.
func (r *SQLiteRepository) RecordArrival(ctx context.Context, d Device) error {
	now := formatTime(d.DiscoveredAt)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO device_sightings (
			id, class, transport, address, source, vendor_id, product_id, serial_number,
			first_seen, last_seen, removed_at, arrivals
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, 1)
		ON CONFLICT(id) DO UPDATE SET
			class = excluded.class,
			transport = excluded.transport,
			address = excluded.address,
			source = excluded.source,
			vendor_id = excluded.vendor_id,
			product_id = excluded.product_id,
			serial_number = excluded.serial_number,
			last_seen = excluded.last_seen,
			removed_at = NULL,
			arrivals = device_sightings.arrivals + 1`,
		d.ID, d.Class, string(d.Endpoint.Kind), d.Endpoint.Address, d.Source,
		nullString(d.Signature.VendorID), nullString(d.Signature.ProductID), nullString(d.Signature.SerialNumber),
		now, now,
	)
	if err != nil {
		return fmt.Errorf("recording arrival of %s: %w", d.ID, err)
	}
	return nil
}

// RecordRemoval implements SightingRepository.
func (r *SQLiteRepository) RecordRemoval(ctx context.Context, id string, at time.Time) error {
	ts := formatTime(at)
	res, err := r.db.ExecContext(ctx,
		"UPDATE device_sightings SET removed_at = ?, last_seen = ? WHERE id = ?", ts, ts, id)
	if err != nil {
		return fmt.Errorf("recording removal of %s: %w", id, err)
	}
	return requireRow(res, id)
}

// RecordRelease implements SightingRepository.
func (r *SQLiteRepository) RecordRelease(ctx context.Context, id string, at *time.Time) error {
	var ts any
	if at != nil {
		ts = formatTime(*at)
	}
	res, err := r.db.ExecContext(ctx, "UPDATE device_sightings SET released_at = ? WHERE id = ?", ts, id)
	if err != nil {
		return fmt.Errorf("recording release of %s: %w", id, err)
	}
	return requireRow(res, id)
}

// History implements SightingRepository.
func (r *SQLiteRepository) History(ctx context.Context, id string) (*History, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, class, transport, address, source, first_seen, last_seen,
			removed_at, released_at, arrivals
		FROM device_sightings WHERE id = ?`, id)

	var h History
	var firstSeen, lastSeen string
	var removedAt, releasedAt sql.NullString
	err := row.Scan(&h.ID, &h.Class, &h.Transport, &h.Address, &h.Source,
		&firstSeen, &lastSeen, &removedAt, &releasedAt, &h.Arrivals)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying history of %s: %w", id, err)
	}

	h.FirstSeen = parseTime(firstSeen)
	h.LastSeen = parseTime(lastSeen)
	h.RemovedAt = parseNullTime(removedAt)
	h.ReleasedAt = parseNullTime(releasedAt)
	return &h, nil
}

// Released implements SightingRepository.
func (r *SQLiteRepository) Released(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id FROM device_sightings WHERE released_at IS NOT NULL ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("querying released devices: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only query

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning released device: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s) //nolint:errcheck // format is ours
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}
