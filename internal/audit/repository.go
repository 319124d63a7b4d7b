// Package audit stores the command log: one row per resolved command and
// per protocol anomaly, queryable through the API.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// timeLayout sorts lexically in time order for UTC values.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// StatusAnomaly marks entries recorded for protocol anomalies rather than
// resolved commands.
const StatusAnomaly = "anomaly"

// CommandEntry is one command log row.
type CommandEntry struct {
	ID            string    `json:"id"`
	DeviceID      string    `json:"device_id"`
	RequestID     string    `json:"request_id,omitempty"`
	CorrelationID uint32    `json:"correlation_id"`
	Opcode        byte      `json:"opcode"`
	Status        string    `json:"status"`
	Error         string    `json:"error,omitempty"`
	LatencyMS     float64   `json:"latency_ms"`
	CreatedAt     time.Time `json:"created_at"`
}

// Filter controls which entries to return.
type Filter struct {
	DeviceID string // optional: only this device
	Status   string // optional: ok, error, timeout or anomaly
	Limit    int    // default 50, max 200
	Offset   int    // pagination offset
}

// ListResult contains a page of command log entries.
type ListResult struct {
	Entries []CommandEntry `json:"entries"`
	Total   int            `json:"total"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
}

// Repository defines the interface for command log operations.
type Repository interface {
	Create(ctx context.Context, entry *CommandEntry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteRepository stores the command log in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new command log repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts an entry. The ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, entry *CommandEntry) error {
	if entry.ID == "" {
		entry.ID = "cmd-" + uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	entry.CreatedAt = entry.CreatedAt.UTC()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO command_log (id, device_id, request_id, correlation_id, opcode, status, error, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.DeviceID, nullableString(entry.RequestID),
		entry.CorrelationID, entry.Opcode, entry.Status,
		nullableString(entry.Error), entry.LatencyMS,
		entry.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting command log entry: %w", err)
	}
	return nil
}

// nullableString returns nil for empty strings so they are stored as NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns entries matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 { //nolint:mnd // max page size for command log queries
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.DeviceID != "" {
		conditions = append(conditions, "device_id = ?")
		args = append(args, filter.DeviceID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM command_log %s", where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting command log: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		`SELECT id, device_id, request_id, correlation_id, opcode, status, error, latency_ms, created_at
		 FROM command_log %s ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying command log: %w", err)
	}
	defer rows.Close()

	entries := []CommandEntry{}
	for rows.Next() {
		var e CommandEntry
		var requestID, errText sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.DeviceID, &requestID, &e.CorrelationID, &e.Opcode,
			&e.Status, &errText, &e.LatencyMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning command log entry: %w", err)
		}
		e.RequestID = requestID.String
		e.Error = errText.String

		t, err := time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing command log timestamp %q: %w", createdAt, err)
		}
		e.CreatedAt = t
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command log: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

// Prune deletes entries older than before and returns how many went.
func (r *SQLiteRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM command_log WHERE created_at < ?`,
		before.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("pruning command log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning command log: %w", err)
	}
	return n, nil
}
