package command

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/fleetlink-core/internal/device"
)

const (
	defaultLogLimit = 50
	maxLogLimit     = 500
)

// SQLiteLog is an append-only audit log of terminal commands stored in the
// command_log table. It outlives the in-memory history, which is capped per
// device and lost with the session.
type SQLiteLog struct {
	db *sql.DB
}

// NewSQLiteLog creates a command log on an open, migrated database.
func NewSQLiteLog(db *sql.DB) *SQLiteLog {
	return &SQLiteLog{db: db}
}

// Record appends a terminal command. Recording the same command ID twice is
// ignored.
func (l *SQLiteLog) Record(ctx context.Context, rec device.CommandRecord) error {
	if rec.ID == "" || rec.DeviceID == "" {
		return fmt.Errorf("recording command: %w", ErrInvalidCommand)
	}

	var payloadJSON sql.NullString
	if rec.Payload != nil {
		raw, err := json.Marshal(rec.Payload)
		if err != nil {
			return fmt.Errorf("marshalling payload: %w", err)
		}
		payloadJSON = sql.NullString{String: string(raw), Valid: true}
	}

	completed := rec.StartedAt
	if rec.CompletedAt != nil {
		completed = *rec.CompletedAt
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO command_log
		   (id, device_id, action, payload, status, error, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.DeviceID,
		rec.Action,
		payloadJSON,
		string(rec.Status),
		rec.Error,
		formatTime(rec.StartedAt),
		formatTime(completed),
	)
	if err != nil {
		return fmt.Errorf("inserting command log: %w", err)
	}
	return nil
}

// Recent returns the newest logged commands for a device, newest first.
// limit defaults to 50 and is capped at 500.
func (l *SQLiteLog) Recent(ctx context.Context, deviceID string, limit int) ([]device.CommandRecord, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("querying command log: %w", ErrInvalidCommand)
	}
	if limit <= 0 {
		limit = defaultLogLimit
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT id, device_id, action, payload, status, error, started_at, completed_at
		 FROM command_log
		 WHERE device_id = ?
		 ORDER BY completed_at DESC, rowid DESC
		 LIMIT ?`,
		deviceID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying command log: %w", err)
	}
	defer rows.Close()

	records := make([]device.CommandRecord, 0, limit)
	for rows.Next() {
		var (
			rec                  device.CommandRecord
			payloadJSON          sql.NullString
			status               string
			startedAt, completed string
		)
		if err := rows.Scan(&rec.ID, &rec.DeviceID, &rec.Action, &payloadJSON, &status, &rec.Error, &startedAt, &completed); err != nil {
			return nil, fmt.Errorf("scanning command log: %w", err)
		}
		rec.Status = device.CommandStatus(status)

		if payloadJSON.Valid {
			if err := json.Unmarshal([]byte(payloadJSON.String), &rec.Payload); err != nil {
				return nil, fmt.Errorf("unmarshalling payload: %w", err)
			}
		}

		if rec.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		done, err := parseTime(completed)
		if err != nil {
			return nil, err
		}
		rec.CompletedAt = &done

		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command log: %w", err)
	}
	return records, nil
}

// Prune deletes entries completed before cutoff and returns how many were
// removed.
func (l *SQLiteLog) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := l.db.ExecContext(ctx,
		"DELETE FROM command_log WHERE completed_at < ?",
		formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting command log: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// Timestamps are stored as fixed-width UTC strings so they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	if err == nil {
		return t, nil
	}
	if t, fallbackErr := time.Parse(time.RFC3339Nano, value); fallbackErr == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", value, err)
}
