package history

import (
	"context"
	"database/sql"
	"time"
)

// Tick is one recorded pass of the sync loop
type Tick struct {
	TraceID        string        `json:"traceId"`
	Provider       string        `json:"provider"`
	Started        time.Time     `json:"started"`
	Duration       time.Duration `json:"duration"`
	Outcome        string        `json:"outcome"`
	Reset          bool          `json:"reset"`
	Applied        int           `json:"applied"`
	Failed         int           `json:"failed"`
	Skipped        int           `json:"skipped"`
	Bytes          int64         `json:"bytes"`
	CursorAdvanced bool          `json:"cursorAdvanced"`
	Notified       bool          `json:"notified"`
	Error          string        `json:"error,omitempty"`
}

// Record appends a tick
func (d *DB) Record(ctx context.Context, t Tick) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO sync_ticks (trace_id, provider, started, duration_ms, outcome, reset, applied, failed, skipped,
		                        bytes, cursor_advanced, notified, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.TraceID, t.Provider, t.Started.UnixMilli(), t.Duration.Milliseconds(), t.Outcome, boolToInt(t.Reset),
		t.Applied, t.Failed, t.Skipped, t.Bytes, boolToInt(t.CursorAdvanced), boolToInt(t.Notified),
		nullString(t.Error))
	return err
}

// Recent returns up to limit ticks for provider, newest first
func (d *DB) Recent(ctx context.Context, provider string, limit int) (ticks []Tick, err error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT trace_id, provider, started, duration_ms, outcome, reset, applied, failed, skipped,
		       bytes, cursor_advanced, notified, error
		FROM sync_ticks WHERE provider = ?
		ORDER BY started DESC, id DESC LIMIT ?
	`, provider, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for rows.Next() {
		var (
			t                               Tick
			started, durationMs             int64
			reset, cursorAdvanced, notified int
			errText                         sql.NullString
		)
		if err := rows.Scan(&t.TraceID, &t.Provider, &started, &durationMs, &t.Outcome, &reset,
			&t.Applied, &t.Failed, &t.Skipped, &t.Bytes, &cursorAdvanced, &notified, &errText); err != nil {
			return nil, err
		}
		t.Started = time.UnixMilli(started).UTC()
		t.Duration = time.Duration(durationMs) * time.Millisecond
		t.Reset = reset != 0
		t.CursorAdvanced = cursorAdvanced != 0
		t.Notified = notified != 0
		t.Error = errText.String
		ticks = append(ticks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ticks, nil
}

// Clear removes every tick recorded for provider
func (d *DB) Clear(ctx context.Context, provider string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM sync_ticks WHERE provider = ?`, provider)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
