package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/docmat/queue"
)

// Event is one dispatcher outcome as stored in materialize_events.
type Event struct {
	ID         string        `json:"id"`
	Kind       string        `json:"kind"`
	JobID      string        `json:"job_id"`
	ItemID     string        `json:"item_id"`
	SourcePath string        `json:"source_path,omitempty"`
	OutputPath string        `json:"output_path,omitempty"`
	Format     string        `json:"format,omitempty"`
	Op         string        `json:"op,omitempty"`
	Error      string        `json:"error,omitempty"`
	Attempts   int           `json:"attempts"`
	Duration   time.Duration `json:"duration_ns"`
	CreatedAt  time.Time     `json:"created_at"`
}

// EventLogger writes and reads materialize_events.
type EventLogger struct {
	db    *sql.DB
	newID queue.Generator
	log   *slog.Logger
}

// EventLoggerOption configures an EventLogger.
type EventLoggerOption func(*EventLogger)

// WithEventIDGenerator sets the generator for event IDs.
func WithEventIDGenerator(gen queue.Generator) EventLoggerOption {
	return func(l *EventLogger) { l.newID = gen }
}

// WithEventLogger sets the slog logger used to report write failures.
func WithEventLogger(logger *slog.Logger) EventLoggerOption {
	return func(l *EventLogger) { l.log = logger }
}

// NewEventLogger creates a logger backed by the observability database.
func NewEventLogger(db *sql.DB, opts ...EventLoggerOption) *EventLogger {
	l := &EventLogger{
		db:    db,
		newID: queue.Prefixed("evt_", queue.UUIDv7()),
		log:   slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// LogEvent stores e. Errors are logged, never returned: a failing store
// must not stall the dispatcher.
func (l *EventLogger) LogEvent(ctx context.Context, e Event) {
	if e.ID == "" {
		e.ID = l.newID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := l.db.ExecContext(context.WithoutCancel(ctx), `
		INSERT INTO materialize_events (
			event_id, kind, job_id, item_id, source_path, output_path,
			format, op, error, attempts, duration_ms, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.Kind, e.JobID, e.ItemID, e.SourcePath, e.OutputPath,
		e.Format, e.Op, e.Error, e.Attempts, e.Duration.Milliseconds(), e.CreatedAt.UnixMilli())
	if err != nil {
		l.log.Error("observability: event log failed", "error", err, "kind", e.Kind, "item_id", e.ItemID)
	}
}

// Events returns the newest events, optionally filtered by kind and item.
func (l *EventLogger) Events(ctx context.Context, kind, itemID string, limit int) ([]Event, error) {
	q := `SELECT event_id, kind, job_id, item_id, source_path, output_path, format, op, error,
		attempts, duration_ms, created_at FROM materialize_events WHERE 1=1`
	var args []any
	if kind != "" {
		q += " AND kind = ?"
		args = append(args, kind)
	}
	if itemID != "" {
		q += " AND item_id = ?"
		args = append(args, itemID)
	}
	q += " ORDER BY created_at DESC, event_id DESC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var durMs, created int64
		if err := rows.Scan(&e.ID, &e.Kind, &e.JobID, &e.ItemID, &e.SourcePath, &e.OutputPath,
			&e.Format, &e.Op, &e.Error, &e.Attempts, &durMs, &created); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Duration = time.Duration(durMs) * time.Millisecond
		e.CreatedAt = time.UnixMilli(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountByKind returns how many events of each kind were logged since t.
func (l *EventLogger) CountByKind(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT kind, COUNT(*) FROM materialize_events WHERE created_at >= ? GROUP BY kind`,
		since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}

// RetentionConfig specifies per-table retention in days. Zero means keep.
type RetentionConfig struct {
	MetricsDays    int
	EventsDays     int
	HeartbeatsDays int
	RunVacuumAfter bool
}

// Cleanup deletes rows past their retention.
func Cleanup(ctx context.Context, db *sql.DB, cfg RetentionConfig) error {
	now := time.Now()
	targets := []struct {
		query  string
		days   int
		millis bool
	}{
		{"DELETE FROM metrics_timeseries WHERE timestamp < ?", cfg.MetricsDays, false},
		{"DELETE FROM materialize_events WHERE created_at < ?", cfg.EventsDays, true},
		{"DELETE FROM worker_heartbeats WHERE timestamp < ?", cfg.HeartbeatsDays, false},
	}
	for _, t := range targets {
		if t.days <= 0 {
			continue
		}
		cutoff := now.AddDate(0, 0, -t.days)
		arg := cutoff.Unix()
		if t.millis {
			arg = cutoff.UnixMilli()
		}
		if _, err := db.ExecContext(ctx, t.query, arg); err != nil {
			return fmt.Errorf("cleanup: %w", err)
		}
	}

	if cfg.RunVacuumAfter {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			return fmt.Errorf("vacuum: %w", err)
		}
	}
	return nil
}
