package observability

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"
)

// BacklogFunc reports how many items wait in the source route.
type BacklogFunc func(ctx context.Context) (int, error)

// HeartbeatWriter periodically records that a consumer is alive, with its
// runtime footprint and current backlog.
type HeartbeatWriter struct {
	db         *sql.DB
	workerName string
	hostname   string
	pid        int
	interval   time.Duration
	backlog    BacklogFunc
	metrics    *MetricsManager
	log        *slog.Logger
}

// NewHeartbeatWriter creates a writer. backlog and metrics may be nil.
func NewHeartbeatWriter(db *sql.DB, workerName string, interval time.Duration, backlog BacklogFunc, metrics *MetricsManager, logger *slog.Logger) *HeartbeatWriter {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HeartbeatWriter{
		db:         db,
		workerName: workerName,
		hostname:   hostname,
		pid:        os.Getpid(),
		interval:   interval,
		backlog:    backlog,
		metrics:    metrics,
		log:        logger,
	}
}

// Run writes one heartbeat immediately, then one per interval until ctx is
// cancelled.
func (hw *HeartbeatWriter) Run(ctx context.Context) {
	ticker := time.NewTicker(hw.interval)
	defer ticker.Stop()
	for {
		if err := hw.WriteHeartbeat(ctx); err != nil && ctx.Err() == nil {
			hw.log.Error("observability: heartbeat write failed", "error", err, "worker", hw.workerName)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// WriteHeartbeat records a single heartbeat.
func (hw *HeartbeatWriter) WriteHeartbeat(ctx context.Context) error {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	goroutines := runtime.NumGoroutine()
	allocMB := float64(mem.Alloc) / 1024 / 1024

	var backlog sql.NullInt64
	if hw.backlog != nil {
		n, err := hw.backlog(ctx)
		if err != nil {
			return fmt.Errorf("backlog: %w", err)
		}
		backlog = sql.NullInt64{Int64: int64(n), Valid: true}
	}

	_, err := hw.db.ExecContext(ctx, `
		INSERT INTO worker_heartbeats (
			worker_name, hostname, worker_pid, timestamp,
			goroutines_count, memory_alloc_mb, backlog
		) VALUES (?,?,?,?,?,?,?)`,
		hw.workerName, hw.hostname, hw.pid, time.Now().Unix(),
		goroutines, allocMB, backlog)
	if err != nil {
		return fmt.Errorf("insert heartbeat: %w", err)
	}

	if hw.metrics != nil {
		labels := map[string]string{"worker": hw.workerName}
		hw.metrics.Record(&Metric{Name: MetricGoroutinesCount, Value: float64(goroutines), Unit: "count", Labels: labels})
		hw.metrics.Record(&Metric{Name: MetricMemoryAllocMB, Value: allocMB, Unit: "megabytes", Labels: labels})
		if backlog.Valid {
			hw.metrics.Record(&Metric{Name: MetricBacklog, Value: float64(backlog.Int64), Unit: "count", Labels: labels})
		}
	}
	return nil
}

// HeartbeatStatus is the latest heartbeat of a worker with a staleness check.
type HeartbeatStatus struct {
	WorkerName      string    `json:"worker_name"`
	Hostname        string    `json:"hostname"`
	PID             int       `json:"pid"`
	Timestamp       time.Time `json:"timestamp"`
	GoroutinesCount int       `json:"goroutines_count"`
	MemoryAllocMB   float64   `json:"memory_alloc_mb"`
	Backlog         int       `json:"backlog"`
	Alive           bool      `json:"alive"`
}

// LatestHeartbeat returns the newest heartbeat of workerName; it is alive
// when younger than staleAfter. It returns nil, nil before the first beat.
func LatestHeartbeat(ctx context.Context, db *sql.DB, workerName string, staleAfter time.Duration) (*HeartbeatStatus, error) {
	row := db.QueryRowContext(ctx, `
		SELECT worker_name, hostname, worker_pid, timestamp,
		       COALESCE(goroutines_count, 0), COALESCE(memory_alloc_mb, 0), COALESCE(backlog, 0)
		FROM worker_heartbeats
		WHERE worker_name = ?
		ORDER BY timestamp DESC LIMIT 1`, workerName)

	var hs HeartbeatStatus
	var ts int64
	err := row.Scan(&hs.WorkerName, &hs.Hostname, &hs.PID, &ts,
		&hs.GoroutinesCount, &hs.MemoryAllocMB, &hs.Backlog)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest heartbeat: %w", err)
	}
	hs.Timestamp = time.Unix(ts, 0)
	hs.Alive = time.Since(hs.Timestamp) <= staleAfter
	return &hs, nil
}
