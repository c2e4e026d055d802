package observability

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/docmat/materialize"
	"github.com/hazyhaar/docmat/queue"
)

func setupObsDB(t *testing.T) *sql.DB {
	t.Helper()
	db := queue.OpenMemory(t)
	if err := Init(db); err != nil {
		t.Fatal(err)
	}
	return db
}

func TestInit_CreatesAllTables(t *testing.T) {
	db := setupObsDB(t)
	for _, table := range []string{"worker_heartbeats", "metrics_timeseries", "materialize_events"} {
		var count int
		db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if count != 1 {
			t.Fatalf("table %s not found", table)
		}
	}
	// Idempotent.
	if err := Init(db); err != nil {
		t.Fatal(err)
	}
}

// --- MetricsManager ---

func TestMetricsManager_RecordAndQuery(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 100, time.Hour, nil)
	ctx := context.Background()

	mm.Record(&Metric{
		Name:   MetricItemsProcessed,
		Value:  1,
		Unit:   "count",
		Labels: map[string]string{"outcome": "success", "format": "pdf"},
	})
	mm.RecordSimple(MetricBacklog, 7, "count")
	mm.Close()
	mm.Close() // second Close is a no-op

	metrics, err := mm.Query(ctx, MetricItemsProcessed, nil, nil, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(metrics) != 1 {
		t.Fatalf("count: got %d", len(metrics))
	}
	if metrics[0].Labels["format"] != "pdf" {
		t.Fatalf("labels: got %v", metrics[0].Labels)
	}

	all, err := mm.Query(ctx, "", nil, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("all metrics: got %d", len(all))
	}
}

func TestMetricsManager_FlushOnFullBuffer(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 2, time.Hour, nil)
	defer mm.Close()

	mm.RecordSimple("a", 1, "count")
	mm.RecordSimple("b", 2, "count")

	var n int
	db.QueryRow("SELECT COUNT(*) FROM metrics_timeseries").Scan(&n)
	if n != 2 {
		t.Fatalf("rows = %d, want 2 after buffer filled", n)
	}
}

func TestMetricsManager_QueryTimeRangeAndCleanup(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 100, time.Hour, nil)
	defer mm.Close()
	ctx := context.Background()

	now := time.Now()
	mm.Record(&Metric{Name: "m", Timestamp: now.Add(-40 * 24 * time.Hour), Value: 1})
	mm.Record(&Metric{Name: "m", Timestamp: now, Value: 2})
	mm.Flush()

	start := now.Add(-time.Hour)
	recent, err := mm.Query(ctx, "m", &start, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 1 || recent[0].Value != 2 {
		t.Fatalf("recent = %+v", recent)
	}

	removed, err := mm.Cleanup(ctx, 30)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("removed %d, want 1", removed)
	}
}

func TestMetricsManager_Sum(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 100, time.Hour, nil)
	defer mm.Close()

	for _, outcome := range []string{"success", "success", "failure"} {
		mm.Record(&Metric{Name: MetricItemsProcessed, Value: 1, Labels: map[string]string{"outcome": outcome}})
	}
	mm.Flush()

	got, err := mm.Sum(context.Background(), MetricItemsProcessed, map[string]string{"outcome": "success"})
	if err != nil {
		t.Fatal(err)
	}
	if got != 2 {
		t.Fatalf("sum = %v, want 2", got)
	}
}

// --- EventLogger ---

func TestEventLogger_LogAndQuery(t *testing.T) {
	db := setupObsDB(t)
	el := NewEventLogger(db)
	ctx := context.Background()

	el.LogEvent(ctx, Event{Kind: queue.OutcomeSuccess, JobID: "j1", ItemID: "i1", Format: "pdf", Duration: 1500 * time.Millisecond})
	el.LogEvent(ctx, Event{Kind: queue.OutcomeFailure, JobID: "j2", ItemID: "i2", Op: "open", Error: "no such file"})

	all, err := el.Events(ctx, "", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("events = %d", len(all))
	}

	failed, _ := el.Events(ctx, queue.OutcomeFailure, "", 10)
	if len(failed) != 1 || failed[0].Op != "open" || failed[0].Error != "no such file" {
		t.Fatalf("failed = %+v", failed)
	}

	byItem, _ := el.Events(ctx, "", "i1", 0)
	if len(byItem) != 1 || byItem[0].Duration != 1500*time.Millisecond {
		t.Fatalf("by item = %+v", byItem)
	}

	counts, err := el.CountByKind(ctx, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if counts[queue.OutcomeSuccess] != 1 || counts[queue.OutcomeFailure] != 1 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestEventLogger_WithIDGenerator(t *testing.T) {
	db := setupObsDB(t)
	el := NewEventLogger(db, WithEventIDGenerator(func() string { return "fixed" }))
	el.LogEvent(context.Background(), Event{Kind: "success", JobID: "j", ItemID: "i"})

	events, _ := el.Events(context.Background(), "", "", 0)
	if len(events) != 1 || events[0].ID != "fixed" {
		t.Fatalf("events = %+v", events)
	}
}

func TestCleanup_Retention(t *testing.T) {
	db := setupObsDB(t)
	ctx := context.Background()
	old := time.Now().AddDate(0, 0, -60)
	el := NewEventLogger(db)
	el.LogEvent(ctx, Event{Kind: "success", JobID: "old", ItemID: "o", CreatedAt: old})
	el.LogEvent(ctx, Event{Kind: "success", JobID: "new", ItemID: "n"})
	db.Exec(`INSERT INTO worker_heartbeats (worker_name, hostname, worker_pid, timestamp) VALUES ('w','h',1,?)`, old.Unix())

	if err := Cleanup(ctx, db, RetentionConfig{EventsDays: 30, HeartbeatsDays: 30}); err != nil {
		t.Fatal(err)
	}
	events, _ := el.Events(ctx, "", "", 0)
	if len(events) != 1 || events[0].JobID != "new" {
		t.Fatalf("events after cleanup = %+v", events)
	}
	var hb int
	db.QueryRow("SELECT COUNT(*) FROM worker_heartbeats").Scan(&hb)
	if hb != 0 {
		t.Fatalf("heartbeats = %d", hb)
	}
}

// --- Heartbeat ---

func TestHeartbeatWriter(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 100, time.Hour, nil)
	defer mm.Close()
	ctx := context.Background()

	backlog := func(context.Context) (int, error) { return 5, nil }
	hw := NewHeartbeatWriter(db, "consumer-1", time.Hour, backlog, mm, nil)
	if err := hw.WriteHeartbeat(ctx); err != nil {
		t.Fatal(err)
	}

	hs, err := LatestHeartbeat(ctx, db, "consumer-1", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if hs == nil || !hs.Alive || hs.Backlog != 5 || hs.GoroutinesCount == 0 {
		t.Fatalf("heartbeat = %+v", hs)
	}

	mm.Flush()
	sum, _ := mm.Sum(ctx, MetricBacklog, map[string]string{"worker": "consumer-1"})
	if sum != 5 {
		t.Fatalf("backlog metric = %v", sum)
	}

	none, err := LatestHeartbeat(ctx, db, "nobody", time.Minute)
	if err != nil || none != nil {
		t.Fatalf("unknown worker = %+v, %v", none, err)
	}
}

func TestHeartbeatWriter_BacklogError(t *testing.T) {
	db := setupObsDB(t)
	boom := errors.New("queue closed")
	hw := NewHeartbeatWriter(db, "w", time.Hour, func(context.Context) (int, error) { return 0, boom }, nil, nil)
	if err := hw.WriteHeartbeat(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestHeartbeatWriter_RunStopsOnCancel(t *testing.T) {
	db := setupObsDB(t)
	hw := NewHeartbeatWriter(db, "w", 10*time.Millisecond, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hw.Run(ctx)
		close(done)
	}()
	time.Sleep(35 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	var n int
	db.QueryRow("SELECT COUNT(*) FROM worker_heartbeats WHERE worker_name = 'w'").Scan(&n)
	if n < 2 {
		t.Fatalf("heartbeats = %d, want at least 2", n)
	}
}

// --- Recorder ---

func TestRecorder(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 100, time.Hour, nil)
	defer mm.Close()
	el := NewEventLogger(db)
	rec := &Recorder{Metrics: mm, Events: el}
	ctx := context.Background()

	rec.Record(ctx, queue.Outcome{Kind: queue.OutcomeSuccess, JobID: "j1", ItemID: "i1", Format: "txt", Duration: 20 * time.Millisecond})
	rec.Record(ctx, queue.Outcome{Kind: queue.OutcomeFailure, JobID: "j2", ItemID: "i2", Op: "parse", Err: errors.New("bad xref")})
	mm.Flush()

	ok, _ := mm.Sum(ctx, MetricItemsProcessed, map[string]string{"outcome": "success", "format": "txt"})
	if ok != 1 {
		t.Errorf("success count = %v", ok)
	}
	dur, _ := mm.Query(ctx, MetricExtractDuration, nil, nil, 0)
	if len(dur) != 1 || dur[0].Value != 20 {
		t.Errorf("durations = %+v", dur)
	}

	failed, _ := el.Events(ctx, queue.OutcomeFailure, "", 0)
	if len(failed) != 1 || failed[0].Error != "bad xref" || failed[0].Op != "parse" {
		t.Errorf("failure events = %+v", failed)
	}
}

func TestRecorder_WithDispatcher(t *testing.T) {
	// WHAT: Dispatcher outcomes land in the events table.
	// WHY: The recorder is the only bridge between the queue and monitoring.
	db := setupObsDB(t)
	q := queue.New(queue.OpenMemory(t), queue.Options{})
	ctx := context.Background()
	if err := q.EnsureTable(ctx); err != nil {
		t.Fatal(err)
	}
	el := NewEventLogger(db)
	proc := processorFunc(func(_ context.Context, wi *materialize.WorkItem) (materialize.Result, error) {
		return materialize.Result{Route: materialize.RouteSuccess, Item: wi, Format: "md"}, nil
	})
	d := queue.NewDispatcher(q, proc, queue.DispatcherOptions{Recorder: &Recorder{Events: el}})

	q.Publish(ctx, queue.RouteIncoming, &materialize.WorkItem{ID: "doc-1", Attributes: map[string]string{}})
	if _, err := d.Drain(ctx); err != nil {
		t.Fatal(err)
	}
	events, _ := el.Events(ctx, queue.OutcomeSuccess, "doc-1", 0)
	if len(events) != 1 || events[0].Format != "md" {
		t.Fatalf("events = %+v", events)
	}
}

type processorFunc func(context.Context, *materialize.WorkItem) (materialize.Result, error)

func (f processorFunc) Process(ctx context.Context, wi *materialize.WorkItem) (materialize.Result, error) {
	return f(ctx, wi)
}
