// Package queue is the dispatcher that feeds work items to the
// materialize stage and collects what it routes out.
//
// Work items live in one SQLite table, partitioned by route. A claimed row
// stays invisible for a visibility window; if its holder crashes the row
// reappears and another consumer picks it up. The stage reads from the
// "incoming" route and the dispatcher republishes each item to "success" or
// "failure" in the same transaction that removes the claimed row, so an
// item is never lost between routes nor delivered to both.
//
// Schema (created by EnsureTable):
//
//	CREATE TABLE IF NOT EXISTS docmat_items (
//	    id          TEXT PRIMARY KEY,
//	    route       TEXT NOT NULL,
//	    item_id     TEXT NOT NULL,
//	    payload     BLOB NOT NULL,          -- JSON work item
//	    visible_at  INTEGER NOT NULL DEFAULT 0,
//	    created_at  INTEGER NOT NULL,
//	    attempts    INTEGER NOT NULL DEFAULT 0,
//	    last_error  TEXT NOT NULL DEFAULT ''
//	);
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/docmat/materialize"
)

// Routes a work item can sit in.
const (
	RouteIncoming = "incoming"
	RouteSuccess  = string(materialize.RouteSuccess)
	RouteFailure  = string(materialize.RouteFailure)
)

// Job is a claimed or listed row.
type Job struct {
	ID        string
	Route     string
	ItemID    string
	Payload   []byte
	VisibleAt time.Time
	CreatedAt time.Time
	Attempts  int
	LastError string
}

// WorkItem decodes the job payload.
func (j *Job) WorkItem() (*materialize.WorkItem, error) {
	var item materialize.WorkItem
	if err := json.Unmarshal(j.Payload, &item); err != nil {
		return nil, fmt.Errorf("queue: decode job %s: %w", j.ID, err)
	}
	if item.Attributes == nil {
		item.Attributes = map[string]string{}
	}
	return &item, nil
}

// Options configures queue behaviour.
type Options struct {
	// Visibility is how long a claimed job stays invisible. Default: 2m.
	Visibility time.Duration
	// PollInterval is the delay between claim attempts. Default: 1s.
	PollInterval time.Duration
	// IDs generates job IDs and missing work item IDs. Default: UUIDv7.
	IDs    Generator
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Visibility <= 0 {
		o.Visibility = 2 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.IDs == nil {
		o.IDs = UUIDv7()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Q is the queue handle. It is safe for concurrent use.
type Q struct {
	db   *sql.DB
	opts Options
}

// New creates a queue handle. Call EnsureTable once at startup.
func New(db *sql.DB, opts Options) *Q {
	opts.defaults()
	return &Q{db: db, opts: opts}
}

// DB returns the underlying database.
func (q *Q) DB() *sql.DB { return q.db }

// Options returns the effective options.
func (q *Q) Options() Options { return q.opts }

// EnsureTable creates the docmat_items table and its index.
func (q *Q) EnsureTable(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS docmat_items (
			id          TEXT PRIMARY KEY,
			route       TEXT NOT NULL,
			item_id     TEXT NOT NULL,
			payload     BLOB NOT NULL,
			visible_at  INTEGER NOT NULL DEFAULT 0,
			created_at  INTEGER NOT NULL,
			attempts    INTEGER NOT NULL DEFAULT 0,
			last_error  TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_docmat_items_visible ON docmat_items (route, visible_at);
	`)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Publish inserts a work item into route, immediately visible. An item
// without an ID is given one. It returns the job ID.
func (q *Q) Publish(ctx context.Context, route string, item *materialize.WorkItem) (string, error) {
	if item == nil {
		return "", errors.New("queue: publish nil work item")
	}
	var id string
	err := RunTx(ctx, q.db, func(tx *sql.Tx) error {
		var err error
		id, err = q.publish(ctx, tx, route, item)
		return err
	})
	return id, err
}

func (q *Q) publish(ctx context.Context, db execer, route string, item *materialize.WorkItem) (string, error) {
	if item.ID == "" {
		item.ID = q.opts.IDs()
	}
	payload, err := json.Marshal(item)
	if err != nil {
		return "", fmt.Errorf("queue: encode item %s: %w", item.ID, err)
	}
	id := q.opts.IDs()
	now := time.Now().UnixMilli()
	_, err = db.ExecContext(ctx,
		`INSERT INTO docmat_items (id, route, item_id, payload, visible_at, created_at) VALUES (?,?,?,?,?,?)`,
		id, route, item.ID, payload, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("queue: publish %s: %w", route, err)
	}
	return id, nil
}

const jobColumns = `id, route, item_id, payload, visible_at, created_at, attempts, last_error`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*Job, error) {
	var j Job
	var visAt, creAt int64
	if err := s.Scan(&j.ID, &j.Route, &j.ItemID, &j.Payload, &visAt, &creAt, &j.Attempts, &j.LastError); err != nil {
		return nil, err
	}
	j.VisibleAt = time.UnixMilli(visAt)
	j.CreatedAt = time.UnixMilli(creAt)
	return &j, nil
}

// Claim atomically picks the oldest visible job of route, hides it for the
// visibility window and returns it. It returns nil, nil when route is empty.
func (q *Q) Claim(ctx context.Context, route string) (*Job, error) {
	now := time.Now()
	hideUntil := now.Add(q.opts.Visibility).UnixMilli()

	row := q.db.QueryRowContext(ctx, `
		UPDATE docmat_items
		SET visible_at = ?, attempts = attempts + 1
		WHERE id = (
			SELECT id FROM docmat_items
			WHERE route = ? AND visible_at <= ?
			ORDER BY visible_at ASC, id ASC
			LIMIT 1
		)
		RETURNING `+jobColumns,
		hideUntil, route, now.UnixMilli(),
	)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return j, err
}

// BatchClaim atomically claims up to n visible jobs of route. It returns an
// empty, non-nil slice when none are available.
func (q *Q) BatchClaim(ctx context.Context, route string, n int) ([]*Job, error) {
	now := time.Now()
	hideUntil := now.Add(q.opts.Visibility).UnixMilli()

	rows, err := q.db.QueryContext(ctx, `
		UPDATE docmat_items
		SET visible_at = ?, attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM docmat_items
			WHERE route = ? AND visible_at <= ?
			ORDER BY visible_at ASC, id ASC
			LIMIT ?
		)
		RETURNING `+jobColumns,
		hideUntil, route, now.UnixMilli(), n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []*Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Ack deletes a processed job.
func (q *Q) Ack(ctx context.Context, id string) error {
	_, err := Exec(ctx, q.db, `DELETE FROM docmat_items WHERE id = ?`, id)
	return err
}

// Nack makes a job visible again after delay and records why it failed.
func (q *Q) Nack(ctx context.Context, id string, delay time.Duration, cause string) error {
	visibleAt := int64(0)
	if delay > 0 {
		visibleAt = time.Now().Add(delay).UnixMilli()
	}
	_, err := Exec(ctx, q.db,
		`UPDATE docmat_items SET visible_at = ?, last_error = ? WHERE id = ?`,
		visibleAt, cause, id,
	)
	return err
}

// Extend pushes the visibility window of a claimed job forward.
func (q *Q) Extend(ctx context.Context, id string, extra time.Duration) error {
	_, err := Exec(ctx, q.db,
		`UPDATE docmat_items SET visible_at = ? WHERE id = ?`,
		time.Now().Add(extra).UnixMilli(), id,
	)
	return err
}

// Move republishes item to route and deletes job id, atomically.
func (q *Q) Move(ctx context.Context, id, route string, item *materialize.WorkItem) error {
	return RunTx(ctx, q.db, func(tx *sql.Tx) error {
		if _, err := q.publish(ctx, tx, route, item); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM docmat_items WHERE id = ?`, id)
		return err
	})
}

// Purge deletes every job in route.
func (q *Q) Purge(ctx context.Context, route string) error {
	_, err := Exec(ctx, q.db, `DELETE FROM docmat_items WHERE route = ?`, route)
	return err
}

// Len returns the number of jobs (visible and invisible) in route.
func (q *Q) Len(ctx context.Context, route string) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM docmat_items WHERE route = ?`, route,
	).Scan(&n)
	return n, err
}

// Counts returns the number of jobs per route.
func (q *Q) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT route, COUNT(*) FROM docmat_items GROUP BY route`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var route string
		var n int
		if err := rows.Scan(&route, &n); err != nil {
			return nil, err
		}
		counts[route] = n
	}
	return counts, rows.Err()
}

// List returns up to limit jobs of route, oldest first, without claiming
// them. limit <= 0 means 100.
func (q *Q) List(ctx context.Context, route string, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM docmat_items WHERE route = ? ORDER BY created_at ASC, id ASC LIMIT ?`,
		route, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
