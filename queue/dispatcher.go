package queue

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/hazyhaar/docmat/materialize"
)

// Attributes set on an item routed to failure.
const (
	AttrFailureCause    = "materialize.failure.cause"
	AttrFailureOp       = "materialize.failure.op"
	AttrFailureAttempts = "materialize.failure.attempts"
)

// Processor is what the dispatcher drives. *materialize.Stage satisfies it.
type Processor interface {
	Process(ctx context.Context, item *materialize.WorkItem) (materialize.Result, error)
}

// Outcome kinds reported to a Recorder.
const (
	OutcomeSuccess   = "success"
	OutcomeSkipped   = "skipped"
	OutcomeRetry     = "retry"
	OutcomeFailure   = "failure"
	OutcomeDiscarded = "discarded"
)

// Outcome describes what the dispatcher did with one claimed job.
type Outcome struct {
	Kind       string
	JobID      string
	ItemID     string
	SourcePath string
	OutputPath string
	Format     string
	Op         string
	Err        error
	Attempts   int
	Duration   time.Duration
}

// Recorder observes dispatcher outcomes. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Record(ctx context.Context, o Outcome)
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	// Source is the route items are claimed from. Default: "incoming".
	Source string
	// MaxAttempts is how many times an item is processed before it is
	// routed to failure. Default: 3.
	MaxAttempts int
	// RetryDelay hides a failed item before its next attempt. Zero means the
	// queue poll interval; negative retries immediately.
	RetryDelay time.Duration
	// BatchSize and Concurrency bound RunBatch. Defaults: 8 and 4.
	BatchSize   int
	Concurrency int
	// SourceAttribute names the item attribute holding the source path,
	// reported in outcomes.
	SourceAttribute string
	Recorder        Recorder
	Logger          *slog.Logger
}

// Dispatcher claims work items, hands them to a Processor and routes them
// by result.
type Dispatcher struct {
	q    *Q
	p    Processor
	opts DispatcherOptions
	log  *slog.Logger
}

// NewDispatcher wires a processor to a queue.
func NewDispatcher(q *Q, p Processor, opts DispatcherOptions) *Dispatcher {
	if opts.Source == "" {
		opts.Source = RouteIncoming
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = q.opts.PollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 8
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Logger == nil {
		opts.Logger = q.opts.Logger
	}
	return &Dispatcher{q: q, p: p, opts: opts, log: opts.Logger}
}

// Handle processes one claimed job and routes it. A returned error means
// the job could not be routed and stays in the source route; it becomes
// visible again when its window expires.
func (d *Dispatcher) Handle(ctx context.Context, job *Job) error {
	start := time.Now()
	out := Outcome{JobID: job.ID, ItemID: job.ItemID, Attempts: job.Attempts}

	item, err := job.WorkItem()
	if err != nil {
		d.log.Error("dispatch: undecodable job, discarding", "id", job.ID, "error", err)
		out.Kind, out.Err = OutcomeDiscarded, err
		d.record(ctx, out)
		return d.q.Ack(ctx, job.ID)
	}
	out.SourcePath = item.Attr(d.opts.SourceAttribute)

	// A job claimed past its budget was abandoned by crashed holders.
	if job.Attempts > d.opts.MaxAttempts {
		cause := errors.New("attempts exhausted by abandoned claims")
		out.Kind, out.Op, out.Err = OutcomeFailure, materialize.OpTimeout, cause
		return d.fail(ctx, job, item, out)
	}

	stop := d.keepAlive(ctx, job.ID)
	res, err := d.p.Process(ctx, item)
	stop()
	out.Duration = time.Since(start)

	var failure *materialize.ExtractionFailure
	switch {
	case err != nil && ctx.Err() != nil:
		// Shutdown: hand the job back untouched.
		if nerr := d.q.Nack(context.WithoutCancel(ctx), job.ID, 0, "consumer stopped"); nerr != nil {
			return nerr
		}
		return ctx.Err()

	case errors.As(err, &failure):
		out.Op, out.Err = failure.Op, err
		if job.Attempts < d.opts.MaxAttempts {
			out.Kind = OutcomeRetry
			d.log.Warn("dispatch: extraction failed, retrying",
				"id", job.ID, "item_id", job.ItemID, "attempts", job.Attempts, "error", err)
			d.record(ctx, out)
			return d.q.Nack(ctx, job.ID, d.opts.RetryDelay, err.Error())
		}
		out.Kind = OutcomeFailure
		if res.Item != nil {
			item = res.Item
		}
		return d.fail(ctx, job, item, out)

	case err != nil:
		// Not the item's fault (unconfigured stage).
		d.log.Warn("dispatch: processor unavailable, releasing job", "id", job.ID, "error", err)
		if nerr := d.q.Nack(context.WithoutCancel(ctx), job.ID, d.opts.RetryDelay, err.Error()); nerr != nil {
			return nerr
		}
		return err

	case res.Route == materialize.RouteNone:
		return d.q.Ack(ctx, job.ID)
	}

	out.Kind = OutcomeSuccess
	if res.Skipped {
		out.Kind = OutcomeSkipped
	}
	out.OutputPath = res.OutputPath
	out.Format = string(res.Format)
	if err := d.q.Move(ctx, job.ID, RouteSuccess, res.Item); err != nil {
		return err
	}
	d.record(ctx, out)
	return nil
}

func (d *Dispatcher) fail(ctx context.Context, job *Job, item *materialize.WorkItem, out Outcome) error {
	routed := item.Clone()
	routed.Attributes[AttrFailureCause] = out.Err.Error()
	routed.Attributes[AttrFailureOp] = out.Op
	routed.Attributes[AttrFailureAttempts] = strconv.Itoa(job.Attempts)

	d.log.Error("dispatch: routed to failure",
		"id", job.ID, "item_id", job.ItemID, "op", out.Op, "attempts", job.Attempts, "error", out.Err)
	if err := d.q.Move(context.WithoutCancel(ctx), job.ID, RouteFailure, routed); err != nil {
		return err
	}
	d.record(ctx, out)
	return nil
}

func (d *Dispatcher) record(ctx context.Context, o Outcome) {
	if d.opts.Recorder != nil {
		d.opts.Recorder.Record(ctx, o)
	}
}

// keepAlive extends the job's visibility every half window until stop is
// called, so a slow extraction is not redelivered to another consumer.
func (d *Dispatcher) keepAlive(ctx context.Context, id string) (stop func()) {
	vis := d.q.opts.Visibility
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(vis / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := d.q.Extend(ctx, id, vis); err != nil {
					d.log.Warn("dispatch: extend failed", "id", id, "error", err)
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// Drain processes the source route until it has no visible job and
// returns how many jobs were handled.
func (d *Dispatcher) Drain(ctx context.Context) (int, error) {
	var n int
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		job, err := d.q.Claim(ctx, d.opts.Source)
		if err != nil {
			return n, err
		}
		if job == nil {
			return n, nil
		}
		n++
		if err := d.Handle(ctx, job); err != nil {
			return n, err
		}
	}
}

// Run polls the source route and handles one job at a time until ctx is
// cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	d.log.Info("dispatch: consumer started",
		"route", d.opts.Source, "visibility", d.q.opts.Visibility, "poll", d.q.opts.PollInterval)

	ticker := time.NewTicker(d.q.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Info("dispatch: consumer stopped", "route", d.opts.Source)
			return
		case <-ticker.C:
			if _, err := d.Drain(ctx); err != nil && ctx.Err() == nil {
				d.log.Warn("dispatch: poll failed", "error", err, "route", d.opts.Source)
			}
		}
	}
}

// RunBatch claims in batches and handles jobs with bounded concurrency. It
// blocks until ctx is cancelled, draining in-flight handlers before
// returning.
func (d *Dispatcher) RunBatch(ctx context.Context) {
	d.log.Info("dispatch: batch consumer started",
		"route", d.opts.Source,
		"batch_size", d.opts.BatchSize,
		"concurrency", d.opts.Concurrency,
		"visibility", d.q.opts.Visibility,
		"poll", d.q.opts.PollInterval,
	)

	sem := make(chan struct{}, d.opts.Concurrency)
	var wg sync.WaitGroup

	ticker := time.NewTicker(d.q.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Info("dispatch: batch consumer stopping, draining in-flight handlers", "route", d.opts.Source)
			wg.Wait()
			d.log.Info("dispatch: batch consumer stopped", "route", d.opts.Source)
			return
		case <-ticker.C:
			jobs, err := d.q.BatchClaim(ctx, d.opts.Source, d.opts.BatchSize)
			if err != nil {
				if ctx.Err() != nil {
					wg.Wait()
					return
				}
				d.log.Warn("dispatch: batch claim failed", "error", err, "route", d.opts.Source)
				continue
			}

			for i, job := range jobs {
				select {
				case sem <- struct{}{}:
				case <-ctx.Done():
					for _, j := range jobs[i:] {
						_ = d.q.Nack(context.Background(), j.ID, 0, "consumer stopped")
					}
					wg.Wait()
					return
				}

				wg.Add(1)
				go func(j *Job) {
					defer wg.Done()
					defer func() { <-sem }()
					if err := d.Handle(ctx, j); err != nil {
						d.log.Warn("dispatch: handle failed", "id", j.ID, "error", err)
					}
				}(job)
			}
		}
	}
}
