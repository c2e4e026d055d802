package observability

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/docmat/queue"
)

// Recorder turns dispatcher outcomes into metrics and events. It satisfies
// queue.Recorder. Either sink may be nil.
type Recorder struct {
	Metrics *MetricsManager
	Events  *EventLogger
	Logger  *slog.Logger
}

var _ queue.Recorder = (*Recorder)(nil)

// Record implements queue.Recorder.
func (r *Recorder) Record(ctx context.Context, o queue.Outcome) {
	if r.Metrics != nil {
		labels := map[string]string{"outcome": o.Kind}
		if o.Format != "" {
			labels["format"] = o.Format
		}
		if o.Op != "" {
			labels["op"] = o.Op
		}
		r.Metrics.Record(&Metric{Name: MetricItemsProcessed, Value: 1, Unit: "count", Labels: labels})
		if o.Duration > 0 {
			r.Metrics.Record(&Metric{
				Name:   MetricExtractDuration,
				Value:  float64(o.Duration.Milliseconds()),
				Unit:   "milliseconds",
				Labels: labels,
			})
		}
	}

	if r.Events != nil {
		e := Event{
			Kind:       o.Kind,
			JobID:      o.JobID,
			ItemID:     o.ItemID,
			SourcePath: o.SourcePath,
			OutputPath: o.OutputPath,
			Format:     o.Format,
			Op:         o.Op,
			Attempts:   o.Attempts,
			Duration:   o.Duration,
		}
		if o.Err != nil {
			e.Error = o.Err.Error()
		}
		r.Events.LogEvent(ctx, e)
	}

	if r.Logger != nil {
		r.Logger.Debug("observability: outcome recorded", "kind", o.Kind, "item_id", o.ItemID)
	}
}
