package materialize

import (
	"context"
	"maps"
	"time"

	"github.com/hazyhaar/docmat/docpipe"
)

// Route names the outcome a processed work item is handed to.
type Route string

const (
	// RouteNone is returned for an idle poll (no work item).
	RouteNone    Route = ""
	RouteSuccess Route = "success"
	RouteFailure Route = "failure"
)

// WorkItem is one unit of work flowing through the pipeline: an opaque ID
// plus named string attributes.
type WorkItem struct {
	ID         string            `json:"id"`
	Attributes map[string]string `json:"attributes"`
}

// Attr returns the value of the named attribute, or "".
func (w *WorkItem) Attr(name string) string {
	if w == nil {
		return ""
	}
	return w.Attributes[name]
}

// Clone returns a deep copy of the work item.
func (w *WorkItem) Clone() *WorkItem {
	c := &WorkItem{ID: w.ID, Attributes: make(map[string]string, len(w.Attributes))}
	maps.Copy(c.Attributes, w.Attributes)
	return c
}

// Result describes the outcome of one Process call.
type Result struct {
	Route      Route          `json:"route"`
	Item       *WorkItem      `json:"item,omitempty"`
	OutputPath string         `json:"output_path,omitempty"`
	Format     docpipe.Format `json:"format,omitempty"`
	// Skipped is set when the output already existed and overwrite is off.
	Skipped  bool          `json:"skipped,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Lifecycle is the host-facing contract of a pipeline stage. A queue
// consumer, an HTTP handler or a batch loop can drive any implementation.
type Lifecycle interface {
	Configure(cfg Config) error
	Open(ctx context.Context) error
	Process(ctx context.Context, item *WorkItem) (Result, error)
}

var _ Lifecycle = (*Stage)(nil)
