package materialize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/docmat/kit"
)

// ProcessRequest is the transport-level request of the process endpoint.
// Either Item or Path must be set; Path builds a one-off item carrying the
// path under the configured input attribute.
type ProcessRequest struct {
	Item *WorkItem `json:"item,omitempty"`
	Path string    `json:"path,omitempty"`
}

// ProcessResponse is the transport-level outcome of the process endpoint.
// Failures are reported in-band so the caller always gets the item back.
type ProcessResponse struct {
	Result
	Error string `json:"error,omitempty"`
	Op    string `json:"op,omitempty"`
}

// errBadRequest marks a request that could not be turned into a work item.
var errBadRequest = errors.New("materialize: bad request")

// ProcessEndpoint exposes Process as a kit.Endpoint taking *ProcessRequest.
// Extraction failures become an in-band failure response; configuration and
// request errors are returned as errors.
func (s *Stage) ProcessEndpoint(logger *slog.Logger) kit.Endpoint {
	if logger == nil {
		logger = slog.Default()
	}
	ep := func(ctx context.Context, req any) (any, error) {
		r, ok := req.(*ProcessRequest)
		if !ok || r == nil {
			return nil, fmt.Errorf("%w: empty request", errBadRequest)
		}
		item, err := s.requestItem(r)
		if err != nil {
			return nil, err
		}
		ctx = kit.WithItemID(ctx, item.ID)

		res, err := s.Process(ctx, item)
		resp := &ProcessResponse{Result: res}
		var ef *ExtractionFailure
		switch {
		case errors.As(err, &ef):
			resp.Error = ef.Error()
			resp.Op = ef.Op
			return resp, nil
		case err != nil:
			return nil, err
		}
		return resp, nil
	}
	return kit.Chain(kit.Logging(logger, "materialize_process"), kit.Recover())(ep)
}

func (s *Stage) requestItem(r *ProcessRequest) (*WorkItem, error) {
	if r.Item != nil {
		if r.Item.Attributes == nil {
			r.Item.Attributes = map[string]string{}
		}
		return r.Item, nil
	}
	if r.Path == "" {
		return nil, fmt.Errorf("%w: item or path required", errBadRequest)
	}
	cfg, ok := s.Config()
	if !ok {
		return nil, ErrNotConfigured
	}
	return &WorkItem{
		ID:         r.Path,
		Attributes: map[string]string{cfg.InputFileAttribute: r.Path},
	}, nil
}
