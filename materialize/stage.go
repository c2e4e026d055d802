// Package materialize implements the extract-and-materialize pipeline stage:
// given a work item whose source path sits in a configured attribute, it
// extracts the document into XHTML at <source>.xhtml, merges the discovered
// metadata onto the item and routes it to success or failure.
//
// Usage:
//
//	st := materialize.NewStage()
//	if err := st.Configure(materialize.Config{InputFileAttribute: "absolute.path"}); err != nil {
//		return err // *ConfigurationError
//	}
//	res, err := st.Process(ctx, &materialize.WorkItem{ID: "1", Attributes: map[string]string{"absolute.path": "/data/report.pdf"}})
//	// res.Route == RouteSuccess, /data/report.pdf.xhtml written
package materialize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/docmat/docpipe"
)

// OutputSuffix is appended to the source path to name the output artifact.
const OutputSuffix = ".xhtml"

// OutputPath returns the artifact path for a source path.
func OutputPath(source string) string {
	return source + OutputSuffix
}

// stageState is the immutable snapshot installed by Configure. Concurrent
// Process calls share it read-only.
type stageState struct {
	cfg  Config
	pipe *docpipe.Pipeline
	log  *slog.Logger
}

// Stage is the Extractor-Materializer. It is safe for concurrent use once
// configured: every Process call owns its own content handler and metadata
// collector.
type Stage struct {
	state atomic.Pointer[stageState]
}

// NewStage returns an unconfigured stage.
func NewStage() *Stage {
	return &Stage{}
}

// New returns a stage configured with cfg.
func New(cfg Config) (*Stage, error) {
	s := NewStage()
	if err := s.Configure(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// Configure validates cfg and installs it together with a fresh parser
// pipeline. It may be called again between scheduling cycles; in-flight
// Process calls finish with the previous snapshot.
func (s *Stage) Configure(cfg Config) error {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	pipe := docpipe.New(docpipe.Config{
		MaxFileSize:              cfg.MaxFileSize,
		Languages:                cfg.Languages,
		DisableLanguageDetection: cfg.DisableLanguageDetection,
		Logger:                   cfg.Logger,
	})
	s.state.Store(&stageState{
		cfg:  cfg,
		pipe: pipe,
		log:  cfg.Logger.With("component", "materialize"),
	})
	return nil
}

// Config returns the installed configuration.
func (s *Stage) Config() (Config, bool) {
	st := s.state.Load()
	if st == nil {
		return Config{}, false
	}
	return st.cfg, true
}

// Pipeline returns the parser pipeline of the installed configuration.
func (s *Stage) Pipeline() *docpipe.Pipeline {
	if st := s.state.Load(); st != nil {
		return st.pipe
	}
	return nil
}

// Open warms up reusable parser resources. Calling it is optional.
func (s *Stage) Open(_ context.Context) error {
	st := s.state.Load()
	if st == nil {
		return ErrNotConfigured
	}
	start := time.Now()
	st.pipe.WarmUp()
	st.log.Debug("materialize: warmed up", "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// Process extracts the source of item into <source>.xhtml.
//
// A nil item is an idle poll and returns RouteNone. An existing output with
// overwrite disabled short-circuits to RouteSuccess with the item unchanged.
// Any open, parse or write error returns RouteFailure, the unchanged item
// and an *ExtractionFailure. On success the returned item is a copy carrying
// the extracted metadata under the configured prefix.
func (s *Stage) Process(ctx context.Context, item *WorkItem) (Result, error) {
	if item == nil {
		return Result{Route: RouteNone}, nil
	}
	st := s.state.Load()
	if st == nil {
		return Result{Route: RouteFailure, Item: item}, ErrNotConfigured
	}

	start := time.Now()
	attr := st.cfg.InputFileAttribute
	src := item.Attr(attr)
	out := OutputPath(src)
	log := st.log.With("item_id", item.ID, "path", src)

	res := Result{Item: item, OutputPath: out}
	fail := func(op string, cause error) (Result, error) {
		res.Route = RouteFailure
		res.Duration = time.Since(start)
		log.Warn("materialize: failed", "op", op, "error", cause, "duration_ms", res.Duration.Milliseconds())
		return res, &ExtractionFailure{Op: op, Path: src, Cause: cause}
	}

	if src == "" {
		res.OutputPath = ""
		return fail(OpOpen, fmt.Errorf("attribute %q: %w", attr, os.ErrNotExist))
	}
	if err := checkRoots(st.cfg.AllowedRoots, src); err != nil {
		return fail(OpOpen, err)
	}

	// With overwrite on, the stale output is replaced by the final rename,
	// so a failed run leaves it in place.
	if _, err := os.Stat(out); err == nil && !st.cfg.OverwriteFiles {
		res.Route = RouteSuccess
		res.Skipped = true
		res.Duration = time.Since(start)
		log.Debug("materialize: output exists, skipping", "output", out)
		return res, nil
	}

	f, err := st.pipe.OpenFile(src)
	if err != nil {
		return fail(OpOpen, err)
	}
	defer f.Close()

	if st.cfg.ExtractTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, st.cfg.ExtractTimeout)
		defer cancel()
	}

	// Fresh extraction context per call.
	h := docpipe.NewXHTMLHandler()
	md := docpipe.NewMetadata()
	doc, err := parseBounded(ctx, st.pipe, f, src, h, md)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fail(OpTimeout, err)
		}
		return fail(OpParse, err)
	}

	if err := writeAtomic(out, []byte(h.String())); err != nil {
		return fail(OpWrite, err)
	}

	merged := item.Clone()
	mergeMetadata(merged.Attributes, md, st.cfg.MetadataPrefix)

	res.Item = merged
	res.Route = RouteSuccess
	res.Format = doc.Format
	res.Duration = time.Since(start)
	log.Info("materialize: done",
		"format", doc.Format,
		"output", out,
		"metadata_keys", md.Len(),
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

type parseResult struct {
	doc *docpipe.Document
	err error
}

// parseBounded runs Parse so that ctx cancellation returns immediately even
// while an extractor is busy. The abandoned parse only touches h and md,
// which the caller discards.
func parseBounded(ctx context.Context, pipe *docpipe.Pipeline, f *os.File, name string, h docpipe.ContentHandler, md *docpipe.Metadata) (*docpipe.Document, error) {
	if ctx.Done() == nil {
		return pipe.Parse(ctx, f, name, h, md)
	}
	done := make(chan parseResult, 1)
	go func() {
		doc, err := pipe.Parse(ctx, f, name, h, md)
		done <- parseResult{doc: doc, err: err}
	}()
	select {
	case r := <-done:
		return r.doc, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
