package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/urfave/cli/v2"

	"github.com/hazyhaar/docmat/materialize"
	"github.com/hazyhaar/docmat/observability"
	"github.com/hazyhaar/docmat/queue"
)

const workerName = "docmat-consumer"

func processCommand() *cli.Command {
	return &cli.Command{
		Name:      "process",
		Usage:     "materialize the given files now",
		ArgsUsage: "<path>...",
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return cli.Exit("process: at least one path is required", 2)
			}
			cfg, logger, err := loadConfig(c)
			if err != nil {
				return err
			}
			st, err := materialize.New(*cfg)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			var failed int
			for _, arg := range c.Args().Slice() {
				item, err := workItem(cfg.InputFileAttribute, arg, filepath.Base(arg))
				if err != nil {
					return err
				}
				res, err := st.Process(c.Context, item)
				resp := materialize.ProcessResponse{Result: res}
				if err != nil {
					failed++
					resp.Error = err.Error()
					var ef *materialize.ExtractionFailure
					if errors.As(err, &ef) {
						resp.Op = ef.Op
					}
					logger.Warn("process: failed", "path", arg, "error", err)
				}
				if err := enc.Encode(resp); err != nil {
					return err
				}
			}
			if failed > 0 {
				return cli.Exit(fmt.Sprintf("process: %d of %d failed", failed, c.NArg()), 1)
			}
			return nil
		},
	}
}

func enqueueCommand() *cli.Command {
	return &cli.Command{
		Name:      "enqueue",
		Usage:     "publish files as work items to the incoming route",
		ArgsUsage: "<path>...",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "id", Usage: "work item ID (single path only)"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return cli.Exit("enqueue: at least one path is required", 2)
			}
			if c.IsSet("id") && c.NArg() > 1 {
				return cli.Exit("enqueue: --id needs exactly one path", 2)
			}
			cfg, logger, err := loadConfig(c)
			if err != nil {
				return err
			}
			q, db, err := openQueue(c.Context, cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			for _, arg := range c.Args().Slice() {
				item, err := workItem(cfg.InputFileAttribute, arg, c.String("id"))
				if err != nil {
					return err
				}
				jobID, err := q.Publish(c.Context, queue.RouteIncoming, item)
				if err != nil {
					return err
				}
				fmt.Printf("%s\t%s\t%s\n", jobID, item.ID, item.Attr(cfg.InputFileAttribute))
			}
			return nil
		},
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "consume the queue until interrupted",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "once", Usage: "drain the incoming route and exit"},
			&cli.StringFlag{Name: "http", Usage: "HTTP listen address (overrides http.addr)"},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, err := loadConfig(c)
			if err != nil {
				return err
			}
			if addr := c.String("http"); addr != "" {
				cfg.HTTP.Addr = addr
			}
			return run(c.Context, cfg, logger, c.Bool("once"))
		},
	}
}

// run wires the stage, queue, observability and HTTP surface.
func run(ctx context.Context, cfg *materialize.Config, logger *slog.Logger, once bool) error {
	st, err := materialize.New(*cfg)
	if err != nil {
		return err
	}
	if err := st.Open(ctx); err != nil {
		return err
	}

	q, db, err := openQueue(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	opts := queue.DispatcherOptions{
		MaxAttempts:     cfg.Queue.MaxAttempts,
		BatchSize:       cfg.Queue.BatchSize,
		Concurrency:     cfg.Queue.Concurrency,
		SourceAttribute: cfg.InputFileAttribute,
		Logger:          logger,
	}

	var hb *observability.HeartbeatWriter
	if cfg.Metrics.Enabled {
		obsDB, err := queue.OpenDB(cfg.Metrics.DBPath, queue.WithMkdirAll())
		if err != nil {
			return fmt.Errorf("metrics db: %w", err)
		}
		defer obsDB.Close()
		if err := observability.Init(obsDB); err != nil {
			return fmt.Errorf("metrics schema: %w", err)
		}
		mm := observability.NewMetricsManager(obsDB, 100, 5*time.Second, logger)
		defer mm.Close()
		opts.Recorder = &observability.Recorder{
			Metrics: mm,
			Events:  observability.NewEventLogger(obsDB, observability.WithEventLogger(logger)),
			Logger:  logger,
		}

		backlog := func(ctx context.Context) (int, error) { return q.Len(ctx, queue.RouteIncoming) }
		hb = observability.NewHeartbeatWriter(obsDB, workerName, 15*time.Second, backlog, mm, logger)
		hbCtx, stopHeartbeat := context.WithCancel(ctx)
		var hbWG sync.WaitGroup
		hbWG.Add(1)
		go func() {
			defer hbWG.Done()
			hb.Run(hbCtx)
		}()
		// Runs before mm.Close and obsDB.Close.
		defer func() {
			stopHeartbeat()
			hbWG.Wait()
		}()
	}

	// A one-shot drain retries immediately so every item leaves incoming.
	if once {
		opts.RetryDelay = -1
	}
	d := queue.NewDispatcher(q, st, opts)

	if once {
		n, err := d.Drain(ctx)
		logger.Info("docmat: drained", "jobs", n)
		if hb != nil {
			// Final beat carries the backlog left after the drain.
			if herr := hb.WriteHeartbeat(ctx); herr != nil {
				logger.Warn("docmat: final heartbeat", "error", herr)
			}
		}
		return err
	}

	if cfg.HTTP.Addr != "" {
		r := chi.NewRouter()
		r.Use(middleware.RealIP)
		r.Get("/queue", func(w http.ResponseWriter, r *http.Request) {
			counts, err := q.Counts(r.Context())
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(counts)
		})
		r.Mount("/", st.Router(logger))

		srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			logger.Info("docmat: http listening", "addr", cfg.HTTP.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("docmat: http server", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("docmat: running", "db", cfg.Queue.DBPath, "attribute", cfg.InputFileAttribute)
	d.RunBatch(ctx)
	logger.Info("docmat: shutting down")
	return nil
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "print queue depth, recent outcomes and consumer liveness",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "since", Value: 24 * time.Hour, Usage: "outcome window"},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, err := loadConfig(c)
			if err != nil {
				return err
			}
			q, db, err := openQueue(c.Context, cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			out := map[string]any{}
			counts, err := q.Counts(c.Context)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			out["routes"] = counts

			if cfg.Metrics.Enabled {
				obsDB, err := queue.OpenDB(cfg.Metrics.DBPath)
				if err != nil {
					return fmt.Errorf("metrics db: %w", err)
				}
				defer obsDB.Close()
				if err := observability.Init(obsDB); err != nil {
					return err
				}
				since := time.Now().Add(-c.Duration("since"))
				outcomes, err := observability.NewEventLogger(obsDB).CountByKind(c.Context, since)
				if err != nil {
					return err
				}
				out["outcomes"] = outcomes
				hb, err := observability.LatestHeartbeat(c.Context, obsDB, workerName, 45*time.Second)
				if err != nil {
					return err
				}
				out["consumer"] = hb
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}

func mcpCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "serve the extraction tools over MCP on stdio",
		Action: func(c *cli.Context) error {
			cfg, logger, err := loadConfig(c)
			if err != nil {
				return err
			}
			st, err := materialize.New(*cfg)
			if err != nil {
				return err
			}
			srv := mcp.NewServer(&mcp.Implementation{Name: "docmat", Version: version}, nil)
			st.Pipeline().RegisterMCP(srv)
			st.RegisterMCP(srv, logger)

			logger.Info("docmat: mcp on stdio")
			return srv.Run(c.Context, &mcp.StdioTransport{})
		},
	}
}

func openQueue(ctx context.Context, cfg *materialize.Config, logger *slog.Logger) (*queue.Q, *sql.DB, error) {
	db, err := queue.OpenDB(cfg.Queue.DBPath, queue.WithMkdirAll())
	if err != nil {
		return nil, nil, err
	}
	q := queue.New(db, queue.Options{
		Visibility:   cfg.Queue.Visibility,
		PollInterval: cfg.Queue.PollInterval,
		IDs:          queue.Prefixed("job_", queue.UUIDv7()),
		Logger:       logger,
	})
	if err := q.EnsureTable(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("queue schema: %w", err)
	}
	return q, db, nil
}

// workItem builds the work item for a path given on the command line. An
// empty id is filled in by the queue on publish.
func workItem(attr, path, id string) (*materialize.WorkItem, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	return &materialize.WorkItem{
		ID: id,
		Attributes: map[string]string{
			attr:       abs,
			"filename": filepath.Base(abs),
			"path":     filepath.Dir(abs),
		},
	}, nil
}
