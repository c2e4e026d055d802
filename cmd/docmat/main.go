// Command docmat materializes documents: it extracts text and metadata from
// each source file named by a work item and writes <source>.xhtml next to it.
//
// Usage:
//
//	docmat process report.pdf notes.docx     # one-shot, prints one JSON result per file
//	docmat enqueue /data/inbox/*.pdf         # publish work items to the queue
//	docmat run                               # consume the queue, serve HTTP if http.addr is set
//	docmat run --once                        # drain the queue and exit
//	docmat stats                             # queue depth, recent outcomes, consumer liveness
//	docmat mcp                               # MCP server on stdio
//
// Configuration comes from a YAML file (--config or DOCMAT_CONFIG), an
// optional .env in the working directory, and DOCMAT_DB / LOG_LEVEL.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/docmat/materialize"
)

const version = "0.1.0"

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "docmat:", err)
		code := 1
		var ec cli.ExitCoder
		if errors.As(err, &ec) {
			code = ec.ExitCode()
		}
		os.Exit(code)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "docmat",
		Usage:   "extract documents to XHTML next to their source",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to docmat.yaml",
				EnvVars: []string{"DOCMAT_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "db",
				Usage:   "queue database path",
				EnvVars: []string{"DOCMAT_DB"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "debug, info, warn or error",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:  "attribute",
				Usage: "work item attribute holding the source path",
				Value: "absolute.path",
			},
			&cli.BoolFlag{
				Name:  "overwrite",
				Usage: "replace existing .xhtml outputs",
			},
		},
		Commands: []*cli.Command{
			processCommand(),
			enqueueCommand(),
			runCommand(),
			statsCommand(),
			mcpCommand(),
		},
		// main reports the error and picks the exit code.
		ExitErrHandler: func(*cli.Context, error) {},
	}
}

// loadConfig resolves the configuration from the file, then the global
// flags and environment, and builds the JSON logger.
func loadConfig(c *cli.Context) (*materialize.Config, *slog.Logger, error) {
	cfg := &materialize.Config{}
	if path := c.String("config"); path != "" {
		loaded, err := materialize.LoadConfigFile(path)
		if err != nil {
			return nil, nil, fmt.Errorf("config: %w", err)
		}
		cfg = loaded
	}
	if cfg.InputFileAttribute == "" || c.IsSet("attribute") {
		cfg.InputFileAttribute = c.String("attribute")
	}
	if c.IsSet("overwrite") {
		cfg.OverwriteFiles = c.Bool("overwrite")
	}
	if db := c.String("db"); db != "" {
		cfg.Queue.DBPath = db
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	cfg.SetDefaults()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: materialize.ParseLogLevel(cfg.LogLevel)}))
	cfg.Logger = logger
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
