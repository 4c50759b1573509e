// Package cli implements the recollect command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/scrypster/recollect/internal/bootstrap"
	"github.com/scrypster/recollect/internal/config"
	"github.com/scrypster/recollect/internal/engine"
	"github.com/scrypster/recollect/internal/logger"
)

const rootLongDesc = `Recollect ingests documents into versioned, searchable memories.

Documents are extracted, chunked, embedded and summarized by a worker.
Memories added directly or extracted from documents are versioned: a new
fact that closely matches an existing one becomes its next version.

Configuration comes from an optional YAML file, overlaid by RECOLLECT_*
environment variables (a .env file in the working directory is loaded
first).`

const shutdownTimeout = 30 * time.Second

// rootOptions is the state shared by every subcommand.
type rootOptions struct {
	configPath string
	envFile    string
	logLevel   string
	jsonLogs   bool

	cfg    *config.Config
	logger *log.Logger
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "recollect",
		Short:         "Document ingestion and versioned memory",
		Long:          rootLongDesc,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "path to a .env file (default: ./.env when present)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	cmd.PersistentFlags().BoolVar(&opts.jsonLogs, "json-logs", false, "emit logs as JSON")

	cmd.AddCommand(
		newWorkerCmd(opts),
		newSpaceCmd(opts),
		newIngestCmd(opts),
		newImportCmd(opts),
		newReprocessCmd(opts),
		newDocumentCmd(opts),
		newAddCmd(opts),
		newForgetCmd(opts),
		newHistoryCmd(opts),
		newSearchCmd(opts, false),
		newSearchCmd(opts, true),
		newWatchCmd(opts),
		newBackupCmd(opts),
	)
	return cmd
}

func (o *rootOptions) load(cmd *cobra.Command) error {
	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if cmd.Flags().Changed("json-logs") {
		cfg.Log.JSON = o.jsonLogs
	}

	o.cfg = cfg
	o.logger = logger.New(
		logger.WithLevel(cfg.Log.Level),
		logger.WithJSON(cfg.Log.JSON),
		logger.WithWriter(cmd.ErrOrStderr()),
	)
	return nil
}

// engineMode selects how a command starts the engine.
type engineMode int

const (
	// modeSubmit enables operations without consuming jobs.
	modeSubmit engineMode = iota
	// modeProcess starts queue delivery in this process.
	modeProcess
)

// inProcessQueue reports whether jobs can only be processed by the process
// that enqueued them.
func (o *rootOptions) inProcessQueue() bool {
	return o.cfg.Queue.Backend == "memory" || o.cfg.Queue.Backend == ""
}

// withEngine wires the application, starts the engine in the given mode,
// runs fn and shuts everything down.
func (o *rootOptions) withEngine(ctx context.Context, mode engineMode, fn func(*engine.Engine) error, observers ...engine.Observer) (err error) {
	app, err := bootstrap.New(ctx, o.cfg, o.logger, observers...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := app.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if mode == modeProcess {
		err = app.Engine.Start(ctx)
	} else {
		err = app.Engine.Open()
	}
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if serr := app.Engine.Shutdown(shutdownCtx); serr != nil {
			o.logger.Warn("engine shutdown", "err", serr)
		}
	}()

	return fn(app.Engine)
}
