package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/scrypster/recollect/internal/engine"
	"github.com/scrypster/recollect/internal/notify"
)

type workerCommander struct {
	root *rootOptions
	addr string
}

func newWorkerCmd(root *rootOptions) *cobra.Command {
	c := &workerCommander{root: root}
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Process queued documents until interrupted",
		Long: `Starts the ingestion pipeline and processes jobs until interrupted.

Documents left queued by a previous run are re-enqueued on start. With
--addr (or RECOLLECT_PROGRESS_ADDR) pipeline progress is streamed to
websocket clients at /events.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("addr") {
				c.addr = root.cfg.Progress.Addr
			}
			return c.run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&c.addr, "addr", "", "listen address for the websocket progress stream")
	return cmd
}

func (c *workerCommander) run(ctx context.Context) error {
	logger := c.root.logger.WithPrefix("worker")

	var observers []engine.Observer
	var srv *http.Server
	if c.addr != "" {
		hub := notify.NewHub(c.root.logger)
		go hub.Run()
		defer hub.Stop()
		observers = append(observers, hub)

		mux := http.NewServeMux()
		mux.Handle("/events", hub)
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		srv = &http.Server{Addr: c.addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	}

	return c.root.withEngine(ctx, modeProcess, func(*engine.Engine) error {
		errCh := make(chan error, 1)
		if srv != nil {
			go func() {
				logger.Info("progress stream listening", "addr", c.addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()
		}

		c.root.scheduleBackups(ctx)
		logger.Info("worker running", "queue", c.root.cfg.Queue.Backend, "workers", c.root.cfg.Queue.Workers)

		var err error
		select {
		case <-ctx.Done():
		case err = <-errCh:
		}

		logger.Info("worker stopping")
		if srv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}
		return err
	}, observers...)
}
