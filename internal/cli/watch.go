package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/scrypster/recollect/internal/engine"
	"github.com/scrypster/recollect/internal/notify"
)

func newWatchCmd(root *rootOptions) *cobra.Command {
	var dir string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print pipeline progress written by workers",
		Long: `Tails the progress event directory (RECOLLECT_EVENTS_DIR) and prints each
event until interrupted. Events are consumed: run one watcher per directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dir == "" {
				dir = root.cfg.Progress.EventsDir
			}
			if dir == "" {
				return fmt.Errorf("no event directory: set --dir or RECOLLECT_EVENTS_DIR")
			}

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			events := make(chan engine.StepEvent, 64)
			w := notify.NewWatcher(dir, root.logger, func(ev engine.StepEvent) {
				select {
				case events <- ev:
				case <-ctx.Done():
				}
			})
			if err := w.Start(); err != nil {
				return err
			}
			defer w.Stop()

			for {
				select {
				case <-ctx.Done():
					return nil
				case ev := <-events:
					if asJSON {
						if err := writeJSON(out, ev); err != nil {
							return err
						}
						continue
					}
					printEvent(out, ev)
				}
			}
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "event directory (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print events as JSON")
	return cmd
}

func printEvent(out io.Writer, ev engine.StepEvent) {
	line := fmt.Sprintf("%s %s %-15s %s",
		dimStyle.Render(ev.At.Local().Format("15:04:05.000")),
		idStyle.Render(ev.DocumentID),
		ev.Kind,
		renderStatus(ev.Status))
	if ev.Error != "" {
		line += " " + failStyle.Render(ev.Error)
	}
	fmt.Fprintln(out, line)
}
