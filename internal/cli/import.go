package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/scrypster/recollect/internal/engine"
	"github.com/scrypster/recollect/internal/importer"
	"github.com/scrypster/recollect/pkg/types"
)

type importCommander struct {
	root     *rootOptions
	spaceID  string
	uploader string
	wait     bool
	timeout  time.Duration
	asJSON   bool
}

func newImportCmd(root *rootOptions) *cobra.Command {
	c := &importCommander{root: root}
	cmd := &cobra.Command{
		Use:   "import <dir>",
		Short: "Ingest a folder of notes",
		Long: `Ingests every Markdown, text and PDF file under a directory, such as an
Obsidian vault. Markdown frontmatter titles and tags are kept and wiki links
are flattened to plain text. Hidden directories are skipped.

As with ingest, the in-memory queue processes documents in this process and
waits for them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	}
	cmd.Flags().StringVarP(&c.spaceID, "space", "s", "", "space id (required)")
	cmd.Flags().StringVar(&c.uploader, "uploader", "", "uploader id (default: space owner)")
	cmd.Flags().BoolVar(&c.wait, "wait", false, "wait for every document to finish processing")
	cmd.Flags().DurationVar(&c.timeout, "timeout", 30*time.Minute, "how long to wait for processing")
	cmd.Flags().BoolVar(&c.asJSON, "json", false, "print the summary as JSON")
	_ = cmd.MarkFlagRequired("space")
	return cmd
}

func (c *importCommander) run(ctx context.Context, out io.Writer, dir string) error {
	mode, wait := modeSubmit, c.wait
	if c.root.inProcessQueue() {
		mode, wait = modeProcess, true
	}

	return c.root.withEngine(ctx, mode, func(e *engine.Engine) error {
		res, err := importer.New(e, c.root.logger).Run(ctx, importer.Request{
			Root:       dir,
			SpaceID:    c.spaceID,
			UploaderID: c.uploader,
		})
		if err != nil {
			return err
		}

		failed := 0
		if wait {
			waitCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			for _, id := range res.DocumentIDs {
				doc, err := waitForDocument(waitCtx, e, id, c.timeout)
				if err != nil {
					return err
				}
				if doc.Status == types.DocumentFailed {
					failed++
				}
			}
		}

		if c.asJSON {
			return writeJSON(out, res)
		}
		field(out, "found", fmt.Sprint(res.Found))
		field(out, "submitted", fmt.Sprint(res.Submitted))
		field(out, "skipped", fmt.Sprint(res.Skipped))
		if wait {
			field(out, "processed", fmt.Sprint(res.Submitted-failed))
		}
		if failed > 0 {
			field(out, "failed", failStyle.Render(fmt.Sprint(failed)))
		}
		for _, f := range res.Failed {
			fmt.Fprintf(out, "%s %s: %s\n", failStyle.Render("✗"), f.Path, dimStyle.Render(f.Err))
		}
		return nil
	})
}
