package cli

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/scrypster/recollect/internal/engine"
	"github.com/scrypster/recollect/pkg/types"
)

const pollInterval = 250 * time.Millisecond

type ingestCommander struct {
	root    *rootOptions
	spaceID string
	title   string
	mime    string
	wait    bool
	timeout time.Duration
	asJSON  bool
}

func newIngestCmd(root *rootOptions) *cobra.Command {
	c := &ingestCommander{root: root}
	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Upload a document for processing",
		Long: `Stores the file and queues it for the ingestion pipeline.

With the in-memory queue the pipeline runs in this process and the command
waits for it. With a shared queue the document is handed to the workers;
--wait polls until it is done or failed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	}
	cmd.Flags().StringVarP(&c.spaceID, "space", "s", "", "space id (required)")
	cmd.Flags().StringVar(&c.title, "title", "", "document title (default: generated)")
	cmd.Flags().StringVar(&c.mime, "mime", "", "MIME type (default: from extension or content)")
	cmd.Flags().BoolVar(&c.wait, "wait", false, "wait for processing to finish")
	cmd.Flags().DurationVar(&c.timeout, "timeout", 10*time.Minute, "how long to wait for processing")
	cmd.Flags().BoolVar(&c.asJSON, "json", false, "print the document as JSON")
	_ = cmd.MarkFlagRequired("space")
	return cmd
}

func (c *ingestCommander) run(ctx context.Context, out io.Writer, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	mimeType := c.mime
	if mimeType == "" {
		mimeType = detectMIME(path, data)
	}

	mode, wait := modeSubmit, c.wait
	if c.root.inProcessQueue() {
		mode, wait = modeProcess, true
	}

	return c.root.withEngine(ctx, mode, func(e *engine.Engine) error {
		res, err := e.IngestDocument(ctx, engine.IngestRequest{
			SpaceID:  c.spaceID,
			Title:    c.title,
			MIMEType: mimeType,
			Data:     data,
		})
		if err != nil {
			return err
		}

		doc := res.Document
		if wait {
			if doc, err = waitForDocument(ctx, e, doc.ID, c.timeout); err != nil {
				return err
			}
		}

		if c.asJSON {
			return writeJSON(out, doc)
		}
		field(out, "document", idStyle.Render(doc.ID))
		field(out, "job", res.JobID)
		field(out, "status", renderStatus(doc.Status))
		return nil
	})
}

func detectMIME(path string, data []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return http.DetectContentType(data)
}

// waitForDocument polls until the document reaches done or failed.
func waitForDocument(ctx context.Context, e *engine.Engine, id string, timeout time.Duration) (*types.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		doc, err := e.GetDocument(ctx, id)
		if err != nil {
			return nil, err
		}
		if doc.Status.IsTerminal() {
			return doc, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for document %s (status %s): %w", id, doc.Status, ctx.Err())
		case <-ticker.C:
		}
	}
}

func newReprocessCmd(root *rootOptions) *cobra.Command {
	var wait bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "reprocess <document-id>",
		Short: "Run a finished or failed document through the pipeline again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			mode := modeSubmit
			if root.inProcessQueue() {
				mode, wait = modeProcess, true
			}
			return root.withEngine(ctx, mode, func(e *engine.Engine) error {
				jobID, err := e.ReprocessDocument(ctx, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				field(out, "job", jobID)
				if !wait {
					return nil
				}
				doc, err := waitForDocument(ctx, e, args[0], timeout)
				if err != nil {
					return err
				}
				field(out, "status", renderStatus(doc.Status))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for processing to finish")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "how long to wait for processing")
	return cmd
}

func newDocumentCmd(root *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "document <document-id>",
		Short: "Show a document, its step log and linked memories",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return root.withEngine(ctx, modeSubmit, func(e *engine.Engine) error {
				doc, err := e.GetDocument(ctx, args[0])
				if err != nil {
					return err
				}
				links, err := e.DocumentMemories(ctx, doc.ID)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if asJSON {
					return writeJSON(out, struct {
						Document *types.Document     `json:"document"`
						Memories []*types.SourceLink `json:"memories"`
					}{doc, links})
				}
				printDocument(out, doc, links)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func printDocument(out io.Writer, doc *types.Document, links []*types.SourceLink) {
	field(out, "document", idStyle.Render(doc.ID))
	field(out, "status", renderStatus(doc.Status))
	field(out, "source", doc.Source)
	if doc.Title != "" {
		field(out, "title", doc.Title)
	}
	if doc.Summary != "" {
		field(out, "summary", preview(doc.Summary, 200))
	}
	field(out, "chunks", strconv.Itoa(doc.ChunkCount))

	if len(doc.ProcessingSteps) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, headerStyle.Render("Steps"))
		for _, s := range doc.ProcessingSteps {
			at := s.StartTime
			if s.EndTime != nil {
				at = s.EndTime
			}
			stamp := ""
			if at != nil {
				stamp = at.Local().Format(time.TimeOnly)
			}
			line := fmt.Sprintf("  %s  %-28s %s", dimStyle.Render(stamp), s.Name, s.Status)
			if s.Error != "" {
				line += "  " + failStyle.Render(s.Error)
			}
			fmt.Fprintln(out, line)
		}
	}

	if len(links) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, headerStyle.Render("Memories"))
		for _, l := range links {
			fmt.Fprintf(out, "  %s %s\n", idStyle.Render(l.MemoryID), scoreStyle.Render(fmt.Sprintf("(relevance %d)", l.Relevance)))
		}
	}
}

func renderStatus(s types.DocumentStatus) string {
	switch s {
	case types.DocumentDone:
		return okStyle.Render(string(s))
	case types.DocumentFailed:
		return failStyle.Render(string(s))
	default:
		return string(s)
	}
}
