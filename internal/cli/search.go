package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/scrypster/recollect/internal/engine"
)

type searchCommander struct {
	root          *rootOptions
	recall        bool
	spaceID       string
	topK          int
	minSimilarity float64
	quiet         bool
	asJSON        bool
}

func newSearchCmd(root *rootOptions, recall bool) *cobra.Command {
	c := &searchCommander{root: root, recall: recall}

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the memories of a space",
		Long: `Ranks the active memories of a space by similarity to the query.

Use --quiet to print only memory ids, one per line.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, strings.Join(args, " "))
		},
	}
	if recall {
		cmd.Use = "recall <query>"
		cmd.Short = "Recall the memories most worth handing to a model"
		cmd.Long = `Searches like "search", then trims the ranked list to a size chosen from
the score distribution: fewer results when quality is low or scores drop
off steeply, all of a tight cluster of near-equal matches.`
	} else {
		cmd.Flags().IntVarP(&c.topK, "top", "k", 0, "number of results (default from config, max 50)")
	}
	cmd.Flags().StringVarP(&c.spaceID, "space", "s", "", "space id (required)")
	cmd.Flags().Float64Var(&c.minSimilarity, "min-similarity", 0, "override the minimum similarity")
	cmd.Flags().BoolVarP(&c.quiet, "quiet", "q", false, "print only memory ids")
	cmd.Flags().BoolVar(&c.asJSON, "json", false, "print the response as JSON")
	_ = cmd.MarkFlagRequired("space")
	return cmd
}

func (c *searchCommander) run(cmd *cobra.Command, query string) error {
	ctx := cmd.Context()
	req := engine.SearchRequest{SpaceID: c.spaceID, Query: query, TopK: c.topK}
	if cmd.Flags().Changed("min-similarity") {
		req.MinSimilarity = &c.minSimilarity
	}

	return c.root.withEngine(ctx, modeSubmit, func(e *engine.Engine) error {
		search := e.Search
		if c.recall {
			search = e.Recall
		}
		resp, err := search(ctx, req)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		switch {
		case c.asJSON:
			return writeJSON(out, resp)
		case c.quiet:
			for _, r := range resp.Results {
				fmt.Fprintln(out, r.Memory.ID)
			}
			return nil
		default:
			printResults(out, query, resp)
			return nil
		}
	})
}

func printResults(out io.Writer, query string, resp *engine.SearchResponse) {
	if resp.Count == 0 {
		fmt.Fprintln(out, "No results found.")
		return
	}

	fmt.Fprintf(out, "%s %s\n\n", headerStyle.Render("Results for:"), idStyle.Render(fmt.Sprintf("%q", query)))
	for i, r := range resp.Results {
		fmt.Fprintf(out, "%s %s %s\n    %s\n",
			rankStyle.Render(fmt.Sprintf("[%d]", i+1)),
			idStyle.Render(r.Memory.ID),
			scoreStyle.Render(fmt.Sprintf("(%.3f, v%d)", r.Score, r.Memory.Version)),
			preview(r.Memory.Content, 160))
	}
}
