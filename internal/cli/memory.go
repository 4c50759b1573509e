package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/scrypster/recollect/internal/engine"
)

func newAddCmd(root *rootOptions) *cobra.Command {
	var spaceID string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "add <text>",
		Short: "Add a memory",
		Long: `Adds a fact to a space. When an active memory in the space is similar
enough, the new fact becomes its next version and the old one is superseded.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return root.withEngine(ctx, modeSubmit, func(e *engine.Engine) error {
				res, err := e.AddMemory(ctx, spaceID, strings.Join(args, " "))
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					return writeJSON(out, res)
				}
				field(out, "memory", idStyle.Render(res.ID))
				field(out, "status", res.Status)
				field(out, "version", fmt.Sprint(res.Version))
				if res.ParentID != "" {
					field(out, "updates", res.ParentID)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&spaceID, "space", "s", "", "space id (required)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	_ = cmd.MarkFlagRequired("space")
	return cmd
}

func newForgetCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "forget <memory-id>",
		Short: "Forget a memory",
		Long:  `Marks a memory forgotten. It is excluded from search and versioning for good.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return root.withEngine(ctx, modeSubmit, func(e *engine.Engine) error {
				if err := e.ForgetMemory(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "forgot %s\n", args[0])
				return nil
			})
		},
	}
}

func newHistoryCmd(root *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history <memory-id>",
		Short: "Show every version of a memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return root.withEngine(ctx, modeSubmit, func(e *engine.Engine) error {
				lineage, err := e.MemoryHistory(ctx, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					return writeJSON(out, lineage)
				}
				for _, m := range lineage {
					fmt.Fprintf(out, "%s %s %s\n    %s\n",
						rankStyle.Render(fmt.Sprintf("v%d", m.Version)),
						idStyle.Render(m.ID),
						dimStyle.Render(string(m.Lifecycle)),
						preview(m.Content, 160))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the lineage as JSON")
	return cmd
}
