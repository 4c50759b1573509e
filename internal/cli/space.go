package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scrypster/recollect/internal/engine"
)

func newSpaceCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "space",
		Short: "Manage spaces",
	}
	cmd.AddCommand(newSpaceCreateCmd(root), newSpaceShowCmd(root))
	return cmd
}

func newSpaceCreateCmd(root *rootOptions) *cobra.Command {
	var owner, org, name string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a space",
		Long: `Creates a space. The owner id scopes encryption of every memory and
document title in the space.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return root.withEngine(cmd.Context(), modeSubmit, func(e *engine.Engine) error {
				space, err := e.CreateSpace(cmd.Context(), owner, org, name)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), space)
				}
				fmt.Fprintln(cmd.OutOrStdout(), space.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id (required)")
	cmd.Flags().StringVar(&org, "org", "", "organization id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the space as JSON")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newSpaceShowCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <space-id>",
		Short: "Show a space",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withEngine(cmd.Context(), modeSubmit, func(e *engine.Engine) error {
				space, err := e.GetSpace(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), space)
			})
		},
	}
}
