package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var includeArchived bool

var branchesCmd = &cobra.Command{
	Use:   "branches <document-id>",
	Short: "List the branches of a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(cmd, func(ctx context.Context, b *backend) error {
			items, err := b.versions.ListBranches(ctx, args[0], includeArchived)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), items)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSTATUS\tHASH")
			for _, branch := range items {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", branch.ID, branch.BranchName, branch.Status, shortHash(branch.VersionHash))
			}
			return w.Flush()
		})
	},
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	if hash == "" {
		return "-"
	}
	return hash
}

func init() {
	rootCmd.AddCommand(branchesCmd)
	branchesCmd.Flags().BoolVar(&includeArchived, "all", false, "Include archived branches")
}
