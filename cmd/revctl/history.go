package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history <branch-id>",
	Short: "Show the revisions of a branch, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(cmd, func(ctx context.Context, b *backend) error {
			items, err := b.versions.ListRevisions(ctx, args[0], historyLimit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), items)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "REV\tAUTHOR\tWORDS\tCHANGED\tMESSAGE")
			for _, rev := range items {
				changed := strings.Join(rev.SectionsChanged, ",")
				if changed == "" {
					changed = "-"
				}
				fmt.Fprintf(w, "r%d\t%s\t%d\t%s\t%s\n", rev.RevisionNumber, rev.CreatedBy, rev.WordCount, changed, rev.CommitMessage)
			}
			return w.Flush()
		})
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of revisions")
}
