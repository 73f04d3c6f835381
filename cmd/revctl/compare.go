package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"
)

var compareCmd = &cobra.Command{
	Use:   "compare <branch-id> <from> <to>",
	Short: "Diff two revisions of a branch section by section",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid revision number %q", args[1])
		}
		to, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid revision number %q", args[2])
		}
		return withBackend(cmd, func(ctx context.Context, b *backend) error {
			comparison, err := b.versions.CompareRevisions(ctx, args[0], from, to)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), comparison)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "r%d..r%d: %s\n", from, to, comparison.Summary)
			keys := make([]string, 0, len(comparison.Diff))
			for key := range comparison.Diff {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			for _, key := range keys {
				fmt.Fprintf(out, "  %-9s %s\n", comparison.Diff[key], key)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(compareCmd)
}
