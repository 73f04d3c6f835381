package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"manuscript/api/internal/branching"
	"manuscript/api/internal/store"
)

var (
	mergeType string
	mergeAs   string
)

var errMergeConflict = errors.New("merge rejected")

var mergeCmd = &cobra.Command{
	Use:   "merge <source-branch-id> <target-branch-id>",
	Short: "Merge one branch into another",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mergedBy := mergeAs
		if mergedBy == "" {
			mergedBy = actor()
		}
		return withBackend(cmd, func(ctx context.Context, b *backend) error {
			result, err := b.versions.MergeBranch(ctx, branching.MergeRequest{
				SourceBranchID: args[0],
				TargetBranchID: args[1],
				MergeType:      mergeType,
				MergedBy:       mergedBy,
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				if err := printJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
			} else if result.Success {
				fmt.Fprintf(cmd.OutOrStdout(), "merged into %s as r%d\n", args[1], result.Revision.RevisionNumber)
			}
			if !result.Success {
				return fmt.Errorf("%w: conflicting sections %s", errMergeConflict, strings.Join(result.Conflicts, ", "))
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(mergeCmd)
	mergeCmd.Flags().StringVarP(&mergeType, "type", "t", store.MergeFastForward, "Merge type: fast_forward, squash or rebase")
	mergeCmd.Flags().StringVar(&mergeAs, "as", "", "User recorded as mergedBy (defaults to $USER)")
}
