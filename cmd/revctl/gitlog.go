package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"manuscript/api/internal/gitrepo"
)

var gitLogLimit int

var gitLogCmd = &cobra.Command{
	Use:   "git-log <document-id> <branch-name>",
	Short: "Show the git mirror history of a branch",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(cmd, func(ctx context.Context, b *backend) error {
			if b.cfg.MirrorDir == "" {
				return errors.New("MANUSCRIPT_MIRROR_DIR is not set")
			}
			commits, err := gitrepo.New(b.cfg.MirrorDir).History(args[0], args[1], gitLogLimit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), commits)
			}
			for _, c := range commits {
				subject, _, _ := strings.Cut(c.Message, "\n")
				fmt.Fprintf(cmd.OutOrStdout(), "%s r%d %s %s\n", shortHash(c.Hash), c.RevisionNumber, c.Author, subject)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(gitLogCmd)
	gitLogCmd.Flags().IntVarP(&gitLogLimit, "limit", "n", 20, "Maximum number of commits")
}
