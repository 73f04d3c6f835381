package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"manuscript/api/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(cmd, func(ctx context.Context, b *backend) error {
			if b.db == nil {
				return errors.New("migrate needs a database connection")
			}
			if err := store.ApplyMigrations(ctx, b.db, migrationsFS(b.cfg)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
