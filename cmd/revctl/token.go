package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"manuscript/api/internal/auth"
	"manuscript/api/internal/config"
	"manuscript/api/internal/rbac"
)

var (
	tokenRole string
	tokenName string
	tokenTTL  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Issue a bearer token signed with the configured secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		role := rbac.Normalize(tokenRole)
		if string(role) != tokenRole {
			return fmt.Errorf("unknown role %q", tokenRole)
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		ttl := cfg.TokenTTL
		if tokenTTL > 0 {
			ttl = tokenTTL
		}
		name := tokenName
		if name == "" {
			name = args[0]
		}
		token, err := auth.NewIssuer(cfg.JWTSecret, ttl).Issue(args[0], name, string(role))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVar(&tokenRole, "role", string(rbac.RoleAuthor), "Role: viewer, author, maintainer or admin")
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "Display name (defaults to the user id)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (defaults to MANUSCRIPT_TOKEN_TTL_SECONDS)")
}
