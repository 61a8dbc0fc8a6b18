package main

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-users-backend/internal/auth"
)

func newTokenCmd() *cobra.Command {
	var (
		subject string
		perms   []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for local testing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if subject == "" {
				return errors.New("--subject is required")
			}
			tok, err := auth.IssueToken(subject, perms, cfg.JWTSecret, ttl)
			if err != nil {
				return errors.Wrap(err, "issue token")
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "actor id (sub claim)")
	cmd.Flags().StringSliceVar(&perms, "perm", []string{auth.ActionCreateUser, auth.ActionViewUsers}, "granted permission, repeatable")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
