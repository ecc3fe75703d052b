package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/panyam/bookauth"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the postgres schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.config
			if cfg.Database.Driver != "postgres" {
				fmt.Fprintf(cmd.OutOrStdout(), "Nothing to migrate for the %s driver\n", cfg.Database.Driver)
				return nil
			}
			if err := migrate(cfg.Database.URL); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema up to date")
			return nil
		},
	}
}

// newResetLinkCommand issues a reset link without sending mail, for when an
// operator has to help a user whose mail is not arriving.
func newResetLinkCommand(ctx *commandContext) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "reset-link",
		Short: "Issue a password reset link and print it",
		RunE: func(cmd *cobra.Command, args []string) error {
			email = strings.TrimSpace(email)
			if email == "" {
				return errors.New("--email is required")
			}
			store, closeStore, err := ctx.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			ba := newBookAuth(ctx.config, store, ctx.logger)
			link, _, err := ba.PasswordReset().IssueToken(cmd.Context(), email)
			if errors.Is(err, bookauth.ErrUserNotFound) {
				return fmt.Errorf("no account for %s", bookauth.NormalizeEmail(email))
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), link)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email of the account")
	return cmd
}

type expiredTokenPurger interface {
	PurgeExpiredResetTokens(ctx context.Context, now time.Time) (int, error)
}

func newPurgeTokensCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "purge-tokens",
		Short: "Delete expired reset token records (datastore driver)",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := ctx.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			purger, ok := store.(expiredTokenPurger)
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "The %s driver keeps no separate token records\n", ctx.config.Database.Driver)
				return nil
			}
			n, err := purger.PurgeExpiredResetTokens(cmd.Context(), time.Now())
			if err != nil {
				return fmt.Errorf("purge: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Purged %d expired reset tokens\n", n)
			return nil
		},
	}
}
