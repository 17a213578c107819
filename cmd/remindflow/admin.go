package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"remindflow/auth"
	"remindflow/db"
)

func migrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := a.openPool(cmd.Context())
			if err != nil {
				return err
			}
			applied, err := db.Migrate(cmd.Context(), pool)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
			}
			return nil
		},
	}
}

func tokenCmd(a *app) *cobra.Command {
	var (
		subject string
		role    string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API token",
		Long: `Mint a bearer token for the HTTP API.

Examples:
  remindflow token --subject ops@example.com --role operator
  remindflow token --subject cron --role worker`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET is required to mint tokens")
			}
			r, err := auth.ParseRole(role)
			if err != nil {
				return err
			}
			token, err := auth.NewService(a.cfg.JWTSecret, a.cfg.TokenTTL).IssueToken(subject, r)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleOperator), "operator or worker")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
