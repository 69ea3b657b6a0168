package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"usermanager/backend/internal/app"
	"usermanager/backend/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var name, email, password string

	cmd := &cobra.Command{
		Use:   "admin-init",
		Short: "Create or promote the first administrator",
		Long: `Makes sure at least one Admin account exists.
If no Admin exists yet, the account with --email is promoted, or created
when it does not exist. Running it again once an Admin exists does nothing.
Flags fall back to ADMIN_INIT_NAME, ADMIN_INIT_EMAIL and ADMIN_INIT_PASSWORD.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			logger, err := logging.New(os.Stderr, logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
			if err != nil {
				return err
			}

			if name == "" {
				name = cfg.AdminInitName
			}
			if email == "" {
				email = cfg.AdminInitEmail
			}
			if password == "" {
				password = cfg.AdminInitPassword
			}
			if strings.TrimSpace(email) == "" {
				return errors.New("admin email is required (--email or ADMIN_INIT_EMAIL)")
			}
			if password == "" {
				password, err = promptPassword(cmd)
				if err != nil {
					return err
				}
			}

			// Startup bootstrap is driven by the flags here, not the env toggle.
			cfg.AdminInitEnabled = false
			server, err := app.NewServer(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer server.Close()

			outcome, err := server.InitFirstAdmin(cmd.Context(), name, email, password)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "admin init completed: %s\n", outcome)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name of the administrator")
	cmd.Flags().StringVar(&email, "email", "", "email of the administrator account")
	cmd.Flags().StringVar(&password, "password", "", "password for a newly created administrator (prompted when omitted)")
	return cmd
}

func promptPassword(cmd *cobra.Command) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("admin password is required (--password or ADMIN_INIT_PASSWORD)")
	}

	fmt.Fprint(cmd.ErrOrStderr(), "Admin password: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(raw), nil
}
