package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/redmonkez12/accounts-api/cmd/accountsctl/ui"
	"github.com/redmonkez12/accounts-api/internal/app"
	"github.com/redmonkez12/accounts-api/internal/auth"
	"github.com/redmonkez12/accounts-api/internal/config"
	"github.com/redmonkez12/accounts-api/internal/database"
	"github.com/redmonkez12/accounts-api/internal/logging"
	"github.com/redmonkez12/accounts-api/internal/user"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "accountsctl",
		Short:         "Administer the accounts service",
		Long:          "Run migrations, create and (de)activate users, and purge expired refresh tokens.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE:  runMigrate,
	}

	createUserCmd := &cobra.Command{
		Use:   "create-user",
		Short: "Create a user account",
		Long:  "Create a user account. Missing fields are prompted for interactively.",
		Args:  cobra.NoArgs,
		RunE:  runCreateUser,
	}
	createUserCmd.Flags().String("email", "", "Email address")
	createUserCmd.Flags().String("username", "", "Username")
	createUserCmd.Flags().String("first-name", "", "First name")
	createUserCmd.Flags().String("last-name", "", "Last name")
	createUserCmd.Flags().String("password", "", "Password (prompted when omitted)")
	createUserCmd.Flags().Bool("inactive", false, "Create the account disabled")

	activateCmd := &cobra.Command{
		Use:   "activate <email>",
		Short: "Enable a user account",
		Args:  cobra.ExactArgs(1),
		RunE:  runSetActive(true),
	}

	deactivateCmd := &cobra.Command{
		Use:   "deactivate <email>",
		Short: "Disable a user account and blacklist its refresh tokens",
		Args:  cobra.ExactArgs(1),
		RunE:  runSetActive(false),
	}
	deactivateCmd.Flags().BoolP("yes", "y", false, "Skip confirmation prompt")

	purgeCmd := &cobra.Command{
		Use:   "purge-tokens",
		Short: "Delete expired refresh token records",
		Args:  cobra.NoArgs,
		RunE:  runPurgeTokens,
	}

	rootCmd.AddCommand(migrateCmd, createUserCmd, activateCmd, deactivateCmd, purgeCmd)
	return rootCmd
}

// loadApp loads configuration and connects every backing service.
func loadApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// keep stdout for command output
	logger := logging.NewLoggerWithWriter(os.Stderr, cfg.Server.IsDevelopment())
	return app.New(ctx, cfg, logger)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	cfg, err := config.Load()
	if err != nil {
		return reportErr(cmd, fmt.Errorf("failed to load config: %w", err))
	}

	sqlDB, err := database.Open(ctx, cfg.Database.ConnectionString(), 1, 1)
	if err != nil {
		return reportErr(cmd, err)
	}
	defer sqlDB.Close()

	if err := database.Migrate(ctx, sqlDB); err != nil {
		return reportErr(cmd, err)
	}

	version, err := database.MigrationVersion(ctx, sqlDB)
	if err != nil {
		return reportErr(cmd, err)
	}

	ui.PrintSuccess(out, fmt.Sprintf("Database is at version %d", version))
	return nil
}

func runCreateUser(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	in := registerInputFromFlags(cmd)
	if err := ui.RunCreateUserForm(&in); err != nil {
		return reportErr(cmd, fmt.Errorf("form cancelled: %w", err))
	}

	a, err := loadApp(ctx)
	if err != nil {
		return reportErr(cmd, err)
	}
	defer a.Close()

	inactive, _ := cmd.Flags().GetBool("inactive")
	u, err := a.Service.CreateUser(ctx, in, !inactive)
	if err != nil {
		return reportErr(cmd, err)
	}

	ui.PrintUser(out, "User created", u)
	return nil
}

// registerInputFromFlags fills a RegisterInput from create-user flags. A
// password given on the command line is also its own confirmation.
func registerInputFromFlags(cmd *cobra.Command) auth.RegisterInput {
	var in auth.RegisterInput
	in.Email, _ = cmd.Flags().GetString("email")
	in.Username, _ = cmd.Flags().GetString("username")
	in.FirstName, _ = cmd.Flags().GetString("first-name")
	in.LastName, _ = cmd.Flags().GetString("last-name")
	in.Password, _ = cmd.Flags().GetString("password")
	in.PasswordConfirm = in.Password
	return in
}

func runSetActive(active bool) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		email := auth.NormalizeEmail(args[0])

		if !active {
			yes, _ := cmd.Flags().GetBool("yes")
			if !yes {
				ok, err := ui.Confirm(fmt.Sprintf("Deactivate %s and log out all of its sessions?", email))
				if err != nil {
					return reportErr(cmd, err)
				}
				if !ok {
					ui.PrintInfo(out, "Aborted.")
					return nil
				}
			}
		}

		a, err := loadApp(ctx)
		if err != nil {
			return reportErr(cmd, err)
		}
		defer a.Close()

		u, err := setActive(ctx, a.Users, a.Issuer, email, active)
		if err != nil {
			return reportErr(cmd, err)
		}

		heading := "User activated"
		if !active {
			heading = "User deactivated"
		}
		ui.PrintUser(out, heading, u)
		return nil
	}
}

type accountStore interface {
	GetByEmail(ctx context.Context, email string) (*user.User, error)
	SetActiveByEmail(ctx context.Context, email string, active bool) error
}

type tokenRevoker interface {
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) error
}

// setActive flips the account flag. Deactivation also blacklists every
// outstanding refresh token so existing sessions cannot be renewed.
func setActive(ctx context.Context, users accountStore, issuer tokenRevoker, email string, active bool) (*user.User, error) {
	u, err := users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, fmt.Errorf("no user with email %s", email)
		}
		return nil, err
	}

	if err := users.SetActiveByEmail(ctx, email, active); err != nil {
		return nil, err
	}
	u.IsActive = active

	if !active {
		if err := issuer.RevokeAllForUser(ctx, u.ID); err != nil {
			return nil, fmt.Errorf("failed to revoke refresh tokens: %w", err)
		}
	}
	return u, nil
}

func runPurgeTokens(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := loadApp(ctx)
	if err != nil {
		return reportErr(cmd, err)
	}
	defer a.Close()

	n, err := a.Issuer.PurgeExpired(ctx)
	if err != nil {
		return reportErr(cmd, err)
	}

	if a.Config.Auth.TokenStore == config.TokenStoreRedis {
		ui.PrintInfo(cmd.OutOrStdout(), "Redis expires refresh tokens on its own; nothing to purge.")
		return nil
	}
	ui.PrintSuccess(cmd.OutOrStdout(), fmt.Sprintf("Purged %d expired refresh %s", n, plural(n, "token", "tokens")))
	return nil
}

func plural(n int64, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func reportErr(cmd *cobra.Command, err error) error {
	ui.PrintError(cmd.ErrOrStderr(), err)
	return err
}
