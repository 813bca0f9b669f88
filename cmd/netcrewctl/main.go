package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"netcrew.io/internal/app"
	"netcrew.io/internal/auth"
	"netcrew.io/internal/config"
	"netcrew.io/internal/migrate"
	"netcrew.io/internal/obs"
	"netcrew.io/migrations"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string
	root := &cobra.Command{
		Use:           "netcrewctl",
		Short:         "Operator commands for the netcrew API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			obs.InitLogger(obs.LogConfig{Env: "dev", Level: logLevel, Service: "netcrewctl"})
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: debug|info|warn|error")

	root.AddCommand(newMigrateCmd(), newSeedRolesCmd(), newCreateAdminCmd())
	return root
}

func newMigrateCmd() *cobra.Command {
	var (
		dsn     = os.Getenv(config.EnvPrefix + "PG_DSN")
		timeout = 2 * time.Minute
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the embedded SQL migrations",
	}
	cmd.PersistentFlags().StringVar(&dsn, "dsn", dsn, "PostgreSQL DSN (env NETCREW_PG_DSN)")
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", timeout, "Overall timeout")

	withManager := func(fn func(ctx context.Context, m *migrate.Manager) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(dsn) == "" {
				return errors.New("--dsn is required (or NETCREW_PG_DSN)")
			}
			db, err := sql.Open("pgx", dsn)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer db.Close()
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return fn(ctx, migrate.NewManager(db, migrations.FS))
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: withManager(func(ctx context.Context, m *migrate.Manager) error {
				applied, err := m.Up(ctx)
				if err != nil {
					return err
				}
				if len(applied) == 0 {
					fmt.Println("up to date")
				}
				for _, name := range applied {
					fmt.Println("applied", name)
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			RunE: withManager(func(ctx context.Context, m *migrate.Manager) error {
				name, err := m.Down(ctx)
				if err != nil {
					return err
				}
				fmt.Println("rolled back", name)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied migrations",
			RunE: withManager(func(ctx context.Context, m *migrate.Manager) error {
				history, err := m.Status(ctx)
				if err != nil {
					return err
				}
				for _, item := range history {
					fmt.Println(item)
				}
				return nil
			}),
		},
	)
	return cmd
}

// withApp loads the full configuration and wires the services.
func withApp(fn func(ctx context.Context, a *app.App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		a, err := app.New(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close(context.Background()) }()
		return fn(ctx, a)
	}
}

func newSeedRolesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed-roles",
		Short: "Create or reset the built-in roles",
		RunE: withApp(func(ctx context.Context, a *app.App) error {
			if err := a.RBAC.EnsureSystemRoles(ctx); err != nil {
				return err
			}
			roles, err := a.RBAC.ListRoles(ctx)
			if err != nil {
				return err
			}
			for _, r := range roles {
				fmt.Printf("%-12s level=%-3d system=%-5t permissions=%d\n", r.Name, r.HierarchyLevel, r.IsSystem, len(r.Permissions))
			}
			return nil
		}),
	}
}

func newCreateAdminCmd() *cobra.Command {
	var email, name, password string
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Register a user holding the admin role",
		RunE: withApp(func(ctx context.Context, a *app.App) error {
			if email == "" {
				return errors.New("--email is required")
			}
			if name == "" {
				name = strings.Split(email, "@")[0]
			}
			if password == "" {
				return errors.New("--password is required (or NETCREW_ADMIN_PASSWORD)")
			}
			user, err := a.Accounts.CreateAdmin(ctx, auth.RegisterInput{Email: email, Name: name, Password: password})
			if err != nil {
				return err
			}
			fmt.Printf("created admin %s (%s)\n", user.Email, user.ID)
			return nil
		}),
	}
	cmd.Flags().StringVar(&email, "email", "", "Admin email address")
	cmd.Flags().StringVar(&name, "name", "", "Display name (defaults to the email local part)")
	cmd.Flags().StringVar(&password, "password", os.Getenv("NETCREW_ADMIN_PASSWORD"), "Password (env NETCREW_ADMIN_PASSWORD)")
	return cmd
}
