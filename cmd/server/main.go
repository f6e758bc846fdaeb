package main

import (
	"fmt"
	"os"

	"cavvy/internal/config"
	"cavvy/internal/db"
	"cavvy/internal/domain"
	"cavvy/internal/logger"
	"cavvy/internal/user"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app carries what every subcommand needs once configuration is loaded.
type app struct {
	cfg config.Config
	log zerolog.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "cavvy",
		Short: "Cavvy canvas service",
		Long:  "Hierarchical business canvases with AI assisted dives and section generation.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config.LoadConfig()
			a.cfg = config.AppConfig
			a.log = logger.New(a.cfg.Environment, a.cfg.LogLevel, cmd.ErrOrStderr())
			return nil
		},
		SilenceUsage: true,
	}

	cmd.AddCommand(newServeCommand(a))
	cmd.AddCommand(newMigrateCommand(a))
	cmd.AddCommand(newSeedCommand(a))
	cmd.AddCommand(newPromoteCommand(a))

	return cmd
}

func newMigrateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Migrate the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.ConnectDb(a.cfg, a.log)
			if err != nil {
				return err
			}
			defer db.CloseDb(a.log)

			return db.Migrate(conn, a.log)
		},
	}
}

func newSeedCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Write the built-in shared canvas types and agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.ConnectDb(a.cfg, a.log)
			if err != nil {
				return err
			}
			defer db.CloseDb(a.log)

			return db.SeedData(cmd.Context(), conn, a.log)
		},
	}
}

func newPromoteCommand(a *app) *cobra.Command {
	var demote bool

	cmd := &cobra.Command{
		Use:   "promote <email>",
		Short: "Grant an account the admin role",
		Long: `Grant an account the admin role. Admins may edit the shared
canvas type and agent catalog. Use --demote to revoke it again.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.ConnectDb(a.cfg, a.log)
			if err != nil {
				return err
			}
			defer db.CloseDb(a.log)

			role := domain.RoleAdmin
			if demote {
				role = domain.RoleUser
			}

			u, err := user.NewService(user.NewRepository(conn)).SetRole(cmd.Context(), args[0], role)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", u.Email, u.Role)
			return nil
		},
	}
	cmd.Flags().BoolVar(&demote, "demote", false, "revoke the admin role instead")

	return cmd
}
