package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lifelinehq/lifeline/internal/config"
	"github.com/lifelinehq/lifeline/internal/db"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBMigrateCmd())
	cmd.AddCommand(newDBResetCmd())
	return cmd
}

func newDBMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate both store tiers",
		Long:  "Creates or updates the tables of the local active store and the durable history store.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBMigrate(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "lifeline.yaml", "path to Lifeline config file")
	return cmd
}

func runDBMigrate(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	local, err := db.ConnectLocal(cfg.Store.Path)
	if err != nil {
		return err
	}
	if err := db.MigrateActive(local); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d active tables in %s\n", len(db.ActiveModels()), cfg.Store.Path)

	history, err := db.ConnectHistory(cfg.History.Host, cfg.History.Port, cfg.History.Database, cfg.History.User, cfg.History.Password)
	if err != nil {
		return err
	}
	if err := db.MigrateHistory(history); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d history tables in %s:%d/%s\n", len(db.HistoryModels()), cfg.History.Host, cfg.History.Port, cfg.History.Database)

	fmt.Fprintln(out, "\nMigration complete.")
	return nil
}

func newDBResetCmd() *cobra.Command {
	var (
		configPath string
		yes        bool
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the local active store and re-migrate",
		Long: `Removes the local store file and re-creates its tables empty.

The durable history store is never touched; archived incidents survive
a reset.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBReset(cmd, configPath, yes)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "lifeline.yaml", "path to Lifeline config file")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation prompt")
	return cmd
}

func runDBReset(cmd *cobra.Command, configPath string, skipConfirm bool) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if !skipConfirm {
		if !confirmReset(cmd, cfg.Store.Path) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	if err := os.Remove(cfg.Store.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", cfg.Store.Path, err)
	}
	fmt.Fprintf(out, "Removed %s\n", cfg.Store.Path)

	local, err := db.ConnectLocal(cfg.Store.Path)
	if err != nil {
		return err
	}
	if err := db.MigrateActive(local); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d active tables\n", len(db.ActiveModels()))

	fmt.Fprintln(out, "\nLocal store reset successfully.")
	return nil
}

func confirmReset(cmd *cobra.Command, path string) bool {
	out := cmd.OutOrStdout()
	in := cmd.InOrStdin()

	fmt.Fprintf(out, "WARNING: This will permanently delete all active incidents in %q.\n", path)
	fmt.Fprintln(out, "Archived incidents in the history store are not affected.")
	fmt.Fprintln(out)
	fmt.Fprint(out, "Type \"yes\" to confirm: ")

	scanner := bufio.NewScanner(in)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text()) == "yes"
	}
	return false
}
