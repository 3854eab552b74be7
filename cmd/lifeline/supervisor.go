package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/lifelinehq/lifeline/internal/config"
	"github.com/lifelinehq/lifeline/internal/db"
	"github.com/lifelinehq/lifeline/internal/models"
)

func newSupervisorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "supervisor",
		Short: "Manage supervisor accounts",
	}

	cmd.AddCommand(newSupervisorAddCmd())
	return cmd
}

func newSupervisorAddCmd() *cobra.Command {
	var (
		configPath string
		name       string
		org        string
		token      string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a supervisor account",
		Long: `Creates a supervisor with an API token for the monitoring endpoints.

The token is prompted without echo; pass --token to skip the prompt,
or leave the prompt empty to generate one.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSupervisorAdd(cmd, configPath, name, org, token)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "lifeline.yaml", "path to Lifeline config file")
	cmd.Flags().StringVar(&name, "name", "", "supervisor display name (required)")
	cmd.Flags().StringVar(&org, "org", "", "organization the supervisor belongs to (required)")
	cmd.Flags().StringVar(&token, "token", "", "API token (prompted when omitted)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func runSupervisorAdd(cmd *cobra.Command, configPath, name, org, token string) error {
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

	generated := false
	if token == "" {
		token, err = promptToken(cmd)
		if err != nil {
			return err
		}
		if token == "" {
			token = strings.ReplaceAll(uuid.NewString(), "-", "")
			generated = true
		}
	}

	sup := models.Supervisor{
		ID:    "sup_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
		Name:  name,
		Org:   org,
		Token: token,
	}
	if err := local.Create(&sup).Error; err != nil {
		return fmt.Errorf("create supervisor: %w", err)
	}

	fmt.Fprintf(out, "Supervisor %s (%s) created in org %q\n", sup.ID, sup.Name, sup.Org)
	if generated {
		fmt.Fprintf(out, "Generated token: %s\n", token)
		fmt.Fprintln(out, "Store it now; it is not shown again.")
	}
	return nil
}

// promptToken reads the token without echo when stdin is a terminal,
// and falls back to a plain line read otherwise so the command stays
// scriptable.
func promptToken(cmd *cobra.Command) (string, error) {
	out := cmd.OutOrStdout()
	fmt.Fprint(out, "Token (empty to generate): ")

	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		raw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("read token: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}

	scanner := bufio.NewScanner(cmd.InOrStdin())
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text()), nil
	}
	return "", scanner.Err()
}
