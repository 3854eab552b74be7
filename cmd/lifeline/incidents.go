package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/lifelinehq/lifeline/internal/archive"
	"github.com/lifelinehq/lifeline/internal/config"
	"github.com/lifelinehq/lifeline/internal/db"
	"github.com/lifelinehq/lifeline/internal/incident"
	"github.com/lifelinehq/lifeline/internal/mirror"
	"github.com/lifelinehq/lifeline/internal/models"
	"github.com/lifelinehq/lifeline/internal/work"
)

func newIncidentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "incidents",
		Short: "Inspect and manage active incidents",
	}

	cmd.AddCommand(newIncidentsListCmd())
	cmd.AddCommand(newIncidentsEndCmd())
	return cmd
}

func newIncidentsListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active incidents",
		Long:  "Displays the active incidents in the local store, most recently active first.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIncidentsList(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "lifeline.yaml", "path to Lifeline config file")
	return cmd
}

func runIncidentsList(cmd *cobra.Command, configPath string) error {
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

	// The mirror is never consulted on reads, so the CLI uses an
	// in-memory stand-in instead of dialing Redis.
	store, err := incident.NewStore(local, mirror.NewFakeStore())
	if err != nil {
		return err
	}

	incidents, err := store.ActiveList(context.Background())
	if err != nil {
		return err
	}

	if len(incidents) == 0 {
		fmt.Fprintln(out, "No active incidents.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCHANNEL\tMEDIUM\tURGENCY\tSTATUS\tSUPERVISOR\tLAST ACTIVITY")
	for _, inc := range incidents {
		sup := inc.SupervisorID
		if sup == "" {
			sup = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			inc.ID, inc.ChannelIdentity, inc.Medium, inc.Urgency, inc.Status, sup,
			formatAge(time.Since(inc.LastActivityAt)))
	}
	w.Flush()
	return nil
}

func newIncidentsEndCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "end <incident-id>",
		Short: "End an incident and archive it",
		Long:  "Ends the named incident, moves it to the history store, and removes it from the local store and the mirror.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIncidentsEnd(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "lifeline.yaml", "path to Lifeline config file")
	return cmd
}

func runIncidentsEnd(cmd *cobra.Command, configPath, incidentID string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	local, err := db.ConnectLocal(cfg.Store.Path)
	if err != nil {
		return err
	}
	history, err := db.ConnectHistory(cfg.History.Host, cfg.History.Port, cfg.History.Database, cfg.History.User, cfg.History.Password)
	if err != nil {
		return err
	}
	mirrorStore, err := mirror.NewRedisStore(mirror.RedisOpts{
		Addr:     cfg.Mirror.Addr,
		Password: cfg.Mirror.Password,
		DB:       cfg.Mirror.DB,
	})
	if err != nil {
		return err
	}
	defer mirrorStore.Close()

	pool := work.NewPool(1, 1)
	defer pool.Close()

	archiver, err := archive.New(archive.Opts{
		Local:   local,
		History: history,
		Mirror:  mirrorStore,
		Pool:    pool,
	})
	if err != nil {
		return err
	}

	return endAndArchive(local, archiver, pool, incidentID, out)
}

// endAndArchive ends an incident through the same claim path the server
// uses, so a racing trigger can never archive it twice, then drains the
// pool so archival has finished before the command returns.
func endAndArchive(local *gorm.DB, archiver *archive.Archiver, pool *work.Pool, incidentID string, out io.Writer) error {
	var inc models.Incident
	if err := local.Where("id = ?", incidentID).First(&inc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("incident %s not found", incidentID)
		}
		return err
	}

	if err := archiver.EndIncident(incidentID, archive.ResolutionManual); err != nil {
		return err
	}
	pool.Close()

	fmt.Fprintf(out, "Incident %s ended and archived.\n", incidentID)
	return nil
}

// formatAge formats a duration as "Xh Ym" or "Ym Zs".
func formatAge(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm %ds", m, s)
}
