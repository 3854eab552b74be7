package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lifelinehq/lifeline/internal/api"
	"github.com/lifelinehq/lifeline/internal/archive"
	"github.com/lifelinehq/lifeline/internal/channel"
	"github.com/lifelinehq/lifeline/internal/channel/discord"
	"github.com/lifelinehq/lifeline/internal/channel/slack"
	"github.com/lifelinehq/lifeline/internal/config"
	"github.com/lifelinehq/lifeline/internal/db"
	"github.com/lifelinehq/lifeline/internal/incident"
	"github.com/lifelinehq/lifeline/internal/mirror"
	"github.com/lifelinehq/lifeline/internal/respond"
	"github.com/lifelinehq/lifeline/internal/sweep"
	"github.com/lifelinehq/lifeline/internal/work"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Lifeline daemon",
		Long:  "Starts the intake API, the mirror replicator, the archival reconciler, and the inactivity sweeper. Runs until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "lifeline.yaml", "path to Lifeline config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides config)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if port == 0 {
		port = cfg.Server.Port
	}

	// Local authoritative store.
	local, err := db.ConnectLocal(cfg.Store.Path)
	if err != nil {
		return err
	}
	if err := db.MigrateActive(local); err != nil {
		return err
	}
	fmt.Fprintf(out, "Local store ready at %s\n", cfg.Store.Path)

	// Durable historical store.
	history, err := db.ConnectHistory(cfg.History.Host, cfg.History.Port, cfg.History.Database, cfg.History.User, cfg.History.Password)
	if err != nil {
		return err
	}
	if err := db.MigrateHistory(history); err != nil {
		return err
	}
	fmt.Fprintf(out, "History store ready at %s:%d/%s\n", cfg.History.Host, cfg.History.Port, cfg.History.Database)

	// Best-effort mirror. A dead mirror degrades live streaming but
	// must not block intake, so a failed ping is only a warning.
	mirrorStore, err := mirror.NewRedisStore(mirror.RedisOpts{
		Addr:     cfg.Mirror.Addr,
		Password: cfg.Mirror.Password,
		DB:       cfg.Mirror.DB,
	})
	if err != nil {
		return err
	}
	defer mirrorStore.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := mirrorStore.Ping(pingCtx); err != nil {
		fmt.Fprintf(out, "WARNING: mirror unreachable (%v) — live streaming degraded\n", err)
	} else {
		fmt.Fprintf(out, "Mirror ready at %s\n", cfg.Mirror.Addr)
	}
	pingCancel()

	replicator := mirror.NewReplicator(mirrorStore, mirror.ReplicatorOpts{
		Workers: cfg.Mirror.Workers,
		Queue:   cfg.Mirror.Queue,
	})
	defer replicator.Close()

	store, err := incident.NewStore(local, mirrorStore)
	if err != nil {
		return err
	}

	pool := work.NewPool(cfg.Mirror.Workers, cfg.Mirror.Queue)
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

	reconciler, err := archive.NewReconciler(archive.ReconcilerOpts{
		Archiver: archiver,
		Out:      out,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notifier, err := buildNotifier(ctx, cfg)
	if err != nil {
		return err
	}
	if notifier != nil {
		defer notifier.Close()
	}

	sweeper, err := sweep.New(sweep.Opts{
		DB:       local,
		Archiver: archiver,
		Notifier: notifier,
		Every:    time.Duration(cfg.Inactivity.SweepSeconds) * time.Second,
		Warn:     time.Duration(cfg.Inactivity.WarnSeconds) * time.Second,
		End:      time.Duration(cfg.Inactivity.EndSeconds) * time.Second,
		MaxAge:   time.Duration(cfg.Inactivity.MaxAgeHours) * time.Hour,
		Out:      out,
	})
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	go reconciler.Run(ctx)
	go sweeper.Run(ctx)

	responder := buildResponder(cfg)

	return api.Start(ctx, api.StartOpts{
		DB:          local,
		Incidents:   store,
		Archiver:    archiver,
		Mirror:      mirrorStore,
		Replicator:  replicator,
		Responder:   responder,
		MaxTurns:    cfg.Limits.MaxConversationTurns,
		HangupGrace: time.Duration(cfg.Limits.HangupGraceSeconds) * time.Second,
		Port:        port,
		Out:         out,
	})
}

// buildResponder picks the assistant backend. Without an API key the
// static acknowledgement responder keeps intake working.
func buildResponder(cfg *config.Config) respond.Responder {
	if cfg.Responder.APIKey == "" {
		return &respond.StaticResponder{}
	}
	r, err := respond.NewOpenAIResponder(respond.OpenAIOpts{
		APIKey: cfg.Responder.APIKey,
		Model:  cfg.Responder.Model,
	})
	if err != nil {
		return &respond.StaticResponder{}
	}
	return r
}

// buildNotifier connects the configured chat platform for inactivity
// warnings, or returns nil when none is configured.
func buildNotifier(ctx context.Context, cfg *config.Config) (channel.Adapter, error) {
	switch cfg.Notify.Platform {
	case "":
		return nil, nil
	case "slack":
		a, err := slack.New(slack.AdapterOpts{BotToken: cfg.Notify.Slack.BotToken})
		if err != nil {
			return nil, err
		}
		if err := a.Connect(ctx); err != nil {
			return nil, err
		}
		return a, nil
	case "discord":
		a, err := discord.New(discord.AdapterOpts{BotToken: cfg.Notify.Discord.BotToken})
		if err != nil {
			return nil, err
		}
		if err := a.Connect(ctx); err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("notify platform %q is not supported", cfg.Notify.Platform)
	}
}
