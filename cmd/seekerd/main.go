package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/KRHero03/linkedin-seeker-assistant/internal/config"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/conversation"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/logging"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/outreach"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/store"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/transport"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "seekerd",
	Short: "Outreach orchestration engine for job seekers",
	Long: `seekerd schedules connection requests to recruiters, meters them against
per-account credits, routes replies through the autonomy policy and promotes
promising conversations to leads.

Examples:
  seekerd --config config.yaml migrate
  seekerd serve
  seekerd run-cycle --account 6f1c...`,
	SilenceUsage: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "Path to config file")
	rootCmd.AddCommand(serveCmd, runCycleCmd, sweepCmd, refillCmd, migrateCmd, accountCmd, tokenCmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "seekerd: %v\n", err)
		os.Exit(1)
	}
}

// app is the loaded runtime shared by every command.
type app struct {
	cfg *config.Config
	log *logging.Logger
	st  *store.Store
	svc *outreach.Service
}

func (a *app) Close() {
	_ = a.log.Sync()
	a.st.Close()
}

// bootstrap loads config, opens and migrates the store and restores the
// service from it.
func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	log := logging.New(cfg.Logging.Level)
	log.Infow("config loaded", "db_path", cfg.Database.Path, "log_level", cfg.Logging.Level)

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("db migration: %w", err)
	}
	snap, err := st.Load(ctx)
	if err != nil {
		st.Close()
		return nil, err
	}

	svc := outreach.New(cfg, st, transport.NewLog(log),
		outreach.WithClassifier(conversation.Neutral{}),
		outreach.WithLogger(log),
	)
	if err := svc.Restore(snap); err != nil {
		st.Close()
		return nil, err
	}
	return &app{cfg: cfg, log: log, st: st, svc: svc}, nil
}
