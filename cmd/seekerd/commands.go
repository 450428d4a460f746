package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/KRHero03/linkedin-seeker-assistant/internal/api"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/config"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/logging"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/outreach"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/store"
)

const tokenTTL = 30 * 24 * time.Hour

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the scheduling loop",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		if a.cfg.Server.JWTSecret == "" {
			return errors.New("server.jwt_secret (or SEEKERD_JWT_SECRET) is required to serve")
		}

		srv := &http.Server{
			Addr:              a.cfg.Server.Addr,
			Handler:           api.New(a.svc, api.NewTokens(a.cfg.Server.JWTSecret, tokenTTL), a.log).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return a.svc.Run(gctx) })
		g.Go(func() error {
			a.log.Infow("listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		err = g.Wait()
		a.log.Infow("seekerd stopped")
		return err
	},
}

var runCycleAccount string

var runCycleCmd = &cobra.Command{
	Use:   "run-cycle",
	Short: "Run one scheduling pass for one account or all of them",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		if runCycleAccount != "" {
			report, err := a.svc.RunCycle(cmd.Context(), runCycleAccount)
			if err != nil {
				return err
			}
			return printJSON(report)
		}
		return printJSON(a.svc.RunAll(cmd.Context()))
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Pause conversations without recent recruiter activity",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		n, err := a.svc.SweepStale(cmd.Context())
		if err != nil {
			return err
		}
		a.log.Infow("sweep complete", "paused", n)
		return nil
	},
}

var refillCmd = &cobra.Command{
	Use:   "refill",
	Short: "Top every account up to its credit cap",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		txs, err := a.svc.RefillAll(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(txs)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("config load: %w", err)
		}
		log := logging.New(cfg.Logging.Level)
		st, err := store.Open(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("db open: %w", err)
		}
		defer st.Close()
		if err := st.Migrate(cmd.Context()); err != nil {
			return fmt.Errorf("db migration: %w", err)
		}
		log.Infow("schema up to date", "db_path", cfg.Database.Path)
		return nil
	},
}

var accountName string

var accountCmd = &cobra.Command{
	Use:   "create-account",
	Short: "Create an account and print its API token",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		acct, err := a.svc.CreateAccount(cmd.Context(), outreach.NewAccount{Name: accountName})
		if err != nil {
			return err
		}
		token, err := issueToken(a.cfg, acct.ID)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"account": acct, "token": token})
	},
}

var tokenAccount string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API token for an existing account",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		if _, err := a.svc.Account(tokenAccount); err != nil {
			return err
		}
		token, err := issueToken(a.cfg, tokenAccount)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	runCycleCmd.Flags().StringVar(&runCycleAccount, "account", "", "Account id (default: every account)")
	accountCmd.Flags().StringVar(&accountName, "name", "", "Account display name")
	tokenCmd.Flags().StringVar(&tokenAccount, "account", "", "Account id")
	_ = tokenCmd.MarkFlagRequired("account")
}

func issueToken(cfg *config.Config, accountID string) (string, error) {
	if cfg.Server.JWTSecret == "" {
		return "", errors.New("server.jwt_secret (or SEEKERD_JWT_SECRET) is required to issue tokens")
	}
	return api.NewTokens(cfg.Server.JWTSecret, tokenTTL).Sign(accountID)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
