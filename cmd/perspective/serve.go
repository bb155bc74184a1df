package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fundlens/perspective/internal/config"
	"github.com/fundlens/perspective/internal/engine"
	httpapi "github.com/fundlens/perspective/internal/interfaces/http"
	"github.com/fundlens/perspective/internal/metrics"
	"github.com/fundlens/perspective/internal/persistence"
	"github.com/fundlens/perspective/internal/persistence/postgres"
	"github.com/fundlens/perspective/internal/perspective"
	"github.com/fundlens/perspective/internal/refdata"
)

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the perspective HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(cmd)
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the service config file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)

	var extra []perspective.Modifier
	if cfg.ModifierFile != "" {
		extra, err = config.LoadModifiers(cfg.ModifierFile)
		if err != nil {
			return err
		}
		log.Info().Int("count", len(extra)).Str("file", cfg.ModifierFile).
			Msg("loaded extra modifiers")
	}

	perspCfg, err := engine.Load(ctx, postgres.NewPerspectiveSource(db, cfg.Postgres.QueryTimeout), extra...)
	if err != nil {
		return err
	}
	log.Info().Ints("perspectives", perspCfg.PerspectiveIDs()).Msg("perspective configuration loaded")

	var refSrc persistence.ReferenceSource = postgres.NewReferenceSource(db, cfg.Postgres.QueryTimeout)
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		refSrc = refdata.NewCachedSource(refSrc, rdb, cfg.Redis.TTL)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("reference cache enabled")
	}
	fetcher := refdata.NewFetcher(refSrc, refdata.FetcherConfig{
		MaxRequests:         cfg.Fetcher.BreakerMaxRequests,
		Interval:            cfg.Fetcher.BreakerInterval,
		Timeout:             cfg.Fetcher.BreakerTimeout,
		ConsecutiveFailures: cfg.Fetcher.ConsecutiveFailures,
		RatePerSecond:       cfg.Fetcher.RatePerSecond,
		Burst:               cfg.Fetcher.Burst,
	})

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	metricsReg := metrics.NewRegistry()
	if err := metricsReg.Register(promReg); err != nil {
		return err
	}

	e := engine.New(perspCfg, fetcher, metricsReg)
	srv := httpapi.NewServer(httpapi.ServerConfig{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		RequestTimeout: cfg.Server.RequestTimeout,
	}, e, promReg)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
