package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"schedcal/internal/config"
	"schedcal/internal/feed"
	appLog "schedcal/internal/log"
	"schedcal/internal/metrics"
	"schedcal/internal/store/sqlstore"
	"schedcal/internal/store/yamlstore"
	"schedcal/internal/web"
)

const version = "0.1.0"

type flagConfig struct {
	configPath string
	listen     string
}

func main() {
	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		appLog.Warn("could not load .env", "error", err)
	}

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("schedcal starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"host", conf.Host,
		"timezone", conf.Timezone,
		"horizon_days", conf.HorizonDays,
		"backfill_days", conf.BackfillDays,
		"max_horizon_days", conf.MaxHorizonDays,
		"max_occurrences_per_schedule", conf.MaxOccurrencesPerSchedule,
		"store_driver", conf.Store.Driver,
		"store_refresh", conf.Store.Refresh,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, conf); err != nil {
		appLog.Error("schedcal failed", err)
		os.Exit(1)
	}
	appLog.Info("schedcal exiting")
}

func run(ctx context.Context, conf *config.Config) error {
	m := metrics.New()

	repo, closeRepo, err := openRepository(ctx, conf, m)
	if err != nil {
		return err
	}
	defer closeRepo()

	svc := feed.NewService(repo, feed.Options{
		Host:                      conf.Host,
		ProductID:                 conf.ProductID,
		MaxOccurrencesPerSchedule: conf.MaxOccurrencesPerSchedule,
		Metrics:                   m,
	})

	srv := &http.Server{
		Addr:              conf.Listen,
		Handler:           web.NewServer(conf, svc, m).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openRepository builds the configured schedule store. The returned func
// releases its resources.
func openRepository(ctx context.Context, conf *config.Config, m *metrics.Metrics) (feed.Repository, func(), error) {
	switch conf.Store.Driver {
	case config.DriverSQLite:
		db, err := sqlstore.Open(conf.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		store := sqlstore.New(db)
		if err := store.CreateSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return store, func() { _ = db.Close() }, nil

	default:
		store := yamlstore.New(conf.Store.Path, yamlstore.NewFetcher(conf.Store.CacheDir, nil), m)
		if err := store.Reload(ctx); err != nil {
			return nil, nil, err
		}
		if conf.Store.Refresh != "" {
			if err := store.Watch(ctx, conf.Store.Refresh); err != nil {
				return nil, nil, err
			}
		}
		return store, func() {}, nil
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	defaultConfig := os.Getenv("SCHEDCAL_CONFIG")
	if defaultConfig == "" {
		defaultConfig = "/etc/schedcal/config.yaml"
	}

	flag.StringVar(&cfg.configPath, "config", defaultConfig, "Path to config file (env SCHEDCAL_CONFIG)")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.Parse()

	return cfg
}
