// Command leadsync serves the lead-triage dashboard backend: it pulls form
// submissions from the provider, reconciles them with locally-owned workflow
// metadata, mirrors them into the team spreadsheet, and exposes the HTTP API
// the dashboard talks to.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/opsboard/leadsync/internal/config"
	"github.com/opsboard/leadsync/internal/formsource"
	"github.com/opsboard/leadsync/internal/httpapi"
	"github.com/opsboard/leadsync/internal/metastore"
	"github.com/opsboard/leadsync/internal/poller"
	"github.com/opsboard/leadsync/internal/sheetstore"
)

func main() {
	cfgPath := flag.String("config", "", "path to config file (default: leadsync.yaml if present)")
	flag.Parse()

	if err := run(*cfgPath); err != nil {
		fmt.Fprintf(os.Stderr, "leadsync: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	store, err := metastore.FromDSN(cfg.Store.DSN)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	fetcher, err := formsource.NewFetcher(
		formsource.NewHTTPClient(formsource.HTTPClientOptions{BaseURL: cfg.FormSource.BaseURL}),
		formsource.FetcherOptions{
			PageSize: cfg.FormSource.PageSize,
			MaxPages: cfg.FormSource.MaxPages,
			Logger:   logger.Named("fetch"),
		},
	)
	if err != nil {
		return err
	}

	serverCfg := httpapi.ServerConfig{
		AuthToken: cfg.Server.AuthToken,
		FormID:    cfg.FormSource.FormID,
		FormToken: cfg.FormSource.Token,
	}

	var pusher httpapi.SheetPusher
	if cfg.Sheet.Configured() {
		syncer, err := sheetstore.NewSyncer(
			sheetstore.NewHTTPClient(sheetstore.ClientOptions{BaseURL: cfg.Sheet.BaseURL}),
			sheetstore.SyncerOptions{
				Delay:  cfg.Sheet.RowDelay,
				Logger: logger.Named("sheet"),
			},
		)
		if err != nil {
			return err
		}
		pusher = syncer
		serverCfg.SheetCreds = sheetstore.Credentials{
			Token:  cfg.Sheet.Token,
			BaseID: cfg.Sheet.BaseID,
			Table:  cfg.Sheet.Table,
		}
	} else {
		logger.Info("sheet sync disabled, credentials not configured")
	}

	server := httpapi.NewServer(store, fetcher, pusher, serverCfg, logger.Named("http"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eg, egctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return server.Serve(egctx, cfg.Server.Addr, cfg.Server.ShutdownTimeout)
	})

	if cfg.Poller.Enabled && cfg.FormSource.FormID != "" && cfg.FormSource.Token != "" {
		p, err := poller.New(func(ctx context.Context) error {
			_, err := server.RunBackfill(ctx)
			return err
		}, poller.Options{
			Interval: cfg.Poller.Interval,
			Logger:   logger.Named("poll"),
		})
		if err != nil {
			return err
		}
		eg.Go(func() error {
			err := p.Run(egctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	} else if cfg.Poller.Enabled {
		logger.Info("poller disabled, form source not configured")
	}

	err = eg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newLogger(debug bool) (*zap.Logger, error) {
	logCfg := zap.NewProductionConfig()
	if debug {
		logCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		logCfg.Development = true
	}
	return logCfg.Build()
}
