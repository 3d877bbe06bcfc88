package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/agrc/broadband-speedtest-skid/internal/bucket"
	"github.com/agrc/broadband-speedtest-skid/internal/census"
	"github.com/agrc/broadband-speedtest-skid/internal/config"
	"github.com/agrc/broadband-speedtest-skid/internal/fetcher"
	"github.com/agrc/broadband-speedtest-skid/internal/jitter"
	"github.com/agrc/broadband-speedtest-skid/internal/notify"
	"github.com/agrc/broadband-speedtest-skid/internal/pipeline"
	"github.com/agrc/broadband-speedtest-skid/internal/projection"
	"github.com/agrc/broadband-speedtest-skid/internal/speedtest"
	"github.com/agrc/broadband-speedtest-skid/internal/store"
	"github.com/agrc/broadband-speedtest-skid/pkg/featurelayer"
)

// pipelineEnv bundles the wired pipeline with the resources it owns.
type pipelineEnv struct {
	Pipeline *pipeline.Pipeline
	Store    *store.SQLiteStore
}

func (e *pipelineEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens and migrates the run-history database.
func initStore(ctx context.Context) (*store.SQLiteStore, error) {
	runStore, err := store.NewSQLite(cfg.Store.Path)
	if err != nil {
		return nil, eris.Wrap(err, "init: store")
	}
	if err := runStore.Migrate(ctx); err != nil {
		runStore.Close()
		return nil, eris.Wrap(err, "init: migrate store")
	}
	return runStore, nil
}

// initPipeline loads secrets and wires every client into a ready pipeline.
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	secrets, err := config.LoadSecrets()
	if err != nil {
		return nil, eris.Wrap(err, "init: secrets")
	}

	runStore, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	httpFetcher := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		RateLimiters: fetcher.DefaultRateLimiters(),
	})

	speedtestClient := speedtest.New(
		cfg.Speedtest.BaseURL,
		httpFetcher,
		bucket.H3Keyer{},
		bucket.DefaultResolutions,
		logger,
	)
	censusClient := census.New(cfg.Census.BaseURL, cfg.Census.Params, httpFetcher, logger)
	features := featurelayer.New(cfg.AGOL.OrgURL, secrets.AGOLUser, secrets.AGOLPassword,
		featurelayer.WithLogger(logger))
	notifier := notify.NewSendGrid(secrets.SendGridAPIKey, cfg.Notify.From, cfg.Notify.To,
		notify.WithLogger(logger))

	p := pipeline.New(
		cfg,
		speedtestClient,
		censusClient,
		features,
		notifier,
		projection.NewUTMZone12(),
		jitter.New(nil),
		runStore,
		nil,
		logger,
	)

	return &pipelineEnv{Pipeline: p, Store: runStore}, nil
}
