package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/explain"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/observability"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/predictor"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// components are the long-lived pieces assembled from the configuration.
type components struct {
	artifacts domain.ArtifactStore
	cache     domain.Cache
	bus       domain.EventBus
	explainer *explain.Explainer
	svc       *pipeline.Service
}

func (c *components) Close() {
	if c.bus != nil {
		c.bus.Close()
	}
	if c.cache != nil {
		c.cache.Close()
	}
	if c.artifacts != nil {
		c.artifacts.Close()
	}
}

// build assembles the scoring pipeline. A missing or broken model is not
// fatal: the predictor then answers every call with ErrModelUnavailable.
func build(ctx context.Context, cfg *domain.Config, store domain.Cache, bus domain.EventBus) (*components, error) {
	artifacts, err := repository.New(ctx, cfg.Repository)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize artifact store: %w", err)
	}
	slog.Info("artifact store initialized", "driver", cfg.Repository.Driver)

	engine, err := rules.NewDefaultEngine()
	if err != nil {
		artifacts.Close()
		return nil, fmt.Errorf("failed to initialize rule engine: %w", err)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	bundle, err := model.Load(ctx, artifacts, cfg.Model)
	if err != nil {
		slog.Error("model not loaded", "error", err)
		bundle = nil
	}
	p := predictor.FromBundle(bundle, engine, decision.NewProcessor(cfg.Model.Threshold))

	explainer := explain.New(p, explain.Options{
		ReferenceSize: cfg.Explainer.ReferenceSize,
		NumSamples:    cfg.Explainer.NumSamples,
		NumFeatures:   cfg.Explainer.NumFeatures,
		Seed:          cfg.Explainer.Seed,
	})

	metrics := observability.NewMetrics()
	metrics.WatchReferenceBuilds(explainer.ReferenceBuilds)

	svc, err := pipeline.New(pipeline.Config{
		Predictor:            p,
		Explainer:            explainer,
		Store:                cache.NewStore(store, cfg.Cache.PredictionTTL),
		Bus:                  bus,
		Metrics:              metrics,
		MaxConcurrentRenders: cfg.Report.MaxConcurrent,
		RenderTimeout:        cfg.Report.Timeout,
	})
	if err != nil {
		artifacts.Close()
		return nil, err
	}

	return &components{
		artifacts: artifacts,
		cache:     store,
		bus:       bus,
		explainer: explainer,
		svc:       svc,
	}, nil
}

// readApplication reads a JSON application from path, or stdin for "-".
func readApplication(path string, stdin io.Reader) (*domain.Application, error) {
	var data []byte
	var err error
	if path == "" || path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	return domain.ParseApplication(data)
}
