package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/rushteam/animerec/cache"
	"github.com/rushteam/animerec/config"
	"github.com/rushteam/animerec/core"
	"github.com/rushteam/animerec/dataset"
	"github.com/rushteam/animerec/engine"
	"github.com/rushteam/animerec/filter"
	"github.com/rushteam/animerec/metrics"
	"github.com/rushteam/animerec/model"
	"github.com/rushteam/animerec/pkg/logger"
	"github.com/rushteam/animerec/repository"
)

// app 持有按配置组装好的全部组件。
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	repo     core.Repository
	blobs    core.BlobStore
	engine   *engine.Engine
	closers  []func() error
	closeLog func() error
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	log, closeLog, err := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		return nil, err
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a := &app{cfg: cfg, logger: log, registry: reg, metrics: metrics.New(reg), closeLog: closeLog}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if a.repo, err = a.openRepository(ctx); err != nil {
		return nil, err
	}

	blobs, closeBlobs, err := config.OpenBlobStore(cfg)
	if err != nil {
		return nil, err
	}
	a.blobs = blobs
	a.closers = append(a.closers, closeBlobs)

	filters, err := config.CatalogFilters(cfg)
	if err != nil {
		return nil, err
	}
	itemFilter := filter.Chain(ctx, filters...)

	ds := model.NewDualSource(blobs, a.repo, a.repo,
		model.WithDualSourceLogger(log),
		model.WithWeightFloor(cfg.Models.WeightFloor),
		model.WithCandidatePool(cfg.Models.CandidatePool),
		model.WithItemFilter(itemFilter))
	if err := ds.Reload(ctx); err != nil {
		// 损坏的部分视为不可用，其余照常服务
		log.Warn("model reload incomplete", zap.Error(err))
	}

	opts := []engine.Option{
		engine.WithLogger(log),
		engine.WithMetrics(a.metrics),
		engine.WithModel(ds),
		engine.WithTrainer(a.newTrainer()),
		engine.WithCatalogFilter(itemFilter),
		engine.WithAdapterStep(cfg.Models.AdapterStep),
		engine.WithHybridWeights(engine.HybridWeights{
			CF:             cfg.Hybrid.CF,
			Content:        cfg.Hybrid.Content,
			ML:             cfg.Hybrid.ML,
			CFNoModel:      cfg.Hybrid.CFNoModel,
			ContentNoModel: cfg.Hybrid.ContentNoModel,
		}),
		engine.WithRecallParams(engine.RecallParams{
			CFMinInteractions: cfg.Recall.CFMinInteractions,
			CFMaxNeighbors:    cfg.Recall.CFMaxNeighbors,
			ContentMinSignals: cfg.Recall.ContentMinSignals,
			Timeout:           cfg.Recall.Timeout,
			FailureThreshold:  cfg.Recall.FailureThreshold,
		}),
	}
	if cfg.Cache.Enabled {
		st, err := config.OpenStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, st.Close)
		opts = append(opts, engine.WithCache(cache.New(st, cache.WithTTL(cfg.Cache.TTL), cache.WithLogger(log))))
	}

	if a.engine, err = engine.New(a.repo, opts...); err != nil {
		return nil, err
	}
	return a, nil
}

// openRepository 配置了 DSN 时使用 Postgres，否则使用内存仓库（仅用于本地试跑）。
func (a *app) openRepository(ctx context.Context) (core.Repository, error) {
	if a.cfg.Database.DSN == "" {
		a.logger.Warn("no database dsn configured, using in-memory repository")
		return repository.NewMemoryRepository(), nil
	}
	db, err := repository.Connect(ctx, a.cfg.Database.DSN, a.cfg.Database.MaxConns)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, sqlDB.Close)

	pg := repository.NewPostgres(db)
	if err := pg.Migrate(ctx); err != nil {
		return nil, err
	}
	return pg, nil
}

func (a *app) newTrainer() *model.Trainer {
	cfg := a.cfg
	opts := []model.TrainerOption{
		model.WithGBDTParams(cfg.Models.GBDT.GBDTParams()),
		model.WithMinTrainingSamples(cfg.Models.MinTrainingSamples),
		model.WithTrainWeightFloor(cfg.Models.WeightFloor),
		model.WithTrainSeed(cfg.Models.Seed),
		model.WithTrainerLogger(a.logger),
		model.WithReportHook(func(r model.TrainReport) {
			a.logger.Info("training report",
				zap.String("run_id", r.RunID),
				zap.Duration("duration", r.Duration),
				zap.Bool("local_trained", r.Local.Trained),
				zap.Float64("local_rmse", r.Local.RMSE),
				zap.Bool("external_trained", r.External.Trained),
				zap.Float64("external_rmse", r.External.RMSE),
				zap.Float64("local_weight", r.Weights.Local),
				zap.Float64("external_weight", r.Weights.External))
		}),
	}
	if cfg.Dataset.AnimeCSV != "" && cfg.Dataset.RatingCSV != "" {
		opts = append(opts, model.WithExternalSource(func(ctx context.Context) (core.ExternalDataset, error) {
			return dataset.LoadCSV(cfg.Dataset.AnimeCSV, cfg.Dataset.RatingCSV)
		}))
	}
	return model.NewTrainer(a.repo, a.blobs, cfg.Models.LockDir, opts...)
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	// 日志最后关闭，前面的 closer 还可能写日志
	if a.closeLog != nil {
		if err := a.closeLog(); err != nil {
			errs = append(errs, err)
		}
		a.closeLog = nil
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close app: %w", err)
	}
	return nil
}
