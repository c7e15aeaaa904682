// Command animerec 是动漫混合推荐服务。
//
//	animerec serve   -config config.yaml   启动 HTTP 服务（配置了 Kafka 时同时消费评分事件）
//	animerec train   -config config.yaml   训练模型并输出训练报告
//	animerec map-ids -config config.yaml   用外部数据集标题构建 ID 映射
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rushteam/animerec/config"
	"github.com/rushteam/animerec/dataset"
	"github.com/rushteam/animerec/feedback"
	"github.com/rushteam/animerec/mapping"
	"github.com/rushteam/animerec/model"
	"github.com/rushteam/animerec/server"
)

const usage = `usage: animerec <serve|train|map-ids> [-config path]`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	cmd := args[0]
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file (yaml)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	var handler func(context.Context, *app, io.Writer) error
	switch cmd {
	case "serve":
		handler = serve
	case "train":
		handler = train
	case "map-ids":
		handler = mapIDs
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return handler(ctx, a, stdout)
}

func serve(ctx context.Context, a *app, _ io.Writer) error {
	cfg := a.cfg
	opts := []server.Option{
		server.WithGatherer(a.registry),
		server.WithLogger(a.logger),
	}

	g, ctx := errgroup.WithContext(ctx)
	if len(cfg.Kafka.Brokers) > 0 {
		pub, err := feedback.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return err
		}
		defer pub.Close()
		opts = append(opts, server.WithPublisher(pub))

		handler := feedback.NewHandler(a.engine,
			feedback.WithHandlerLogger(a.logger),
			feedback.WithHandlerMetrics(a.metrics))
		consumer, err := feedback.NewKafkaConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.Topic, handler,
			feedback.WithConsumerLogger(a.logger))
		if err != nil {
			return err
		}
		defer consumer.Close()
		g.Go(func() error { return consumer.Run(ctx) })
		a.logger.Info("consuming rating events", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.New(a.engine, opts...).Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	g.Go(func() error {
		a.logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func train(ctx context.Context, a *app, stdout io.Writer) error {
	report, err := a.engine.Train(ctx)
	if report != nil {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(report); encErr != nil {
			return encErr
		}
	}
	return err
}

func mapIDs(ctx context.Context, a *app, stdout io.Writer) error {
	path := a.cfg.Dataset.AnimeCSV
	if path == "" {
		return errors.New("map-ids: dataset.anime_csv is not configured")
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	external, err := dataset.ReadItems(f)
	if err != nil {
		return err
	}
	local, err := a.repo.ListItems(ctx, nil)
	if err != nil {
		return fmt.Errorf("list catalog: %w", err)
	}

	m, report := mapping.Build(external, local, a.cfg.Dataset.MappingThreshold)
	if err := model.SaveMapping(ctx, a.blobs, m); err != nil {
		return err
	}
	a.logger.Info("id mapping saved",
		zap.Int("pairs", m.Len()),
		zap.Int("exact", report.Exact),
		zap.Int("fuzzy", report.Fuzzy),
		zap.Int("unmatched", report.Unmatched))
	return json.NewEncoder(stdout).Encode(report)
}
