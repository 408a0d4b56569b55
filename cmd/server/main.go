package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"product_radar/internal/config"
	"product_radar/internal/ingest"
	"product_radar/internal/logger"
	"product_radar/internal/middleware"
	"product_radar/internal/queue"
	"product_radar/internal/router"
	"product_radar/internal/scoring"
	"product_radar/internal/store"
	"product_radar/internal/validator"
	rediskey "product_radar/pkg/redis"
)

// 同一 request_id 的信号在此时间内只入流一次
const signalDedupeTTL = 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if err := logger.Init(logger.Config{
		Level:        cfg.LogLevel,
		Format:       cfg.LogFormat,
		FileEnabled:  cfg.LogFileEnabled,
		Dir:          cfg.LogDir,
		RotationSize: 100,
		RetentionDay: 14,
		ServiceName:  "product-radar",
	}); err != nil {
		log.Fatal().Err(err).Msg("init logger")
	}

	if err := run(cfg); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("server stopped")
}

// run 组装并运行服务；返回前执行全部 defer（关闭 Kafka、Redis）。
func run(cfg config.AppConfig) error {
	engine, err := scoring.NewEngine(cfg.Weights, cfg.Normalizer)
	if err != nil {
		return fmt.Errorf("scoring engine: %w", err)
	}

	// 1. 连接数据库（默认 SQLite），自动建表
	dialector, err := store.Dialector(cfg.DBDriver, cfg.DataSource())
	if err != nil {
		return fmt.Errorf("db dialector: %w", err)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return fmt.Errorf("db open (%s): %w", cfg.DBDriver, err)
	}

	// 2. Redis 可选：限流、统计缓存、信号 outbox
	var rdb *rd.Client
	if cfg.RedisAddr != "" {
		rdb = rd.NewClient(&rd.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = rdb.Close()
			return fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		defer rdb.Close()
	}
	statsCache := rediskey.NewStatsCache(rdb, cfg.StatsCacheTTL)

	st := store.New(db, engine,
		store.WithRetries(cfg.CASRetries),
		store.WithChangeHook(router.BumpCatalog(statsCache)),
	)
	if err := st.Migrate(); err != nil {
		return fmt.Errorf("db migrate: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	// 3. 选择信号写入链路
	var sink ingest.Sink
	switch cfg.SignalPipeline {
	case config.PipelineStream:
		sink = ingest.NewStreamSink(rdb, cfg.SignalStream, signalDedupeTTL)

		producer := queue.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		relay := queue.NewRelay(rdb, producer, cfg.SignalStream, cfg.SignalGroup, cfg.SignalConsumer,
			queue.WithBatch(int64(cfg.RelayBatch)), queue.WithClaimIdle(cfg.RelayClaimIdle))
		g.Go(func() error {
			relay.Run(gctx)
			return nil
		})

		consumer := queue.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, st)
		defer consumer.Close()
		g.Go(func() error {
			consumer.Run(gctx)
			return nil
		})
	default:
		sink = ingest.NewDirectSink(st)
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Logging("/ping", "/metrics"), middleware.Metrics(), middleware.Recovery())
	router.Setup(r, router.Deps{
		Store:            st,
		Sink:             sink,
		Validator:        validator.New(),
		Redis:            rdb,
		StatsCache:       statsCache,
		SignalRateLimit:  cfg.SignalRateLimit,
		SignalRateWindow: cfg.SignalRateWindow,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Str("pipeline", cfg.SignalPipeline).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
