package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/suPer8Hu/orion-chat/internal/ai"
	"github.com/suPer8Hu/orion-chat/internal/background"
	"github.com/suPer8Hu/orion-chat/internal/chat"
	"github.com/suPer8Hu/orion-chat/internal/config"
	"github.com/suPer8Hu/orion-chat/internal/db"
	"github.com/suPer8Hu/orion-chat/internal/httpapi"
	"github.com/suPer8Hu/orion-chat/internal/httpapi/handlers"
	"github.com/suPer8Hu/orion-chat/internal/logger"
	"github.com/suPer8Hu/orion-chat/internal/models"
	"github.com/suPer8Hu/orion-chat/internal/observability"
	"github.com/suPer8Hu/orion-chat/internal/ratelimit"
	"github.com/suPer8Hu/orion-chat/internal/store/rabbitmq"
)

const shutdownGrace = 20 * time.Second

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if cfg.LogMode == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "orion-api",
		Environment: cfg.GoEnv,
	})

	pool, err := db.Open(db.Options{
		DSN:             cfg.DBDSN,
		MinConns:        cfg.DBMinConns,
		MaxConns:        cfg.DBMaxConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		Verbose:         cfg.LogMode != "prod",
	})
	if err != nil {
		log.Fatal("db open failed", "error", err)
	}
	defer pool.Close()

	if err := pool.Migrate(models.All()...); err != nil {
		log.Fatal("db migrate failed", "error", err)
	}

	reg := newRegistry(cfg)
	titleModel, err := reg.Get(ctx, cfg.AIProvider, cfg.AIModel)
	if err != nil {
		log.Fatal("ai provider init failed", "provider", cfg.AIProvider, "error", err)
	}

	var outbox chat.Outbox
	if cfg.OutboxEnabled {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Fatal("rabbit publisher init failed", "error", err)
		}
		defer pub.Close()
		outbox = pub
		log.Info("turn outbox enabled", "queue", cfg.RabbitQueue)
	}

	launcher := background.NewLauncher(log, cfg.DBCommandTimeout)
	repo := chat.NewRepo(pool.DB())
	pipeline := chat.NewPipeline(repo, launcher, ai.NewTitleGenerator(titleModel), outbox, log)
	chatSvc := chat.NewService(repo, pipeline, reg, cfg.AIProvider, cfg.AIModel, cfg.ChatContextWindowSize)

	limiter, closeLimiter := newLimiter(cfg, pool, log)
	defer closeLimiter()

	h := handlers.NewHandler(pool.DB(), cfg, log, chatSvc, limiter)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(h),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server listening", "addr", cfg.HTTPAddr, "provider", cfg.AIProvider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", "error", err)
		}
		// in-flight persistence finishes before the pool closes
		if err := launcher.Wait(shutdownCtx); err != nil {
			log.Warn("background tasks abandoned at shutdown", "error", err)
		}
		if err := shutdownOTel(shutdownCtx); err != nil {
			log.Warn("otel shutdown", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func newLimiter(cfg config.Config, pool *db.Pool, log *logger.Logger) (ratelimit.Limiter, func()) {
	if cfg.RateLimitBackend != "redis" {
		return ratelimit.NewSQLLimiter(pool.DB(), cfg.AnonymousDailyLimit), func() {}
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	log.Info("anonymous quota backed by redis", "addr", cfg.RedisAddr)
	return ratelimit.NewRedisLimiter(rdb, cfg.AnonymousDailyLimit), func() { _ = rdb.Close() }
}
