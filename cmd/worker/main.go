package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robfig/cron/v3"

	"github.com/suPer8Hu/orion-chat/internal/chat"
	"github.com/suPer8Hu/orion-chat/internal/config"
	"github.com/suPer8Hu/orion-chat/internal/db"
	"github.com/suPer8Hu/orion-chat/internal/logger"
	"github.com/suPer8Hu/orion-chat/internal/models"
	"github.com/suPer8Hu/orion-chat/internal/store/rabbitmq"
)

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log = log.With("component", "worker")

	pool, err := db.Open(db.Options{
		DSN:             cfg.DBDSN,
		MinConns:        cfg.DBMinConns,
		MaxConns:        cfg.DBMaxConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		log.Fatal("db open failed", "error", err)
	}
	defer pool.Close()
	if err := pool.Migrate(models.All()...); err != nil {
		log.Fatal("db migrate failed", "error", err)
	}

	repo := chat.NewRepo(pool.DB())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// stale turn reaper
	reaper := cron.New()
	if _, err := reaper.AddFunc(cfg.ReapSchedule, func() {
		rctx, cancel := context.WithTimeout(ctx, cfg.DBCommandTimeout)
		defer cancel()
		n, err := repo.ReapStaleTurns(rctx, cfg.TurnStaleAfter)
		if err != nil {
			log.Error("reap stale turns failed", "error", err)
			return
		}
		if n > 0 {
			log.Info("reaped stale turns", "count", n, "older_than", cfg.TurnStaleAfter.String())
		}
	}); err != nil {
		log.Fatal("bad reap schedule", "schedule", cfg.ReapSchedule, "error", err)
	}
	reaper.Start()
	defer func() { <-reaper.Stop().Done() }()

	if !cfg.OutboxEnabled {
		log.Info("outbox disabled, running reaper only", "schedule", cfg.ReapSchedule)
		<-ctx.Done()
		return
	}

	retrier, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatal("rabbit publisher init failed", "error", err)
	}
	defer retrier.Close()

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatal("rabbit dial failed", "error", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatal("rabbit channel failed", "error", err)
	}
	defer ch.Close()

	if err := rabbitmq.DeclareQueues(ch, cfg.RabbitQueue); err != nil {
		log.Fatal("queue declare failed", "error", err)
	}

	//  strict concurrency control
	concurrency := workerConcurrency()

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatal("qos failed", "error", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatal("consume failed", "error", err)
	}

	log.Info("worker started", "queue", cfg.RabbitQueue, "concurrency", concurrency, "schedule", cfg.ReapSchedule)

	consumer := rabbitmq.NewConsumer(repo, retrier, log)

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				hctx, cancel := context.WithTimeout(context.Background(), cfg.DBCommandTimeout)
				outcome := consumer.Handle(hctx, d)
				cancel()
				log.Debug("delivery settled", "worker", workerID, "message_id", d.MessageId, "outcome", string(outcome))
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				// broker went away; wait for shutdown
				log.Warn("delivery channel closed")
				msgs = nil
				continue
			}
			jobs <- d
		}
	}
}
