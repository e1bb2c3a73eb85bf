package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"rollcall/internal/attendance"
	"rollcall/internal/config"
	"rollcall/internal/logging"
	"rollcall/internal/queue"
	"rollcall/internal/report"
	"rollcall/internal/store"
)

// Worker consumes session.completed events and refreshes cached reports.
func main() {
	cfg := config.Load()
	logging.Setup(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile, NoColor: cfg.Production()})

	if cfg.QueueBackend == "memory" {
		logrus.Fatal("worker needs QUEUE_BACKEND=redis; the memory queue is consumed by the api process")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		logrus.WithError(err).Fatal("db connect failed")
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		logrus.WithField("addr", cfg.RedisAddr).Warn("redis not reachable yet, will keep retrying")
	}

	q := queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	repo := attendance.NewRepository(db.Client)
	reports := report.NewBuilder(repo, report.NewRedisCache(redisClient.Client), cfg.ReportCacheTTL)

	messages, err := q.Consume(ctx)
	if err != nil {
		logrus.WithError(err).Fatal("queue consume init failed")
	}

	logrus.WithField("queue", cfg.QueueKey).Info("worker started, waiting for messages")
	n := reports.Consume(ctx, messages)
	logrus.WithField("refreshed", n).Info("worker stopped")
}
