package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	appjournal "webhook-bridge/internal/application/service/journal"
	"webhook-bridge/internal/config"
	infraevents "webhook-bridge/internal/infrastructure/events"
	infrajournal "webhook-bridge/internal/infrastructure/journal"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadJournal()
	if err != nil {
		logger.Fatalf("config error: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	repo, err := infrajournal.NewRepository(ctx, cfg.Postgres.DSN)
	if err != nil {
		logger.Fatalf("connect postgres: %v", err)
	}
	if err := repo.EnsureSchema(ctx); err != nil {
		logger.Fatalf("prepare journal schema: %v", err)
	}
	journal := appjournal.NewService(repo)
	defer journal.Close()

	consumer, err := infraevents.NewConsumer(cfg.RabbitMQ, journal, logger)
	if err != nil {
		logger.Fatalf("init consumer: %v", err)
	}
	if err := consumer.Start(ctx); err != nil {
		logger.Fatalf("start consumer: %v", err)
	}

	logger.WithFields(logrus.Fields{
		"exchange":   cfg.RabbitMQ.Exchange,
		"batch_size": cfg.RabbitMQ.BatchSize,
	}).Info("trade journal started")

	<-ctx.Done()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer closeCancel()
	if err := consumer.Close(closeCtx); err != nil {
		logger.Errorf("flush pending events: %v", err)
	}
	logger.Info("trade journal stopped")
}
