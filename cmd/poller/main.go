package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/richardliu001/deferred-wallet/internal/config"
	"github.com/richardliu001/deferred-wallet/internal/logger"
	"github.com/richardliu001/deferred-wallet/internal/repo"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	log, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}

	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	defer kw.Close()

	// the relay never touches the balance cache
	repository := repo.NewRepository(gdb, nil, kw, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(cfg.Outbox.Interval)
	defer ticker.Stop()

	log.Info("wallet-poller started")
	for {
		select {
		case <-ctx.Done():
			log.Info("wallet-poller stopped")
			return
		case <-ticker.C:
			relay(ctx, repository, cfg.Outbox.Batch, log)
		}
	}
}

// relay publishes one batch of outbox rows. A row is marked processed only
// after kafka accepted it, so delivery is at-least-once.
func relay(ctx context.Context, r *repo.Repository, batch int, log *zap.SugaredLogger) {
	events, err := r.PollOutbox(ctx, batch)
	if err != nil {
		log.Errorf("poll outbox: %v", err)
		return
	}
	for _, evt := range events {
		if err := r.PublishEvent(ctx, evt); err != nil {
			log.Errorf("publish id=%d: %v", evt.ID, err)
			continue
		}
		if err := r.MarkOutboxProcessed(ctx, evt.ID); err != nil {
			log.Errorf("mark processed id=%d: %v", evt.ID, err)
		} else {
			log.Infow("event sent", "outbox_id", evt.ID, "type", evt.EventType, "transaction_id", evt.AggregateID)
		}
	}
}
