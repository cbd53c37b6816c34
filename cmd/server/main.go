package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/richardliu001/deferred-wallet/internal/config"
	"github.com/richardliu001/deferred-wallet/internal/logger"
	"github.com/richardliu001/deferred-wallet/internal/metrics"
	"github.com/richardliu001/deferred-wallet/internal/repo"
	"github.com/richardliu001/deferred-wallet/internal/scheduler"
	"github.com/richardliu001/deferred-wallet/internal/service"
	"github.com/richardliu001/deferred-wallet/internal/settlement"
	httptransport "github.com/richardliu001/deferred-wallet/internal/transport/http"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	// 1. load config
	cfg, err := config.Load(config.Path())
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	// 3. postgres
	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true, TranslateError: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}

	// 4. redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}

	// 5. kafka writer
	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	defer kw.Close()

	// 6. repo, migrations, metrics
	repository := repo.NewRepository(gdb, rdb, kw, log)
	if err := repository.Migrate(); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Fatalf("register metrics: %v", err)
	}

	// 7. settlement client, scheduler & services
	client, err := settlement.FromConfig(cfg.Settlement, log)
	if err != nil {
		log.Fatalf("settlement client: %v", err)
	}
	sched := scheduler.New(repo.NewJobStore(gdb), log)
	wallets := service.NewWalletService(repository, log, service.WithSuccessStatus(cfg.Settlement.SuccessStatus))
	svc := httptransport.Services{
		Users:   service.NewUserService(repository, log),
		Wallets: wallets,
		Transactions: service.NewTransactionService(repository, wallets, client, sched, log,
			service.WithDefaultWithdrawDelay(cfg.Scheduler.DefaultWithdrawDelay)),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// handlers are registered above, so persisted withdrawals can be restored
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("start scheduler: %v", err)
	}

	// 8. serve
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           httptransport.NewRouter(svc, cfg.RateLimit, log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infof("wallet-server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("listen: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("http shutdown: %v", err)
	}
	sched.Stop()
	log.Info("wallet-server stopped")
}
