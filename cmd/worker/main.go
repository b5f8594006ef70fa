package main

import (
	"context"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/unitick/go-settlement.git/internal/config"
	kafkax "github.com/unitick/go-settlement.git/internal/kafka"
	"github.com/unitick/go-settlement.git/internal/notify"
	"github.com/unitick/go-settlement.git/internal/orders"
	"github.com/unitick/go-settlement.git/internal/postgres"
	"github.com/unitick/go-settlement.git/internal/redisx"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"
)

func mustAtoi(s, def string) int {
	if s == "" {
		s = def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 1
	}
	return i
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.ServiceName+"-notify").Logger()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PGMaxConns, cfg.PGMinConns)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Service
	svc := &notify.Service{
		Store:       &orders.NotificationRepo{DB: db},
		Dedup:       &redisx.Deduper{RDB: rdb, Service: "notify"},
		ServiceName: cfg.ServiceName + "-notify",
		Log:         logger,
	}

	// Consumer
	group := getenv("NOTIFY_GROUP", "notify-svc")
	workers := mustAtoi(os.Getenv("NOTIFY_WORKERS"), "8")
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, orders.TopicSettlementCompleted, workers, logger)

	go func() {
		log.Printf("notify consumer started: group=%s topic=%s workers=%d", group, orders.TopicSettlementCompleted, workers)
		if err := cons.Start(ctx, svc.HandleSettlementCompleted); err != nil {
			log.Printf("consumer exit: %v", err)
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down consumer...")
	cancel()
	time.Sleep(500 * time.Millisecond)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
