package main

import (
	"context"
	"encoding/hex"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/unitick/go-settlement.git/internal/chain"
	"github.com/unitick/go-settlement.git/internal/config"
	"github.com/unitick/go-settlement.git/internal/httpx"
	kafkax "github.com/unitick/go-settlement.git/internal/kafka"
	"github.com/unitick/go-settlement.git/internal/orders"
	"github.com/unitick/go-settlement.git/internal/postgres"
	"github.com/unitick/go-settlement.git/internal/redisx"
	"github.com/unitick/go-settlement.git/internal/settlement"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.ServiceName).Logger()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PGMaxConns, cfg.PGMinConns)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producers: one topic per outcome
	completed := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicSettlementCompleted, 1024, logger)
	completed.Start(ctx)
	failed := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicSettlementFailed, 1024, logger)
	failed.Start(ctx)

	// Chain clients: high-level for settlement, raw RPC for verification
	eth, err := ethclient.Dial(cfg.Chain.RPCURL)
	if err != nil {
		log.Fatalf("eth dial: %v", err)
	}
	defer eth.Close()
	rpcClient, err := rpc.Dial(cfg.Chain.RPCURL)
	if err != nil {
		log.Fatalf("rpc dial: %v", err)
	}
	defer rpcClient.Close()

	chainClient, err := chain.New(eth, cfg.Chain)
	if err != nil {
		log.Fatalf("chain client: %v", err)
	}

	masterKey, err := hex.DecodeString(cfg.WalletMasterKey)
	if err != nil || len(masterKey) != 32 {
		log.Fatalf("WALLET_MASTER_KEY must be 32 bytes hex")
	}
	resolver, err := chain.NewWalletResolver(&orders.WalletRepo{DB: db}, masterKey)
	if err != nil {
		log.Fatalf("wallet resolver: %v", err)
	}

	repo := &orders.Repo{DB: db}
	svc := &settlement.Service{
		Store:         repo,
		Wallets:       resolver,
		Validator:     &settlement.Validator{Chain: chainClient, MinGasWei: chainClient.MinGasBalance()},
		Whitelister:   &settlement.Whitelister{Chain: chainClient, Log: logger},
		Submitter:     &settlement.Submitter{Chain: chainClient, Log: logger},
		Reconciler:    &settlement.Reconciler{Chain: chainClient, Log: logger},
		Completed:     completed,
		Failed:        failed,
		ServiceName:   cfg.ServiceName,
		TokenDecimals: cfg.Chain.TokenDecimals,
		ContractAddr:  cfg.Chain.ContractAddr,
		Log:           logger,
	}
	verifier := &settlement.Verifier{
		RPC:         rpcClient,
		Store:       repo,
		Notify:      completed,
		Contract:    chainClient.ContractAddress(),
		ServiceName: cfg.ServiceName,
		Log:         logger,
	}

	router := httpx.NewRouter()
	oh := &httpx.OrdersHandler{
		Settler:  svc,
		Verifier: verifier,
		Repo:     repo,
		Chain:    chainClient,
		Redis:    rdb,
	}
	oh.Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	// graceful shutdown
	go func() {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	completed.Close() // close inbox -> flush & close writer
	failed.Close()
	completed.WaitClosed()
	failed.WaitClosed()
}
