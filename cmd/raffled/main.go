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

	"raffle/internal/blockchain"
	"raffle/internal/config"
	"raffle/internal/entropy"
	"raffle/internal/handlers"
	"raffle/internal/logger"
	"raffle/internal/metrics"
	"raffle/internal/raffle"
	"raffle/internal/settlement"
	"raffle/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Initialize(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		logger.Fatal("raffled: stopped with error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config) error {
	store, err := storage.NewSqliteStorage(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	var source raffle.EntropySource
	var feed *entropy.MemoryFeed
	switch cfg.EntropySource {
	case config.BeaconEntropy:
		public, err := entropy.ParsePublicKey(cfg.BeaconPublicKey)
		if err != nil {
			return err
		}
		feed = entropy.NewMemoryFeed(public)
		source = entropy.NewBeacon(public, feed, cfg.BeaconWait)
	case config.ClockEntropy:
		logger.Warn("raffled: clock entropy is predictable, use it for development only")
		source = entropy.NewClock()
	}

	service := raffle.New(
		raffle.Platform{
			Authority:  cfg.PlatformAuthority,
			FeeAccount: cfg.PlatformFeeAccount,
			Escrow:     cfg.RaffleAddress,
		},
		store,
		source,
		raffle.WithMetrics(m),
	)

	router := gin.New()
	router.Use(gin.Recovery(), handlers.RequestLogger())
	handlers.NewHTTPHandler(service, feed, registry).RegisterRoutes(router)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var settler *settlement.Settler
	if cfg.WalletMnemonic != "" {
		sender, err := blockchain.NewWalletSender(cfg.WalletMnemonic, cfg.WalletVersion)
		if err != nil {
			return err
		}
		tracker, err := blockchain.NewPayoutTracker(cfg.TonapiToken, sender.Address())
		if err != nil {
			return err
		}
		settler = settlement.NewSettler(store, sender, m, cfg.SettlementInterval, cfg.SettlementBatch,
			settlement.WithVerifier(tracker),
			settlement.WithInFlightExpiry(cfg.SettlementInFlightExpiry),
		)
	} else {
		logger.Warn("raffled: WALLET_MNEMONIC is empty, payouts stay pending")
	}

	errCh := make(chan error, 1)

	go func() {
		logger.Info("raffled: http server listening", zap.String("address", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	settleCtx, stopSettlement := context.WithCancel(ctx)
	defer stopSettlement()

	settled := make(chan struct{})
	if settler != nil {
		go func() {
			defer close(settled)
			settler.Run(settleCtx)
		}()
	} else {
		close(settled)
	}

	select {
	case err := <-errCh:
		stopSettlement()
		<-settled
		return err
	case <-waitForInterrupt():
		logger.Info("raffled: interrupt received, shutting down")
	case <-ctx.Done():
	}

	stopSettlement()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}

	<-settled
	logger.Info("raffled: stopped")
	return nil
}

func waitForInterrupt() <-chan os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	return sigCh
}
