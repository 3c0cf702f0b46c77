package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"twin-gateway/common/logger"
	"twin-gateway/internal/config"
	"twin-gateway/internal/service"
)

func main() {
	// 1. config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. logger
	zl, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "twin-gateway")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	zl.Info("Starting twin-gateway service",
		zap.String("version", service.Version),
		zap.String("mqtt_broker", cfg.MQTT.Broker),
		zap.String("topic_prefix", cfg.Topics.Prefix),
		zap.String("http_addr", cfg.HTTP.Addr),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. service
	initCtx, initCancel := context.WithTimeout(ctx, 30*time.Second)
	gateway, err := service.NewGatewayService(initCtx, cfg, zl)
	initCancel()
	if err != nil {
		zl.Fatal("Failed to create gateway service", zap.Error(err))
	}

	// 4. start
	if err := gateway.Start(ctx); err != nil {
		zl.Fatal("Failed to start gateway service", zap.Error(err))
	}
	failed := make(chan error, 1)
	go func() { failed <- gateway.Wait() }()

	// 5. wait for a signal or a failed component
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigChan:
		zl.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-failed:
		if err != nil {
			zl.Error("Gateway component failed, shutting down", zap.Error(err))
			exitCode = 1
		}
	}

	// 6. graceful shutdown
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	cancel()
	if err := gateway.Stop(stopCtx); err != nil && exitCode == 0 {
		zl.Error("Error during shutdown", zap.Error(err))
	}

	zl.Info("Service stopped")
	if exitCode != 0 {
		_ = zl.Sync()
		os.Exit(exitCode)
	}
}
