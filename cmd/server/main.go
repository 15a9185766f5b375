package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/LingByte/LingMediaBridge/cmd/bootstrap"
	"github.com/LingByte/LingMediaBridge/pkg/bridge"
	"github.com/LingByte/LingMediaBridge/pkg/config"
	"github.com/LingByte/LingMediaBridge/pkg/constants"
	"github.com/LingByte/LingMediaBridge/pkg/devices"
	"github.com/LingByte/LingMediaBridge/pkg/logger"
	"github.com/LingByte/LingMediaBridge/pkg/metrics"
	"github.com/LingByte/LingMediaBridge/pkg/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	// 1. Parse Command Line Parameters
	mode := flag.String("mode", "", "running environment (development, test, production)")
	addr := flag.String("addr", "", "listen address, overrides ADDR")
	bridgeMode := flag.String("bridge", "", "bridge mode (live, buffered), overrides BRIDGE_MODE")
	flag.Parse()
	if *mode != "" {
		os.Setenv(constants.ENV_MODE, *mode)
	}
	if *addr != "" {
		os.Setenv(constants.ENV_ADDR, *addr)
	}
	if *bridgeMode != "" {
		os.Setenv(constants.ENV_BRIDGE_MODE, *bridgeMode)
	}
	// 2. Load Global Configuration
	if err := config.Load(); err != nil {
		panic("config load failed: " + err.Error())
	}
	cfg := config.GlobalConfig
	// 3. Load Log Configuration
	if err := logger.Init(&cfg.Log, cfg.Mode); err != nil {
		panic(err)
	}
	defer logger.Sync()
	// 4. Print Banner
	if err := bootstrap.PrintBannerFromFile("banner.txt", constants.ServerName); err != nil {
		log.Fatalf("unload banner: %v", err)
	}
	// 5. Print Configuration
	bootstrap.LogConfigInfo()
	opts := cfg.BridgeOptions()
	if opts.Mode == bridge.ModeLive || cfg.Replay.Playback {
		bootstrap.LogAudioDevices()
	}

	// 6. Metrics
	var (
		collector *metrics.Collector
		gatherer  prometheus.Gatherer
	)
	if cfg.Server.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		collector = metrics.New(reg)
		gatherer = reg
	}

	// 7. New Server
	srv := server.New(server.Options{
		Addr:      cfg.Server.Addr,
		MediaPath: cfg.Server.MediaPath,
		Bridge:    opts,
		Conn:      cfg.ConnOptions(),
		Metrics:   collector,
		Gatherer:  gatherer,
	}, devices.NewEndpoints(cfg.DeviceConfig(), logger.Lg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("media bridge server failed", zap.Error(err))
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("shutdown requested, closing sessions")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("shutdown incomplete", zap.Error(err))
		}
		logger.Info("media bridge stopped")
	}
}
