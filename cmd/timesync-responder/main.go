// ABOUTME: Entry point for the time sync publisher
// ABOUTME: Answers UDP time probes and serves the websocket control endpoint
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/morningf/liblsl/internal/config"
	"github.com/morningf/liblsl/internal/discovery"
	"github.com/morningf/liblsl/internal/logging"
	"github.com/morningf/liblsl/internal/responder"
	"github.com/morningf/liblsl/internal/version"
	"github.com/morningf/liblsl/pkg/timesync"
	"go.uber.org/zap"
)

var (
	configPath  = flag.String("config", "", "YAML configuration file")
	name        = flag.String("name", "", "Publisher friendly name (default: hostname-timesync-responder)")
	controlAddr = flag.String("control-addr", "", "WebSocket control listen address (overrides config)")
	timeAddr    = flag.String("time-addr", "", "UDP time service listen address (overrides config)")
	logFile     = flag.String("log-file", "timesync-responder.log", "Log file path")
	debug       = flag.Bool("debug", false, "Enable debug logging")
	noMDNS      = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
	skew        = flag.Duration("skew", 0, "Shift the published clock, for testing receivers")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *name != "" {
		cfg.Responder.Name = *name
	}
	if *controlAddr != "" {
		cfg.Responder.ControlAddr = *controlAddr
	}
	if *timeAddr != "" {
		cfg.Responder.TimeAddr = *timeAddr
	}
	if *noMDNS {
		cfg.Responder.Advertise = false
	}
	if cfg.Responder.Name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		cfg.Responder.Name = fmt.Sprintf("%s-timesync-responder", hostname)
	}

	level := "info"
	if *debug {
		level = "debug"
	}
	logger, closeLog, err := logging.New(logging.Options{File: *logFile, Level: level, Stdout: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	if err := run(cfg.Responder, logger); err != nil {
		logger.Error("responder stopped", zap.Error(err))
		closeLog()
		os.Exit(1)
	}
}

func run(cfg config.Responder, logger *zap.Logger) error {
	logger.Info("starting responder", zap.String("name", cfg.Name), zap.String("version", version.String()))

	offset := skew.Seconds()
	udp, err := responder.Listen(responder.Config{
		Addr:      cfg.TimeAddr,
		Clock:     func() float64 { return timesync.LocalClock() + offset },
		ClientTTL: cfg.ClientTTL,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.ControlAddr)
	if err != nil {
		udp.Close()
		return fmt.Errorf("control listen: %w", err)
	}
	controlPort := ln.Addr().(*net.TCPAddr).Port

	handler := responder.NewControlHandler(cfg.Name, udp.Port(), logger)
	mux := http.NewServeMux()
	mux.Handle("/timesync", handler)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- udp.Serve(ctx) }()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("control server: %w", err)
		}
	}()

	logger.Info("publishing",
		zap.Int("control_port", controlPort),
		zap.Int("time_port", udp.Port()),
		zap.String("session", handler.SessionID()))

	if cfg.Advertise {
		disc := discovery.NewManager(discovery.Config{
			ServiceName: cfg.Name,
			Port:        controlPort,
			Logger:      logger,
		})
		if err := disc.Advertise(); err != nil {
			logger.Warn("mDNS advertisement failed", zap.Error(err))
		}
		defer disc.Stop()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("shutting down", zap.Stringer("signal", sig))
	case runErr = <-errCh:
	}

	// receivers stop for good instead of retrying
	handler.Goodbye("publisher shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	handler.Disconnect()
	cancel()

	return runErr
}
