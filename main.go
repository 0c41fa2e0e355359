// ABOUTME: Entry point for the time sync monitor
// ABOUTME: Connects to a publisher, tracks its clock offset and shows it in a TUI
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/morningf/liblsl/internal/config"
	"github.com/morningf/liblsl/internal/conn"
	"github.com/morningf/liblsl/internal/discovery"
	"github.com/morningf/liblsl/internal/logging"
	"github.com/morningf/liblsl/internal/metrics"
	"github.com/morningf/liblsl/internal/ui"
	"github.com/morningf/liblsl/internal/version"
	"github.com/morningf/liblsl/internal/wallclock"
	"github.com/morningf/liblsl/pkg/timesync"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

var (
	configPath  = flag.String("config", "", "YAML configuration file")
	serverAddr  = flag.String("server", "", "Manual publisher control address (skip mDNS)")
	name        = flag.String("name", "", "Monitor friendly name (default: hostname-timesync-monitor)")
	logFile     = flag.String("log-file", "", "Log file path (overrides config)")
	logLevel    = flag.String("log-level", "", "Log level: debug, info, warn, error")
	metricsAddr = flag.String("metrics-addr", "", "Address serving /metrics (overrides config)")
	ntpServer   = flag.String("ntp-server", "", "NTP server for a wall clock sanity check")
	noTUI       = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
	streamLogs  = flag.Bool("stream-logs", false, "Alias for -no-tui")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	applyFlags(&cfg)

	useTUI := !(*noTUI || *streamLogs)

	// TUI mode logs only to the file, streaming mode tees to stdout
	logger, closeLog, err := logging.New(logging.Options{
		File:   cfg.Monitor.LogFile,
		Level:  cfg.Monitor.LogLevel,
		Stdout: !useTUI,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	if err := run(cfg, useTUI, logger); err != nil {
		logger.Error("monitor stopped", zap.Error(err))
		closeLog()
		os.Exit(1)
	}
}

func applyFlags(cfg *config.File) {
	if *serverAddr != "" {
		cfg.Control.Server = *serverAddr
	}
	if *name != "" {
		cfg.Control.Name = *name
	}
	if *logFile != "" {
		cfg.Monitor.LogFile = *logFile
	}
	if *logLevel != "" {
		cfg.Monitor.LogLevel = *logLevel
	}
	if *metricsAddr != "" {
		cfg.Monitor.MetricsAddr = *metricsAddr
	}
	if *ntpServer != "" {
		cfg.Monitor.NTPServer = *ntpServer
	}
	if cfg.Control.Name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		cfg.Control.Name = fmt.Sprintf("%s-timesync-monitor", hostname)
	}
}

func run(cfg config.File, useTUI bool, logger *zap.Logger) error {
	logger.Info("starting monitor", zap.String("name", cfg.Control.Name), zap.String("version", version.Version))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// TUI setup
	var tuiProg *tea.Program
	var tuiCtrl *ui.Control
	if useTUI {
		tuiCtrl = ui.NewControl()
		var err error
		tuiProg, err = ui.Run(tuiCtrl)
		if err != nil {
			return fmt.Errorf("failed to start TUI: %w", err)
		}
		go func() {
			if _, err := tuiProg.Run(); err != nil {
				logger.Error("TUI exited", zap.Error(err))
			}
		}()
		defer tuiProg.Quit()
	}

	updateTUI := func(msg ui.StatusMsg) {
		if tuiProg != nil {
			tuiProg.Send(msg)
		}
	}

	resolve := conn.StaticResolver(cfg.Control.Server)
	if cfg.Control.Server == "" {
		logger.Info("starting publisher discovery")
		disc := discovery.NewManager(discovery.Config{
			ServiceName: cfg.Control.Name,
			Logger:      logger,
		})
		defer disc.Stop()
		resolve = disc.Resolve
	}

	dialCtx, dialCancel := context.WithTimeout(ctx, cfg.Control.DiscoveryWait+cfg.Control.HandshakeWait)
	control, err := conn.Dial(dialCtx, conn.ControlConfig{
		Resolve:        resolve,
		Name:           cfg.Control.Name,
		DeviceInfo:     version.DeviceInfo(),
		HandshakeWait:  cfg.Control.HandshakeWait,
		ReconnectDelay: cfg.Control.ReconnectDelay,
		MaxReconnects:  cfg.Control.MaxReconnects,
		Logger:         logger,
	})
	dialCancel()
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	defer control.Close()

	connected := true
	updateTUI(ui.StatusMsg{Connected: &connected, ServerName: control.ServerName()})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	receiver, err := timesync.New(control, cfg.Receiver, timesync.WithLogger(logger), timesync.WithRegisterer(reg))
	if err != nil {
		return err
	}
	defer receiver.Close()

	if cfg.Monitor.MetricsAddr != "" {
		srv := serveMetrics(cfg.Monitor.MetricsAddr, reg, logger)
		defer srv.Close()
	}

	if cfg.Monitor.NTPServer != "" {
		go wallclock.Watch(ctx, cfg.Monitor.NTPServer, time.Minute, logger, func(offset time.Duration) {
			updateTUI(ui.StatusMsg{NTPOffset: &offset})
		})
	}

	go statusLoop(ctx, receiver, control, useTUI, cfg.Receiver.ReestimationInterval, logger, updateTUI)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var quit <-chan ui.QuitMsg
	if tuiCtrl != nil {
		quit = tuiCtrl.Quit
	}

	select {
	case <-quit:
		logger.Info("received quit signal from TUI")
	case <-sigChan:
		logger.Info("shutdown signal received")
	case <-control.Closed():
		if err := control.Err(); err != nil {
			return fmt.Errorf("publisher connection ended: %w", err)
		}
	}

	logger.Info("monitor stopped")
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	return srv
}

// statusLoop polls the receiver for the TUI, or logs the estimate when headless
func statusLoop(ctx context.Context, r *timesync.Receiver, c *conn.Control, useTUI bool,
	logEvery time.Duration, logger *zap.Logger, updateTUI func(ui.StatusMsg)) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var lastLog time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			offset, _, uncertainty, err := r.TimeCorrectionDetailed(0)
			valid := err == nil
			reset := r.WasReset()
			st := r.Stats()

			if reset {
				logger.Info("publisher clock may have been reset", zap.String("session", c.SessionID()))
			}

			if !useTUI {
				if now.Sub(lastLog) >= logEvery {
					lastLog = now
					if valid {
						logger.Info("time correction",
							zap.Float64("offset", offset),
							zap.Float64("uncertainty", uncertainty),
							zap.Duration("jitter", st.Jitter))
					} else {
						logger.Info("no valid estimate yet", zap.Uint64("waves", st.Waves))
					}
				}
				continue
			}

			offsets := make([]float64, 0, len(st.History))
			for _, e := range st.History {
				offsets = append(offsets, e.Offset)
			}

			endpoint := ""
			if ep := c.Endpoint(); ep != nil {
				endpoint = ep.String()
			}

			updateTUI(ui.StatusMsg{
				Endpoint: endpoint,
				Estimate: &ui.EstimateStatus{Valid: valid, Offset: offset, Uncertainty: uncertainty},
				Stats: &ui.CounterStatus{
					Waves:      st.Waves,
					EmptyWaves: st.EmptyWaves,
					Samples:    st.Samples,
					Dropped:    st.Dropped,
					Resets:     st.Resets,
					Jitter:     st.Jitter,
					Offsets:    offsets,
				},
				Reset: reset,
				At:    now,
			})
		}
	}
}
