// ABOUTME: Headless probe that prints a few time corrections and exits
// ABOUTME: Talks to a publisher through its control endpoint or straight to its UDP port
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/morningf/liblsl/internal/conn"
	"github.com/morningf/liblsl/internal/version"
	"github.com/morningf/liblsl/pkg/timesync"
	"go.uber.org/zap"
)

var (
	serverAddr = flag.String("server", "localhost:8927", "Publisher control address")
	timeAddr   = flag.String("time-addr", "", "Probe this UDP address directly, skipping the control handshake")
	name       = flag.String("name", "test-sync", "Client name")
	count      = flag.Int("count", 5, "Number of corrections to print")
	timeout    = flag.Duration("timeout", timesync.DefaultTimeout, "Wait per correction")
	verbose    = flag.Bool("v", false, "Log receiver internals")
)

func main() {
	flag.Parse()

	logger := zap.NewNop()
	if *verbose {
		var err error
		logger, err = zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "logger: %v\n", err)
			os.Exit(1)
		}
	}
	defer logger.Sync()

	if err := run(logger); err != nil {
		fmt.Fprintf(os.Stderr, "test-sync: %v\n", err)
		os.Exit(1)
	}
}

func run(logger *zap.Logger) error {
	fmt.Println("=== Clock Sync Test App ===")

	var c conn.Connection
	if *timeAddr != "" {
		addr, err := net.ResolveUDPAddr("udp", *timeAddr)
		if err != nil {
			return err
		}
		static := conn.NewStatic(addr)
		defer static.Close()
		c = static
		fmt.Printf("Probing %s directly\n", addr)
	} else {
		fmt.Printf("Connecting to %s as '%s'...\n", *serverAddr, *name)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		control, err := conn.Dial(ctx, conn.ControlConfig{
			Resolve:    conn.StaticResolver(*serverAddr),
			Name:       *name,
			DeviceInfo: version.DeviceInfo(),
			Logger:     logger,
		})
		cancel()
		if err != nil {
			return err
		}
		defer control.Close()
		c = control
		fmt.Printf("Session %s, time endpoint %s\n", control.SessionID(), control.Endpoint())
	}

	r, err := timesync.New(c, timesync.DefaultConfig(), timesync.WithLogger(logger))
	if err != nil {
		return err
	}
	defer r.Close()

	interval := timesync.DefaultConfig().ReestimationInterval
	for i := 0; i < *count; i++ {
		if i > 0 {
			time.Sleep(interval)
		}

		offset, remote, uncertainty, err := r.TimeCorrectionDetailed(*timeout)
		if err != nil {
			return err
		}
		reset := ""
		if r.WasReset() {
			reset = "  (publisher reset)"
		}
		fmt.Printf("offset %+.6fs  uncertainty %.3fms  remote %.6f%s\n", offset, uncertainty*1000, remote, reset)
	}

	st := r.Stats()
	fmt.Printf("waves %d, samples %d, dropped %d, jitter %v\n", st.Waves, st.Samples, st.Dropped, st.Jitter)
	return nil
}
