// ABOUTME: Wall-clock sanity check against an NTP server
// ABOUTME: Reports how far the system clock is from NTP time, next to the publisher offset
package wallclock

import (
	"context"
	"fmt"
	"time"

	"github.com/beevik/ntp"
	"go.uber.org/zap"
)

// Query asks server once and returns NTP time minus local wall time
func Query(server string, timeout time.Duration) (time.Duration, error) {
	resp, err := ntp.QueryWithOptions(server, ntp.QueryOptions{Timeout: timeout})
	if err != nil {
		return 0, fmt.Errorf("NTP query failed: %w", err)
	}
	if err := resp.Validate(); err != nil {
		return 0, fmt.Errorf("NTP response from %s unusable: %w", server, err)
	}
	return resp.ClockOffset, nil
}

// Watch queries server every interval until ctx is done, passing each
// successful offset to report
func Watch(ctx context.Context, server string, interval time.Duration, logger *zap.Logger, report func(time.Duration)) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("wallclock")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		offset, err := Query(server, 5*time.Second)
		if err != nil {
			log.Warn("wall clock check failed", zap.String("server", server), zap.Error(err))
		} else {
			log.Info("wall clock checked", zap.String("server", server), zap.Duration("offset", offset))
			report(offset)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
