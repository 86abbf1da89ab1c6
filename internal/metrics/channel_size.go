package metrics

import (
	"context"
	"time"

	"liqflow/internal/channel"
	"liqflow/logger"
)

// StartChannelSizeMetrics emits occupancy metrics for the raw liquidation
// channel buffer. Metrics are logged every `interval` until the context is
// cancelled. When interval <= 0, a one-second cadence is used.
func StartChannelSizeMetrics(ctx context.Context, channels *channel.Channels, interval time.Duration) {
	if channels == nil {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}

	log := logger.GetLogger()
	ticker := time.NewTicker(interval)
	component := "channel_buffers"

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				EmitMetric(log, component, "liq_raw_buffer_length", len(channels.Raw), "gauge", logger.Fields{
					"buffer":   "liq_raw",
					"capacity": cap(channels.Raw),
				})
				stats := channels.GetStats()
				EmitMetric(log, component, "liq_raw_sent_total", stats.RawSent, "counter", logger.Fields{
					"buffer": "liq_raw",
				})
				EmitMetric(log, component, "liq_raw_dropped_total", stats.RawDropped, "counter", logger.Fields{
					"buffer": "liq_raw",
				})
			}
		}
	}()
}
