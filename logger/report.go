package logger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	warnCount  int64
	errorCount int64
	channels   sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	atomic.AddInt64(&warnCount, 1)
	_ = component
}

func recordError(component string) {
	atomic.AddInt64(&errorCount, 1)
	_ = component
}

// RecordChannelMessage accounts a message flowing through a named channel so
// the periodic report can show per-channel throughput.
func RecordChannelMessage(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

// StartReport periodically logs a summary of warn/error counts and channel
// throughput since the previous report. Used when the log level is set to
// "report".
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fields := Fields{
					"warns":  atomic.SwapInt64(&warnCount, 0),
					"errors": atomic.SwapInt64(&errorCount, 0),
				}
				channels.Range(func(key, value interface{}) bool {
					name := key.(string)
					cs := value.(*channelStat)
					fields[name+"_messages"] = atomic.SwapInt64(&cs.messages, 0)
					fields[name+"_bytes"] = atomic.SwapInt64(&cs.bytes, 0)
					return true
				})
				log.WithComponent("report").WithFields(fields).Info("periodic report")
			}
		}
	}()
}
