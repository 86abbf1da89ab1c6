package reader

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	appconfig "liqflow/config"
	"liqflow/internal/channel"
	"liqflow/internal/metrics"
	"liqflow/internal/models"
	"liqflow/logger"
)

// Binance_LIQ_Reader streams the Binance futures force-order feed and
// forwards raw payloads to the configured channel. The connection loop is an
// explicit state machine (disconnected -> connecting -> connected) that runs
// until the context is cancelled, reconnecting with capped exponential
// backoff. A successful connection resets the retry counter.
type Binance_LIQ_Reader struct {
	config   *appconfig.Config
	channels *channel.Channels
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	state    atomic.Int32
	log      *logger.Log
}

// Binance_LIQ_NewReader constructs a new force-order stream reader.
func Binance_LIQ_NewReader(cfg *appconfig.Config, ch *channel.Channels) *Binance_LIQ_Reader {
	return &Binance_LIQ_Reader{
		config:   cfg,
		channels: ch,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}
}

// Binance_LIQ_Start launches the websocket connection loop.
func (r *Binance_LIQ_Reader) Binance_LIQ_Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("binance liquidation reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	cfg := r.config.Source.Binance.Liquidation
	log := r.log.WithComponent("binance_liq_reader").WithFields(logger.Fields{"operation": "Binance_LIQ_Start"})

	if !cfg.Enabled {
		log.Warn("binance liquidation stream disabled via configuration")
		return fmt.Errorf("binance liquidation stream disabled")
	}

	log.WithFields(logger.Fields{"url": cfg.URL}).Info("starting binance liquidation reader")

	r.wg.Add(1)
	go r.connectLoop(cfg.URL)

	log.Info("binance liquidation reader started successfully")
	return nil
}

// Binance_LIQ_Stop waits for the connection loop to stop.
func (r *Binance_LIQ_Reader) Binance_LIQ_Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("binance_liq_reader").Info("stopping binance liquidation reader")
	r.wg.Wait()
	r.log.WithComponent("binance_liq_reader").Info("binance liquidation reader stopped")
}

// State reports the connector's current connection state.
func (r *Binance_LIQ_Reader) State() ConnState {
	return ConnState(r.state.Load())
}

func (r *Binance_LIQ_Reader) connectLoop(url string) {
	defer r.wg.Done()
	defer r.state.Store(int32(StateDisconnected))

	log := r.log.WithComponent("binance_liq_reader").WithFields(logger.Fields{
		"worker": "force_order_stream",
		"url":    url,
	})

	retry := 0
	retryCfg := r.config.Reader.Retry

	for {
		if r.ctx.Err() != nil {
			return
		}

		r.state.Store(int32(StateConnecting))
		conn, _, err := websocket.DefaultDialer.DialContext(r.ctx, url, nil)
		if err != nil {
			r.state.Store(int32(StateDisconnected))
			if r.ctx.Err() != nil {
				return
			}
			delay := ReconnectDelay(retry, retryCfg.BaseDelay, retryCfg.MaxDelay)
			log.WithError(err).WithFields(logger.Fields{
				"retry": retry,
				"delay": delay.String(),
			}).Warn("failed to connect to binance liquidation stream")
			retry++
			if waitForReconnect(r.ctx, delay) {
				return
			}
			continue
		}

		r.state.Store(int32(StateConnected))
		retry = 0
		log.Info("connected to binance liquidation stream")

		if err := readMessages(r.ctx, conn, r.handleMessage); err != nil && r.ctx.Err() == nil {
			log.WithError(err).Warn("binance liquidation stream closed, reconnecting")
		}
		conn.Close()
		r.state.Store(int32(StateDisconnected))

		if r.ctx.Err() != nil {
			return
		}

		delay := ReconnectDelay(retry, retryCfg.BaseDelay, retryCfg.MaxDelay)
		retry++
		if waitForReconnect(r.ctx, delay) {
			return
		}
	}
}

func (r *Binance_LIQ_Reader) handleMessage(payload []byte) {
	msg := models.RawLiquidationMessage{
		Exchange:  "binance",
		Data:      append([]byte(nil), payload...),
		Timestamp: time.Now().UTC(),
	}

	if r.channels.SendRaw(r.ctx, msg) {
		return
	}
	if r.ctx.Err() != nil {
		return
	}
	metrics.EmitDropMetric(r.log, metrics.DropMetricLiquidationRaw, "binance", "", "raw")
	r.log.WithComponent("binance_liq_reader").Warn("liquidation raw channel full, dropping message")
}
