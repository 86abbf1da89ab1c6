package reader

import (
	"context"
	"fmt"
	"strings"
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

// Bybit_LIQ_Reader streams liquidation executions from the Bybit linear
// websocket. It shares the binance reader's reconnect state machine and adds
// topic subscription plus a ping keep-alive loop, which the Bybit endpoint
// requires.
type Bybit_LIQ_Reader struct {
	config   *appconfig.Config
	channels *channel.Channels
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	state    atomic.Int32
	log      *logger.Log
	symbols  []string
}

// Bybit_LIQ_NewReader constructs a new Bybit liquidation reader.
func Bybit_LIQ_NewReader(cfg *appconfig.Config, ch *channel.Channels) *Bybit_LIQ_Reader {
	return &Bybit_LIQ_Reader{
		config:   cfg,
		channels: ch,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}
}

// Bybit_LIQ_Start launches the websocket connection loop.
func (r *Bybit_LIQ_Reader) Bybit_LIQ_Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("bybit liquidation reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	cfg := r.config.Source.Bybit.Liquidation
	log := r.log.WithComponent("bybit_liq_reader").WithFields(logger.Fields{"operation": "Bybit_LIQ_Start"})

	if !cfg.Enabled {
		log.Warn("bybit liquidation stream disabled via configuration")
		return fmt.Errorf("bybit liquidation stream disabled")
	}
	if len(cfg.Symbols) == 0 {
		log.Warn("no symbols configured for bybit liquidation reader")
		return fmt.Errorf("no symbols configured for bybit liquidation reader")
	}
	r.symbols = cfg.Symbols

	log.WithFields(logger.Fields{
		"url":     cfg.URL,
		"symbols": strings.Join(r.symbols, ","),
	}).Info("starting bybit liquidation reader")

	r.wg.Add(1)
	go r.connectLoop(cfg)

	log.Info("bybit liquidation reader started successfully")
	return nil
}

// Bybit_LIQ_Stop waits for the connection loop to stop.
func (r *Bybit_LIQ_Reader) Bybit_LIQ_Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("bybit_liq_reader").Info("stopping bybit liquidation reader")
	r.wg.Wait()
	r.log.WithComponent("bybit_liq_reader").Info("bybit liquidation reader stopped")
}

// State reports the connector's current connection state.
func (r *Bybit_LIQ_Reader) State() ConnState {
	return ConnState(r.state.Load())
}

func (r *Bybit_LIQ_Reader) connectLoop(cfg appconfig.BybitLiquidationConfig) {
	defer r.wg.Done()
	defer r.state.Store(int32(StateDisconnected))

	log := r.log.WithComponent("bybit_liq_reader").WithFields(logger.Fields{
		"worker": "liquidation_stream",
		"url":    cfg.URL,
	})

	topics := make([]string, 0, len(r.symbols))
	for _, sym := range r.symbols {
		topics = append(topics, "liquidation."+strings.ToUpper(sym))
	}

	retry := 0
	retryCfg := r.config.Reader.Retry

	for {
		if r.ctx.Err() != nil {
			return
		}

		r.state.Store(int32(StateConnecting))
		conn, _, err := websocket.DefaultDialer.DialContext(r.ctx, cfg.URL, nil)
		if err != nil {
			r.state.Store(int32(StateDisconnected))
			if r.ctx.Err() != nil {
				return
			}
			delay := ReconnectDelay(retry, retryCfg.BaseDelay, retryCfg.MaxDelay)
			log.WithError(err).WithFields(logger.Fields{
				"retry": retry,
				"delay": delay.String(),
			}).Warn("failed to connect to bybit websocket")
			retry++
			if waitForReconnect(r.ctx, delay) {
				return
			}
			continue
		}

		if err := subscribeBybit(conn, topics); err != nil {
			log.WithError(err).Warn("failed to subscribe to bybit topics")
			conn.Close()
			r.state.Store(int32(StateDisconnected))
			delay := ReconnectDelay(retry, retryCfg.BaseDelay, retryCfg.MaxDelay)
			retry++
			if waitForReconnect(r.ctx, delay) {
				return
			}
			continue
		}

		r.state.Store(int32(StateConnected))
		retry = 0
		log.Info("connected to bybit liquidation stream")

		pingCancel := startPingLoop(r.ctx, conn, cfg.PingInterval, log)

		if err := readMessages(r.ctx, conn, r.handleMessage); err != nil && r.ctx.Err() == nil {
			log.WithError(err).Warn("bybit liquidation stream closed, reconnecting")
		}

		pingCancel()
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

func subscribeBybit(conn *websocket.Conn, topics []string) error {
	req := struct {
		Op    string   `json:"op"`
		Args  []string `json:"args"`
		ReqID string   `json:"req_id"`
	}{
		Op:    "subscribe",
		Args:  topics,
		ReqID: fmt.Sprintf("%d", time.Now().UnixNano()),
	}
	return conn.WriteJSON(req)
}

func (r *Bybit_LIQ_Reader) handleMessage(payload []byte) {
	msg := models.RawLiquidationMessage{
		Exchange:  "bybit",
		Data:      append([]byte(nil), payload...),
		Timestamp: time.Now().UTC(),
	}

	if r.channels.SendRaw(r.ctx, msg) {
		return
	}
	if r.ctx.Err() != nil {
		return
	}
	metrics.EmitDropMetric(r.log, metrics.DropMetricLiquidationRaw, "bybit", "", "raw")
	r.log.WithComponent("bybit_liq_reader").Warn("liquidation raw channel full, dropping message")
}
