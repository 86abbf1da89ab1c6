package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	appconfig "liqflow/config"
	"liqflow/internal/channel"
	"liqflow/internal/metrics"
	"liqflow/internal/models"
	"liqflow/internal/store"
	"liqflow/logger"
)

// EventPublisher forwards normalized liquidation events to an external sink.
type EventPublisher interface {
	Publish(ctx context.Context, event models.LiquidationEvent) error
}

// LiquidationProcessor normalizes raw liquidation payloads and ingests them
// into the sliding window store. A malformed payload never stops the worker,
// it is dropped with a metric and the next message is processed. A single
// worker consumes the raw channel so events reach the store in the order
// they were received from the feed.
type LiquidationProcessor struct {
	config    *appconfig.Config
	rawChan   <-chan models.RawLiquidationMessage
	store     *store.WindowStore
	publisher EventPublisher
	ctx       context.Context
	wg        *sync.WaitGroup
	mu        sync.RWMutex
	running   bool
	log       *logger.Log
}

// NewLiquidationProcessor creates a new processor instance. The publisher is
// optional and may be nil when no downstream sink is configured.
func NewLiquidationProcessor(cfg *appconfig.Config, channels *channel.Channels, windowStore *store.WindowStore, publisher EventPublisher) *LiquidationProcessor {
	return &LiquidationProcessor{
		config:    cfg,
		rawChan:   channels.Raw,
		store:     windowStore,
		publisher: publisher,
		wg:        &sync.WaitGroup{},
		log:       logger.GetLogger(),
	}
}

// Start launches the worker consuming the raw channel.
func (p *LiquidationProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("liquidation processor already running")
	}
	p.running = true
	p.ctx = ctx
	p.mu.Unlock()

	log := p.log.WithComponent("liq_processor").WithFields(logger.Fields{"operation": "start"})
	log.Info("starting liquidation processor")

	// Ingestion runs on exactly one worker: the window is ordered by
	// receipt, and concurrent consumers would interleave appends.
	if p.config.Processor.MaxWorkers > 1 {
		log.WithFields(logger.Fields{"max_workers": p.config.Processor.MaxWorkers}).Warn("ignoring max_workers > 1, ingestion is single-worker to preserve receipt order")
	}
	p.wg.Add(1)
	go p.worker()

	log.Info("liquidation processor started successfully")
	return nil
}

// Stop signals the worker to terminate and waits for it.
func (p *LiquidationProcessor) Stop() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	p.log.WithComponent("liq_processor").Info("stopping liquidation processor")
	p.wg.Wait()
	p.log.WithComponent("liq_processor").Info("liquidation processor stopped")
}

func (p *LiquidationProcessor) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case msg, ok := <-p.rawChan:
			if !ok {
				return
			}
			p.handleMessage(msg)
		}
	}
}

func (p *LiquidationProcessor) handleMessage(raw models.RawLiquidationMessage) {
	log := p.log.WithComponent("liq_processor").WithFields(logger.Fields{
		"exchange": raw.Exchange,
		"symbol":   raw.Symbol,
	})

	var (
		event models.LiquidationEvent
		err   error
	)
	switch raw.Exchange {
	case "bybit":
		event, err = normalizeBybitLiq(raw)
	default:
		event, err = normalizeBinanceLiq(raw)
	}
	if err != nil {
		log.WithError(err).Warn("dropping malformed liquidation payload")
		metrics.EmitDropMetric(p.log, metrics.DropMetricLiquidationMalformed, raw.Exchange, raw.Symbol, "normalize")
		return
	}

	p.store.Ingest(event)

	if p.publisher != nil {
		if err := p.publisher.Publish(p.ctx, event); err != nil {
			log.WithError(err).Warn("failed to publish liquidation event")
		}
	}
}

// normalizeBinanceLiq converts a Binance force order payload into a
// liquidation event. The notional value is fixed at normalization time.
func normalizeBinanceLiq(raw models.RawLiquidationMessage) (models.LiquidationEvent, error) {
	var evt futures.WsLiquidationOrderEvent
	if err := json.Unmarshal(raw.Data, &evt); err != nil {
		return models.LiquidationEvent{}, fmt.Errorf("unmarshal force order: %w", err)
	}

	order := evt.LiquidationOrder
	if order.Symbol == "" {
		return models.LiquidationEvent{}, fmt.Errorf("force order missing symbol")
	}
	if order.TradeTime <= 0 {
		return models.LiquidationEvent{}, fmt.Errorf("force order has invalid trade time %d", order.TradeTime)
	}

	quantity, err := strconv.ParseFloat(order.OrigQuantity, 64)
	if err != nil {
		return models.LiquidationEvent{}, fmt.Errorf("parse quantity %q: %w", order.OrigQuantity, err)
	}
	price, err := strconv.ParseFloat(order.AvgPrice, 64)
	if err != nil {
		return models.LiquidationEvent{}, fmt.Errorf("parse avg price %q: %w", order.AvgPrice, err)
	}

	return models.LiquidationEvent{
		Symbol:    strings.ToUpper(order.Symbol),
		Side:      strings.ToUpper(string(order.Side)),
		OrderType: strings.ToUpper(string(order.OrderType)),
		Quantity:  quantity,
		Price:     price,
		UsdtValue: quantity * price,
		Timestamp: time.UnixMilli(order.TradeTime).UTC(),
	}, nil
}

type bybitLiqMessage struct {
	Topic string `json:"topic"`
	TS    int64  `json:"ts"`
	Data  struct {
		Symbol      string `json:"symbol"`
		Side        string `json:"side"`
		Size        string `json:"size"`
		Price       string `json:"price"`
		UpdatedTime int64  `json:"updatedTime"`
	} `json:"data"`
}

// normalizeBybitLiq converts a Bybit liquidation payload into a liquidation
// event. Bybit always fills liquidations at market.
func normalizeBybitLiq(raw models.RawLiquidationMessage) (models.LiquidationEvent, error) {
	var msg bybitLiqMessage
	if err := json.Unmarshal(raw.Data, &msg); err != nil {
		return models.LiquidationEvent{}, fmt.Errorf("unmarshal liquidation: %w", err)
	}

	if msg.Data.Symbol == "" {
		return models.LiquidationEvent{}, fmt.Errorf("liquidation missing symbol")
	}
	ts := msg.Data.UpdatedTime
	if ts <= 0 {
		ts = msg.TS
	}
	if ts <= 0 {
		return models.LiquidationEvent{}, fmt.Errorf("liquidation has invalid timestamp %d", ts)
	}

	quantity, err := strconv.ParseFloat(msg.Data.Size, 64)
	if err != nil {
		return models.LiquidationEvent{}, fmt.Errorf("parse size %q: %w", msg.Data.Size, err)
	}
	price, err := strconv.ParseFloat(msg.Data.Price, 64)
	if err != nil {
		return models.LiquidationEvent{}, fmt.Errorf("parse price %q: %w", msg.Data.Price, err)
	}

	return models.LiquidationEvent{
		Symbol:    strings.ToUpper(msg.Data.Symbol),
		Side:      strings.ToUpper(msg.Data.Side),
		OrderType: "MARKET",
		Quantity:  quantity,
		Price:     price,
		UsdtValue: quantity * price,
		Timestamp: time.UnixMilli(ts).UTC(),
	}, nil
}
