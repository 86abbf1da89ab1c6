package models

import "time"

// Side values carried by liquidation events. Feeds that report lowercase or
// mixed-case sides are normalised to these values before ingestion.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// RawLiquidationMessage represents a raw liquidation payload captured from an
// exchange specific stream. It keeps the raw JSON payload together with
// metadata that allows the processor to route the payload to the right
// normaliser.
type RawLiquidationMessage struct {
	Exchange  string
	Symbol    string
	Data      []byte
	Timestamp time.Time
}

// LiquidationEvent is the normalised representation of a single liquidation.
// UsdtValue is computed once at normalisation time (quantity * price) and
// carried unchanged downstream. The JSON field names match the persisted
// window format.
type LiquidationEvent struct {
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	OrderType string    `json:"type"`
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price"`
	UsdtValue float64   `json:"usdtValue"`
	Timestamp time.Time `json:"timestamp"`
}
