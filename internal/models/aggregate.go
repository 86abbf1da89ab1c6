package models

import "time"

// ConsolidatedEntry is a (symbol, side) group computed over a window
// snapshot. Quantity and UsdtValue are sums over the group's constituents and
// Timestamp is the newest constituent timestamp. Price is internal to the
// aggregation (summed prices carry no meaning) and is excluded from JSON
// output.
type ConsolidatedEntry struct {
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	Quantity  float64   `json:"quantity"`
	UsdtValue float64   `json:"usdtValue"`
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"-"`
}

// SymbolRollup is a per-symbol statistical rollup over a window snapshot.
// AvgPrice is TotalUsdtValue / TotalQuantity, defined as 0 when the total
// quantity is 0. Sides maps BUY and SELL to the quantity liquidated on that
// side. The JSON field names match the persisted rollup format.
type SymbolRollup struct {
	Symbol         string             `json:"symbol"`
	TotalQuantity  float64            `json:"totalQuantity"`
	TotalUsdtValue float64            `json:"totalUsdtValue"`
	AvgPrice       float64            `json:"avgPrice"`
	Count          int                `json:"count"`
	LastTimestamp  time.Time          `json:"lastTimestamp"`
	Sides          map[string]float64 `json:"sides"`
}
