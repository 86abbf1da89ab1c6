package aggregate

import (
	"sort"

	"liqflow/internal/models"
)

// Consolidate groups a window snapshot by (symbol, side), summing quantity
// and usdt value per group. The group timestamp is the newest constituent
// timestamp. The result is sorted descending by usdt value; ties keep
// first-seen order. An empty snapshot yields an empty slice.
func Consolidate(events []models.LiquidationEvent) []models.ConsolidatedEntry {
	groups := make(map[string]int)
	entries := make([]models.ConsolidatedEntry, 0)

	for _, event := range events {
		key := event.Symbol + "-" + event.Side
		idx, ok := groups[key]
		if !ok {
			idx = len(entries)
			groups[key] = idx
			entries = append(entries, models.ConsolidatedEntry{
				Symbol:    event.Symbol,
				Side:      event.Side,
				Timestamp: event.Timestamp,
				Price:     event.Price,
			})
		}
		entry := &entries[idx]
		entry.Quantity += event.Quantity
		entry.UsdtValue += event.UsdtValue
		if event.Timestamp.After(entry.Timestamp) {
			entry.Timestamp = event.Timestamp
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].UsdtValue > entries[j].UsdtValue
	})
	return entries
}

// TopN truncates consolidated entries to at most n. A non-positive n returns
// the input unchanged.
func TopN(entries []models.ConsolidatedEntry, n int) []models.ConsolidatedEntry {
	if n <= 0 || len(entries) <= n {
		return entries
	}
	return entries[:n]
}

// Rollup groups a window snapshot by symbol, accumulating totals, a count,
// per-side quantities and the newest timestamp. AvgPrice is computed from the
// final totals (0 when the total quantity is 0). Rollups come back in
// first-seen symbol order; use SortRollups for a ranked view. An empty
// snapshot yields an empty slice.
func Rollup(events []models.LiquidationEvent) []models.SymbolRollup {
	index := make(map[string]int)
	rollups := make([]models.SymbolRollup, 0)

	for _, event := range events {
		idx, ok := index[event.Symbol]
		if !ok {
			idx = len(rollups)
			index[event.Symbol] = idx
			rollups = append(rollups, models.SymbolRollup{
				Symbol:        event.Symbol,
				LastTimestamp: event.Timestamp,
				Sides:         map[string]float64{models.SideBuy: 0, models.SideSell: 0},
			})
		}
		r := &rollups[idx]
		r.TotalQuantity += event.Quantity
		r.TotalUsdtValue += event.UsdtValue
		r.Count++
		r.Sides[event.Side] += event.Quantity
		if event.Timestamp.After(r.LastTimestamp) {
			r.LastTimestamp = event.Timestamp
		}
	}

	for i := range rollups {
		if rollups[i].TotalQuantity > 0 {
			rollups[i].AvgPrice = rollups[i].TotalUsdtValue / rollups[i].TotalQuantity
		}
	}
	return rollups
}

// rollupSortKeys maps external sort field names to numeric accessors.
var rollupSortKeys = map[string]func(models.SymbolRollup) float64{
	"totalQuantity":  func(r models.SymbolRollup) float64 { return r.TotalQuantity },
	"totalUsdtValue": func(r models.SymbolRollup) float64 { return r.TotalUsdtValue },
	"avgPrice":       func(r models.SymbolRollup) float64 { return r.AvgPrice },
	"count":          func(r models.SymbolRollup) float64 { return float64(r.Count) },
	"lastTimestamp":  func(r models.SymbolRollup) float64 { return float64(r.LastTimestamp.UnixMilli()) },
}

// SortRollups sorts rollups in place by the named numeric field. Unknown
// fields fall back to totalUsdtValue and any order other than "asc" sorts
// descending. The sort is stable so tied keys preserve input order.
func SortRollups(rollups []models.SymbolRollup, sortBy, order string) {
	key, ok := rollupSortKeys[sortBy]
	if !ok {
		key = rollupSortKeys["totalUsdtValue"]
	}

	asc := order == "asc"
	sort.SliceStable(rollups, func(i, j int) bool {
		if asc {
			return key(rollups[i]) < key(rollups[j])
		}
		return key(rollups[i]) > key(rollups[j])
	})
}
