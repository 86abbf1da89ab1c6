package store

import (
	"sync"
	"time"

	"liqflow/internal/models"
	"liqflow/logger"
)

// WindowStore owns the sliding window of liquidation events. It is the only
// shared mutable state in the pipeline: the processor appends, the scheduler
// evicts, and every reader works from a point-in-time copy. All access goes
// through one RWMutex so ingestion and eviction never interleave and a
// snapshot is never torn.
type WindowStore struct {
	mu     sync.RWMutex
	events []models.LiquidationEvent
	log    *logger.Log
}

func NewWindowStore() *WindowStore {
	return &WindowStore{
		log: logger.GetLogger(),
	}
}

// Ingest appends a validated event to the window. Events arrive in receipt
// order; duplicates from the feed are accepted as-is.
func (s *WindowStore) Ingest(event models.LiquidationEvent) {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
}

// EvictOlderThan removes every event with a timestamp strictly before cutoff
// and reports whether anything was removed. Callers use the return value to
// decide whether a persistence write is warranted.
func (s *WindowStore) EvictOlderThan(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	for _, event := range s.events {
		if !event.Timestamp.Before(cutoff) {
			kept = append(kept, event)
		}
	}

	removed := len(s.events) - len(kept)
	if removed == 0 {
		return false
	}

	// Release the tail so evicted events do not pin the backing array.
	for i := len(kept); i < len(s.events); i++ {
		s.events[i] = models.LiquidationEvent{}
	}
	s.events = kept

	s.log.WithComponent("window_store").WithFields(logger.Fields{
		"removed":  removed,
		"retained": len(kept),
	}).Debug("evicted events outside retention window")
	return true
}

// Snapshot returns a point-in-time copy of the window. The returned slice is
// owned by the caller and never aliases the live window.
func (s *WindowStore) Snapshot() []models.LiquidationEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.LiquidationEvent, len(s.events))
	copy(out, s.events)
	return out
}

// Len reports the current number of retained events.
func (s *WindowStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Restore loads persisted events at startup, discarding events that have a
// zero timestamp or already fall outside the retention window, so a restart
// never resurrects stale data. It returns the number of restored events.
func (s *WindowStore) Restore(events []models.LiquidationEvent, cutoff time.Time) int {
	restored := make([]models.LiquidationEvent, 0, len(events))
	for _, event := range events {
		if event.Timestamp.IsZero() || event.Timestamp.Before(cutoff) {
			continue
		}
		restored = append(restored, event)
	}

	s.mu.Lock()
	s.events = restored
	s.mu.Unlock()

	s.log.WithComponent("window_store").WithFields(logger.Fields{
		"loaded":   len(events),
		"restored": len(restored),
	}).Info("restored window from persisted snapshot")
	return len(restored)
}
