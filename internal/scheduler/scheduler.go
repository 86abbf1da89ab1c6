package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	appconfig "liqflow/config"
	"liqflow/internal/aggregate"
	"liqflow/internal/models"
	"liqflow/internal/store"
	"liqflow/internal/writer"
	"liqflow/logger"
)

// Scheduler drives the two periodic jobs of the pipeline. The eviction tick
// trims the window to the retention horizon and persists the raw window only
// when eviction actually removed events. The aggregation tick recomputes the
// per symbol rollup from a fresh snapshot and persists it as a full replace.
type Scheduler struct {
	config  *appconfig.Config
	store   *store.WindowStore
	writer  *writer.SnapshotWriter
	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log

	latestMu     sync.RWMutex
	latestRollup []models.SymbolRollup
	hasRollup    bool
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(cfg *appconfig.Config, windowStore *store.WindowStore, snapshotWriter *writer.SnapshotWriter) *Scheduler {
	return &Scheduler{
		config: cfg,
		store:  windowStore,
		writer: snapshotWriter,
		wg:     &sync.WaitGroup{},
		log:    logger.GetLogger(),
	}
}

// Start launches the eviction and aggregation loops.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.ctx = ctx
	s.mu.Unlock()

	log := s.log.WithComponent("scheduler").WithFields(logger.Fields{"operation": "start"})
	log.WithFields(logger.Fields{
		"retention":          s.retention().String(),
		"evict_interval":     s.evictInterval().String(),
		"aggregate_interval": s.aggregateInterval().String(),
	}).Info("starting scheduler")

	s.wg.Add(1)
	go s.evictionLoop()

	s.wg.Add(1)
	go s.aggregationLoop()

	log.Info("scheduler started successfully")
	return nil
}

// Stop signals both loops to terminate and waits for them.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.log.WithComponent("scheduler").Info("stopping scheduler")
	s.wg.Wait()
	s.log.WithComponent("scheduler").Info("scheduler stopped")
}

// LatestRollup returns the most recent aggregation result. The second return
// value is false until the first aggregation tick has completed.
func (s *Scheduler) LatestRollup() ([]models.SymbolRollup, bool) {
	s.latestMu.RLock()
	defer s.latestMu.RUnlock()

	if !s.hasRollup {
		return nil, false
	}
	out := make([]models.SymbolRollup, len(s.latestRollup))
	copy(out, s.latestRollup)
	return out, true
}

func (s *Scheduler) evictionLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.evictInterval())
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.evictTick(time.Now())
		}
	}
}

func (s *Scheduler) evictTick(now time.Time) {
	cutoff := now.Add(-s.retention())
	if !s.store.EvictOlderThan(cutoff) {
		return
	}

	snapshot := s.store.Snapshot()
	s.log.WithComponent("scheduler").WithFields(logger.Fields{
		"cutoff":    cutoff.UTC().Format(time.RFC3339),
		"remaining": len(snapshot),
	}).Debug("eviction removed events, persisting window")
	go s.writer.WriteWindow(snapshot)
}

func (s *Scheduler) aggregationLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.aggregateInterval())
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.aggregateTick()
		}
	}
}

func (s *Scheduler) aggregateTick() {
	snapshot := s.store.Snapshot()
	rollups := aggregate.Rollup(snapshot)
	aggregate.SortRollups(rollups, "totalUsdtValue", "desc")

	s.latestMu.Lock()
	s.latestRollup = rollups
	s.hasRollup = true
	s.latestMu.Unlock()

	go s.writer.WriteRollup(rollups)
}

func (s *Scheduler) retention() time.Duration {
	if s.config.Window.Retention > 0 {
		return s.config.Window.Retention
	}
	return appconfig.DefaultRetention
}

func (s *Scheduler) evictInterval() time.Duration {
	if s.config.Window.EvictInterval > 0 {
		return s.config.Window.EvictInterval
	}
	return appconfig.DefaultEvictInterval
}

func (s *Scheduler) aggregateInterval() time.Duration {
	if s.config.Window.AggregateInterval > 0 {
		return s.config.Window.AggregateInterval
	}
	return appconfig.DefaultAggregateInterval
}
