package writer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"liqflow/internal/models"
	"liqflow/logger"
)

// SnapshotWriter persists window and rollup snapshots to local JSON files.
// Writes are serialized per target file and at most one write per target is
// in flight at any time. A write that arrives while another is running is
// skipped, the next tick produces a fresh snapshot anyway.
type SnapshotWriter struct {
	windowPath string
	rollupPath string
	windowMu   sync.Mutex
	rollupMu   sync.Mutex
	archiver   *S3Archiver
	log        *logger.Log
}

// NewSnapshotWriter prepares the target directories for both snapshot files.
// The archiver is optional and may be nil.
func NewSnapshotWriter(windowPath, rollupPath string, archiver *S3Archiver) (*SnapshotWriter, error) {
	for _, path := range []string{windowPath, rollupPath} {
		dir := filepath.Dir(path)
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create snapshot directory %s: %w", dir, err)
		}
	}

	return &SnapshotWriter{
		windowPath: windowPath,
		rollupPath: rollupPath,
		archiver:   archiver,
		log:        logger.GetLogger(),
	}, nil
}

// WriteWindow replaces the raw window file with the given snapshot. When an
// archiver is configured the same snapshot is also shipped to S3.
func (w *SnapshotWriter) WriteWindow(events []models.LiquidationEvent) {
	log := w.log.WithComponent("snapshot_writer").WithFields(logger.Fields{"target": "window"})

	if !w.windowMu.TryLock() {
		log.Debug("window write already in flight, skipping")
		return
	}
	defer w.windowMu.Unlock()

	if events == nil {
		events = []models.LiquidationEvent{}
	}
	if err := writeJSONFile(w.windowPath, events); err != nil {
		log.WithError(err).Error("failed to persist window snapshot")
		return
	}
	log.WithFields(logger.Fields{"events": len(events)}).Debug("window snapshot persisted")

	if w.archiver != nil {
		if err := w.archiver.ArchiveWindow(events); err != nil {
			log.WithError(err).Error("failed to archive window snapshot")
		}
	}
}

// WriteRollup replaces the rollup file with the given aggregation result.
func (w *SnapshotWriter) WriteRollup(rollups []models.SymbolRollup) {
	log := w.log.WithComponent("snapshot_writer").WithFields(logger.Fields{"target": "rollup"})

	if !w.rollupMu.TryLock() {
		log.Debug("rollup write already in flight, skipping")
		return
	}
	defer w.rollupMu.Unlock()

	if rollups == nil {
		rollups = []models.SymbolRollup{}
	}
	if err := writeJSONFile(w.rollupPath, rollups); err != nil {
		log.WithError(err).Error("failed to persist rollup snapshot")
		return
	}
	log.WithFields(logger.Fields{"symbols": len(rollups)}).Debug("rollup snapshot persisted")
}

// LoadWindow reads a previously persisted window file. A missing file is not
// an error, restarts with no prior state are normal. Individual records that
// fail to decode are skipped so one corrupt entry does not discard the rest.
func (w *SnapshotWriter) LoadWindow() ([]models.LiquidationEvent, error) {
	data, err := os.ReadFile(w.windowPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read window file: %w", err)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode window file: %w", err)
	}

	log := w.log.WithComponent("snapshot_writer").WithFields(logger.Fields{"target": "window"})
	events := make([]models.LiquidationEvent, 0, len(raw))
	skipped := 0
	for _, record := range raw {
		var event models.LiquidationEvent
		if err := json.Unmarshal(record, &event); err != nil {
			skipped++
			continue
		}
		events = append(events, event)
	}
	if skipped > 0 {
		log.WithFields(logger.Fields{"skipped": skipped}).Warn("skipped corrupt window records")
	}
	return events, nil
}

// writeJSONFile writes through a temp file and renames it into place so a
// crash mid-write never leaves a truncated snapshot behind.
func writeJSONFile(path string, value interface{}) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tmp := fmt.Sprintf("%s.tmp.%d", path, time.Now().UnixNano())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
