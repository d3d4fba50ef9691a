package catalog

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/reiserFSs/hyperevmlpmonitor/internal/model"
)

// Catalog is the authoritative set of tracked positions. Additions apply
// immediately; removals are deliberately slow. A position leaves the catalog
// only when an error-free full scan misses it AND either a burn-side
// Transfer corroborates the exit or the absence repeats for debounceScans
// consecutive error-free scans. Scans that reported errors neither remove
// nor advance the debounce counters.
type Catalog struct {
	debounceScans int
	logger        *zap.Logger

	mu        sync.RWMutex
	positions map[model.PositionKey]*model.Position
	pending   map[model.PositionKey]int
	hints     map[model.PositionKey]struct{}
}

func New(debounceScans int, logger *zap.Logger) *Catalog {
	if debounceScans < 1 {
		debounceScans = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{
		debounceScans: debounceScans,
		logger:        logger,
		positions:     make(map[model.PositionKey]*model.Position),
		pending:       make(map[model.PositionKey]int),
		hints:         make(map[model.PositionKey]struct{}),
	}
}

// Upsert adds or refreshes a position and clears any removal state for it.
func (c *Catalog) Upsert(pos *model.Position) {
	key := pos.Key()
	c.mu.Lock()
	if existing, ok := c.positions[key]; ok && existing.Entry != nil && pos.Entry == nil {
		pos.Entry = existing.Entry
	}
	c.positions[key] = pos
	delete(c.pending, key)
	delete(c.hints, key)
	c.mu.Unlock()
}

// Get returns the tracked position for a key, if any.
func (c *Catalog) Get(key model.PositionKey) (*model.Position, bool) {
	c.mu.RLock()
	pos, ok := c.positions[key]
	c.mu.RUnlock()
	return pos, ok
}

// Len returns the number of tracked positions.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.positions)
}

// Snapshot returns the tracked positions in stable key order.
func (c *Catalog) Snapshot() []*model.Position {
	c.mu.RLock()
	out := make([]*model.Position, 0, len(c.positions))
	for _, pos := range c.positions {
		out = append(out, pos)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Key().String() < out[j].Key().String()
	})
	return out
}

// NoteRemovalHint records event-side corroboration that a position left the
// wallet. The hint alone never removes; the next error-free full scan does.
func (c *Catalog) NoteRemovalHint(key model.PositionKey) {
	c.mu.Lock()
	c.hints[key] = struct{}{}
	c.mu.Unlock()
}

// ApplyFullScan reconciles the catalog against a full scan. Everything the
// scan found is upserted. Absences are processed only when the scan was
// error free.
func (c *Catalog) ApplyFullScan(result *ScanResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, pos := range result.Positions {
		if existing, ok := c.positions[key]; ok && existing.Entry != nil && pos.Entry == nil {
			pos.Entry = existing.Entry
		}
		c.positions[key] = pos
		delete(c.pending, key)
		delete(c.hints, key)
	}

	if result.HadErrors {
		c.logger.Warn("scan had errors, removal reconciliation skipped",
			zap.Int("pending_removals", len(c.pending)))
		return
	}

	for key := range c.positions {
		if _, found := result.Positions[key]; found {
			continue
		}
		if _, corroborated := c.hints[key]; corroborated {
			delete(c.positions, key)
			delete(c.pending, key)
			delete(c.hints, key)
			c.logger.Info("position removed, exit corroborated by transfer",
				zap.String("position", key.String()))
			continue
		}
		c.pending[key]++
		if c.pending[key] >= c.debounceScans {
			delete(c.positions, key)
			delete(c.pending, key)
			c.logger.Info("position removed after repeated absence",
				zap.String("position", key.String()),
				zap.Int("scans", c.debounceScans))
		} else {
			c.logger.Info("position missing from scan, awaiting confirmation",
				zap.String("position", key.String()),
				zap.Int("strike", c.pending[key]))
		}
	}
}
