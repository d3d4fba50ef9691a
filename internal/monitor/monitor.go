// Package monitor drives the check cycle: reconcile the catalog, read pool
// state for every tracked position, derive range status, and hand the
// results to the configured sinks.
package monitor

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/reiserFSs/hyperevmlpmonitor/internal/catalog"
	"github.com/reiserFSs/hyperevmlpmonitor/internal/chain"
	"github.com/reiserFSs/hyperevmlpmonitor/internal/dex"
	"github.com/reiserFSs/hyperevmlpmonitor/internal/entry"
	"github.com/reiserFSs/hyperevmlpmonitor/internal/model"
	"github.com/reiserFSs/hyperevmlpmonitor/internal/pricing"
	"github.com/reiserFSs/hyperevmlpmonitor/internal/storage"
)

// maxEventBacklog caps how far behind head a persisted cursor may start.
// Anything older is covered by the startup full scan anyway, so the event
// window is clamped instead of replaying arbitrary downtime.
const maxEventBacklog uint64 = 12000

// positionScanner is the slice of the catalog scanner the monitor drives.
type positionScanner interface {
	FullScan(ctx context.Context, dexes []model.DexConfig) *catalog.ScanResult
	Build(ctx context.Context, cfg model.DexConfig, tokenID *big.Int) (*model.Position, error)
	RefreshLiquidity(ctx context.Context, pos *model.Position) (*big.Int, error)
}

// poolStates is the slice of the protocol adapter the cycle needs.
type poolStates interface {
	SetHead(block uint64)
	Prefetch(ctx context.Context, refs []dex.PoolRef)
	PoolState(ctx context.Context, pool common.Address, dexType model.DexType) (*model.PoolState, error)
}

type feeSource interface {
	UnclaimedFees(ctx context.Context, manager, owner common.Address, tokenID *big.Int, token0, token1 model.TokenInfo) model.FeeReport
}

type entrySource interface {
	Resolve(ctx context.Context, pos *model.Position) *model.EntryDetail
}

// Options tunes the cycle loop.
type Options struct {
	Wallet         common.Address
	Dexes          []model.DexConfig
	CheckInterval  time.Duration
	RescanInterval time.Duration
	Workers        int // 0 sizes from the position count
}

// Monitor owns one wallet's check loop.
type Monitor struct {
	gate     *chain.Gate
	adapter  poolStates
	fees     feeSource
	scanner  positionScanner
	catalog  *catalog.Catalog
	watcher  *catalog.EventWatcher
	cursor   *catalog.CursorStore
	resolver entrySource
	sinks    []storage.Sink
	opts     Options
	logger   *zap.Logger

	lastFullScan time.Time
}

func New(gate *chain.Gate, adapter *dex.Adapter, fees *dex.FeeOracle, scanner *catalog.Scanner, cat *catalog.Catalog, watcher *catalog.EventWatcher, cursor *catalog.CursorStore, resolver *entry.Resolver, sinks []storage.Sink, opts Options, logger *zap.Logger) *Monitor {
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = 30 * time.Second
	}
	if opts.RescanInterval <= 0 {
		opts.RescanInterval = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		gate:     gate,
		adapter:  adapter,
		fees:     fees,
		scanner:  scanner,
		catalog:  cat,
		watcher:  watcher,
		cursor:   cursor,
		resolver: resolver,
		sinks:    sinks,
		opts:     opts,
		logger:   logger,
	}
}

// Run blocks until the context is cancelled. The first cycle starts with a
// full ownership scan; later cycles maintain the catalog incrementally and
// force a fresh full scan every RescanInterval.
func (m *Monitor) Run(ctx context.Context) error {
	head, err := m.gate.BlockNumber(ctx)
	if err != nil {
		return err
	}

	// A missing cursor means "never scanned": start from the current head
	// rather than replaying history the full scan already covers.
	cur, found, err := m.cursor.Load()
	if err != nil {
		m.logger.Warn("cursor unreadable, starting from head", zap.Error(err))
	}
	lastScanned := head
	if found {
		lastScanned = clampCursor(cur.LastScannedBlock, head)
		if lastScanned != cur.LastScannedBlock {
			m.logger.Warn("event cursor stale, clamping window",
				zap.Uint64("cursor", cur.LastScannedBlock),
				zap.Uint64("clamped_to", lastScanned))
		}
	}

	m.adapter.SetHead(head)
	m.refreshCatalog(ctx)

	if m.runCycle(ctx, head) {
		m.refreshCatalog(ctx)
	}

	ticker := time.NewTicker(m.opts.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		head, err := m.gate.BlockNumber(ctx)
		if err != nil {
			m.logger.Warn("head unavailable, skipping cycle", zap.Error(err))
			continue
		}
		m.adapter.SetHead(head)
		m.maintain(ctx, head, &lastScanned)
		if m.runCycle(ctx, head) {
			m.refreshCatalog(ctx)
		}
	}
}

// refreshCatalog runs one full scan and reconciles the catalog against it.
func (m *Monitor) refreshCatalog(ctx context.Context) {
	m.catalog.ApplyFullScan(m.scanner.FullScan(ctx, m.opts.Dexes))
	m.lastFullScan = time.Now()
}

// maintain keeps the catalog current: an incremental event window most
// cycles, a forced full scan once RescanInterval has elapsed.
func (m *Monitor) maintain(ctx context.Context, head uint64, lastScanned *uint64) {
	if time.Since(m.lastFullScan) >= m.opts.RescanInterval {
		m.refreshCatalog(ctx)
	}

	if *lastScanned >= head {
		return
	}

	activity, err := m.watcher.Scan(ctx, *lastScanned+1, head)
	if err != nil {
		// The cursor stays put so the window is retried next cycle.
		m.logger.Warn("event window failed, cursor not advanced", zap.Error(err))
		return
	}

	for _, hint := range activity.Added {
		pos, err := m.scanner.Build(ctx, hint.Dex, hint.TokenID)
		if err != nil {
			m.logger.Warn("new position unreadable",
				zap.String("dex", hint.Dex.Name),
				zap.String("token_id", hint.TokenID.String()),
				zap.Error(err))
			continue
		}
		if pos == nil {
			continue
		}
		m.catalog.Upsert(pos)
		m.logger.Info("position added from events", zap.String("position", pos.Key().String()))
	}

	for _, key := range activity.Removed {
		m.catalog.NoteRemovalHint(key)
	}

	needRescan := false
	for _, key := range activity.Changed {
		pos, ok := m.catalog.Get(key)
		if !ok {
			continue
		}
		liquidity, err := m.scanner.RefreshLiquidity(ctx, pos)
		if err != nil {
			continue
		}
		if liquidity.Sign() == 0 {
			needRescan = true
		}
	}
	// Removal stays with the scan reconciliation; a zero read only makes
	// the confirming scan happen now instead of at the next rescan tick.
	if needRescan {
		m.refreshCatalog(ctx)
	}

	*lastScanned = head
	if err := m.cursor.Save(head); err != nil {
		m.logger.Warn("cursor save failed", zap.Error(err))
	}
}

// runCycle checks every tracked position against live pool state and
// reports the batch to the sinks. It returns true when a position read zero
// liquidity, asking the caller for an immediate catalog refresh.
func (m *Monitor) runCycle(ctx context.Context, head uint64) bool {
	positions := m.catalog.Snapshot()
	if len(positions) == 0 {
		m.logger.Info("no positions to check")
		return false
	}

	m.adapter.Prefetch(ctx, poolRefs(positions))

	checked := make([]model.CheckedPosition, len(positions))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workerCount(len(positions), m.opts.Workers))

	var zeroMu sync.Mutex
	var zeroed []model.PositionKey

	for i, pos := range positions {
		i, pos := i, pos
		group.Go(func() error {
			status, zeroRead := m.checkPosition(groupCtx, pos, head)
			if zeroRead {
				zeroMu.Lock()
				zeroed = append(zeroed, pos.Key())
				zeroMu.Unlock()
			}
			checked[i] = model.CheckedPosition{Position: pos, Status: status}
			return nil
		})
	}
	_ = group.Wait()

	for _, key := range zeroed {
		m.logger.Info("position read zero liquidity, scheduling rescan",
			zap.String("position", key.String()))
	}

	m.report(ctx, checked, zeroed)
	return len(zeroed) > 0
}

// checkPosition derives one position's status. A nil status means the pool
// could not be read this cycle; zeroRead reports a zero-liquidity read,
// which the scan reconciliation confirms before the position is dropped.
func (m *Monitor) checkPosition(ctx context.Context, pos *model.Position, head uint64) (status *model.PositionStatus, zeroRead bool) {
	liquidity, err := m.scanner.RefreshLiquidity(ctx, pos)
	if err != nil {
		m.logger.Debug("liquidity refresh failed, using last known value",
			zap.String("position", pos.Key().String()), zap.Error(err))
	} else if liquidity.Sign() == 0 {
		return nil, true
	}

	if pos.Entry == nil {
		pos.Entry = m.resolver.Resolve(ctx, pos)
	}

	if pos.PoolAddress == "" {
		return nil, false
	}
	state, err := m.adapter.PoolState(ctx, common.HexToAddress(pos.PoolAddress), pos.DexType)
	if err != nil {
		m.logger.Warn("pool state unavailable",
			zap.String("position", pos.Key().String()), zap.Error(err))
		return nil, false
	}

	dec0, dec1 := state.Token0.Decimals, state.Token1.Decimals
	amount0, amount1 := pricing.TokenAmounts(pos.Liquidity, state.Tick, pos.TickLower, pos.TickUpper, dec0, dec1)
	theo0, theo1 := pricing.TheoreticalAmounts(pos.Liquidity, pos.TickLower, pos.TickUpper, dec0, dec1)

	status = &model.PositionStatus{
		InRange:         inRange(state.Tick, pos.TickLower, pos.TickUpper),
		FullRange:       pricing.IsFullRange(pos.TickLower, pos.TickUpper),
		CurrentTick:     state.Tick,
		CurrentPrice:    state.Price,
		LowerPrice:      pricing.TickToPrice(pos.TickLower, dec0, dec1),
		UpperPrice:      pricing.TickToPrice(pos.TickUpper, dec0, dec1),
		DistanceToLower: state.Tick - pos.TickLower,
		DistanceToUpper: pos.TickUpper - state.Tick,
		Amount0:         amount0,
		Amount1:         amount1,
		Theoretical0:    theo0,
		Theoretical1:    theo1,
		Method:          state.Method,
		Block:           head,
		CheckedAt:       time.Now().UTC(),
	}

	status.Fees = m.fees.UnclaimedFees(ctx,
		common.HexToAddress(pos.PositionManager), m.opts.Wallet, pos.TokenID,
		state.Token0, state.Token1)

	return status, false
}

func (m *Monitor) report(ctx context.Context, checked []model.CheckedPosition, zeroed []model.PositionKey) {
	// Positions that read zero liquidity mid-cycle are dropped from the
	// batch; they stay in the catalog until a scan confirms the exit.
	zeroSet := make(map[model.PositionKey]struct{}, len(zeroed))
	for _, key := range zeroed {
		zeroSet[key] = struct{}{}
	}

	out := checked[:0]
	var inRangeN, outOfRange, unknown int
	for _, snap := range checked {
		if _, gone := zeroSet[snap.Position.Key()]; gone {
			continue
		}
		out = append(out, snap)
		switch {
		case snap.Status == nil:
			unknown++
		case snap.Status.InRange:
			inRangeN++
		default:
			outOfRange++
		}
	}

	m.logger.Info("cycle finished",
		zap.Int("positions", len(out)),
		zap.Int("in_range", inRangeN),
		zap.Int("out_of_range", outOfRange),
		zap.Int("unknown", unknown))

	wallet := m.opts.Wallet.Hex()
	for _, sink := range m.sinks {
		if err := sink.PutSnapshots(ctx, wallet, out); err != nil {
			m.logger.Error("sink write failed", zap.Error(err))
		}
	}
}

// inRange reports whether a tick sits inside a range, both bounds
// inclusive.
func inRange(tick, lower, upper int32) bool {
	return tick >= lower && tick <= upper
}

// clampCursor bounds a persisted cursor to maxEventBacklog behind head.
func clampCursor(last, head uint64) uint64 {
	if head > maxEventBacklog && last < head-maxEventBacklog {
		return head - maxEventBacklog
	}
	return last
}

// poolRefs collects the unique pools behind a position set.
func poolRefs(positions []*model.Position) []dex.PoolRef {
	seen := make(map[dex.PoolRef]struct{})
	refs := make([]dex.PoolRef, 0, len(positions))
	for _, pos := range positions {
		if pos.PoolAddress == "" {
			continue
		}
		ref := dex.PoolRef{Address: common.HexToAddress(pos.PoolAddress), DexType: pos.DexType}
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		refs = append(refs, ref)
	}
	return refs
}

// workerCount sizes the check pool: half the position count, floored at 4
// and capped at 16, unless overridden.
func workerCount(positions, override int) int {
	if override > 0 {
		return override
	}
	n := positions / 2
	if n < 4 {
		n = 4
	}
	if n > 16 {
		n = 16
	}
	return n
}
