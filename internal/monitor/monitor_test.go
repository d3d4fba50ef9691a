package monitor

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/reiserFSs/hyperevmlpmonitor/internal/catalog"
	"github.com/reiserFSs/hyperevmlpmonitor/internal/dex"
	"github.com/reiserFSs/hyperevmlpmonitor/internal/model"
)

// fakeScanner answers every position read with a fixed liquidity and every
// full scan with a canned result.
type fakeScanner struct {
	liquidity *big.Int
	scan      *catalog.ScanResult
	scans     int
}

func (f *fakeScanner) FullScan(_ context.Context, _ []model.DexConfig) *catalog.ScanResult {
	f.scans++
	if f.scan != nil {
		return f.scan
	}
	return &catalog.ScanResult{Positions: make(map[model.PositionKey]*model.Position)}
}

func (f *fakeScanner) Build(_ context.Context, _ model.DexConfig, _ *big.Int) (*model.Position, error) {
	return nil, errors.New("not wired")
}

func (f *fakeScanner) RefreshLiquidity(_ context.Context, pos *model.Position) (*big.Int, error) {
	pos.Liquidity = f.liquidity
	return f.liquidity, nil
}

type fakePools struct {
	state *model.PoolState
	err   error
}

func (f *fakePools) SetHead(uint64)                          {}
func (f *fakePools) Prefetch(context.Context, []dex.PoolRef) {}

func (f *fakePools) PoolState(_ context.Context, _ common.Address, _ model.DexType) (*model.PoolState, error) {
	if f.err != nil {
		return nil, f.err
	}
	state := *f.state
	return &state, nil
}

type fakeFees struct{}

func (fakeFees) UnclaimedFees(_ context.Context, _, _ common.Address, _ *big.Int, _, _ model.TokenInfo) model.FeeReport {
	return model.FeeReport{}
}

type fakeResolver struct{}

func (fakeResolver) Resolve(_ context.Context, _ *model.Position) *model.EntryDetail {
	return &model.EntryDetail{Strategy: model.EntryUnresolved}
}

func testMonitorPosition() *model.Position {
	return &model.Position{
		TokenID:         big.NewInt(1),
		DexName:         "dex",
		DexType:         model.DexUniswapV3,
		PositionManager: "0x1234",
		PoolAddress:     "0xabcd",
		TickLower:       -1000,
		TickUpper:       1000,
		Liquidity:       big.NewInt(1_000_000),
	}
}

func newTestMonitor(scanner *fakeScanner, pools *fakePools, cat *catalog.Catalog) *Monitor {
	return &Monitor{
		adapter:  pools,
		fees:     fakeFees{},
		scanner:  scanner,
		catalog:  cat,
		resolver: fakeResolver{},
		opts:     Options{Wallet: common.HexToAddress("0xaaaa")},
		logger:   zap.NewNop(),
	}
}

func TestCheckPositionRangeBoundsInclusive(t *testing.T) {
	pos := testMonitorPosition()
	state := &model.PoolState{
		Tick:         1000,
		SqrtPriceX96: new(big.Int).Lsh(big.NewInt(1), 96),
		Price:        1,
		Token0:       model.TokenInfo{Decimals: 18},
		Token1:       model.TokenInfo{Decimals: 18},
		Method:       "uniswap_v3",
	}
	pools := &fakePools{state: state}
	m := newTestMonitor(&fakeScanner{liquidity: big.NewInt(1_000_000)}, pools, nil)

	cases := []struct {
		tick int32
		want bool
	}{
		{1000, true}, // exactly on the upper bound
		{-1000, true},
		{0, true},
		{1001, false},
		{-1001, false},
	}
	for _, tc := range cases {
		state.Tick = tc.tick
		status, zeroRead := m.checkPosition(context.Background(), pos, 100)
		if zeroRead {
			t.Fatalf("tick %d: unexpected zero-liquidity read", tc.tick)
		}
		if status == nil {
			t.Fatalf("tick %d: no status", tc.tick)
		}
		if status.InRange != tc.want {
			t.Fatalf("tick %d: in_range = %v, want %v", tc.tick, status.InRange, tc.want)
		}
	}
}

func TestZeroLiquidityReadRemovesViaScanOnly(t *testing.T) {
	cat := catalog.New(2, nil)
	pos := testMonitorPosition()
	cat.Upsert(pos)

	// Every refresh reads zero; every full scan comes back empty.
	scanner := &fakeScanner{liquidity: big.NewInt(0)}
	m := newTestMonitor(scanner, &fakePools{err: errors.New("not wired")}, cat)

	if !m.runCycle(context.Background(), 100) {
		t.Fatalf("zero read must request a catalog refresh")
	}
	if cat.Len() != 1 {
		t.Fatalf("a zero-liquidity read alone must not drop the position")
	}

	// The confirming scans still go through the debounce.
	m.refreshCatalog(context.Background())
	if cat.Len() != 1 {
		t.Fatalf("first confirming absence is a strike, not a removal")
	}
	m.refreshCatalog(context.Background())
	if cat.Len() != 0 {
		t.Fatalf("second error-free absence should remove the position")
	}
}

func TestClampCursor(t *testing.T) {
	cases := []struct {
		last, head, want uint64
	}{
		{49_990, 50_000, 49_990},       // fresh cursor untouched
		{100, 50_000, 50_000 - 12_000}, // stale cursor clamped
		{5, 100, 5},                    // young chain, nothing to clamp
		{50_000, 50_000, 50_000},       // caught up
	}
	for _, tc := range cases {
		if got := clampCursor(tc.last, tc.head); got != tc.want {
			t.Fatalf("clampCursor(%d, %d) = %d, want %d", tc.last, tc.head, got, tc.want)
		}
	}
}

func TestWorkerCount(t *testing.T) {
	cases := []struct {
		positions, override, want int
	}{
		{1, 0, 4},    // floor
		{8, 0, 4},    // 8/2 = 4
		{20, 0, 10},  // 20/2
		{100, 0, 16}, // cap
		{100, 6, 6},  // explicit override wins
	}
	for _, tc := range cases {
		if got := workerCount(tc.positions, tc.override); got != tc.want {
			t.Fatalf("workerCount(%d, %d) = %d, want %d",
				tc.positions, tc.override, got, tc.want)
		}
	}
}

func TestPoolRefsDeduplicates(t *testing.T) {
	mk := func(id int64, pool string, dexType model.DexType) *model.Position {
		return &model.Position{
			TokenID:     big.NewInt(id),
			DexName:     "dex",
			DexType:     dexType,
			PoolAddress: pool,
			Liquidity:   big.NewInt(1),
		}
	}

	positions := []*model.Position{
		mk(1, "0x1111", model.DexUniswapV3),
		mk(2, "0x1111", model.DexUniswapV3), // same pool, same layout
		mk(3, "0x1111", model.DexAlgebraIntegral),
		mk(4, "", model.DexUniswapV3), // unresolved pool
		mk(5, "0x2222", model.DexUniswapV3),
	}

	refs := poolRefs(positions)
	if len(refs) != 3 {
		t.Fatalf("expected 3 unique refs, got %d", len(refs))
	}
}
