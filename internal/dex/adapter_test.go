package dex

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/reiserFSs/hyperevmlpmonitor/internal/chain"
	"github.com/reiserFSs/hyperevmlpmonitor/internal/model"
)

// fakeCaller answers calls from a canned response table keyed by target and
// selector, and counts every request it serves.
type fakeCaller struct {
	mu        sync.Mutex
	calls     int
	responses map[string][]byte
	batchErr  error
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{responses: make(map[string][]byte), batchErr: errors.New("no multicall")}
}

func callKey(target common.Address, data []byte) string {
	return target.Hex() + "/" + common.Bytes2Hex(data[:4])
}

func (f *fakeCaller) set(target common.Address, data []byte, resp []byte) {
	f.responses[callKey(target, data)] = resp
}

func (f *fakeCaller) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if resp, ok := f.responses[callKey(*msg.To, msg.Data)]; ok {
		return resp, nil
	}
	return nil, errors.New("unexpected call")
}

func (f *fakeCaller) Multicall(_ context.Context, calls []chain.Call, _ *big.Int) ([]chain.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	results := make([]chain.Result, len(calls))
	for i, call := range calls {
		if resp, ok := f.responses[callKey(call.Target, call.CallData)]; ok {
			results[i] = chain.Result{Success: true, ReturnData: resp}
		}
	}
	return results, nil
}

func packSlot0(t *testing.T, sqrt *big.Int, tick int64) []byte {
	t.Helper()
	poolABI, err := V3PoolABI()
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}
	out, err := poolABI.Methods["slot0"].Outputs.Pack(
		sqrt, big.NewInt(tick), uint16(0), uint16(0), uint16(0), uint8(0), true)
	if err != nil {
		t.Fatalf("pack slot0: %v", err)
	}
	return out
}

func packGlobalStateV1(t *testing.T, sqrt *big.Int, tick int64) []byte {
	t.Helper()
	algebraABI, err := AlgebraPoolV1ABI()
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}
	out, err := algebraABI.Methods["globalState"].Outputs.Pack(
		sqrt, big.NewInt(tick), uint16(100), uint16(0), uint8(0), uint8(0), true)
	if err != nil {
		t.Fatalf("pack globalState: %v", err)
	}
	return out
}

func packGlobalStateV3(t *testing.T, sqrt *big.Int, tick int64) []byte {
	t.Helper()
	algebraABI, err := AlgebraPoolV3ABI()
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}
	out, err := algebraABI.Methods["globalState"].Outputs.Pack(
		sqrt, big.NewInt(tick), uint16(100), uint8(0), uint16(0), true)
	if err != nil {
		t.Fatalf("pack globalState: %v", err)
	}
	return out
}

func packAddress(addr common.Address) []byte {
	return common.LeftPadBytes(addr.Bytes(), 32)
}

// wireStandardPool registers slot0 plus token accessor responses.
func wireStandardPool(t *testing.T, caller *fakeCaller, pool common.Address, tick int64) {
	t.Helper()
	poolABI, err := V3PoolABI()
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}
	data0, _ := poolABI.Pack("token0")
	data1, _ := poolABI.Pack("token1")

	caller.set(pool, slot0Selector, packSlot0(t, new(big.Int).Lsh(big.NewInt(1), 96), tick))
	caller.set(pool, data0, packAddress(common.HexToAddress("0x1111")))
	caller.set(pool, data1, packAddress(common.HexToAddress("0x2222")))
}

func TestPoolStateCachedWithinTTL(t *testing.T) {
	caller := newFakeCaller()
	pool := common.HexToAddress("0xabcd")
	wireStandardPool(t, caller, pool, 1200)

	adapter := NewAdapter(caller, NewTokenRegistry(caller, nil), time.Minute, nil)
	adapter.SetHead(100)

	ctx := context.Background()
	first, err := adapter.PoolState(ctx, pool, model.DexUniswapV3)
	if err != nil {
		t.Fatalf("first read: %v", err)
	}
	if first.Tick != 1200 {
		t.Fatalf("tick mismatch: %d", first.Tick)
	}
	if first.Method != "uniswap_v3" {
		t.Fatalf("method mismatch: %s", first.Method)
	}

	before := caller.count()
	second, err := adapter.PoolState(ctx, pool, model.DexUniswapV3)
	if err != nil {
		t.Fatalf("second read: %v", err)
	}
	if caller.count() != before {
		t.Fatalf("cached read issued %d extra calls", caller.count()-before)
	}
	if second.Tick != first.Tick {
		t.Fatalf("cached state diverged: %d != %d", second.Tick, first.Tick)
	}
}

func TestPoolStateRefetchesOnNewHead(t *testing.T) {
	caller := newFakeCaller()
	pool := common.HexToAddress("0xabcd")
	wireStandardPool(t, caller, pool, 1200)

	adapter := NewAdapter(caller, NewTokenRegistry(caller, nil), time.Minute, nil)
	adapter.SetHead(100)

	ctx := context.Background()
	if _, err := adapter.PoolState(ctx, pool, model.DexUniswapV3); err != nil {
		t.Fatalf("first read: %v", err)
	}

	adapter.SetHead(101)
	before := caller.count()
	if _, err := adapter.PoolState(ctx, pool, model.DexUniswapV3); err != nil {
		t.Fatalf("second read: %v", err)
	}
	if caller.count() == before {
		t.Fatalf("new head must invalidate the cache")
	}
}

func TestDecodeAlgebraStateShapeOrder(t *testing.T) {
	sqrt := new(big.Int).Lsh(big.NewInt(1), 96)

	state, method, ok := decodeAlgebraState(packGlobalStateV1(t, sqrt, 777))
	if !ok || method != "algebra_v1_abi" {
		t.Fatalf("v1 shape: ok=%v method=%s", ok, method)
	}
	if state.Tick != 777 {
		t.Fatalf("v1 tick mismatch: %d", state.Tick)
	}

	// The v3 shape is one word shorter, so the v1 unpack fails on it.
	state, method, ok = decodeAlgebraState(packGlobalStateV3(t, sqrt, -777))
	if !ok || method != "algebra_v3_abi" {
		t.Fatalf("v3 shape: ok=%v method=%s", ok, method)
	}
	if state.Tick != -777 {
		t.Fatalf("v3 tick mismatch: %d", state.Tick)
	}
}

func TestDecodeAlgebraStateFallsBackToRawStrategies(t *testing.T) {
	// 64 raw bytes that fit no ABI shape but parse under the packed layout.
	raw := make([]byte, 64)
	sqrt := new(big.Int).Lsh(big.NewInt(1), 96)
	copy(raw[32-len(sqrt.Bytes()):32], sqrt.Bytes())
	raw[34] = 0x64 // tick = 100

	_, method, ok := decodeAlgebraState(raw)
	if !ok {
		t.Fatalf("raw fallback not reached")
	}
	if method != "raw_uint160_int24_packed" {
		t.Fatalf("wrong method: %s", method)
	}
}

func TestPoolStateAlgebraFallsBackToSlot0(t *testing.T) {
	caller := newFakeCaller()
	pool := common.HexToAddress("0xabcd")
	// No globalState response wired: the call errors and slot0 takes over.
	wireStandardPool(t, caller, pool, 42)

	adapter := NewAdapter(caller, NewTokenRegistry(caller, nil), time.Minute, nil)
	ctx := context.Background()

	state, err := adapter.PoolState(ctx, pool, model.DexAlgebraIntegral)
	if err != nil {
		t.Fatalf("fallback read: %v", err)
	}
	if state.Method != "uniswap_v3" {
		t.Fatalf("expected slot0 fallback, got method %s", state.Method)
	}
	if state.Tick != 42 {
		t.Fatalf("tick mismatch: %d", state.Tick)
	}
}

func TestPoolStateInsaneTickFailsEveryStrategy(t *testing.T) {
	caller := newFakeCaller()
	pool := common.HexToAddress("0xabcd")
	caller.set(pool, slot0Selector, packSlot0(t, new(big.Int).Lsh(big.NewInt(1), 96), 2_000_000))

	adapter := NewAdapter(caller, NewTokenRegistry(caller, nil), time.Minute, nil)
	if _, err := adapter.PoolState(context.Background(), pool, model.DexUniswapV3); err == nil {
		t.Fatalf("tick 2000000 must fail the sanity check")
	}
}

func TestPrefetchWarmsCacheInOneBatch(t *testing.T) {
	caller := newFakeCaller()
	caller.batchErr = nil
	pool := common.HexToAddress("0xabcd")
	wireStandardPool(t, caller, pool, 1200)

	ctx := context.Background()
	tokens := NewTokenRegistry(caller, nil)
	// Warm the token metadata so the batch is the only traffic left.
	tokens.Info(ctx, common.HexToAddress("0x1111"))
	tokens.Info(ctx, common.HexToAddress("0x2222"))

	adapter := NewAdapter(caller, tokens, time.Minute, nil)
	adapter.SetHead(100)

	before := caller.count()
	adapter.Prefetch(ctx, []PoolRef{{Address: pool, DexType: model.DexUniswapV3}})
	if got := caller.count() - before; got != 1 {
		t.Fatalf("prefetch cost %d requests, want 1", got)
	}

	state, err := adapter.PoolState(ctx, pool, model.DexUniswapV3)
	if err != nil {
		t.Fatalf("state after prefetch: %v", err)
	}
	if caller.count() != before+1 {
		t.Fatalf("prefetched pool should be served from cache")
	}
	if state.Tick != 1200 {
		t.Fatalf("prefetched tick mismatch: %d", state.Tick)
	}
}

func TestPoolAddressZeroMeansNoPool(t *testing.T) {
	caller := newFakeCaller()
	factory := common.HexToAddress("0xfac")
	factoryABI, err := FactoryABI()
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}
	data, _ := factoryABI.Pack("getPool",
		common.HexToAddress("0x1111"), common.HexToAddress("0x2222"), big.NewInt(3000))
	caller.set(factory, data, packAddress(common.Address{}))

	adapter := NewAdapter(caller, NewTokenRegistry(caller, nil), time.Minute, nil)
	pool, err := adapter.PoolAddress(context.Background(), factory,
		common.HexToAddress("0x1111"), common.HexToAddress("0x2222"), 3000, model.DexUniswapV3)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if pool != (common.Address{}) {
		t.Fatalf("expected zero address, got %s", pool.Hex())
	}
}
