package dex

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/reiserFSs/hyperevmlpmonitor/internal/chain"
	"github.com/reiserFSs/hyperevmlpmonitor/internal/model"
	"github.com/reiserFSs/hyperevmlpmonitor/internal/pricing"
)

// ErrNoPoolState means every decoding strategy for a pool was exhausted.
var ErrNoPoolState = errors.New("no pool state strategy succeeded")

// ContractCaller is the slice of the RPC gate needed for plain reads.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// BatchCaller adds the batched read primitive. A failed Multicall is a
// degraded batch, not a hard failure; callers fall back to serial reads.
type BatchCaller interface {
	ContractCaller
	Multicall(ctx context.Context, calls []chain.Call, blockNumber *big.Int) ([]chain.Result, error)
}

// PoolRef identifies a pool together with its expected state layout.
type PoolRef struct {
	Address common.Address
	DexType model.DexType
}

type cacheEntry struct {
	state     model.PoolState
	fetchedAt time.Time
	head      uint64
}

// Adapter normalizes the incompatible pool-state layouts behind one
// PoolState call, caching results per (pool, dex type).
type Adapter struct {
	caller BatchCaller
	tokens *TokenRegistry
	logger *zap.Logger
	ttl    time.Duration

	mu    sync.RWMutex
	head  uint64
	cache map[PoolRef]cacheEntry

	now func() time.Time
}

// NewAdapter builds an adapter with the given cache TTL.
func NewAdapter(caller BatchCaller, tokens *TokenRegistry, ttl time.Duration, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Adapter{
		caller: caller,
		tokens: tokens,
		logger: logger,
		ttl:    ttl,
		cache:  make(map[PoolRef]cacheEntry),
		now:    time.Now,
	}
}

// SetHead pins the head block for the current cycle. Cache entries fetched
// under an older head are stale even inside the TTL.
func (a *Adapter) SetHead(block uint64) {
	a.mu.Lock()
	a.head = block
	a.mu.Unlock()
}

// PoolState returns the normalized state for a pool, served from cache when
// fresh. The returned state's Method field records the strategy used.
func (a *Adapter) PoolState(ctx context.Context, pool common.Address, dexType model.DexType) (*model.PoolState, error) {
	ref := PoolRef{Address: pool, DexType: dexType}

	a.mu.RLock()
	entry, ok := a.cache[ref]
	head := a.head
	a.mu.RUnlock()
	if ok && a.now().Sub(entry.fetchedAt) < a.ttl && (head == 0 || entry.head == head) {
		state := entry.state
		return &state, nil
	}

	state, err := a.fetchState(ctx, pool, dexType, nil)
	if err != nil {
		return nil, err
	}
	state.Block = head
	a.storeState(ref, *state, head)
	return state, nil
}

// PoolStateAt performs an uncached archival read at a historical block.
func (a *Adapter) PoolStateAt(ctx context.Context, pool common.Address, dexType model.DexType, block uint64) (*model.PoolState, error) {
	state, err := a.fetchState(ctx, pool, dexType, new(big.Int).SetUint64(block))
	if err != nil {
		return nil, err
	}
	state.Block = block
	return state, nil
}

func (a *Adapter) storeState(ref PoolRef, state model.PoolState, head uint64) {
	a.mu.Lock()
	a.cache[ref] = cacheEntry{state: state, fetchedAt: state.FetchedAt, head: head}
	a.mu.Unlock()
}

var (
	globalStateSelector = crypto.Keccak256([]byte("globalState()"))[:4]
	slot0Selector       = crypto.Keccak256([]byte("slot0()"))[:4]
)

// fetchState reads and decodes the pool state. Algebra-style pools try the
// v1 ABI shape, the v3 shape, then the raw byte-layout strategies on the
// globalState return; if all fail the standard slot0 layout is the last
// resort. Standard pools read slot0 directly.
func (a *Adapter) fetchState(ctx context.Context, pool common.Address, dexType model.DexType, block *big.Int) (*model.PoolState, error) {
	var (
		raw    rawGlobalState
		method string
	)

	decoded := false
	if dexType == model.DexAlgebraIntegral {
		data, err := a.rawCall(ctx, pool, globalStateSelector, block)
		if err == nil {
			if state, name, ok := decodeAlgebraState(data); ok {
				raw, method, decoded = state, name, true
			} else {
				a.logger.Debug("globalState decode failed on every strategy",
					zap.String("pool", pool.Hex()))
			}
		} else {
			a.logger.Debug("globalState call failed", zap.String("pool", pool.Hex()), zap.Error(err))
		}
	}

	if !decoded {
		data, err := a.rawCall(ctx, pool, slot0Selector, block)
		if err != nil {
			return nil, fmt.Errorf("pool %s: %w", pool.Hex(), err)
		}
		state, ok := decodeSlot0State(data)
		if !ok {
			return nil, fmt.Errorf("pool %s: %w", pool.Hex(), ErrNoPoolState)
		}
		raw, method = state, "uniswap_v3"
	}

	token0, token1, err := a.poolTokens(ctx, pool, block)
	if err != nil {
		return nil, fmt.Errorf("pool %s tokens: %w", pool.Hex(), err)
	}

	info0 := a.tokens.Info(ctx, token0)
	info1 := a.tokens.Info(ctx, token1)

	return &model.PoolState{
		Tick:         raw.Tick,
		SqrtPriceX96: raw.SqrtPriceX96,
		Price:        pricing.SqrtPriceX96ToPrice(raw.SqrtPriceX96, info0.Decimals, info1.Decimals),
		Token0:       info0,
		Token1:       info1,
		Method:       method,
		FetchedAt:    a.now(),
	}, nil
}

func (a *Adapter) rawCall(ctx context.Context, target common.Address, selector []byte, block *big.Int) ([]byte, error) {
	msg := ethereum.CallMsg{To: &target, Data: selector}
	return a.caller.CallContract(ctx, msg, block)
}

// decodeAlgebraState tries the known globalState shapes in order and
// accepts the first decode whose tick and sqrt price are sane.
func decodeAlgebraState(data []byte) (rawGlobalState, string, bool) {
	if v1, err := AlgebraPoolV1ABI(); err == nil {
		if values, err := v1.Unpack("globalState", data); err == nil {
			if state, ok := stateFromABIValues(values); ok {
				return state, "algebra_v1_abi", true
			}
		}
	}
	if v3, err := AlgebraPoolV3ABI(); err == nil {
		if values, err := v3.Unpack("globalState", data); err == nil {
			if state, ok := stateFromABIValues(values); ok {
				return state, "algebra_v3_abi", true
			}
		}
	}
	if state, name, ok := parseRawGlobalState(data); ok {
		return state, "raw_" + name, true
	}
	return rawGlobalState{}, "", false
}

func decodeSlot0State(data []byte) (rawGlobalState, bool) {
	poolABI, err := V3PoolABI()
	if err != nil {
		return rawGlobalState{}, false
	}
	values, err := poolABI.Unpack("slot0", data)
	if err != nil {
		return rawGlobalState{}, false
	}
	return stateFromABIValues(values)
}

// stateFromABIValues extracts (sqrtPriceX96, tick) from unpacked outputs
// and applies the shared sanity predicate.
func stateFromABIValues(values []interface{}) (rawGlobalState, bool) {
	if len(values) < 2 {
		return rawGlobalState{}, false
	}
	sqrt, err := asBigInt(values[0])
	if err != nil {
		return rawGlobalState{}, false
	}
	tickInt, err := asBigInt(values[1])
	if err != nil {
		return rawGlobalState{}, false
	}
	if !tickInt.IsInt64() || !pricing.ValidTick(tickInt.Int64()) {
		return rawGlobalState{}, false
	}
	state := rawGlobalState{SqrtPriceX96: sqrt, Tick: int32(tickInt.Int64())}
	if !saneState(state) {
		return rawGlobalState{}, false
	}
	return state, true
}

// poolTokens resolves token0/token1 with one multicall round trip, falling
// back to two serial calls when the batch degrades.
func (a *Adapter) poolTokens(ctx context.Context, pool common.Address, block *big.Int) (common.Address, common.Address, error) {
	poolABI, err := V3PoolABI()
	if err != nil {
		return common.Address{}, common.Address{}, err
	}

	data0, err0 := poolABI.Pack("token0")
	data1, err1 := poolABI.Pack("token1")
	if err0 == nil && err1 == nil {
		results, err := a.caller.Multicall(ctx, []chain.Call{
			{Target: pool, CallData: data0},
			{Target: pool, CallData: data1},
		}, block)
		if err == nil && len(results) == 2 && results[0].Success && results[1].Success {
			token0, ok0 := addressFromReturn(poolABI, "token0", results[0].ReturnData)
			token1, ok1 := addressFromReturn(poolABI, "token1", results[1].ReturnData)
			if ok0 && ok1 {
				return token0, token1, nil
			}
		}
		if err != nil {
			a.logger.Debug("token multicall degraded, falling back to serial calls",
				zap.String("pool", pool.Hex()), zap.Error(err))
		}
	}

	values, err := callMethod(ctx, a.caller, pool, poolABI, "token0", block)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	token0, err := asAddress(values[0])
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	values, err = callMethod(ctx, a.caller, pool, poolABI, "token1", block)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	token1, err := asAddress(values[0])
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	return token0, token1, nil
}

func addressFromReturn(parsed abi.ABI, method string, data []byte) (common.Address, bool) {
	values, err := parsed.Unpack(method, data)
	if err != nil || len(values) != 1 {
		return common.Address{}, false
	}
	addr, err := asAddress(values[0])
	if err != nil {
		return common.Address{}, false
	}
	return addr, true
}

// Prefetch warms the state cache for a set of pools with one multicall
// round trip carrying state plus token0/token1 reads for every pool.
// Failures are logged and ignored; the per-position path will fetch
// serially as usual.
func (a *Adapter) Prefetch(ctx context.Context, refs []PoolRef) {
	if len(refs) == 0 {
		return
	}
	poolABI, err := V3PoolABI()
	if err != nil {
		return
	}
	data0, err0 := poolABI.Pack("token0")
	data1, err1 := poolABI.Pack("token1")
	if err0 != nil || err1 != nil {
		return
	}

	calls := make([]chain.Call, 0, 3*len(refs))
	for _, ref := range refs {
		selector := slot0Selector
		if ref.DexType == model.DexAlgebraIntegral {
			selector = globalStateSelector
		}
		calls = append(calls,
			chain.Call{Target: ref.Address, CallData: selector},
			chain.Call{Target: ref.Address, CallData: data0},
			chain.Call{Target: ref.Address, CallData: data1})
	}

	results, err := a.caller.Multicall(ctx, calls, nil)
	if err != nil {
		a.logger.Debug("pool prefetch degraded", zap.Error(err))
		return
	}
	if len(results) != len(calls) {
		return
	}

	a.mu.RLock()
	head := a.head
	a.mu.RUnlock()

	for i, ref := range refs {
		stateRes, t0Res, t1Res := results[3*i], results[3*i+1], results[3*i+2]
		if !stateRes.Success {
			continue
		}
		var (
			raw    rawGlobalState
			method string
			ok     bool
		)
		if ref.DexType == model.DexAlgebraIntegral {
			raw, method, ok = decodeAlgebraState(stateRes.ReturnData)
		} else {
			raw, ok = decodeSlot0State(stateRes.ReturnData)
			method = "uniswap_v3"
		}
		if !ok {
			continue
		}

		var token0, token1 common.Address
		ok0, ok1 := false, false
		if t0Res.Success {
			token0, ok0 = addressFromReturn(poolABI, "token0", t0Res.ReturnData)
		}
		if t1Res.Success {
			token1, ok1 = addressFromReturn(poolABI, "token1", t1Res.ReturnData)
		}
		if !ok0 || !ok1 {
			token0, token1, err = a.poolTokens(ctx, ref.Address, nil)
			if err != nil {
				continue
			}
		}
		info0 := a.tokens.Info(ctx, token0)
		info1 := a.tokens.Info(ctx, token1)

		state := model.PoolState{
			Tick:         raw.Tick,
			SqrtPriceX96: raw.SqrtPriceX96,
			Price:        pricing.SqrtPriceX96ToPrice(raw.SqrtPriceX96, info0.Decimals, info1.Decimals),
			Token0:       info0,
			Token1:       info1,
			Method:       method,
			Block:        head,
			FetchedAt:    a.now(),
		}
		a.storeState(ref, state, head)
	}
}

// DetectDexType probes whether a factory answers the Algebra pair-lookup
// method. Best-effort: callers must tolerate misdetection by falling back
// to the other lookup on failure.
func (a *Adapter) DetectDexType(ctx context.Context, factory common.Address) model.DexType {
	algebraABI, err := AlgebraFactoryABI()
	if err != nil {
		return model.DexUniswapV3
	}
	values, err := callMethod(ctx, a.caller, factory, algebraABI, "poolByPair", nil,
		common.Address{}, common.Address{})
	if err != nil || len(values) != 1 {
		return model.DexUniswapV3
	}
	if _, err := asAddress(values[0]); err != nil {
		return model.DexUniswapV3
	}
	return model.DexAlgebraIntegral
}

// PoolAddress looks up the pool for a token pair. A zero address means "no
// pool exists" and is not an error. Algebra lookup errors fall back to the
// standard factory method.
func (a *Adapter) PoolAddress(ctx context.Context, factory, token0, token1 common.Address, fee uint32, dexType model.DexType) (common.Address, error) {
	if factory == (common.Address{}) {
		return common.Address{}, fmt.Errorf("factory address unknown")
	}

	if dexType == model.DexAlgebraIntegral {
		algebraABI, err := AlgebraFactoryABI()
		if err != nil {
			return common.Address{}, err
		}
		values, err := callMethod(ctx, a.caller, factory, algebraABI, "poolByPair", nil, token0, token1)
		if err == nil && len(values) == 1 {
			if pool, convErr := asAddress(values[0]); convErr == nil {
				return pool, nil
			}
		}
		a.logger.Debug("poolByPair lookup failed, trying getPool",
			zap.String("factory", factory.Hex()), zap.Error(err))
	}

	factoryABI, err := FactoryABI()
	if err != nil {
		return common.Address{}, err
	}
	values, err := callMethod(ctx, a.caller, factory, factoryABI, "getPool", nil,
		token0, token1, new(big.Int).SetUint64(uint64(fee)))
	if err != nil {
		return common.Address{}, err
	}
	pool, err := asAddress(values[0])
	if err != nil {
		return common.Address{}, err
	}
	return pool, nil
}
