// Package entry reconstructs when and at what price a position was opened.
// Everything here is best effort: chain history may be pruned past the
// lookback horizon, so every lookup has a cheaper fallback behind it.
package entry

import (
	"context"
	"math"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/reiserFSs/hyperevmlpmonitor/internal/dex"
	"github.com/reiserFSs/hyperevmlpmonitor/internal/model"
	"github.com/reiserFSs/hyperevmlpmonitor/internal/pricing"
)

// stablecoins anchor USD entry values. Matching is case-insensitive on the
// raw symbol.
var stablecoins = map[string]struct{}{
	"USDC": {}, "USDT": {}, "USD₮0": {}, "USDE": {}, "DAI": {}, "BUSD": {},
	"TUSD": {}, "FRAX": {}, "USDD": {}, "GUSD": {}, "USDP": {}, "SUSD": {},
	"LUSD": {}, "UST": {}, "CUSD": {}, "USDN": {}, "RSV": {}, "MUSD": {},
	"USDX": {}, "USDK": {}, "USDS": {}, "DUSD": {}, "USD": {}, "USDJ": {},
}

// IsStablecoin reports whether a symbol is treated as a USD anchor.
func IsStablecoin(symbol string) bool {
	_, ok := stablecoins[strings.ToUpper(symbol)]
	return ok
}

// ChainReader is the slice of the RPC gate the resolver needs.
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topics [][]common.Hash) ([]types.Log, error)
}

// StateReader reads historical pool state for entry pricing.
type StateReader interface {
	PoolStateAt(ctx context.Context, pool common.Address, dexType model.DexType, block uint64) (*model.PoolState, error)
}

// Config bounds the backward event search.
type Config struct {
	ChunkSize uint64 // blocks per getLogs window
	Lookback  uint64 // how far behind head the search gives up
}

// Resolver reconstructs entry details from mint and liquidity events, with
// a range-midpoint price fallback when history is out of reach.
type Resolver struct {
	reader ChainReader
	states StateReader
	cfg    Config
	logger *zap.Logger
}

func NewResolver(reader ChainReader, states StateReader, cfg Config, logger *zap.Logger) *Resolver {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 2000
	}
	if cfg.Lookback == 0 {
		cfg.Lookback = 12000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{reader: reader, states: states, cfg: cfg, logger: logger}
}

// Resolve never fails: the worst outcome is an EntryDetail priced from the
// range midpoint with no block or amounts.
func (r *Resolver) Resolve(ctx context.Context, pos *model.Position) *model.EntryDetail {
	detail := &model.EntryDetail{Strategy: model.EntryUnresolved}

	head, err := r.reader.BlockNumber(ctx)
	if err != nil {
		r.logger.Warn("entry resolution skipped, head unavailable", zap.Error(err))
		r.fallbackPrice(pos, detail)
		return detail
	}

	manager := common.HexToAddress(pos.PositionManager)
	tokenTopic := common.BytesToHash(common.LeftPadBytes(pos.TokenID.Bytes(), 32))

	if block, found := r.findMintBlock(ctx, manager, tokenTopic, head); found {
		detail.Block = block
		detail.Strategy = model.EntryFromMintEvent
		r.attachIncreaseAmounts(ctx, manager, tokenTopic, block, block, pos, detail)
	} else if block, amounts, found := r.findIncreaseEvent(ctx, manager, tokenTopic, head); found {
		detail.Block = block
		detail.Strategy = model.EntryFromIncreaseEvent
		applyAmounts(detail, amounts, pos)
	}

	if detail.Block > 0 {
		if ts, err := r.reader.BlockTimestamp(ctx, detail.Block); err == nil {
			detail.Timestamp = ts
		}
		r.priceAtBlock(ctx, pos, detail)
	}
	if detail.EntryPrice == nil {
		r.fallbackPrice(pos, detail)
	}
	attachUSDValue(pos, detail)

	r.logger.Info("entry resolved",
		zap.String("position", pos.Key().String()),
		zap.String("strategy", string(detail.Strategy)),
		zap.Uint64("block", detail.Block))
	return detail
}

// findMintBlock walks backward from head in chunks looking for the mint
// Transfer (from the zero address, for this token id).
func (r *Resolver) findMintBlock(ctx context.Context, manager common.Address, tokenTopic common.Hash, head uint64) (uint64, bool) {
	managerABI, err := dex.PositionManagerABI()
	if err != nil {
		return 0, false
	}
	topics := [][]common.Hash{
		{managerABI.Events["Transfer"].ID},
		{common.Hash{}}, // from = zero address
		nil,
		{tokenTopic},
	}

	var block uint64
	found := r.searchBackward(ctx, manager, topics, head, func(logs []types.Log) bool {
		if len(logs) == 0 {
			return false
		}
		block = logs[0].BlockNumber
		return true
	})
	return block, found
}

// findIncreaseEvent is the fallback when the mint is past the horizon: the
// earliest reachable IncreaseLiquidity still approximates the entry.
func (r *Resolver) findIncreaseEvent(ctx context.Context, manager common.Address, tokenTopic common.Hash, head uint64) (uint64, *increaseAmounts, bool) {
	managerABI, err := dex.PositionManagerABI()
	if err != nil {
		return 0, nil, false
	}
	topics := [][]common.Hash{
		{managerABI.Events["IncreaseLiquidity"].ID},
		{tokenTopic},
	}

	var (
		block   uint64
		amounts *increaseAmounts
	)
	found := r.searchBackward(ctx, manager, topics, head, func(logs []types.Log) bool {
		if len(logs) == 0 {
			return false
		}
		block = logs[0].BlockNumber
		amounts = decodeIncreaseAmounts(managerABI, logs[0])
		return true
	})
	return block, amounts, found
}

// searchBackward runs accept over chunked log windows from head backward
// until accept returns true or the lookback is exhausted. Query errors end
// the search; a failing provider should not burn the whole rate budget.
func (r *Resolver) searchBackward(ctx context.Context, manager common.Address, topics [][]common.Hash, head uint64, accept func([]types.Log) bool) bool {
	floor := uint64(0)
	if head > r.cfg.Lookback {
		floor = head - r.cfg.Lookback
	}

	end := head
	for end > floor {
		start := floor
		if end > r.cfg.ChunkSize && end-r.cfg.ChunkSize > floor {
			start = end - r.cfg.ChunkSize + 1
		}

		logs, err := r.reader.FilterLogs(ctx, start, end, []common.Address{manager}, topics)
		if err != nil {
			r.logger.Debug("entry log window failed",
				zap.Uint64("from", start), zap.Uint64("to", end), zap.Error(err))
			return false
		}
		if accept(logs) {
			return true
		}
		if start == floor {
			return false
		}
		end = start - 1
	}
	return false
}

type increaseAmounts struct {
	amount0 *big.Int
	amount1 *big.Int
}

// decodeIncreaseAmounts unpacks the non-indexed IncreaseLiquidity data:
// (liquidity, amount0, amount1).
func decodeIncreaseAmounts(managerABI abi.ABI, entry types.Log) *increaseAmounts {
	values, err := managerABI.Unpack("IncreaseLiquidity", entry.Data)
	if err != nil || len(values) < 3 {
		return nil
	}
	amount0, ok0 := values[1].(*big.Int)
	amount1, ok1 := values[2].(*big.Int)
	if !ok0 || !ok1 {
		return nil
	}
	return &increaseAmounts{amount0: amount0, amount1: amount1}
}

// attachIncreaseAmounts looks for the IncreaseLiquidity emitted in the mint
// transaction to recover the deposited amounts.
func (r *Resolver) attachIncreaseAmounts(ctx context.Context, manager common.Address, tokenTopic common.Hash, from, to uint64, pos *model.Position, detail *model.EntryDetail) {
	managerABI, err := dex.PositionManagerABI()
	if err != nil {
		return
	}
	topics := [][]common.Hash{
		{managerABI.Events["IncreaseLiquidity"].ID},
		{tokenTopic},
	}
	logs, err := r.reader.FilterLogs(ctx, from, to, []common.Address{manager}, topics)
	if err != nil || len(logs) == 0 {
		return
	}
	applyAmounts(detail, decodeIncreaseAmounts(managerABI, logs[0]), pos)
}

func applyAmounts(detail *model.EntryDetail, amounts *increaseAmounts, pos *model.Position) {
	if amounts == nil {
		return
	}
	a0 := scale(amounts.amount0, pos.Token0.Decimals)
	a1 := scale(amounts.amount1, pos.Token1.Decimals)
	detail.Amount0 = &a0
	detail.Amount1 = &a1
}

func (r *Resolver) priceAtBlock(ctx context.Context, pos *model.Position, detail *model.EntryDetail) {
	if pos.PoolAddress == "" {
		return
	}
	state, err := r.states.PoolStateAt(ctx, common.HexToAddress(pos.PoolAddress), pos.DexType, detail.Block)
	if err != nil {
		r.logger.Debug("historical pool state unavailable",
			zap.String("position", pos.Key().String()),
			zap.Uint64("block", detail.Block), zap.Error(err))
		return
	}
	price := state.Price
	detail.EntryPrice = &price
}

// fallbackPrice uses the geometric mean of the range bounds. For a position
// opened around the middle of its range this is close; either way it beats
// no price at all.
func (r *Resolver) fallbackPrice(pos *model.Position, detail *model.EntryDetail) {
	price := pricing.MidRangePrice(pos.TickLower, pos.TickUpper, pos.Token0.Decimals, pos.Token1.Decimals)
	if !math.IsInf(price, 0) && !math.IsNaN(price) && price > 0 {
		detail.EntryPrice = &price
		if detail.Strategy == model.EntryUnresolved {
			detail.Strategy = model.EntryFromRangeMidpoint
		}
	}
}

// attachUSDValue anchors the entry value on a stablecoin leg. Pairs without
// a stablecoin get no USD value rather than a guessed one.
func attachUSDValue(pos *model.Position, detail *model.EntryDetail) {
	if detail.EntryPrice == nil || detail.Amount0 == nil || detail.Amount1 == nil {
		return
	}
	price := *detail.EntryPrice

	var price0USD, price1USD float64
	switch {
	case IsStablecoin(pos.Token1.Symbol):
		price1USD = 1.0
		price0USD = price
	case IsStablecoin(pos.Token0.Symbol):
		price0USD = 1.0
		if price <= 0 {
			return
		}
		price1USD = 1.0 / price
	default:
		return
	}

	value := *detail.Amount0*price0USD + *detail.Amount1*price1USD
	detail.EntryValueUSD = &value
}

func scale(raw *big.Int, decimals uint8) float64 {
	f, _ := new(big.Float).SetInt(raw).Float64()
	return f / math.Pow(10, float64(decimals))
}
