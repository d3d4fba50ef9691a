package dex

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/reiserFSs/hyperevmlpmonitor/internal/model"
)

// symbolMappings rewrites wrapped-token symbols for display.
var symbolMappings = map[string]string{
	"WHYPE": "HYPE",
	"WETH":  "ETH",
	"WBTC":  "BTC",
}

// unwrappable are the symbols whose W-prefixed wrapper should display bare.
var unwrappable = map[string]struct{}{
	"HYPE": {}, "ETH": {}, "BTC": {}, "AVAX": {}, "MATIC": {},
}

// DisplaySymbol maps a raw ERC20 symbol to its display form.
func DisplaySymbol(symbol string) string {
	if mapped, ok := symbolMappings[symbol]; ok {
		return mapped
	}
	if strings.HasPrefix(symbol, "W") && len(symbol) > 1 {
		if _, ok := unwrappable[symbol[1:]]; ok {
			return symbol[1:]
		}
	}
	return symbol
}

// TokenRegistry resolves and caches ERC20 metadata. Lookups never fail:
// unreadable tokens get fallback identities so a bad token contract can't
// take a position out of the catalog.
type TokenRegistry struct {
	caller ContractCaller
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[common.Address]model.TokenInfo
}

// NewTokenRegistry builds a registry over the given caller.
func NewTokenRegistry(caller ContractCaller, logger *zap.Logger) *TokenRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenRegistry{
		caller: caller,
		logger: logger,
		cache:  make(map[common.Address]model.TokenInfo),
	}
}

// Info returns token metadata, from cache when warm.
func (r *TokenRegistry) Info(ctx context.Context, token common.Address) model.TokenInfo {
	r.mu.RLock()
	info, ok := r.cache[token]
	r.mu.RUnlock()
	if ok {
		return info
	}

	info = r.fetch(ctx, token)
	r.mu.Lock()
	r.cache[token] = info
	r.mu.Unlock()
	return info
}

func (r *TokenRegistry) fetch(ctx context.Context, token common.Address) model.TokenInfo {
	info := model.TokenInfo{
		Address:  token.Hex(),
		Decimals: 18,
		Source:   "contract_call",
	}

	stringABI, err := erc20ABIStringInstance()
	if err != nil {
		return fallbackTokenInfo(token)
	}

	if values, err := callMethod(ctx, r.caller, token, stringABI, "decimals", nil); err == nil {
		if decimals, err := asUint8(values[0]); err == nil {
			info.Decimals = decimals
		}
	} else {
		r.logger.Warn("decimals call failed, defaulting to 18",
			zap.String("token", token.Hex()), zap.Error(err))
		info.Source = "fallback"
	}

	info.Symbol = r.readString(ctx, token, "symbol")
	if info.Symbol == "" {
		addr := token.Hex()
		info.Symbol = fmt.Sprintf("TOKEN_%s", addr[len(addr)-6:])
		info.Source = "fallback"
	}
	info.Name = r.readString(ctx, token, "name")
	info.DisplaySymbol = DisplaySymbol(info.Symbol)
	return info
}

// readString tries the string ABI shape first, then the bytes32 variant
// some older tokens use. Empty string means unreadable.
func (r *TokenRegistry) readString(ctx context.Context, token common.Address, method string) string {
	if stringABI, err := erc20ABIStringInstance(); err == nil {
		if values, err := callMethod(ctx, r.caller, token, stringABI, method, nil); err == nil {
			if s, ok := values[0].(string); ok {
				return s
			}
		}
	}
	if bytes32ABI, err := erc20ABIBytes32Instance(); err == nil {
		if values, err := callMethod(ctx, r.caller, token, bytes32ABI, method, nil); err == nil {
			if s, ok := bytes32ToString(values[0]); ok {
				return s
			}
		}
	}
	r.logger.Debug("token metadata call failed",
		zap.String("token", token.Hex()), zap.String("method", method))
	return ""
}

func fallbackTokenInfo(token common.Address) model.TokenInfo {
	addr := token.Hex()
	symbol := fmt.Sprintf("UNKNOWN_%s", addr[len(addr)-4:])
	return model.TokenInfo{
		Address:       addr,
		Symbol:        symbol,
		DisplaySymbol: symbol,
		Decimals:      18,
		Source:        "fallback",
	}
}
