package model

import (
	"fmt"
	"math/big"
)

// PositionKey identifies a position across scans: the pair (dex, token id).
type PositionKey struct {
	Dex     string
	TokenID string
}

func (k PositionKey) String() string {
	return fmt.Sprintf("%s#%s", k.Dex, k.TokenID)
}

// Position is one concentrated-liquidity NFT position owned by the wallet.
// Liquidity reflects the last successful positions() read and is refreshed
// each check cycle.
type Position struct {
	TokenID         *big.Int  `json:"token_id"`
	DexName         string    `json:"dex_name"`
	DexType         DexType   `json:"dex_type"`
	PositionManager string    `json:"position_manager"`
	FactoryAddress  string    `json:"factory_address,omitempty"`
	Token0          TokenInfo `json:"token0"`
	Token1          TokenInfo `json:"token1"`
	FeeTier         uint32    `json:"fee_tier"`
	TickLower       int32     `json:"tick_lower"`
	TickUpper       int32     `json:"tick_upper"`
	Liquidity       *big.Int  `json:"liquidity"`
	PoolAddress     string    `json:"pool_address,omitempty"`

	// Entry is resolved lazily by the entry resolver and cached here.
	Entry *EntryDetail `json:"entry,omitempty"`
}

func (p *Position) Key() PositionKey {
	return PositionKey{Dex: p.DexName, TokenID: p.TokenID.String()}
}

// Name renders the pair label used in logs and sinks.
func (p *Position) Name() string {
	return fmt.Sprintf("%s/%s", p.Token0.DisplaySymbol, p.Token1.DisplaySymbol)
}
