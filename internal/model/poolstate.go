package model

import (
	"math/big"
	"time"
)

// PoolState is a normalized snapshot of a pool's price state, whichever
// ABI shape produced it. Price is token1 per token0, decimal-adjusted.
type PoolState struct {
	Tick         int32     `json:"tick"`
	SqrtPriceX96 *big.Int  `json:"sqrt_price_x96"`
	Price        float64   `json:"price"`
	Token0       TokenInfo `json:"token0"`
	Token1       TokenInfo `json:"token1"`
	Method       string    `json:"method"`
	Block        uint64    `json:"block,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
}
