package model

import (
	"math/big"
	"time"
)

// FeeReport carries the result of a simulated collect() call. A set Err
// means the amounts are unknown, not zero.
type FeeReport struct {
	Amount0 float64  `json:"fee_amount0"`
	Amount1 float64  `json:"fee_amount1"`
	Raw0    *big.Int `json:"fee_amount0_wei,omitempty"`
	Raw1    *big.Int `json:"fee_amount1_wei,omitempty"`
	HasFees bool     `json:"has_fees"`
	Err     string   `json:"error,omitempty"`
}

// PositionStatus is the per-cycle derived view of one position. It is
// recomputed every cycle and never stored by the monitor itself.
type PositionStatus struct {
	InRange         bool      `json:"in_range"`
	FullRange       bool      `json:"full_range"`
	CurrentTick     int32     `json:"current_tick"`
	CurrentPrice    float64   `json:"current_price"`
	LowerPrice      float64   `json:"lower_price"`
	UpperPrice      float64   `json:"upper_price"`
	DistanceToLower int32     `json:"distance_to_lower"`
	DistanceToUpper int32     `json:"distance_to_upper"`
	Amount0         float64   `json:"amount0"`
	Amount1         float64   `json:"amount1"`
	Theoretical0    float64   `json:"theoretical_amount0"`
	Theoretical1    float64   `json:"theoretical_amount1"`
	Fees            FeeReport `json:"fees"`
	Method          string    `json:"method"`
	Block           uint64    `json:"block,omitempty"`
	CheckedAt       time.Time `json:"checked_at"`
}

// CheckedPosition pairs a position with its status for one cycle. A nil
// Status means pool state was unavailable this cycle; consumers must render
// it as unknown, never as out-of-range.
type CheckedPosition struct {
	Position *Position       `json:"position"`
	Status   *PositionStatus `json:"status"`
}
