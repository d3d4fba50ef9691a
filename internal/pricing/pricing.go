package pricing

import (
	"math"
	"math/big"
)

// Tick bounds shared by Uniswap V3 and Algebra deployments.
const (
	// MaxTick is the protocol tick limit (|tick| < MaxTick for valid state).
	MaxTick = 887272

	// clampTick is where 1.0001^tick stops being representable usefully in
	// float64; beyond it prices clamp to 0 or +Inf instead of overflowing.
	clampTick = 800000

	// fullRangeLimit keeps a margin of 10,000 ticks below the protocol
	// limit when classifying full-range positions.
	fullRangeLimit = MaxTick - 10000

	// fullRangeSpan: ranges wider than this have no meaningful edge.
	fullRangeSpan = 1700000
)

// TickToPrice converts a tick to a decimal-adjusted price of token1 per
// token0: 1.0001^tick * 10^(dec0-dec1). Extreme ticks clamp to 0 or +Inf.
func TickToPrice(tick int32, dec0, dec1 uint8) float64 {
	if tick > clampTick {
		return math.Inf(1)
	}
	if tick < -clampTick {
		return 0
	}
	price := math.Pow(1.0001, float64(tick))
	return price * decimalAdjustment(dec0, dec1)
}

// PriceToTick inverts TickToPrice. It reports false for non-finite or
// non-positive prices.
func PriceToTick(price float64, dec0, dec1 uint8) (int32, bool) {
	if price <= 0 || math.IsInf(price, 0) || math.IsNaN(price) {
		return 0, false
	}
	raw := price / decimalAdjustment(dec0, dec1)
	tick := math.Round(math.Log(raw) / math.Log(1.0001))
	if tick > MaxTick || tick < -MaxTick {
		return 0, false
	}
	return int32(tick), true
}

// SqrtPriceX96ToPrice converts a Q64.96 sqrt price to a decimal-adjusted
// price: (sqrtP / 2^96)^2 * 10^(dec0-dec1). A zero input yields zero.
func SqrtPriceX96ToPrice(sqrtPriceX96 *big.Int, dec0, dec1 uint8) float64 {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() <= 0 {
		return 0
	}
	q96 := new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 96))
	ratio := new(big.Float).Quo(new(big.Float).SetInt(sqrtPriceX96), q96)
	sqrtPrice, _ := ratio.Float64()
	price := sqrtPrice * sqrtPrice * decimalAdjustment(dec0, dec1)
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return 0
	}
	return price
}

// TokenAmounts splits a position's liquidity into decimal-adjusted token
// amounts at the given pool tick: wholly token0 below the range, wholly
// token1 at or above the upper bound, the sqrt-price blend inside. It never
// fails; arithmetic trouble yields (0, 0).
func TokenAmounts(liquidity *big.Int, currentTick, tickLower, tickUpper int32, dec0, dec1 uint8) (amount0, amount1 float64) {
	liq := bigToFloat(liquidity)
	if liq <= 0 {
		return 0, 0
	}

	sqrtCurrent := sqrtRatioAtTick(currentTick)
	sqrtLower := sqrtRatioAtTick(tickLower)
	sqrtUpper := sqrtRatioAtTick(tickUpper)

	var raw0, raw1 float64
	switch {
	case currentTick < tickLower:
		raw0 = liq * (sqrtUpper - sqrtLower) / (sqrtLower * sqrtUpper)
	case currentTick >= tickUpper:
		raw1 = liq * (sqrtUpper - sqrtLower)
	default:
		raw0 = liq * (sqrtUpper - sqrtCurrent) / (sqrtCurrent * sqrtUpper)
		raw1 = liq * (sqrtCurrent - sqrtLower)
	}

	amount0 = raw0 / math.Pow(10, float64(dec0))
	amount1 = raw1 / math.Pow(10, float64(dec1))
	if !isFiniteNonNegative(amount0) || !isFiniteNonNegative(amount1) {
		return 0, 0
	}
	return amount0, amount1
}

// TheoreticalAmounts evaluates the same split at the midpoint of the range:
// what the position would hold if the pool price were centered.
func TheoreticalAmounts(liquidity *big.Int, tickLower, tickUpper int32, dec0, dec1 uint8) (float64, float64) {
	center := midpointTick(tickLower, tickUpper)
	return TokenAmounts(liquidity, center, tickLower, tickUpper, dec0, dec1)
}

// MidRangePrice is the geometric mean of the range bound prices, i.e. the
// price at the range's midpoint tick. Used as an entry-price approximation
// when no creation event is recoverable.
func MidRangePrice(tickLower, tickUpper int32, dec0, dec1 uint8) float64 {
	return TickToPrice(midpointTick(tickLower, tickUpper), dec0, dec1)
}

// IsFullRange reports whether a range spans (nearly) the whole tick domain,
// in which case range-edge analysis is meaningless.
func IsFullRange(tickLower, tickUpper int32) bool {
	if tickLower <= -fullRangeLimit && tickUpper >= fullRangeLimit {
		return true
	}
	return int64(tickUpper)-int64(tickLower) > fullRangeSpan
}

// ValidTick is the sanity predicate applied to decoded pool state.
func ValidTick(tick int64) bool {
	return tick > -MaxTick && tick < MaxTick
}

func midpointTick(tickLower, tickUpper int32) int32 {
	return int32((int64(tickLower) + int64(tickUpper)) / 2)
}

func sqrtRatioAtTick(tick int32) float64 {
	return math.Pow(1.0001, float64(tick)/2)
}

func decimalAdjustment(dec0, dec1 uint8) float64 {
	return math.Pow(10, float64(dec0)-float64(dec1))
}

func bigToFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}

func isFiniteNonNegative(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}
