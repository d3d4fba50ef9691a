package model

// DexType identifies the pool-state layout a DEX uses.
type DexType string

const (
	// DexUniswapV3 covers standard V3 forks exposing slot0().
	DexUniswapV3 DexType = "uniswap_v3"
	// DexAlgebraIntegral covers Algebra-style pools exposing globalState().
	DexAlgebraIntegral DexType = "algebra_integral"
)

// DexConfig describes one monitored DEX deployment.
type DexConfig struct {
	Name            string  `json:"name" mapstructure:"name"`
	PositionManager string  `json:"position_manager" mapstructure:"position_manager"`
	Type            DexType `json:"type" mapstructure:"type"`
}
