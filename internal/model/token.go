package model

// TokenInfo holds ERC20 metadata resolved for one side of a pool.
type TokenInfo struct {
	Address       string `json:"address"`
	Symbol        string `json:"symbol"`
	DisplaySymbol string `json:"display_symbol"`
	Name          string `json:"name,omitempty"`
	Decimals      uint8  `json:"decimals"`
	Source        string `json:"source"`
}
