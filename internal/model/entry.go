package model

// EntryStrategy records which lookup produced an entry detail, so degraded
// results stay observable instead of silently blending together.
type EntryStrategy string

const (
	EntryFromMintEvent     EntryStrategy = "mint_event"
	EntryFromIncreaseEvent EntryStrategy = "increase_event"
	EntryFromRangeMidpoint EntryStrategy = "range_midpoint"
	EntryUnresolved        EntryStrategy = "none"
)

// EntryDetail reconstructs a position's creation from chain data. Every
// field is best-effort: nil pointers mean "not yet determined", never zero.
type EntryDetail struct {
	Block         uint64        `json:"block,omitempty"`
	Timestamp     uint64        `json:"timestamp,omitempty"`
	Amount0       *float64      `json:"entry_amount0,omitempty"`
	Amount1       *float64      `json:"entry_amount1,omitempty"`
	EntryPrice    *float64      `json:"entry_price,omitempty"`
	EntryValueUSD *float64      `json:"entry_value_usd,omitempty"`
	Strategy      EntryStrategy `json:"strategy"`
}
