package dex

import (
	"math/big"

	"github.com/reiserFSs/hyperevmlpmonitor/internal/pricing"
)

// rawGlobalState is a candidate decode of a raw globalState() return.
type rawGlobalState struct {
	SqrtPriceX96 *big.Int
	Tick         int32
}

// rawStateDecoder is one pure byte-layout parsing strategy. Strategies
// never error; they report ok=false when the layout doesn't fit.
type rawStateDecoder struct {
	name   string
	decode func(raw []byte) (rawGlobalState, bool)
}

// rawStateDecoders are tried in order; the first result passing the sanity
// predicate wins. Order matters: packed layouts first, then loose
// alignments, then full 32-byte words.
var rawStateDecoders = []rawStateDecoder{
	{name: "uint160_int24_packed", decode: decodePackedLayout},
	{name: "shifted_alignment", decode: decodeShiftedLayout},
	{name: "word_aligned", decode: decodeWordAlignedLayout},
}

// parseRawGlobalState runs the decoder list over a raw globalState()
// response and returns the first sane result along with the strategy name.
func parseRawGlobalState(raw []byte) (rawGlobalState, string, bool) {
	if len(raw) < 64 {
		return rawGlobalState{}, "", false
	}
	for _, decoder := range rawStateDecoders {
		state, ok := decoder.decode(raw)
		if !ok {
			continue
		}
		if saneState(state) {
			return state, decoder.name, true
		}
	}
	return rawGlobalState{}, "", false
}

func saneState(state rawGlobalState) bool {
	return state.SqrtPriceX96 != nil &&
		state.SqrtPriceX96.Sign() > 0 &&
		pricing.ValidTick(int64(state.Tick))
}

// decodePackedLayout reads a uint160 right-aligned in the first word and an
// int24 packed immediately after it.
func decodePackedLayout(raw []byte) (rawGlobalState, bool) {
	sqrt := new(big.Int).SetBytes(raw[12:32])
	tick := signedFromBytes(raw[32:35])
	return rawGlobalState{SqrtPriceX96: sqrt, Tick: int32(tick)}, true
}

// decodeShiftedLayout reads a left-aligned uint160 and probes a few likely
// tick offsets, accepting the first in-range candidate.
func decodeShiftedLayout(raw []byte) (rawGlobalState, bool) {
	sqrt := new(big.Int).SetBytes(raw[:20])
	for _, offset := range []int{20, 32, 24} {
		if offset+4 > len(raw) {
			continue
		}
		tick := signedFromBytes(raw[offset : offset+4])
		if pricing.ValidTick(tick) {
			return rawGlobalState{SqrtPriceX96: sqrt, Tick: int32(tick)}, true
		}
	}
	return rawGlobalState{}, false
}

// decodeWordAlignedLayout treats the response as 32-byte words: sqrt price
// in the first word, tick right-aligned as int24 in the second.
func decodeWordAlignedLayout(raw []byte) (rawGlobalState, bool) {
	sqrt := new(big.Int).SetBytes(raw[:32])
	word := raw[32:64]

	tick := signedFromBytes(word[29:32])
	if !pricing.ValidTick(tick) {
		// Left-aligned variant: take the low 24 bits of the leading bytes.
		alt := signedFromBytes(word[:4]) & 0xffffff
		if alt > 0x7fffff {
			alt -= 0x1000000
		}
		tick = alt
	}
	return rawGlobalState{SqrtPriceX96: sqrt, Tick: int32(tick)}, true
}

// signedFromBytes interprets big-endian bytes as a two's-complement signed
// integer of len(b)*8 bits.
func signedFromBytes(b []byte) int64 {
	var v int64
	for _, octet := range b {
		v = v<<8 | int64(octet)
	}
	bits := uint(len(b) * 8)
	if bits < 64 && v >= 1<<(bits-1) {
		v -= 1 << bits
	}
	return v
}
