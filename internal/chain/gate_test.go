package chain

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

func TestIsRateLimited(t *testing.T) {
	limited := []string{
		"429 Too Many Requests",
		"rate limit exceeded",
		"provider said: rate-limited, slow down",
		"request quota exceeded",
	}
	for _, msg := range limited {
		if !isRateLimited(errors.New(msg)) {
			t.Fatalf("%q should classify as rate limited", msg)
		}
	}

	other := []string{
		"connection refused",
		"execution reverted",
	}
	for _, msg := range other {
		if isRateLimited(errors.New(msg)) {
			t.Fatalf("%q should not classify as rate limited", msg)
		}
	}
	if isRateLimited(nil) {
		t.Fatalf("nil error is not rate limited")
	}
}

func TestGateConfigDefaults(t *testing.T) {
	g := NewGate(nil, nil, GateConfig{}, nil)
	if g.cfg.MaxRetries != 3 {
		t.Fatalf("default max retries: %d", g.cfg.MaxRetries)
	}
	if g.cfg.BaseBackoff <= 0 || g.cfg.RateLimitBackoff <= 0 {
		t.Fatalf("backoff defaults not applied: %+v", g.cfg)
	}
}

func TestMulticallRequiresAggregator(t *testing.T) {
	g := NewGate(nil, nil, GateConfig{}, nil)
	if _, err := g.Multicall(context.Background(), []Call{{}}, nil); err == nil {
		t.Fatalf("unconfigured aggregator must error")
	}
}

func TestMulticallEmptyBatch(t *testing.T) {
	g := NewGate(nil, nil, GateConfig{
		MulticallAddress: common.HexToAddress("0xca11bde05977b3631167028862be2a173976ca11"),
	}, nil)
	results, err := g.Multicall(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("empty batch: %v", err)
	}
	if results != nil {
		t.Fatalf("empty batch should return nothing")
	}
}

func TestMulticallPackRoundTrip(t *testing.T) {
	parsed, err := Multicall3ABI()
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}

	batch := []mcCall{
		{Target: common.HexToAddress("0x1111"), AllowFailure: true, CallData: []byte{0xde, 0xad}},
		{Target: common.HexToAddress("0x2222"), AllowFailure: true, CallData: []byte{0xbe, 0xef}},
	}
	data, err := parsed.Pack("aggregate3", batch)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}

	args, err := parsed.Methods["aggregate3"].Inputs.Unpack(data[4:])
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if len(args) != 1 {
		t.Fatalf("expected one argument, got %d", len(args))
	}

	decoded := *abi.ConvertType(args[0], new([]mcCall)).(*[]mcCall)
	if len(decoded) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(decoded))
	}
	if decoded[0].Target != batch[0].Target || !decoded[1].AllowFailure {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}
