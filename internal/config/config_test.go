package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/reiserFSs/hyperevmlpmonitor/internal/model"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RateBudget != 90 || cfg.RateWindow != time.Minute {
		t.Fatalf("rate defaults: %d/%s", cfg.RateBudget, cfg.RateWindow)
	}
	if cfg.CheckInterval != 30*time.Second || cfg.RescanInterval != 5*time.Minute {
		t.Fatalf("interval defaults: %s/%s", cfg.CheckInterval, cfg.RescanInterval)
	}
	if cfg.DebounceScans != 2 {
		t.Fatalf("debounce default: %d", cfg.DebounceScans)
	}
	if cfg.EntryChunkSize != 2000 || cfg.EntryLookback != 12000 {
		t.Fatalf("entry search defaults: %d/%d", cfg.EntryChunkSize, cfg.EntryLookback)
	}
	if !cfg.CursorEnabled {
		t.Fatalf("cursor should be enabled by default")
	}
}

func TestLoadFlagsOverrideDefaults(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("rpc", "", "")
	flags.Int("rate-budget", 90, "")
	flags.StringSlice("dex", nil, "")
	if err := flags.Parse([]string{
		"--rpc", "https://rpc.example",
		"--rate-budget", "30",
		"--dex", "hx=0x1234=algebra_integral",
	}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load("", flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCURL != "https://rpc.example" {
		t.Fatalf("rpc mismatch: %s", cfg.RPCURL)
	}
	if cfg.RateBudget != 30 {
		t.Fatalf("rate budget mismatch: %d", cfg.RateBudget)
	}
	if len(cfg.Dexes) != 1 || cfg.Dexes[0].Type != model.DexAlgebraIntegral {
		t.Fatalf("dex mismatch: %+v", cfg.Dexes)
	}
}

func TestParseDex(t *testing.T) {
	cfg, err := ParseDex("hx=0x1234=algebra_integral")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Name != "hx" || cfg.PositionManager != "0x1234" || cfg.Type != model.DexAlgebraIntegral {
		t.Fatalf("mismatch: %+v", cfg)
	}

	cfg, err = ParseDex("uni=0x5678")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Type != model.DexUniswapV3 {
		t.Fatalf("type should default to uniswap_v3, got %s", cfg.Type)
	}

	if _, err := ParseDex("justaname"); err == nil {
		t.Fatalf("missing manager should error")
	}
	if _, err := ParseDex("a=b=badtype"); err == nil {
		t.Fatalf("unknown type should error")
	}
}
