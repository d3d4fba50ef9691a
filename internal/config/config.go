package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/reiserFSs/hyperevmlpmonitor/internal/model"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL string
	Wallet string
	Dexes  []model.DexConfig

	RateBudget int
	RateWindow time.Duration

	MaxRetries       int
	RetryBackoff     time.Duration
	RateLimitBackoff time.Duration
	Multicall        string

	CacheTTL       time.Duration
	CheckInterval  time.Duration
	RescanInterval time.Duration
	Workers        int

	DebounceScans int
	Cursor        string
	CursorEnabled bool

	EntryChunkSize uint64
	EntryLookback  uint64

	Out      string
	PgDSN    string
	LogLevel string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LPMON")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("rate-budget", 90)
	v.SetDefault("rate-window", time.Minute)
	v.SetDefault("max-retries", 3)
	v.SetDefault("retry-backoff", 400*time.Millisecond)
	v.SetDefault("rate-limit-backoff", 5*time.Second)
	v.SetDefault("cache-ttl", 5*time.Second)
	v.SetDefault("check-interval", 30*time.Second)
	v.SetDefault("rescan-interval", 5*time.Minute)
	v.SetDefault("debounce-scans", 2)
	v.SetDefault("cursor", "./data/cursor.json")
	v.SetDefault("cursor-enabled", true)
	v.SetDefault("entry-chunk-size", uint64(2000))
	v.SetDefault("entry-lookback", uint64(12000))
	v.SetDefault("out", "./data/positions.jsonl")
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	dexes, err := loadDexes(v)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		RPCURL:           v.GetString("rpc"),
		Wallet:           v.GetString("wallet"),
		Dexes:            dexes,
		RateBudget:       v.GetInt("rate-budget"),
		RateWindow:       v.GetDuration("rate-window"),
		MaxRetries:       v.GetInt("max-retries"),
		RetryBackoff:     v.GetDuration("retry-backoff"),
		RateLimitBackoff: v.GetDuration("rate-limit-backoff"),
		Multicall:        v.GetString("multicall"),
		CacheTTL:         v.GetDuration("cache-ttl"),
		CheckInterval:    v.GetDuration("check-interval"),
		RescanInterval:   v.GetDuration("rescan-interval"),
		Workers:          v.GetInt("workers"),
		DebounceScans:    v.GetInt("debounce-scans"),
		Cursor:           v.GetString("cursor"),
		CursorEnabled:    v.GetBool("cursor-enabled"),
		EntryChunkSize:   v.GetUint64("entry-chunk-size"),
		EntryLookback:    v.GetUint64("entry-lookback"),
		Out:              v.GetString("out"),
		PgDSN:            v.GetString("pg-dsn"),
		LogLevel:         v.GetString("log-level"),
	}

	return cfg, nil
}

// loadDexes accepts either a structured `dexes` list in the config file or
// repeated --dex flags of the form name=manager=type.
func loadDexes(v *viper.Viper) ([]model.DexConfig, error) {
	var dexes []model.DexConfig
	if v.IsSet("dexes") {
		if err := v.UnmarshalKey("dexes", &dexes); err != nil {
			return nil, fmt.Errorf("parse dexes: %w", err)
		}
	}

	for _, raw := range getStringSlice(v, "dex") {
		cfg, err := ParseDex(raw)
		if err != nil {
			return nil, err
		}
		dexes = append(dexes, cfg)
	}

	for i, cfg := range dexes {
		if cfg.Name == "" || cfg.PositionManager == "" {
			return nil, fmt.Errorf("dex %d: name and position manager are required", i)
		}
		if cfg.Type == "" {
			dexes[i].Type = model.DexUniswapV3
		}
	}
	return dexes, nil
}

// ParseDex parses a name=manager[=type] triple.
func ParseDex(raw string) (model.DexConfig, error) {
	parts := strings.Split(raw, "=")
	if len(parts) < 2 || len(parts) > 3 {
		return model.DexConfig{}, fmt.Errorf("dex %q: want name=manager[=type]", raw)
	}
	cfg := model.DexConfig{
		Name:            strings.TrimSpace(parts[0]),
		PositionManager: strings.TrimSpace(parts[1]),
		Type:            model.DexUniswapV3,
	}
	if len(parts) == 3 {
		switch strings.TrimSpace(parts[2]) {
		case string(model.DexUniswapV3), "":
		case string(model.DexAlgebraIntegral):
			cfg.Type = model.DexAlgebraIntegral
		default:
			return model.DexConfig{}, fmt.Errorf("dex %q: unknown type %q", raw, parts[2])
		}
	}
	return cfg, nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
