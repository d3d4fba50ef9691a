package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/reiserFSs/hyperevmlpmonitor/internal/catalog"
	"github.com/reiserFSs/hyperevmlpmonitor/internal/chain"
	"github.com/reiserFSs/hyperevmlpmonitor/internal/config"
	"github.com/reiserFSs/hyperevmlpmonitor/internal/dex"
	"github.com/reiserFSs/hyperevmlpmonitor/internal/entry"
	"github.com/reiserFSs/hyperevmlpmonitor/internal/monitor"
	"github.com/reiserFSs/hyperevmlpmonitor/internal/storage"
	"github.com/reiserFSs/hyperevmlpmonitor/internal/storage/postgres"
)

func main() {
	root := &cobra.Command{
		Use:          "lpmonitor",
		Short:        "Concentrated-liquidity position monitor",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the monitor loop",
		RunE:  runMonitor,
	}

	runCmd.Flags().String("rpc", "", "RPC URL")
	runCmd.Flags().String("wallet", "", "wallet address to monitor")
	runCmd.Flags().StringSlice("dex", nil, "DEX as name=manager[=type] (repeatable)")
	runCmd.Flags().String("multicall", "", "Multicall3 contract address")
	runCmd.Flags().Int("rate-budget", 90, "RPC requests per window")
	runCmd.Flags().Duration("rate-window", time.Minute, "rate limit window")
	runCmd.Flags().Int("max-retries", 3, "maximum retry attempts")
	runCmd.Flags().Duration("retry-backoff", 400*time.Millisecond, "initial retry backoff")
	runCmd.Flags().Duration("rate-limit-backoff", 5*time.Second, "backoff after provider throttling")
	runCmd.Flags().Duration("cache-ttl", 5*time.Second, "pool state cache TTL")
	runCmd.Flags().Duration("check-interval", 30*time.Second, "time between check cycles")
	runCmd.Flags().Duration("rescan-interval", 5*time.Minute, "time between forced full scans")
	runCmd.Flags().Int("workers", 0, "check workers, 0 sizes from position count")
	runCmd.Flags().Int("debounce-scans", 2, "error-free scans before an uncorroborated removal")
	runCmd.Flags().String("cursor", "./data/cursor.json", "event cursor file path")
	runCmd.Flags().Bool("cursor-enabled", true, "persist the event cursor")
	runCmd.Flags().Uint64("entry-chunk-size", 2000, "blocks per entry search window")
	runCmd.Flags().Uint64("entry-lookback", 12000, "entry search horizon behind head")
	runCmd.Flags().String("out", "./data/positions.jsonl", "output JSONL path")
	runCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	entryCmd := &cobra.Command{
		Use:   "entry",
		Short: "Resolve the entry details of one position",
		RunE:  runEntry,
	}

	entryCmd.Flags().String("rpc", "", "RPC URL")
	entryCmd.Flags().String("wallet", "", "wallet address")
	entryCmd.Flags().StringSlice("dex", nil, "DEX as name=manager[=type]")
	entryCmd.Flags().String("token", "", "position token id")
	entryCmd.Flags().String("multicall", "", "Multicall3 contract address")
	entryCmd.Flags().Int("rate-budget", 90, "RPC requests per window")
	entryCmd.Flags().Duration("rate-window", time.Minute, "rate limit window")
	entryCmd.Flags().Uint64("entry-chunk-size", 2000, "blocks per entry search window")
	entryCmd.Flags().Uint64("entry-lookback", 12000, "entry search horizon behind head")
	entryCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(entryCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// stack is the wired component set shared by the subcommands.
type stack struct {
	client   *chain.Client
	gate     *chain.Gate
	adapter  *dex.Adapter
	fees     *dex.FeeOracle
	scanner  *catalog.Scanner
	resolver *entry.Resolver
}

func buildStack(ctx context.Context, cfg config.Config, wallet common.Address, logger *zap.Logger) (*stack, error) {
	client, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("connect rpc: %w", err)
	}

	limiter := chain.NewRateLimiter(cfg.RateBudget, cfg.RateWindow)
	gate := chain.NewGate(client, limiter, chain.GateConfig{
		MaxRetries:       cfg.MaxRetries,
		BaseBackoff:      cfg.RetryBackoff,
		RateLimitBackoff: cfg.RateLimitBackoff,
		MulticallAddress: common.HexToAddress(cfg.Multicall),
	}, logger)

	tokens := dex.NewTokenRegistry(gate, logger)
	adapter := dex.NewAdapter(gate, tokens, cfg.CacheTTL, logger)
	reader := dex.NewManagerReader(gate)

	return &stack{
		client:  client,
		gate:    gate,
		adapter: adapter,
		fees:    dex.NewFeeOracle(gate, logger),
		scanner: catalog.NewScanner(reader, tokens, adapter, wallet, logger),
		resolver: entry.NewResolver(gate, adapter, entry.Config{
			ChunkSize: cfg.EntryChunkSize,
			Lookback:  cfg.EntryLookback,
		}, logger),
	}, nil
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if !common.IsHexAddress(cfg.Wallet) {
		return fmt.Errorf("valid wallet address is required")
	}
	if len(cfg.Dexes) == 0 {
		return fmt.Errorf("at least one dex is required")
	}
	wallet := common.HexToAddress(cfg.Wallet)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := buildStack(ctx, cfg, wallet, logger)
	if err != nil {
		return err
	}
	defer st.client.Close()

	watcher, err := catalog.NewEventWatcher(st.gate, wallet, cfg.Dexes, logger)
	if err != nil {
		return err
	}
	cat := catalog.New(cfg.DebounceScans, logger)
	cursor := catalog.NewCursorStore(cfg.Cursor, cfg.CursorEnabled)

	var sinks []storage.Sink
	if cfg.Out != "" {
		sinks = append(sinks, storage.NewJsonlSink(cfg.Out))
	}
	if cfg.PgDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PgDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		sinks = append(sinks, store)
	}

	mon := monitor.New(st.gate, st.adapter, st.fees, st.scanner, cat, watcher, cursor, st.resolver, sinks, monitor.Options{
		Wallet:         wallet,
		Dexes:          cfg.Dexes,
		CheckInterval:  cfg.CheckInterval,
		RescanInterval: cfg.RescanInterval,
		Workers:        cfg.Workers,
	}, logger)

	logger.Info("monitor start",
		zap.String("wallet", wallet.Hex()),
		zap.Int("dexes", len(cfg.Dexes)),
		zap.Duration("check_interval", cfg.CheckInterval),
		zap.Duration("rescan_interval", cfg.RescanInterval),
		zap.Int("rate_budget", cfg.RateBudget),
		zap.String("out", cfg.Out))

	if err := mon.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runEntry(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if !common.IsHexAddress(cfg.Wallet) {
		return fmt.Errorf("valid wallet address is required")
	}
	if len(cfg.Dexes) != 1 {
		return fmt.Errorf("exactly one dex is required")
	}
	tokenRaw, _ := cmd.Flags().GetString("token")
	tokenID, ok := new(big.Int).SetString(tokenRaw, 10)
	if !ok {
		return fmt.Errorf("token id %q is not a decimal integer", tokenRaw)
	}
	wallet := common.HexToAddress(cfg.Wallet)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := buildStack(ctx, cfg, wallet, logger)
	if err != nil {
		return err
	}
	defer st.client.Close()

	head, err := st.gate.BlockNumber(ctx)
	if err != nil {
		return err
	}
	st.adapter.SetHead(head)

	pos, err := st.scanner.Build(ctx, cfg.Dexes[0], tokenID)
	if err != nil {
		return fmt.Errorf("read position: %w", err)
	}
	if pos == nil {
		return fmt.Errorf("position %s has no liquidity", tokenID.String())
	}

	pos.Entry = st.resolver.Resolve(ctx, pos)

	out, err := json.MarshalIndent(pos, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
