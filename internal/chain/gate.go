package chain

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// GateConfig tunes the retry envelope around every outbound call.
type GateConfig struct {
	MaxRetries       int           // transient retries per call
	BaseBackoff      time.Duration // doubled each transient attempt
	RateLimitBackoff time.Duration // fixed sleep when the provider throttles
	MulticallAddress common.Address
}

// Gate is the single choke point for outbound chain calls. Every call
// reserves a rate-limit slot, and failures are retried according to their
// classification before surfacing as a scoped per-call error.
type Gate struct {
	client  *Client
	limiter *RateLimiter
	cfg     GateConfig
	logger  *zap.Logger
}

// NewGate builds a Gate around a client and a shared limiter.
func NewGate(client *Client, limiter *RateLimiter, cfg GateConfig, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 400 * time.Millisecond
	}
	if cfg.RateLimitBackoff <= 0 {
		cfg.RateLimitBackoff = 5 * time.Second
	}
	return &Gate{client: client, limiter: limiter, cfg: cfg, logger: logger}
}

// isRateLimited matches provider messages that indicate throttling.
func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"rate limit", "rate-limit", "too many requests", "429", "exceeded"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// do runs fn under the limiter with the retry envelope. A rate-limited
// error gets one fixed-delay retry that does not consume a transient
// attempt; other errors back off exponentially.
func (g *Gate) do(ctx context.Context, op string, fn func(context.Context) error) error {
	throttledRetry := false
	delay := g.cfg.BaseBackoff

	for attempt := 0; ; {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		if isRateLimited(err) && !throttledRetry {
			throttledRetry = true
			g.logger.Warn("provider throttled, backing off",
				zap.String("op", op), zap.Duration("backoff", g.cfg.RateLimitBackoff))
			if err := sleep(ctx, g.cfg.RateLimitBackoff); err != nil {
				return err
			}
			continue
		}

		if attempt >= g.cfg.MaxRetries {
			return err
		}
		attempt++
		g.logger.Debug("call failed, retrying",
			zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
		if err := sleep(ctx, delay); err != nil {
			return err
		}
		delay *= 2
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// CallContract performs a rate-limited eth_call.
func (g *Gate) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	var out []byte
	err := g.do(ctx, "eth_call", func(ctx context.Context) error {
		var err error
		out, err = g.client.CallContract(ctx, msg, blockNumber)
		return err
	})
	return out, err
}

// FilterLogs performs a rate-limited log query.
func (g *Gate) FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topics [][]common.Hash) ([]types.Log, error) {
	var out []types.Log
	err := g.do(ctx, "eth_getLogs", func(ctx context.Context) error {
		var err error
		out, err = g.client.FilterLogs(ctx, fromBlock, toBlock, addresses, topics)
		return err
	})
	return out, err
}

// BlockNumber returns the latest block number.
func (g *Gate) BlockNumber(ctx context.Context) (uint64, error) {
	var out uint64
	err := g.do(ctx, "eth_blockNumber", func(ctx context.Context) error {
		var err error
		out, err = g.client.BlockNumber(ctx)
		return err
	})
	return out, err
}

// ChainID returns the chain ID.
func (g *Gate) ChainID(ctx context.Context) (*big.Int, error) {
	var out *big.Int
	err := g.do(ctx, "eth_chainId", func(ctx context.Context) error {
		var err error
		out, err = g.client.ChainID(ctx)
		return err
	})
	return out, err
}

// BlockTimestamp returns a block's timestamp, served from the client cache
// when possible so repeated lookups don't consume budget.
func (g *Gate) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	if ts, ok := g.client.CachedTimestamp(number); ok {
		return ts, nil
	}
	var ts uint64
	err := g.do(ctx, "eth_getHeaderByNumber", func(ctx context.Context) error {
		header, err := g.client.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
		if err != nil {
			return err
		}
		ts = header.Time
		return nil
	})
	if err != nil {
		return 0, err
	}
	g.client.StoreTimestamp(number, ts)
	return ts, nil
}
