package catalog

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/reiserFSs/hyperevmlpmonitor/internal/dex"
	"github.com/reiserFSs/hyperevmlpmonitor/internal/model"
)

// LogFilterer is the slice of the RPC gate the watcher needs.
type LogFilterer interface {
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topics [][]common.Hash) ([]types.Log, error)
}

// AddedHint points at a position id the wallet received; the scanner still
// has to read it before it enters the catalog.
type AddedHint struct {
	Dex     model.DexConfig
	TokenID *big.Int
}

// Activity is what one event window said about the wallet's positions.
// Removed keys are corroboration for reconciliation, never direct deletes.
type Activity struct {
	Added   []AddedHint
	Removed []model.PositionKey
	Changed []model.PositionKey
}

// windowChunk bounds a single getLogs range. Providers cap log queries,
// so a window accumulated across downtime is split before it is asked for.
const windowChunk = 2000

// EventWatcher turns position manager logs into catalog hints. One
// getLogs covers all managers and all three event signatures per chunk.
type EventWatcher struct {
	logs   LogFilterer
	wallet common.Hash
	logger *zap.Logger
	chunk  uint64

	managers  []common.Address
	dexByAddr map[common.Address]model.DexConfig

	transferTopic common.Hash
	increaseTopic common.Hash
	decreaseTopic common.Hash
}

func NewEventWatcher(logs LogFilterer, wallet common.Address, dexes []model.DexConfig, logger *zap.Logger) (*EventWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	managerABI, err := dex.PositionManagerABI()
	if err != nil {
		return nil, err
	}

	w := &EventWatcher{
		logs:          logs,
		wallet:        common.BytesToHash(wallet.Bytes()),
		logger:        logger,
		chunk:         windowChunk,
		dexByAddr:     make(map[common.Address]model.DexConfig, len(dexes)),
		transferTopic: managerABI.Events["Transfer"].ID,
		increaseTopic: managerABI.Events["IncreaseLiquidity"].ID,
		decreaseTopic: managerABI.Events["DecreaseLiquidity"].ID,
	}
	for _, cfg := range dexes {
		addr := common.HexToAddress(cfg.PositionManager)
		if prior, dup := w.dexByAddr[addr]; dup {
			return nil, fmt.Errorf("position manager %s configured for both %q and %q",
				cfg.PositionManager, prior.Name, cfg.Name)
		}
		w.managers = append(w.managers, addr)
		w.dexByAddr[addr] = cfg
	}
	return w, nil
}

// Scan reads [fromBlock, toBlock] in chunked queries and demultiplexes the
// logs. Wallet relevance is filtered client side so each chunk costs a
// single request regardless of how many managers are configured.
func (w *EventWatcher) Scan(ctx context.Context, fromBlock, toBlock uint64) (*Activity, error) {
	if fromBlock > toBlock {
		return &Activity{}, nil
	}

	topics := [][]common.Hash{{w.transferTopic, w.increaseTopic, w.decreaseTopic}}
	activity := &Activity{}

	for start := fromBlock; ; {
		end := toBlock
		if toBlock-start >= w.chunk {
			end = start + w.chunk - 1
		}

		logs, err := w.logs.FilterLogs(ctx, start, end, w.managers, topics)
		if err != nil {
			return nil, fmt.Errorf("event window %d-%d: %w", start, end, err)
		}
		for _, entry := range logs {
			cfg, ok := w.dexByAddr[entry.Address]
			if !ok || len(entry.Topics) == 0 {
				continue
			}
			switch entry.Topics[0] {
			case w.transferTopic:
				w.applyTransfer(cfg, entry, activity)
			case w.increaseTopic, w.decreaseTopic:
				if len(entry.Topics) < 2 {
					continue
				}
				tokenID := new(big.Int).SetBytes(entry.Topics[1].Bytes())
				activity.Changed = append(activity.Changed,
					model.PositionKey{Dex: cfg.Name, TokenID: tokenID.String()})
			}
		}

		if end == toBlock {
			break
		}
		start = end + 1
	}

	if len(activity.Added)+len(activity.Removed)+len(activity.Changed) > 0 {
		w.logger.Info("position activity in window",
			zap.Uint64("from", fromBlock),
			zap.Uint64("to", toBlock),
			zap.Int("added", len(activity.Added)),
			zap.Int("removed", len(activity.Removed)),
			zap.Int("changed", len(activity.Changed)))
	}
	return activity, nil
}

func (w *EventWatcher) applyTransfer(cfg model.DexConfig, entry types.Log, activity *Activity) {
	if len(entry.Topics) < 4 {
		return
	}
	from, to := entry.Topics[1], entry.Topics[2]
	tokenID := new(big.Int).SetBytes(entry.Topics[3].Bytes())

	switch {
	case to == w.wallet:
		activity.Added = append(activity.Added, AddedHint{Dex: cfg, TokenID: tokenID})
	case from == w.wallet:
		activity.Removed = append(activity.Removed,
			model.PositionKey{Dex: cfg.Name, TokenID: tokenID.String()})
	}
}
