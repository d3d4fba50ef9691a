package catalog

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/reiserFSs/hyperevmlpmonitor/internal/dex"
	"github.com/reiserFSs/hyperevmlpmonitor/internal/model"
)

// ScanResult is the outcome of one full ownership scan. HadErrors marks
// scans whose position set may be incomplete; reconciliation must not treat
// absences from such a scan as removals.
type ScanResult struct {
	Positions map[model.PositionKey]*model.Position
	HadErrors bool
	Skipped   int
}

// Scanner enumerates the wallet's positions by walking the position
// manager's ERC721 enumeration on every configured DEX.
type Scanner struct {
	reader  *dex.ManagerReader
	tokens  *dex.TokenRegistry
	adapter *dex.Adapter
	wallet  common.Address
	logger  *zap.Logger

	mu        sync.Mutex
	factories map[string]common.Address
}

func NewScanner(reader *dex.ManagerReader, tokens *dex.TokenRegistry, adapter *dex.Adapter, wallet common.Address, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{
		reader:    reader,
		tokens:    tokens,
		adapter:   adapter,
		wallet:    wallet,
		logger:    logger,
		factories: make(map[string]common.Address),
	}
}

// FullScan enumerates every configured DEX. It never fails hard: a DEX that
// errors mid-enumeration contributes what it found and flips HadErrors.
func (s *Scanner) FullScan(ctx context.Context, dexes []model.DexConfig) *ScanResult {
	result := &ScanResult{Positions: make(map[model.PositionKey]*model.Position)}

	for _, cfg := range dexes {
		if ctx.Err() != nil {
			result.HadErrors = true
			return result
		}
		positions, skipped, err := s.scanDex(ctx, cfg)
		result.Skipped += skipped
		if err != nil {
			s.logger.Warn("full scan incomplete for dex",
				zap.String("dex", cfg.Name), zap.Error(err))
			result.HadErrors = true
		}
		for _, pos := range positions {
			result.Positions[pos.Key()] = pos
		}
	}

	s.logger.Info("full scan finished",
		zap.Int("positions", len(result.Positions)),
		zap.Int("skipped_zero_liquidity", result.Skipped),
		zap.Bool("had_errors", result.HadErrors))
	return result
}

func (s *Scanner) scanDex(ctx context.Context, cfg model.DexConfig) ([]*model.Position, int, error) {
	manager := common.HexToAddress(cfg.PositionManager)

	balance, err := s.reader.BalanceOf(ctx, manager, s.wallet)
	if err != nil {
		return nil, 0, err
	}

	var (
		positions []*model.Position
		skipped   int
	)
	for i := uint64(0); i < balance; i++ {
		tokenID, err := s.reader.TokenOfOwnerByIndex(ctx, manager, s.wallet, i)
		if err != nil {
			return positions, skipped, err
		}
		pos, err := s.Build(ctx, cfg, tokenID)
		if err != nil {
			return positions, skipped, err
		}
		if pos == nil {
			skipped++
			continue
		}
		positions = append(positions, pos)
	}
	return positions, skipped, nil
}

// Build reads positions(tokenId) and assembles a Position. Closed positions
// (zero liquidity) return (nil, nil).
func (s *Scanner) Build(ctx context.Context, cfg model.DexConfig, tokenID *big.Int) (*model.Position, error) {
	manager := common.HexToAddress(cfg.PositionManager)

	details, err := s.reader.Details(ctx, manager, tokenID, nil)
	if err != nil {
		return nil, err
	}
	if details.Liquidity.Sign() == 0 {
		return nil, nil
	}

	pos := &model.Position{
		TokenID:         new(big.Int).Set(tokenID),
		DexName:         cfg.Name,
		DexType:         cfg.Type,
		PositionManager: cfg.PositionManager,
		Token0:          s.tokens.Info(ctx, details.Token0),
		Token1:          s.tokens.Info(ctx, details.Token1),
		FeeTier:         details.Fee,
		TickLower:       details.TickLower,
		TickUpper:       details.TickUpper,
		Liquidity:       details.Liquidity,
	}

	// Pool resolution is best effort. A position without a pool address is
	// kept in the catalog and reported with unknown status.
	factory, err := s.factoryAddress(ctx, cfg)
	if err != nil {
		s.logger.Warn("factory lookup failed",
			zap.String("dex", cfg.Name), zap.Error(err))
		return pos, nil
	}
	pos.FactoryAddress = factory.Hex()

	pool, err := s.adapter.PoolAddress(ctx, factory, details.Token0, details.Token1, details.Fee, cfg.Type)
	if err != nil {
		s.logger.Warn("pool lookup failed",
			zap.String("dex", cfg.Name),
			zap.String("token_id", tokenID.String()),
			zap.Error(err))
		return pos, nil
	}
	if pool != (common.Address{}) {
		pos.PoolAddress = pool.Hex()
	}
	return pos, nil
}

// RefreshLiquidity re-reads a tracked position's liquidity at head. The
// returned value is also written back into the position.
func (s *Scanner) RefreshLiquidity(ctx context.Context, pos *model.Position) (*big.Int, error) {
	manager := common.HexToAddress(pos.PositionManager)
	details, err := s.reader.Details(ctx, manager, pos.TokenID, nil)
	if err != nil {
		return nil, err
	}
	pos.Liquidity = details.Liquidity
	return details.Liquidity, nil
}

// factoryAddress resolves and caches the factory behind each DEX's position
// manager.
func (s *Scanner) factoryAddress(ctx context.Context, cfg model.DexConfig) (common.Address, error) {
	s.mu.Lock()
	cached, ok := s.factories[cfg.Name]
	s.mu.Unlock()
	if ok {
		return cached, nil
	}

	factory, err := s.reader.Factory(ctx, common.HexToAddress(cfg.PositionManager))
	if err != nil {
		return common.Address{}, err
	}

	s.mu.Lock()
	s.factories[cfg.Name] = factory
	s.mu.Unlock()
	return factory, nil
}
