package dex

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PositionDetails is the decoded positions(tokenId) return, trimmed to the
// fields the monitor uses.
type PositionDetails struct {
	Token0    common.Address
	Token1    common.Address
	Fee       uint32
	TickLower int32
	TickUpper int32
	Liquidity *big.Int
}

// ManagerReader reads NonfungiblePositionManager views.
type ManagerReader struct {
	caller ContractCaller
}

func NewManagerReader(caller ContractCaller) *ManagerReader {
	return &ManagerReader{caller: caller}
}

// BalanceOf returns the number of position NFTs the owner holds.
func (m *ManagerReader) BalanceOf(ctx context.Context, manager, owner common.Address) (uint64, error) {
	managerABI, err := PositionManagerABI()
	if err != nil {
		return 0, err
	}
	values, err := callMethod(ctx, m.caller, manager, managerABI, "balanceOf", nil, owner)
	if err != nil {
		return 0, err
	}
	balance, err := asBigInt(values[0])
	if err != nil {
		return 0, err
	}
	if !balance.IsUint64() {
		return 0, fmt.Errorf("balanceOf out of range: %s", balance.String())
	}
	return balance.Uint64(), nil
}

// TokenOfOwnerByIndex enumerates the owner's position ids.
func (m *ManagerReader) TokenOfOwnerByIndex(ctx context.Context, manager, owner common.Address, index uint64) (*big.Int, error) {
	managerABI, err := PositionManagerABI()
	if err != nil {
		return nil, err
	}
	values, err := callMethod(ctx, m.caller, manager, managerABI, "tokenOfOwnerByIndex", nil,
		owner, new(big.Int).SetUint64(index))
	if err != nil {
		return nil, err
	}
	return asBigInt(values[0])
}

// Details reads positions(tokenId). A nil block reads at head.
func (m *ManagerReader) Details(ctx context.Context, manager common.Address, tokenID *big.Int, block *big.Int) (*PositionDetails, error) {
	managerABI, err := PositionManagerABI()
	if err != nil {
		return nil, err
	}
	values, err := callMethod(ctx, m.caller, manager, managerABI, "positions", block, tokenID)
	if err != nil {
		return nil, err
	}
	if len(values) < 8 {
		return nil, fmt.Errorf("positions returned %d values", len(values))
	}

	token0, err := asAddress(values[2])
	if err != nil {
		return nil, err
	}
	token1, err := asAddress(values[3])
	if err != nil {
		return nil, err
	}
	feeBig, err := asBigInt(values[4])
	if err != nil {
		return nil, err
	}
	lowerBig, err := asBigInt(values[5])
	if err != nil {
		return nil, err
	}
	upperBig, err := asBigInt(values[6])
	if err != nil {
		return nil, err
	}
	tickLower, err := int24FromBig(lowerBig)
	if err != nil {
		return nil, err
	}
	tickUpper, err := int24FromBig(upperBig)
	if err != nil {
		return nil, err
	}
	liquidity, err := asBigInt(values[7])
	if err != nil {
		return nil, err
	}

	return &PositionDetails{
		Token0:    token0,
		Token1:    token1,
		Fee:       uint32(feeBig.Uint64()),
		TickLower: tickLower,
		TickUpper: tickUpper,
		Liquidity: liquidity,
	}, nil
}

// Factory returns the factory behind a position manager.
func (m *ManagerReader) Factory(ctx context.Context, manager common.Address) (common.Address, error) {
	managerABI, err := PositionManagerABI()
	if err != nil {
		return common.Address{}, err
	}
	values, err := callMethod(ctx, m.caller, manager, managerABI, "factory", nil)
	if err != nil {
		return common.Address{}, err
	}
	return asAddress(values[0])
}
