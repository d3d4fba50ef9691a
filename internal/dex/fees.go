package dex

import (
	"context"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/reiserFSs/hyperevmlpmonitor/internal/model"
)

// maxUint128 asks collect for everything owed.
var maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// collectParams mirrors the position manager's CollectParams tuple.
type collectParams struct {
	TokenId    *big.Int
	Recipient  common.Address
	Amount0Max *big.Int
	Amount1Max *big.Int
}

// FeeOracle reads unclaimed fees by simulating collect() as a static call
// from the position owner. Nothing is sent on chain.
type FeeOracle struct {
	caller ContractCaller
	logger *zap.Logger
}

// NewFeeOracle builds an oracle over the given caller.
func NewFeeOracle(caller ContractCaller, logger *zap.Logger) *FeeOracle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeeOracle{caller: caller, logger: logger}
}

// UnclaimedFees returns the fees a collect() would pay out right now.
// Failures degrade to a zero report carrying the error text; fee reads never
// block the range check.
func (o *FeeOracle) UnclaimedFees(ctx context.Context, manager, owner common.Address, tokenID *big.Int, token0, token1 model.TokenInfo) model.FeeReport {
	managerABI, err := PositionManagerABI()
	if err != nil {
		return feeReportError(err)
	}

	data, err := managerABI.Pack("collect", collectParams{
		TokenId:    tokenID,
		Recipient:  owner,
		Amount0Max: maxUint128,
		Amount1Max: maxUint128,
	})
	if err != nil {
		return feeReportError(err)
	}

	// collect is payable and owner-gated, so the simulation must originate
	// from the owner address.
	msg := ethereum.CallMsg{From: owner, To: &manager, Data: data}
	resp, err := o.caller.CallContract(ctx, msg, nil)
	if err != nil {
		o.logger.Debug("collect simulation failed",
			zap.String("token_id", tokenID.String()), zap.Error(err))
		return feeReportError(err)
	}

	values, err := managerABI.Unpack("collect", resp)
	if err != nil || len(values) != 2 {
		return feeReportError(err)
	}
	raw0, err0 := asBigInt(values[0])
	raw1, err1 := asBigInt(values[1])
	if err0 != nil || err1 != nil {
		return feeReportError(err0)
	}

	amount0 := scaleAmount(raw0, token0.Decimals)
	amount1 := scaleAmount(raw1, token1.Decimals)
	return model.FeeReport{
		Amount0: amount0,
		Amount1: amount1,
		Raw0:    raw0,
		Raw1:    raw1,
		HasFees: raw0.Sign() > 0 || raw1.Sign() > 0,
	}
}

func scaleAmount(raw *big.Int, decimals uint8) float64 {
	f, _ := new(big.Float).SetInt(raw).Float64()
	return f / math.Pow(10, float64(decimals))
}

func feeReportError(err error) model.FeeReport {
	report := model.FeeReport{Raw0: big.NewInt(0), Raw1: big.NewInt(0)}
	if err != nil {
		report.Err = err.Error()
	} else {
		report.Err = "collect simulation returned malformed data"
	}
	return report
}
