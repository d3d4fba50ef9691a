package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const multicall3ABIJSON = `[
  {
    "inputs": [
      {
        "components": [
          {"internalType": "address", "name": "target", "type": "address"},
          {"internalType": "bool", "name": "allowFailure", "type": "bool"},
          {"internalType": "bytes", "name": "callData", "type": "bytes"}
        ],
        "internalType": "struct Multicall3.Call3[]",
        "name": "calls",
        "type": "tuple[]"
      }
    ],
    "name": "aggregate3",
    "outputs": [
      {
        "components": [
          {"internalType": "bool", "name": "success", "type": "bool"},
          {"internalType": "bytes", "name": "returnData", "type": "bytes"}
        ],
        "internalType": "struct Multicall3.Result[]",
        "name": "returnData",
        "type": "tuple[]"
      }
    ],
    "stateMutability": "payable",
    "type": "function"
  }
]`

var (
	multicall3ABI     abi.ABI
	multicall3ABIOnce sync.Once
	multicall3ABIErr  error
)

// Multicall3ABI returns the parsed aggregator ABI.
func Multicall3ABI() (abi.ABI, error) {
	multicall3ABIOnce.Do(func() {
		multicall3ABI, multicall3ABIErr = abi.JSON(strings.NewReader(multicall3ABIJSON))
	})
	return multicall3ABI, multicall3ABIErr
}

// Call is one read call inside a multicall batch.
type Call struct {
	Target   common.Address
	CallData []byte
}

// Result is the per-call outcome of a multicall batch. A failed entry has
// Success=false; callers must treat it as "no result", not a hard error.
type Result struct {
	Success    bool
	ReturnData []byte
}

type mcCall struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

type mcResult struct {
	Success    bool
	ReturnData []byte
}

// Multicall aggregates independent read calls into one RPC round trip via
// the Multicall3 aggregator. Any error means the whole batch is degraded;
// callers fall back to serial calls.
func (g *Gate) Multicall(ctx context.Context, calls []Call, blockNumber *big.Int) ([]Result, error) {
	if g.cfg.MulticallAddress == (common.Address{}) {
		return nil, fmt.Errorf("multicall aggregator not configured")
	}
	if len(calls) == 0 {
		return nil, nil
	}

	parsed, err := Multicall3ABI()
	if err != nil {
		return nil, fmt.Errorf("parse multicall abi: %w", err)
	}

	batch := make([]mcCall, 0, len(calls))
	for _, call := range calls {
		batch = append(batch, mcCall{Target: call.Target, AllowFailure: true, CallData: call.CallData})
	}

	data, err := parsed.Pack("aggregate3", batch)
	if err != nil {
		return nil, fmt.Errorf("pack aggregate3: %w", err)
	}

	target := g.cfg.MulticallAddress
	resp, err := g.CallContract(ctx, ethereum.CallMsg{To: &target, Data: data}, blockNumber)
	if err != nil {
		return nil, fmt.Errorf("call aggregate3: %w", err)
	}

	values, err := parsed.Unpack("aggregate3", resp)
	if err != nil {
		return nil, fmt.Errorf("unpack aggregate3: %w", err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unexpected aggregate3 outputs: %d", len(values))
	}

	decoded := *abi.ConvertType(values[0], new([]mcResult)).(*[]mcResult)
	if len(decoded) != len(calls) {
		return nil, fmt.Errorf("aggregate3 returned %d results for %d calls", len(decoded), len(calls))
	}

	out := make([]Result, 0, len(decoded))
	for _, item := range decoded {
		out = append(out, Result{Success: item.Success, ReturnData: item.ReturnData})
	}
	return out, nil
}
