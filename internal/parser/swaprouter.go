package parser

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

type exactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	Deadline          *big.Int
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

// SwapRouterParser decodes Uniswap-v3-style exactInputSingle swaps. The
// recipient is explicit in the params struct, so a swap routed off-vault is
// caught by the router's recipient assertion.
type SwapRouterParser struct {
	swapID Selector
}

func NewSwapRouterParser() *SwapRouterParser {
	return &SwapRouterParser{swapID: selectorOfMethod(swapRouterABI, "exactInputSingle")}
}

func (p *SwapRouterParser) Name() string { return "swap-router" }

func (p *SwapRouterParser) SupportsSelector(sel Selector) bool {
	return sel == p.swapID
}

func (p *SwapRouterParser) OperationType(payload []byte) (OperationType, error) {
	if _, err := p.decode(payload); err != nil {
		return OpUnknown, err
	}
	return OpSwap, nil
}

func (p *SwapRouterParser) InputToken(target common.Address, payload []byte) (common.Address, error) {
	params, err := p.decode(payload)
	if err != nil {
		return common.Address{}, err
	}
	return params.TokenIn, nil
}

func (p *SwapRouterParser) InputAmount(target common.Address, payload []byte) (*big.Int, error) {
	params, err := p.decode(payload)
	if err != nil {
		return nil, err
	}
	return params.AmountIn, nil
}

func (p *SwapRouterParser) OutputTokens(target common.Address, payload []byte) ([]common.Address, error) {
	params, err := p.decode(payload)
	if err != nil {
		return nil, err
	}
	return []common.Address{params.TokenOut}, nil
}

func (p *SwapRouterParser) Recipient(target common.Address, payload []byte, fallback common.Address) (common.Address, error) {
	params, err := p.decode(payload)
	if err != nil {
		return common.Address{}, err
	}
	return params.Recipient, nil
}

func (p *SwapRouterParser) decode(payload []byte) (*exactInputSingleParams, error) {
	sel, err := SelectorOf(payload)
	if err != nil {
		return nil, err
	}
	if sel != p.swapID {
		return nil, fmt.Errorf("swap-router: unsupported selector %s", sel.Hex())
	}
	args, err := swapRouterABI.Methods["exactInputSingle"].Inputs.Unpack(payload[4:])
	if err != nil || len(args) != 1 {
		return nil, fmt.Errorf("swap-router: malformed exactInputSingle calldata")
	}
	params := abi.ConvertType(args[0], new(exactInputSingleParams)).(*exactInputSingleParams)
	if params.AmountIn == nil || params.AmountIn.Sign() < 0 {
		return nil, fmt.Errorf("swap-router: invalid amountIn")
	}
	return params, nil
}
