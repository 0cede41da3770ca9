package parser

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// LendingPoolParser decodes Aave-v3-style pool calls: supply, withdraw and
// reward claims. supply names its beneficiary via onBehalfOf, withdraw and
// claimAllRewards via the trailing `to` argument.
type LendingPoolParser struct {
	supplyID   Selector
	withdrawID Selector
	claimID    Selector
}

func NewLendingPoolParser() *LendingPoolParser {
	return &LendingPoolParser{
		supplyID:   selectorOfMethod(lendingPoolABI, "supply"),
		withdrawID: selectorOfMethod(lendingPoolABI, "withdraw"),
		claimID:    selectorOfMethod(lendingPoolABI, "claimAllRewards"),
	}
}

func (p *LendingPoolParser) Name() string { return "lending-pool" }

func (p *LendingPoolParser) SupportsSelector(sel Selector) bool {
	return sel == p.supplyID || sel == p.withdrawID || sel == p.claimID
}

func (p *LendingPoolParser) OperationType(payload []byte) (OperationType, error) {
	sel, err := SelectorOf(payload)
	if err != nil {
		return OpUnknown, err
	}
	switch sel {
	case p.supplyID:
		return OpDeposit, nil
	case p.withdrawID:
		return OpWithdraw, nil
	case p.claimID:
		return OpClaim, nil
	default:
		return OpUnknown, fmt.Errorf("lending-pool: unsupported selector %s", sel.Hex())
	}
}

func (p *LendingPoolParser) InputToken(target common.Address, payload []byte) (common.Address, error) {
	sel, err := SelectorOf(payload)
	if err != nil {
		return common.Address{}, err
	}
	if sel == p.claimID {
		// claims move no value in; there is no input token
		return common.Address{}, nil
	}
	args, err := p.unpack(sel, payload)
	if err != nil {
		return common.Address{}, err
	}
	asset, ok := toAddress(args[0])
	if !ok {
		return common.Address{}, fmt.Errorf("lending-pool: invalid asset argument")
	}
	return asset, nil
}

func (p *LendingPoolParser) InputAmount(target common.Address, payload []byte) (*big.Int, error) {
	sel, err := SelectorOf(payload)
	if err != nil {
		return nil, err
	}
	if sel == p.claimID {
		return big.NewInt(0), nil
	}
	args, err := p.unpack(sel, payload)
	if err != nil {
		return nil, err
	}
	amount, ok := toBigInt(args[1])
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("lending-pool: invalid amount argument")
	}
	return amount, nil
}

func (p *LendingPoolParser) OutputTokens(target common.Address, payload []byte) ([]common.Address, error) {
	sel, err := SelectorOf(payload)
	if err != nil {
		return nil, err
	}
	if sel != p.withdrawID {
		return nil, nil
	}
	args, err := p.unpack(sel, payload)
	if err != nil {
		return nil, err
	}
	asset, ok := toAddress(args[0])
	if !ok {
		return nil, fmt.Errorf("lending-pool: invalid asset argument")
	}
	return []common.Address{asset}, nil
}

func (p *LendingPoolParser) Recipient(target common.Address, payload []byte, fallback common.Address) (common.Address, error) {
	sel, err := SelectorOf(payload)
	if err != nil {
		return common.Address{}, err
	}
	args, err := p.unpack(sel, payload)
	if err != nil {
		return common.Address{}, err
	}
	switch sel {
	case p.supplyID:
		onBehalfOf, ok := toAddress(args[2])
		if !ok {
			return common.Address{}, fmt.Errorf("lending-pool: invalid onBehalfOf argument")
		}
		return onBehalfOf, nil
	case p.withdrawID:
		to, ok := toAddress(args[2])
		if !ok {
			return common.Address{}, fmt.Errorf("lending-pool: invalid to argument")
		}
		return to, nil
	case p.claimID:
		to, ok := toAddress(args[1])
		if !ok {
			return common.Address{}, fmt.Errorf("lending-pool: invalid to argument")
		}
		return to, nil
	}
	return fallback, nil
}

func (p *LendingPoolParser) unpack(sel Selector, payload []byte) ([]interface{}, error) {
	var method string
	var argc int
	switch sel {
	case p.supplyID:
		method, argc = "supply", 4
	case p.withdrawID:
		method, argc = "withdraw", 3
	case p.claimID:
		method, argc = "claimAllRewards", 2
	default:
		return nil, fmt.Errorf("lending-pool: unsupported selector %s", sel.Hex())
	}
	args, err := lendingPoolABI.Methods[method].Inputs.Unpack(payload[4:])
	if err != nil || len(args) != argc {
		return nil, fmt.Errorf("lending-pool: malformed %s calldata", method)
	}
	return args, nil
}
