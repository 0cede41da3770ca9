package parser

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ERC20Parser decodes direct token calls. The token contract itself is the
// input token; a transfer out of the vault is classified WITHDRAW so the
// recipient assertion and loss-limit guard both apply.
type ERC20Parser struct {
	transferID Selector
	approveID  Selector
}

func NewERC20Parser() *ERC20Parser {
	return &ERC20Parser{
		transferID: selectorOfMethod(erc20ABI, "transfer"),
		approveID:  selectorOfMethod(erc20ABI, "approve"),
	}
}

func (p *ERC20Parser) Name() string { return "erc20" }

func (p *ERC20Parser) SupportsSelector(sel Selector) bool {
	return sel == p.transferID || sel == p.approveID
}

func (p *ERC20Parser) OperationType(payload []byte) (OperationType, error) {
	sel, err := SelectorOf(payload)
	if err != nil {
		return OpUnknown, err
	}
	switch sel {
	case p.transferID:
		return OpWithdraw, nil
	case p.approveID:
		return OpApprove, nil
	default:
		return OpUnknown, fmt.Errorf("erc20: unsupported selector %s", sel.Hex())
	}
}

func (p *ERC20Parser) InputToken(target common.Address, payload []byte) (common.Address, error) {
	if _, _, err := p.decode(payload); err != nil {
		return common.Address{}, err
	}
	return target, nil
}

func (p *ERC20Parser) InputAmount(target common.Address, payload []byte) (*big.Int, error) {
	_, amount, err := p.decode(payload)
	if err != nil {
		return nil, err
	}
	return amount, nil
}

func (p *ERC20Parser) OutputTokens(target common.Address, payload []byte) ([]common.Address, error) {
	if _, _, err := p.decode(payload); err != nil {
		return nil, err
	}
	return nil, nil
}

func (p *ERC20Parser) Recipient(target common.Address, payload []byte, fallback common.Address) (common.Address, error) {
	sel, err := SelectorOf(payload)
	if err != nil {
		return common.Address{}, err
	}
	addr, _, err := p.decode(payload)
	if err != nil {
		return common.Address{}, err
	}
	if sel == p.approveID {
		// approve names a spender, not a recipient; funds stay with the vault
		return fallback, nil
	}
	return addr, nil
}

func (p *ERC20Parser) decode(payload []byte) (common.Address, *big.Int, error) {
	sel, err := SelectorOf(payload)
	if err != nil {
		return common.Address{}, nil, err
	}
	var method string
	switch {
	case bytes.Equal(sel[:], p.transferID[:]):
		method = "transfer"
	case bytes.Equal(sel[:], p.approveID[:]):
		method = "approve"
	default:
		return common.Address{}, nil, fmt.Errorf("erc20: unsupported selector %s", sel.Hex())
	}
	args, err := erc20ABI.Methods[method].Inputs.Unpack(payload[4:])
	if err != nil || len(args) != 2 {
		return common.Address{}, nil, fmt.Errorf("erc20: malformed %s calldata", method)
	}
	addr, ok := toAddress(args[0])
	if !ok {
		return common.Address{}, nil, fmt.Errorf("erc20: invalid address argument")
	}
	amount, ok := toBigInt(args[1])
	if !ok || amount.Sign() < 0 {
		return common.Address{}, nil, fmt.Errorf("erc20: invalid amount argument")
	}
	return addr, amount, nil
}
