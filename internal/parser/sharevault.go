package parser

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ShareVaultParser decodes ERC-4626 deposit/withdraw calls. The calldata
// never names the underlying asset, so the parser is constructed with it.
// A deposit yields the vault's share token as output, distinct from the
// deposited asset.
type ShareVaultParser struct {
	asset      common.Address
	depositID  Selector
	withdrawID Selector
}

func NewShareVaultParser(asset common.Address) *ShareVaultParser {
	return &ShareVaultParser{
		asset:      asset,
		depositID:  selectorOfMethod(shareVaultABI, "deposit"),
		withdrawID: selectorOfMethod(shareVaultABI, "withdraw"),
	}
}

func (p *ShareVaultParser) Name() string { return "share-vault" }

func (p *ShareVaultParser) SupportsSelector(sel Selector) bool {
	return sel == p.depositID || sel == p.withdrawID
}

func (p *ShareVaultParser) OperationType(payload []byte) (OperationType, error) {
	sel, err := SelectorOf(payload)
	if err != nil {
		return OpUnknown, err
	}
	switch sel {
	case p.depositID:
		return OpDeposit, nil
	case p.withdrawID:
		return OpWithdraw, nil
	default:
		return OpUnknown, fmt.Errorf("share-vault: unsupported selector %s", sel.Hex())
	}
}

func (p *ShareVaultParser) InputToken(target common.Address, payload []byte) (common.Address, error) {
	sel, err := SelectorOf(payload)
	if err != nil {
		return common.Address{}, err
	}
	if _, err := p.unpack(sel, payload); err != nil {
		return common.Address{}, err
	}
	if sel == p.withdrawID {
		// withdrawing burns shares held at the vault address
		return target, nil
	}
	return p.asset, nil
}

func (p *ShareVaultParser) InputAmount(target common.Address, payload []byte) (*big.Int, error) {
	sel, err := SelectorOf(payload)
	if err != nil {
		return nil, err
	}
	args, err := p.unpack(sel, payload)
	if err != nil {
		return nil, err
	}
	assets, ok := toBigInt(args[0])
	if !ok || assets.Sign() < 0 {
		return nil, fmt.Errorf("share-vault: invalid assets argument")
	}
	return assets, nil
}

func (p *ShareVaultParser) OutputTokens(target common.Address, payload []byte) ([]common.Address, error) {
	sel, err := SelectorOf(payload)
	if err != nil {
		return nil, err
	}
	if _, err := p.unpack(sel, payload); err != nil {
		return nil, err
	}
	if sel == p.depositID {
		return []common.Address{target}, nil
	}
	return []common.Address{p.asset}, nil
}

func (p *ShareVaultParser) Recipient(target common.Address, payload []byte, fallback common.Address) (common.Address, error) {
	sel, err := SelectorOf(payload)
	if err != nil {
		return common.Address{}, err
	}
	args, err := p.unpack(sel, payload)
	if err != nil {
		return common.Address{}, err
	}
	receiver, ok := toAddress(args[1])
	if !ok {
		return common.Address{}, fmt.Errorf("share-vault: invalid receiver argument")
	}
	return receiver, nil
}

func (p *ShareVaultParser) unpack(sel Selector, payload []byte) ([]interface{}, error) {
	var method string
	var argc int
	switch sel {
	case p.depositID:
		method, argc = "deposit", 2
	case p.withdrawID:
		method, argc = "withdraw", 3
	default:
		return nil, fmt.Errorf("share-vault: unsupported selector %s", sel.Hex())
	}
	args, err := shareVaultABI.Methods[method].Inputs.Unpack(payload[4:])
	if err != nil || len(args) != argc {
		return nil, fmt.Errorf("share-vault: malformed %s calldata", method)
	}
	return args, nil
}
