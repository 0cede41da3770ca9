package parser

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tokenAddr    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	tokenOutAddr = common.HexToAddress("0x2222222222222222222222222222222222222222")
	vaultAddr    = common.HexToAddress("0x3333333333333333333333333333333333333333")
	otherAddr    = common.HexToAddress("0x4444444444444444444444444444444444444444")
)

func TestERC20TransferDecodesAsWithdraw(t *testing.T) {
	p := NewERC20Parser()
	payload, err := PackTransfer(otherAddr, big.NewInt(1000))
	require.NoError(t, err)

	opType, err := p.OperationType(payload)
	require.NoError(t, err)
	assert.Equal(t, OpWithdraw, opType)

	token, err := p.InputToken(tokenAddr, payload)
	require.NoError(t, err)
	assert.Equal(t, tokenAddr, token, "the token contract itself is the input token")

	amount, err := p.InputAmount(tokenAddr, payload)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), amount.Int64())

	recipient, err := p.Recipient(tokenAddr, payload, vaultAddr)
	require.NoError(t, err)
	assert.Equal(t, otherAddr, recipient, "transfer recipient is the to argument")
}

func TestERC20ApproveKeepsFundsAtVault(t *testing.T) {
	p := NewERC20Parser()
	payload, err := PackApprove(otherAddr, big.NewInt(500))
	require.NoError(t, err)

	opType, err := p.OperationType(payload)
	require.NoError(t, err)
	assert.Equal(t, OpApprove, opType)

	recipient, err := p.Recipient(tokenAddr, payload, vaultAddr)
	require.NoError(t, err)
	assert.Equal(t, vaultAddr, recipient, "approve names a spender, funds stay at the vault")
}

func TestERC20RejectsMalformedCalldata(t *testing.T) {
	p := NewERC20Parser()
	payload, err := PackTransfer(otherAddr, big.NewInt(1000))
	require.NoError(t, err)

	// 截断参数区
	_, err = p.InputAmount(tokenAddr, payload[:20])
	assert.Error(t, err)

	// 不支持的选择器
	_, err = p.OperationType([]byte{0x01, 0x02, 0x03, 0x04})
	assert.Error(t, err)

	// 短于选择器长度的负载
	_, err = SelectorOf([]byte{0x01, 0x02})
	assert.Error(t, err)
}

func TestSwapRouterDecodesExactInputSingle(t *testing.T) {
	p := NewSwapRouterParser()
	payload, err := swapRouterABI.Pack("exactInputSingle", exactInputSingleParams{
		TokenIn:           tokenAddr,
		TokenOut:          tokenOutAddr,
		Fee:               big.NewInt(3000),
		Recipient:         vaultAddr,
		Deadline:          big.NewInt(1_900_000_000),
		AmountIn:          big.NewInt(1_000_000),
		AmountOutMinimum:  big.NewInt(0),
		SqrtPriceLimitX96: big.NewInt(0),
	})
	require.NoError(t, err)

	opType, err := p.OperationType(payload)
	require.NoError(t, err)
	assert.Equal(t, OpSwap, opType)

	token, err := p.InputToken(otherAddr, payload)
	require.NoError(t, err)
	assert.Equal(t, tokenAddr, token)

	amount, err := p.InputAmount(otherAddr, payload)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), amount.Int64())

	outputs, err := p.OutputTokens(otherAddr, payload)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{tokenOutAddr}, outputs)

	recipient, err := p.Recipient(otherAddr, payload, common.Address{})
	require.NoError(t, err)
	assert.Equal(t, vaultAddr, recipient, "recipient comes from the params struct, not the fallback")
}

func TestLendingPoolSupply(t *testing.T) {
	p := NewLendingPoolParser()
	payload, err := lendingPoolABI.Pack("supply", tokenAddr, big.NewInt(777), vaultAddr, uint16(0))
	require.NoError(t, err)

	opType, err := p.OperationType(payload)
	require.NoError(t, err)
	assert.Equal(t, OpDeposit, opType)

	token, err := p.InputToken(otherAddr, payload)
	require.NoError(t, err)
	assert.Equal(t, tokenAddr, token)

	recipient, err := p.Recipient(otherAddr, payload, common.Address{})
	require.NoError(t, err)
	assert.Equal(t, vaultAddr, recipient, "supply credits onBehalfOf")
}

func TestLendingPoolWithdraw(t *testing.T) {
	p := NewLendingPoolParser()
	payload, err := lendingPoolABI.Pack("withdraw", tokenAddr, big.NewInt(777), vaultAddr)
	require.NoError(t, err)

	opType, err := p.OperationType(payload)
	require.NoError(t, err)
	assert.Equal(t, OpWithdraw, opType)

	outputs, err := p.OutputTokens(otherAddr, payload)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{tokenAddr}, outputs, "withdraw returns the underlying asset")

	recipient, err := p.Recipient(otherAddr, payload, common.Address{})
	require.NoError(t, err)
	assert.Equal(t, vaultAddr, recipient)
}

func TestLendingPoolClaimHasNoInputValue(t *testing.T) {
	p := NewLendingPoolParser()
	payload, err := lendingPoolABI.Pack("claimAllRewards", []common.Address{tokenAddr}, vaultAddr)
	require.NoError(t, err)

	opType, err := p.OperationType(payload)
	require.NoError(t, err)
	assert.Equal(t, OpClaim, opType)

	amount, err := p.InputAmount(otherAddr, payload)
	require.NoError(t, err)
	assert.Zero(t, amount.Sign())

	recipient, err := p.Recipient(otherAddr, payload, common.Address{})
	require.NoError(t, err)
	assert.Equal(t, vaultAddr, recipient)
}

func TestShareVaultDepositYieldsShares(t *testing.T) {
	p := NewShareVaultParser(tokenAddr)
	payload, err := shareVaultABI.Pack("deposit", big.NewInt(100), vaultAddr)
	require.NoError(t, err)

	opType, err := p.OperationType(payload)
	require.NoError(t, err)
	assert.Equal(t, OpDeposit, opType)

	token, err := p.InputToken(otherAddr, payload)
	require.NoError(t, err)
	assert.Equal(t, tokenAddr, token, "calldata never names the asset, the parser carries it")

	outputs, err := p.OutputTokens(otherAddr, payload)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{otherAddr}, outputs, "deposit output is the share token (target)")
}

func TestShareVaultWithdraw(t *testing.T) {
	p := NewShareVaultParser(tokenAddr)
	payload, err := shareVaultABI.Pack("withdraw", big.NewInt(100), vaultAddr, vaultAddr)
	require.NoError(t, err)

	opType, err := p.OperationType(payload)
	require.NoError(t, err)
	assert.Equal(t, OpWithdraw, opType)

	token, err := p.InputToken(otherAddr, payload)
	require.NoError(t, err)
	assert.Equal(t, otherAddr, token, "withdraw burns shares held at the vault address")

	recipient, err := p.Recipient(otherAddr, payload, common.Address{})
	require.NoError(t, err)
	assert.Equal(t, vaultAddr, recipient)
}

func TestSelectorClassifierDefaultsToUnknown(t *testing.T) {
	c := NewSelectorClassifier()
	var sel Selector
	copy(sel[:], []byte{0xde, 0xad, 0xbe, 0xef})

	assert.Equal(t, OpUnknown, c.Classify(sel))

	c.Register(sel, OpSwap)
	assert.Equal(t, OpSwap, c.Classify(sel))

	// 注册是幂等覆盖
	c.Register(sel, OpDeposit)
	assert.Equal(t, OpDeposit, c.Classify(sel))
}

func TestParseOperationType(t *testing.T) {
	assert.Equal(t, OpSwap, ParseOperationType("swap"))
	assert.Equal(t, OpWithdraw, ParseOperationType("WITHDRAW"))
	assert.Equal(t, OpUnknown, ParseOperationType("nonsense"))
}

func TestNewByKindRequiresAssetForShareVault(t *testing.T) {
	_, err := NewByKind("share-vault", KindOptions{})
	assert.Error(t, err)

	p, err := NewByKind("share-vault", KindOptions{Asset: tokenAddr})
	require.NoError(t, err)
	assert.Equal(t, "share-vault", p.Name())

	_, err = NewByKind("bogus", KindOptions{})
	assert.Error(t, err)
}
