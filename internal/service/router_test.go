package service

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/vaultgate/vaultgate/internal/config"
	"github.com/vaultgate/vaultgate/internal/model"
	"github.com/vaultgate/vaultgate/internal/parser"
	"github.com/vaultgate/vaultgate/internal/pkg/apperrors"
)

var (
	testVault    = common.HexToAddress("0x1000000000000000000000000000000000000001")
	testProtocol = common.HexToAddress("0x2000000000000000000000000000000000000002")
	testTokenA   = common.HexToAddress("0x3000000000000000000000000000000000000003")
	testTokenB   = common.HexToAddress("0x4000000000000000000000000000000000000004")
)

// stubParser 可编程的协议解析器
type stubParser struct {
	opType    parser.OperationType
	token     common.Address
	amount    *big.Int
	outputs   []common.Address
	recipient *common.Address // nil 表示回退到调用方传入的 fallback
	calls     int
}

func (p *stubParser) Name() string                              { return "stub" }
func (p *stubParser) SupportsSelector(sel parser.Selector) bool { return true }

func (p *stubParser) OperationType(payload []byte) (parser.OperationType, error) {
	p.calls++
	return p.opType, nil
}

func (p *stubParser) InputToken(target common.Address, payload []byte) (common.Address, error) {
	return p.token, nil
}

func (p *stubParser) InputAmount(target common.Address, payload []byte) (*big.Int, error) {
	return p.amount, nil
}

func (p *stubParser) OutputTokens(target common.Address, payload []byte) ([]common.Address, error) {
	return p.outputs, nil
}

func (p *stubParser) Recipient(target common.Address, payload []byte, fallback common.Address) (common.Address, error) {
	if p.recipient != nil {
		return *p.recipient, nil
	}
	return fallback, nil
}

type stubForwarder struct {
	err   error
	calls int
}

func (f *stubForwarder) Forward(ctx context.Context, target common.Address, value *big.Int, payload []byte) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "0xstub", nil
}

func (f *stubForwarder) Owners(ctx context.Context) ([]common.Address, error) {
	return []common.Address{testVault}, nil
}

func (f *stubForwarder) Threshold(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

type routerFixture struct {
	router    *ExecutionRouter
	registry  *parser.Registry
	ledger    *ValuationLedger
	limits    *SpendingLimitEngine
	forwarder *stubForwarder
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()

	ledger := NewValuationLedger()
	if _, err := ledger.UpdateSafeValue(decimal.NewFromInt(1_000_000)); err != nil {
		t.Fatalf("seed safe value: %v", err)
	}
	// tokenA: 6 decimals, $1
	if err := ledger.SetPrice(testTokenA.Hex(), decimal.NewFromInt(1), 6); err != nil {
		t.Fatalf("seed price: %v", err)
	}

	limits := NewSpendingLimitEngine(NewMemorySpendStore(), ledger, config.PolicyConfig{
		ValuationMaxAgeSeconds: 3600,
	})

	events, err := NewExecutionLog(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("execution log: %v", err)
	}
	t.Cleanup(events.Close)

	registry := parser.NewRegistry()
	classifier := parser.NewSelectorClassifier()
	forwarder := &stubForwarder{}

	router := NewExecutionRouter(registry, classifier, ledger, limits, forwarder, events, testVault, 0)
	return &routerFixture{
		router:    router,
		registry:  registry,
		ledger:    ledger,
		limits:    limits,
		forwarder: forwarder,
	}
}

func executeAccount() *model.SubAccount {
	return &model.SubAccount{
		ID:           "sub-1",
		ApiKey:       "sk-sub-1",
		Capabilities: []model.Capability{model.CapabilityExecute},
		Allowlist:    []string{testProtocol.Hex()},
		Limits: model.LimitConfig{
			MaxSpendingBps: 500,
			WindowSeconds:  3600,
			Configured:     true,
		},
	}
}

func swapRequest() model.ExecuteRequest {
	return model.ExecuteRequest{
		Target:  testProtocol.Hex(),
		Payload: "0xdeadbeef",
	}
}

func TestExecuteFailsClosedWithoutParser(t *testing.T) {
	fx := newRouterFixture(t)

	_, err := fx.router.ExecuteOnProtocol(context.Background(), executeAccount(), swapRequest())
	if !apperrors.Is(err, apperrors.ErrNoParserRegistered) {
		t.Fatalf("expected NO_PARSER_REGISTERED, got %v", err)
	}
	if fx.forwarder.calls != 0 {
		t.Fatalf("nothing may be forwarded without a parser")
	}
}

func TestExecuteChecksAllowlistBeforeParsing(t *testing.T) {
	fx := newRouterFixture(t)
	p := &stubParser{opType: parser.OpSwap, token: testTokenA, amount: big.NewInt(1)}
	fx.registry.Register(testProtocol, p)

	sub := executeAccount()
	sub.Allowlist = nil

	_, err := fx.router.ExecuteOnProtocol(context.Background(), sub, swapRequest())
	if !apperrors.Is(err, apperrors.ErrNotAllowlisted) {
		t.Fatalf("expected NOT_ALLOWLISTED, got %v", err)
	}
	if p.calls != 0 {
		t.Fatalf("payload must not be parsed for non-allowlisted targets")
	}
}

func TestExecuteRequiresCapability(t *testing.T) {
	fx := newRouterFixture(t)
	sub := executeAccount()
	sub.Capabilities = nil

	_, err := fx.router.ExecuteOnProtocol(context.Background(), sub, swapRequest())
	if !apperrors.Is(err, apperrors.ErrUnauthorized) {
		t.Fatalf("expected UNAUTHORIZED, got %v", err)
	}
}

func TestExecuteRejectsOffVaultRecipient(t *testing.T) {
	fx := newRouterFixture(t)
	attacker := common.HexToAddress("0x9000000000000000000000000000000000000009")
	fx.registry.Register(testProtocol, &stubParser{
		opType:    parser.OpSwap,
		token:     testTokenA,
		amount:    big.NewInt(1_000_000),
		recipient: &attacker,
	})

	_, err := fx.router.ExecuteOnProtocol(context.Background(), executeAccount(), swapRequest())
	if !apperrors.Is(err, apperrors.ErrRecipientMismatch) {
		t.Fatalf("expected RECIPIENT_MISMATCH, got %v", err)
	}
	if fx.forwarder.calls != 0 {
		t.Fatalf("off-vault recipient must never reach the forwarder")
	}
}

func TestExecuteSwapCommitsSpend(t *testing.T) {
	fx := newRouterFixture(t)
	fx.registry.Register(testProtocol, &stubParser{
		opType:  parser.OpSwap,
		token:   testTokenA,
		amount:  big.NewInt(2_500_000), // $2.50 at 6 decimals
		outputs: []common.Address{testTokenB},
	})
	sub := executeAccount()

	rec, err := fx.router.ExecuteOnProtocol(context.Background(), sub, swapRequest())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if rec.OpType != "SWAP" || rec.TxHash != "0xstub" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if !rec.SpendingCost.Equal(decimal.NewFromFloat(2.5)) {
		t.Fatalf("expected spending cost 2.5, got %s", rec.SpendingCost)
	}

	allowance, err := fx.limits.Allowance(context.Background(), sub)
	if err != nil {
		t.Fatalf("allowance: %v", err)
	}
	// cap 50,000 minus $2.50
	if !allowance.Equal(decimal.NewFromFloat(49_997.5)) {
		t.Fatalf("expected allowance 49997.5, got %s", allowance)
	}
}

func TestExecuteRejectsUnpricedToken(t *testing.T) {
	fx := newRouterFixture(t)
	fx.registry.Register(testProtocol, &stubParser{
		opType: parser.OpSwap,
		token:  testTokenB, // no price seeded
		amount: big.NewInt(1),
	})

	_, err := fx.router.ExecuteOnProtocol(context.Background(), executeAccount(), swapRequest())
	if !apperrors.Is(err, apperrors.ErrStaleValuation) {
		t.Fatalf("expected STALE_VALUATION for unpriced token, got %v", err)
	}
}

func TestExecuteForwardingFailureCommitsNothing(t *testing.T) {
	fx := newRouterFixture(t)
	fx.forwarder.err = errors.New("rpc down")
	fx.registry.Register(testProtocol, &stubParser{
		opType: parser.OpSwap,
		token:  testTokenA,
		amount: big.NewInt(1_000_000),
	})
	sub := executeAccount()

	_, err := fx.router.ExecuteOnProtocol(context.Background(), sub, swapRequest())
	if !apperrors.Is(err, apperrors.ErrForwardingFailed) {
		t.Fatalf("expected FORWARDING_FAILED, got %v", err)
	}

	allowance, _ := fx.limits.Allowance(context.Background(), sub)
	if !allowance.Equal(decimal.NewFromInt(50_000)) {
		t.Fatalf("failed forwarding must not consume allowance, got %s", allowance)
	}
}

func TestWithdrawGuardedByLossLimit(t *testing.T) {
	fx := newRouterFixture(t)
	fx.registry.Register(testProtocol, &stubParser{
		opType: parser.OpWithdraw,
		token:  testTokenA,
		amount: big.NewInt(500),
	})
	sub := executeAccount()

	// 没有任何已获取余额时，提取一律拒绝
	_, err := fx.router.ExecuteOnProtocol(context.Background(), sub, swapRequest())
	if !apperrors.Is(err, apperrors.ErrLossLimitExceeded) {
		t.Fatalf("expected LOSS_LIMIT_EXCEEDED, got %v", err)
	}

	fx.ledger.UpdateAcquiredBalance(sub.ID, testTokenA.Hex(), decimal.NewFromInt(500))
	rec, err := fx.router.ExecuteOnProtocol(context.Background(), sub, swapRequest())
	if err != nil {
		t.Fatalf("withdraw within balance: %v", err)
	}
	// 提取是零成本操作
	if !rec.SpendingCost.IsZero() {
		t.Fatalf("withdraw must cost zero, got %s", rec.SpendingCost)
	}
	if !fx.ledger.AcquiredBalance(sub.ID, testTokenA.Hex()).IsZero() {
		t.Fatalf("withdraw must reduce the tracked acquired balance")
	}
}

func TestTransferRequiresTransferCapability(t *testing.T) {
	fx := newRouterFixture(t)
	sub := executeAccount() // execute only

	_, err := fx.router.ExecuteTransfer(context.Background(), sub, model.TransferRequest{
		Token:     testTokenA.Hex(),
		Recipient: testVault.Hex(),
		Amount:    "100",
	})
	if !apperrors.Is(err, apperrors.ErrUnauthorized) {
		t.Fatalf("expected UNAUTHORIZED, got %v", err)
	}
}

func TestTransferSpendsAndReducesBalance(t *testing.T) {
	fx := newRouterFixture(t)
	sub := executeAccount()
	sub.Capabilities = append(sub.Capabilities, model.CapabilityTransfer)
	fx.ledger.UpdateAcquiredBalance(sub.ID, testTokenA.Hex(), decimal.NewFromInt(1_000_000))

	rec, err := fx.router.ExecuteTransfer(context.Background(), sub, model.TransferRequest{
		Token:     testTokenA.Hex(),
		Recipient: "0x9000000000000000000000000000000000000009",
		Amount:    "1000000",
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if rec.Kind != model.RecordTransferExecuted {
		t.Fatalf("unexpected record kind %s", rec.Kind)
	}
	if !rec.SpendingCost.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected cost $1, got %s", rec.SpendingCost)
	}
	if !fx.ledger.AcquiredBalance(sub.ID, testTokenA.Hex()).IsZero() {
		t.Fatalf("transfer must reduce the tracked acquired balance")
	}
}

func TestApproveRequiresAllowlistedSpender(t *testing.T) {
	fx := newRouterFixture(t)
	sub := executeAccount()

	_, err := fx.router.ApproveProtocol(context.Background(), sub, model.ApproveRequest{
		Token:   testTokenA.Hex(),
		Spender: "0x9000000000000000000000000000000000000009",
		Amount:  "1",
	})
	if !apperrors.Is(err, apperrors.ErrNotAllowlisted) {
		t.Fatalf("expected NOT_ALLOWLISTED, got %v", err)
	}

	rec, err := fx.router.ApproveProtocol(context.Background(), sub, model.ApproveRequest{
		Token:   testTokenA.Hex(),
		Spender: testProtocol.Hex(),
		Amount:  "1",
	})
	if err != nil {
		t.Fatalf("approve allowlisted spender: %v", err)
	}
	if !rec.SpendingCost.IsZero() {
		t.Fatalf("approvals must be zero-cost")
	}
}
