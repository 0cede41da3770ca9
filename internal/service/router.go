package service

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"github.com/vaultgate/vaultgate/internal/model"
	"github.com/vaultgate/vaultgate/internal/parser"
	"github.com/vaultgate/vaultgate/internal/pkg/apperrors"
	"github.com/vaultgate/vaultgate/internal/pkg/metrics"
)

// ExecutionRouter 执行管道的编排器。每次调用要么完整走完
// capability → allowlist → classify → parse → price → limit → forward →
// record 的全部阶段，要么在某个检查处原子地终止，不留任何部分状态。
type ExecutionRouter struct {
	registry   *parser.Registry
	classifier *parser.SelectorClassifier
	ledger     *ValuationLedger
	limits     *SpendingLimitEngine
	forwarder  VaultForwarder
	events     *ExecutionLog
	vault      common.Address

	lossToleranceBps int64
}

func NewExecutionRouter(
	registry *parser.Registry,
	classifier *parser.SelectorClassifier,
	ledger *ValuationLedger,
	limits *SpendingLimitEngine,
	forwarder VaultForwarder,
	events *ExecutionLog,
	vault common.Address,
	lossToleranceBps int64,
) *ExecutionRouter {
	return &ExecutionRouter{
		registry:         registry,
		classifier:       classifier,
		ledger:           ledger,
		limits:           limits,
		forwarder:        forwarder,
		events:           events,
		vault:            vault,
		lossToleranceBps: lossToleranceBps,
	}
}

// ExecuteOnProtocol runs the full pipeline for an opaque protocol call and,
// if every check passes, forwards the payload to the vault for execution.
func (r *ExecutionRouter) ExecuteOnProtocol(ctx context.Context, sub *model.SubAccount, req model.ExecuteRequest) (*model.ExecutionRecord, error) {
	target, err := parseAddress(req.Target)
	if err != nil {
		return nil, apperrors.NewInvalidRequest(err.Error())
	}
	payload, err := hexutil.Decode(strings.TrimSpace(req.Payload))
	if err != nil {
		return nil, apperrors.NewInvalidRequest("payload must be 0x-prefixed hex")
	}
	value := big.NewInt(0)
	if strings.TrimSpace(req.Value) != "" {
		if _, ok := value.SetString(strings.TrimSpace(req.Value), 10); !ok || value.Sign() < 0 {
			return nil, apperrors.NewInvalidRequest("value must be a non-negative integer")
		}
	}

	// 1. Capability — never parse payloads from unauthorized callers
	if !sub.HasCapability(model.CapabilityExecute) {
		metrics.PolicyRejects.WithLabelValues("unauthorized").Inc()
		return nil, apperrors.Newf(apperrors.ErrUnauthorized, "sub-account %s lacks the execute capability", sub.ID)
	}

	// 2. Allowlist — checked before any parsing work
	if !sub.IsAllowlisted(target.Hex()) {
		metrics.PolicyRejects.WithLabelValues("not_allowlisted").Inc()
		return nil, apperrors.Newf(apperrors.ErrNotAllowlisted, "protocol %s not allowlisted for sub-account %s", target.Hex(), sub.ID)
	}

	// 3. Parser lookup — fail closed on unknown targets
	p, ok := r.registry.ParserOf(target)
	if !ok {
		metrics.PolicyRejects.WithLabelValues("no_parser").Inc()
		return nil, apperrors.Newf(apperrors.ErrNoParserRegistered, "no parser registered for target %s", target.Hex())
	}

	// 4. Classify — parser self-report first, selector table as fallback
	opType, err := r.classify(p, payload)
	if err != nil {
		metrics.PolicyRejects.WithLabelValues("parse_failure").Inc()
		return nil, apperrors.New(apperrors.ErrParseFailure, err.Error(), err)
	}

	// 5. Parse semantic fields; any decode failure rejects the whole call
	inputToken, err := p.InputToken(target, payload)
	if err != nil {
		metrics.PolicyRejects.WithLabelValues("parse_failure").Inc()
		return nil, apperrors.New(apperrors.ErrParseFailure, err.Error(), err)
	}
	inputAmount, err := p.InputAmount(target, payload)
	if err != nil {
		metrics.PolicyRejects.WithLabelValues("parse_failure").Inc()
		return nil, apperrors.New(apperrors.ErrParseFailure, err.Error(), err)
	}
	outputTokens, err := p.OutputTokens(target, payload)
	if err != nil {
		metrics.PolicyRejects.WithLabelValues("parse_failure").Inc()
		return nil, apperrors.New(apperrors.ErrParseFailure, err.Error(), err)
	}
	recipient, err := p.Recipient(target, payload, r.vault)
	if err != nil {
		metrics.PolicyRejects.WithLabelValues("parse_failure").Inc()
		return nil, apperrors.New(apperrors.ErrParseFailure, err.Error(), err)
	}

	// 6. Recipient safety — funds must never be redirected off-vault
	if recipient != r.vault {
		metrics.PolicyRejects.WithLabelValues("recipient_mismatch").Inc()
		return nil, apperrors.Newf(apperrors.ErrRecipientMismatch,
			"recipient %s is not the vault %s", recipient.Hex(), r.vault.Hex())
	}

	// 7. Price against the valuation ledger
	cost, err := r.priceOperation(opType, inputToken, inputAmount)
	if err != nil {
		return nil, apperrors.Wrap(err)
	}

	// 8. Loss limit — independent of the spending cap
	if opType == parser.OpWithdraw {
		if err := r.checkLossLimit(sub, inputToken.Hex(), inputAmount); err != nil {
			return nil, err
		}
	}

	// 9-11. Limit check, forward, commit — serialized per sub-account
	unlock := r.limits.LockSubAccount(sub.ID)
	defer unlock()

	if err := r.limits.CheckSpend(ctx, sub, cost); err != nil {
		return nil, err
	}

	txHash, err := r.forwarder.Forward(ctx, target, value, payload)
	if err != nil {
		metrics.PolicyRejects.WithLabelValues("forwarding_failed").Inc()
		metrics.ExecutionsTotal.WithLabelValues("failed", opType.String()).Inc()
		return nil, apperrors.New(apperrors.ErrForwardingFailed, "vault forwarding failed", err)
	}

	if err := r.limits.CommitSpend(ctx, sub, cost); err != nil {
		return nil, apperrors.Wrap(err)
	}

	// 12. Bookkeeping: outbound ops reduce the tracked acquired balance;
	// crediting of acquisitions is left to oracle reconciliation.
	if opType == parser.OpWithdraw && inputAmount != nil {
		r.ledger.ReduceAcquired(sub.ID, inputToken.Hex(), decimal.NewFromBigInt(inputAmount, 0))
	}

	metrics.ExecutionsTotal.WithLabelValues("success", opType.String()).Inc()

	rec := &model.ExecutionRecord{
		Kind:         model.RecordProtocolExecution,
		SubAccount:   sub.ID,
		Target:       target.Hex(),
		OpType:       opType.String(),
		TokensIn:     []string{inputToken.Hex()},
		AmountsIn:    []decimal.Decimal{decimal.NewFromBigInt(bigOrZero(inputAmount), 0)},
		TokensOut:    addressesToHex(outputTokens),
		SpendingCost: &cost,
		TxHash:       txHash,
	}
	r.events.Emit(rec)
	return rec, nil
}

// ExecuteTransfer moves vault-held tokens directly to a recipient. This is
// the restricted path: it requires the transfer capability, distinct from
// the general execute capability, and is priced and limit-checked
// identically to protocol execution.
func (r *ExecutionRouter) ExecuteTransfer(ctx context.Context, sub *model.SubAccount, req model.TransferRequest) (*model.ExecutionRecord, error) {
	token, err := parseAddress(req.Token)
	if err != nil {
		return nil, apperrors.NewInvalidRequest(err.Error())
	}
	recipient, err := parseAddress(req.Recipient)
	if err != nil {
		return nil, apperrors.NewInvalidRequest(err.Error())
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return nil, apperrors.NewInvalidRequest(err.Error())
	}

	if !sub.HasCapability(model.CapabilityTransfer) {
		metrics.PolicyRejects.WithLabelValues("unauthorized").Inc()
		return nil, apperrors.Newf(apperrors.ErrUnauthorized, "sub-account %s lacks the transfer capability", sub.ID)
	}

	cost, err := r.ledger.PriceAmount(token.Hex(), amount)
	if err != nil {
		return nil, apperrors.Wrap(err)
	}
	if err := r.checkLossLimit(sub, token.Hex(), amount); err != nil {
		return nil, err
	}

	payload, err := parser.PackTransfer(recipient, amount)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrInternal, "failed to build transfer calldata", err)
	}

	unlock := r.limits.LockSubAccount(sub.ID)
	defer unlock()

	if err := r.limits.CheckSpend(ctx, sub, cost); err != nil {
		return nil, err
	}

	txHash, err := r.forwarder.Forward(ctx, token, big.NewInt(0), payload)
	if err != nil {
		metrics.PolicyRejects.WithLabelValues("forwarding_failed").Inc()
		metrics.ExecutionsTotal.WithLabelValues("failed", "TRANSFER").Inc()
		return nil, apperrors.New(apperrors.ErrForwardingFailed, "vault forwarding failed", err)
	}

	if err := r.limits.CommitSpend(ctx, sub, cost); err != nil {
		return nil, apperrors.Wrap(err)
	}

	amountDec := decimal.NewFromBigInt(amount, 0)
	r.ledger.ReduceAcquired(sub.ID, token.Hex(), amountDec)
	metrics.ExecutionsTotal.WithLabelValues("success", "TRANSFER").Inc()

	rec := &model.ExecutionRecord{
		Kind:         model.RecordTransferExecuted,
		SubAccount:   sub.ID,
		Token:        token.Hex(),
		Recipient:    recipient.Hex(),
		Amount:       &amountDec,
		SpendingCost: &cost,
		TxHash:       txHash,
	}
	r.events.Emit(rec)
	return rec, nil
}

// ApproveProtocol grants a spender an allowance on a vault-held token.
// Approvals move no value and are priced at zero, but the spender must
// still be allowlisted for the sub-account: zero cost is not a bypass.
func (r *ExecutionRouter) ApproveProtocol(ctx context.Context, sub *model.SubAccount, req model.ApproveRequest) (*model.ExecutionRecord, error) {
	token, err := parseAddress(req.Token)
	if err != nil {
		return nil, apperrors.NewInvalidRequest(err.Error())
	}
	spender, err := parseAddress(req.Spender)
	if err != nil {
		return nil, apperrors.NewInvalidRequest(err.Error())
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return nil, apperrors.NewInvalidRequest(err.Error())
	}

	if !sub.HasCapability(model.CapabilityExecute) {
		metrics.PolicyRejects.WithLabelValues("unauthorized").Inc()
		return nil, apperrors.Newf(apperrors.ErrUnauthorized, "sub-account %s lacks the execute capability", sub.ID)
	}
	if !sub.IsAllowlisted(spender.Hex()) {
		metrics.PolicyRejects.WithLabelValues("not_allowlisted").Inc()
		return nil, apperrors.Newf(apperrors.ErrNotAllowlisted, "protocol %s not allowlisted for sub-account %s", spender.Hex(), sub.ID)
	}

	payload, err := parser.PackApprove(spender, amount)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrInternal, "failed to build approve calldata", err)
	}

	unlock := r.limits.LockSubAccount(sub.ID)
	defer unlock()

	cost := decimal.Zero
	if err := r.limits.CheckSpend(ctx, sub, cost); err != nil {
		return nil, err
	}

	txHash, err := r.forwarder.Forward(ctx, token, big.NewInt(0), payload)
	if err != nil {
		metrics.PolicyRejects.WithLabelValues("forwarding_failed").Inc()
		metrics.ExecutionsTotal.WithLabelValues("failed", parser.OpApprove.String()).Inc()
		return nil, apperrors.New(apperrors.ErrForwardingFailed, "vault forwarding failed", err)
	}
	if err := r.limits.CommitSpend(ctx, sub, cost); err != nil {
		return nil, apperrors.Wrap(err)
	}
	metrics.ExecutionsTotal.WithLabelValues("success", parser.OpApprove.String()).Inc()

	amountDec := decimal.NewFromBigInt(amount, 0)
	rec := &model.ExecutionRecord{
		Kind:         model.RecordProtocolExecution,
		SubAccount:   sub.ID,
		Target:       spender.Hex(),
		OpType:       parser.OpApprove.String(),
		TokensIn:     []string{token.Hex()},
		AmountsIn:    []decimal.Decimal{amountDec},
		SpendingCost: &cost,
		TxHash:       txHash,
	}
	r.events.Emit(rec)
	return rec, nil
}

// classify prefers the parser's self-reported operation type and only falls
// back to the selector table when the parser defers with OpUnknown.
func (r *ExecutionRouter) classify(p parser.Parser, payload []byte) (parser.OperationType, error) {
	opType, err := p.OperationType(payload)
	if err != nil {
		return parser.OpUnknown, err
	}
	if opType != parser.OpUnknown {
		return opType, nil
	}
	sel, err := parser.SelectorOf(payload)
	if err != nil {
		return parser.OpUnknown, err
	}
	opType = r.classifier.Classify(sel)
	if opType == parser.OpUnknown {
		return parser.OpUnknown, fmt.Errorf("cannot classify operation for selector %s", sel.Hex())
	}
	return opType, nil
}

// priceOperation converts the parsed call into a reference-unit cost.
// Inbound-value ops (withdraw, claim) and approvals cost zero; everything
// that moves value out of the vault is priced at its input amount.
func (r *ExecutionRouter) priceOperation(opType parser.OperationType, inputToken common.Address, inputAmount *big.Int) (decimal.Decimal, error) {
	switch opType {
	case parser.OpApprove, parser.OpWithdraw, parser.OpClaim:
		return decimal.Zero, nil
	default:
		if inputAmount == nil || inputAmount.Sign() == 0 {
			return decimal.Zero, nil
		}
		return r.ledger.PriceAmount(inputToken.Hex(), inputAmount)
	}
}

// checkLossLimit rejects operations that would reduce the sub-account's
// tracked acquired balance beyond the configured tolerance.
func (r *ExecutionRouter) checkLossLimit(sub *model.SubAccount, token string, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	balance := r.ledger.AcquiredBalance(sub.ID, token)
	tolerance := decimal.NewFromInt(10000 + r.lossToleranceBps).Div(tenThousand)
	allowed := balance.Mul(tolerance)
	if decimal.NewFromBigInt(amount, 0).GreaterThan(allowed) {
		metrics.PolicyRejects.WithLabelValues("loss_limit").Inc()
		return apperrors.Newf(apperrors.ErrLossLimitExceeded,
			"amount exceeds tracked acquired balance %s of token %s for sub-account %s",
			balance.String(), token, sub.ID)
	}
	return nil
}

func parseAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(trimmed), nil
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must be a non-negative integer in base units")
	}
	return amount, nil
}

func addressesToHex(addrs []common.Address) []string {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Hex())
	}
	return out
}

func bigOrZero(n *big.Int) *big.Int {
	if n == nil {
		return big.NewInt(0)
	}
	return n
}
