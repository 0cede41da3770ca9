package service

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vaultgate/vaultgate/internal/config"
	"github.com/vaultgate/vaultgate/internal/model"
	"github.com/vaultgate/vaultgate/internal/pkg/apperrors"
	"github.com/vaultgate/vaultgate/internal/pkg/metrics"
)

// SpendStore persists the per-sub-account spending accumulator.
type SpendStore interface {
	// Get returns the current window. ok=false means no window exists yet.
	Get(ctx context.Context, subAccount string) (windowStart time.Time, spent decimal.Decimal, ok bool, err error)
	Set(ctx context.Context, subAccount string, windowStart time.Time, spent decimal.Decimal) error
}

var tenThousand = decimal.NewFromInt(10000)

// SpendingLimitEngine 执行固定窗口消费上限检查。
//
// 这是一个固定窗口计数器：窗口滚动后整个额度重新可用，跨窗口边界的
// 消费可以合法地达到约 2 倍上限。这是源设计刻意保留的行为，不要改成
// 滑动窗口。
type SpendingLimitEngine struct {
	store           SpendStore
	ledger          *ValuationLedger
	absoluteMaxBps  int64
	valuationMaxAge time.Duration
	now             func() time.Time
	locks           sync.Map // sub-account ID -> *sync.Mutex
}

func NewSpendingLimitEngine(store SpendStore, ledger *ValuationLedger, policy config.PolicyConfig) *SpendingLimitEngine {
	maxBps := policy.AbsoluteMaxSpendingBps
	if maxBps <= 0 || maxBps > 10000 {
		maxBps = 10000
	}
	maxAge := time.Duration(policy.ValuationMaxAgeSeconds) * time.Second
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &SpendingLimitEngine{
		store:           store,
		ledger:          ledger,
		absoluteMaxBps:  maxBps,
		valuationMaxAge: maxAge,
		now:             time.Now,
	}
}

// LockSubAccount serializes the load→compute→commit sequence for one
// sub-account across concurrent requests. Callers hold the lock from the
// limit check until after the spend commit.
func (e *SpendingLimitEngine) LockSubAccount(id string) func() {
	muAny, _ := e.locks.LoadOrStore(id, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// CheckSpend 执行消费前的所有额度检查
// 如果返回 error，则必须拒绝操作
func (e *SpendingLimitEngine) CheckSpend(ctx context.Context, sub *model.SubAccount, cost decimal.Decimal) error {
	if cost.IsNegative() {
		metrics.PolicyRejects.WithLabelValues("invalid_cost").Inc()
		return apperrors.NewInvalidRequest("spending cost must not be negative")
	}
	if !sub.Limits.Configured || sub.Limits.WindowSeconds <= 0 {
		metrics.PolicyRejects.WithLabelValues("not_configured").Inc()
		return apperrors.Newf(apperrors.ErrNotConfigured, "sub-account %s has no spending limit configured", sub.ID)
	}
	if cost.IsPositive() && e.ledger.IsStale(e.valuationMaxAge) {
		metrics.PolicyRejects.WithLabelValues("stale_valuation").Inc()
		return apperrors.Newf(apperrors.ErrStaleValuation, "valuation snapshot older than %s", e.valuationMaxAge)
	}

	cap := e.capFor(sub)
	effectiveSpent, _, err := e.effectiveWindow(ctx, sub)
	if err != nil {
		return apperrors.Wrap(err)
	}
	if effectiveSpent.Add(cost).GreaterThan(cap) {
		metrics.PolicyRejects.WithLabelValues("limit_exceeded").Inc()
		return apperrors.Newf(apperrors.ErrLimitExceeded,
			"spend %s would exceed window cap %s (already spent %s)",
			cost.String(), cap.String(), effectiveSpent.String())
	}
	return nil
}

// CommitSpend persists the accepted cost into the current window. Callers
// must hold the sub-account lock and have passed CheckSpend in the same
// critical section.
func (e *SpendingLimitEngine) CommitSpend(ctx context.Context, sub *model.SubAccount, cost decimal.Decimal) error {
	effectiveSpent, windowStart, err := e.effectiveWindow(ctx, sub)
	if err != nil {
		return apperrors.Wrap(err)
	}
	if err := e.store.Set(ctx, sub.ID, windowStart, effectiveSpent.Add(cost)); err != nil {
		return apperrors.Wrap(err)
	}
	spent, _ := cost.Float64()
	metrics.SpendCommitted.Add(spent)
	return nil
}

// Allowance returns the remaining window capacity for the sub-account.
func (e *SpendingLimitEngine) Allowance(ctx context.Context, sub *model.SubAccount) (decimal.Decimal, error) {
	if !sub.Limits.Configured || sub.Limits.WindowSeconds <= 0 {
		return decimal.Zero, apperrors.Newf(apperrors.ErrNotConfigured, "sub-account %s has no spending limit configured", sub.ID)
	}
	effectiveSpent, _, err := e.effectiveWindow(ctx, sub)
	if err != nil {
		return decimal.Zero, apperrors.Wrap(err)
	}
	remaining := e.capFor(sub).Sub(effectiveSpent)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	return remaining, nil
}

// ValidateAllowance checks the SetAllowance preconditions without writing.
// Batch ingestion runs it before touching the balance ledger, so a bad
// allowance rejects the whole batch instead of leaving balances behind.
func (e *SpendingLimitEngine) ValidateAllowance(sub *model.SubAccount, newAllowance decimal.Decimal) error {
	if newAllowance.IsNegative() {
		return apperrors.NewInvalidRequest("allowance must not be negative")
	}
	if !sub.Limits.Configured || sub.Limits.WindowSeconds <= 0 {
		return apperrors.Newf(apperrors.ErrNotConfigured, "sub-account %s has no spending limit configured", sub.ID)
	}
	return nil
}

// SetAllowance pins the remaining capacity to newAllowance and starts a
// fresh window. Used by oracle reconciliation (batch updates).
func (e *SpendingLimitEngine) SetAllowance(ctx context.Context, sub *model.SubAccount, newAllowance decimal.Decimal) error {
	if err := e.ValidateAllowance(sub, newAllowance); err != nil {
		return err
	}
	unlock := e.LockSubAccount(sub.ID)
	defer unlock()
	spent := e.capFor(sub).Sub(newAllowance)
	if spent.IsNegative() {
		spent = decimal.Zero
	}
	return e.store.Set(ctx, sub.ID, e.now(), spent)
}

func (e *SpendingLimitEngine) capFor(sub *model.SubAccount) decimal.Decimal {
	bps := sub.Limits.MaxSpendingBps
	if bps > e.absoluteMaxBps {
		bps = e.absoluteMaxBps
	}
	if bps < 0 {
		bps = 0
	}
	total := e.ledger.SafeValue().TotalValueUSD
	return total.Mul(decimal.NewFromInt(bps)).Div(tenThousand)
}

// effectiveWindow loads the accumulator and applies the rollover rule: a
// window older than WindowSeconds counts as freshly started.
func (e *SpendingLimitEngine) effectiveWindow(ctx context.Context, sub *model.SubAccount) (decimal.Decimal, time.Time, error) {
	now := e.now()
	windowStart, spent, ok, err := e.store.Get(ctx, sub.ID)
	if err != nil {
		return decimal.Zero, now, err
	}
	window := time.Duration(sub.Limits.WindowSeconds) * time.Second
	if !ok || now.Sub(windowStart) >= window {
		return decimal.Zero, now, nil
	}
	return spent, windowStart, nil
}
