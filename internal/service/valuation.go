package service

import (
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vaultgate/vaultgate/internal/model"
	"github.com/vaultgate/vaultgate/internal/pkg/apperrors"
)

// ValuationLedger 持有金库估值单例、Token 价格表以及
// 每个 (子账户, Token) 的已获取余额快照。只有预言机角色可写。
type ValuationLedger struct {
	mu       sync.RWMutex
	safe     model.SafeValue
	prices   map[string]model.TokenPrice
	balances map[string]map[string]decimal.Decimal // sub -> token -> base units
	now      func() time.Time
}

func NewValuationLedger() *ValuationLedger {
	return &ValuationLedger{
		prices:   make(map[string]model.TokenPrice),
		balances: make(map[string]map[string]decimal.Decimal),
		now:      time.Now,
	}
}

// UpdateSafeValue sets the vault valuation snapshot. The update counter is
// monotone and LastUpdated never goes backwards.
func (l *ValuationLedger) UpdateSafeValue(totalUSD decimal.Decimal) (model.SafeValue, error) {
	if totalUSD.IsNegative() {
		return model.SafeValue{}, apperrors.NewInvalidRequest("total value must not be negative")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.safe.TotalValueUSD = totalUSD
	l.safe.LastUpdated = l.now()
	l.safe.UpdateCount++
	return l.safe, nil
}

// SafeValue returns an immutable snapshot of the valuation record.
func (l *ValuationLedger) SafeValue() model.SafeValue {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.safe
}

// IsStale reports whether the snapshot is older than maxAge. A ledger that
// has never been updated is always stale.
func (l *ValuationLedger) IsStale(maxAge time.Duration) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.safe.UpdateCount == 0 {
		return true
	}
	return l.now().Sub(l.safe.LastUpdated) > maxAge
}

func (l *ValuationLedger) SetPrice(token string, priceUSD decimal.Decimal, decimals int32) error {
	if priceUSD.IsNegative() {
		return apperrors.NewInvalidRequest("token price must not be negative")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := tokenKey(token)
	l.prices[key] = model.TokenPrice{Token: key, PriceUSD: priceUSD, Decimals: decimals}
	return nil
}

// PriceAmount converts a base-unit token amount into reference units (USD).
// A token without a trusted price cannot be spent against the cap.
func (l *ValuationLedger) PriceAmount(token string, amount *big.Int) (decimal.Decimal, error) {
	if amount == nil || amount.Sign() < 0 {
		return decimal.Zero, apperrors.NewInvalidRequest("amount must be a non-negative integer")
	}
	l.mu.RLock()
	price, ok := l.prices[tokenKey(token)]
	l.mu.RUnlock()
	if !ok {
		return decimal.Zero, apperrors.Newf(apperrors.ErrStaleValuation, "no trusted price for token %s", token)
	}
	whole := decimal.NewFromBigInt(amount, -price.Decimals)
	return whole.Mul(price.PriceUSD), nil
}

func (l *ValuationLedger) UpdateAcquiredBalance(subAccount, token string, balance decimal.Decimal) error {
	if balance.IsNegative() {
		return apperrors.NewInvalidRequest("balance must not be negative")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setBalanceLocked(subAccount, token, balance)
	return nil
}

// ApplyBatch applies an oracle reconciliation snapshot atomically: either
// every (token, balance) pair lands or none does.
func (l *ValuationLedger) ApplyBatch(subAccount string, tokens []string, balances []decimal.Decimal) error {
	if len(tokens) != len(balances) {
		return apperrors.Newf(apperrors.ErrArrayLengthMismatch,
			"tokens/balances length mismatch: %d vs %d", len(tokens), len(balances))
	}
	for i, b := range balances {
		if b.IsNegative() {
			return apperrors.Newf(apperrors.ErrInvalidRequest, "negative balance for token %s", tokens[i])
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, token := range tokens {
		l.setBalanceLocked(subAccount, token, balances[i])
	}
	return nil
}

// ReduceAcquired lowers the tracked acquired balance after an outbound
// operation, clamping at zero. Crediting is left to oracle reconciliation.
func (l *ValuationLedger) ReduceAcquired(subAccount, token string, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	current := l.balanceLocked(subAccount, token)
	next := current.Sub(amount)
	if next.IsNegative() {
		next = decimal.Zero
	}
	l.setBalanceLocked(subAccount, token, next)
}

func (l *ValuationLedger) AcquiredBalance(subAccount, token string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balanceLocked(subAccount, token)
}

func (l *ValuationLedger) TokenBalances(subAccount string) []model.TokenBalance {
	l.mu.RLock()
	defer l.mu.RUnlock()
	byToken := l.balances[subAccount]
	out := make([]model.TokenBalance, 0, len(byToken))
	for token, balance := range byToken {
		out = append(out, model.TokenBalance{Token: token, Balance: balance})
	}
	return out
}

func (l *ValuationLedger) balanceLocked(subAccount, token string) decimal.Decimal {
	byToken, ok := l.balances[subAccount]
	if !ok {
		return decimal.Zero
	}
	return byToken[tokenKey(token)]
}

func (l *ValuationLedger) setBalanceLocked(subAccount, token string, balance decimal.Decimal) {
	byToken, ok := l.balances[subAccount]
	if !ok {
		byToken = make(map[string]decimal.Decimal)
		l.balances[subAccount] = byToken
	}
	byToken[tokenKey(token)] = balance
}

func tokenKey(token string) string {
	return strings.ToLower(strings.TrimSpace(token))
}
