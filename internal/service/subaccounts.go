package service

import (
	"context"
	"sync"

	"github.com/vaultgate/vaultgate/internal/config"
	"github.com/vaultgate/vaultgate/internal/model"
	"golang.org/x/time/rate"
)

// SubAccountManager 管理子账户记录、限流器以及当前授权的预言机身份
type SubAccountManager struct {
	mu        sync.RWMutex
	accounts  map[string]*model.SubAccount // Key: Gateway ApiKey
	limiters  map[string]*rate.Limiter     // Key: SubAccount ID
	oracleKey string
	config    *config.Config
	repo      SubAccountRepo
}

type SubAccountRepo interface {
	GetByApiKey(ctx context.Context, apiKey string) (*model.SubAccount, error)
}

func NewSubAccountManager(cfg *config.Config, repo SubAccountRepo) *SubAccountManager {
	m := &SubAccountManager{
		accounts: make(map[string]*model.SubAccount),
		limiters: make(map[string]*rate.Limiter),
		config:   cfg,
		repo:     repo,
	}
	if cfg != nil {
		m.oracleKey = cfg.Auth.OracleKey
		for _, sc := range cfg.SubAccounts {
			m.Register(subAccountFromConfig(sc))
		}
	}
	return m
}

func subAccountFromConfig(sc config.SubAccountConfig) *model.SubAccount {
	caps := make([]model.Capability, 0, len(sc.Capabilities))
	for _, c := range sc.Capabilities {
		caps = append(caps, model.Capability(c))
	}
	qps := sc.QPS
	if qps == 0 {
		qps = 10
	}
	burst := sc.Burst
	if burst == 0 {
		burst = 20
	}
	return &model.SubAccount{
		ID:           sc.ID,
		Name:         sc.Name,
		ApiKey:       sc.APIKey,
		Address:      sc.Address,
		Capabilities: caps,
		Roles:        sc.Roles,
		Allowlist:    sc.Allowlist,
		Limits: model.LimitConfig{
			MaxSpendingBps: sc.MaxSpendingBps,
			WindowSeconds:  sc.WindowSeconds,
			Configured:     sc.MaxSpendingBps > 0 || sc.WindowSeconds > 0,
		},
		Rate: model.RateLimitConfig{QPS: qps, Burst: burst},
	}
}

func (m *SubAccountManager) Register(s *model.SubAccount) {
	if s == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[s.ApiKey] = s

	limit := rate.Limit(s.Rate.QPS)
	if limit == 0 {
		limit = rate.Inf
	}
	burst := s.Rate.Burst
	if burst == 0 {
		burst = 1
	}
	m.limiters[s.ID] = rate.NewLimiter(limit, burst)
}

func (m *SubAccountManager) Replace(s *model.SubAccount) {
	m.RemoveByID(s.ID)
	m.Register(s)
}

func (m *SubAccountManager) RemoveByID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, acct := range m.accounts {
		if acct != nil && acct.ID == id {
			delete(m.accounts, key)
			delete(m.limiters, acct.ID)
		}
	}
}

func (m *SubAccountManager) GetByID(id string) (*model.SubAccount, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, acct := range m.accounts {
		if acct != nil && acct.ID == id {
			return acct, true
		}
	}
	return nil, false
}

func (m *SubAccountManager) List() []*model.SubAccount {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]*model.SubAccount, 0, len(m.accounts))
	seen := make(map[string]struct{})
	for _, acct := range m.accounts {
		if acct == nil {
			continue
		}
		if _, ok := seen[acct.ID]; ok {
			continue
		}
		seen[acct.ID] = struct{}{}
		results = append(results, acct)
	}
	return results
}

// ByRole returns every sub-account holding the given role.
func (m *SubAccountManager) ByRole(role string) []*model.SubAccount {
	results := make([]*model.SubAccount, 0)
	for _, acct := range m.List() {
		if acct.HasRole(role) {
			results = append(results, acct)
		}
	}
	return results
}

func (m *SubAccountManager) GetByApiKey(apiKey string) (*model.SubAccount, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.accounts[apiKey]
	return s, ok
}

func (m *SubAccountManager) GetByApiKeyWithFallback(ctx context.Context, apiKey string) (*model.SubAccount, bool) {
	if s, ok := m.GetByApiKey(apiKey); ok {
		return s, true
	}
	if m.repo == nil {
		return nil, false
	}
	s, err := m.repo.GetByApiKey(ctx, apiKey)
	if err != nil || s == nil {
		return nil, false
	}
	m.Register(s)
	return s, true
}

// LimiterFor 获取子账户的限流器
func (m *SubAccountManager) LimiterFor(id string) *rate.Limiter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.limiters[id]
}

// OracleKey returns the currently authorized oracle identity. There is one
// trusted price-feed role at a time, replaceable by the owner.
func (m *SubAccountManager) OracleKey() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.oracleKey
}

func (m *SubAccountManager) SetOracleKey(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.oracleKey = key
}
