package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vaultgate/vaultgate/internal/model"
	"github.com/vaultgate/vaultgate/internal/pkg/apperrors"
	"github.com/vaultgate/vaultgate/internal/repository"
	"gorm.io/gorm"
)

// SubAccountService 提供子账户的管理面 CRUD 以及策略配置写入口
type SubAccountService struct {
	repo           SubAccountRepoCRUD
	manager        *SubAccountManager
	absoluteMaxBps int64
}

type SubAccountRepoCRUD interface {
	SubAccountRepo
	List(ctx context.Context, limit, offset int) ([]*model.SubAccount, error)
	GetByID(ctx context.Context, id string) (*model.SubAccount, error)
	Create(ctx context.Context, s *model.SubAccount) error
	Update(ctx context.Context, s *model.SubAccount) error
	Delete(ctx context.Context, id string) error
}

type SubAccountCreateRequest struct {
	ID           string   `json:"id" binding:"required"`
	Name         string   `json:"name"`
	APIKey       string   `json:"api_key" binding:"required"`
	Address      string   `json:"address"`
	Capabilities []string `json:"capabilities"`
	Roles        []string `json:"roles"`
	Allowlist    []string `json:"allowlist"`
	Limits       *model.LimitConfig     `json:"limits"`
	Rate         *model.RateLimitConfig `json:"rate_limit"`
}

// SubAccountUpdateRequest 只更新显式出现的字段，nil 表示保持原值
type SubAccountUpdateRequest struct {
	Name         *string                `json:"name"`
	Address      *string                `json:"address"`
	Capabilities *[]string              `json:"capabilities"`
	Roles        *[]string              `json:"roles"`
	Rate         *model.RateLimitConfig `json:"rate_limit"`
}

type LimitsUpdateRequest struct {
	MaxSpendingBps int64 `json:"max_spending_bps"`
	WindowSeconds  int64 `json:"window_seconds"`
	Configured     bool  `json:"configured"`
}

type AllowlistUpdateRequest struct {
	Allowlist []string `json:"allowlist" binding:"required"`
}

func NewSubAccountService(manager *SubAccountManager, repo SubAccountRepoCRUD, absoluteMaxBps int64) *SubAccountService {
	if absoluteMaxBps <= 0 || absoluteMaxBps > 10000 {
		absoluteMaxBps = 10000
	}
	return &SubAccountService{
		repo:           repo,
		manager:        manager,
		absoluteMaxBps: absoluteMaxBps,
	}
}

func (s *SubAccountService) List(ctx context.Context, limit, offset int) ([]*model.SubAccount, error) {
	if s.repo != nil {
		return s.repo.List(ctx, limit, offset)
	}
	return s.manager.List(), nil
}

func (s *SubAccountService) Get(ctx context.Context, id string) (*model.SubAccount, error) {
	if s.repo != nil {
		acct, err := s.repo.GetByID(ctx, id)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrSubAccountNotFound
		}
		return acct, err
	}
	acct, ok := s.manager.GetByID(id)
	if !ok {
		return nil, repository.ErrSubAccountNotFound
	}
	return acct, nil
}

func (s *SubAccountService) Create(ctx context.Context, req SubAccountCreateRequest) (*model.SubAccount, error) {
	caps := make([]model.Capability, 0, len(req.Capabilities))
	for _, c := range req.Capabilities {
		caps = append(caps, model.Capability(c))
	}
	acct := &model.SubAccount{
		ID:           strings.TrimSpace(req.ID),
		Name:         req.Name,
		ApiKey:       strings.TrimSpace(req.APIKey),
		Address:      req.Address,
		Capabilities: caps,
		Roles:        req.Roles,
		Allowlist:    req.Allowlist,
	}
	if acct.ID == "" || acct.ApiKey == "" {
		return nil, fmt.Errorf("id and api_key are required")
	}
	if req.Limits != nil {
		if err := s.validateLimits(*req.Limits); err != nil {
			return nil, err
		}
		acct.Limits = *req.Limits
	}
	if req.Rate != nil {
		acct.Rate = *req.Rate
	} else {
		acct.Rate = model.RateLimitConfig{QPS: 10, Burst: 20}
	}
	if s.repo != nil {
		if err := s.repo.Create(ctx, acct); err != nil {
			return nil, err
		}
	}
	s.manager.Register(acct)
	return acct, nil
}

func (s *SubAccountService) Update(ctx context.Context, id string, req SubAccountUpdateRequest) (*model.SubAccount, error) {
	return s.mutate(ctx, id, func(acct *model.SubAccount) {
		if req.Name != nil {
			acct.Name = *req.Name
		}
		if req.Address != nil {
			acct.Address = *req.Address
		}
		if req.Capabilities != nil {
			caps := make([]model.Capability, 0, len(*req.Capabilities))
			for _, c := range *req.Capabilities {
				caps = append(caps, model.Capability(c))
			}
			acct.Capabilities = caps
		}
		if req.Roles != nil {
			acct.Roles = *req.Roles
		}
		if req.Rate != nil {
			acct.Rate = *req.Rate
		}
	})
}

// SetLimits creates or updates the sub-account limit record. Records are
// never deleted, only reset to unconfigured.
func (s *SubAccountService) SetLimits(ctx context.Context, id string, req LimitsUpdateRequest) (*model.SubAccount, error) {
	limits := model.LimitConfig{
		MaxSpendingBps: req.MaxSpendingBps,
		WindowSeconds:  req.WindowSeconds,
		Configured:     req.Configured,
	}
	if err := s.validateLimits(limits); err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, func(acct *model.SubAccount) {
		acct.Limits = limits
	})
}

func (s *SubAccountService) SetAllowlist(ctx context.Context, id string, allowlist []string) (*model.SubAccount, error) {
	return s.mutate(ctx, id, func(acct *model.SubAccount) {
		acct.Allowlist = allowlist
	})
}

func (s *SubAccountService) Delete(ctx context.Context, id string) error {
	if s.repo != nil {
		if err := s.repo.Delete(ctx, id); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return repository.ErrSubAccountNotFound
			}
			return err
		}
	}
	s.manager.RemoveByID(id)
	return nil
}

func (s *SubAccountService) mutate(ctx context.Context, id string, apply func(*model.SubAccount)) (*model.SubAccount, error) {
	acct, err := s.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrSubAccountNotFound) {
			return nil, apperrors.Newf(apperrors.ErrNotFound, "sub-account %s not found", id)
		}
		return nil, err
	}
	apply(acct)
	if s.repo != nil {
		if err := s.repo.Update(ctx, acct); err != nil {
			return nil, err
		}
	}
	s.manager.Replace(acct)
	return acct, nil
}

func (s *SubAccountService) validateLimits(limits model.LimitConfig) error {
	if limits.MaxSpendingBps < 0 || limits.MaxSpendingBps > s.absoluteMaxBps {
		return apperrors.Newf(apperrors.ErrInvalidRequest,
			"max_spending_bps must be in [0, %d]", s.absoluteMaxBps)
	}
	if limits.Configured && limits.WindowSeconds <= 0 {
		return apperrors.NewInvalidRequest("window_seconds must be positive when limits are configured")
	}
	return nil
}
