package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/vaultgate/vaultgate/internal/model"
)

// ErrSubAccountNotFound 子账户不存在
var ErrSubAccountNotFound = errors.New("sub-account not found")

// subAccountRow 是 sub_accounts 表的持久化形态，切片和策略字段落成 JSONB
type subAccountRow struct {
	ID           string `gorm:"primaryKey;column:id"`
	Name         string `gorm:"column:name"`
	ApiKey       string `gorm:"column:api_key;uniqueIndex"`
	Address      string `gorm:"column:address"`
	Capabilities []byte `gorm:"column:capabilities;type:jsonb"`
	Roles        []byte `gorm:"column:roles;type:jsonb"`
	Allowlist    []byte `gorm:"column:allowlist;type:jsonb"`
	Limits       []byte `gorm:"column:limits;type:jsonb"`
	Rate         []byte `gorm:"column:rate_limit;type:jsonb"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (subAccountRow) TableName() string { return "sub_accounts" }

// GormSubAccountRepo 管理面子账户仓储
type GormSubAccountRepo struct {
	db *gorm.DB
}

func NewGormSubAccountRepo(db *gorm.DB) (*GormSubAccountRepo, error) {
	if err := db.AutoMigrate(&subAccountRow{}); err != nil {
		return nil, fmt.Errorf("migrate sub_accounts: %w", err)
	}
	return &GormSubAccountRepo{db: db}, nil
}

func (r *GormSubAccountRepo) GetByApiKey(ctx context.Context, apiKey string) (*model.SubAccount, error) {
	var row subAccountRow
	if err := r.db.WithContext(ctx).Where("api_key = ?", apiKey).First(&row).Error; err != nil {
		return nil, err
	}
	return rowToSubAccount(&row)
}

func (r *GormSubAccountRepo) GetByID(ctx context.Context, id string) (*model.SubAccount, error) {
	var row subAccountRow
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, err
	}
	return rowToSubAccount(&row)
}

func (r *GormSubAccountRepo) List(ctx context.Context, limit, offset int) ([]*model.SubAccount, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []subAccountRow
	err := r.db.WithContext(ctx).
		Order("id").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	accounts := make([]*model.SubAccount, 0, len(rows))
	for i := range rows {
		acct, err := rowToSubAccount(&rows[i])
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acct)
	}
	return accounts, nil
}

func (r *GormSubAccountRepo) Create(ctx context.Context, s *model.SubAccount) error {
	row, err := subAccountToRow(s)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(row).Error
}

func (r *GormSubAccountRepo) Update(ctx context.Context, s *model.SubAccount) error {
	row, err := subAccountToRow(s)
	if err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Model(&subAccountRow{}).Where("id = ?", row.ID).Updates(map[string]interface{}{
		"name":         row.Name,
		"api_key":      row.ApiKey,
		"address":      row.Address,
		"capabilities": row.Capabilities,
		"roles":        row.Roles,
		"allowlist":    row.Allowlist,
		"limits":       row.Limits,
		"rate_limit":   row.Rate,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *GormSubAccountRepo) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&subAccountRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func subAccountToRow(s *model.SubAccount) (*subAccountRow, error) {
	caps, err := json.Marshal(s.Capabilities)
	if err != nil {
		return nil, err
	}
	roles, err := json.Marshal(s.Roles)
	if err != nil {
		return nil, err
	}
	allowlist, err := json.Marshal(s.Allowlist)
	if err != nil {
		return nil, err
	}
	limits, err := json.Marshal(s.Limits)
	if err != nil {
		return nil, err
	}
	rate, err := json.Marshal(s.Rate)
	if err != nil {
		return nil, err
	}
	return &subAccountRow{
		ID:           s.ID,
		Name:         s.Name,
		ApiKey:       s.ApiKey,
		Address:      s.Address,
		Capabilities: caps,
		Roles:        roles,
		Allowlist:    allowlist,
		Limits:       limits,
		Rate:         rate,
	}, nil
}

func rowToSubAccount(row *subAccountRow) (*model.SubAccount, error) {
	acct := &model.SubAccount{
		ID:      row.ID,
		Name:    row.Name,
		ApiKey:  row.ApiKey,
		Address: row.Address,
	}
	if len(row.Capabilities) > 0 {
		if err := json.Unmarshal(row.Capabilities, &acct.Capabilities); err != nil {
			return nil, fmt.Errorf("decode capabilities for %s: %w", row.ID, err)
		}
	}
	if len(row.Roles) > 0 {
		if err := json.Unmarshal(row.Roles, &acct.Roles); err != nil {
			return nil, fmt.Errorf("decode roles for %s: %w", row.ID, err)
		}
	}
	if len(row.Allowlist) > 0 {
		if err := json.Unmarshal(row.Allowlist, &acct.Allowlist); err != nil {
			return nil, fmt.Errorf("decode allowlist for %s: %w", row.ID, err)
		}
	}
	if len(row.Limits) > 0 {
		if err := json.Unmarshal(row.Limits, &acct.Limits); err != nil {
			return nil, fmt.Errorf("decode limits for %s: %w", row.ID, err)
		}
	}
	if len(row.Rate) > 0 {
		if err := json.Unmarshal(row.Rate, &acct.Rate); err != nil {
			return nil, fmt.Errorf("decode rate limit for %s: %w", row.ID, err)
		}
	}
	return acct, nil
}
