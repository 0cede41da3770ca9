package model

import "strings"

// Capability 是网关授予子账户的操作能力
type Capability string

const (
	CapabilityExecute  Capability = "execute"
	CapabilityTransfer Capability = "transfer"
)

// LimitConfig 定义子账户的固定窗口消费上限
type LimitConfig struct {
	MaxSpendingBps int64 `json:"max_spending_bps"` // 占金库总值的万分比 (500 = 5%)
	WindowSeconds  int64 `json:"window_seconds"`   // 窗口长度 (秒)
	Configured     bool  `json:"configured"`       // false = 未配置, 默认拒绝
}

// RateLimitConfig 定义子账户的限流规则
type RateLimitConfig struct {
	QPS   float64 `json:"qps"`
	Burst int     `json:"burst"`
}

// SubAccount 代表一个被授权代表金库发起操作的委托身份
type SubAccount struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	ApiKey       string          `json:"api_key"` // 网关颁发给子账户的 Access Key
	Address      string          `json:"address,omitempty"`
	Capabilities []Capability    `json:"capabilities"`
	Roles        []string        `json:"roles,omitempty"`
	Allowlist    []string        `json:"allowlist"` // 允许调用的协议地址
	Limits       LimitConfig     `json:"limits"`
	Rate         RateLimitConfig `json:"rate_limit"`
}

// HasCapability is the explicit capability check run at the top of every
// pipeline; there is no ambient "only-owner" style gating anywhere else.
func (s *SubAccount) HasCapability(c Capability) bool {
	for _, have := range s.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// IsAllowlisted reports whether the sub-account may call the given protocol
// address. Matching is case-insensitive on the hex form.
func (s *SubAccount) IsAllowlisted(target string) bool {
	normalized := strings.ToLower(strings.TrimSpace(target))
	for _, allowed := range s.Allowlist {
		if strings.ToLower(strings.TrimSpace(allowed)) == normalized {
			return true
		}
	}
	return false
}

func (s *SubAccount) HasRole(role string) bool {
	for _, r := range s.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}
