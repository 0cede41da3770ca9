package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SafeValue 金库的最新估值快照 (由预言机推送)
type SafeValue struct {
	TotalValueUSD decimal.Decimal `json:"total_value_usd"`
	LastUpdated   time.Time       `json:"last_updated"`
	UpdateCount   uint64          `json:"update_count"`
}

// TokenPrice 单个 Token 的参考单位价格
type TokenPrice struct {
	Token    string          `json:"token"`
	PriceUSD decimal.Decimal `json:"price_usd"` // 每整枚 Token 的美元价格
	Decimals int32           `json:"decimals"`
}

// TokenBalance 子账户在某 Token 上的已获取余额快照
type TokenBalance struct {
	Token   string          `json:"token"`
	Balance decimal.Decimal `json:"balance"` // base units
}
