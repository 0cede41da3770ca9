package model

import "github.com/shopspring/decimal"

// ExecuteRequest represents the incoming JSON body for protocol execution
type ExecuteRequest struct {
	Target  string `json:"target" binding:"required"`  // protocol address
	Payload string `json:"payload" binding:"required"` // hex calldata (0x...)
	Value   string `json:"value,omitempty"`            // native value, base units
}

// TransferRequest moves vault-held tokens directly to a recipient
type TransferRequest struct {
	Token     string `json:"token" binding:"required"`
	Recipient string `json:"recipient" binding:"required"`
	Amount    string `json:"amount" binding:"required"` // base units, decimal string
}

// ApproveRequest grants a protocol an allowance on a vault-held token
type ApproveRequest struct {
	Token   string `json:"token" binding:"required"`
	Spender string `json:"spender" binding:"required"` // must be allowlisted for the sub-account
	Amount  string `json:"amount" binding:"required"`
}

// Oracle ingestion bodies

type SafeValueUpdate struct {
	TotalValueUSD decimal.Decimal `json:"total_value_usd" binding:"required"`
}

type AllowanceUpdate struct {
	SubAccount   string          `json:"sub_account" binding:"required"`
	NewAllowance decimal.Decimal `json:"new_allowance"`
}

type BalanceUpdate struct {
	SubAccount string          `json:"sub_account" binding:"required"`
	Token      string          `json:"token" binding:"required"`
	Balance    decimal.Decimal `json:"balance"`
}

type BatchUpdate struct {
	SubAccount   string            `json:"sub_account" binding:"required"`
	NewAllowance decimal.Decimal   `json:"new_allowance"`
	Tokens       []string          `json:"tokens"`
	Balances     []decimal.Decimal `json:"balances"`
}

type PriceUpdate struct {
	Token    string          `json:"token" binding:"required"`
	PriceUSD decimal.Decimal `json:"price_usd" binding:"required"`
	Decimals int32           `json:"decimals"`
}
