package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Record kinds written to the append-only execution log.
const (
	RecordProtocolExecution = "protocol_execution"
	RecordTransferExecuted  = "transfer_executed"
	RecordSafeValueUpdated  = "safe_value_updated"
	RecordAllowanceUpdated  = "spending_allowance_updated"
	RecordBalanceUpdated    = "acquired_balance_updated"
	RecordHTTPRequest       = "http_request"
)

// ExecutionRecord 是网关的追加型操作日志条目。
// 不同 Kind 只填充对应字段，空字段不序列化。
type ExecutionRecord struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	SubAccount string `json:"sub_account,omitempty"`

	// protocol_execution / transfer_executed
	Target       string            `json:"target,omitempty"`
	OpType       string            `json:"op_type,omitempty"`
	TokensIn     []string          `json:"tokens_in,omitempty"`
	AmountsIn    []decimal.Decimal `json:"amounts_in,omitempty"`
	TokensOut    []string          `json:"tokens_out,omitempty"`
	AmountsOut   []decimal.Decimal `json:"amounts_out,omitempty"`
	Token        string            `json:"token,omitempty"`
	Recipient    string            `json:"recipient,omitempty"`
	Amount       *decimal.Decimal  `json:"amount,omitempty"`
	SpendingCost *decimal.Decimal  `json:"spending_cost,omitempty"`
	TxHash       string            `json:"tx_hash,omitempty"`

	// oracle records
	TotalValueUSD *decimal.Decimal `json:"total_value_usd,omitempty"`
	UpdateCount   uint64           `json:"update_count,omitempty"`
	NewAllowance  *decimal.Decimal `json:"new_allowance,omitempty"`
	NewBalance    *decimal.Decimal `json:"new_balance,omitempty"`

	// http_request records
	Method      string `json:"method,omitempty"`
	Path        string `json:"path,omitempty"`
	IP          string `json:"ip,omitempty"`
	RequestBody string `json:"request_body,omitempty"`
	StatusCode  int    `json:"status_code,omitempty"`
	LatencyMs   int64  `json:"latency_ms,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
