package parser

import (
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// OperationType 操作的粗分类
type OperationType uint8

const (
	OpUnknown OperationType = iota
	OpSwap
	OpDeposit
	OpWithdraw
	OpClaim
	OpApprove
)

func (t OperationType) String() string {
	switch t {
	case OpSwap:
		return "SWAP"
	case OpDeposit:
		return "DEPOSIT"
	case OpWithdraw:
		return "WITHDRAW"
	case OpClaim:
		return "CLAIM"
	case OpApprove:
		return "APPROVE"
	default:
		return "UNKNOWN"
	}
}

// ParseOperationType maps the wire form back to the enum, UNKNOWN on miss.
func ParseOperationType(raw string) OperationType {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "SWAP":
		return OpSwap
	case "DEPOSIT":
		return OpDeposit
	case "WITHDRAW":
		return OpWithdraw
	case "CLAIM":
		return OpClaim
	case "APPROVE":
		return OpApprove
	default:
		return OpUnknown
	}
}

// Selector is the 4-byte call discriminator.
type Selector [4]byte

func (s Selector) Hex() string {
	return "0x" + common.Bytes2Hex(s[:])
}

// SelectorOf extracts the discriminator from a payload. Payloads shorter
// than 4 bytes are unparseable by definition.
func SelectorOf(payload []byte) (Selector, error) {
	var sel Selector
	if len(payload) < 4 {
		return sel, fmt.Errorf("payload too short for selector: %d bytes", len(payload))
	}
	copy(sel[:], payload[:4])
	return sel, nil
}

// Parser decodes semantic fields out of an opaque call payload destined for
// one protocol. A parser that cannot decode a payload must return an error;
// the router treats any parse error as a rejection of the whole operation,
// never as a zero-cost approval.
type Parser interface {
	Name() string
	SupportsSelector(sel Selector) bool
	// OperationType self-classifies from payload content. Returning
	// (OpUnknown, nil) defers classification to the selector table.
	OperationType(payload []byte) (OperationType, error)
	InputToken(target common.Address, payload []byte) (common.Address, error)
	InputAmount(target common.Address, payload []byte) (*big.Int, error)
	OutputTokens(target common.Address, payload []byte) ([]common.Address, error)
	// Recipient returns fallback for protocols whose recipient is implicitly
	// the caller. The router asserts the result equals the vault address.
	Recipient(target common.Address, payload []byte, fallback common.Address) (common.Address, error)
}

// Registry 按协议地址索引解析器。未注册的目标一律拒绝 (fail-closed)。
type Registry struct {
	mu      sync.RWMutex
	parsers map[common.Address]Parser
}

func NewRegistry() *Registry {
	return &Registry{parsers: make(map[common.Address]Parser)}
}

// Register binds a parser to a protocol address, overwriting any existing
// binding. Owner-gated at the handler layer.
func (r *Registry) Register(target common.Address, p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[target] = p
}

func (r *Registry) ParserOf(target common.Address) (Parser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parsers[target]
	return p, ok
}

func (r *Registry) Targets() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.parsers))
	for addr, p := range r.parsers {
		out[addr.Hex()] = p.Name()
	}
	return out
}

// KindOptions carries per-kind construction parameters.
type KindOptions struct {
	// Asset is the underlying token for share-vault parsers, whose deposit
	// calldata does not name the input asset.
	Asset common.Address
}

// NewByKind constructs one of the built-in parser strategies by name. Used
// by the admin registration endpoint and the inspector.
func NewByKind(kind string, opts KindOptions) (Parser, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "erc20":
		return NewERC20Parser(), nil
	case "swap-router":
		return NewSwapRouterParser(), nil
	case "lending-pool":
		return NewLendingPoolParser(), nil
	case "share-vault":
		if opts.Asset == (common.Address{}) {
			return nil, fmt.Errorf("share-vault parser requires an underlying asset address")
		}
		return NewShareVaultParser(opts.Asset), nil
	default:
		return nil, fmt.Errorf("unknown parser kind %q", kind)
	}
}

// Kinds lists the registrable parser strategy names.
func Kinds() []string {
	return []string{"erc20", "swap-router", "lending-pool", "share-vault"}
}
