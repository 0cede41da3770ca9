package parser

import "sync"

// SelectorClassifier 4 字节选择器到操作类型的兜底映射表。
// 只有当解析器自身无法从负载内容判定类型时才会被查询。
type SelectorClassifier struct {
	mu    sync.RWMutex
	table map[Selector]OperationType
}

func NewSelectorClassifier() *SelectorClassifier {
	return &SelectorClassifier{table: make(map[Selector]OperationType)}
}

// Register is an idempotent overwrite. Owner-gated at the handler layer.
func (c *SelectorClassifier) Register(sel Selector, op OperationType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.table[sel] = op
}

// Classify returns OpUnknown for selectors that were never registered.
func (c *SelectorClassifier) Classify(sel Selector) OperationType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.table[sel]
}

func (c *SelectorClassifier) Entries() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.table))
	for sel, op := range c.table {
		out[sel.Hex()] = op.String()
	}
	return out
}
