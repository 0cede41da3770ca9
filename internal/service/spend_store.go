package service

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemorySpendStore 跟踪子账户的实时窗口用量 (无外部依赖的默认实现)
type MemorySpendStore struct {
	mu      sync.RWMutex
	windows map[string]spendWindow
}

type spendWindow struct {
	start time.Time
	spent decimal.Decimal
}

func NewMemorySpendStore() *MemorySpendStore {
	return &MemorySpendStore{windows: make(map[string]spendWindow)}
}

func (s *MemorySpendStore) Get(ctx context.Context, subAccount string) (time.Time, decimal.Decimal, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.windows[subAccount]
	if !ok {
		return time.Time{}, decimal.Zero, false, nil
	}
	return w.start, w.spent, true, nil
}

func (s *MemorySpendStore) Set(ctx context.Context, subAccount string, windowStart time.Time, spent decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[subAccount] = spendWindow{start: windowStart, spent: spent}
	return nil
}
