package service

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vaultgate/vaultgate/internal/model"
)

// RecordRepo persists execution records (Postgres in production).
type RecordRepo interface {
	Insert(ctx context.Context, rec *model.ExecutionRecord) error
	List(ctx context.Context, subAccount, kind string, limit int) ([]*model.ExecutionRecord, error)
}

// ExecutionLog 网关的追加型操作日志管道：异步落盘 + 可选数据库 +
// 内存环形缓冲 (供查询) + 订阅者广播 (供 WebSocket 推送)。
type ExecutionLog struct {
	logChan chan *model.ExecutionRecord
	logFile *os.File
	buffer  *recordBuffer
	repo    RecordRepo

	subMu sync.Mutex
	subs  map[chan *model.ExecutionRecord]struct{}
}

func NewExecutionLog(logDir string, repo RecordRepo) (*ExecutionLog, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, err
	}

	// 简单的按日轮转文件
	filename := filepath.Join(logDir, "executions-"+time.Now().Format("2006-01-02")+".jsonl")
	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	s := &ExecutionLog{
		logChan: make(chan *model.ExecutionRecord, 1000),
		logFile: f,
		buffer:  newRecordBuffer(1000),
		repo:    repo,
		subs:    make(map[chan *model.ExecutionRecord]struct{}),
	}

	go s.processRecords()

	return s, nil
}

// Emit queues a record for persistence and fans it out to subscribers.
// Never blocks the execution pipeline.
func (s *ExecutionLog) Emit(rec *model.ExecutionRecord) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if s.buffer != nil {
		s.buffer.Add(rec)
	}
	s.broadcast(rec)
	select {
	case s.logChan <- rec:
	default:
		// 缓冲区满，丢弃日志以保护主流程
		log.Println("execution log buffer full, dropping record")
	}
}

func (s *ExecutionLog) List(ctx context.Context, subAccount, kind string, limit int) ([]*model.ExecutionRecord, error) {
	if s.repo != nil {
		records, err := s.repo.List(ctx, subAccount, kind, limit)
		if err == nil {
			return records, nil
		}
	}
	if s.buffer == nil {
		return nil, nil
	}
	return s.buffer.List(subAccount, kind, limit), nil
}

// Subscribe registers a live feed of emitted records. The returned cancel
// func must be called to release the subscription.
func (s *ExecutionLog) Subscribe() (<-chan *model.ExecutionRecord, func()) {
	ch := make(chan *model.ExecutionRecord, 64)
	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()
	cancel := func() {
		s.subMu.Lock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
		s.subMu.Unlock()
	}
	return ch, cancel
}

func (s *ExecutionLog) broadcast(rec *model.ExecutionRecord) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- rec:
		default:
			// slow subscriber, skip this record for it
		}
	}
}

func (s *ExecutionLog) processRecords() {
	encoder := json.NewEncoder(s.logFile)
	for rec := range s.logChan {
		if s.repo != nil {
			if err := s.repo.Insert(context.Background(), rec); err != nil {
				log.Printf("failed to write execution record to DB: %v", err)
			}
		}
		if err := encoder.Encode(rec); err != nil {
			log.Printf("failed to write execution record: %v", err)
		}
	}
}

func (s *ExecutionLog) Close() {
	close(s.logChan)
	s.logFile.Close()
}

type recordBuffer struct {
	mu        sync.Mutex
	maxSize   int
	records   []*model.ExecutionRecord
	nextIndex int
}

func newRecordBuffer(maxSize int) *recordBuffer {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &recordBuffer{
		maxSize: maxSize,
		records: make([]*model.ExecutionRecord, 0, maxSize),
	}
}

func (b *recordBuffer) Add(rec *model.ExecutionRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.records) < b.maxSize {
		b.records = append(b.records, rec)
		return
	}
	b.records[b.nextIndex] = rec
	b.nextIndex = (b.nextIndex + 1) % b.maxSize
}

func (b *recordBuffer) List(subAccount, kind string, limit int) []*model.ExecutionRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 || limit > b.maxSize {
		limit = b.maxSize
	}
	results := make([]*model.ExecutionRecord, 0, limit)
	total := len(b.records)
	for i := 0; i < total; i++ {
		idx := (b.nextIndex + total - 1 - i) % total
		rec := b.records[idx]
		if rec == nil {
			continue
		}
		if subAccount != "" && rec.SubAccount != subAccount {
			continue
		}
		if kind != "" && rec.Kind != kind {
			continue
		}
		results = append(results, rec)
		if len(results) >= limit {
			break
		}
	}
	return results
}
