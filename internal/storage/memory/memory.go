// Package memory 进程内健康记录存储（单实例、测试、无持久化需求场景）
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"keypool/internal/model"
)

// Store 内存存储：单个互斥锁保护所有记录
type Store struct {
	mu       sync.Mutex
	records  map[string]*model.HealthRecord
	pointers map[string]int64
}

// New 创建内存存储
func New() *Store {
	return &Store{
		records:  make(map[string]*model.HealthRecord),
		pointers: make(map[string]int64),
	}
}

// getLocked 返回可修改的记录（不存在时创建默认记录），调用方必须持有锁
func (s *Store) getLocked(id string) *model.HealthRecord {
	rec, ok := s.records[id]
	if !ok {
		rec = model.DefaultHealthRecord(id)
		s.records[id] = rec
	}
	return rec
}

// GetHealth 读取单个记录
func (s *Store) GetHealth(_ context.Context, id string) (*model.HealthRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[id]; ok {
		return rec.Clone(), nil
	}
	return model.DefaultHealthRecord(id), nil
}

// GetAllHealth 批量读取
func (s *Store) GetAllHealth(_ context.Context, ids []string) (map[string]*model.HealthRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*model.HealthRecord, len(ids))
	for _, id := range ids {
		if rec, ok := s.records[id]; ok {
			out[id] = rec.Clone()
		} else {
			out[id] = model.DefaultHealthRecord(id)
		}
	}
	return out, nil
}

// ListHealth 列出所有已写入的记录
func (s *Store) ListHealth(_ context.Context) ([]*model.HealthRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.HealthRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out, nil
}

// MarkSuccess 恢复健康
func (s *Store) MarkSuccess(_ context.Context, id string, now time.Time) (*model.HealthRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.getLocked(id)
	rec.RecordSuccess(now)
	return rec.Clone(), nil
}

// MarkFailure 记录失败
func (s *Store) MarkFailure(_ context.Context, id string, e model.ErrorLog, p model.EjectionPolicy, now time.Time) (*model.HealthRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.getLocked(id)
	rec.RecordFailure(e, p, now)
	return rec.Clone(), nil
}

// SetEjection 手动剔除
func (s *Store) SetEjection(_ context.Context, id string, until, now time.Time) (*model.HealthRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.getLocked(id)
	rec.Eject(until, now)
	return rec.Clone(), nil
}

// ResetDailyFailures 清零每日失败计数
func (s *Store) ResetDailyFailures(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, rec := range s.records {
		if rec.DailyFailureCount > 0 {
			rec.DailyFailureCount = 0
			n++
		}
	}
	return n, nil
}

// LoadPointer 读取轮询指针
func (s *Store) LoadPointer(_ context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pointers[name], nil
}

// CompareAndSwapPointer CAS更新轮询指针
func (s *Store) CompareAndSwapPointer(_ context.Context, name string, old, next int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pointers[name] != old {
		return false, nil
	}
	s.pointers[name] = next
	return true, nil
}

// Ping 内存存储始终可用
func (s *Store) Ping(context.Context) error { return nil }

// Close 无需释放资源
func (s *Store) Close() error { return nil }
