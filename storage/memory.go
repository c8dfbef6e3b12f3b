package storage

import (
	"context"
	"sync"
	"time"

	"github.com/zhifu/donation-flow/models"
)

// MemoryRestorationStore 单实例部署使用的内存存储，过期快照在读取时丢弃
type MemoryRestorationStore struct {
	mu    sync.RWMutex
	snaps map[string]models.RestorationSnapshot
	now   func() time.Time
}

// NewMemoryRestorationStore 创建内存存储
func NewMemoryRestorationStore() *MemoryRestorationStore {
	return &MemoryRestorationStore{
		snaps: make(map[string]models.RestorationSnapshot),
		now:   time.Now,
	}
}

func (s *MemoryRestorationStore) Put(_ context.Context, snap models.RestorationSnapshot) error {
	if snap.Key == "" {
		return ErrMissingKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[snap.Key] = snap
	return nil
}

func (s *MemoryRestorationStore) Get(_ context.Context, key string) (models.RestorationSnapshot, bool, error) {
	s.mu.RLock()
	snap, ok := s.snaps[key]
	s.mu.RUnlock()
	if !ok {
		return models.RestorationSnapshot{}, false, nil
	}
	if snap.ExpiresAt > 0 && s.now().Unix() >= snap.ExpiresAt {
		s.mu.Lock()
		delete(s.snaps, key)
		s.mu.Unlock()
		return models.RestorationSnapshot{}, false, nil
	}
	return snap, true, nil
}

func (s *MemoryRestorationStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snaps, key)
	return nil
}

// Len 当前保存的快照数量
func (s *MemoryRestorationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snaps)
}
