package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/zhifu/donation-flow/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormRestorationStore 快照保存在 MySQL 的 restoration_snapshots 表
type GormRestorationStore struct {
	db  *gorm.DB
	ttl time.Duration
}

// NewGormRestorationStore ttl 为0时快照不过期
func NewGormRestorationStore(db *gorm.DB, ttl time.Duration) *GormRestorationStore {
	return &GormRestorationStore{db: db, ttl: ttl}
}

// Put 同一会话键覆盖旧快照
func (s *GormRestorationStore) Put(ctx context.Context, snap models.RestorationSnapshot) error {
	if snap.Key == "" {
		return ErrMissingKey
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now()
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&snap).Error
	if err != nil {
		return fmt.Errorf("save restoration snapshot: %w", err)
	}
	return nil
}

func (s *GormRestorationStore) Get(ctx context.Context, key string) (models.RestorationSnapshot, bool, error) {
	q := s.db.WithContext(ctx).Where("session_key = ?", key)
	if s.ttl > 0 {
		q = q.Where("created_at > ?", time.Now().Add(-s.ttl))
	}

	var snaps []models.RestorationSnapshot
	if err := q.Find(&snaps).Error; err != nil {
		return models.RestorationSnapshot{}, false, fmt.Errorf("load restoration snapshot: %w", err)
	}
	if len(snaps) == 0 {
		return models.RestorationSnapshot{}, false, nil
	}
	return snaps[0], true, nil
}

func (s *GormRestorationStore) Clear(ctx context.Context, key string) error {
	err := s.db.WithContext(ctx).
		Where("session_key = ?", key).
		Delete(&models.RestorationSnapshot{}).Error
	if err != nil {
		return fmt.Errorf("clear restoration snapshot: %w", err)
	}
	return nil
}

// PurgeExpired 删除过期快照，返回删除行数
func (s *GormRestorationStore) PurgeExpired(ctx context.Context) (int64, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Where("created_at <= ?", time.Now().Add(-s.ttl)).
		Delete(&models.RestorationSnapshot{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge restoration snapshots: %w", res.Error)
	}
	return res.RowsAffected, nil
}
