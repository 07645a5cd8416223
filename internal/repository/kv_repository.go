package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/trifle-labs/clawdice-frontend-sub000/internal/model"
)

// ErrKeyNotFound 键不存在
var ErrKeyNotFound = errors.New("key not found")

// KVRepository 键值仓储
type KVRepository interface {
	Get(ctx context.Context, key string) (string, error)
	PutMany(ctx context.Context, kv map[string]string) error
	Delete(ctx context.Context, keys ...string) error
}

type kvRepository struct {
	*Repository
}

// NewKVRepository 创建键值仓储
func NewKVRepository(db *gorm.DB) KVRepository {
	return &kvRepository{Repository: NewRepository(db)}
}

func (r *kvRepository) Get(ctx context.Context, key string) (string, error) {
	var entry model.KVEntry
	err := r.DB(ctx).Where("kv_key = ?", key).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrKeyNotFound
	}
	if err != nil {
		return "", err
	}
	return entry.Value, nil
}

// PutMany 在一个事务内写入全部键
func (r *kvRepository) PutMany(ctx context.Context, kv map[string]string) error {
	if len(kv) == 0 {
		return nil
	}
	now := time.Now().UnixMilli()
	entries := make([]model.KVEntry, 0, len(kv))
	for k, v := range kv {
		entries = append(entries, model.KVEntry{Key: k, Value: v, UpdatedAt: now})
	}
	return r.TransactionWithRetry(ctx, 3, func(ctx context.Context) error {
		return r.DB(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "kv_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).Create(&entries).Error
	})
}

func (r *kvRepository) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.DB(ctx).Where("kv_key IN ?", keys).Delete(&model.KVEntry{}).Error
}
