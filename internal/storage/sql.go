package storage

import (
	"context"
	"errors"

	"github.com/trifle-labs/clawdice-frontend-sub000/internal/repository"
)

// SQLStore 数据库后端
type SQLStore struct {
	repo repository.KVRepository
}

// NewSQLStore 创建数据库存储
func NewSQLStore(repo repository.KVRepository) *SQLStore {
	return &SQLStore{repo: repo}
}

func (s *SQLStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.repo.Get(ctx, key)
	if errors.Is(err, repository.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	return v, err
}

func (s *SQLStore) Set(ctx context.Context, key, value string) error {
	return s.repo.PutMany(ctx, map[string]string{key: value})
}

func (s *SQLStore) SetMany(ctx context.Context, kv map[string]string) error {
	return s.repo.PutMany(ctx, kv)
}

func (s *SQLStore) Delete(ctx context.Context, keys ...string) error {
	return s.repo.Delete(ctx, keys...)
}
