package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/trifle-labs/clawdice-frontend-sub000/internal/repository"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, "clawdice:"), mr
}

func newSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, repository.Migrate(db))
	t.Cleanup(func() { sqlDB.Close() })
	return NewSQLStore(repository.NewKVRepository(db))
}

func TestStores(t *testing.T) {
	stores := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"redis": func(t *testing.T) Store {
			s, _ := newRedisStore(t)
			return s
		},
		"sql": func(t *testing.T) Store { return newSQLStore(t) },
	}

	for name, factory := range stores {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			_, err := s.Get(ctx, KeySessionKey)
			assert.ErrorIs(t, err, ErrNotFound)
			v, err := GetOptional(ctx, s, KeySessionKey)
			require.NoError(t, err)
			assert.Empty(t, v)

			require.NoError(t, s.Set(ctx, KeySkipWalletPopup, "true"))
			require.NoError(t, s.SetMany(ctx, map[string]string{
				KeySessionKey:      "0xkey",
				KeySessionDelegate: "0xdelegate",
				KeySessionExpires:  "1700000000",
				KeySessionOwner:    "0xowner",
			}))

			for k, want := range map[string]string{
				KeySkipWalletPopup: "true",
				KeySessionKey:      "0xkey",
				KeySessionOwner:    "0xowner",
			} {
				got, err := s.Get(ctx, k)
				require.NoError(t, err)
				assert.Equal(t, want, got)
			}

			require.NoError(t, s.Delete(ctx, SessionKeys...))
			for _, k := range SessionKeys {
				_, err := s.Get(ctx, k)
				assert.ErrorIs(t, err, ErrNotFound, k)
			}
			got, err := s.Get(ctx, KeySkipWalletPopup)
			require.NoError(t, err)
			assert.Equal(t, "true", got)

			assert.NoError(t, s.Delete(ctx))
			assert.NoError(t, s.SetMany(ctx, nil))
		})
	}
}

func TestRedisStore_Prefix(t *testing.T) {
	s, mr := newRedisStore(t)
	require.NoError(t, s.Set(context.Background(), KeyRelayIdentity, "abc"))

	v, err := mr.Get("clawdice:" + KeyRelayIdentity)
	require.NoError(t, err)
	assert.Equal(t, "abc", v)
}

func TestRedisStore_Errors(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewRedisStore(client, "p:")
	ctx := context.Background()

	mock.ExpectGet("p:missing").RedisNil()
	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	boom := errors.New("connection reset")
	mock.ExpectGet("p:k").SetErr(boom)
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, boom)

	mock.ExpectSet("p:k", "v", 0).SetErr(boom)
	assert.ErrorIs(t, s.Set(ctx, "k", "v"), boom)

	mock.ExpectDel("p:a", "p:b").SetVal(2)
	assert.NoError(t, s.Delete(ctx, "a", "b"))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryStore_Snapshot(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Set(context.Background(), "a", "1"))
	snap := s.Snapshot()
	snap["a"] = "changed"

	v, _ := s.Get(context.Background(), "a")
	assert.Equal(t, "1", v)
}
