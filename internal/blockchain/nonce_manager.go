package blockchain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/trifle-labs/clawdice-frontend-sub000/pkg/retry"
)

var ErrNonceLockFailed = errors.New("failed to acquire nonce lock")

// PendingNonceReader 读取链上待处理 nonce
type PendingNonceReader interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceSource 为钱包交易分配 nonce
type NonceSource interface {
	Next(ctx context.Context, account common.Address) (uint64, error)
	// Reset 发送失败后丢弃本地计数, 下次从链上同步
	Reset(ctx context.Context, account common.Address) error
}

// ChainNonces 直接使用节点的 pending nonce, 单进程足够
type ChainNonces struct {
	reader PendingNonceReader
}

// NewChainNonces 创建链上 nonce 来源
func NewChainNonces(reader PendingNonceReader) *ChainNonces {
	return &ChainNonces{reader: reader}
}

// Next 返回 pending nonce
func (n *ChainNonces) Next(ctx context.Context, account common.Address) (uint64, error) {
	return n.reader.PendingNonceAt(ctx, account)
}

// Reset 无本地状态
func (n *ChainNonces) Reset(context.Context, common.Address) error {
	return nil
}

// NonceManagerConfig 配置
type NonceManagerConfig struct {
	ChainID      int64
	KeyPrefix    string
	LockTimeout  time.Duration
	LockAttempts int
	LockInterval time.Duration
}

// NonceManager Nonce 管理器
// 多个 agent 进程共用一个钱包时, 用 Redis 锁串行分配 nonce
type NonceManager struct {
	reader      PendingNonceReader
	redis       redis.UniversalClient
	chainID     int64
	prefix      string
	lockTimeout time.Duration
	lockPolicy  retry.Policy
}

// NewNonceManager 创建 Nonce 管理器
func NewNonceManager(reader PendingNonceReader, rdb redis.UniversalClient, cfg *NonceManagerConfig) *NonceManager {
	lockTimeout := cfg.LockTimeout
	if lockTimeout == 0 {
		lockTimeout = 30 * time.Second
	}
	attempts := cfg.LockAttempts
	if attempts == 0 {
		attempts = 20
	}
	interval := cfg.LockInterval
	if interval == 0 {
		interval = 50 * time.Millisecond
	}
	return &NonceManager{
		reader:      reader,
		redis:       rdb,
		chainID:     cfg.ChainID,
		prefix:      cfg.KeyPrefix,
		lockTimeout: lockTimeout,
		lockPolicy: retry.Constant(attempts, interval).WithRetryable(func(err error) bool {
			return errors.Is(err, ErrNonceLockFailed)
		}),
	}
}

func (m *NonceManager) nonceKey(account common.Address) string {
	return fmt.Sprintf("%snonce:%s:%d", m.prefix, account.Hex(), m.chainID)
}

func (m *NonceManager) lockKey(account common.Address) string {
	return fmt.Sprintf("%snonce:lock:%s:%d", m.prefix, account.Hex(), m.chainID)
}

// Next 在锁内取 max(本地计数, 链上 pending) 并递增
func (m *NonceManager) Next(ctx context.Context, account common.Address) (uint64, error) {
	err := retry.Do(ctx, m.lockPolicy, func(ctx context.Context) error {
		ok, err := m.redis.SetNX(ctx, m.lockKey(account), "1", m.lockTimeout).Result()
		if err != nil {
			return err
		}
		if !ok {
			return ErrNonceLockFailed
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	defer m.redis.Del(context.WithoutCancel(ctx), m.lockKey(account))

	chainNonce, err := m.reader.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, err
	}

	nonce := chainNonce
	stored, err := m.redis.Get(ctx, m.nonceKey(account)).Uint64()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return 0, err
	case stored > nonce:
		nonce = stored
	}

	if err := m.redis.Set(ctx, m.nonceKey(account), nonce+1, 0).Err(); err != nil {
		return 0, err
	}
	return nonce, nil
}

// Reset 删除本地计数
func (m *NonceManager) Reset(ctx context.Context, account common.Address) error {
	return m.redis.Del(ctx, m.nonceKey(account)).Err()
}

// Current 当前计数 (不加锁, 仅用于查询)
func (m *NonceManager) Current(ctx context.Context, account common.Address) (uint64, error) {
	v, err := m.redis.Get(ctx, m.nonceKey(account)).Uint64()
	if errors.Is(err, redis.Nil) {
		return m.reader.PendingNonceAt(ctx, account)
	}
	return v, err
}
