// Package storage 本地持久化键值存储。
//
// 存储只是链上状态的缓存, 读取到的任何授权信息都需要以链上校验为准。
package storage

import (
	"context"
	"errors"
)

// 固定的存储键
const (
	KeyRelayIdentity   = "relay.identity.key"
	KeySessionKey      = "session.key"
	KeySessionDelegate = "session.delegate"
	KeySessionExpires  = "session.expiresAt"
	KeySessionOwner    = "session.owner"
	KeySkipWalletPopup = "pref.skipWalletPopup"
)

// SessionKeys 会话相关的全部键, 必须整体写入/清除
var SessionKeys = []string{KeySessionKey, KeySessionDelegate, KeySessionExpires, KeySessionOwner}

// ErrNotFound 键不存在
var ErrNotFound = errors.New("storage: key not found")

// Store 字符串键值存储
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	// SetMany 全部写入或全部不写入
	SetMany(ctx context.Context, kv map[string]string) error
	Delete(ctx context.Context, keys ...string) error
}

// GetOptional 键不存在时返回空串
func GetOptional(ctx context.Context, s Store, key string) (string, error) {
	v, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}
