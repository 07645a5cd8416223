package relay

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/trifle-labs/clawdice-frontend-sub000/internal/storage"
	"github.com/trifle-labs/clawdice-frontend-sub000/pkg/logger"
)

// Identity 中继使用的临时签名身份, 首次使用时生成并持久化
type Identity struct {
	store storage.Store

	mu  sync.Mutex
	key *ecdsa.PrivateKey
}

// NewIdentity 创建临时身份
func NewIdentity(store storage.Store) *Identity {
	return &Identity{store: store}
}

// Key 读取或生成私钥
func (i *Identity) Key(ctx context.Context) (*ecdsa.PrivateKey, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.key != nil {
		return i.key, nil
	}

	stored, err := storage.GetOptional(ctx, i.store, storage.KeyRelayIdentity)
	if err != nil {
		return nil, err
	}
	if stored != "" {
		key, err := crypto.HexToECDSA(stored)
		if err == nil {
			i.key = key
			return key, nil
		}
		logger.Warn("stored relay identity is corrupt, generating a new one", zap.Error(err))
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := i.store.Set(ctx, storage.KeyRelayIdentity, hex.EncodeToString(crypto.FromECDSA(key))); err != nil {
		return nil, err
	}
	i.key = key
	logger.Info("relay identity provisioned", zap.String("owner", crypto.PubkeyToAddress(key.PublicKey).Hex()))
	return key, nil
}
