// Package session 会话授权管理: 由玩家钱包授权一个临时委托账户, 之后免签名下注
package session

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/trifle-labs/clawdice-frontend-sub000/internal/blockchain"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/contract"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/metrics"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/model"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/relay"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/storage"
	bizerr "github.com/trifle-labs/clawdice-frontend-sub000/pkg/errors"
	"github.com/trifle-labs/clawdice-frontend-sub000/pkg/logger"
)

var (
	ErrCreateInProgress = errors.New("session creation already in progress")
	ErrInvalidDuration  = errors.New("session duration must be positive")
)

// Config 会话配置
type Config struct {
	DefaultDuration time.Duration
	DefaultMaxBet   *big.Int
	VerifyDelay     time.Duration
}

// Manager 会话授权管理器
//
// 状态机: none -> creating -> active -> (expired | revoked | invalidated) -> none。
// 本地存储只是缓存, 以链上 getSession 为准。
type Manager struct {
	gateway *blockchain.Gateway
	relay   *relay.Client
	store   storage.Store
	cfg     Config
	now     func() time.Time

	mu          sync.Mutex
	status      model.SessionStatus
	key         *ecdsa.PrivateKey
	grant       *model.SessionGrant
	createdHere common.Address // 本进程内刚创建的委托地址, 恢复时跳过复核
	verifyTimer *time.Timer
	closed      bool

	onChange func(model.SessionStatus)
}

// NewManager 创建会话管理器
func NewManager(gateway *blockchain.Gateway, relayClient *relay.Client, store storage.Store, cfg Config) *Manager {
	if cfg.DefaultDuration == 0 {
		cfg.DefaultDuration = 24 * time.Hour
	}
	if cfg.DefaultMaxBet == nil {
		cfg.DefaultMaxBet = new(big.Int).Mul(big.NewInt(1000), big.NewInt(1e18))
	}
	if cfg.VerifyDelay == 0 {
		cfg.VerifyDelay = 5 * time.Second
	}
	return &Manager{
		gateway: gateway,
		relay:   relayClient,
		store:   store,
		cfg:     cfg,
		now:     time.Now,
		status:  model.SessionNone,
	}
}

// SetClock 替换时钟
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// OnChange 状态变化回调
func (m *Manager) OnChange(fn func(model.SessionStatus)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// Status 当前状态
func (m *Manager) Status() model.SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Grant 当前会话授权副本, 无会话返回 nil
func (m *Manager) Grant() *model.SessionGrant {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.grant == nil {
		return nil
	}
	g := *m.grant
	g.MaxBetAmount = new(big.Int).Set(m.grant.MaxBetAmount)
	if m.grant.Nonce != nil {
		g.Nonce = new(big.Int).Set(m.grant.Nonce)
	}
	return &g
}

// IsActive 本地缓存的会话是否可用
func (m *Manager) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status == model.SessionActive && m.grant.Usable(m.now())
}

// setStatusLocked 调用方持有 mu
func (m *Manager) setStatusLocked(status model.SessionStatus) func() {
	if m.status == status {
		return func() {}
	}
	from := m.status
	m.status = status
	metrics.RecordSessionTransition(string(status))
	logger.Info("session status changed",
		zap.String("from", string(from)),
		zap.String("to", string(status)))
	fn := m.onChange
	return func() {
		if fn != nil {
			fn(status)
		}
	}
}

// Create 生成临时密钥, 请求钱包签署授权并上链; 交易确认后才写入本地存储
func (m *Manager) Create(ctx context.Context, wallet blockchain.Wallet, duration time.Duration, maxBet *big.Int) (*model.SessionGrant, error) {
	if wallet == nil {
		return nil, bizerr.ErrNoWallet
	}
	if duration == 0 {
		duration = m.cfg.DefaultDuration
	}
	if duration < 0 {
		return nil, ErrInvalidDuration
	}
	if maxBet == nil {
		maxBet = m.cfg.DefaultMaxBet
	}
	if maxBet.Sign() <= 0 || maxBet.BitLen() > 128 {
		return nil, bizerr.ErrInvalidAmount
	}

	m.mu.Lock()
	if m.status == model.SessionCreating {
		m.mu.Unlock()
		return nil, ErrCreateInProgress
	}
	prev := m.status
	notify := m.setStatusLocked(model.SessionCreating)
	now := m.now()
	m.mu.Unlock()
	notify()

	grant, key, err := m.authorize(ctx, wallet, now.Add(duration), maxBet)
	if err != nil {
		m.mu.Lock()
		notify := m.setStatusLocked(prev)
		m.mu.Unlock()
		notify()
		logger.Warn("session creation failed",
			zap.String("player", wallet.Address().Hex()),
			zap.Error(err))
		return nil, err
	}

	m.mu.Lock()
	m.stopVerifyLocked()
	m.key = key
	m.grant = grant
	m.createdHere = grant.Delegate
	notify = m.setStatusLocked(model.SessionActive)
	m.mu.Unlock()
	notify()

	logger.Info("session created",
		zap.String("player", grant.Player.Hex()),
		zap.String("delegate", grant.Delegate.Hex()),
		zap.Time("expires_at", grant.ExpiresAt))
	return m.Grant(), nil
}

func (m *Manager) authorize(ctx context.Context, wallet blockchain.Wallet, expiresAt time.Time, maxBet *big.Int) (*model.SessionGrant, *ecdsa.PrivateKey, error) {
	player := wallet.Address()
	dice := m.gateway.Dice()

	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, nil, err
	}
	delegate, err := m.relay.AccountAddress(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	nonce, err := dice.SessionNonce(ctx, player)
	if err != nil {
		return nil, nil, err
	}

	auth := contract.SessionAuthorization{
		Player:       player,
		Delegate:     delegate,
		MaxBetAmount: maxBet,
		ExpiresAt:    uint64(expiresAt.Unix()),
		Nonce:        nonce,
	}
	sig, err := wallet.SignTypedData(ctx, auth.TypedData(m.gateway.ChainID(), dice.Address()))
	if err != nil {
		if blockchain.IsUserRejected(err) {
			return nil, nil, bizerr.Wrap(bizerr.ErrUserRejected, err)
		}
		return nil, nil, err
	}

	data, err := dice.PackCreateSession(delegate, maxBet, auth.ExpiresAt, sig)
	if err != nil {
		return nil, nil, bizerr.Wrap(bizerr.ErrInvalidRequest, err)
	}
	hash, err := m.gateway.Submit(ctx, wallet, blockchain.Call{To: dice.Address(), Data: data, Kind: contract.CallSession})
	if err != nil {
		return nil, nil, err
	}
	if _, err := m.gateway.AwaitReceipt(ctx, hash); err != nil {
		return nil, nil, err
	}

	grant := &model.SessionGrant{
		Player:       player,
		Delegate:     delegate,
		ExpiresAt:    time.Unix(int64(auth.ExpiresAt), 0),
		MaxBetAmount: new(big.Int).Set(maxBet),
		Nonce:        nonce,
		Active:       true,
	}
	// 四个值整体写入
	if err := m.store.SetMany(ctx, map[string]string{
		storage.KeySessionKey:      hex.EncodeToString(crypto.FromECDSA(key)),
		storage.KeySessionDelegate: delegate.Hex(),
		storage.KeySessionExpires:  strconv.FormatUint(auth.ExpiresAt, 10),
		storage.KeySessionOwner:    player.Hex(),
	}); err != nil {
		return nil, nil, err
	}
	return grant, key, nil
}

// Restore 按当前连接账户恢复本地会话; 所有者不符或已过期时清除存储
func (m *Manager) Restore(ctx context.Context, connected common.Address) (bool, error) {
	values := make(map[string]string, len(storage.SessionKeys))
	for _, k := range storage.SessionKeys {
		v, err := storage.GetOptional(ctx, m.store, k)
		if err != nil {
			return false, err
		}
		values[k] = v
	}

	m.mu.Lock()
	now := m.now()
	m.mu.Unlock()

	grant, key, reason := parseStored(values, connected, now)
	if grant == nil {
		if reason != "" {
			logger.Info("discarding stored session",
				zap.String("connected", connected.Hex()),
				zap.String("reason", reason))
		}
		if err := m.store.Delete(ctx, storage.SessionKeys...); err != nil {
			return false, err
		}
		m.mu.Lock()
		m.stopVerifyLocked()
		m.key, m.grant = nil, nil
		notify := m.setStatusLocked(model.SessionNone)
		m.mu.Unlock()
		notify()
		return false, nil
	}

	m.mu.Lock()
	m.key = key
	m.grant = grant
	notify := m.setStatusLocked(model.SessionActive)
	if grant.Delegate != m.createdHere {
		m.scheduleVerifyLocked(context.WithoutCancel(ctx))
	}
	m.mu.Unlock()
	notify()
	return true, nil
}

func parseStored(values map[string]string, connected common.Address, now time.Time) (*model.SessionGrant, *ecdsa.PrivateKey, string) {
	for _, k := range storage.SessionKeys {
		if values[k] == "" {
			if anyNonEmpty(values) {
				return nil, nil, "incomplete"
			}
			return nil, nil, ""
		}
	}
	if !model.SameAddress(values[storage.KeySessionOwner], connected.Hex()) {
		return nil, nil, "owner mismatch"
	}
	expires, err := strconv.ParseInt(values[storage.KeySessionExpires], 10, 64)
	if err != nil {
		return nil, nil, "bad expiry"
	}
	expiresAt := time.Unix(expires, 0)
	if !now.Before(expiresAt) {
		return nil, nil, "expired"
	}
	key, err := crypto.HexToECDSA(values[storage.KeySessionKey])
	if err != nil {
		return nil, nil, "bad key"
	}
	if !common.IsHexAddress(values[storage.KeySessionDelegate]) {
		return nil, nil, "bad delegate"
	}
	return &model.SessionGrant{
		Player:    connected,
		Delegate:  common.HexToAddress(values[storage.KeySessionDelegate]),
		ExpiresAt: expiresAt,
		// 本地不保存上限, 复核时从链上补齐
		MaxBetAmount: new(big.Int),
		Active:       true,
	}, key, ""
}

func anyNonEmpty(values map[string]string) bool {
	for _, v := range values {
		if v != "" {
			return true
		}
	}
	return false
}

func (m *Manager) scheduleVerifyLocked(ctx context.Context) {
	m.stopVerifyLocked()
	if m.closed {
		return
	}
	m.verifyTimer = time.AfterFunc(m.cfg.VerifyDelay, func() {
		if _, err := m.Verify(ctx); err != nil {
			logger.Warn("session verification failed", zap.Error(err))
		}
	})
}

func (m *Manager) stopVerifyLocked() {
	if m.verifyTimer != nil {
		m.verifyTimer.Stop()
		m.verifyTimer = nil
	}
}

// Verify 读取链上会话状态, 无效时立即清除本地存储
//
// 读取失败时保留本地状态并返回错误。
func (m *Manager) Verify(ctx context.Context) (bool, error) {
	grant := m.Grant()
	if grant == nil {
		return false, nil
	}

	info, err := m.gateway.Dice().GetSession(ctx, grant.Player, grant.Delegate)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	now := m.now()
	m.mu.Unlock()

	chainExpiry := time.Unix(int64(info.ExpiresAt), 0)
	if !info.Active || !now.Before(chainExpiry) {
		status := model.SessionInvalidated
		if info.Active {
			status = model.SessionExpired
		}
		logger.Warn("session rejected by chain, clearing local state",
			zap.String("player", grant.Player.Hex()),
			zap.String("delegate", grant.Delegate.Hex()),
			zap.Bool("chain_active", info.Active))
		return false, m.clear(ctx, grant.Delegate, status)
	}

	m.mu.Lock()
	if m.grant != nil && m.grant.Delegate == grant.Delegate {
		m.grant.ExpiresAt = chainExpiry
		m.grant.MaxBetAmount = info.MaxBetAmount
	}
	m.mu.Unlock()
	return true, nil
}

// clear 清除本地存储并进入终态; delegate 不是当前会话时不做任何事
func (m *Manager) clear(ctx context.Context, delegate common.Address, status model.SessionStatus) error {
	m.mu.Lock()
	if m.grant == nil || m.grant.Delegate != delegate {
		m.mu.Unlock()
		return nil
	}
	m.stopVerifyLocked()
	m.key, m.grant = nil, nil
	notify := m.setStatusLocked(status)
	m.mu.Unlock()
	notify()
	return m.store.Delete(ctx, storage.SessionKeys...)
}

// PlaceBet 以委托账户通过中继下注, 发送前校验重新推导的委托地址
func (m *Manager) PlaceBet(ctx context.Context, amount *big.Int, targetOdds uint64) (common.Hash, error) {
	m.mu.Lock()
	key, grant, now := m.key, m.grant, m.now()
	var limit *big.Int
	if grant != nil {
		limit = new(big.Int).Set(grant.MaxBetAmount)
	}
	m.mu.Unlock()

	if grant == nil || key == nil {
		return common.Hash{}, bizerr.ErrSessionNotActive
	}
	if !grant.Usable(now) {
		if err := m.clear(ctx, grant.Delegate, model.SessionExpired); err != nil {
			logger.Warn("failed to clear expired session", zap.Error(err))
		}
		return common.Hash{}, bizerr.ErrSessionNotActive
	}
	if err := m.gateway.CheckStake(ctx, amount, targetOdds); err != nil {
		return common.Hash{}, err
	}
	if limit.Sign() > 0 && amount.Cmp(limit) > 0 {
		return common.Hash{}, bizerr.ErrAboveMaxBet.WithDetail("session_max_bet", limit.String())
	}

	delegate, err := m.relay.AccountAddress(ctx, key)
	if err != nil {
		return common.Hash{}, err
	}
	if delegate != grant.Delegate {
		logger.Error("session delegate drift",
			zap.String("stored", grant.Delegate.Hex()),
			zap.String("derived", delegate.Hex()))
		return common.Hash{}, bizerr.ErrDelegateMismatch.
			WithDetail("stored", grant.Delegate.Hex()).
			WithDetail("derived", delegate.Hex())
	}

	dice := m.gateway.Dice()
	data, err := dice.PackPlaceBetWithSession(grant.Player, amount, targetOdds)
	if err != nil {
		return common.Hash{}, bizerr.Wrap(bizerr.ErrInvalidRequest, err)
	}
	hash, err := m.relay.SubmitAs(ctx, key, blockchain.Call{To: dice.Address(), Data: data, Kind: contract.CallPlaceBet})
	var submitted *relay.SubmittedError
	if errors.As(err, &submitted) {
		// 已被 bundler 接受, 只能继续等待, 不能改走钱包
		logger.Warn("session bet receipt pending, waiting again",
			zap.String("user_op_hash", submitted.OpHash.Hex()),
			zap.Error(submitted.Err))
		hash, err = m.relay.Resolve(ctx, submitted.OpHash)
		if errors.As(err, &submitted) {
			return common.Hash{}, bizerr.Wrap(bizerr.ErrSubmissionUnconfirmed, err).
				WithDetail("user_op_hash", submitted.OpHash.Hex())
		}
	}
	if err != nil {
		if m.gateway.IsRevert(err, "InvalidSession") {
			if cerr := m.clear(ctx, grant.Delegate, model.SessionInvalidated); cerr != nil {
				logger.Warn("failed to clear invalid session", zap.Error(cerr))
			}
			return common.Hash{}, bizerr.Wrap(bizerr.ErrSessionInvalid, err)
		}
		return common.Hash{}, bizerr.Wrap(bizerr.ErrSponsorship, err)
	}
	logger.Info("session bet submitted",
		zap.String("player", grant.Player.Hex()),
		zap.String("tx_hash", hash.Hex()))
	return hash, nil
}

// Revoke 上链撤销授权, 之后无论交易是否成功都清除本地存储
//
// 返回值是撤销交易的错误; 本地快速通道总是被关闭。
func (m *Manager) Revoke(ctx context.Context, wallet blockchain.Wallet) error {
	grant := m.Grant()
	if grant == nil {
		return nil
	}

	var submitErr error
	dice := m.gateway.Dice()
	data, err := dice.PackRevokeSession(grant.Delegate)
	if err != nil {
		submitErr = err
	} else {
		hash, err := m.gateway.Submit(ctx, wallet, blockchain.Call{To: dice.Address(), Data: data, Kind: contract.CallSession})
		if err == nil {
			_, err = m.gateway.AwaitReceipt(ctx, hash)
		}
		submitErr = err
	}
	if submitErr != nil {
		logger.Warn("session revocation transaction failed, clearing local session anyway",
			zap.String("delegate", grant.Delegate.Hex()),
			zap.Error(submitErr))
	}

	if err := m.clear(ctx, grant.Delegate, model.SessionRevoked); err != nil {
		return errors.Join(submitErr, err)
	}
	return submitErr
}

// SkipWalletPopup 是否默认走会话快速通道
func (m *Manager) SkipWalletPopup(ctx context.Context) bool {
	v, err := storage.GetOptional(ctx, m.store, storage.KeySkipWalletPopup)
	if err != nil {
		return false
	}
	skip, _ := strconv.ParseBool(v)
	return skip
}

// SetSkipWalletPopup 保存偏好
func (m *Manager) SetSkipWalletPopup(ctx context.Context, skip bool) error {
	return m.store.Set(ctx, storage.KeySkipWalletPopup, strconv.FormatBool(skip))
}

// Close 停止延迟复核
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.stopVerifyLocked()
	m.mu.Unlock()
}
