package game

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/trifle-labs/clawdice-frontend-sub000/internal/blockchain"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/contract"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/metrics"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/model"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/outcome"
	bizerr "github.com/trifle-labs/clawdice-frontend-sub000/pkg/errors"
	"github.com/trifle-labs/clawdice-frontend-sub000/pkg/logger"
	"github.com/trifle-labs/clawdice-frontend-sub000/pkg/retry"
)

const (
	revertTooEarly       = "BetTooEarly"
	revertAlreadyClaimed = "BetAlreadyClaimed"
)

var errNoSettlementLog = errors.New("no claim or resolution log in receipt")

// Registry 进行中的开奖, 编排器与自动开奖共用
type Registry struct {
	mu       sync.Mutex
	inFlight map[string]chan struct{}
}

// NewRegistry 创建登记表
func NewRegistry() *Registry {
	return &Registry{inFlight: make(map[string]chan struct{})}
}

// TryAcquire 登记 betId, 已在进行中返回 false
func (r *Registry) TryAcquire(betID *big.Int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := betID.String()
	if _, ok := r.inFlight[key]; ok {
		return false
	}
	r.inFlight[key] = make(chan struct{})
	return true
}

// Release 释放并唤醒等待者
func (r *Registry) Release(betID *big.Int) {
	r.mu.Lock()
	key := betID.String()
	if done, ok := r.inFlight[key]; ok {
		close(done)
		delete(r.inFlight, key)
	}
	r.mu.Unlock()
}

// InFlight 是否进行中
func (r *Registry) InFlight(betID *big.Int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.inFlight[betID.String()]
	return ok
}

// Wait 等待 betId 被释放, 未登记时立即返回
func (r *Registry) Wait(ctx context.Context, betID *big.Int) error {
	r.mu.Lock()
	done, ok := r.inFlight[betID.String()]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sponsor 代付提交, 失败返回 ok=false
type Sponsor interface {
	SponsoredSubmit(ctx context.Context, call blockchain.Call) (common.Hash, bool)
}

// ClaimerConfig 开奖配置
type ClaimerConfig struct {
	EarlyRetries int
}

// ClaimResult 开奖结果
type ClaimResult struct {
	BetID  *big.Int
	Path   model.PlacementPath
	TxHash common.Hash
	// Owned 为 false 时事件属于其他玩家, Outcome 为空
	Owned   bool
	Outcome *model.BetOutcome
}

// Claimer 开奖: 先走代付, 失败回退钱包签名
type Claimer struct {
	gateway  *blockchain.Gateway
	sponsor  Sponsor
	registry *Registry
	cfg      ClaimerConfig
}

// NewClaimer 创建开奖器, sponsor 为空时只走钱包
func NewClaimer(gateway *blockchain.Gateway, sponsor Sponsor, registry *Registry, cfg ClaimerConfig) *Claimer {
	if registry == nil {
		registry = NewRegistry()
	}
	if cfg.EarlyRetries == 0 {
		cfg.EarlyRetries = 3
	}
	return &Claimer{
		gateway:  gateway,
		sponsor:  sponsor,
		registry: registry,
		cfg:      cfg,
	}
}

// Registry 登记表
func (c *Claimer) Registry() *Registry { return c.registry }

// Claim 开奖并判定归属
//
// "too early" 视为可重试: 等下一个块后再试, 最多 EarlyRetries 次。
func (c *Claimer) Claim(ctx context.Context, wallet blockchain.Wallet, betID *big.Int, player common.Address) (*ClaimResult, error) {
	if !c.registry.TryAcquire(betID) {
		return nil, bizerr.ErrClaimInProgress.WithDetail("bet_id", betID.String())
	}
	defer c.registry.Release(betID)

	type submitted struct {
		receipt *types.Receipt
		path    model.PlacementPath
	}
	policy := retry.Constant(c.cfg.EarlyRetries+1, 0).
		WithRetryable(func(err error) bool {
			return c.gateway.IsRevert(err, revertTooEarly)
		}).
		WithNotify(func(attempt int, err error, _ time.Duration) {
			logger.Debug("claim attempted too early",
				zap.String("bet_id", betID.String()),
				zap.Int("attempt", attempt))
		})

	attempt := 0
	sub, err := retry.DoValue(ctx, policy, func(ctx context.Context) (submitted, error) {
		attempt++
		if attempt > 1 {
			head, err := c.gateway.Head(ctx)
			if err != nil {
				return submitted{}, err
			}
			if _, err := c.gateway.WaitForBlock(ctx, head); err != nil {
				return submitted{}, err
			}
		}
		receipt, path, err := c.submit(ctx, wallet, betID)
		return submitted{receipt: receipt, path: path}, err
	})
	if err != nil {
		if c.gateway.IsRevert(err, revertAlreadyClaimed) {
			return c.fromRecord(ctx, betID, player, sub.path)
		}
		metrics.RecordClaim(string(sub.path), "failed")
		return nil, err
	}

	res, err := c.classify(ctx, sub.receipt, betID, player)
	if err != nil {
		metrics.RecordClaim(string(sub.path), "failed")
		return nil, err
	}
	res.Path = sub.path
	c.record(res)
	return res, nil
}

// ClaimWait 与 Claim 相同, betId 正被其他路径开奖时等其结束, 已开奖则按链上记录判定
func (c *Claimer) ClaimWait(ctx context.Context, wallet blockchain.Wallet, betID *big.Int, player common.Address) (*ClaimResult, error) {
	for {
		res, err := c.Claim(ctx, wallet, betID, player)
		if !errors.Is(err, bizerr.ErrClaimInProgress) {
			return res, err
		}
		logger.Info("claim held by another path, waiting",
			zap.String("bet_id", betID.String()))
		if err := c.registry.Wait(ctx, betID); err != nil {
			return nil, err
		}
		bet, err := c.gateway.GetBet(ctx, betID)
		if err != nil {
			return nil, err
		}
		if bet.Claimed {
			return c.fromRecord(ctx, betID, player, model.PathExternal)
		}
	}
}

func (c *Claimer) submit(ctx context.Context, wallet blockchain.Wallet, betID *big.Int) (*types.Receipt, model.PlacementPath, error) {
	dice := c.gateway.Dice()
	data, err := dice.PackClaim(betID)
	if err != nil {
		return nil, model.PathSponsored, bizerr.Wrap(bizerr.ErrInvalidRequest, err)
	}
	call := blockchain.Call{To: dice.Address(), Data: data, Kind: contract.CallClaim}

	if c.sponsor != nil {
		if hash, ok := c.sponsor.SponsoredSubmit(ctx, call); ok {
			receipt, err := c.gateway.AwaitReceipt(ctx, hash)
			return receipt, model.PathSponsored, err
		}
		metrics.SponsorFallbackTotal.Inc()
		logger.Info("sponsored claim unavailable, falling back to wallet",
			zap.String("bet_id", betID.String()))
	}
	if wallet == nil {
		return nil, model.PathWallet, bizerr.ErrNoWallet.WithDetail("bet_id", betID.String())
	}
	receipt, err := c.gateway.ClaimWallet(ctx, wallet, betID)
	return receipt, model.PathWallet, err
}

// classify 扫描回执日志判定输赢与归属
//
// BetClaimed 带玩家地址; 只有 BetResolved(won=false) 时需要重读下注记录确认归属。
// 回执中只有其他下注的事件时视为他人结果。
func (c *Claimer) classify(ctx context.Context, receipt *types.Receipt, betID *big.Int, player common.Address) (*ClaimResult, error) {
	dice := c.gateway.Dice()
	res := &ClaimResult{BetID: betID, TxHash: receipt.TxHash}

	var (
		resolved *contract.BetResolvedEvent
		claimed  *contract.BetClaimedEvent
		foreign  bool
	)
	for _, l := range receipt.Logs {
		if l == nil {
			continue
		}
		if ev, err := dice.ParseBetClaimed(*l); err == nil {
			if ev.BetID.Cmp(betID) == 0 {
				claimed = ev
			} else {
				foreign = true
			}
			continue
		}
		if ev, err := dice.ParseBetResolved(*l); err == nil {
			if ev.BetID.Cmp(betID) == 0 {
				resolved = ev
			} else {
				foreign = true
			}
		}
	}

	switch {
	case claimed != nil:
		if !model.SameAddress(claimed.Player.Hex(), player.Hex()) {
			return c.notOwned(res, claimed.Player), nil
		}
		res.Owned = true
		res.Outcome = &model.BetOutcome{BetID: betID, Won: true, Payout: claimed.Payout, TxHash: receipt.TxHash}
	case resolved != nil:
		bet, err := c.gateway.GetBet(ctx, betID)
		if err != nil {
			return nil, err
		}
		if !bet.OwnedBy(player) {
			return c.notOwned(res, bet.Player), nil
		}
		res.Owned = true
		res.Outcome = &model.BetOutcome{BetID: betID, Won: resolved.Won, Payout: resolved.Payout, TxHash: receipt.TxHash}
	case foreign:
		return c.notOwned(res, common.Address{}), nil
	default:
		return nil, bizerr.Wrap(bizerr.ErrResultUnknown, errNoSettlementLog).
			WithDetail("tx_hash", receipt.TxHash.Hex())
	}

	if resolved != nil && resolved.Result != nil && resolved.Result.IsUint64() && resolved.Result.Uint64() <= outcome.MaxBasisPoints {
		setResult(res.Outcome, resolved.Result.Uint64())
	} else {
		c.fillResult(ctx, res.Outcome)
	}
	if res.Outcome.Payout == nil {
		res.Outcome.Payout = new(big.Int)
	}
	return res, nil
}

// fromRecord 已被其他路径开奖时按链上记录给出结果
func (c *Claimer) fromRecord(ctx context.Context, betID *big.Int, player common.Address, path model.PlacementPath) (*ClaimResult, error) {
	bet, err := c.gateway.GetBet(ctx, betID)
	if err != nil {
		return nil, err
	}
	res := &ClaimResult{BetID: betID, Path: path}
	if !bet.OwnedBy(player) {
		return c.notOwned(res, bet.Player), nil
	}
	res.Owned = true
	res.Outcome = &model.BetOutcome{BetID: betID, Won: bet.Won, Payout: bet.Payout}
	if res.Outcome.Payout == nil {
		res.Outcome.Payout = new(big.Int)
	}
	c.fillResult(ctx, res.Outcome)
	c.record(res)
	return res, nil
}

func (c *Claimer) notOwned(res *ClaimResult, seen common.Address) *ClaimResult {
	metrics.OwnershipMismatchTotal.Inc()
	logger.Debug("discarding settlement for another player",
		zap.String("bet_id", res.BetID.String()),
		zap.String("observed_player", seen.Hex()))
	res.Owned = false
	res.Outcome = nil
	return res
}

// fillResult 用目标区块哈希本地计算展示用结果, 取不到哈希时保持未知
func (c *Claimer) fillResult(ctx context.Context, out *model.BetOutcome) {
	bet, err := c.gateway.GetBet(ctx, out.BetID)
	if err != nil {
		return
	}
	hash, err := c.gateway.BlockHash(ctx, bet.TargetBlock())
	if err != nil {
		logger.Debug("target block hash unavailable", zap.String("bet_id", out.BetID.String()), zap.Error(err))
		return
	}
	res, err := outcome.Compute(out.BetID, hash)
	if err != nil {
		return
	}
	setResult(out, res.BasisPoints)
}

func setResult(out *model.BetOutcome, bp uint64) {
	r := outcome.Result{BasisPoints: bp}
	out.BasisPoints = r.BasisPoints
	out.Percentage = r.Percentage()
	out.HasResult = true
}

func (c *Claimer) record(res *ClaimResult) {
	label := "foreign"
	if res.Owned {
		label = "lost"
		if res.Outcome.Won {
			label = "won"
		}
	}
	metrics.RecordClaim(string(res.Path), label)
}
