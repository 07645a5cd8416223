// Package game 驱动单笔下注走完 下注 → 等块 → 开奖 → 判定 的流程
package game

import (
	"context"
	"errors"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trifle-labs/clawdice-frontend-sub000/internal/blockchain"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/kafka"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/metrics"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/model"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/outcome"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/repository"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/session"
	bizerr "github.com/trifle-labs/clawdice-frontend-sub000/pkg/errors"
	"github.com/trifle-labs/clawdice-frontend-sub000/pkg/logger"
)

// Phase 流程阶段
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhasePlacing         Phase = "placing"
	PhaseWaitingForBlock Phase = "waiting-for-block"
	PhaseClaiming        Phase = "claiming"
	PhaseWon             Phase = "won"
	PhaseLost            Phase = "lost"
)

// Active 是否有下注在途
func (p Phase) Active() bool {
	return p == PhasePlacing || p == PhaseWaitingForBlock || p == PhaseClaiming
}

// MessageCancelled 用户拒绝签名时的提示
const MessageCancelled = "cancelled"

// State 可观察的流程状态
type State struct {
	Phase       Phase               `json:"phase"`
	FlowID      string              `json:"flow_id,omitempty"`
	BetID       *big.Int            `json:"bet_id,omitempty"`
	Player      common.Address      `json:"player"`
	Amount      *big.Int            `json:"amount,omitempty"`
	TargetOdds  uint64              `json:"target_odds"`
	Path        model.PlacementPath `json:"path,omitempty"`
	PlaceTx     common.Hash         `json:"place_tx"`
	TargetBlock uint64              `json:"target_block"`
	LastResult  *model.BetOutcome   `json:"last_result,omitempty"`
	Message     string              `json:"message,omitempty"`
	Detail      string              `json:"detail,omitempty"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// Request 下注请求
type Request struct {
	Amount     *big.Int
	TargetOdds uint64
	// UseSession 请求走会话快速通道, 无有效会话时回退钱包
	UseSession bool
}

// Config 编排器配置
type Config struct {
	FallbackDelay    time.Duration
	BlockWaitTimeout time.Duration
}

// Deps 编排器依赖, Sessions/Wallet/Journal/Publisher 可为空
type Deps struct {
	Gateway   *blockchain.Gateway
	Claimer   *Claimer
	Sessions  *session.Manager
	Wallet    blockchain.Wallet
	Journal   repository.JournalRepository
	Publisher kafka.Publisher
}

// Orchestrator 下注流程状态机, 同一时间只有一笔下注在途
type Orchestrator struct {
	gateway   *blockchain.Gateway
	claimer   *Claimer
	sessions  *session.Manager
	wallet    blockchain.Wallet
	journal   repository.JournalRepository
	publisher kafka.Publisher
	cfg       Config

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	subs    map[int]chan State
	nextSub int
}

// NewOrchestrator 创建编排器
func NewOrchestrator(deps Deps, cfg Config) *Orchestrator {
	if cfg.FallbackDelay == 0 {
		cfg.FallbackDelay = 3 * time.Second
	}
	if cfg.BlockWaitTimeout == 0 {
		cfg.BlockWaitTimeout = 5 * time.Minute
	}
	if deps.Claimer == nil {
		deps.Claimer = NewClaimer(deps.Gateway, nil, nil, ClaimerConfig{})
	}
	if deps.Publisher == nil {
		deps.Publisher = kafka.NoopPublisher{}
	}
	return &Orchestrator{
		gateway:   deps.Gateway,
		claimer:   deps.Claimer,
		sessions:  deps.Sessions,
		wallet:    deps.Wallet,
		journal:   deps.Journal,
		publisher: deps.Publisher,
		cfg:       cfg,
		state:     State{Phase: PhaseIdle, UpdatedAt: time.Now()},
		subs:      make(map[int]chan State),
	}
}

// State 当前状态快照
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// ActiveBet 在途流程的 betId, 没有时返回 nil
func (o *Orchestrator) ActiveBet() *big.Int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.state.Phase.Active() || o.state.BetID == nil {
		return nil
	}
	return new(big.Int).Set(o.state.BetID)
}

// Subscribe 订阅状态变化, 消费过慢时丢弃中间状态
func (o *Orchestrator) Subscribe() (<-chan State, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextSub
	o.nextSub++
	ch := make(chan State, 16)
	o.subs[id] = ch
	return ch, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if c, ok := o.subs[id]; ok {
			delete(o.subs, id)
			close(c)
		}
	}
}

func (o *Orchestrator) broadcastLocked() {
	for _, ch := range o.subs {
		select {
		case ch <- o.state:
		default:
		}
	}
}

// update 仅当 flowID 仍是当前流程时修改状态, Reset 之后的旧流程不再写入
func (o *Orchestrator) update(flowID string, fn func(s *State)) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.FlowID != flowID {
		return false
	}
	fn(&o.state)
	o.state.UpdatedAt = time.Now()
	o.broadcastLocked()
	return true
}

// Reset 手动回到 idle, 取消在途流程
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.state = State{Phase: PhaseIdle, UpdatedAt: time.Now()}
	o.broadcastLocked()
}

func (o *Orchestrator) begin(ctx context.Context, req Request) (context.Context, string, error) {
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, "", bizerr.ErrInvalidAmount
	}
	if req.TargetOdds == 0 {
		return nil, "", bizerr.ErrInvalidOdds
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Phase.Active() {
		return nil, "", bizerr.ErrBetInFlight.WithDetail("phase", string(o.state.Phase))
	}
	flowID := uuid.NewString()
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.state = State{
		Phase:      PhasePlacing,
		FlowID:     flowID,
		Amount:     new(big.Int).Set(req.Amount),
		TargetOdds: req.TargetOdds,
		UpdatedAt:  time.Now(),
	}
	o.broadcastLocked()
	return ctx, flowID, nil
}

// PlaceBet 同步执行完整流程
//
// 返回 nil 结果且无错误表示结果属于其他玩家, 已静默回到 idle。
func (o *Orchestrator) PlaceBet(ctx context.Context, req Request) (*model.BetOutcome, error) {
	ctx, flowID, err := o.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	return o.run(ctx, flowID, req)
}

// Start 异步执行, 返回流程 ID
func (o *Orchestrator) Start(ctx context.Context, req Request) (string, error) {
	ctx, flowID, err := o.begin(context.WithoutCancel(ctx), req)
	if err != nil {
		return "", err
	}
	go func() {
		if _, err := o.run(ctx, flowID, req); err != nil {
			logger.Debug("bet flow ended with error", zap.String("flow_id", flowID), zap.Error(err))
		}
	}()
	return flowID, nil
}

func (o *Orchestrator) run(ctx context.Context, flowID string, req Request) (result *model.BetOutcome, err error) {
	start := time.Now()
	defer func() {
		label := "error"
		switch {
		case err == nil && result == nil:
			label = "foreign"
		case err == nil && result.Won:
			label = "won"
		case err == nil:
			label = "lost"
		}
		metrics.FlowDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
		o.mu.Lock()
		if o.state.FlowID == flowID && o.cancel != nil {
			o.cancel()
			o.cancel = nil
		}
		o.mu.Unlock()
	}()

	placement, path, player, err := o.place(ctx, req)
	if err != nil {
		o.fail(flowID, path, nil, err)
		return nil, err
	}
	metrics.RecordBetPlaced(string(path), "confirmed")
	logger.Info("bet placed",
		zap.String("flow_id", flowID),
		zap.String("bet_id", placement.BetID.String()),
		zap.String("player", player.Hex()),
		zap.String("path", string(path)),
		zap.String("tx_hash", placement.TxHash.Hex()))
	o.update(flowID, func(s *State) {
		s.Phase = PhaseWaitingForBlock
		s.BetID = placement.BetID
		s.Player = player
		s.Path = path
		s.PlaceTx = placement.TxHash
	})
	o.journalPlaced(ctx, flowID, req, placement, path, player)

	if err := o.awaitTarget(ctx, flowID, placement.BetID); err != nil {
		o.fail(flowID, path, placement.BetID, err)
		return nil, err
	}

	o.update(flowID, func(s *State) { s.Phase = PhaseClaiming })
	res, err := o.claimer.ClaimWait(ctx, o.wallet, placement.BetID, player)
	if err != nil {
		o.fail(flowID, path, placement.BetID, err)
		return nil, err
	}
	if !res.Owned {
		o.update(flowID, func(s *State) {
			s.Phase = PhaseIdle
			s.LastResult = nil
		})
		return nil, nil
	}

	out := res.Outcome
	o.update(flowID, func(s *State) {
		s.Phase = PhaseLost
		if out.Won {
			s.Phase = PhaseWon
		}
		s.LastResult = out
	})
	o.journalSettled(ctx, flowID, req, player, res)
	logger.Info("bet settled",
		zap.String("flow_id", flowID),
		zap.String("bet_id", out.BetID.String()),
		zap.Bool("won", out.Won),
		zap.String("payout", out.Payout.String()),
		zap.String("claim_path", string(res.Path)))
	return out, nil
}

// place 优先会话快速通道, 会话不可用或代付失败时回退钱包
func (o *Orchestrator) place(ctx context.Context, req Request) (*blockchain.Placement, model.PlacementPath, common.Address, error) {
	if grant := o.sessionGrant(req); grant != nil {
		hash, err := o.sessions.PlaceBet(ctx, req.Amount, req.TargetOdds)
		if err == nil {
			placement, err := o.gateway.ConfirmPlacement(ctx, hash)
			return placement, model.PathSession, grant.Player, err
		}
		if !sessionFallback(err) || o.wallet == nil {
			return nil, model.PathSession, grant.Player, err
		}
		logger.Info("session placement unavailable, using wallet", zap.Error(err))
	}
	if o.wallet == nil {
		return nil, model.PathWallet, common.Address{}, bizerr.ErrNoWallet
	}
	placement, err := o.gateway.PlaceBetWallet(ctx, o.wallet, req.Amount, req.TargetOdds)
	return placement, model.PathWallet, o.wallet.Address(), err
}

func (o *Orchestrator) sessionGrant(req Request) *model.SessionGrant {
	if !req.UseSession || o.sessions == nil || !o.sessions.IsActive() {
		return nil
	}
	return o.sessions.Grant()
}

func sessionFallback(err error) bool {
	return errors.Is(err, bizerr.ErrSessionNotActive) ||
		errors.Is(err, bizerr.ErrSessionInvalid) ||
		errors.Is(err, bizerr.ErrDelegateMismatch) ||
		errors.Is(err, bizerr.ErrSponsorship)
}

// awaitTarget 等到 head > placementBlock+1; 读不到下注记录时固定延迟后继续
func (o *Orchestrator) awaitTarget(ctx context.Context, flowID string, betID *big.Int) error {
	start := time.Now()
	defer func() { metrics.BlockWaitDuration.Observe(time.Since(start).Seconds()) }()

	bet, err := o.gateway.GetBet(ctx, betID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("placement block unknown, using fallback delay",
			zap.String("bet_id", betID.String()),
			zap.Duration("delay", o.cfg.FallbackDelay),
			zap.Error(err))
		timer := time.NewTimer(o.cfg.FallbackDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	}

	target := bet.TargetBlock()
	o.update(flowID, func(s *State) { s.TargetBlock = target })
	waitCtx, cancel := context.WithTimeout(ctx, o.cfg.BlockWaitTimeout)
	defer cancel()
	if _, err := o.gateway.WaitForBlock(waitCtx, target); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return bizerr.Wrap(bizerr.ErrTimeout, err).WithDetail("target_block", strconv.FormatUint(target, 10))
	}
	return nil
}

// fail 所有失败都回到 idle; 用户拒绝只给中性提示
func (o *Orchestrator) fail(flowID string, path model.PlacementPath, betID *big.Int, err error) {
	cancelled := blockchain.IsUserRejected(err)
	o.update(flowID, func(s *State) {
		s.Phase = PhaseIdle
		s.LastResult = nil
		if cancelled {
			s.Message, s.Detail = MessageCancelled, ""
			return
		}
		s.Message, s.Detail = bizerr.Describe(err)
	})

	if betID == nil {
		status := "failed"
		if cancelled {
			status = "cancelled"
		}
		metrics.RecordBetPlaced(string(path), status)
	}
	if cancelled {
		logger.Info("bet flow cancelled by user", zap.String("flow_id", flowID))
		return
	}
	logger.Warn("bet flow failed",
		zap.String("flow_id", flowID),
		zap.String("path", string(path)),
		zap.Error(err))
	if betID != nil && o.journal != nil {
		if jerr := o.journal.MarkFailed(context.Background(), betID.String(), err.Error()); jerr != nil {
			logger.Debug("journal mark failed", zap.Error(jerr))
		}
	}
}

func (o *Orchestrator) journalPlaced(ctx context.Context, flowID string, req Request, p *blockchain.Placement, path model.PlacementPath, player common.Address) {
	var block int64
	if p.Receipt != nil && p.Receipt.BlockNumber != nil {
		block = p.Receipt.BlockNumber.Int64()
	}
	if o.journal != nil {
		rec := &model.BetRecord{
			BetID:          p.BetID.String(),
			Player:         player.Hex(),
			Amount:         model.FromWei(req.Amount),
			TargetOdds:     outcome.OddsToPercent(new(big.Int).SetUint64(req.TargetOdds)),
			PlacementBlock: block,
			PlacePath:      path,
			PlaceTxHash:    p.TxHash.Hex(),
		}
		if err := o.journal.Record(ctx, rec); err != nil {
			logger.Warn("journal record failed", zap.String("bet_id", rec.BetID), zap.Error(err))
		}
	}
	o.publish(ctx, &model.LifecycleEvent{
		Type:        kafka.EventPlaced,
		BetID:       p.BetID.String(),
		Player:      player.Hex(),
		Amount:      model.FromWei(req.Amount),
		TargetOdds:  outcome.OddsToPercent(new(big.Int).SetUint64(req.TargetOdds)),
		Path:        string(path),
		TxHash:      p.TxHash.Hex(),
		CorrelateID: flowID,
	})
}

func (o *Orchestrator) journalSettled(ctx context.Context, flowID string, req Request, player common.Address, res *ClaimResult) {
	out := res.Outcome
	if o.journal != nil {
		status, bp := model.JournalLost, int64(-1)
		if out.Won {
			status = model.JournalWon
		}
		if out.HasResult {
			bp = int64(out.BasisPoints)
		}
		err := o.journal.Settle(ctx, out.BetID.String(), status, res.Path, res.TxHash.Hex(), model.FromWei(out.Payout).String(), bp)
		if err != nil {
			logger.Warn("journal settle failed", zap.String("bet_id", out.BetID.String()), zap.Error(err))
		}
	}
	won := out.Won
	ev := &model.LifecycleEvent{
		Type:        kafka.EventSettled,
		BetID:       out.BetID.String(),
		Player:      player.Hex(),
		Amount:      model.FromWei(req.Amount),
		TargetOdds:  outcome.OddsToPercent(new(big.Int).SetUint64(req.TargetOdds)),
		Path:        string(res.Path),
		TxHash:      res.TxHash.Hex(),
		Won:         &won,
		Payout:      model.FromWei(out.Payout),
		CorrelateID: flowID,
	}
	if out.HasResult {
		ev.Result = out.Percentage.StringFixed(2)
	}
	o.publish(ctx, ev)
}

func (o *Orchestrator) publish(ctx context.Context, ev *model.LifecycleEvent) {
	ev.OccurredAt = time.Now().UnixMilli()
	if err := o.publisher.Publish(ctx, ev); err != nil {
		logger.Warn("lifecycle event not published", zap.String("bet_id", ev.BetID), zap.Error(err))
	}
}
