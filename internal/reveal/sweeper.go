// Package reveal 自动开奖
// 连接钱包后扫描玩家已索引的下注记录, 对已可开奖但未开奖的下注逐个开奖一次
package reveal

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/trifle-labs/clawdice-frontend-sub000/internal/blockchain"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/game"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/kafka"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/metrics"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/model"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/repository"
	bizerr "github.com/trifle-labs/clawdice-frontend-sub000/pkg/errors"
	"github.com/trifle-labs/clawdice-frontend-sub000/pkg/logger"
)

// ErrClosed 关闭后不再开始新的开奖
var ErrClosed = errors.New("reveal sweeper closed")

// HistorySource 已索引的下注记录
type HistorySource interface {
	BetHistory(ctx context.Context, player common.Address, limit int) ([]*model.BetEvent, error)
}

// HeadSource 最新区块高度
type HeadSource interface {
	Head(ctx context.Context) (uint64, error)
}

// Claimer 开奖路径, 与编排器共用
type Claimer interface {
	Claim(ctx context.Context, wallet blockchain.Wallet, betID *big.Int, player common.Address) (*game.ClaimResult, error)
}

// ActiveFlow 当前下注流程, 其 betId 由流程自己开奖
type ActiveFlow interface {
	ActiveBet() *big.Int
}

// Config 自动开奖配置
type Config struct {
	// HistoryLimit 每次扫描读取的下注记录数
	HistoryLimit int
	// ClaimWindow 可开奖区块窗口
	ClaimWindow uint64
}

// Deps 依赖, Wallet/Journal/Publisher/Flow 可为空
type Deps struct {
	History   HistorySource
	Heads     HeadSource
	Claimer   Claimer
	Wallet    blockchain.Wallet
	Journal   repository.JournalRepository
	Publisher kafka.Publisher
	Flow      ActiveFlow
}

// Reveal 一条自动开奖结果, 供界面展示和关闭
type Reveal struct {
	BetID      *big.Int            `json:"bet_id"`
	Player     common.Address      `json:"player"`
	Amount     decimal.Decimal     `json:"amount"`
	TargetOdds decimal.Decimal     `json:"target_odds"`
	Won        bool                `json:"won"`
	Payout     decimal.Decimal     `json:"payout"`
	Result     *decimal.Decimal    `json:"result,omitempty"`
	Path       model.PlacementPath `json:"path"`
	TxHash     common.Hash         `json:"tx_hash"`
	RevealedAt time.Time           `json:"revealed_at"`
}

// Report 一次扫描的汇总
type Report struct {
	RunID      string
	Player     common.Address
	Candidates int
	Revealed   int
	Foreign    int
	Skipped    int
	Failed     int
	Duration   time.Duration
}

// Sweeper 自动开奖器
//
// 每个 betId 在进程内最多处理一次; 进行中的 betId 在开奖前登记, 结束后清除。
type Sweeper struct {
	history   HistorySource
	heads     HeadSource
	claimer   Claimer
	wallet    blockchain.Wallet
	journal   repository.JournalRepository
	publisher kafka.Publisher
	flow      ActiveFlow
	cfg       Config

	mu         sync.Mutex
	lastPlayer common.Address
	attempted  map[string]struct{}
	inProgress map[string]struct{}
	results    []Reveal
	onResult   func(Reveal)
	closed     bool
	wg         sync.WaitGroup
}

// NewSweeper 创建自动开奖器
func NewSweeper(deps Deps, cfg Config) *Sweeper {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 100
	}
	if cfg.ClaimWindow == 0 {
		cfg.ClaimWindow = blockchain.DefaultClaimWindow
	}
	if deps.Publisher == nil {
		deps.Publisher = kafka.NoopPublisher{}
	}
	return &Sweeper{
		history:    deps.History,
		heads:      deps.Heads,
		claimer:    deps.Claimer,
		wallet:     deps.Wallet,
		journal:    deps.Journal,
		publisher:  deps.Publisher,
		flow:       deps.Flow,
		cfg:        cfg,
		attempted:  make(map[string]struct{}),
		inProgress: make(map[string]struct{}),
	}
}

// OnResult 注册新结果回调
func (s *Sweeper) OnResult(fn func(Reveal)) {
	s.mu.Lock()
	s.onResult = fn
	s.mu.Unlock()
}

// Trigger 连接地址变化时在后台扫描一次, 同一地址重复触发直接返回 false
func (s *Sweeper) Trigger(ctx context.Context, player common.Address) bool {
	if player == (common.Address{}) {
		return false
	}
	s.mu.Lock()
	if s.closed || s.lastPlayer == player {
		s.mu.Unlock()
		return false
	}
	s.lastPlayer = player
	s.wg.Add(1)
	s.mu.Unlock()

	// 已提交的开奖不随调用方取消而放弃
	ctx = context.WithoutCancel(ctx)
	go func() {
		defer s.wg.Done()
		if _, err := s.run(ctx, player); err != nil {
			logger.Warn("reveal sweep failed", zap.String("player", player.Hex()), zap.Error(err))
		}
	}()
	return true
}

// Sweep 同步扫描一次
func (s *Sweeper) Sweep(ctx context.Context, player common.Address) (*Report, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()
	return s.run(ctx, player)
}

func (s *Sweeper) run(ctx context.Context, player common.Address) (*Report, error) {
	report := &Report{RunID: uuid.NewString(), Player: player}
	start := time.Now()

	events, err := s.history.BetHistory(ctx, player, s.cfg.HistoryLimit)
	if err != nil {
		return report, err
	}
	head, err := s.heads.Head(ctx)
	if err != nil {
		return report, err
	}

	candidates := s.candidates(events, player, head)
	report.Candidates = len(candidates)
	logger.Info("starting reveal sweep",
		zap.String("run_id", report.RunID),
		zap.String("player", player.Hex()),
		zap.Int("history", len(events)),
		zap.Int("candidates", len(candidates)),
		zap.Uint64("head", head))

	for _, ev := range candidates {
		if ctx.Err() != nil {
			break
		}
		switch s.reveal(ctx, report.RunID, player, ev) {
		case "revealed":
			report.Revealed++
		case "foreign":
			report.Foreign++
		case "failed":
			report.Failed++
		default:
			report.Skipped++
		}
	}

	report.Duration = time.Since(start)
	logger.Info("reveal sweep completed",
		zap.String("run_id", report.RunID),
		zap.Int("revealed", report.Revealed),
		zap.Int("foreign", report.Foreign),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Duration))
	return report, nil
}

// candidates 未开奖、未过期且目标区块已过的下注, 按 betId 升序
func (s *Sweeper) candidates(events []*model.BetEvent, player common.Address, head uint64) []*model.BetEvent {
	out := make([]*model.BetEvent, 0, len(events))
	for _, ev := range events {
		if ev == nil || ev.BetID == nil || ev.Resolved || ev.Expired || ev.PlacementBlock == 0 {
			continue
		}
		if !model.SameAddress(ev.Player.Hex(), player.Hex()) {
			continue
		}
		if head <= ev.PlacementBlock+1 || model.IsExpired(ev.PlacementBlock, head, s.cfg.ClaimWindow) {
			continue
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BetID.Cmp(out[j].BetID) < 0 })
	return out
}

// reveal 开奖单笔下注, 返回 revealed/foreign/skipped/failed
func (s *Sweeper) reveal(ctx context.Context, runID string, player common.Address, ev *model.BetEvent) (result string) {
	key := ev.BetID.String()
	if s.flow != nil {
		if active := s.flow.ActiveBet(); active != nil && active.Cmp(ev.BetID) == 0 {
			logger.Debug("bet owned by the active flow", zap.String("bet_id", key))
			return "skipped"
		}
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "skipped"
	}
	if _, ok := s.attempted[key]; ok {
		s.mu.Unlock()
		return "skipped"
	}
	if _, ok := s.inProgress[key]; ok {
		s.mu.Unlock()
		return "skipped"
	}
	s.attempted[key] = struct{}{}
	s.inProgress[key] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inProgress, key)
		s.mu.Unlock()
		metrics.RecordSweep(result)
	}()

	res, err := s.claimer.Claim(ctx, s.wallet, ev.BetID, player)
	if err != nil {
		if errors.Is(err, bizerr.ErrClaimInProgress) {
			// 未真正尝试, 下次扫描可以再处理
			s.mu.Lock()
			delete(s.attempted, key)
			s.mu.Unlock()
			logger.Debug("bet already being claimed elsewhere", zap.String("bet_id", key))
			return "skipped"
		}
		logger.Warn("auto reveal failed",
			zap.String("run_id", runID),
			zap.String("bet_id", key),
			zap.Error(err))
		return "failed"
	}
	if !res.Owned {
		return "foreign"
	}

	out := res.Outcome
	rv := Reveal{
		BetID:      ev.BetID,
		Player:     player,
		Amount:     ev.Amount,
		TargetOdds: ev.TargetOdds,
		Won:        out.Won,
		Payout:     model.FromWei(out.Payout),
		Path:       res.Path,
		TxHash:     res.TxHash,
		RevealedAt: time.Now(),
	}
	if out.HasResult {
		pct := out.Percentage
		rv.Result = &pct
	}
	logger.Info("bet auto revealed",
		zap.String("run_id", runID),
		zap.String("bet_id", key),
		zap.Bool("won", rv.Won),
		zap.String("payout", rv.Payout.String()),
		zap.String("path", string(rv.Path)))

	s.mu.Lock()
	s.results = append(s.results, rv)
	fn := s.onResult
	s.mu.Unlock()
	if fn != nil {
		fn(rv)
	}

	s.journalRevealed(ctx, ev, res)
	s.publish(ctx, runID, ev, rv)
	return "revealed"
}

func (s *Sweeper) journalRevealed(ctx context.Context, ev *model.BetEvent, res *game.ClaimResult) {
	if s.journal == nil {
		return
	}
	key := ev.BetID.String()
	if _, err := s.journal.GetByBetID(ctx, key); errors.Is(err, repository.ErrBetRecordNotFound) {
		rec := &model.BetRecord{
			BetID:          key,
			Player:         ev.Player.Hex(),
			Amount:         ev.Amount,
			TargetOdds:     ev.TargetOdds,
			PlacementBlock: int64(ev.PlacementBlock),
			PlaceTxHash:    ev.TxHash.Hex(),
		}
		if err := s.journal.Record(ctx, rec); err != nil {
			logger.Warn("journal record failed", zap.String("bet_id", key), zap.Error(err))
			return
		}
	}
	out := res.Outcome
	status, bp := model.JournalLost, int64(-1)
	if out.Won {
		status = model.JournalWon
	}
	if out.HasResult {
		bp = int64(out.BasisPoints)
	}
	if err := s.journal.Settle(ctx, key, status, res.Path, res.TxHash.Hex(), model.FromWei(out.Payout).String(), bp); err != nil {
		logger.Warn("journal settle failed", zap.String("bet_id", key), zap.Error(err))
	}
}

func (s *Sweeper) publish(ctx context.Context, runID string, ev *model.BetEvent, rv Reveal) {
	won := rv.Won
	msg := &model.LifecycleEvent{
		Type:        kafka.EventRevealed,
		BetID:       rv.BetID.String(),
		Player:      rv.Player.Hex(),
		Amount:      ev.Amount,
		TargetOdds:  ev.TargetOdds,
		Path:        string(rv.Path),
		TxHash:      rv.TxHash.Hex(),
		Won:         &won,
		Payout:      rv.Payout,
		OccurredAt:  rv.RevealedAt.UnixMilli(),
		CorrelateID: runID,
	}
	if rv.Result != nil {
		msg.Result = rv.Result.StringFixed(2)
	}
	if err := s.publisher.Publish(ctx, msg); err != nil {
		logger.Warn("reveal event not published", zap.String("bet_id", msg.BetID), zap.Error(err))
	}
}

// Results 未关闭的结果
func (s *Sweeper) Results() []Reveal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Reveal, len(s.results))
	copy(out, s.results)
	return out
}

// Dismiss 关闭一条结果
func (s *Sweeper) Dismiss(betID *big.Int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.results {
		if r.BetID.Cmp(betID) == 0 {
			s.results = append(s.results[:i], s.results[i+1:]...)
			return true
		}
	}
	return false
}

// InProgress 是否正在自动开奖
func (s *Sweeper) InProgress(betID *big.Int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inProgress[betID.String()]
	return ok
}

// Close 不再开始新的开奖, 等待进行中的开奖结束
func (s *Sweeper) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
}
