package blockchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/trifle-labs/clawdice-frontend-sub000/internal/contract"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/model"
	bizerr "github.com/trifle-labs/clawdice-frontend-sub000/pkg/errors"
	"github.com/trifle-labs/clawdice-frontend-sub000/pkg/logger"
	"github.com/trifle-labs/clawdice-frontend-sub000/pkg/retry"
)

// DefaultClaimWindow 合约只能读取最近 256 个区块的哈希
const DefaultClaimWindow = contract.ClaimWindow

var (
	errBetMissing  = errors.New("bet not indexed by node yet")
	errBlockNotYet = errors.New("target block not mined yet")
	errNoBetLog    = errors.New("no BetPlaced log in receipt")
)

// Backend 网关依赖的链上读写能力, *Client 实现该接口
type Backend interface {
	ethereum.ContractCaller
	contract.GasBackend
	PendingNonceReader
	BlockNumber(ctx context.Context) (uint64, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionKnown(ctx context.Context, txHash common.Hash) (bool, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Call 一次待发送的合约调用
type Call struct {
	To    common.Address
	Data  []byte
	Value *big.Int
	Kind  contract.CallKind
}

// Placement 下注交易确认后的结果
type Placement struct {
	BetID   *big.Int
	TxHash  common.Hash
	Receipt *types.Receipt
}

// GatewayConfig 网关配置
type GatewayConfig struct {
	ChainID           *big.Int
	ClaimWindow       uint64
	BetLookupAttempts int
	BetLookupInterval time.Duration
	BlockPollInterval time.Duration
	ReceiptPoll       time.Duration
	ReceiptTimeout    time.Duration
}

// Gateway 链上网关: 读下注、等块、取块哈希、发送交易
type Gateway struct {
	backend Backend
	dice    *contract.DiceContract
	token   *contract.TokenContract // nil 表示原生币下注
	gas     *contract.GasEstimator
	nonces  NonceSource
	symbols *TTLCache[common.Address, string]
	cfg     GatewayConfig
}

// NewGateway 创建网关
func NewGateway(backend Backend, dice *contract.DiceContract, token *contract.TokenContract, gas *contract.GasEstimator, nonces NonceSource, cfg GatewayConfig) *Gateway {
	if cfg.ChainID == nil {
		cfg.ChainID = big.NewInt(8453)
	}
	if cfg.ClaimWindow == 0 {
		cfg.ClaimWindow = DefaultClaimWindow
	}
	if cfg.BetLookupAttempts == 0 {
		cfg.BetLookupAttempts = 5
	}
	if cfg.BetLookupInterval == 0 {
		cfg.BetLookupInterval = time.Second
	}
	if cfg.BlockPollInterval == 0 {
		cfg.BlockPollInterval = time.Second
	}
	if cfg.ReceiptPoll == 0 {
		cfg.ReceiptPoll = time.Second
	}
	if cfg.ReceiptTimeout == 0 {
		cfg.ReceiptTimeout = 2 * time.Minute
	}
	if gas == nil {
		gas = contract.NewGasEstimator(nil, backend)
	}
	if nonces == nil {
		nonces = NewChainNonces(backend)
	}
	return &Gateway{
		backend: backend,
		dice:    dice,
		token:   token,
		gas:     gas,
		nonces:  nonces,
		symbols: NewTTLCache[common.Address, string](time.Hour),
		cfg:     cfg,
	}
}

// Dice 合约绑定
func (g *Gateway) Dice() *contract.DiceContract { return g.dice }

// ChainID 链 ID
func (g *Gateway) ChainID() *big.Int { return new(big.Int).Set(g.cfg.ChainID) }

// ClaimWindow 开奖窗口 (区块数)
func (g *Gateway) ClaimWindow() uint64 { return g.cfg.ClaimWindow }

// Head 最新区块号
func (g *Gateway) Head(ctx context.Context) (uint64, error) {
	return g.backend.BlockNumber(ctx)
}

// GetBet 读取下注记录, 节点同步滞后时有界重试
func (g *Gateway) GetBet(ctx context.Context, betID *big.Int) (*model.Bet, error) {
	policy := retry.Constant(g.cfg.BetLookupAttempts, g.cfg.BetLookupInterval).
		WithNotify(func(attempt int, err error, _ time.Duration) {
			logger.Debug("bet lookup retry",
				zap.String("bet_id", betID.String()),
				zap.Int("attempt", attempt),
				zap.Error(err))
		})
	bet, err := retry.DoValue(ctx, policy, func(ctx context.Context) (*model.Bet, error) {
		bet, err := g.dice.GetBet(ctx, betID)
		if err != nil {
			return nil, err
		}
		if !bet.Exists() {
			return nil, errBetMissing
		}
		return bet, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, bizerr.Wrap(bizerr.ErrBetNotFound, err).WithDetail("bet_id", betID.String())
	}
	return bet, nil
}

// WaitForBlock 轮询直到 head > target, 读失败继续轮询, 仅由 ctx 终止
func (g *Gateway) WaitForBlock(ctx context.Context, target uint64) (uint64, error) {
	policy := retry.Policy{Interval: g.cfg.BlockPollInterval}
	return retry.DoValue(ctx, policy, func(ctx context.Context) (uint64, error) {
		head, err := g.backend.BlockNumber(ctx)
		if err != nil {
			logger.Debug("block poll failed", zap.Uint64("target", target), zap.Error(err))
			return 0, err
		}
		if head <= target {
			return head, errBlockNotYet
		}
		return head, nil
	})
}

// BlockHash 区块哈希, 未出块或超出 256 块窗口时返回 ErrBlockUnavailable
func (g *Gateway) BlockHash(ctx context.Context, number uint64) (common.Hash, error) {
	head, err := g.backend.BlockNumber(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	if number > head || head-number > g.cfg.ClaimWindow {
		return common.Hash{}, bizerr.ErrBlockUnavailable.
			WithDetail("block", fmt.Sprint(number)).
			WithDetail("head", fmt.Sprint(head))
	}
	header, err := g.backend.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return common.Hash{}, err
	}
	return header.Hash(), nil
}

// Submit 估算、签名并发送交易, 不重试
//
// 发送报错时先查询节点是否已知该交易, 已知则视为成功。
func (g *Gateway) Submit(ctx context.Context, wallet Wallet, call Call) (common.Hash, error) {
	if wallet == nil {
		return common.Hash{}, bizerr.ErrNoWallet
	}
	from := wallet.Address()
	value := call.Value
	if value == nil {
		value = new(big.Int)
	}

	est, err := g.gas.Estimate(ctx, call.Kind, from, call.To, call.Data, value)
	if err != nil {
		return common.Hash{}, g.classify(err)
	}

	nonce, err := g.nonces.Next(ctx, from)
	if err != nil {
		return common.Hash{}, err
	}

	var tx *types.Transaction
	if est.Fees.IsDynamic() {
		tx = types.NewTx(&types.DynamicFeeTx{
			ChainID:   g.cfg.ChainID,
			Nonce:     nonce,
			GasTipCap: est.Fees.GasTipCap,
			GasFeeCap: est.Fees.GasFeeCap,
			Gas:       est.GasLimit,
			To:        &call.To,
			Value:     value,
			Data:      call.Data,
		})
	} else {
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: est.Fees.GasPrice,
			Gas:      est.GasLimit,
			To:       &call.To,
			Value:    value,
			Data:     call.Data,
		})
	}

	signed, err := wallet.SignTx(ctx, tx, g.cfg.ChainID)
	if err != nil {
		_ = g.nonces.Reset(ctx, from)
		return common.Hash{}, g.classify(err)
	}

	hash := signed.Hash()
	if err := g.backend.SendTransaction(ctx, signed); err != nil {
		known, kerr := g.backend.TransactionKnown(ctx, hash)
		if kerr == nil && known {
			logger.Warn("send reported error but transaction is known to node",
				zap.String("tx_hash", hash.Hex()),
				zap.Error(err))
			return hash, nil
		}
		_ = g.nonces.Reset(ctx, from)
		g.gas.InvalidateCache()
		return common.Hash{}, g.classify(err)
	}

	logger.Info("transaction sent",
		zap.String("tx_hash", hash.Hex()),
		zap.String("from", from.Hex()),
		zap.String("to", call.To.Hex()),
		zap.Uint64("nonce", nonce))
	return hash, nil
}

// AwaitReceipt 等待交易回执, status=0 返回 ErrTransactionFailed
func (g *Gateway) AwaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.ReceiptTimeout)
	defer cancel()

	policy := retry.Policy{Interval: g.cfg.ReceiptPoll}
	receipt, err := retry.DoValue(ctx, policy, func(ctx context.Context) (*types.Receipt, error) {
		return g.backend.TransactionReceipt(ctx, hash)
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, bizerr.Wrap(bizerr.ErrTimeout, err).WithDetail("tx_hash", hash.Hex())
		}
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, bizerr.ErrTransactionFailed.WithDetail("tx_hash", hash.Hex())
	}
	return receipt, nil
}

// MaxBet 当前最大下注额
func (g *Gateway) MaxBet(ctx context.Context) (*big.Int, error) {
	return g.dice.GetMaxBet(ctx)
}

// TokenSymbol 下注代币符号, 原生币返回 ETH
func (g *Gateway) TokenSymbol(ctx context.Context) (string, error) {
	if g.token == nil {
		return "ETH", nil
	}
	return g.symbols.GetOrLoad(ctx, g.token.Address(), g.token.Symbol)
}

// EnsureAllowance 授权额度不足时发送 approve 并等待确认
func (g *Gateway) EnsureAllowance(ctx context.Context, wallet Wallet, spender common.Address, amount *big.Int) error {
	if g.token == nil {
		return nil
	}
	allowance, err := g.token.Allowance(ctx, wallet.Address(), spender)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) >= 0 {
		return nil
	}
	data, err := g.token.PackApprove(spender, amount)
	if err != nil {
		return err
	}
	hash, err := g.Submit(ctx, wallet, Call{To: g.token.Address(), Data: data, Kind: contract.CallApprove})
	if err != nil {
		return err
	}
	_, err = g.AwaitReceipt(ctx, hash)
	return err
}

// CheckStake 校验金额与赔率, 并对照 getMaxBet
func (g *Gateway) CheckStake(ctx context.Context, amount *big.Int, targetOdds uint64) error {
	if amount == nil || amount.Sign() <= 0 || amount.BitLen() > 128 {
		return bizerr.ErrInvalidAmount
	}
	if targetOdds == 0 || targetOdds >= 1e18 {
		return bizerr.ErrInvalidOdds
	}
	maxBet, err := g.dice.GetMaxBet(ctx)
	if err != nil {
		logger.Warn("max bet unavailable, skipping check", zap.Error(err))
		return nil
	}
	if maxBet.Sign() > 0 && amount.Cmp(maxBet) > 0 {
		return bizerr.ErrAboveMaxBet.WithDetail("max_bet", maxBet.String())
	}
	return nil
}

// SubmitPlaceBet 钱包签名下注, 返回交易哈希
func (g *Gateway) SubmitPlaceBet(ctx context.Context, wallet Wallet, amount *big.Int, targetOdds uint64) (common.Hash, error) {
	if wallet == nil {
		return common.Hash{}, bizerr.ErrNoWallet
	}
	if err := g.CheckStake(ctx, amount, targetOdds); err != nil {
		return common.Hash{}, err
	}

	call := Call{To: g.dice.Address(), Kind: contract.CallPlaceBet}
	var err error
	if g.token == nil {
		call.Data, err = g.dice.PackPlaceBetWithETH(targetOdds)
		call.Value = amount
	} else {
		if err := g.EnsureAllowance(ctx, wallet, g.dice.Address(), amount); err != nil {
			return common.Hash{}, err
		}
		call.Data, err = g.dice.PackPlaceBet(amount, targetOdds)
	}
	if err != nil {
		return common.Hash{}, bizerr.Wrap(bizerr.ErrInvalidRequest, err)
	}
	return g.Submit(ctx, wallet, call)
}

// ConfirmPlacement 等待下注回执并从日志中取出 betId
func (g *Gateway) ConfirmPlacement(ctx context.Context, hash common.Hash) (*Placement, error) {
	receipt, err := g.AwaitReceipt(ctx, hash)
	if err != nil {
		return nil, err
	}
	betID, ok := g.dice.FindBetID(receipt.Logs)
	if !ok {
		return nil, bizerr.Wrap(bizerr.ErrBetNotFound, errNoBetLog).WithDetail("tx_hash", hash.Hex())
	}
	return &Placement{BetID: betID, TxHash: hash, Receipt: receipt}, nil
}

// PlaceBetWallet 钱包签名下注并等待确认
func (g *Gateway) PlaceBetWallet(ctx context.Context, wallet Wallet, amount *big.Int, targetOdds uint64) (*Placement, error) {
	hash, err := g.SubmitPlaceBet(ctx, wallet, amount, targetOdds)
	if err != nil {
		return nil, err
	}
	return g.ConfirmPlacement(ctx, hash)
}

// ClaimWallet 钱包签名开奖并等待确认
func (g *Gateway) ClaimWallet(ctx context.Context, wallet Wallet, betID *big.Int) (*types.Receipt, error) {
	data, err := g.dice.PackClaim(betID)
	if err != nil {
		return nil, err
	}
	hash, err := g.Submit(ctx, wallet, Call{To: g.dice.Address(), Data: data, Kind: contract.CallClaim})
	if err != nil {
		return nil, err
	}
	return g.AwaitReceipt(ctx, hash)
}

// IsRevert 判断错误是否为指定的合约自定义错误
func (g *Gateway) IsRevert(err error, name string) bool {
	return contract.IsRevert(err, name, g.dice.ABI())
}

// classify 将底层错误映射为业务错误
func (g *Gateway) classify(err error) error {
	if err == nil {
		return nil
	}
	if IsUserRejected(err) {
		return bizerr.Wrap(bizerr.ErrUserRejected, err)
	}
	if rev, ok := contract.DecodeRevert(err, g.dice.ABI()); ok {
		return bizerr.Wrap(bizerr.ErrContractRevert, err).
			WithMessage("transaction reverted: " + rev.String()).
			WithDetail("reason", rev.Name)
	}
	if isExecutionError(err) {
		return bizerr.Wrap(bizerr.ErrContractRevert, err)
	}
	var be *bizerr.Error
	if errors.As(err, &be) {
		return err
	}
	return bizerr.Wrap(bizerr.ErrTransactionFailed, err)
}

// isExecutionError 合约执行错误 (重试无意义)
func isExecutionError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "revert")
}
