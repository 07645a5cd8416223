package relay

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/trifle-labs/clawdice-frontend-sub000/internal/blockchain"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/contract"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/metrics"
	"github.com/trifle-labs/clawdice-frontend-sub000/pkg/circuitbreaker"
	"github.com/trifle-labs/clawdice-frontend-sub000/pkg/logger"
	"github.com/trifle-labs/clawdice-frontend-sub000/pkg/retry"
)

var (
	ErrInvalidSignature = errors.New("invalid user operation signature")
	ErrUserOpFailed     = errors.New("user operation execution failed")
	ErrReceiptTimeout   = errors.New("user operation receipt not available")
	// ErrOutcomeUnknown bundler 已接受用户操作, 但尚未确认是否打包
	ErrOutcomeUnknown   = errors.New("user operation submitted, outcome unknown")
	errReceiptPending   = errors.New("user operation receipt pending")
)

// SubmittedError 用户操作已发出但没有拿到回执, 调用方不能当作未发送重试
type SubmittedError struct {
	OpHash common.Hash
	Err    error
}

func (e *SubmittedError) Error() string {
	return "user operation " + e.OpHash.Hex() + " submitted, outcome unknown: " + e.Err.Error()
}

func (e *SubmittedError) Unwrap() []error { return []error{ErrOutcomeUnknown, e.Err} }

// FeeSource 提供 maxFeePerGas / maxPriorityFeePerGas
type FeeSource interface {
	Fees(ctx context.Context) (*contract.FeeData, error)
}

// Config 中继配置
type Config struct {
	ChainID        *big.Int
	ReceiptTimeout time.Duration
	ReceiptPoll    time.Duration
	Breaker        *circuitbreaker.Config
}

// Client 代付中继客户端
type Client struct {
	bundler   *rpc.Client
	paymaster *rpc.Client
	accounts  *contract.AccountContracts
	identity  *Identity
	fees      FeeSource
	breaker   *circuitbreaker.CircuitBreaker
	cfg       Config
}

// Dial 连接 bundler 与 paymaster, 两者 URL 相同时共用连接
func Dial(ctx context.Context, bundlerURL, paymasterURL string) (bundler, paymaster *rpc.Client, err error) {
	bundler, err = rpc.DialContext(ctx, bundlerURL)
	if err != nil {
		return nil, nil, err
	}
	if paymasterURL == "" || paymasterURL == bundlerURL {
		return bundler, bundler, nil
	}
	paymaster, err = rpc.DialContext(ctx, paymasterURL)
	if err != nil {
		bundler.Close()
		return nil, nil, err
	}
	return bundler, paymaster, nil
}

// NewClient 创建中继客户端
func NewClient(bundler, paymaster *rpc.Client, accounts *contract.AccountContracts, identity *Identity, fees FeeSource, cfg Config) *Client {
	if cfg.ChainID == nil {
		cfg.ChainID = big.NewInt(8453)
	}
	if cfg.ReceiptTimeout == 0 {
		cfg.ReceiptTimeout = 60 * time.Second
	}
	if cfg.ReceiptPoll == 0 {
		cfg.ReceiptPoll = 2 * time.Second
	}
	if paymaster == nil {
		paymaster = bundler
	}
	breaker := circuitbreaker.New("relay", cfg.Breaker)
	breaker.SetOnStateChange(func(name string, from, to circuitbreaker.State) {
		metrics.UpdateBreakerState(int(to))
		logger.Warn("relay breaker state changed",
			zap.String("breaker", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()))
	})
	return &Client{
		bundler:   bundler,
		paymaster: paymaster,
		accounts:  accounts,
		identity:  identity,
		fees:      fees,
		breaker:   breaker,
		cfg:       cfg,
	}
}

// Breaker 熔断器
func (c *Client) Breaker() *circuitbreaker.CircuitBreaker { return c.breaker }

// SponsoredSubmit 以中继身份代付提交, 任何失败都返回 ok=false
func (c *Client) SponsoredSubmit(ctx context.Context, call blockchain.Call) (common.Hash, bool) {
	if c == nil {
		return common.Hash{}, false
	}
	if err := c.breaker.Allow(); err != nil {
		metrics.RecordSponsored("short_circuit")
		return common.Hash{}, false
	}
	key, err := c.identity.Key(ctx)
	if err != nil {
		c.breaker.Failure()
		metrics.RecordSponsored("failed")
		logger.Warn("relay identity unavailable", zap.Error(err))
		return common.Hash{}, false
	}
	hash, err := c.SubmitAs(ctx, key, call)
	var submitted *SubmittedError
	if errors.As(err, &submitted) {
		hash, err = c.Resolve(ctx, submitted.OpHash)
	}
	if err != nil {
		c.breaker.Failure()
		metrics.RecordSponsored("failed")
		logger.Info("sponsored submission failed",
			zap.String("to", call.To.Hex()),
			zap.Error(err))
		return common.Hash{}, false
	}
	c.breaker.Success()
	metrics.RecordSponsored("ok")
	return hash, true
}

// OwnerAccount 中继身份的智能账户地址
func (c *Client) OwnerAccount(ctx context.Context) (common.Address, error) {
	key, err := c.identity.Key(ctx)
	if err != nil {
		return common.Address{}, err
	}
	return c.AccountAddress(ctx, key)
}

// AccountAddress 由私钥推导智能账户地址, 每次调用都重新计算
func (c *Client) AccountAddress(ctx context.Context, key *ecdsa.PrivateKey) (common.Address, error) {
	return c.accounts.AccountAddress(ctx, crypto.PubkeyToAddress(key.PublicKey))
}

// SubmitAs 以 key 控制的智能账户提交调用, 等待打包后返回交易哈希
//
// bundler 接受之后的等待失败返回 *SubmittedError (errors.Is ErrOutcomeUnknown)。
func (c *Client) SubmitAs(ctx context.Context, key *ecdsa.PrivateKey, call blockchain.Call) (common.Hash, error) {
	op, err := c.buildOperation(ctx, key, call)
	if err != nil {
		return common.Hash{}, err
	}

	var sponsor SponsorResult
	if err := c.paymaster.CallContext(ctx, &sponsor, "pm_sponsorUserOperation", op, c.accounts.EntryPoint()); err != nil {
		return common.Hash{}, err
	}
	op.PaymasterAndData = sponsor.PaymasterAndData
	op.CallGasLimit = sponsor.CallGasLimit
	op.VerificationGasLimit = sponsor.VerificationGasLimit
	op.PreVerificationGas = sponsor.PreVerificationGas

	if err := op.Sign(key, c.accounts.EntryPoint(), c.cfg.ChainID); err != nil {
		return common.Hash{}, err
	}

	var opHash common.Hash
	if err := c.bundler.CallContext(ctx, &opHash, "eth_sendUserOperation", op, c.accounts.EntryPoint()); err != nil {
		return common.Hash{}, err
	}
	logger.Debug("user operation sent",
		zap.String("user_op_hash", opHash.Hex()),
		zap.String("sender", op.Sender.Hex()))

	return c.Resolve(ctx, opHash)
}

// Resolve 继续等待已发出的用户操作, 再次超时仍返回 *SubmittedError
func (c *Client) Resolve(ctx context.Context, opHash common.Hash) (common.Hash, error) {
	receipt, err := c.waitReceipt(ctx, opHash)
	if err != nil {
		return common.Hash{}, &SubmittedError{OpHash: opHash, Err: err}
	}
	if !receipt.Success || receipt.Receipt == nil {
		if receipt.Reason != "" {
			return common.Hash{}, errors.Join(ErrUserOpFailed, errors.New(receipt.Reason))
		}
		return common.Hash{}, ErrUserOpFailed
	}
	return receipt.Receipt.TxHash, nil
}

func (c *Client) buildOperation(ctx context.Context, key *ecdsa.PrivateKey, call blockchain.Call) (*UserOperation, error) {
	owner := crypto.PubkeyToAddress(key.PublicKey)
	sender, err := c.accounts.AccountAddress(ctx, owner)
	if err != nil {
		return nil, err
	}
	nonce, err := c.accounts.Nonce(ctx, sender)
	if err != nil {
		return nil, err
	}
	callData, err := c.accounts.PackExecute(call.To, call.Value, call.Data)
	if err != nil {
		return nil, err
	}

	op := &UserOperation{
		Sender:               sender,
		Nonce:                (*hexutil.Big)(nonce),
		InitCode:             []byte{},
		CallData:             callData,
		CallGasLimit:         (*hexutil.Big)(new(big.Int)),
		VerificationGasLimit: (*hexutil.Big)(new(big.Int)),
		PreVerificationGas:   (*hexutil.Big)(new(big.Int)),
		PaymasterAndData:     []byte{},
		Signature:            dummySignature,
	}
	// 账户首次使用时 nonce 为 0, 需要附带部署代码
	if nonce.Sign() == 0 {
		if op.InitCode, err = c.accounts.InitCode(owner); err != nil {
			return nil, err
		}
	}

	fees, err := c.fees.Fees(ctx)
	if err != nil {
		return nil, err
	}
	if fees.IsDynamic() {
		op.MaxFeePerGas = (*hexutil.Big)(fees.GasFeeCap)
		op.MaxPriorityFeePerGas = (*hexutil.Big)(fees.GasTipCap)
	} else {
		op.MaxFeePerGas = (*hexutil.Big)(fees.GasPrice)
		op.MaxPriorityFeePerGas = (*hexutil.Big)(fees.GasPrice)
	}
	return op, nil
}

func (c *Client) waitReceipt(ctx context.Context, opHash common.Hash) (*Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ReceiptTimeout)
	defer cancel()

	policy := retry.Policy{Interval: c.cfg.ReceiptPoll}
	receipt, err := retry.DoValue(ctx, policy, func(ctx context.Context) (*Receipt, error) {
		var r *Receipt
		if err := c.bundler.CallContext(ctx, &r, "eth_getUserOperationReceipt", opHash); err != nil {
			return nil, err
		}
		if r == nil {
			return nil, errReceiptPending
		}
		return r, nil
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, ErrReceiptTimeout
	}
	return receipt, err
}
