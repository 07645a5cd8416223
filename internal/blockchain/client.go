package blockchain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/trifle-labs/clawdice-frontend-sub000/pkg/logger"
	"github.com/trifle-labs/clawdice-frontend-sub000/pkg/retry"
)

var (
	ErrNoHealthyRPC = errors.New("no healthy RPC endpoint available")
	ErrTxNotFound   = errors.New("transaction not found")
)

// RPCEndpoint RPC 端点信息
type RPCEndpoint struct {
	URL        string
	IsHealthy  bool
	ErrorCount int
	LastCheck  time.Time
}

// DialFunc 建立 ethclient 连接, 测试中替换为进程内 RPC
type DialFunc func(ctx context.Context, url string) (*ethclient.Client, error)

// ClientConfig 客户端配置
type ClientConfig struct {
	ChainID         int64
	RPCURLs         []string
	MaxRetries      int
	RetryInterval   time.Duration
	HealthCheckFreq time.Duration
	Dial            DialFunc
}

// Client 多端点区块链客户端
//
// 读操作按 MaxRetries 重试并在失败时切换端点; 写操作 (SendTransaction) 不重试。
type Client struct {
	chainID *big.Int

	mu         sync.RWMutex
	endpoints  []*RPCEndpoint
	currentIdx int
	client     *ethclient.Client

	dial            DialFunc
	policy          retry.Policy
	healthCheckFreq time.Duration
}

// NewClient 创建区块链客户端并连接第一个可用端点
func NewClient(ctx context.Context, cfg *ClientConfig) (*Client, error) {
	if len(cfg.RPCURLs) == 0 {
		return nil, errors.New("at least one RPC URL is required")
	}

	endpoints := make([]*RPCEndpoint, len(cfg.RPCURLs))
	for i, url := range cfg.RPCURLs {
		endpoints[i] = &RPCEndpoint{URL: url, IsHealthy: true}
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	retryInterval := cfg.RetryInterval
	if retryInterval == 0 {
		retryInterval = time.Second
	}
	healthCheckFreq := cfg.HealthCheckFreq
	if healthCheckFreq == 0 {
		healthCheckFreq = 30 * time.Second
	}
	dial := cfg.Dial
	if dial == nil {
		dial = ethclient.DialContext
	}

	c := &Client{
		chainID:         big.NewInt(cfg.ChainID),
		endpoints:       endpoints,
		dial:            dial,
		healthCheckFreq: healthCheckFreq,
	}
	c.policy = retry.Constant(maxRetries, retryInterval).
		WithRetryable(isTransient).
		WithNotify(c.onReadFailure)

	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// connect 依次尝试端点, 校验链 ID
func (c *Client) connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.endpoints {
		idx := (c.currentIdx + i) % len(c.endpoints)
		ep := c.endpoints[idx]
		if !ep.IsHealthy && time.Since(ep.LastCheck) < c.healthCheckFreq {
			continue
		}

		client, err := c.dial(ctx, ep.URL)
		if err == nil {
			var id *big.Int
			id, err = client.ChainID(ctx)
			if err == nil && c.chainID.Sign() != 0 && id.Cmp(c.chainID) != 0 {
				err = errors.New("chain id mismatch: got " + id.String() + ", want " + c.chainID.String())
			}
			if err != nil {
				client.Close()
			}
		}
		ep.LastCheck = time.Now()
		if err != nil {
			ep.IsHealthy = false
			ep.ErrorCount++
			logger.Warn("rpc endpoint unavailable", zap.String("url", ep.URL), zap.Error(err))
			continue
		}

		if c.client != nil {
			c.client.Close()
		}
		c.client = client
		c.currentIdx = idx
		ep.IsHealthy = true
		ep.ErrorCount = 0
		return nil
	}
	return ErrNoHealthyRPC
}

func (c *Client) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()
	if client != nil {
		return client, nil
	}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client, nil
}

// onReadFailure 标记当前端点不健康并切换
func (c *Client) onReadFailure(attempt int, err error, _ time.Duration) {
	c.mu.Lock()
	ep := c.endpoints[c.currentIdx]
	ep.IsHealthy = false
	ep.ErrorCount++
	ep.LastCheck = time.Now()
	url := ep.URL
	if len(c.endpoints) > 1 {
		c.currentIdx = (c.currentIdx + 1) % len(c.endpoints)
		if c.client != nil {
			c.client.Close()
			c.client = nil
		}
	}
	c.mu.Unlock()
	logger.Debug("rpc read failed, retrying",
		zap.String("url", url),
		zap.Int("attempt", attempt),
		zap.Error(err))
}

// isTransient 结果性错误 (未找到、执行回滚) 不重试
func isTransient(err error) bool {
	if errors.Is(err, ErrTxNotFound) || errors.Is(err, ethereum.NotFound) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !isExecutionError(err)
}

func withRead[T any](ctx context.Context, c *Client, fn func(*ethclient.Client) (T, error)) (T, error) {
	return retry.DoValue(ctx, c.policy, func(ctx context.Context) (T, error) {
		client, err := c.getClient(ctx)
		if err != nil {
			var zero T
			return zero, err
		}
		return fn(client)
	})
}

// ChainID 返回链 ID
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// BlockNumber 获取最新区块号
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return withRead(ctx, c, func(client *ethclient.Client) (uint64, error) {
		return client.BlockNumber(ctx)
	})
}

// HeaderByNumber 获取区块头, number 为 nil 时取最新
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return withRead(ctx, c, func(client *ethclient.Client) (*types.Header, error) {
		return client.HeaderByNumber(ctx, number)
	})
}

// TransactionReceipt 获取交易回执, 未上链返回 ErrTxNotFound
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return withRead(ctx, c, func(client *ethclient.Client) (*types.Receipt, error) {
		receipt, err := client.TransactionReceipt(ctx, txHash)
		if errors.Is(err, ethereum.NotFound) {
			return nil, ErrTxNotFound
		}
		return receipt, err
	})
}

// TransactionKnown 节点是否知道该交易 (已打包或在交易池)
func (c *Client) TransactionKnown(ctx context.Context, txHash common.Hash) (bool, error) {
	return withRead(ctx, c, func(client *ethclient.Client) (bool, error) {
		_, _, err := client.TransactionByHash(ctx, txHash)
		if errors.Is(err, ethereum.NotFound) {
			return false, nil
		}
		return err == nil, err
	})
}

// PendingNonceAt 获取待处理 Nonce
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return withRead(ctx, c, func(client *ethclient.Client) (uint64, error) {
		return client.PendingNonceAt(ctx, account)
	})
}

// SuggestGasPrice 获取建议 Gas 价格
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return withRead(ctx, c, func(client *ethclient.Client) (*big.Int, error) {
		return client.SuggestGasPrice(ctx)
	})
}

// SuggestGasTipCap 获取建议 Gas Tip (EIP-1559)
func (c *Client) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return withRead(ctx, c, func(client *ethclient.Client) (*big.Int, error) {
		return client.SuggestGasTipCap(ctx)
	})
}

// EstimateGas 估算 Gas
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return withRead(ctx, c, func(client *ethclient.Client) (uint64, error) {
		return client.EstimateGas(ctx, msg)
	})
}

// CallContract 调用合约
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return withRead(ctx, c, func(client *ethclient.Client) ([]byte, error) {
		return client.CallContract(ctx, msg, blockNumber)
	})
}

// FilterLogs 过滤日志
func (c *Client) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	return withRead(ctx, c, func(client *ethclient.Client) ([]types.Log, error) {
		return client.FilterLogs(ctx, query)
	})
}

// BalanceAt 获取余额
func (c *Client) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return withRead(ctx, c, func(client *ethclient.Client) (*big.Int, error) {
		return client.BalanceAt(ctx, account, blockNumber)
	})
}

// SendTransaction 发送已签名交易, 只尝试一次
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	client, err := c.getClient(ctx)
	if err != nil {
		return err
	}
	return client.SendTransaction(ctx, tx)
}

// Close 关闭客户端
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
}

// HealthCheck 健康检查
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.BlockNumber(ctx)
	return err
}

// Endpoints 返回端点状态快照
func (c *Client) Endpoints() []RPCEndpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]RPCEndpoint, len(c.endpoints))
	for i, ep := range c.endpoints {
		out[i] = *ep
	}
	return out
}
