package blockchain

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeNode 进程内 eth 服务
type fakeNode struct {
	chainID    int64
	head       uint64
	failBlocks atomic.Int32
	calls      atomic.Int32
}

func (n *fakeNode) ChainId() *hexutil.Big {
	return (*hexutil.Big)(big.NewInt(n.chainID))
}

func (n *fakeNode) BlockNumber() (hexutil.Uint64, error) {
	n.calls.Add(1)
	if n.failBlocks.Load() > 0 {
		n.failBlocks.Add(-1)
		return 0, errors.New("upstream unavailable")
	}
	return hexutil.Uint64(n.head), nil
}

func (n *fakeNode) GetTransactionReceipt(common.Hash) (map[string]interface{}, error) {
	return nil, nil
}

func (n *fakeNode) GetTransactionByHash(common.Hash) (map[string]interface{}, error) {
	return nil, nil
}

func inProcDialer(t *testing.T, nodes map[string]*fakeNode) DialFunc {
	t.Helper()
	return func(_ context.Context, url string) (*ethclient.Client, error) {
		node, ok := nodes[url]
		if !ok {
			return nil, errors.New("dial " + url + ": connection refused")
		}
		srv := rpc.NewServer()
		if err := srv.RegisterName("eth", node); err != nil {
			return nil, err
		}
		t.Cleanup(srv.Stop)
		return ethclient.NewClient(rpc.DialInProc(srv)), nil
	}
}

// TestClientConfig_Validation 测试客户端配置验证
func TestClientConfig_Validation(t *testing.T) {
	t.Run("empty RPC URLs", func(t *testing.T) {
		_, err := NewClient(context.Background(), &ClientConfig{ChainID: 8453})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "at least one RPC URL is required")
	})

	t.Run("chain id mismatch", func(t *testing.T) {
		nodes := map[string]*fakeNode{"a": {chainID: 1}}
		_, err := NewClient(context.Background(), &ClientConfig{
			ChainID: 8453,
			RPCURLs: []string{"a"},
			Dial:    inProcDialer(t, nodes),
		})
		assert.ErrorIs(t, err, ErrNoHealthyRPC)
	})

	t.Run("skips unreachable endpoint", func(t *testing.T) {
		nodes := map[string]*fakeNode{"b": {chainID: 8453, head: 7}}
		c, err := NewClient(context.Background(), &ClientConfig{
			ChainID: 8453,
			RPCURLs: []string{"down", "b"},
			Dial:    inProcDialer(t, nodes),
		})
		require.NoError(t, err)
		defer c.Close()

		eps := c.Endpoints()
		assert.False(t, eps[0].IsHealthy)
		assert.Equal(t, 1, eps[0].ErrorCount)
		assert.True(t, eps[1].IsHealthy)
	})
}

// TestClient_ReadFailover 读失败时切换端点
func TestClient_ReadFailover(t *testing.T) {
	primary := &fakeNode{chainID: 8453, head: 100}
	backup := &fakeNode{chainID: 8453, head: 101}
	primary.failBlocks.Store(10)

	c, err := NewClient(context.Background(), &ClientConfig{
		ChainID:       8453,
		RPCURLs:       []string{"primary", "backup"},
		RetryInterval: time.Millisecond,
		Dial:          inProcDialer(t, map[string]*fakeNode{"primary": primary, "backup": backup}),
	})
	require.NoError(t, err)
	defer c.Close()

	head, err := c.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(101), head)

	eps := c.Endpoints()
	assert.False(t, eps[0].IsHealthy)
	assert.True(t, eps[1].IsHealthy)
}

// TestClient_ReadRetryExhausted 单端点持续失败
func TestClient_ReadRetryExhausted(t *testing.T) {
	node := &fakeNode{chainID: 8453}
	node.failBlocks.Store(100)

	c, err := NewClient(context.Background(), &ClientConfig{
		ChainID:       8453,
		RPCURLs:       []string{"only"},
		MaxRetries:    3,
		RetryInterval: time.Millisecond,
		Dial:          inProcDialer(t, map[string]*fakeNode{"only": node}),
	})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.BlockNumber(context.Background())
	assert.Error(t, err)
	assert.Equal(t, int32(3), node.calls.Load())
}

// TestClient_NotFoundIsNotRetried 未找到不重试
func TestClient_NotFoundIsNotRetried(t *testing.T) {
	node := &fakeNode{chainID: 8453}
	c, err := NewClient(context.Background(), &ClientConfig{
		ChainID:       8453,
		RPCURLs:       []string{"only"},
		RetryInterval: time.Millisecond,
		Dial:          inProcDialer(t, map[string]*fakeNode{"only": node}),
	})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.TransactionReceipt(context.Background(), common.HexToHash("0x01"))
	assert.ErrorIs(t, err, ErrTxNotFound)

	known, err := c.TransactionKnown(context.Background(), common.HexToHash("0x01"))
	require.NoError(t, err)
	assert.False(t, known)
	assert.True(t, c.Endpoints()[0].IsHealthy)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, isTransient(errors.New("connection reset by peer")))
	assert.False(t, isTransient(ErrTxNotFound))
	assert.False(t, isTransient(context.Canceled))
	assert.False(t, isTransient(errors.New("execution reverted: BetTooEarly")))
}
