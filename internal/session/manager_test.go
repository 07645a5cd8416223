package session

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trifle-labs/clawdice-frontend-sub000/internal/blockchain"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/contract"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/model"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/relay"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/storage"
	bizerr "github.com/trifle-labs/clawdice-frontend-sub000/pkg/errors"
	"github.com/trifle-labs/clawdice-frontend-sub000/test/mock"
)

var ether = big.NewInt(1e18)

func tokens(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), ether) }

type fixture struct {
	chain   *mock.Chain
	gateway *blockchain.Gateway
	relay   *relay.Client
	store   *storage.MemoryStore
	wallet  *blockchain.LocalWallet
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	chain := mock.NewChain()
	bundler := mock.NewBundler(chain)
	rpcClient := bundler.Dial()
	t.Cleanup(rpcClient.Close)

	dice, err := contract.NewDiceContract(mock.DiceAddress, chain)
	require.NoError(t, err)
	gateway := blockchain.NewGateway(chain, dice, nil, nil, nil, blockchain.GatewayConfig{
		ChainID:        big.NewInt(mock.ChainID),
		ReceiptPoll:    time.Millisecond,
		ReceiptTimeout: time.Second,
	})
	accounts, err := contract.NewAccountContracts(mock.FactoryAddress, mock.EntryPointAddress, chain)
	require.NoError(t, err)
	store := storage.NewMemoryStore()
	relayClient := relay.NewClient(rpcClient, nil, accounts, relay.NewIdentity(store), contract.NewGasEstimator(nil, chain), relay.Config{
		ChainID:     big.NewInt(mock.ChainID),
		ReceiptPoll: time.Millisecond,
	})

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &fixture{
		chain:   chain,
		gateway: gateway,
		relay:   relayClient,
		store:   store,
		wallet:  blockchain.NewLocalWalletFromKey(key),
	}
}

func (f *fixture) manager(t *testing.T, verifyDelay time.Duration) *Manager {
	t.Helper()
	m := NewManager(f.gateway, f.relay, f.store, Config{VerifyDelay: verifyDelay})
	t.Cleanup(m.Close)
	return m
}

type rejectingSigner struct{ *blockchain.LocalWallet }

func (rejectingSigner) SignTypedData(context.Context, apitypes.TypedData) ([]byte, error) {
	return nil, errors.New("User rejected the request.")
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.manager(t, time.Hour)

	var seen []model.SessionStatus
	m.OnChange(func(s model.SessionStatus) { seen = append(seen, s) })

	grant, err := m.Create(ctx, f.wallet, time.Hour, tokens(10))
	require.NoError(t, err)
	assert.Equal(t, f.wallet.Address(), grant.Player)
	assert.Equal(t, tokens(10), grant.MaxBetAmount)
	assert.Equal(t, int64(0), grant.Nonce.Int64())
	assert.True(t, m.IsActive())
	assert.Equal(t, []model.SessionStatus{model.SessionCreating, model.SessionActive}, seen)

	info := f.chain.Session(f.wallet.Address(), grant.Delegate)
	require.NotNil(t, info)
	assert.True(t, info.Active)

	snap := f.store.Snapshot()
	for _, k := range storage.SessionKeys {
		assert.NotEmpty(t, snap[k], k)
	}
	assert.Equal(t, grant.Delegate.Hex(), snap[storage.KeySessionDelegate])
	assert.Equal(t, f.wallet.Address().Hex(), snap[storage.KeySessionOwner])
}

func TestCreate_NothingPersistedOnFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("user rejects signature", func(t *testing.T) {
		f := newFixture(t)
		m := f.manager(t, time.Hour)

		_, err := m.Create(ctx, rejectingSigner{f.wallet}, time.Hour, tokens(10))
		assert.ErrorIs(t, err, bizerr.ErrUserRejected)
		assert.Equal(t, model.SessionNone, m.Status())
		assert.Empty(t, f.chain.Sent())
		for _, k := range storage.SessionKeys {
			assert.NotContains(t, f.store.Snapshot(), k)
		}
	})

	t.Run("transaction fails", func(t *testing.T) {
		f := newFixture(t)
		m := f.manager(t, time.Hour)
		f.chain.FailSends(errors.New("replacement transaction underpriced"), false)

		_, err := m.Create(ctx, f.wallet, time.Hour, tokens(10))
		assert.Error(t, err)
		assert.False(t, m.IsActive())
		for _, k := range storage.SessionKeys {
			assert.NotContains(t, f.store.Snapshot(), k)
		}
	})

	t.Run("invalid cap", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.manager(t, time.Hour).Create(ctx, f.wallet, time.Hour, new(big.Int))
		assert.ErrorIs(t, err, bizerr.ErrInvalidAmount)
	})

	t.Run("no wallet", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.manager(t, time.Hour).Create(ctx, nil, time.Hour, tokens(1))
		assert.ErrorIs(t, err, bizerr.ErrNoWallet)
	})
}

func TestRestore(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip with matching owner", func(t *testing.T) {
		f := newFixture(t)
		grant, err := f.manager(t, time.Hour).Create(ctx, f.wallet, time.Hour, tokens(10))
		require.NoError(t, err)

		reloaded := f.manager(t, time.Hour)
		ok, err := reloaded.Restore(ctx, f.wallet.Address())
		require.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, reloaded.IsActive())
		assert.Equal(t, grant.Delegate, reloaded.Grant().Delegate)
	})

	t.Run("different account clears storage", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.manager(t, time.Hour).Create(ctx, f.wallet, time.Hour, tokens(10))
		require.NoError(t, err)

		reloaded := f.manager(t, time.Hour)
		ok, err := reloaded.Restore(ctx, common.HexToAddress("0xb0b"))
		require.NoError(t, err)
		assert.False(t, ok)
		assert.False(t, reloaded.IsActive())
		assert.Empty(t, f.store.Snapshot()[storage.KeySessionKey])

		// 原账户也无法再恢复
		ok, _ = reloaded.Restore(ctx, f.wallet.Address())
		assert.False(t, ok)
	})

	t.Run("owner compare ignores case", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.manager(t, time.Hour).Create(ctx, f.wallet, time.Hour, tokens(10))
		require.NoError(t, err)
		lower := f.store.Snapshot()[storage.KeySessionOwner]
		require.NoError(t, f.store.Set(ctx, storage.KeySessionOwner, lowerHex(lower)))

		ok, err := f.manager(t, time.Hour).Restore(ctx, f.wallet.Address())
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("expired session is discarded", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.manager(t, time.Hour).Create(ctx, f.wallet, time.Hour, tokens(10))
		require.NoError(t, err)

		reloaded := f.manager(t, time.Hour)
		reloaded.SetClock(func() time.Time { return time.Now().Add(2 * time.Hour) })
		ok, err := reloaded.Restore(ctx, f.wallet.Address())
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, f.store.Snapshot()[storage.KeySessionDelegate])
	})

	t.Run("partial storage is discarded", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.store.Set(ctx, storage.KeySessionOwner, f.wallet.Address().Hex()))

		ok, err := f.manager(t, time.Hour).Restore(ctx, f.wallet.Address())
		require.NoError(t, err)
		assert.False(t, ok)
		assert.NotContains(t, f.store.Snapshot(), storage.KeySessionOwner)
	})
}

func lowerHex(s string) string {
	out := []byte(s)
	for i, c := range out {
		if c >= 'A' && c <= 'F' {
			out[i] = c + ('a' - 'A')
		}
	}
	return string(out)
}

func TestVerify(t *testing.T) {
	ctx := context.Background()

	t.Run("restore schedules chain check", func(t *testing.T) {
		f := newFixture(t)
		grant, err := f.manager(t, time.Hour).Create(ctx, f.wallet, time.Hour, tokens(10))
		require.NoError(t, err)
		f.chain.SetSession(f.wallet.Address(), grant.Delegate, contract.SessionInfo{MaxBetAmount: tokens(10), ExpiresAt: uint64(grant.ExpiresAt.Unix())})

		reloaded := f.manager(t, 10*time.Millisecond)
		ok, err := reloaded.Restore(ctx, f.wallet.Address())
		require.NoError(t, err)
		require.True(t, ok)

		assert.Eventually(t, func() bool {
			return reloaded.Status() == model.SessionInvalidated
		}, time.Second, 5*time.Millisecond)
		assert.Empty(t, f.store.Snapshot()[storage.KeySessionKey])
	})

	t.Run("no re-check right after creation", func(t *testing.T) {
		f := newFixture(t)
		m := f.manager(t, time.Millisecond)
		_, err := m.Create(ctx, f.wallet, time.Hour, tokens(10))
		require.NoError(t, err)

		ok, err := m.Restore(ctx, f.wallet.Address())
		require.NoError(t, err)
		require.True(t, ok)
		m.mu.Lock()
		assert.Nil(t, m.verifyTimer)
		m.mu.Unlock()
	})

	t.Run("valid session refreshes cap from chain", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.manager(t, time.Hour).Create(ctx, f.wallet, time.Hour, tokens(10))
		require.NoError(t, err)

		reloaded := f.manager(t, time.Hour)
		_, err = reloaded.Restore(ctx, f.wallet.Address())
		require.NoError(t, err)
		assert.Equal(t, 0, reloaded.Grant().MaxBetAmount.Sign())

		ok, err := reloaded.Verify(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, tokens(10), reloaded.Grant().MaxBetAmount)
	})

	t.Run("no session", func(t *testing.T) {
		f := newFixture(t)
		ok, err := f.manager(t, time.Hour).Verify(ctx)
		assert.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestPlaceBet(t *testing.T) {
	ctx := context.Background()

	t.Run("bet attributed to player", func(t *testing.T) {
		f := newFixture(t)
		m := f.manager(t, time.Hour)
		_, err := m.Create(ctx, f.wallet, time.Hour, tokens(10))
		require.NoError(t, err)
		sent := len(f.chain.Sent())

		hash, err := m.PlaceBet(ctx, tokens(1), 5e17)
		require.NoError(t, err)
		receipt, err := f.chain.TransactionReceipt(ctx, hash)
		require.NoError(t, err)
		betID, ok := f.gateway.Dice().FindBetID(receipt.Logs)
		require.True(t, ok)
		assert.Equal(t, f.wallet.Address(), f.chain.Bet(betID.Int64()).Player)
		assert.Len(t, f.chain.Sent(), sent, "no wallet transaction")
	})

	t.Run("above session cap", func(t *testing.T) {
		f := newFixture(t)
		m := f.manager(t, time.Hour)
		_, err := m.Create(ctx, f.wallet, time.Hour, tokens(10))
		require.NoError(t, err)

		_, err = m.PlaceBet(ctx, tokens(11), 5e17)
		assert.ErrorIs(t, err, bizerr.ErrAboveMaxBet)
	})

	t.Run("no session", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.manager(t, time.Hour).PlaceBet(ctx, tokens(1), 5e17)
		assert.ErrorIs(t, err, bizerr.ErrSessionNotActive)
	})

	t.Run("delegate drift aborts", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.manager(t, time.Hour).Create(ctx, f.wallet, time.Hour, tokens(10))
		require.NoError(t, err)
		require.NoError(t, f.store.Set(ctx, storage.KeySessionDelegate, common.HexToAddress("0xdead").Hex()))

		reloaded := f.manager(t, time.Hour)
		ok, err := reloaded.Restore(ctx, f.wallet.Address())
		require.NoError(t, err)
		require.True(t, ok)

		_, err = reloaded.PlaceBet(ctx, tokens(1), 5e17)
		assert.ErrorIs(t, err, bizerr.ErrDelegateMismatch)
	})

	t.Run("chain invalidation clears local state", func(t *testing.T) {
		f := newFixture(t)
		m := f.manager(t, time.Hour)
		grant, err := m.Create(ctx, f.wallet, time.Hour, tokens(10))
		require.NoError(t, err)
		f.chain.SetSession(f.wallet.Address(), grant.Delegate, contract.SessionInfo{MaxBetAmount: tokens(10)})

		_, err = m.PlaceBet(ctx, tokens(1), 5e17)
		assert.ErrorIs(t, err, bizerr.ErrSessionInvalid)
		assert.Equal(t, model.SessionInvalidated, m.Status())
		assert.Empty(t, f.store.Snapshot()[storage.KeySessionKey])
	})

	t.Run("expired locally", func(t *testing.T) {
		f := newFixture(t)
		m := f.manager(t, time.Hour)
		_, err := m.Create(ctx, f.wallet, time.Hour, tokens(10))
		require.NoError(t, err)
		m.SetClock(func() time.Time { return time.Now().Add(2 * time.Hour) })

		_, err = m.PlaceBet(ctx, tokens(1), 5e17)
		assert.ErrorIs(t, err, bizerr.ErrSessionNotActive)
		assert.Equal(t, model.SessionExpired, m.Status())
	})
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()

	t.Run("revokes on chain and clears", func(t *testing.T) {
		f := newFixture(t)
		m := f.manager(t, time.Hour)
		grant, err := m.Create(ctx, f.wallet, time.Hour, tokens(10))
		require.NoError(t, err)

		require.NoError(t, m.Revoke(ctx, f.wallet))
		assert.False(t, f.chain.Session(f.wallet.Address(), grant.Delegate).Active)
		assert.Equal(t, model.SessionRevoked, m.Status())
		assert.Empty(t, f.store.Snapshot()[storage.KeySessionKey])
	})

	t.Run("clears even when the transaction fails", func(t *testing.T) {
		f := newFixture(t)
		m := f.manager(t, time.Hour)
		grant, err := m.Create(ctx, f.wallet, time.Hour, tokens(10))
		require.NoError(t, err)
		f.chain.FailSends(errors.New("nonce too low"), false)

		err = m.Revoke(ctx, f.wallet)
		assert.Error(t, err)
		assert.True(t, f.chain.Session(f.wallet.Address(), grant.Delegate).Active)
		assert.False(t, m.IsActive())
		assert.Empty(t, f.store.Snapshot()[storage.KeySessionKey])
	})

	t.Run("nothing to revoke", func(t *testing.T) {
		f := newFixture(t)
		assert.NoError(t, f.manager(t, time.Hour).Revoke(ctx, f.wallet))
	})
}

func TestSkipWalletPopup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.manager(t, time.Hour)

	assert.False(t, m.SkipWalletPopup(ctx))
	require.NoError(t, m.SetSkipWalletPopup(ctx, true))
	assert.True(t, m.SkipWalletPopup(ctx))
}
