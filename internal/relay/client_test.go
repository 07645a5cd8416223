package relay

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trifle-labs/clawdice-frontend-sub000/internal/blockchain"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/contract"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/storage"
	"github.com/trifle-labs/clawdice-frontend-sub000/pkg/circuitbreaker"
	"github.com/trifle-labs/clawdice-frontend-sub000/test/mock"
)

type relayFixture struct {
	chain   *mock.Chain
	bundler *mock.Bundler
	dice    *contract.DiceContract
	store   *storage.MemoryStore
	client  *Client
}

func newRelayFixture(t *testing.T) *relayFixture {
	t.Helper()
	chain := mock.NewChain()
	bundler := mock.NewBundler(chain)
	rpcClient := bundler.Dial()
	t.Cleanup(rpcClient.Close)

	accounts, err := contract.NewAccountContracts(mock.FactoryAddress, mock.EntryPointAddress, chain)
	require.NoError(t, err)
	dice, err := contract.NewDiceContract(mock.DiceAddress, chain)
	require.NoError(t, err)
	store := storage.NewMemoryStore()

	client := NewClient(rpcClient, nil, accounts, NewIdentity(store), contract.NewGasEstimator(nil, chain), Config{
		ChainID:        big.NewInt(mock.ChainID),
		ReceiptTimeout: time.Second,
		ReceiptPoll:    time.Millisecond,
		Breaker:        &circuitbreaker.Config{FailureThreshold: 2, OpenTimeout: time.Hour},
	})
	return &relayFixture{chain: chain, bundler: bundler, dice: dice, store: store, client: client}
}

func (f *relayFixture) claimCall(t *testing.T, betID *big.Int) blockchain.Call {
	t.Helper()
	data, err := f.dice.PackClaim(betID)
	require.NoError(t, err)
	return blockchain.Call{To: mock.DiceAddress, Data: data, Kind: contract.CallClaim}
}

func TestSponsoredSubmit_Claim(t *testing.T) {
	ctx := context.Background()
	f := newRelayFixture(t)
	player := common.HexToAddress("0xa11ce")
	f.chain.RigNext(true)
	betID := f.chain.PlaceBetFor(player, big.NewInt(1e18), 5e17)
	f.chain.Mine(2)

	hash, ok := f.client.SponsoredSubmit(ctx, f.claimCall(t, betID))
	require.True(t, ok)
	assert.NotEqual(t, common.Hash{}, hash)
	assert.True(t, f.chain.Bet(betID.Int64()).Claimed)

	ops := f.bundler.Ops()
	require.Len(t, ops, 1)
	assert.NotEmpty(t, ops[0].InitCode, "first operation deploys the account")
	assert.NotEmpty(t, ops[0].PaymasterAndData)

	owner, err := f.client.OwnerAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, owner, ops[0].Sender)

	// 第二次使用已部署的账户
	betID2 := f.chain.PlaceBetFor(player, big.NewInt(1e18), 5e17)
	f.chain.Mine(2)
	_, ok = f.client.SponsoredSubmit(ctx, f.claimCall(t, betID2))
	require.True(t, ok)
	ops = f.bundler.Ops()
	require.Len(t, ops, 2)
	assert.Empty(t, ops[1].InitCode)
	assert.Equal(t, int64(1), ops[1].Nonce.ToInt().Int64())
}

func TestSponsoredSubmit_IdentityPersists(t *testing.T) {
	ctx := context.Background()
	f := newRelayFixture(t)

	owner, err := f.client.OwnerAccount(ctx)
	require.NoError(t, err)
	stored := f.store.Snapshot()[storage.KeyRelayIdentity]
	require.NotEmpty(t, stored)

	again := NewIdentity(f.store)
	key, err := again.Key(ctx)
	require.NoError(t, err)
	addr, err := f.client.AccountAddress(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, owner, addr)
}

func TestIdentity_CorruptKeyReplaced(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.Set(ctx, storage.KeyRelayIdentity, "zz-not-hex"))

	key, err := NewIdentity(store).Key(ctx)
	require.NoError(t, err)
	assert.NotNil(t, key)
	assert.NotEqual(t, "zz-not-hex", store.Snapshot()[storage.KeyRelayIdentity])
}

func TestSponsoredSubmit_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("paymaster declines", func(t *testing.T) {
		f := newRelayFixture(t)
		f.bundler.FailSponsorship(errors.New("sponsorship policy rejected"))
		betID := f.chain.PlaceBetFor(common.HexToAddress("0xa11ce"), big.NewInt(1e18), 5e17)
		f.chain.Mine(2)

		_, ok := f.client.SponsoredSubmit(ctx, f.claimCall(t, betID))
		assert.False(t, ok)
		assert.False(t, f.chain.Bet(betID.Int64()).Claimed)
	})

	t.Run("execution reverts", func(t *testing.T) {
		f := newRelayFixture(t)
		betID := f.chain.PlaceBetFor(common.HexToAddress("0xa11ce"), big.NewInt(1e18), 5e17)
		f.chain.Mine(2)

		_, ok := f.client.SponsoredSubmit(ctx, f.claimCall(t, betID))
		require.True(t, ok)
		_, ok = f.client.SponsoredSubmit(ctx, f.claimCall(t, betID))
		assert.False(t, ok, "already claimed")

		key, err := f.client.identity.Key(ctx)
		require.NoError(t, err)
		_, err = f.client.SubmitAs(ctx, key, f.claimCall(t, betID))
		assert.ErrorIs(t, err, ErrUserOpFailed)
	})

	t.Run("breaker opens after repeated failures", func(t *testing.T) {
		f := newRelayFixture(t)
		f.bundler.FailSend(errors.New("bundler overloaded"))
		call := f.claimCall(t, big.NewInt(1))

		for i := 0; i < 2; i++ {
			_, ok := f.client.SponsoredSubmit(ctx, call)
			assert.False(t, ok)
		}
		assert.Equal(t, circuitbreaker.StateOpen, f.client.Breaker().State())

		calls := f.bundler.SponsorCalls()
		_, ok := f.client.SponsoredSubmit(ctx, call)
		assert.False(t, ok)
		assert.Equal(t, calls, f.bundler.SponsorCalls(), "open breaker short-circuits")
	})

	t.Run("nil client", func(t *testing.T) {
		var c *Client
		_, ok := c.SponsoredSubmit(ctx, blockchain.Call{})
		assert.False(t, ok)
	})
}

func TestWaitReceipt(t *testing.T) {
	ctx := context.Background()

	t.Run("pending then available", func(t *testing.T) {
		f := newRelayFixture(t)
		f.bundler.DelayReceipts(3)
		betID := f.chain.PlaceBetFor(common.HexToAddress("0xa11ce"), big.NewInt(1e18), 5e17)
		f.chain.Mine(2)

		_, ok := f.client.SponsoredSubmit(ctx, f.claimCall(t, betID))
		assert.True(t, ok)
	})

	t.Run("accepted but pending is not a plain failure", func(t *testing.T) {
		f := newRelayFixture(t)
		f.client.cfg.ReceiptTimeout = 20 * time.Millisecond
		betID := f.chain.PlaceBetFor(common.HexToAddress("0xa11ce"), big.NewInt(1e18), 5e17)
		f.chain.Mine(2)
		key, err := f.client.identity.Key(ctx)
		require.NoError(t, err)

		f.bundler.DelayReceipts(1 << 20)
		_, err = f.client.SubmitAs(ctx, key, f.claimCall(t, betID))
		require.ErrorIs(t, err, ErrOutcomeUnknown)
		var submitted *SubmittedError
		require.True(t, errors.As(err, &submitted))
		require.Len(t, f.bundler.Ops(), 1)

		f.bundler.DelayReceipts(0)
		txHash, err := f.client.Resolve(ctx, submitted.OpHash)
		require.NoError(t, err)
		assert.NotEqual(t, common.Hash{}, txHash)
		assert.True(t, f.chain.Bet(betID.Int64()).Claimed)
		assert.Len(t, f.bundler.Ops(), 1, "resolve never resubmits")
	})

	t.Run("timeout", func(t *testing.T) {
		f := newRelayFixture(t)
		f.client.cfg.ReceiptTimeout = 20 * time.Millisecond
		f.bundler.DelayReceipts(1 << 20)

		_, err := f.client.waitReceipt(ctx, common.HexToHash("0x01"))
		assert.ErrorIs(t, err, ErrReceiptTimeout)
	})
}

func TestPlaceBetWithSessionDelegate(t *testing.T) {
	ctx := context.Background()
	f := newRelayFixture(t)
	player := common.HexToAddress("0xa11ce")

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	delegate, err := f.client.AccountAddress(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, mock.AccountAddress(crypto.PubkeyToAddress(key.PublicKey)), delegate)

	f.chain.SetSession(player, delegate, contract.SessionInfo{
		MaxBetAmount: big.NewInt(5e18),
		ExpiresAt:    uint64(time.Now().Add(time.Hour).Unix()),
		Active:       true,
	})
	data, err := f.dice.PackPlaceBetWithSession(player, big.NewInt(1e18), 5e17)
	require.NoError(t, err)

	txHash, err := f.client.SubmitAs(ctx, key, blockchain.Call{To: mock.DiceAddress, Data: data, Kind: contract.CallPlaceBet})
	require.NoError(t, err)

	receipt, err := f.chain.TransactionReceipt(ctx, txHash)
	require.NoError(t, err)
	betID, ok := f.dice.FindBetID(receipt.Logs)
	require.True(t, ok)
	assert.Equal(t, player, f.chain.Bet(betID.Int64()).Player)
}
