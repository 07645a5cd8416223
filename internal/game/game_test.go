package game

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	testifymock "github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/trifle-labs/clawdice-frontend-sub000/internal/blockchain"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/contract"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/kafka"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/model"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/relay"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/session"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/storage"
	bizerr "github.com/trifle-labs/clawdice-frontend-sub000/pkg/errors"
	"github.com/trifle-labs/clawdice-frontend-sub000/test/mock"
)

var ether = big.NewInt(1e18)

// halfOdds 50%
const halfOdds = uint64(5e17)

func tokens(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), ether) }

type fixture struct {
	chain    *mock.Chain
	bundler  *mock.Bundler
	gateway  *blockchain.Gateway
	relay    *relay.Client
	store    *storage.MemoryStore
	wallet   *blockchain.LocalWallet
	registry *Registry
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
		ChainID:           big.NewInt(mock.ChainID),
		BetLookupAttempts: 3,
		BetLookupInterval: time.Millisecond,
		BlockPollInterval: time.Millisecond,
		ReceiptPoll:       time.Millisecond,
		ReceiptTimeout:    time.Second,
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
		chain:    chain,
		bundler:  bundler,
		gateway:  gateway,
		relay:    relayClient,
		store:    store,
		wallet:   blockchain.NewLocalWalletFromKey(key),
		registry: NewRegistry(),
	}
}

func (f *fixture) claimer(sponsor Sponsor) *Claimer {
	return NewClaimer(f.gateway, sponsor, f.registry, ClaimerConfig{})
}

func (f *fixture) orchestrator(deps Deps) *Orchestrator {
	deps.Gateway = f.gateway
	if deps.Claimer == nil {
		deps.Claimer = f.claimer(f.relay)
	}
	return NewOrchestrator(deps, Config{FallbackDelay: 10 * time.Millisecond, BlockWaitTimeout: 2 * time.Second})
}

// phases 去掉连续重复
func phases(ch <-chan State) []Phase {
	var out []Phase
	for {
		select {
		case s := <-ch:
			if len(out) == 0 || out[len(out)-1] != s.Phase {
				out = append(out, s.Phase)
			}
		default:
			return out
		}
	}
}

type rejectingWallet struct{ *blockchain.LocalWallet }

func (rejectingWallet) SignTx(context.Context, *types.Transaction, *big.Int) (*types.Transaction, error) {
	return nil, errors.New("MetaMask Tx Signature: User denied transaction signature.")
}

type mockPublisher struct{ testifymock.Mock }

func (m *mockPublisher) Publish(ctx context.Context, ev *model.LifecycleEvent) error {
	return m.Called(ctx, ev).Error(0)
}

func (m *mockPublisher) Close() error { return nil }

// foreignSponsor 代付时实际开奖的是另一笔下注
type foreignSponsor struct {
	chain *mock.Chain
	dice  *contract.DiceContract
	betID *big.Int
}

func (s foreignSponsor) SponsoredSubmit(context.Context, blockchain.Call) (common.Hash, bool) {
	data, err := s.dice.PackClaim(s.betID)
	if err != nil {
		return common.Hash{}, false
	}
	receipt, err := s.chain.ExecuteAs(common.HexToAddress("0x1234"), mock.DiceAddress, new(big.Int), data)
	if err != nil {
		return common.Hash{}, false
	}
	return receipt.TxHash, true
}

// TestPlaceBet_WinEndToEnd 测试 100 代币 50% 赔率获胜, 赔付 200
func TestPlaceBet_WinEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.chain.SetAutoMine(true)
	f.chain.RigNext(true)

	pub := &mockPublisher{}
	pub.On("Publish", testifymock.Anything, testifymock.MatchedBy(func(ev *model.LifecycleEvent) bool {
		return ev.Type == kafka.EventPlaced
	})).Return(nil).Once()
	pub.On("Publish", testifymock.Anything, testifymock.MatchedBy(func(ev *model.LifecycleEvent) bool {
		return ev.Type == kafka.EventSettled && ev.Won != nil && *ev.Won && ev.Payout.String() == "200"
	})).Return(nil).Once()

	o := f.orchestrator(Deps{Wallet: f.wallet, Publisher: pub})
	ch, stop := o.Subscribe()
	defer stop()

	out, err := o.PlaceBet(ctx, Request{Amount: tokens(100), TargetOdds: halfOdds})
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.True(t, out.Won)
	assert.Equal(t, 0, tokens(200).Cmp(out.Payout), "payout %s", out.Payout)
	assert.True(t, out.HasResult)
	assert.Less(t, out.BasisPoints, uint64(4950))

	assert.Equal(t, []Phase{PhasePlacing, PhaseWaitingForBlock, PhaseClaiming, PhaseWon}, phases(ch))
	st := o.State()
	assert.Equal(t, PhaseWon, st.Phase)
	assert.Equal(t, model.PathWallet, st.Path)
	assert.Equal(t, f.wallet.Address(), st.Player)
	require.NotNil(t, st.LastResult)
	assert.Equal(t, out.BetID, st.LastResult.BetID)
	assert.Equal(t, 0, st.BetID.Cmp(out.BetID))

	bet := f.chain.Bet(out.BetID.Int64())
	require.NotNil(t, bet)
	assert.True(t, bet.Claimed)
	assert.Equal(t, bet.PlacementBlock+1, st.TargetBlock)
	// 开奖走代付, 钱包只发了下注交易
	assert.Len(t, f.chain.Sent(), 1)
	pub.AssertExpectations(t)
}

func TestPlaceBet_Loss(t *testing.T) {
	f := newFixture(t)
	f.chain.SetAutoMine(true)
	f.chain.RigNext(false)
	o := f.orchestrator(Deps{Wallet: f.wallet})

	out, err := o.PlaceBet(context.Background(), Request{Amount: tokens(100), TargetOdds: halfOdds})
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.False(t, out.Won)
	assert.Equal(t, 0, out.Payout.Sign())
	assert.GreaterOrEqual(t, out.BasisPoints, uint64(4950))
	assert.Equal(t, PhaseLost, o.State().Phase)
}

// TestPlaceBet_SponsorshipFallback 测试代付返回空后回退钱包开奖, 结果一致
func TestPlaceBet_SponsorshipFallback(t *testing.T) {
	f := newFixture(t)
	f.chain.SetAutoMine(true)
	f.chain.RigNext(true)
	f.bundler.FailSponsorship(errors.New("sponsorship policy rejected"))
	o := f.orchestrator(Deps{Wallet: f.wallet})

	out, err := o.PlaceBet(context.Background(), Request{Amount: tokens(100), TargetOdds: halfOdds})
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.True(t, out.Won)
	assert.Equal(t, 0, tokens(200).Cmp(out.Payout))
	assert.Equal(t, PhaseWon, o.State().Phase)
	// 下注和开奖都由钱包发送
	assert.Len(t, f.chain.Sent(), 2)
	assert.Empty(t, f.bundler.Ops())
}

// TestPlaceBet_ForeignSettlement 测试回执中只有他人事件时静默回到 idle
func TestPlaceBet_ForeignSettlement(t *testing.T) {
	f := newFixture(t)
	stranger := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	f.chain.RigNext(true)
	foreignID := f.chain.PlaceBetFor(stranger, tokens(5), halfOdds)
	f.chain.SetAutoMine(true)

	sponsor := foreignSponsor{chain: f.chain, dice: f.gateway.Dice(), betID: foreignID}
	o := f.orchestrator(Deps{Wallet: f.wallet, Claimer: f.claimer(sponsor)})

	out, err := o.PlaceBet(context.Background(), Request{Amount: tokens(100), TargetOdds: halfOdds})
	require.NoError(t, err)
	assert.Nil(t, out)
	st := o.State()
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.Nil(t, st.LastResult)
	assert.Empty(t, st.Message)
}

func TestPlaceBet_UserRejects(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(Deps{Wallet: rejectingWallet{f.wallet}})

	_, err := o.PlaceBet(context.Background(), Request{Amount: tokens(1), TargetOdds: halfOdds})
	assert.ErrorIs(t, err, bizerr.ErrUserRejected)
	st := o.State()
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.Equal(t, MessageCancelled, st.Message)
	assert.Empty(t, st.Detail)
	assert.Nil(t, st.BetID)
}

func TestPlaceBet_FailureReturnsToIdle(t *testing.T) {
	f := newFixture(t)
	f.chain.SetMaxBet(tokens(10))
	o := f.orchestrator(Deps{Wallet: f.wallet})

	_, err := o.PlaceBet(context.Background(), Request{Amount: tokens(100), TargetOdds: halfOdds})
	assert.ErrorIs(t, err, bizerr.ErrAboveMaxBet)
	st := o.State()
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.NotEmpty(t, st.Message)
	assert.NotEqual(t, MessageCancelled, st.Message)
}

func TestPlaceBet_InvalidRequest(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(Deps{Wallet: f.wallet})

	_, err := o.PlaceBet(context.Background(), Request{Amount: big.NewInt(0), TargetOdds: halfOdds})
	assert.ErrorIs(t, err, bizerr.ErrInvalidAmount)
	_, err = o.PlaceBet(context.Background(), Request{Amount: tokens(1)})
	assert.ErrorIs(t, err, bizerr.ErrInvalidOdds)
	assert.Equal(t, PhaseIdle, o.State().Phase)
}

func TestPlaceBet_NoWallet(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(Deps{})

	_, err := o.PlaceBet(context.Background(), Request{Amount: tokens(1), TargetOdds: halfOdds})
	assert.ErrorIs(t, err, bizerr.ErrNoWallet)
	assert.Equal(t, PhaseIdle, o.State().Phase)
}

// TestStart_InFlightAndReset 测试在途时再次下注被拒绝, Reset 后可重新开始
func TestStart_InFlightAndReset(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(Deps{Wallet: f.wallet})

	flowID, err := o.Start(context.Background(), Request{Amount: tokens(1), TargetOdds: halfOdds})
	require.NoError(t, err)
	assert.NotEmpty(t, flowID)
	require.Eventually(t, func() bool {
		return o.State().Phase == PhaseWaitingForBlock
	}, time.Second, 5*time.Millisecond)

	_, err = o.PlaceBet(context.Background(), Request{Amount: tokens(1), TargetOdds: halfOdds})
	assert.ErrorIs(t, err, bizerr.ErrBetInFlight)

	o.Reset()
	st := o.State()
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.Empty(t, st.FlowID)

	// 旧流程被取消后不再改写状态
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, PhaseIdle, o.State().Phase)

	f.chain.SetAutoMine(true)
	out, err := o.PlaceBet(context.Background(), Request{Amount: tokens(1), TargetOdds: halfOdds})
	require.NoError(t, err)
	assert.NotNil(t, out)
}

// TestPlaceBet_FallbackDelay 测试读不到下注记录时按固定延迟继续
func TestPlaceBet_FallbackDelay(t *testing.T) {
	f := newFixture(t)
	f.chain.SetAutoMine(true)
	f.chain.SetBetLag(3)
	f.chain.RigNext(true)
	o := f.orchestrator(Deps{Wallet: f.wallet})

	out, err := o.PlaceBet(context.Background(), Request{Amount: tokens(10), TargetOdds: halfOdds})
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.True(t, out.Won)
	assert.Zero(t, o.State().TargetBlock)
}

// TestPlaceBet_SessionFastPath 测试会话快速通道下注, 钱包不再发送下注交易
func TestPlaceBet_SessionFastPath(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sessions := session.NewManager(f.gateway, f.relay, f.store, session.Config{VerifyDelay: time.Hour})
	t.Cleanup(sessions.Close)
	_, err := sessions.Create(ctx, f.wallet, time.Hour, tokens(1000))
	require.NoError(t, err)
	sentBefore := len(f.chain.Sent())

	f.chain.SetAutoMine(true)
	f.chain.RigNext(true)
	o := f.orchestrator(Deps{Wallet: f.wallet, Sessions: sessions})

	out, err := o.PlaceBet(ctx, Request{Amount: tokens(100), TargetOdds: halfOdds, UseSession: true})
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.True(t, out.Won)
	assert.Equal(t, model.PathSession, o.State().Path)
	assert.Len(t, f.chain.Sent(), sentBefore)

	bet := f.chain.Bet(out.BetID.Int64())
	require.NotNil(t, bet)
	assert.Equal(t, f.wallet.Address(), bet.Player)
}

// TestPlaceBet_SessionReceiptPending 测试代付已接受但回执迟迟不到时不会再用钱包下第二笔
func TestPlaceBet_SessionReceiptPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	accounts, err := contract.NewAccountContracts(mock.FactoryAddress, mock.EntryPointAddress, f.chain)
	require.NoError(t, err)
	rpcClient := f.bundler.Dial()
	t.Cleanup(rpcClient.Close)
	slowRelay := relay.NewClient(rpcClient, nil, accounts, relay.NewIdentity(f.store), contract.NewGasEstimator(nil, f.chain), relay.Config{
		ChainID:        big.NewInt(mock.ChainID),
		ReceiptTimeout: 30 * time.Millisecond,
		ReceiptPoll:    time.Millisecond,
	})
	sessions := session.NewManager(f.gateway, slowRelay, f.store, session.Config{VerifyDelay: time.Hour})
	t.Cleanup(sessions.Close)
	_, err = sessions.Create(ctx, f.wallet, time.Hour, tokens(1000))
	require.NoError(t, err)
	sentBefore := len(f.chain.Sent())

	f.chain.SetAutoMine(true)
	f.bundler.DelayReceipts(1 << 20)
	o := f.orchestrator(Deps{Wallet: f.wallet, Sessions: sessions})

	out, err := o.PlaceBet(ctx, Request{Amount: tokens(100), TargetOdds: halfOdds, UseSession: true})
	assert.Nil(t, out)
	assert.ErrorIs(t, err, bizerr.ErrSubmissionUnconfirmed)
	assert.Equal(t, PhaseIdle, o.State().Phase)
	assert.Len(t, f.chain.Sent(), sentBefore, "wallet must not place a second bet")

	first := f.chain.Bet(1)
	require.NotNil(t, first)
	assert.Equal(t, f.wallet.Address(), first.Player)
	assert.Nil(t, f.chain.Bet(2))
}

func TestPlaceBet_SessionRequestedWithoutSession(t *testing.T) {
	f := newFixture(t)
	f.chain.SetAutoMine(true)
	sessions := session.NewManager(f.gateway, f.relay, f.store, session.Config{})
	t.Cleanup(sessions.Close)
	o := f.orchestrator(Deps{Wallet: f.wallet, Sessions: sessions})

	_, err := o.PlaceBet(context.Background(), Request{Amount: tokens(1), TargetOdds: halfOdds, UseSession: true})
	require.NoError(t, err)
	assert.Equal(t, model.PathWallet, o.State().Path)
}

func TestClaimer_OwnershipCheck(t *testing.T) {
	ctx := context.Background()
	owner := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	other := common.HexToAddress("0x00000000000000000000000000000000000000cc")

	for _, won := range []bool{true, false} {
		f := newFixture(t)
		f.chain.RigNext(won)
		betID := f.chain.PlaceBetFor(owner, tokens(3), halfOdds)
		f.chain.Mine(2)

		res, err := f.claimer(f.relay).Claim(ctx, nil, betID, other)
		require.NoError(t, err)
		assert.False(t, res.Owned, "won=%v", won)
		assert.Nil(t, res.Outcome)
		assert.True(t, f.chain.Bet(betID.Int64()).Claimed)
	}
}

func TestClaimer_SponsoredOwnWin(t *testing.T) {
	f := newFixture(t)
	f.chain.RigNext(true)
	betID := f.chain.PlaceBetFor(f.wallet.Address(), tokens(3), halfOdds)
	f.chain.Mine(2)

	res, err := f.claimer(f.relay).Claim(context.Background(), nil, betID, f.wallet.Address())
	require.NoError(t, err)
	assert.True(t, res.Owned)
	assert.Equal(t, model.PathSponsored, res.Path)
	require.NotNil(t, res.Outcome)
	assert.True(t, res.Outcome.Won)
}

// TestClaimer_TooEarly 测试过早开奖按可重试处理
func TestClaimer_TooEarly(t *testing.T) {
	ctx := context.Background()

	t.Run("retries on next block", func(t *testing.T) {
		f := newFixture(t)
		betID := f.chain.PlaceBetFor(f.wallet.Address(), tokens(3), halfOdds)
		f.chain.SetAutoMine(true)

		res, err := f.claimer(nil).Claim(ctx, f.wallet, betID, f.wallet.Address())
		require.NoError(t, err)
		assert.True(t, res.Owned)
		assert.Equal(t, model.PathWallet, res.Path)
	})

	t.Run("gives up after bounded attempts", func(t *testing.T) {
		f := newFixture(t)
		betID := f.chain.PlaceBetFor(f.wallet.Address(), tokens(3), halfOdds)
		claimer := NewClaimer(f.gateway, nil, nil, ClaimerConfig{EarlyRetries: 1})

		cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		_, err := claimer.Claim(cctx, f.wallet, betID, f.wallet.Address())
		assert.Error(t, err)
		assert.False(t, f.chain.Bet(betID.Int64()).Claimed)
	})
}

func TestClaimer_AlreadyClaimed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.chain.RigNext(true)
	betID := f.chain.PlaceBetFor(f.wallet.Address(), tokens(3), halfOdds)
	f.chain.Mine(2)

	_, err := f.claimer(f.relay).Claim(ctx, nil, betID, f.wallet.Address())
	require.NoError(t, err)

	res, err := f.claimer(nil).Claim(ctx, f.wallet, betID, f.wallet.Address())
	require.NoError(t, err)
	assert.True(t, res.Owned)
	assert.True(t, res.Outcome.Won)
	assert.Equal(t, 0, tokens(6).Cmp(res.Outcome.Payout))
}

func TestClaimer_NoWalletAfterSponsorFailure(t *testing.T) {
	f := newFixture(t)
	f.bundler.FailSponsorship(errors.New("out of funds"))
	betID := f.chain.PlaceBetFor(f.wallet.Address(), tokens(3), halfOdds)
	f.chain.Mine(2)

	_, err := f.claimer(f.relay).Claim(context.Background(), nil, betID, f.wallet.Address())
	assert.ErrorIs(t, err, bizerr.ErrNoWallet)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	id := big.NewInt(7)

	assert.True(t, r.TryAcquire(id))
	assert.False(t, r.TryAcquire(big.NewInt(7)))
	assert.True(t, r.InFlight(id))
	r.Release(id)
	assert.False(t, r.InFlight(id))
	assert.True(t, r.TryAcquire(id))
}

func TestRegistry_Wait(t *testing.T) {
	r := NewRegistry()
	id := big.NewInt(7)
	require.NoError(t, r.Wait(context.Background(), id))

	require.True(t, r.TryAcquire(id))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Wait(ctx, id), context.DeadlineExceeded)

	go func() {
		time.Sleep(10 * time.Millisecond)
		r.Release(id)
	}()
	require.NoError(t, r.Wait(context.Background(), id))
	assert.False(t, r.InFlight(id))
}

// claimElsewhere 模拟自动开奖: 占用登记表, 在链上开奖后释放
func (f *fixture) claimElsewhere(t *testing.T, betID *big.Int, ready func() bool) {
	t.Helper()
	dice, err := contract.NewDiceContract(mock.DiceAddress, f.chain)
	require.NoError(t, err)
	data, err := dice.PackClaim(betID)
	require.NoError(t, err)
	go func() {
		defer f.registry.Release(betID)
		deadline := time.Now().Add(2 * time.Second)
		for !ready() && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		_, _ = f.chain.ExecuteAs(common.HexToAddress("0x5eeb"), mock.DiceAddress, new(big.Int), data)
	}()
}

func TestClaimer_ClaimWait(t *testing.T) {
	f := newFixture(t)
	f.chain.RigNext(true)
	betID := f.chain.PlaceBetFor(f.wallet.Address(), tokens(3), halfOdds)
	f.chain.Mine(2)
	require.True(t, f.registry.TryAcquire(betID))
	start := time.Now()
	f.claimElsewhere(t, betID, func() bool { return time.Since(start) > 50*time.Millisecond })

	res, err := f.claimer(f.relay).ClaimWait(context.Background(), f.wallet, betID, f.wallet.Address())
	require.NoError(t, err)
	assert.True(t, res.Owned)
	assert.Equal(t, model.PathExternal, res.Path)
	require.NotNil(t, res.Outcome)
	assert.True(t, res.Outcome.Won)
	assert.Equal(t, 0, tokens(6).Cmp(res.Outcome.Payout))
	assert.Empty(t, f.bundler.Ops(), "no second claim submitted")
}

// TestPlaceBet_ClaimHeldBySweep 测试自动开奖占用同一 betId 时流程等待并展示结果
func TestPlaceBet_ClaimHeldBySweep(t *testing.T) {
	f := newFixture(t)
	f.chain.SetAutoMine(true)
	f.chain.RigNext(true)
	o := f.orchestrator(Deps{Wallet: f.wallet})

	betID := big.NewInt(1)
	require.True(t, f.registry.TryAcquire(betID))
	f.claimElsewhere(t, betID, func() bool { return o.State().Phase == PhaseClaiming })

	out, err := o.PlaceBet(context.Background(), Request{Amount: tokens(100), TargetOdds: halfOdds})
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.True(t, out.Won)
	assert.Equal(t, PhaseWon, o.State().Phase)
	assert.Nil(t, o.ActiveBet())
}

func TestClaimer_InProgress(t *testing.T) {
	f := newFixture(t)
	betID := f.chain.PlaceBetFor(f.wallet.Address(), tokens(3), halfOdds)
	require.True(t, f.registry.TryAcquire(betID))

	_, err := f.claimer(f.relay).Claim(context.Background(), f.wallet, betID, f.wallet.Address())
	assert.ErrorIs(t, err, bizerr.ErrClaimInProgress)
}
