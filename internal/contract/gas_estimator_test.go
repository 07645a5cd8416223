package contract

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGasBackend struct {
	gasPrice    *big.Int
	tip         *big.Int
	baseFee     *big.Int
	estimate    uint64
	estimateErr error
	priceCalls  int
}

func (f *fakeGasBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	f.priceCalls++
	return f.gasPrice, nil
}

func (f *fakeGasBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	if f.tip == nil {
		return nil, errors.New("method not found")
	}
	return f.tip, nil
}

func (f *fakeGasBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return f.estimate, f.estimateErr
}

func (f *fakeGasBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: f.baseFee}, nil
}

func TestGasEstimator_DynamicFees(t *testing.T) {
	backend := &fakeGasBackend{gasPrice: big.NewInt(10), tip: big.NewInt(2), baseFee: big.NewInt(4), estimate: 100_000}
	est := NewGasEstimator(&GasEstimatorConfig{GasPriceMultiplier: 1, GasLimitMultiplier: 1}, backend)

	out, err := est.Estimate(context.Background(), CallPlaceBet, common.Address{}, diceAddr, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(100_000), out.GasLimit)
	assert.True(t, out.Fees.IsDynamic())
	assert.Equal(t, int64(10), out.Fees.GasFeeCap.Int64()) // 2*4 + 2
	assert.Equal(t, int64(1_000_000), out.EstimatedCost.Int64())
	assert.False(t, out.Fallback)
}

func TestGasEstimator_FallbackAndCache(t *testing.T) {
	backend := &fakeGasBackend{gasPrice: big.NewInt(10), estimateErr: errors.New("header not found")}
	est := NewGasEstimator(&GasEstimatorConfig{GasLimitMultiplier: 1, CacheTTL: time.Minute}, backend)

	out, err := est.Estimate(context.Background(), CallClaim, common.Address{}, diceAddr, nil, nil)
	require.NoError(t, err)
	assert.True(t, out.Fallback)
	assert.Equal(t, uint64(150_000), out.GasLimit)
	assert.Equal(t, int64(11), out.Fees.GasPrice.Int64())

	_, err = est.Estimate(context.Background(), CallClaim, common.Address{}, diceAddr, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, backend.priceCalls)

	est.InvalidateCache()
	_, err = est.Fees(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, backend.priceCalls)
}

func TestGasEstimator_RevertNotMasked(t *testing.T) {
	backend := &fakeGasBackend{gasPrice: big.NewInt(10), estimateErr: errors.New("execution reverted: ExceedsMaxBet")}
	est := NewGasEstimator(nil, backend)

	_, err := est.Estimate(context.Background(), CallPlaceBet, common.Address{}, diceAddr, nil, nil)
	assert.ErrorContains(t, err, "ExceedsMaxBet")
}

func TestGasEstimator_PriceCeiling(t *testing.T) {
	backend := &fakeGasBackend{gasPrice: big.NewInt(500e9), estimate: 21000}
	est := NewGasEstimator(nil, backend)

	_, err := est.Estimate(context.Background(), CallGeneric, common.Address{}, diceAddr, nil, nil)
	assert.ErrorIs(t, err, ErrGasPriceTooHigh)
}
