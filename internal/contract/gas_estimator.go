package contract

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Gas estimation errors
var (
	ErrGasPriceTooHigh = errors.New("gas price exceeds maximum")
	ErrGasLimitTooHigh = errors.New("gas limit exceeds maximum")
)

// CallKind selects the fallback gas limit when eth_estimateGas fails.
type CallKind int

const (
	CallGeneric CallKind = iota
	CallPlaceBet
	CallClaim
	CallApprove
	CallSession
)

// GasEstimatorConfig is the configuration for the gas estimator.
type GasEstimatorConfig struct {
	// MaxGasPrice is the maximum fee cap in wei.
	MaxGasPrice *big.Int
	// MaxGasLimit is the maximum gas limit.
	MaxGasLimit uint64
	// GasPriceMultiplier buffers the suggested fee (1.1 = 10%).
	GasPriceMultiplier float64
	// GasLimitMultiplier buffers the estimated gas (1.2 = 20%).
	GasLimitMultiplier float64
	// CacheTTL is the time-to-live for cached fee data.
	CacheTTL time.Duration
	// FallbackGas is used per call kind when estimation fails.
	FallbackGas map[CallKind]uint64
}

// FeeData contains fee information for a new transaction.
type FeeData struct {
	GasPrice  *big.Int
	BaseFee   *big.Int
	GasTipCap *big.Int
	GasFeeCap *big.Int
	FetchedAt time.Time
}

// IsDynamic reports whether EIP-1559 fields are populated.
func (f *FeeData) IsDynamic() bool {
	return f.GasTipCap != nil && f.GasFeeCap != nil
}

// GasEstimate contains the result of gas estimation.
type GasEstimate struct {
	GasLimit      uint64
	Fees          *FeeData
	EstimatedCost *big.Int
	Fallback      bool
}

// GasBackend is the subset of ethclient used for fee and gas estimation.
type GasBackend interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// GasEstimator estimates gas and fees for wallet-signed transactions.
type GasEstimator struct {
	cfg     *GasEstimatorConfig
	backend GasBackend
	now     func() time.Time

	mu     sync.RWMutex
	cached *FeeData
}

// NewGasEstimator creates a new gas estimator.
func NewGasEstimator(cfg *GasEstimatorConfig, backend GasBackend) *GasEstimator {
	if cfg == nil {
		cfg = &GasEstimatorConfig{}
	}
	if cfg.MaxGasPrice == nil {
		cfg.MaxGasPrice = big.NewInt(200e9)
	}
	if cfg.MaxGasLimit == 0 {
		cfg.MaxGasLimit = 3_000_000
	}
	if cfg.GasPriceMultiplier == 0 {
		cfg.GasPriceMultiplier = 1.1
	}
	if cfg.GasLimitMultiplier == 0 {
		cfg.GasLimitMultiplier = 1.2
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 4 * time.Second
	}
	if cfg.FallbackGas == nil {
		cfg.FallbackGas = map[CallKind]uint64{
			CallGeneric:  200_000,
			CallPlaceBet: 180_000,
			CallClaim:    150_000,
			CallApprove:  60_000,
			CallSession:  160_000,
		}
	}
	return &GasEstimator{cfg: cfg, backend: backend, now: time.Now}
}

// Fees returns current fee data, cached for CacheTTL.
func (e *GasEstimator) Fees(ctx context.Context) (*FeeData, error) {
	e.mu.RLock()
	if e.cached != nil && e.now().Sub(e.cached.FetchedAt) < e.cfg.CacheTTL {
		cached := e.cached
		e.mu.RUnlock()
		return cached, nil
	}
	e.mu.RUnlock()
	return e.fetchFees(ctx)
}

func (e *GasEstimator) fetchFees(ctx context.Context) (*FeeData, error) {
	fees := &FeeData{FetchedAt: e.now()}

	gasPrice, err := e.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}
	fees.GasPrice = e.buffer(gasPrice)

	if tip, err := e.backend.SuggestGasTipCap(ctx); err == nil && tip != nil && tip.Sign() > 0 {
		if header, err := e.backend.HeaderByNumber(ctx, nil); err == nil && header != nil && header.BaseFee != nil {
			fees.BaseFee = header.BaseFee
			fees.GasTipCap = tip
			feeCap := new(big.Int).Mul(header.BaseFee, big.NewInt(2))
			fees.GasFeeCap = e.buffer(feeCap.Add(feeCap, tip))
		}
	}

	ceiling := fees.GasPrice
	if fees.GasFeeCap != nil {
		ceiling = fees.GasFeeCap
	}
	if ceiling.Cmp(e.cfg.MaxGasPrice) > 0 {
		return nil, ErrGasPriceTooHigh
	}

	e.mu.Lock()
	e.cached = fees
	e.mu.Unlock()
	return fees, nil
}

func (e *GasEstimator) buffer(v *big.Int) *big.Int {
	if e.cfg.GasPriceMultiplier <= 1 {
		return new(big.Int).Set(v)
	}
	f := new(big.Float).SetInt(v)
	f.Mul(f, big.NewFloat(e.cfg.GasPriceMultiplier))
	out, _ := f.Int(nil)
	return out
}

// Estimate estimates gas for a call, falling back to a per-kind constant
// when the node cannot estimate. Reverts are returned as-is.
func (e *GasEstimator) Estimate(ctx context.Context, kind CallKind, from, to common.Address, data []byte, value *big.Int) (*GasEstimate, error) {
	est := &GasEstimate{}
	gasLimit, err := e.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data, Value: value})
	if err != nil {
		if strings.Contains(err.Error(), "execution reverted") {
			return nil, err
		}
		fallback, ok := e.cfg.FallbackGas[kind]
		if !ok {
			return nil, err
		}
		gasLimit = fallback
		est.Fallback = true
	}
	gasLimit = uint64(float64(gasLimit) * e.cfg.GasLimitMultiplier)
	if gasLimit > e.cfg.MaxGasLimit {
		return nil, ErrGasLimitTooHigh
	}
	est.GasLimit = gasLimit

	fees, err := e.Fees(ctx)
	if err != nil {
		return nil, err
	}
	est.Fees = fees

	price := fees.GasPrice
	if fees.IsDynamic() {
		price = fees.GasFeeCap
	}
	est.EstimatedCost = new(big.Int).Mul(price, new(big.Int).SetUint64(gasLimit))
	return est, nil
}

// InvalidateCache drops cached fee data.
func (e *GasEstimator) InvalidateCache() {
	e.mu.Lock()
	e.cached = nil
	e.mu.Unlock()
}
