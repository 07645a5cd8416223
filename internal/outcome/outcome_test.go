package outcome

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixtures = []struct {
	betID  int64
	hash   string
	random string
	bp     uint64
}{
	{1, "0x1111111111111111111111111111111111111111111111111111111111111111", "0x8a1a59a536742613f251075415cb3bcfd95758a71bd84e57840cbf9f016f9cf9", 5394},
	{42, "0xabababababababababababababababababababababababababababababababab", "0xeb95d048db9aa4adaaded217b98c6e176675f433afe9106023720ef9dc9bfcc8", 9202},
	{123456789, "0x9c1185a5c5e9fc54612808977ee8f548b2258d31c8f9c9a1b9d5b0e2f0f1a2b3", "0x2166486b1c2b62cad2462db0ecc144ee0d6761765c83ff86c26f0a3545b1a9ce", 1304},
	{0, "0x0000000000000000000000000000000000000000000000000000000000000001", "0xa6eef7e35abe7026729641147f7915573c7e97b47efa546f5f6e3230263bcb49", 6520},
}

func TestCompute_Fixtures(t *testing.T) {
	for _, f := range fixtures {
		res, err := Compute(big.NewInt(f.betID), common.HexToHash(f.hash))
		require.NoError(t, err)
		assert.Equal(t, f.random, "0x"+common.Bytes2Hex(common.LeftPadBytes(res.Random.Bytes(), 32)), "bet %d", f.betID)
		assert.Equal(t, f.bp, res.BasisPoints, "bet %d", f.betID)
	}
}

func TestCompute_Deterministic(t *testing.T) {
	id := big.NewInt(77)
	hash := crypto.Keccak256Hash([]byte("block 1001"))

	first, err := Compute(id, hash)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Compute(id, hash)
		require.NoError(t, err)
		assert.Equal(t, first.BasisPoints, again.BasisPoints)
		assert.Zero(t, first.Random.Cmp(again.Random))
	}
}

// abi.encode 对 (uint256, bytes32) 与 encodePacked 字节一致, 用作独立参照
func TestCompute_MatchesABIEncodeReference(t *testing.T) {
	uint256Ty, _ := abi.NewType("uint256", "", nil)
	bytes32Ty, _ := abi.NewType("bytes32", "", nil)
	args := abi.Arguments{{Type: uint256Ty}, {Type: bytes32Ty}}

	for i := int64(0); i < 50; i++ {
		id := big.NewInt(i * 7919)
		hash := crypto.Keccak256Hash(big.NewInt(i).Bytes())

		encoded, err := args.Pack(id, [32]byte(hash))
		require.NoError(t, err)
		ref := new(big.Int).SetBytes(crypto.Keccak256(encoded))
		refBP := decimal.NewFromBigInt(ref, 0).
			Mul(decimal.NewFromInt(10000)).
			Div(decimal.NewFromBigInt(maxUint256, 0)).
			Floor()

		res, err := Compute(id, hash)
		require.NoError(t, err)
		assert.Zero(t, ref.Cmp(res.Random))
		assert.Equal(t, refBP.IntPart(), int64(res.BasisPoints))
	}
}

func TestCompute_UnknownHash(t *testing.T) {
	_, err := Compute(big.NewInt(1), common.Hash{})
	assert.ErrorIs(t, err, ErrResultUnknown)

	_, err = Compute(big.NewInt(-1), common.HexToHash("0x01"))
	assert.ErrorIs(t, err, ErrInvalidBetID)
}

func TestScaleToBasisPoints_Bounds(t *testing.T) {
	assert.Equal(t, uint64(0), ScaleToBasisPoints(big.NewInt(0)))
	assert.Equal(t, uint64(10000), ScaleToBasisPoints(maxUint256))
	half := new(big.Int).Rsh(maxUint256, 1)
	assert.Equal(t, uint64(4999), ScaleToBasisPoints(half))
}

func TestIsWin_Boundary(t *testing.T) {
	fifty := new(big.Int).Div(OddsScale, big.NewInt(2))

	assert.True(t, IsWin(4949, fifty, 100), "49.49% wins under a 49.5% threshold")
	assert.False(t, IsWin(4950, fifty, 100), "49.50% loses")
	assert.True(t, IsWin(0, fifty, 100))
	assert.False(t, IsWin(10000, fifty, 100))

	// 无庄家优势时阈值就是名义赔率
	assert.True(t, IsWin(4999, fifty, 0))
	assert.False(t, IsWin(5000, fifty, 0))

	assert.Equal(t, "4950", Threshold(fifty, 100).String())
}

func TestGrossPayout(t *testing.T) {
	amount := new(big.Int).Mul(big.NewInt(100), OddsScale)
	fifty := new(big.Int).Div(OddsScale, big.NewInt(2))

	payout := GrossPayout(amount, fifty)
	assert.Equal(t, new(big.Int).Mul(big.NewInt(200), OddsScale).String(), payout.String())
	assert.Equal(t, "0", GrossPayout(amount, big.NewInt(0)).String())
}

func TestCalculator_Evaluate(t *testing.T) {
	calc := NewCalculator(0)
	assert.Equal(t, int64(DefaultHouseEdgeBP), calc.HouseEdgeBP())

	amount := new(big.Int).Mul(big.NewInt(100), OddsScale)
	ninety := new(big.Int).Mul(big.NewInt(9), new(big.Int).Div(OddsScale, big.NewInt(10)))

	// 5394 bp < 8910 → 赢
	ev, err := calc.Evaluate(big.NewInt(1), common.HexToHash(fixtures[0].hash), amount, ninety)
	require.NoError(t, err)
	assert.True(t, ev.Won)
	assert.Equal(t, "53.94", ev.Percentage().StringFixed(2))
	assert.Positive(t, ev.Payout.Sign())

	// 9202 bp ≥ 8910 → 输
	ev, err = calc.Evaluate(big.NewInt(42), common.HexToHash(fixtures[1].hash), amount, ninety)
	require.NoError(t, err)
	assert.False(t, ev.Won)
	assert.Zero(t, ev.Payout.Sign())
}

func TestOddsConversions(t *testing.T) {
	odds, err := OddsFromPercent(decimal.RequireFromString("49.5"))
	require.NoError(t, err)
	assert.Equal(t, "495000000000000000", odds.String())
	assert.Equal(t, "49.5", OddsToPercent(odds).String())

	_, err = OddsFromPercent(decimal.NewFromInt(100))
	assert.Error(t, err)
	_, err = OddsFromPercent(decimal.Zero)
	assert.Error(t, err)
}
