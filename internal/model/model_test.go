package model

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestIsExpired_Boundary(t *testing.T) {
	const head = 10_000
	assert.True(t, IsExpired(head-257, head, 256))
	assert.False(t, IsExpired(head-256, head, 256))
	assert.False(t, IsExpired(head, head, 256))
	assert.False(t, IsExpired(head+5, head, 256))
}

func TestBet_Status(t *testing.T) {
	bet := &Bet{Player: common.HexToAddress("0xabc"), PlacementBlock: 100}

	assert.Equal(t, BetStatusAwaitingBlock, bet.Status(100, 256))
	assert.Equal(t, BetStatusAwaitingBlock, bet.Status(101, 256))
	assert.Equal(t, BetStatusClaimable, bet.Status(102, 256))
	assert.Equal(t, BetStatusClaimable, bet.Status(356, 256))
	assert.Equal(t, BetStatusExpired, bet.Status(357, 256))

	bet.Claimed = true
	assert.Equal(t, BetStatusClaimed, bet.Status(357, 256))
	assert.Equal(t, "claimed", bet.Status(357, 256).String())
}

func TestBet_OwnedBy(t *testing.T) {
	bet := &Bet{Player: common.HexToAddress("0x00000000000000000000000000000000000000Aa")}
	assert.True(t, bet.OwnedBy(common.HexToAddress("0x00000000000000000000000000000000000000aA")))
	assert.False(t, bet.OwnedBy(common.HexToAddress("0x00000000000000000000000000000000000000bb")))

	var empty Bet
	assert.False(t, empty.OwnedBy(common.Address{}))
	assert.True(t, SameAddress("0xABCdef", " 0xabcDEF"))
}

func TestUnits(t *testing.T) {
	wei := ToWei(decimal.RequireFromString("100.5"))
	assert.Equal(t, "100500000000000000000", wei.String())
	assert.Equal(t, "100.5", FromWei(wei).String())
	assert.True(t, FromWei(nil).IsZero())
	assert.Equal(t, "1", ToWei(decimal.RequireFromString("0.0000000000000000015")).String())
	assert.Zero(t, big.NewInt(0).Cmp(ToWei(decimal.Zero)))
}

func TestBetEvent_DisplayStatus(t *testing.T) {
	assert.Equal(t, "pending", (&BetEvent{}).DisplayStatus())
	assert.Equal(t, "expired", (&BetEvent{Expired: true}).DisplayStatus())
	assert.Equal(t, "won", (&BetEvent{Resolved: true, Won: true}).DisplayStatus())
	assert.Equal(t, "lost", (&BetEvent{Resolved: true}).DisplayStatus())
}
