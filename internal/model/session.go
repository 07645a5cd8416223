package model

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SessionStatus 会话状态
type SessionStatus string

const (
	SessionNone        SessionStatus = "none"
	SessionCreating    SessionStatus = "creating"
	SessionActive      SessionStatus = "active"
	SessionExpired     SessionStatus = "expired"
	SessionRevoked     SessionStatus = "revoked"
	SessionInvalidated SessionStatus = "invalidated"
)

// SessionGrant 链上会话授权
type SessionGrant struct {
	Player       common.Address `json:"player"`
	Delegate     common.Address `json:"delegate"`
	ExpiresAt    time.Time      `json:"expires_at"`
	MaxBetAmount *big.Int       `json:"max_bet_amount"`
	Nonce        *big.Int       `json:"nonce"`
	Active       bool           `json:"active"`
}

// Usable active 且未过期
func (g *SessionGrant) Usable(now time.Time) bool {
	return g != nil && g.Active && now.Before(g.ExpiresAt)
}
