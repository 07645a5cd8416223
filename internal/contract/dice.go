// Package contract provides ABI bindings for the Clawdice game, its betting
// token, the house vault and the ERC-4337 account contracts.
package contract

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/trifle-labs/clawdice-frontend-sub000/internal/model"
)

// Dice contract errors
var (
	ErrInvalidBetAmount = errors.New("invalid bet amount")
	ErrInvalidOdds      = errors.New("invalid target odds")
	ErrNotDiceLog       = errors.New("log not emitted by dice contract")
	ErrUnexpectedTopics = errors.New("unexpected topic layout")
)

// DiceABI is the ABI of the Clawdice game contract.
//
//	function placeBet(uint128 amount, uint64 targetOdds) returns (uint256 betId)
//	function placeBetWithETH(uint64 targetOdds) payable returns (uint256 betId)
//	function claim(uint256 betId)
//	function getBet(uint256 betId) view returns (...)
//	function createSession(address delegate, uint128 maxBetAmount, uint64 expiresAt, bytes signature)
//	function placeBetWithSession(address player, uint128 amount, uint64 targetOdds) returns (uint256 betId)
//	function revokeSession(address delegate)
const DiceABI = `[
	{"type":"function","name":"placeBet","stateMutability":"nonpayable",
	 "inputs":[{"name":"amount","type":"uint128"},{"name":"targetOdds","type":"uint64"}],
	 "outputs":[{"name":"betId","type":"uint256"}]},
	{"type":"function","name":"placeBetWithETH","stateMutability":"payable",
	 "inputs":[{"name":"targetOdds","type":"uint64"}],
	 "outputs":[{"name":"betId","type":"uint256"}]},
	{"type":"function","name":"claim","stateMutability":"nonpayable",
	 "inputs":[{"name":"betId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"getBet","stateMutability":"view",
	 "inputs":[{"name":"betId","type":"uint256"}],
	 "outputs":[
		{"name":"player","type":"address"},
		{"name":"amount","type":"uint128"},
		{"name":"targetOdds","type":"uint64"},
		{"name":"blockNumber","type":"uint64"},
		{"name":"claimed","type":"bool"},
		{"name":"won","type":"bool"},
		{"name":"payout","type":"uint256"}]},
	{"type":"function","name":"getMaxBet","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"computeResult","stateMutability":"pure",
	 "inputs":[{"name":"betId","type":"uint256"},{"name":"blockHash","type":"bytes32"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"createSession","stateMutability":"nonpayable",
	 "inputs":[
		{"name":"delegate","type":"address"},
		{"name":"maxBetAmount","type":"uint128"},
		{"name":"expiresAt","type":"uint64"},
		{"name":"signature","type":"bytes"}],
	 "outputs":[]},
	{"type":"function","name":"placeBetWithSession","stateMutability":"nonpayable",
	 "inputs":[{"name":"player","type":"address"},{"name":"amount","type":"uint128"},{"name":"targetOdds","type":"uint64"}],
	 "outputs":[{"name":"betId","type":"uint256"}]},
	{"type":"function","name":"revokeSession","stateMutability":"nonpayable",
	 "inputs":[{"name":"delegate","type":"address"}],"outputs":[]},
	{"type":"function","name":"getSession","stateMutability":"view",
	 "inputs":[{"name":"player","type":"address"},{"name":"delegate","type":"address"}],
	 "outputs":[
		{"name":"maxBetAmount","type":"uint128"},
		{"name":"expiresAt","type":"uint64"},
		{"name":"active","type":"bool"}]},
	{"type":"function","name":"sessionNonces","stateMutability":"view",
	 "inputs":[{"name":"player","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},

	{"type":"event","name":"BetPlaced","anonymous":false,"inputs":[
		{"name":"betId","type":"uint256","indexed":true},
		{"name":"player","type":"address","indexed":true},
		{"name":"amount","type":"uint128","indexed":false},
		{"name":"targetOdds","type":"uint64","indexed":false},
		{"name":"blockNumber","type":"uint64","indexed":false}]},
	{"type":"event","name":"BetResolved","anonymous":false,"inputs":[
		{"name":"betId","type":"uint256","indexed":true},
		{"name":"won","type":"bool","indexed":false},
		{"name":"result","type":"uint256","indexed":false},
		{"name":"payout","type":"uint256","indexed":false}]},
	{"type":"event","name":"BetClaimed","anonymous":false,"inputs":[
		{"name":"betId","type":"uint256","indexed":true},
		{"name":"player","type":"address","indexed":true},
		{"name":"payout","type":"uint256","indexed":false}]},
	{"type":"event","name":"SessionCreated","anonymous":false,"inputs":[
		{"name":"player","type":"address","indexed":true},
		{"name":"delegate","type":"address","indexed":true},
		{"name":"maxBetAmount","type":"uint128","indexed":false},
		{"name":"expiresAt","type":"uint64","indexed":false}]},
	{"type":"event","name":"SessionRevoked","anonymous":false,"inputs":[
		{"name":"player","type":"address","indexed":true},
		{"name":"delegate","type":"address","indexed":true}]},
	{"type":"event","name":"BetPlacedViaSession","anonymous":false,"inputs":[
		{"name":"betId","type":"uint256","indexed":true},
		{"name":"player","type":"address","indexed":true},
		{"name":"delegate","type":"address","indexed":true}]},

	{"type":"error","name":"BetTooEarly","inputs":[]},
	{"type":"error","name":"BetAlreadyClaimed","inputs":[]},
	{"type":"error","name":"BetExpired","inputs":[]},
	{"type":"error","name":"BetNotFound","inputs":[]},
	{"type":"error","name":"InvalidSession","inputs":[]},
	{"type":"error","name":"ExceedsMaxBet","inputs":[{"name":"maxBet","type":"uint256"}]},
	{"type":"error","name":"InvalidOdds","inputs":[]}
]`

// ClaimWindow is the number of blocks after placement during which the
// contract can still read the deciding block hash.
const ClaimWindow = 256

// Event names emitted by the dice contract.
const (
	EventBetPlaced           = "BetPlaced"
	EventBetResolved         = "BetResolved"
	EventBetClaimed          = "BetClaimed"
	EventSessionCreated      = "SessionCreated"
	EventSessionRevoked      = "SessionRevoked"
	EventBetPlacedViaSession = "BetPlacedViaSession"
)

// BetPlacedEvent represents the BetPlaced event.
type BetPlacedEvent struct {
	BetID       *big.Int
	Player      common.Address
	Amount      *big.Int
	TargetOdds  uint64
	BlockNumber uint64
	Raw         types.Log
}

// BetResolvedEvent represents the BetResolved event. The loss variant does
// not carry the player, callers re-read the bet to check ownership.
type BetResolvedEvent struct {
	BetID  *big.Int
	Won    bool
	Result *big.Int
	Payout *big.Int
	Raw    types.Log
}

// BetClaimedEvent represents the BetClaimed event.
type BetClaimedEvent struct {
	BetID  *big.Int
	Player common.Address
	Payout *big.Int
	Raw    types.Log
}

// SessionCreatedEvent represents the SessionCreated event.
type SessionCreatedEvent struct {
	Player       common.Address
	Delegate     common.Address
	MaxBetAmount *big.Int
	ExpiresAt    uint64
	Raw          types.Log
}

// SessionRevokedEvent represents the SessionRevoked event.
type SessionRevokedEvent struct {
	Player   common.Address
	Delegate common.Address
	Raw      types.Log
}

// BetPlacedViaSessionEvent represents the BetPlacedViaSession event.
type BetPlacedViaSessionEvent struct {
	BetID    *big.Int
	Player   common.Address
	Delegate common.Address
	Raw      types.Log
}

// SessionInfo is the on-chain view of a session grant.
type SessionInfo struct {
	MaxBetAmount *big.Int
	ExpiresAt    uint64
	Active       bool
}

// DiceContract provides methods to interact with the dice game contract.
type DiceContract struct {
	address common.Address
	abi     abi.ABI
	caller  ethereum.ContractCaller
}

// NewDiceContract creates a new dice contract binding.
func NewDiceContract(address common.Address, caller ethereum.ContractCaller) (*DiceContract, error) {
	parsed, err := abi.JSON(strings.NewReader(DiceABI))
	if err != nil {
		return nil, err
	}
	return &DiceContract{address: address, abi: parsed, caller: caller}, nil
}

// Address returns the contract address.
func (c *DiceContract) Address() common.Address { return c.address }

// ABI returns the parsed contract ABI.
func (c *DiceContract) ABI() abi.ABI { return c.abi }

// PackPlaceBet packs placeBet(amount, targetOdds).
func (c *DiceContract) PackPlaceBet(amount *big.Int, targetOdds uint64) ([]byte, error) {
	if err := validateBet(amount, targetOdds); err != nil {
		return nil, err
	}
	return c.abi.Pack("placeBet", amount, targetOdds)
}

// PackPlaceBetWithETH packs placeBetWithETH(targetOdds); the stake travels as tx value.
func (c *DiceContract) PackPlaceBetWithETH(targetOdds uint64) ([]byte, error) {
	if targetOdds == 0 {
		return nil, ErrInvalidOdds
	}
	return c.abi.Pack("placeBetWithETH", targetOdds)
}

// PackClaim packs claim(betId).
func (c *DiceContract) PackClaim(betID *big.Int) ([]byte, error) {
	return c.abi.Pack("claim", betID)
}

// PackCreateSession packs createSession(delegate, maxBetAmount, expiresAt, signature).
func (c *DiceContract) PackCreateSession(delegate common.Address, maxBetAmount *big.Int, expiresAt uint64, signature []byte) ([]byte, error) {
	return c.abi.Pack("createSession", delegate, maxBetAmount, expiresAt, signature)
}

// PackPlaceBetWithSession packs placeBetWithSession(player, amount, targetOdds).
func (c *DiceContract) PackPlaceBetWithSession(player common.Address, amount *big.Int, targetOdds uint64) ([]byte, error) {
	if err := validateBet(amount, targetOdds); err != nil {
		return nil, err
	}
	return c.abi.Pack("placeBetWithSession", player, amount, targetOdds)
}

// PackRevokeSession packs revokeSession(delegate).
func (c *DiceContract) PackRevokeSession(delegate common.Address) ([]byte, error) {
	return c.abi.Pack("revokeSession", delegate)
}

func validateBet(amount *big.Int, targetOdds uint64) error {
	if amount == nil || amount.Sign() <= 0 || amount.BitLen() > 128 {
		return ErrInvalidBetAmount
	}
	if targetOdds == 0 {
		return ErrInvalidOdds
	}
	return nil
}

// GetBet reads a bet record. A bet that does not exist yet comes back with a
// zero player address; see model.Bet.Exists.
func (c *DiceContract) GetBet(ctx context.Context, betID *big.Int) (*model.Bet, error) {
	var out struct {
		Player      common.Address
		Amount      *big.Int
		TargetOdds  uint64
		BlockNumber uint64
		Claimed     bool
		Won         bool
		Payout      *big.Int
	}
	if err := callView(ctx, c.caller, c.abi, c.address, &out, "getBet", betID); err != nil {
		return nil, err
	}
	return &model.Bet{
		BetID:          new(big.Int).Set(betID),
		Player:         out.Player,
		Amount:         out.Amount,
		TargetOdds:     new(big.Int).SetUint64(out.TargetOdds),
		PlacementBlock: out.BlockNumber,
		Claimed:        out.Claimed,
		Won:            out.Won,
		Payout:         out.Payout,
	}, nil
}

// GetMaxBet reads the current maximum stake.
func (c *DiceContract) GetMaxBet(ctx context.Context) (*big.Int, error) {
	var out *big.Int
	err := callView(ctx, c.caller, c.abi, c.address, &out, "getMaxBet")
	return out, err
}

// ComputeResult asks the contract for its own result derivation.
func (c *DiceContract) ComputeResult(ctx context.Context, betID *big.Int, blockHash common.Hash) (*big.Int, error) {
	var out *big.Int
	err := callView(ctx, c.caller, c.abi, c.address, &out, "computeResult", betID, [32]byte(blockHash))
	return out, err
}

// GetSession reads the session grant for (player, delegate).
func (c *DiceContract) GetSession(ctx context.Context, player, delegate common.Address) (*SessionInfo, error) {
	var out SessionInfo
	if err := callView(ctx, c.caller, c.abi, c.address, &out, "getSession", player, delegate); err != nil {
		return nil, err
	}
	return &out, nil
}

// SessionNonce reads the next session nonce of player.
func (c *DiceContract) SessionNonce(ctx context.Context, player common.Address) (*big.Int, error) {
	var out *big.Int
	err := callView(ctx, c.caller, c.abi, c.address, &out, "sessionNonces", player)
	return out, err
}

// EventTopic returns the topic hash of the named event.
func (c *DiceContract) EventTopic(name string) common.Hash {
	return c.abi.Events[name].ID
}

func (c *DiceContract) checkLog(log types.Log, name string, topics int) error {
	if log.Address != c.address {
		return ErrNotDiceLog
	}
	if len(log.Topics) != topics || log.Topics[0] != c.abi.Events[name].ID {
		return ErrUnexpectedTopics
	}
	return nil
}

// ParseBetPlaced parses a BetPlaced log.
func (c *DiceContract) ParseBetPlaced(log types.Log) (*BetPlacedEvent, error) {
	if err := c.checkLog(log, EventBetPlaced, 3); err != nil {
		return nil, err
	}
	ev := &BetPlacedEvent{
		BetID:  log.Topics[1].Big(),
		Player: common.BytesToAddress(log.Topics[2].Bytes()),
		Raw:    log,
	}
	if err := c.abi.UnpackIntoInterface(ev, EventBetPlaced, log.Data); err != nil {
		return nil, err
	}
	return ev, nil
}

// ParseBetResolved parses a BetResolved log.
func (c *DiceContract) ParseBetResolved(log types.Log) (*BetResolvedEvent, error) {
	if err := c.checkLog(log, EventBetResolved, 2); err != nil {
		return nil, err
	}
	ev := &BetResolvedEvent{BetID: log.Topics[1].Big(), Raw: log}
	if err := c.abi.UnpackIntoInterface(ev, EventBetResolved, log.Data); err != nil {
		return nil, err
	}
	return ev, nil
}

// ParseBetClaimed parses a BetClaimed log.
func (c *DiceContract) ParseBetClaimed(log types.Log) (*BetClaimedEvent, error) {
	if err := c.checkLog(log, EventBetClaimed, 3); err != nil {
		return nil, err
	}
	ev := &BetClaimedEvent{
		BetID:  log.Topics[1].Big(),
		Player: common.BytesToAddress(log.Topics[2].Bytes()),
		Raw:    log,
	}
	if err := c.abi.UnpackIntoInterface(ev, EventBetClaimed, log.Data); err != nil {
		return nil, err
	}
	return ev, nil
}

// ParseSessionCreated parses a SessionCreated log.
func (c *DiceContract) ParseSessionCreated(log types.Log) (*SessionCreatedEvent, error) {
	if err := c.checkLog(log, EventSessionCreated, 3); err != nil {
		return nil, err
	}
	ev := &SessionCreatedEvent{
		Player:   common.BytesToAddress(log.Topics[1].Bytes()),
		Delegate: common.BytesToAddress(log.Topics[2].Bytes()),
		Raw:      log,
	}
	if err := c.abi.UnpackIntoInterface(ev, EventSessionCreated, log.Data); err != nil {
		return nil, err
	}
	return ev, nil
}

// ParseSessionRevoked parses a SessionRevoked log.
func (c *DiceContract) ParseSessionRevoked(log types.Log) (*SessionRevokedEvent, error) {
	if err := c.checkLog(log, EventSessionRevoked, 3); err != nil {
		return nil, err
	}
	return &SessionRevokedEvent{
		Player:   common.BytesToAddress(log.Topics[1].Bytes()),
		Delegate: common.BytesToAddress(log.Topics[2].Bytes()),
		Raw:      log,
	}, nil
}

// ParseBetPlacedViaSession parses a BetPlacedViaSession log.
func (c *DiceContract) ParseBetPlacedViaSession(log types.Log) (*BetPlacedViaSessionEvent, error) {
	if err := c.checkLog(log, EventBetPlacedViaSession, 4); err != nil {
		return nil, err
	}
	return &BetPlacedViaSessionEvent{
		BetID:    log.Topics[1].Big(),
		Player:   common.BytesToAddress(log.Topics[2].Bytes()),
		Delegate: common.BytesToAddress(log.Topics[3].Bytes()),
		Raw:      log,
	}, nil
}

// FindBetID scans receipt logs for the placement event and returns the bet
// id. Logs from other contracts or that fail to decode are skipped.
func (c *DiceContract) FindBetID(logs []*types.Log) (*big.Int, bool) {
	for _, l := range logs {
		if l == nil {
			continue
		}
		if ev, err := c.ParseBetPlaced(*l); err == nil {
			return ev.BetID, true
		}
	}
	for _, l := range logs {
		if l == nil {
			continue
		}
		if ev, err := c.ParseBetPlacedViaSession(*l); err == nil {
			return ev.BetID, true
		}
	}
	return nil, false
}
