// Package mock 提供测试用的模拟链、bundler 和 paymaster
package mock

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/trifle-labs/clawdice-frontend-sub000/internal/contract"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/model"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/outcome"
)

// 模拟链使用的固定地址
var (
	DiceAddress       = common.HexToAddress("0x00000000000000000000000000000000000D1CE0")
	TokenAddress      = common.HexToAddress("0x0000000000000000000000000000000000070CE0")
	FactoryAddress    = common.HexToAddress("0x00000000000000000000000000000000000FAC70")
	EntryPointAddress = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	PaymasterAddress  = common.HexToAddress("0x00000000000000000000000000000000000BA1A0")
)

// ChainID 模拟链 ID
const ChainID = 8453

// GenesisBlock 模拟链起始高度
const GenesisBlock = 1000

// RevertError 模拟节点返回的 revert 错误, 携带 revert data
type RevertError struct {
	Name string
	data []byte
}

func (e *RevertError) Error() string          { return "execution reverted: " + e.Name }
func (e *RevertError) ErrorCode() int         { return 3 }
func (e *RevertError) ErrorData() interface{} { return hexutil.Encode(e.data) }

type betState struct {
	model.Bet
	lag int
}

// Chain 内存中的骰子合约链, 实现 blockchain.Backend
type Chain struct {
	mu sync.Mutex

	chainID    *big.Int
	token      common.Address
	diceABI    abi.ABI
	tokenABI   abi.ABI
	accountABI abi.ABI
	now        func() time.Time

	head    uint64
	headers map[uint64]*types.Header

	bets      map[string]*betState
	nextBetID int64
	rigged    map[string]bool
	rigNext   *bool
	betLag    int
	maxBet    *big.Int
	edgeBP    int64

	receipts      map[common.Hash]*types.Receipt
	allowances    map[[2]common.Address]*big.Int
	sessions      map[[2]common.Address]*contract.SessionInfo
	sessionNonces map[common.Address]*big.Int
	txNonces      map[common.Address]uint64
	accountNonces map[common.Address]*big.Int
	synthetic     uint64

	autoMine       bool
	failBlockReads int
	sendErr        error
	sendErrKnown   bool
	sent           []*types.Transaction
}

// NewChain 创建模拟链, 默认原生币下注
func NewChain() *Chain {
	c := &Chain{
		chainID:       big.NewInt(ChainID),
		diceABI:       mustABI(contract.DiceABI),
		tokenABI:      mustABI(contract.ERC20ABI),
		accountABI:    mustABI(contract.AccountABI),
		now:           time.Now,
		head:          GenesisBlock,
		headers:       make(map[uint64]*types.Header),
		bets:          make(map[string]*betState),
		nextBetID:     1,
		rigged:        make(map[string]bool),
		maxBet:        new(big.Int).Mul(big.NewInt(1_000_000), big.NewInt(1e18)),
		edgeBP:        outcome.DefaultHouseEdgeBP,
		receipts:      make(map[common.Hash]*types.Receipt),
		allowances:    make(map[[2]common.Address]*big.Int),
		sessions:      make(map[[2]common.Address]*contract.SessionInfo),
		sessionNonces: make(map[common.Address]*big.Int),
		txNonces:      make(map[common.Address]uint64),
		accountNonces: make(map[common.Address]*big.Int),
	}
	c.headers[c.head] = c.newHeader(c.head, 0)
	return c
}

func mustABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// UseToken 切换为 ERC-20 下注
func (c *Chain) UseToken() *Chain {
	c.mu.Lock()
	c.token = TokenAddress
	c.mu.Unlock()
	return c
}

// SetNow 替换链上时间
func (c *Chain) SetNow(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// SetMaxBet 设置 getMaxBet 返回值
func (c *Chain) SetMaxBet(v *big.Int) {
	c.mu.Lock()
	c.maxBet = v
	c.mu.Unlock()
}

// SetAutoMine 每次读取区块高度时出一个新块
func (c *Chain) SetAutoMine(on bool) {
	c.mu.Lock()
	c.autoMine = on
	c.mu.Unlock()
}

// SetBetLag 新下注在前 n 次 getBet 中返回空记录, 模拟节点同步滞后
func (c *Chain) SetBetLag(n int) {
	c.mu.Lock()
	c.betLag = n
	c.mu.Unlock()
}

// FailBlockReads 之后 n 次 BlockNumber 返回错误
func (c *Chain) FailBlockReads(n int) {
	c.mu.Lock()
	c.failBlockReads = n
	c.mu.Unlock()
}

// FailSends 之后的 SendTransaction 返回 err; known 为 true 时交易仍然上链
func (c *Chain) FailSends(err error, known bool) {
	c.mu.Lock()
	c.sendErr = err
	c.sendErrKnown = known
	c.mu.Unlock()
}

// RigNext 指定下一笔下注的输赢
func (c *Chain) RigNext(won bool) {
	c.mu.Lock()
	c.rigNext = &won
	c.mu.Unlock()
}

// Mine 出 n 个空块
func (c *Chain) Mine(n int) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := 0; i < n; i++ {
		c.mineLocked(nil, common.Hash{})
	}
	return c.head
}

// Head 当前高度
func (c *Chain) Head() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head
}

// BlockHash 区块哈希
func (c *Chain) BlockHash(n uint64) common.Hash {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.headers[n]; ok {
		return h.Hash()
	}
	return common.Hash{}
}

// Bet 读取下注状态副本
func (c *Chain) Bet(id int64) *model.Bet {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.bets[big.NewInt(id).String()]
	if !ok {
		return nil
	}
	cp := b.Bet
	return &cp
}

// Session 读取会话授权
func (c *Chain) Session(player, delegate common.Address) *contract.SessionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[[2]common.Address{player, delegate}]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

// SetSession 直接写入会话授权
func (c *Chain) SetSession(player, delegate common.Address, info contract.SessionInfo) {
	c.mu.Lock()
	c.sessions[[2]common.Address{player, delegate}] = &info
	c.mu.Unlock()
}

// SetAllowance 直接设置授权额度
func (c *Chain) SetAllowance(owner, spender common.Address, v *big.Int) {
	c.mu.Lock()
	c.allowances[[2]common.Address{owner, spender}] = v
	c.mu.Unlock()
}

// Sent 已收到的钱包交易
func (c *Chain) Sent() []*types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.Transaction(nil), c.sent...)
}

// PlaceBetFor 绕过交易直接为 player 下注, 返回 betId
func (c *Chain) PlaceBetFor(player common.Address, amount *big.Int, targetOdds uint64) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	logs := c.placeLocked(player, amount, targetOdds)
	c.mineLocked(logs, c.syntheticHash())
	return logs[0].Topics[1].Big()
}

// AccountAddress 工厂为 owner 计算的智能账户地址
func AccountAddress(owner common.Address) common.Address {
	return common.BytesToAddress(crypto.Keccak256(FactoryAddress.Bytes(), owner.Bytes())[12:])
}

func (c *Chain) newHeader(n uint64, extra uint64) *types.Header {
	var parent common.Hash
	if p, ok := c.headers[n-1]; ok {
		parent = p.Hash()
	}
	return &types.Header{
		ParentHash: parent,
		Number:     new(big.Int).SetUint64(n),
		GasLimit:   30_000_000,
		Time:       1_700_000_000 + n*2,
		Difficulty: new(big.Int),
		Extra:      new(big.Int).SetUint64(extra).Bytes(),
	}
}

// mineLocked 出块; 若有下注以该块为目标且被指定输赢, 调整 extra 直到结果吻合
func (c *Chain) mineLocked(logs []*types.Log, txHash common.Hash) *types.Receipt {
	c.head++
	n := c.head
	var header *types.Header
	for extra := uint64(0); ; extra++ {
		header = c.newHeader(n, extra)
		if c.riggedSatisfied(n, header.Hash()) || extra > 10_000 {
			break
		}
	}
	c.headers[n] = header

	if logs == nil {
		logs = []*types.Log{}
	}
	for i, l := range logs {
		l.BlockNumber = n
		l.BlockHash = header.Hash()
		l.TxHash = txHash
		l.Index = uint(i)
	}
	return &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      txHash,
		BlockNumber: new(big.Int).SetUint64(n),
		BlockHash:   header.Hash(),
		Logs:        logs,
		GasUsed:     100_000,
	}
}

func (c *Chain) riggedSatisfied(n uint64, hash common.Hash) bool {
	for id, want := range c.rigged {
		b := c.bets[id]
		if b == nil || b.TargetBlock() != n {
			continue
		}
		res, err := outcome.Compute(b.BetID, hash)
		if err != nil || outcome.IsWin(res.BasisPoints, b.TargetOdds, c.edgeBP) != want {
			return false
		}
	}
	return true
}

func (c *Chain) syntheticHash() common.Hash {
	c.synthetic++
	return crypto.Keccak256Hash([]byte("synthetic"), new(big.Int).SetUint64(c.synthetic).Bytes())
}

func (c *Chain) revert(name string, args ...interface{}) error {
	e := c.diceABI.Errors[name]
	data := append([]byte{}, e.ID[:4]...)
	if len(args) > 0 {
		packed, err := e.Inputs.Pack(args...)
		if err != nil {
			panic(err)
		}
		data = append(data, packed...)
	}
	return &RevertError{Name: name, data: data}
}

func (c *Chain) placeLocked(player common.Address, amount *big.Int, odds uint64) []*types.Log {
	id := big.NewInt(c.nextBetID)
	c.nextBetID++
	b := &betState{
		Bet: model.Bet{
			BetID:          id,
			Player:         player,
			Amount:         new(big.Int).Set(amount),
			TargetOdds:     new(big.Int).SetUint64(odds),
			PlacementBlock: c.head + 1,
			Payout:         new(big.Int),
		},
		lag: c.betLag,
	}
	c.bets[id.String()] = b
	if c.rigNext != nil {
		c.rigged[id.String()] = *c.rigNext
		c.rigNext = nil
	}
	ev := c.diceABI.Events[contract.EventBetPlaced]
	data, _ := ev.Inputs.NonIndexed().Pack(amount, odds, b.PlacementBlock)
	return []*types.Log{{
		Address: DiceAddress,
		Topics:  []common.Hash{ev.ID, common.BigToHash(id), common.BytesToHash(player.Bytes())},
		Data:    data,
	}}
}

func (c *Chain) checkStake(amount *big.Int, odds uint64, limit *big.Int) error {
	if odds == 0 || odds >= 1e18 {
		return c.revert("InvalidOdds")
	}
	if amount.Cmp(limit) > 0 {
		return c.revert("ExceedsMaxBet", new(big.Int).Set(limit))
	}
	return nil
}

// execute 执行一次调用; commit=false 时只做校验 (eth_estimateGas)
func (c *Chain) execute(from, to common.Address, value *big.Int, data []byte, commit bool) ([]*types.Log, error) {
	if len(data) < 4 {
		return nil, nil
	}
	switch to {
	case c.token:
		if c.token == (common.Address{}) {
			return nil, nil
		}
		method, err := c.tokenABI.MethodById(data[:4])
		if err != nil {
			return nil, err
		}
		if method.Name == "approve" && commit {
			args, _ := method.Inputs.Unpack(data[4:])
			c.allowances[[2]common.Address{from, args[0].(common.Address)}] = args[1].(*big.Int)
		}
		return nil, nil
	case DiceAddress:
	default:
		return nil, nil
	}

	method, err := c.diceABI.MethodById(data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, err
	}

	switch method.Name {
	case "placeBet", "placeBetWithETH":
		var amount *big.Int
		var odds uint64
		if method.Name == "placeBet" {
			amount, odds = args[0].(*big.Int), args[1].(uint64)
			key := [2]common.Address{from, DiceAddress}
			allowance := c.allowances[key]
			if c.token != (common.Address{}) && (allowance == nil || allowance.Cmp(amount) < 0) {
				return nil, &RevertError{Name: "insufficient allowance", data: errorString("ERC20: insufficient allowance")}
			}
			if commit && allowance != nil {
				c.allowances[key] = new(big.Int).Sub(allowance, amount)
			}
		} else {
			amount, odds = value, args[0].(uint64)
		}
		if err := c.checkStake(amount, odds, c.maxBet); err != nil {
			return nil, err
		}
		if !commit {
			return nil, nil
		}
		return c.placeLocked(from, amount, odds), nil

	case "placeBetWithSession":
		player, amount, odds := args[0].(common.Address), args[1].(*big.Int), args[2].(uint64)
		s := c.sessions[[2]common.Address{player, from}]
		if s == nil || !s.Active || uint64(c.now().Unix()) >= s.ExpiresAt {
			return nil, c.revert("InvalidSession")
		}
		if err := c.checkStake(amount, odds, s.MaxBetAmount); err != nil {
			return nil, err
		}
		if !commit {
			return nil, nil
		}
		logs := c.placeLocked(player, amount, odds)
		ev := c.diceABI.Events[contract.EventBetPlacedViaSession]
		logs = append(logs, &types.Log{
			Address: DiceAddress,
			Topics:  []common.Hash{ev.ID, logs[0].Topics[1], common.BytesToHash(player.Bytes()), common.BytesToHash(from.Bytes())},
		})
		return logs, nil

	case "claim":
		return c.claimLocked(args[0].(*big.Int), commit)

	case "createSession":
		delegate, maxBet, expiresAt, sig := args[0].(common.Address), args[1].(*big.Int), args[2].(uint64), args[3].([]byte)
		nonce := c.sessionNonces[from]
		if nonce == nil {
			nonce = new(big.Int)
		}
		auth := contract.SessionAuthorization{Player: from, Delegate: delegate, MaxBetAmount: maxBet, ExpiresAt: expiresAt, Nonce: nonce}
		signer, err := contract.RecoverSessionSigner(auth, c.chainID, DiceAddress, sig)
		if err != nil || signer != from {
			return nil, c.revert("InvalidSession")
		}
		if !commit {
			return nil, nil
		}
		c.sessions[[2]common.Address{from, delegate}] = &contract.SessionInfo{MaxBetAmount: maxBet, ExpiresAt: expiresAt, Active: true}
		c.sessionNonces[from] = new(big.Int).Add(nonce, big.NewInt(1))
		ev := c.diceABI.Events[contract.EventSessionCreated]
		data, _ := ev.Inputs.NonIndexed().Pack(maxBet, expiresAt)
		return []*types.Log{{
			Address: DiceAddress,
			Topics:  []common.Hash{ev.ID, common.BytesToHash(from.Bytes()), common.BytesToHash(delegate.Bytes())},
			Data:    data,
		}}, nil

	case "revokeSession":
		delegate := args[0].(common.Address)
		if !commit {
			return nil, nil
		}
		if s := c.sessions[[2]common.Address{from, delegate}]; s != nil {
			s.Active = false
		}
		ev := c.diceABI.Events[contract.EventSessionRevoked]
		return []*types.Log{{
			Address: DiceAddress,
			Topics:  []common.Hash{ev.ID, common.BytesToHash(from.Bytes()), common.BytesToHash(delegate.Bytes())},
		}}, nil
	}
	return nil, nil
}

func (c *Chain) claimLocked(betID *big.Int, commit bool) ([]*types.Log, error) {
	b := c.bets[betID.String()]
	switch {
	case b == nil:
		return nil, c.revert("BetNotFound")
	case b.Claimed:
		return nil, c.revert("BetAlreadyClaimed")
	case b.TargetBlock() > c.head:
		return nil, c.revert("BetTooEarly")
	case model.IsExpired(b.PlacementBlock, c.head+1, contract.ClaimWindow):
		return nil, c.revert("BetExpired")
	}

	res, err := outcome.Compute(b.BetID, c.headers[b.TargetBlock()].Hash())
	if err != nil {
		return nil, err
	}
	won := outcome.IsWin(res.BasisPoints, b.TargetOdds, c.edgeBP)
	payout := new(big.Int)
	if won {
		payout = outcome.GrossPayout(b.Amount, b.TargetOdds)
	}
	if !commit {
		return nil, nil
	}
	b.Claimed, b.Won, b.Payout = true, won, payout

	resolved := c.diceABI.Events[contract.EventBetResolved]
	data, _ := resolved.Inputs.NonIndexed().Pack(won, new(big.Int).SetUint64(res.BasisPoints), payout)
	logs := []*types.Log{{
		Address: DiceAddress,
		Topics:  []common.Hash{resolved.ID, common.BigToHash(betID)},
		Data:    data,
	}}
	if won {
		claimed := c.diceABI.Events[contract.EventBetClaimed]
		data, _ := claimed.Inputs.NonIndexed().Pack(payout)
		logs = append(logs, &types.Log{
			Address: DiceAddress,
			Topics:  []common.Hash{claimed.ID, common.BigToHash(betID), common.BytesToHash(b.Player.Bytes())},
			Data:    data,
		})
	}
	return logs, nil
}

func errorString(reason string) []byte {
	strType, _ := abi.NewType("string", "", nil)
	packed, _ := abi.Arguments{{Type: strType}}.Pack(reason)
	return append([]byte{0x08, 0xc3, 0x79, 0xa0}, packed...)
}

// ExecuteAs 以 from 身份执行调用并出块, revert 时回执 status=0
func (c *Chain) ExecuteAs(from, to common.Address, value *big.Int, data []byte) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	logs, err := c.execute(from, to, value, data, true)
	hash := c.syntheticHash()
	receipt := c.mineLocked(logs, hash)
	if err != nil {
		receipt.Status = types.ReceiptStatusFailed
		receipt.Logs = []*types.Log{}
	}
	c.receipts[hash] = receipt
	return receipt, err
}

// BumpAccountNonce EntryPoint nonce 自增
func (c *Chain) BumpAccountNonce(sender common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.accountNonces[sender]
	if n == nil {
		n = new(big.Int)
	}
	c.accountNonces[sender] = new(big.Int).Add(n, big.NewInt(1))
}

// ---- blockchain.Backend ----

// CallContract eth_call
func (c *Chain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if msg.To == nil || len(msg.Data) < 4 {
		return nil, errors.New("invalid call")
	}

	var parsed abi.ABI
	switch *msg.To {
	case DiceAddress:
		parsed = c.diceABI
	case FactoryAddress, EntryPointAddress:
		parsed = c.accountABI
	case c.token:
		parsed = c.tokenABI
	default:
		return nil, nil
	}
	method, err := parsed.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}

	var out []interface{}
	switch method.Name {
	case "getBet":
		b := c.bets[args[0].(*big.Int).String()]
		if b == nil || b.lag > 0 {
			if b != nil {
				b.lag--
			}
			out = []interface{}{common.Address{}, new(big.Int), uint64(0), uint64(0), false, false, new(big.Int)}
		} else {
			out = []interface{}{b.Player, b.Amount, b.TargetOdds.Uint64(), b.PlacementBlock, b.Claimed, b.Won, b.Payout}
		}
	case "getMaxBet":
		out = []interface{}{c.maxBet}
	case "computeResult":
		res, err := outcome.Compute(args[0].(*big.Int), common.Hash(args[1].([32]byte)))
		if err != nil {
			return nil, err
		}
		out = []interface{}{res.Random}
	case "getSession":
		s := c.sessions[[2]common.Address{args[0].(common.Address), args[1].(common.Address)}]
		if s == nil {
			out = []interface{}{new(big.Int), uint64(0), false}
		} else {
			out = []interface{}{s.MaxBetAmount, s.ExpiresAt, s.Active}
		}
	case "sessionNonces":
		n := c.sessionNonces[args[0].(common.Address)]
		if n == nil {
			n = new(big.Int)
		}
		out = []interface{}{n}
	case "allowance":
		a := c.allowances[[2]common.Address{args[0].(common.Address), args[1].(common.Address)}]
		if a == nil {
			a = new(big.Int)
		}
		out = []interface{}{a}
	case "balanceOf":
		out = []interface{}{new(big.Int).Mul(big.NewInt(1_000_000), big.NewInt(1e18))}
	case "symbol":
		out = []interface{}{"CLAW"}
	case "decimals":
		out = []interface{}{uint8(18)}
	case "getAddress":
		out = []interface{}{AccountAddress(args[0].(common.Address))}
	case "getNonce":
		n := c.accountNonces[args[0].(common.Address)]
		if n == nil {
			n = new(big.Int)
		}
		out = []interface{}{n}
	default:
		return nil, fmt.Errorf("unsupported call %s", method.Name)
	}
	return method.Outputs.Pack(out...)
}

// BlockNumber 当前高度
func (c *Chain) BlockNumber(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failBlockReads > 0 {
		c.failBlockReads--
		return 0, errors.New("dial tcp: connection refused")
	}
	if c.autoMine {
		c.mineLocked(nil, common.Hash{})
	}
	return c.head, nil
}

// HeaderByNumber 区块头
func (c *Chain) HeaderByNumber(_ context.Context, number *big.Int) (*types.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.head
	if number != nil {
		n = number.Uint64()
	}
	h, ok := c.headers[n]
	if !ok {
		return nil, ethereum.NotFound
	}
	return h, nil
}

// TransactionReceipt 交易回执
func (c *Chain) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

// TransactionKnown 节点是否知道交易
func (c *Chain) TransactionKnown(_ context.Context, hash common.Hash) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.receipts[hash]
	return ok, nil
}

// PendingNonceAt pending nonce
func (c *Chain) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txNonces[account], nil
}

// SuggestGasPrice 1 gwei
func (c *Chain) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1e9), nil
}

// SuggestGasTipCap 模拟链只支持 legacy 交易
func (c *Chain) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return nil, errors.New("method eth_maxPriorityFeePerGas not supported")
}

// EstimateGas 校验调用, revert 时返回 RevertError
func (c *Chain) EstimateGas(_ context.Context, msg ethereum.CallMsg) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if msg.To == nil {
		return 0, errors.New("contract creation not supported")
	}
	value := msg.Value
	if value == nil {
		value = new(big.Int)
	}
	if _, err := c.execute(msg.From, *msg.To, value, msg.Data, false); err != nil {
		return 0, err
	}
	return 100_000, nil
}

// SendTransaction 执行并立即打包
func (c *Chain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	from, err := types.Sender(types.LatestSignerForChainID(c.chainID), tx)
	if err != nil {
		return err
	}
	if c.sendErr != nil && !c.sendErrKnown {
		return c.sendErr
	}
	if tx.Nonce() != c.txNonces[from] {
		return fmt.Errorf("nonce too low: address %s, tx: %d state: %d", from.Hex(), tx.Nonce(), c.txNonces[from])
	}
	c.txNonces[from]++
	c.sent = append(c.sent, tx)

	logs, execErr := c.execute(from, *tx.To(), tx.Value(), tx.Data(), true)
	receipt := c.mineLocked(logs, tx.Hash())
	if execErr != nil {
		receipt.Status = types.ReceiptStatusFailed
		receipt.Logs = []*types.Log{}
	}
	c.receipts[tx.Hash()] = receipt
	return c.sendErr
}
