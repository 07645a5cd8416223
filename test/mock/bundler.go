package mock

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
)

// UserOperation bundler 收到的用户操作
type UserOperation struct {
	Sender               common.Address `json:"sender"`
	Nonce                *hexutil.Big   `json:"nonce"`
	InitCode             hexutil.Bytes  `json:"initCode"`
	CallData             hexutil.Bytes  `json:"callData"`
	CallGasLimit         *hexutil.Big   `json:"callGasLimit"`
	VerificationGasLimit *hexutil.Big   `json:"verificationGasLimit"`
	PreVerificationGas   *hexutil.Big   `json:"preVerificationGas"`
	MaxFeePerGas         *hexutil.Big   `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big   `json:"maxPriorityFeePerGas"`
	PaymasterAndData     hexutil.Bytes  `json:"paymasterAndData"`
	Signature            hexutil.Bytes  `json:"signature"`
}

type userOpReceipt struct {
	UserOpHash common.Hash    `json:"userOpHash"`
	Sender     common.Address `json:"sender"`
	Nonce      *hexutil.Big   `json:"nonce"`
	Success    bool           `json:"success"`
	Reason     string         `json:"reason,omitempty"`
	Receipt    *types.Receipt `json:"receipt"`
}

type sponsorResult struct {
	PaymasterAndData     hexutil.Bytes `json:"paymasterAndData"`
	CallGasLimit         *hexutil.Big  `json:"callGasLimit"`
	VerificationGasLimit *hexutil.Big  `json:"verificationGasLimit"`
	PreVerificationGas   *hexutil.Big  `json:"preVerificationGas"`
}

// Bundler 模拟 bundler + paymaster, 在 Chain 上执行用户操作
type Bundler struct {
	chain   *Chain
	execABI abi.ABI

	mu           sync.Mutex
	owners       map[common.Address]common.Address
	receipts     map[common.Hash]*userOpReceipt
	pendingPolls int
	sponsorErr   error
	sendErr      error
	sponsorCalls int
	ops          []*UserOperation
}

// NewBundler 创建模拟 bundler
func NewBundler(chain *Chain) *Bundler {
	return &Bundler{
		chain:    chain,
		execABI:  chain.accountABI,
		owners:   make(map[common.Address]common.Address),
		receipts: make(map[common.Hash]*userOpReceipt),
	}
}

// FailSponsorship paymaster 拒绝代付
func (b *Bundler) FailSponsorship(err error) {
	b.mu.Lock()
	b.sponsorErr = err
	b.mu.Unlock()
}

// FailSend bundler 拒绝用户操作
func (b *Bundler) FailSend(err error) {
	b.mu.Lock()
	b.sendErr = err
	b.mu.Unlock()
}

// DelayReceipts 回执在前 n 次查询中返回 null
func (b *Bundler) DelayReceipts(n int) {
	b.mu.Lock()
	b.pendingPolls = n
	b.mu.Unlock()
}

// Ops 已接收的用户操作
func (b *Bundler) Ops() []*UserOperation {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*UserOperation(nil), b.ops...)
}

// SponsorCalls 代付请求次数
func (b *Bundler) SponsorCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sponsorCalls
}

// Server 进程内 JSON-RPC 服务, 同时提供 eth_ 与 pm_ 方法
func (b *Bundler) Server() *rpc.Server {
	srv := rpc.NewServer()
	if err := srv.RegisterName("eth", &bundlerAPI{b}); err != nil {
		panic(err)
	}
	if err := srv.RegisterName("pm", &paymasterAPI{b}); err != nil {
		panic(err)
	}
	return srv
}

// Dial 返回连接到进程内服务的客户端
func (b *Bundler) Dial() *rpc.Client {
	return rpc.DialInProc(b.Server())
}

func opHash(op *UserOperation, entryPoint common.Address, chainID *big.Int) common.Hash {
	address, _ := abi.NewType("address", "", nil)
	uint256, _ := abi.NewType("uint256", "", nil)
	bytes32, _ := abi.NewType("bytes32", "", nil)
	inner := abi.Arguments{
		{Type: address}, {Type: uint256}, {Type: bytes32}, {Type: bytes32},
		{Type: uint256}, {Type: uint256}, {Type: uint256}, {Type: uint256}, {Type: uint256},
		{Type: bytes32},
	}
	val := func(v *hexutil.Big) *big.Int {
		if v == nil {
			return new(big.Int)
		}
		return (*big.Int)(v)
	}
	packed, err := inner.Pack(op.Sender, val(op.Nonce),
		crypto.Keccak256Hash(op.InitCode), crypto.Keccak256Hash(op.CallData),
		val(op.CallGasLimit), val(op.VerificationGasLimit), val(op.PreVerificationGas),
		val(op.MaxFeePerGas), val(op.MaxPriorityFeePerGas),
		crypto.Keccak256Hash(op.PaymasterAndData))
	if err != nil {
		panic(err)
	}
	outer, err := abi.Arguments{{Type: bytes32}, {Type: address}, {Type: uint256}}.Pack(crypto.Keccak256Hash(packed), entryPoint, chainID)
	if err != nil {
		panic(err)
	}
	return crypto.Keccak256Hash(outer)
}

type bundlerAPI struct{ b *Bundler }

// SendUserOperation eth_sendUserOperation
func (api *bundlerAPI) SendUserOperation(op UserOperation, entryPoint common.Address) (common.Hash, error) {
	b := api.b
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sendErr != nil {
		return common.Hash{}, b.sendErr
	}
	if entryPoint != EntryPointAddress {
		return common.Hash{}, errors.New("unsupported entry point")
	}
	if len(op.PaymasterAndData) == 0 {
		return common.Hash{}, errors.New("AA21 didn't pay prefund")
	}

	owner, ok := b.owners[op.Sender]
	if len(op.InitCode) > 0 {
		if ok {
			return common.Hash{}, errors.New("AA10 sender already constructed")
		}
		if len(op.InitCode) < 24 || common.BytesToAddress(op.InitCode[:20]) != FactoryAddress {
			return common.Hash{}, errors.New("AA13 initCode failed")
		}
		method, err := b.execABI.MethodById(op.InitCode[20:24])
		if err != nil || method.Name != "createAccount" {
			return common.Hash{}, errors.New("AA13 initCode failed")
		}
		args, err := method.Inputs.Unpack(op.InitCode[24:])
		if err != nil {
			return common.Hash{}, err
		}
		owner = args[0].(common.Address)
		if AccountAddress(owner) != op.Sender {
			return common.Hash{}, errors.New("AA14 initCode must return sender")
		}
	} else if !ok {
		return common.Hash{}, errors.New("AA20 account not deployed")
	}

	hash := opHash(&op, entryPoint, big.NewInt(ChainID))
	if len(op.Signature) != crypto.SignatureLength {
		return common.Hash{}, errors.New("AA23 invalid signature length")
	}
	sig := append([]byte(nil), op.Signature...)
	sig[crypto.RecoveryIDOffset] -= 27
	pub, err := crypto.SigToPub(accounts.TextHash(hash.Bytes()), sig)
	if err != nil || crypto.PubkeyToAddress(*pub) != owner {
		return common.Hash{}, errors.New("AA24 signature error")
	}
	b.owners[op.Sender] = owner

	if len(op.CallData) < 4 {
		return common.Hash{}, errors.New("unsupported call data")
	}
	method, err := b.execABI.MethodById(op.CallData[:4])
	if err != nil || method.Name != "execute" {
		return common.Hash{}, errors.New("unsupported call data")
	}
	args, err := method.Inputs.Unpack(op.CallData[4:])
	if err != nil {
		return common.Hash{}, err
	}
	receipt, execErr := b.chain.ExecuteAs(op.Sender, args[0].(common.Address), args[1].(*big.Int), args[2].([]byte))
	b.chain.BumpAccountNonce(op.Sender)

	r := &userOpReceipt{
		UserOpHash: hash,
		Sender:     op.Sender,
		Nonce:      op.Nonce,
		Success:    execErr == nil,
		Receipt:    receipt,
	}
	if execErr != nil {
		r.Reason = execErr.Error()
	}
	b.receipts[hash] = r
	cp := op
	b.ops = append(b.ops, &cp)
	return hash, nil
}

// GetUserOperationReceipt eth_getUserOperationReceipt
func (api *bundlerAPI) GetUserOperationReceipt(hash common.Hash) (*userOpReceipt, error) {
	b := api.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pendingPolls > 0 {
		b.pendingPolls--
		return nil, nil
	}
	return b.receipts[hash], nil
}

// SupportedEntryPoints eth_supportedEntryPoints
func (api *bundlerAPI) SupportedEntryPoints() []common.Address {
	return []common.Address{EntryPointAddress}
}

type paymasterAPI struct{ b *Bundler }

// SponsorUserOperation pm_sponsorUserOperation
func (api *paymasterAPI) SponsorUserOperation(op UserOperation, entryPoint common.Address) (*sponsorResult, error) {
	b := api.b
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sponsorCalls++
	if b.sponsorErr != nil {
		return nil, b.sponsorErr
	}
	return &sponsorResult{
		PaymasterAndData:     append(PaymasterAddress.Bytes(), make([]byte, 32)...),
		CallGasLimit:         (*hexutil.Big)(big.NewInt(200_000)),
		VerificationGasLimit: (*hexutil.Big)(big.NewInt(400_000)),
		PreVerificationGas:   (*hexutil.Big)(big.NewInt(50_000)),
	}, nil
}
