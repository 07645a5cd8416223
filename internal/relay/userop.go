// Package relay 代付中继客户端 (ERC-4337 v0.6 bundler + paymaster)
package relay

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// dummySignature 代付估算阶段使用的占位签名, 可被 ecrecover 解析
var dummySignature = hexutil.MustDecode("0xfffffffffffffffffffffffffffffff0000000000000000000000000000000007aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa1c")

// UserOperation ERC-4337 v0.6 用户操作
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

// SponsorResult pm_sponsorUserOperation 返回值
type SponsorResult struct {
	PaymasterAndData     hexutil.Bytes `json:"paymasterAndData"`
	CallGasLimit         *hexutil.Big  `json:"callGasLimit"`
	VerificationGasLimit *hexutil.Big  `json:"verificationGasLimit"`
	PreVerificationGas   *hexutil.Big  `json:"preVerificationGas"`
}

// Receipt eth_getUserOperationReceipt 返回值
type Receipt struct {
	UserOpHash common.Hash    `json:"userOpHash"`
	Sender     common.Address `json:"sender"`
	Nonce      *hexutil.Big   `json:"nonce"`
	Success    bool           `json:"success"`
	Reason     string         `json:"reason,omitempty"`
	Receipt    *types.Receipt `json:"receipt"`
}

var opHashArgs, envelopeArgs abi.Arguments

func init() {
	address, _ := abi.NewType("address", "", nil)
	uint256, _ := abi.NewType("uint256", "", nil)
	bytes32, _ := abi.NewType("bytes32", "", nil)
	opHashArgs = abi.Arguments{
		{Type: address}, {Type: uint256}, {Type: bytes32}, {Type: bytes32},
		{Type: uint256}, {Type: uint256}, {Type: uint256}, {Type: uint256}, {Type: uint256},
		{Type: bytes32},
	}
	envelopeArgs = abi.Arguments{{Type: bytes32}, {Type: address}, {Type: uint256}}
}

func bigOf(v *hexutil.Big) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return (*big.Int)(v)
}

// Hash keccak256(abi.encode(keccak256(pack(op)), entryPoint, chainId))
func (op *UserOperation) Hash(entryPoint common.Address, chainID *big.Int) common.Hash {
	packed, err := opHashArgs.Pack(
		op.Sender,
		bigOf(op.Nonce),
		crypto.Keccak256Hash(op.InitCode),
		crypto.Keccak256Hash(op.CallData),
		bigOf(op.CallGasLimit),
		bigOf(op.VerificationGasLimit),
		bigOf(op.PreVerificationGas),
		bigOf(op.MaxFeePerGas),
		bigOf(op.MaxPriorityFeePerGas),
		crypto.Keccak256Hash(op.PaymasterAndData),
	)
	if err != nil {
		panic(err)
	}
	envelope, err := envelopeArgs.Pack(crypto.Keccak256Hash(packed), entryPoint, chainID)
	if err != nil {
		panic(err)
	}
	return crypto.Keccak256Hash(envelope)
}

// Sign SimpleAccount 以 personal_sign 方式校验 userOpHash
func (op *UserOperation) Sign(key *ecdsa.PrivateKey, entryPoint common.Address, chainID *big.Int) error {
	hash := op.Hash(entryPoint, chainID)
	sig, err := crypto.Sign(accounts.TextHash(hash.Bytes()), key)
	if err != nil {
		return err
	}
	sig[crypto.RecoveryIDOffset] += 27
	op.Signature = sig
	return nil
}

// Signer 从签名恢复 owner
func (op *UserOperation) Signer(entryPoint common.Address, chainID *big.Int) (common.Address, error) {
	if len(op.Signature) != crypto.SignatureLength {
		return common.Address{}, ErrInvalidSignature
	}
	sig := make([]byte, len(op.Signature))
	copy(sig, op.Signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	hash := op.Hash(entryPoint, chainID)
	pub, err := crypto.SigToPub(accounts.TextHash(hash.Bytes()), sig)
	if err != nil {
		return common.Address{}, ErrInvalidSignature
	}
	return crypto.PubkeyToAddress(*pub), nil
}
