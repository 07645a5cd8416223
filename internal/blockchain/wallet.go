package blockchain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	bizerr "github.com/trifle-labs/clawdice-frontend-sub000/pkg/errors"
)

var ErrInvalidPrivateKey = errors.New("invalid private key")

// userRejectedCode EIP-1193 用户拒绝
const userRejectedCode = 4001

// Wallet 用户钱包, 签名可能被用户拒绝
type Wallet interface {
	Address() common.Address
	SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
	// SignTypedData 返回 65 字节签名, v 为 27/28
	SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error)
}

// LocalWallet 私钥钱包, 供无界面的 agent 使用
type LocalWallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewLocalWallet 从十六进制私钥创建钱包
func NewLocalWallet(hexKey string) (*LocalWallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, ErrInvalidPrivateKey
	}
	return NewLocalWalletFromKey(key), nil
}

// NewLocalWalletFromKey 从私钥创建钱包
func NewLocalWalletFromKey(key *ecdsa.PrivateKey) *LocalWallet {
	return &LocalWallet{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// Address 钱包地址
func (w *LocalWallet) Address() common.Address {
	return w.address
}

// SignTx 签名交易
func (w *LocalWallet) SignTx(_ context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), w.key)
}

// SignTypedData EIP-712 签名
func (w *LocalWallet) SignTypedData(_ context.Context, data apitypes.TypedData) ([]byte, error) {
	digest, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(digest, w.key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// IsUserRejected 判断错误是否为用户拒绝签名
func IsUserRejected(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, bizerr.ErrUserRejected) {
		return true
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == userRejectedCode {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"user rejected", "user denied", "rejected by user", "denied transaction signature"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
