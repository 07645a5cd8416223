package contract

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ERC20ABI is the subset of ERC-20 used for staking.
const ERC20ABI = `[
	{"type":"function","name":"approve","stateMutability":"nonpayable",
	 "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"allowance","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view",
	 "inputs":[{"name":"account","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"decimals","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"symbol","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"string"}]}
]`

// TokenContract binds the betting token.
type TokenContract struct {
	address common.Address
	abi     abi.ABI
	caller  ethereum.ContractCaller
}

// NewTokenContract creates a new ERC-20 binding.
func NewTokenContract(address common.Address, caller ethereum.ContractCaller) (*TokenContract, error) {
	parsed, err := abi.JSON(strings.NewReader(ERC20ABI))
	if err != nil {
		return nil, err
	}
	return &TokenContract{address: address, abi: parsed, caller: caller}, nil
}

// Address returns the token address.
func (t *TokenContract) Address() common.Address { return t.address }

// PackApprove packs approve(spender, amount).
func (t *TokenContract) PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return t.abi.Pack("approve", spender, amount)
}

// Allowance reads allowance(owner, spender).
func (t *TokenContract) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	var out *big.Int
	err := callView(ctx, t.caller, t.abi, t.address, &out, "allowance", owner, spender)
	return out, err
}

// BalanceOf reads balanceOf(account).
func (t *TokenContract) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	var out *big.Int
	err := callView(ctx, t.caller, t.abi, t.address, &out, "balanceOf", account)
	return out, err
}

// Symbol reads symbol().
func (t *TokenContract) Symbol(ctx context.Context) (string, error) {
	var out string
	err := callView(ctx, t.caller, t.abi, t.address, &out, "symbol")
	return out, err
}
