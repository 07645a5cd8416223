package contract

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// AccountABI covers the ERC-4337 v0.6 SimpleAccount, its factory and the
// EntryPoint calls the relay needs.
const AccountABI = `[
	{"type":"function","name":"execute","stateMutability":"nonpayable",
	 "inputs":[{"name":"dest","type":"address"},{"name":"value","type":"uint256"},{"name":"func","type":"bytes"}],
	 "outputs":[]},
	{"type":"function","name":"createAccount","stateMutability":"nonpayable",
	 "inputs":[{"name":"owner","type":"address"},{"name":"salt","type":"uint256"}],
	 "outputs":[{"name":"ret","type":"address"}]},
	{"type":"function","name":"getAddress","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"},{"name":"salt","type":"uint256"}],
	 "outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"getNonce","stateMutability":"view",
	 "inputs":[{"name":"sender","type":"address"},{"name":"key","type":"uint192"}],
	 "outputs":[{"name":"nonce","type":"uint256"}]}
]`

// AccountContracts binds the smart-account factory and the EntryPoint.
type AccountContracts struct {
	factory    common.Address
	entryPoint common.Address
	abi        abi.ABI
	caller     ethereum.ContractCaller
}

// NewAccountContracts creates the account bindings.
func NewAccountContracts(factory, entryPoint common.Address, caller ethereum.ContractCaller) (*AccountContracts, error) {
	parsed, err := abi.JSON(strings.NewReader(AccountABI))
	if err != nil {
		return nil, err
	}
	return &AccountContracts{factory: factory, entryPoint: entryPoint, abi: parsed, caller: caller}, nil
}

// Factory returns the account factory address.
func (a *AccountContracts) Factory() common.Address { return a.factory }

// EntryPoint returns the EntryPoint address.
func (a *AccountContracts) EntryPoint() common.Address { return a.entryPoint }

// PackExecute wraps a call as SimpleAccount.execute(dest, value, data).
func (a *AccountContracts) PackExecute(dest common.Address, value *big.Int, data []byte) ([]byte, error) {
	if value == nil {
		value = new(big.Int)
	}
	return a.abi.Pack("execute", dest, value, data)
}

// InitCode returns factory ++ createAccount(owner, 0) for an undeployed account.
func (a *AccountContracts) InitCode(owner common.Address) ([]byte, error) {
	call, err := a.abi.Pack("createAccount", owner, new(big.Int))
	if err != nil {
		return nil, err
	}
	return append(a.factory.Bytes(), call...), nil
}

// AccountAddress asks the factory for the counterfactual address of owner.
func (a *AccountContracts) AccountAddress(ctx context.Context, owner common.Address) (common.Address, error) {
	var out common.Address
	err := callView(ctx, a.caller, a.abi, a.factory, &out, "getAddress", owner, new(big.Int))
	return out, err
}

// Nonce reads EntryPoint.getNonce(sender, 0).
func (a *AccountContracts) Nonce(ctx context.Context, sender common.Address) (*big.Int, error) {
	var out *big.Int
	err := callView(ctx, a.caller, a.abi, a.entryPoint, &out, "getNonce", sender, new(big.Int))
	return out, err
}
