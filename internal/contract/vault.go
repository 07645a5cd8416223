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
)

// ErrNotVaultLog is returned when a log is not a vault Deposit/Withdraw.
var ErrNotVaultLog = errors.New("log is not a vault event")

// VaultABI is the ERC-4626 surface of the house liquidity vault.
//
//	event Deposit(address indexed sender, address indexed owner, uint256 assets, uint256 shares)
//	event Withdraw(address indexed sender, address indexed receiver, address indexed owner, uint256 assets, uint256 shares)
const VaultABI = `[
	{"type":"function","name":"totalAssets","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view",
	 "inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"convertToAssets","stateMutability":"view",
	 "inputs":[{"name":"shares","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"event","name":"Deposit","anonymous":false,"inputs":[
		{"name":"sender","type":"address","indexed":true},
		{"name":"owner","type":"address","indexed":true},
		{"name":"assets","type":"uint256","indexed":false},
		{"name":"shares","type":"uint256","indexed":false}]},
	{"type":"event","name":"Withdraw","anonymous":false,"inputs":[
		{"name":"sender","type":"address","indexed":true},
		{"name":"receiver","type":"address","indexed":true},
		{"name":"owner","type":"address","indexed":true},
		{"name":"assets","type":"uint256","indexed":false},
		{"name":"shares","type":"uint256","indexed":false}]}
]`

// VaultDepositEvent represents the ERC-4626 Deposit event.
type VaultDepositEvent struct {
	Sender common.Address
	Owner  common.Address
	Assets *big.Int
	Shares *big.Int
	Raw    types.Log
}

// VaultWithdrawEvent represents the ERC-4626 Withdraw event.
type VaultWithdrawEvent struct {
	Sender   common.Address
	Receiver common.Address
	Owner    common.Address
	Assets   *big.Int
	Shares   *big.Int
	Raw      types.Log
}

// VaultContract binds the house vault.
type VaultContract struct {
	address common.Address
	abi     abi.ABI
	caller  ethereum.ContractCaller
}

// NewVaultContract creates a new vault binding.
func NewVaultContract(address common.Address, caller ethereum.ContractCaller) (*VaultContract, error) {
	parsed, err := abi.JSON(strings.NewReader(VaultABI))
	if err != nil {
		return nil, err
	}
	return &VaultContract{address: address, abi: parsed, caller: caller}, nil
}

// Address returns the vault address.
func (c *VaultContract) Address() common.Address { return c.address }

// TotalAssets reads totalAssets().
func (c *VaultContract) TotalAssets(ctx context.Context) (*big.Int, error) {
	var out *big.Int
	err := callView(ctx, c.caller, c.abi, c.address, &out, "totalAssets")
	return out, err
}

// SharesOf reads balanceOf(account).
func (c *VaultContract) SharesOf(ctx context.Context, account common.Address) (*big.Int, error) {
	var out *big.Int
	err := callView(ctx, c.caller, c.abi, c.address, &out, "balanceOf", account)
	return out, err
}

// ConvertToAssets reads convertToAssets(shares).
func (c *VaultContract) ConvertToAssets(ctx context.Context, shares *big.Int) (*big.Int, error) {
	var out *big.Int
	err := callView(ctx, c.caller, c.abi, c.address, &out, "convertToAssets", shares)
	return out, err
}

// DepositEventTopic returns the topic for Deposit events.
func (c *VaultContract) DepositEventTopic() common.Hash { return c.abi.Events["Deposit"].ID }

// WithdrawEventTopic returns the topic for Withdraw events.
func (c *VaultContract) WithdrawEventTopic() common.Hash { return c.abi.Events["Withdraw"].ID }

// ParseDeposit parses a Deposit log.
func (c *VaultContract) ParseDeposit(log types.Log) (*VaultDepositEvent, error) {
	if len(log.Topics) != 3 || log.Topics[0] != c.DepositEventTopic() {
		return nil, ErrNotVaultLog
	}
	ev := &VaultDepositEvent{
		Sender: common.BytesToAddress(log.Topics[1].Bytes()),
		Owner:  common.BytesToAddress(log.Topics[2].Bytes()),
		Raw:    log,
	}
	if err := c.abi.UnpackIntoInterface(ev, "Deposit", log.Data); err != nil {
		return nil, err
	}
	return ev, nil
}

// ParseWithdraw parses a Withdraw log.
func (c *VaultContract) ParseWithdraw(log types.Log) (*VaultWithdrawEvent, error) {
	if len(log.Topics) != 4 || log.Topics[0] != c.WithdrawEventTopic() {
		return nil, ErrNotVaultLog
	}
	ev := &VaultWithdrawEvent{
		Sender:   common.BytesToAddress(log.Topics[1].Bytes()),
		Receiver: common.BytesToAddress(log.Topics[2].Bytes()),
		Owner:    common.BytesToAddress(log.Topics[3].Bytes()),
		Raw:      log,
	}
	if err := c.abi.UnpackIntoInterface(ev, "Withdraw", log.Data); err != nil {
		return nil, err
	}
	return ev, nil
}
