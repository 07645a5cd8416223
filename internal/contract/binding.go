package contract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// callView packs method, runs eth_call at the latest block and unpacks into out.
func callView(ctx context.Context, caller ethereum.ContractCaller, parsed abi.ABI, to common.Address, out interface{}, method string, args ...interface{}) error {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("pack %s: %w", method, err)
	}
	result, err := caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return err
	}
	if len(result) == 0 {
		return fmt.Errorf("%s: empty result from %s", method, to.Hex())
	}
	return parsed.UnpackIntoInterface(out, method, result)
}

// Revert is a decoded contract revert.
type Revert struct {
	// Name is the custom error name, or "Error" for require(..., "reason").
	Name   string
	Reason string
	Args   []interface{}
}

func (r *Revert) String() string {
	if r.Name == "Error" {
		return r.Reason
	}
	if len(r.Args) == 0 {
		return r.Name + "()"
	}
	parts := make([]string, len(r.Args))
	for i, a := range r.Args {
		parts[i] = fmt.Sprint(a)
	}
	return r.Name + "(" + strings.Join(parts, ",") + ")"
}

// DecodeRevert extracts revert data from an RPC error and decodes it against
// the given ABIs' custom errors, falling back to Error(string).
func DecodeRevert(err error, abis ...abi.ABI) (*Revert, bool) {
	data := revertData(err)
	if len(data) < 4 {
		return nil, false
	}
	if reason, uerr := abi.UnpackRevert(data); uerr == nil {
		return &Revert{Name: "Error", Reason: reason}, true
	}
	for _, parsed := range abis {
		for _, abiErr := range parsed.Errors {
			if !bytes.Equal(abiErr.ID[:4], data[:4]) {
				continue
			}
			args, uerr := abiErr.Inputs.Unpack(data[4:])
			if uerr != nil {
				continue
			}
			return &Revert{Name: abiErr.Name, Reason: abiErr.Name, Args: args}, true
		}
	}
	return nil, false
}

// IsRevert reports whether err is a revert matching the named custom error.
func IsRevert(err error, name string, abis ...abi.ABI) bool {
	rev, ok := DecodeRevert(err, abis...)
	if ok {
		return rev.Name == name
	}
	return err != nil && strings.Contains(err.Error(), name)
}

func revertData(err error) []byte {
	var de rpc.DataError
	if !errors.As(err, &de) {
		return nil
	}
	switch v := de.ErrorData().(type) {
	case string:
		b, derr := hexutil.Decode(v)
		if derr != nil {
			return nil
		}
		return b
	case []byte:
		return v
	}
	return nil
}
