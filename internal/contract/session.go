package contract

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP-712 domain of the dice contract.
const (
	DomainName    = "Clawdice"
	DomainVersion = "1"
)

var ErrInvalidSignature = errors.New("invalid session signature")

// SessionAuthorization is the message a player signs to register a delegate.
type SessionAuthorization struct {
	Player       common.Address
	Delegate     common.Address
	MaxBetAmount *big.Int
	ExpiresAt    uint64
	Nonce        *big.Int
}

// TypedData builds the EIP-712 payload for auth on the given chain and contract.
func (auth SessionAuthorization) TypedData(chainID *big.Int, verifyingContract common.Address) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"SessionAuthorization": {
				{Name: "player", Type: "address"},
				{Name: "delegate", Type: "address"},
				{Name: "maxBetAmount", Type: "uint256"},
				{Name: "expiresAt", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
			},
		},
		PrimaryType: "SessionAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              DomainName,
			Version:           DomainVersion,
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).Set(chainID)),
			VerifyingContract: verifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"player":       auth.Player.Hex(),
			"delegate":     auth.Delegate.Hex(),
			"maxBetAmount": (*math.HexOrDecimal256)(new(big.Int).Set(auth.MaxBetAmount)),
			"expiresAt":    (*math.HexOrDecimal256)(new(big.Int).SetUint64(auth.ExpiresAt)),
			"nonce":        (*math.HexOrDecimal256)(new(big.Int).Set(auth.Nonce)),
		},
	}
}

// RecoverSessionSigner returns the address that produced sig over auth.
// sig uses the 27/28 recovery id convention.
func RecoverSessionSigner(auth SessionAuthorization, chainID *big.Int, verifyingContract common.Address, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, ErrInvalidSignature
	}
	digest, _, err := apitypes.TypedDataAndHash(auth.TypedData(chainID, verifyingContract))
	if err != nil {
		return common.Address{}, err
	}
	normalized := make([]byte, len(sig))
	copy(normalized, sig)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(digest, normalized)
	if err != nil {
		return common.Address{}, ErrInvalidSignature
	}
	return crypto.PubkeyToAddress(*pub), nil
}
