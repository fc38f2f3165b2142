// Package keys provides transaction signers: a keystore directory and a
// single raw private key.
package keys

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer signs transactions on behalf of addr.
type Signer interface {
	SignTransaction(addr common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// PrivateKeySigner signs for exactly one address.
type PrivateKeySigner struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

func NewPrivateKeySigner(key *ecdsa.PrivateKey) *PrivateKeySigner {
	return &PrivateKeySigner{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
}

func PrivateKeySignerFromHex(hexKey string) (*PrivateKeySigner, error) {
	key, err := parsePrivateKey(hexKey)
	if err != nil {
		return nil, err
	}
	return NewPrivateKeySigner(key), nil
}

func (s *PrivateKeySigner) Address() common.Address {
	return s.addr
}

func (s *PrivateKeySigner) SignTransaction(addr common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if addr != s.addr {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, addr.Hex())
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}
