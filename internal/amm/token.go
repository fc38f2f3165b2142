// Package amm holds the swap data model and the constant-product trade math.
// Everything here is pure; network access lives in the pair package.
package amm

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// NativeDecimals is the precision of the network's native coin.
const NativeDecimals = 18

// Network is the caller-supplied description of the chain a swap runs on.
type Network struct {
	ChainID       uint64
	RPC           string
	WrappedNative common.Address
}

// Token describes one side of a swap. The native coin carries the wrapped
// native address so that it routes like any other token; Native tells the call
// builder to move value instead of an ERC-20 balance.
type Token struct {
	ChainID  uint64
	Address  common.Address
	Decimals uint8
	Symbol   string
	Native   bool
}

func NewToken(chainID uint64, addr common.Address, decimals uint8, symbol string) Token {
	return Token{ChainID: chainID, Address: addr, Decimals: decimals, Symbol: symbol}
}

// NativeToken returns the native coin of network.
func NativeToken(network Network, symbol string) Token {
	if symbol == "" {
		symbol = "ETH"
	}
	return Token{
		ChainID:  network.ChainID,
		Address:  network.WrappedNative,
		Decimals: NativeDecimals,
		Symbol:   symbol,
		Native:   true,
	}
}

// Equal reports whether t and o refer to the same token for routing purposes.
func (t Token) Equal(o Token) bool {
	return t.ChainID == o.ChainID && t.Address == o.Address
}

// SortsBefore mirrors the pair contract's token0/token1 ordering.
func (t Token) SortsBefore(o Token) bool {
	return t.Address.Cmp(o.Address) < 0
}

func (t Token) String() string {
	if t.Symbol != "" {
		return t.Symbol
	}
	return fmt.Sprintf("%d:%s", t.ChainID, t.Address.Hex())
}
