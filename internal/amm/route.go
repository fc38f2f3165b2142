package amm

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"ammswap/internal/swaperr"
)

// PairState is a snapshot of one pair's reserves. It is fetched per attempt
// and never reused: reserves move every block.
type PairState struct {
	Address   common.Address
	TokenA    Token
	TokenB    Token
	ReserveA  *big.Int
	ReserveB  *big.Int
	FetchedAt time.Time
}

// NewPairState validates the snapshot. A pair with an empty side is treated
// as non-existent.
func NewPairState(addr common.Address, tokenA, tokenB Token, reserveA, reserveB *big.Int, fetchedAt time.Time) (PairState, error) {
	if tokenA.Equal(tokenB) {
		return PairState{}, swaperr.Newf(swaperr.KindPairNotFound, "amm.pair", "identical tokens %s", tokenA)
	}
	if reserveA == nil || reserveB == nil || reserveA.Sign() <= 0 || reserveB.Sign() <= 0 {
		return PairState{}, swaperr.Newf(swaperr.KindPairNotFound, "amm.pair",
			"pair %s/%s has no liquidity", tokenA, tokenB)
	}
	return PairState{
		Address:   addr,
		TokenA:    tokenA,
		TokenB:    tokenB,
		ReserveA:  new(big.Int).Set(reserveA),
		ReserveB:  new(big.Int).Set(reserveB),
		FetchedAt: fetchedAt,
	}, nil
}

func (p PairState) Involves(t Token) bool {
	return p.TokenA.Equal(t) || p.TokenB.Equal(t)
}

// Other returns the token on the opposite side of t.
func (p PairState) Other(t Token) Token {
	if p.TokenA.Equal(t) {
		return p.TokenB
	}
	return p.TokenA
}

// ReserveOf returns a copy of the reserve held for t.
func (p PairState) ReserveOf(t Token) *big.Int {
	if p.TokenA.Equal(t) {
		return new(big.Int).Set(p.ReserveA)
	}
	return new(big.Int).Set(p.ReserveB)
}

// Route is an ordered chain of pairs from Input to Output.
type Route struct {
	Pairs  []PairState
	Input  Token
	Output Token
}

// NewRoute walks pairs starting at input. Each hop must share a token with
// the previous hop's output.
func NewRoute(pairs []PairState, input Token) (Route, error) {
	if len(pairs) == 0 {
		return Route{}, swaperr.Newf(swaperr.KindPairNotFound, "amm.route", "route needs at least one pair")
	}
	current := input
	for i, p := range pairs {
		if p.TokenA.ChainID != input.ChainID || p.TokenB.ChainID != input.ChainID {
			return Route{}, swaperr.Newf(swaperr.KindPairNotFound, "amm.route", "hop %d is on another chain", i)
		}
		if !p.Involves(current) {
			return Route{}, swaperr.Newf(swaperr.KindPairNotFound, "amm.route", "hop %d does not contain %s", i, current)
		}
		current = p.Other(current)
	}
	return Route{
		Pairs:  append([]PairState(nil), pairs...),
		Input:  input,
		Output: current,
	}, nil
}

// Path lists token addresses in traversal order.
func (r Route) Path() []common.Address {
	path := make([]common.Address, 0, len(r.Pairs)+1)
	current := r.Input
	path = append(path, current.Address)
	for _, p := range r.Pairs {
		current = p.Other(current)
		path = append(path, current.Address)
	}
	return path
}
