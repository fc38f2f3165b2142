// Package pair reads constant-product pair state from the factory and pair
// contracts.
package pair

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"ammswap/internal/amm"
	"ammswap/internal/swaperr"
)

type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Resolver looks pairs up on demand. It keeps no state between calls.
type Resolver struct {
	caller  ContractCaller
	factory common.Address
	now     func() time.Time
	logger  *slog.Logger
}

func NewResolver(caller ContractCaller, factory common.Address, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{caller: caller, factory: factory, now: time.Now, logger: logger}
}

func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	if now != nil {
		r.now = now
	}
	return r
}

// ResolvePair returns reserves oriented so that ReserveA belongs to a.
func (r *Resolver) ResolvePair(ctx context.Context, a, b amm.Token, network amm.Network) (amm.PairState, error) {
	const op = "pair.resolve"
	if a.ChainID != network.ChainID || b.ChainID != network.ChainID {
		return amm.PairState{}, swaperr.Newf(swaperr.KindPairNotFound, op,
			"tokens %s and %s are not both on chain %d", a, b, network.ChainID)
	}
	if a.Equal(b) {
		return amm.PairState{}, swaperr.Newf(swaperr.KindPairNotFound, op, "identical tokens %s", a)
	}

	pairAddr, err := r.getPair(ctx, a.Address, b.Address)
	if err != nil {
		return amm.PairState{}, swaperr.Classify(op, err)
	}
	if pairAddr == (common.Address{}) {
		return amm.PairState{}, swaperr.Newf(swaperr.KindPairNotFound, op, "factory has no pair for %s/%s", a, b)
	}

	var (
		token0             common.Address
		reserve0, reserve1 *big.Int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		token0, err = r.token0(gctx, pairAddr)
		return err
	})
	g.Go(func() error {
		var err error
		reserve0, reserve1, err = r.getReserves(gctx, pairAddr)
		return err
	})
	if err := g.Wait(); err != nil {
		return amm.PairState{}, swaperr.Classify(op, err)
	}

	var reserveA, reserveB *big.Int
	switch token0 {
	case a.Address:
		reserveA, reserveB = reserve0, reserve1
	case b.Address:
		reserveA, reserveB = reserve1, reserve0
	default:
		return amm.PairState{}, swaperr.Newf(swaperr.KindPairNotFound, op,
			"pair %s token0 %s matches neither %s nor %s", pairAddr.Hex(), token0.Hex(), a, b)
	}
	state, err := amm.NewPairState(pairAddr, a, b, reserveA, reserveB, r.now())
	if err != nil {
		return amm.PairState{}, err
	}
	r.logger.Debug("pair resolved", "pair", pairAddr.Hex(),
		"token_a", a.String(), "token_b", b.String(),
		"reserve_a", reserveA.String(), "reserve_b", reserveB.String())
	return state, nil
}

// ResolveRoute builds the single-hop route from in to out.
func (r *Resolver) ResolveRoute(ctx context.Context, in, out amm.Token, network amm.Network) (amm.Route, error) {
	p, err := r.ResolvePair(ctx, in, out, network)
	if err != nil {
		return amm.Route{}, err
	}
	return amm.NewRoute([]amm.PairState{p}, in)
}

func (r *Resolver) getPair(ctx context.Context, a, b common.Address) (common.Address, error) {
	out, err := r.call(ctx, factoryABI, r.factory, "getPair", a, b)
	if err != nil {
		return common.Address{}, err
	}
	// no contract at the factory address answers with empty data
	if len(out) == 0 {
		return common.Address{}, nil
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("getPair returned %T", out[0])
	}
	return addr, nil
}

func (r *Resolver) token0(ctx context.Context, pair common.Address) (common.Address, error) {
	out, err := r.call(ctx, pairABI, pair, "token0")
	if err != nil {
		return common.Address{}, err
	}
	if len(out) != 1 {
		return common.Address{}, fmt.Errorf("token0 returned %d values", len(out))
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("token0 returned %T", out[0])
	}
	return addr, nil
}

func (r *Resolver) getReserves(ctx context.Context, pair common.Address) (*big.Int, *big.Int, error) {
	out, err := r.call(ctx, pairABI, pair, "getReserves")
	if err != nil {
		return nil, nil, err
	}
	if len(out) != 3 {
		return nil, nil, fmt.Errorf("getReserves returned %d values", len(out))
	}
	r0, ok0 := out[0].(*big.Int)
	r1, ok1 := out[1].(*big.Int)
	if !ok0 || !ok1 {
		return nil, nil, fmt.Errorf("getReserves returned %T, %T", out[0], out[1])
	}
	return r0, r1, nil
}

func (r *Resolver) call(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	raw, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return contract.Unpack(method, raw)
}
