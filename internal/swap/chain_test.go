package swap

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"ammswap/internal/amm"
	"ammswap/internal/txbuilder"
)

var swapEventID = crypto.Keccak256Hash([]byte("Swap(address,uint256,uint256,uint256,uint256,address)"))

type fakePool struct {
	addr     common.Address
	token0   common.Address
	token1   common.Address
	reserve0 *big.Int
	reserve1 *big.Int
}

// fakeChain is a minimal in-memory constant-product exchange: one factory,
// its pairs, ERC-20 allowances and a router that settles swaps at the pool
// price.
type fakeChain struct {
	mu sync.Mutex

	factory common.Address
	router  common.Address
	pools   map[[2]common.Address]*fakePool

	allowance map[common.Address]*big.Int
	sent      []*types.Transaction
	receipts  map[common.Hash]*types.Receipt

	revertSwaps  bool
	holdSwaps    bool
	estimateErr  error
	sendErr      error
	headerErr    error
	headTime     uint64
	estimates    int
	contractRead int
}

func newFakeChain(factory, router common.Address) *fakeChain {
	return &fakeChain{
		factory:   factory,
		router:    router,
		pools:     map[[2]common.Address]*fakePool{},
		allowance: map[common.Address]*big.Int{},
		receipts:  map[common.Hash]*types.Receipt{},
	}
}

func sortPair(a, b common.Address) [2]common.Address {
	if bytes.Compare(a.Bytes(), b.Bytes()) < 0 {
		return [2]common.Address{a, b}
	}
	return [2]common.Address{b, a}
}

func (f *fakeChain) addPool(addr, a, b common.Address, ra, rb *big.Int) {
	key := sortPair(a, b)
	p := &fakePool{addr: addr, token0: key[0], token1: key[1], reserve0: ra, reserve1: rb}
	if key[0] != a {
		p.reserve0, p.reserve1 = rb, ra
	}
	f.pools[key] = p
}

func (f *fakeChain) poolAt(addr common.Address) *fakePool {
	for _, p := range f.pools {
		if p.addr == addr {
			return p
		}
	}
	return nil
}

func word(b []byte) []byte { return common.LeftPadBytes(b, 32) }

func (f *fakeChain) CallContract(ctx context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contractRead++
	sel := hexutil.Encode(msg.Data[:4])
	switch {
	case *msg.To == f.factory && sel == "0xe6a43905":
		key := sortPair(common.BytesToAddress(msg.Data[4:36]), common.BytesToAddress(msg.Data[36:68]))
		if p, ok := f.pools[key]; ok {
			return word(p.addr.Bytes()), nil
		}
		return word(nil), nil
	case sel == "0x0dfe1681":
		if p := f.poolAt(*msg.To); p != nil {
			return word(p.token0.Bytes()), nil
		}
	case sel == "0x0902f1ac":
		if p := f.poolAt(*msg.To); p != nil {
			out := append(word(p.reserve0.Bytes()), word(p.reserve1.Bytes())...)
			return append(out, word(big.NewInt(1700000000).Bytes())...), nil
		}
	case sel == "0xdd62ed3e":
		a := f.allowance[*msg.To]
		if a == nil {
			a = new(big.Int)
		}
		return word(a.Bytes()), nil
	case sel == "0x313ce567":
		return word([]byte{18}), nil
	}
	return nil, errors.New("execution reverted")
}

func (f *fakeChain) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.estimates++
	if f.estimateErr != nil && *msg.To == f.router {
		return 0, f.estimateErr
	}
	return 150000, nil
}

func (f *fakeChain) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil && *tx.To() == f.router {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	receipt := &types.Receipt{TxHash: tx.Hash(), Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(int64(len(f.sent)))}

	if *tx.To() != f.router {
		// approve(spender, amount)
		f.allowance[*tx.To()] = new(big.Int).SetBytes(tx.Data()[36:68])
		f.receipts[tx.Hash()] = receipt
		return nil
	}
	if f.holdSwaps {
		return nil
	}
	if f.revertSwaps {
		receipt.Status = types.ReceiptStatusFailed
		f.receipts[tx.Hash()] = receipt
		return nil
	}
	variant, args, err := txbuilder.DecodeSwapCall(tx.Data())
	if err != nil {
		return err
	}
	path := args["path"].([]common.Address)
	amountIn := tx.Value()
	if variant != txbuilder.ExactETHForTokens {
		amountIn = args["amountIn"].(*big.Int)
	}
	p := f.pools[sortPair(path[0], path[1])]
	rIn, rOut := p.reserve0, p.reserve1
	inIsToken0 := p.token0 == path[0]
	if !inIsToken0 {
		rIn, rOut = rOut, rIn
	}
	out := amm.GetAmountOut(amountIn, rIn, rOut, amm.DefaultFeeBips)
	amounts := [4]*big.Int{new(big.Int), new(big.Int), new(big.Int), new(big.Int)}
	if inIsToken0 {
		amounts[0], amounts[3] = amountIn, out
	} else {
		amounts[1], amounts[2] = amountIn, out
	}
	var data []byte
	for _, v := range amounts {
		data = append(data, word(v.Bytes())...)
	}
	receipt.Logs = []*types.Log{{
		Address: p.addr,
		Topics:  []common.Hash{swapEventID, common.BytesToHash(f.router.Bytes()), common.BytesToHash(args["to"].(common.Address).Bytes())},
		Data:    data,
		TxHash:  tx.Hash(),
	}}
	f.receipts[tx.Hash()] = receipt
	return nil
}

func (f *fakeChain) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.receipts[hash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (f *fakeChain) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{1}, nil
}

func (f *fakeChain) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeChain) SuggestGasTipCap(context.Context) (*big.Int, error) { return big.NewInt(1e9), nil }
func (f *fakeChain) SuggestGasPrice(context.Context) (*big.Int, error)  { return big.NewInt(2e9), nil }
func (f *fakeChain) HeaderByNumber(ctx context.Context, _ *big.Int) (*types.Header, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.headerErr != nil {
		return nil, f.headerErr
	}
	return &types.Header{BaseFee: big.NewInt(1e9), Time: f.headTime}, nil
}

func (f *fakeChain) sentTo(addr common.Address) []*types.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Transaction
	for _, tx := range f.sent {
		if *tx.To() == addr {
			out = append(out, tx)
		}
	}
	return out
}

func (f *fakeChain) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}
