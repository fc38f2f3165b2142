package txbuilder

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"ammswap/internal/swaperr"
)

// DefaultDeadline is how long a submitted swap stays valid on the router.
const DefaultDeadline = 20 * time.Minute

var (
	selectorApprove   = mustSelector("0x095ea7b3")
	selectorAllowance = mustSelector("0xdd62ed3e")
)

type FeeParams struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// Complete reports whether both fee fields are set.
func (f FeeParams) Complete() bool {
	return f.MaxFeePerGas != nil && f.MaxPriorityFeePerGas != nil
}

func (f FeeParams) clone() FeeParams {
	out := FeeParams{}
	if f.MaxFeePerGas != nil {
		out.MaxFeePerGas = new(big.Int).Set(f.MaxFeePerGas)
	}
	if f.MaxPriorityFeePerGas != nil {
		out.MaxPriorityFeePerGas = new(big.Int).Set(f.MaxPriorityFeePerGas)
	}
	return out
}

type BuildParams struct {
	Nonce    uint64
	GasLimit uint64
	Fee      FeeParams
}

// Builder produces router calls and raw transactions for one network.
type Builder struct {
	ChainID         *big.Int
	Router          common.Address
	DefaultDeadline time.Duration
	now             func() time.Time
}

func NewBuilder(chainID *big.Int, router common.Address, defaultDeadline time.Duration) *Builder {
	if defaultDeadline <= 0 {
		defaultDeadline = DefaultDeadline
	}
	return &Builder{
		ChainID:         new(big.Int).Set(chainID),
		Router:          router,
		DefaultDeadline: defaultDeadline,
		now:             time.Now,
	}
}

func NewBuilderWithClock(chainID *big.Int, router common.Address, defaultDeadline time.Duration, now func() time.Time) *Builder {
	b := NewBuilder(chainID, router, defaultDeadline)
	if now != nil {
		b.now = now
	}
	return b
}

// Deadline returns the unix deadline for a call built now. offset <= 0 uses
// the builder default.
func (b *Builder) Deadline(offset time.Duration) uint64 {
	if offset <= 0 {
		offset = b.DefaultDeadline
	}
	return uint64(b.now().Add(offset).Unix())
}

// At returns a copy of b whose clock is fixed at now, typically the latest
// block timestamp.
func (b *Builder) At(now time.Time) *Builder {
	out := *b
	out.ChainID = new(big.Int).Set(b.ChainID)
	out.now = func() time.Time { return now }
	return &out
}

func (b *Builder) BuildApproveTx(token common.Address, spender common.Address, amount *big.Int, p BuildParams) (*types.Transaction, error) {
	if amount == nil {
		return nil, errors.New("amount is required")
	}
	data, err := buildApproveData(spender, amount)
	if err != nil {
		return nil, err
	}
	return buildDynamicTx(b.ChainID, token, big.NewInt(0), data, p)
}

func buildApproveData(spender common.Address, amount *big.Int) ([]byte, error) {
	arg1, err := encodeUint256(amount)
	if err != nil {
		return nil, fmt.Errorf("amount: %w", err)
	}
	data := append([]byte{}, selectorApprove...)
	data = append(data, encodeAddress(spender)...)
	data = append(data, arg1...)
	return data, nil
}

func BuildAllowanceCallData(owner, spender common.Address) []byte {
	data := append([]byte{}, selectorAllowance...)
	data = append(data, encodeAddress(owner)...)
	data = append(data, encodeAddress(spender)...)
	return data
}

func buildDynamicTx(chainID *big.Int, to common.Address, value *big.Int, data []byte, p BuildParams) (*types.Transaction, error) {
	if chainID == nil {
		return nil, errors.New("chainID is required")
	}
	if value == nil {
		return nil, errors.New("value is required")
	}
	if p.GasLimit == 0 {
		return nil, errors.New("gasLimit is required")
	}
	if !p.Fee.Complete() {
		return nil, errors.New("maxFeePerGas and maxPriorityFeePerGas are required")
	}
	if p.Fee.MaxFeePerGas.Sign() < 0 || p.Fee.MaxPriorityFeePerGas.Sign() < 0 {
		return nil, errors.New("fee values must be non-negative")
	}
	if p.Fee.MaxPriorityFeePerGas.Cmp(p.Fee.MaxFeePerGas) > 0 {
		return nil, errors.New("maxPriorityFeePerGas exceeds maxFeePerGas")
	}
	if value.Sign() < 0 {
		return nil, errors.New("value must be non-negative")
	}
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     p.Nonce,
		Gas:       p.GasLimit,
		GasFeeCap: p.Fee.MaxFeePerGas,
		GasTipCap: p.Fee.MaxPriorityFeePerGas,
		To:        &to,
		Value:     value,
		Data:      data,
	}), nil
}

func encodeUint256(v *big.Int) ([]byte, error) {
	if v == nil {
		return nil, errors.New("value is nil")
	}
	if v.Sign() < 0 {
		return nil, errors.New("value must be non-negative")
	}
	if v.BitLen() > 256 {
		return nil, swaperr.Newf(swaperr.KindInvalidRequest, "txbuilder.encode", "value overflows uint256")
	}
	return common.LeftPadBytes(v.Bytes(), 32), nil
}

func encodeAddress(addr common.Address) []byte {
	return common.LeftPadBytes(addr.Bytes(), 32)
}

func mustSelector(hex string) []byte {
	b, err := hexutil.Decode(hex)
	if err != nil {
		panic(err)
	}
	if len(b) != 4 {
		panic("selector must be 4 bytes")
	}
	return b
}
