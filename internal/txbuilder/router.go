package txbuilder

import (
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"ammswap/internal/amm"
	"ammswap/internal/swaperr"
	"ammswap/internal/units"
)

const routerABIJSON = `[
	{"inputs":[{"internalType":"uint256","name":"amountOutMin","type":"uint256"},{"internalType":"address[]","name":"path","type":"address[]"},{"internalType":"address","name":"to","type":"address"},{"internalType":"uint256","name":"deadline","type":"uint256"}],"name":"swapExactETHForTokens","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"}],"stateMutability":"payable","type":"function"},
	{"inputs":[{"internalType":"uint256","name":"amountIn","type":"uint256"},{"internalType":"uint256","name":"amountOutMin","type":"uint256"},{"internalType":"address[]","name":"path","type":"address[]"},{"internalType":"address","name":"to","type":"address"},{"internalType":"uint256","name":"deadline","type":"uint256"}],"name":"swapExactTokensForETH","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"}],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"internalType":"uint256","name":"amountIn","type":"uint256"},{"internalType":"uint256","name":"amountOutMin","type":"uint256"},{"internalType":"address[]","name":"path","type":"address[]"},{"internalType":"address","name":"to","type":"address"},{"internalType":"uint256","name":"deadline","type":"uint256"}],"name":"swapExactTokensForTokens","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"}],"stateMutability":"nonpayable","type":"function"}
]`

var routerABI = mustParseABI(routerABIJSON)

// Variant is the router entry point used for a swap.
type Variant uint8

const (
	VariantUnknown Variant = iota
	ExactETHForTokens
	ExactTokensForETH
	ExactTokensForTokens
)

func (v Variant) Method() string {
	switch v {
	case ExactETHForTokens:
		return "swapExactETHForTokens"
	case ExactTokensForETH:
		return "swapExactTokensForETH"
	case ExactTokensForTokens:
		return "swapExactTokensForTokens"
	default:
		return ""
	}
}

func (v Variant) String() string {
	if m := v.Method(); m != "" {
		return m
	}
	return "unknown"
}

// NeedsApproval reports whether the router pulls an ERC-20 input.
func (v Variant) NeedsApproval() bool {
	return v == ExactTokensForETH || v == ExactTokensForTokens
}

// SelectVariant picks the router call from the native flags of each leg.
func SelectVariant(from, to amm.Token) (Variant, error) {
	if from.Address == (common.Address{}) || to.Address == (common.Address{}) {
		return VariantUnknown, swaperr.Newf(swaperr.KindUnsupportedVariant, "txbuilder.variant", "token address is empty")
	}
	switch {
	case from.Native && to.Native:
		return VariantUnknown, swaperr.Newf(swaperr.KindUnsupportedVariant, "txbuilder.variant", "native to native swap")
	case from.Native:
		return ExactETHForTokens, nil
	case to.Native:
		return ExactTokensForETH, nil
	default:
		return ExactTokensForTokens, nil
	}
}

// SwapCall is a fully specified router invocation. It is a value: changing
// any field means building a new one.
type SwapCall struct {
	Variant      Variant
	ChainID      *big.Int
	Router       common.Address
	AmountIn     *big.Int
	AmountOutMin *big.Int
	Path         []common.Address
	Recipient    common.Address
	Deadline     uint64
	// Value is the native amount attached; zero unless the input is native.
	Value *big.Int
	Fee   FeeParams
	Data  []byte
}

// WithFee returns a copy of c carrying fee.
func (c SwapCall) WithFee(fee FeeParams) SwapCall {
	out := c
	out.Path = append([]common.Address(nil), c.Path...)
	out.Data = append([]byte(nil), c.Data...)
	out.Fee = fee.clone()
	return out
}

// Tx wraps the call into an unsigned dynamic fee transaction.
func (c SwapCall) Tx(nonce, gasLimit uint64) (*types.Transaction, error) {
	return buildDynamicTx(c.ChainID, c.Router, c.Value, c.Data, BuildParams{Nonce: nonce, GasLimit: gasLimit, Fee: c.Fee})
}

// BuildSwapCall encodes the router call for trade. The exact trade input is
// sent; the slippage bound only supplies amountOutMin.
func (b *Builder) BuildSwapCall(from, to amm.Token, trade amm.Trade, bound amm.SlippageBound, recipient common.Address, deadlineOffset time.Duration, fee FeeParams) (SwapCall, error) {
	variant, err := SelectVariant(from, to)
	if err != nil {
		return SwapCall{}, err
	}
	if !trade.InputToken.Equal(from) || !trade.OutputToken.Equal(to) {
		return SwapCall{}, swaperr.Newf(swaperr.KindInvalidRequest, "txbuilder.swap", "trade %s->%s does not match %s->%s",
			trade.InputToken, trade.OutputToken, from, to)
	}
	if trade.InputAmount == nil || trade.InputAmount.Sign() <= 0 {
		return SwapCall{}, swaperr.Newf(swaperr.KindInsufficientInputAmount, "txbuilder.swap", "input amount must be positive")
	}
	if bound.MinimumOutput == nil {
		return SwapCall{}, swaperr.Newf(swaperr.KindInvalidSlippage, "txbuilder.swap", "minimum output is missing")
	}
	if recipient == (common.Address{}) {
		return SwapCall{}, swaperr.Newf(swaperr.KindInvalidRequest, "txbuilder.swap", "recipient is empty")
	}
	// abi packing wraps wider values modulo 2^256
	if !units.FitsUint256(trade.InputAmount) || !units.FitsUint256(bound.MinimumOutput) {
		return SwapCall{}, swaperr.Newf(swaperr.KindInvalidRequest, "txbuilder.swap", "amount overflows uint256")
	}

	path := trade.Route.Path()
	if len(path) < 2 {
		path = []common.Address{from.Address, to.Address}
	}
	deadline := b.Deadline(deadlineOffset)
	amountIn := new(big.Int).Set(trade.InputAmount)
	minOut := new(big.Int).Set(bound.MinimumOutput)
	deadlineArg := new(big.Int).SetUint64(deadline)

	var (
		data  []byte
		value = big.NewInt(0)
	)
	switch variant {
	case ExactETHForTokens:
		data, err = routerABI.Pack(variant.Method(), minOut, path, recipient, deadlineArg)
		value = new(big.Int).Set(amountIn)
	default:
		data, err = routerABI.Pack(variant.Method(), amountIn, minOut, path, recipient, deadlineArg)
	}
	if err != nil {
		return SwapCall{}, swaperr.New(swaperr.KindInvalidRequest, "txbuilder.swap", err)
	}
	return SwapCall{
		Variant:      variant,
		ChainID:      new(big.Int).Set(b.ChainID),
		Router:       b.Router,
		AmountIn:     amountIn,
		AmountOutMin: minOut,
		Path:         path,
		Recipient:    recipient,
		Deadline:     deadline,
		Value:        value,
		Fee:          fee.clone(),
		Data:         data,
	}, nil
}

// DecodeSwapCall unpacks router calldata back into its arguments. Used by the
// debug CLI and tests.
func DecodeSwapCall(data []byte) (Variant, map[string]any, error) {
	if len(data) < 4 {
		return VariantUnknown, nil, errors.New("calldata shorter than a selector")
	}
	method, err := routerABI.MethodById(data[:4])
	if err != nil {
		return VariantUnknown, nil, err
	}
	args := make(map[string]any)
	if err := method.Inputs.UnpackIntoMap(args, data[4:]); err != nil {
		return VariantUnknown, nil, err
	}
	for _, v := range []Variant{ExactETHForTokens, ExactTokensForETH, ExactTokensForTokens} {
		if v.Method() == method.Name {
			return v, args, nil
		}
	}
	return VariantUnknown, args, nil
}

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
