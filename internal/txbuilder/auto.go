package txbuilder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"ammswap/internal/swaperr"
)

type AutoBuilderConfig struct {
	GasLimitMultiplier float64
	Logger             *slog.Logger
}

// AutoBuilder fills in nonce, fees and gas for calls produced by Builder.
type AutoBuilder struct {
	builder *Builder
	client  ChainClient
	oracle  *FeeOracle
	cfg     AutoBuilderConfig
	nonce   NonceProvider
}

func NewAutoBuilder(builder *Builder, client ChainClient, oracle *FeeOracle, cfg AutoBuilderConfig) *AutoBuilder {
	if cfg.GasLimitMultiplier <= 0 {
		cfg.GasLimitMultiplier = 1.2
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &AutoBuilder{builder: builder, client: client, oracle: oracle, cfg: cfg}
}

func (a *AutoBuilder) SetNonceProvider(provider NonceProvider) {
	a.nonce = provider
}

func (a *AutoBuilder) Start(ctx context.Context) {
	if a.oracle == nil {
		return
	}
	go a.oracle.Start(ctx)
}

func (a *AutoBuilder) Builder() *Builder {
	return a.builder
}

// PopulateSwap turns a router call into an unsigned transaction. Fees on the
// call win over the oracle when both are set.
func (a *AutoBuilder) PopulateSwap(ctx context.Context, from common.Address, call SwapCall, gasHint uint64) (*types.Transaction, error) {
	return a.PopulateTx(ctx, from, call.Router, call.Value, call.Data, call.Fee, gasHint)
}

func (a *AutoBuilder) BuildApproveTx(ctx context.Context, from common.Address, token common.Address, spender common.Address, amount *big.Int) (*types.Transaction, error) {
	if amount == nil {
		return nil, errors.New("amount is required")
	}
	data, err := buildApproveData(spender, amount)
	if err != nil {
		return nil, err
	}
	return a.PopulateTx(ctx, from, token, big.NewInt(0), data, FeeParams{}, 0)
}

// PopulateTx estimates gas once and allocates a nonce. The estimate, scaled
// by the multiplier, is the gas limit; gasHint only caps it and never pushes
// it below the raw estimate.
func (a *AutoBuilder) PopulateTx(ctx context.Context, from, to common.Address, value *big.Int, data []byte, fee FeeParams, gasHint uint64) (*types.Transaction, error) {
	if a.builder == nil || a.client == nil {
		return nil, errors.New("builder and client are required")
	}
	if value == nil {
		value = big.NewInt(0)
	}
	if !fee.Complete() {
		var err error
		if fee, err = a.Fees(ctx); err != nil {
			return nil, err
		}
	}
	gasLimit, err := a.estimateGas(ctx, from, to, value, data, fee, gasHint)
	if err != nil {
		return nil, err
	}
	nonce, err := a.nextNonce(ctx, from)
	if err != nil {
		return nil, err
	}
	params := BuildParams{
		Nonce:    nonce,
		GasLimit: gasLimit,
		Fee:      fee,
	}
	return buildDynamicTx(a.builder.ChainID, to, value, data, params)
}

func (a *AutoBuilder) nextNonce(ctx context.Context, from common.Address) (uint64, error) {
	if a.nonce != nil {
		return a.nonce.Next(ctx, from)
	}
	return a.client.PendingNonceAt(ctx, from)
}

// ResetNonce drops the cached nonce so the next build re-reads it from the
// pending state. Call it after a transaction failed to land.
func (a *AutoBuilder) ResetNonce(from common.Address) {
	if a.nonce != nil {
		a.nonce.Reset(from)
	}
}

func (a *AutoBuilder) ChainID() *big.Int {
	if a.builder == nil || a.builder.ChainID == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(a.builder.ChainID)
}

func (a *AutoBuilder) Fees(ctx context.Context) (FeeParams, error) {
	if a.oracle == nil {
		return FeeParams{}, errors.New("fee oracle is not configured")
	}
	return a.oracle.Fees(ctx)
}

func (a *AutoBuilder) estimateGas(ctx context.Context, from, to common.Address, value *big.Int, data []byte, fees FeeParams, hint uint64) (uint64, error) {
	msg := ethereum.CallMsg{
		From:      from,
		To:        &to,
		Value:     value,
		Data:      data,
		GasFeeCap: fees.MaxFeePerGas,
		GasTipCap: fees.MaxPriorityFeePerGas,
	}
	estimate, err := a.client.EstimateGas(ctx, msg)
	if err != nil {
		return 0, &EstimateGasError{Err: err, CallMsg: msg}
	}
	gas := applyGasMultiplier(estimate, a.cfg.GasLimitMultiplier)
	capped, belowEstimate := capGas(estimate, gas, hint)
	if belowEstimate {
		a.cfg.Logger.Warn("gas limit hint below estimate, using estimate",
			"to", to.Hex(), "hint", hint, "estimate", estimate)
	}
	return capped, nil
}

func applyGasMultiplier(gas uint64, mult float64) uint64 {
	if mult <= 0 {
		return gas
	}
	adjusted := uint64(float64(gas) * mult)
	if adjusted < gas {
		return gas
	}
	return adjusted
}

// capGas bounds gas by hint without going under estimate. The second result
// is true when the hint had to be ignored.
func capGas(estimate, gas, hint uint64) (uint64, bool) {
	if hint == 0 || gas <= hint {
		return gas, false
	}
	if hint < estimate {
		return estimate, true
	}
	return hint, false
}

func GweiToWei(gwei float64) (*big.Int, error) {
	if gwei < 0 {
		return nil, errors.New("gwei must be non-negative")
	}
	v := new(big.Rat).SetFloat64(gwei)
	v.Mul(v, new(big.Rat).SetInt(big.NewInt(1_000_000_000)))
	out := new(big.Int)
	out.Div(v.Num(), v.Denom())
	return out, nil
}

// ParseHexBig parses a 0x quantity as a uint256. Leading zeros and odd
// lengths are allowed, unlike hexutil.DecodeBig.
func ParseHexBig(value string) (*big.Int, error) {
	digits := strings.TrimSpace(value)
	if digits == "" {
		return nil, errors.New("hex value is empty")
	}
	if strings.HasPrefix(digits, "0x") || strings.HasPrefix(digits, "0X") {
		digits = digits[2:]
	}
	digits = strings.TrimLeft(digits, "0")
	if len(digits) > 64 {
		return nil, swaperr.Newf(swaperr.KindInvalidRequest, "txbuilder.hex", "%s overflows uint256", value)
	}
	v, ok := new(big.Int).SetString("0"+digits, 16)
	if !ok {
		return nil, fmt.Errorf("invalid hex number %q", value)
	}
	return v, nil
}
