package amm

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"ammswap/internal/swaperr"
	"ammswap/internal/units"
)

// DefaultFeeBips is the conventional 0.3% constant-product swap fee.
const DefaultFeeBips = 30

type TradeType uint8

const (
	ExactInput TradeType = iota
)

func (t TradeType) String() string {
	return "exact_input"
}

// Trade is a priced exact-input swap over a route.
type Trade struct {
	Route        Route
	InputToken   Token
	OutputToken  Token
	InputAmount  *big.Int
	OutputAmount *big.Int
	Type         TradeType
	FeeBips      uint32
}

// SlippageBound is the pair of limits derived from a trade and a tolerance.
type SlippageBound struct {
	ToleranceBips uint32
	MinimumOutput *big.Int
	MaximumInput  *big.Int
}

// GetAmountOut applies the constant-product formula with the swap fee taken
// from the input:
//
//	out = in*(10000-fee)*rOut / (rIn*10000 + in*(10000-fee))
//
// which equals floor(rOut - rIn*rOut/(rIn + effectiveIn)).
func GetAmountOut(amountIn, reserveIn, reserveOut *big.Int, feeBips uint32) *big.Int {
	inWithFee := new(big.Int).Mul(amountIn, big.NewInt(int64(units.BipsDenominator)-int64(feeBips)))
	num := new(big.Int).Mul(inWithFee, reserveOut)
	den := new(big.Int).Mul(reserveIn, big.NewInt(units.BipsDenominator))
	den.Add(den, inWithFee)
	return num.Div(num, den)
}

// ComputeTrade prices amountIn over route with the default fee.
func ComputeTrade(route Route, amountIn *big.Int) (Trade, error) {
	return ComputeTradeWithFee(route, amountIn, DefaultFeeBips)
}

func ComputeTradeWithFee(route Route, amountIn *big.Int, feeBips uint32) (Trade, error) {
	if len(route.Pairs) == 0 {
		return Trade{}, swaperr.Newf(swaperr.KindPairNotFound, "amm.trade", "empty route")
	}
	if feeBips >= units.BipsDenominator {
		return Trade{}, swaperr.Newf(swaperr.KindInvalidRequest, "amm.trade", "fee %d bips out of range", feeBips)
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return Trade{}, swaperr.Newf(swaperr.KindInsufficientInputAmount, "amm.trade", "input amount must be positive")
	}
	current := route.Input
	amount := new(big.Int).Set(amountIn)
	for _, p := range route.Pairs {
		reserveIn := p.ReserveOf(current)
		next := p.Other(current)
		reserveOut := p.ReserveOf(next)
		out := GetAmountOut(amount, reserveIn, reserveOut, feeBips)
		if out.Cmp(reserveOut) >= 0 {
			return Trade{}, swaperr.Newf(swaperr.KindInsufficientLiquidity, "amm.trade",
				"output %s would drain reserve %s of %s", out, reserveOut, next)
		}
		if out.Sign() == 0 {
			return Trade{}, swaperr.Newf(swaperr.KindInsufficientInputAmount, "amm.trade",
				"input %s of %s yields no %s", amount, current, next)
		}
		amount = out
		current = next
	}
	return Trade{
		Route:        route,
		InputToken:   route.Input,
		OutputToken:  route.Output,
		InputAmount:  new(big.Int).Set(amountIn),
		OutputAmount: amount,
		Type:         ExactInput,
		FeeBips:      feeBips,
	}, nil
}

// ApplySlippage floors the minimum output and ceils the maximum input.
func ApplySlippage(trade Trade, toleranceBips uint32) (SlippageBound, error) {
	if toleranceBips >= units.BipsDenominator {
		return SlippageBound{}, swaperr.Newf(swaperr.KindInvalidSlippage, "amm.slippage",
			"tolerance %d bips must be below %d", toleranceBips, units.BipsDenominator)
	}
	if trade.InputAmount == nil || trade.OutputAmount == nil {
		return SlippageBound{}, swaperr.Newf(swaperr.KindInsufficientInputAmount, "amm.slippage", "trade has no amounts")
	}
	return SlippageBound{
		ToleranceBips: toleranceBips,
		MinimumOutput: units.MulBipsFloor(trade.OutputAmount, toleranceBips),
		MaximumInput:  units.MulBipsCeil(trade.InputAmount, toleranceBips),
	}, nil
}

// BipsFromPercent converts a percentage string ("0.5") into basis points.
// Precision finer than one basis point is rejected.
func BipsFromPercent(pct string) (uint32, error) {
	pct = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(pct), "%"))
	d, err := decimal.NewFromString(pct)
	if err != nil {
		return 0, swaperr.Newf(swaperr.KindInvalidSlippage, "amm.slippage", "invalid percentage %q", pct)
	}
	bips := d.Shift(2)
	if !bips.IsInteger() {
		return 0, swaperr.Newf(swaperr.KindInvalidSlippage, "amm.slippage", "percentage %s is finer than one basis point", pct)
	}
	if bips.Sign() < 0 || bips.GreaterThanOrEqual(decimal.NewFromInt(units.BipsDenominator)) {
		return 0, swaperr.Newf(swaperr.KindInvalidSlippage, "amm.slippage", "percentage %s out of range [0, 100)", pct)
	}
	return uint32(bips.IntPart()), nil
}

// ExecutionPrice is output per unit of input, in human units.
func (t Trade) ExecutionPrice() decimal.Decimal {
	if t.InputAmount == nil || t.InputAmount.Sign() == 0 || t.OutputAmount == nil {
		return decimal.Zero
	}
	in := decimal.NewFromBigInt(t.InputAmount, -int32(t.InputToken.Decimals))
	out := decimal.NewFromBigInt(t.OutputAmount, -int32(t.OutputToken.Decimals))
	return out.Div(in)
}

// PriceImpactBips compares the realised output against the mid price quote
// (fee included), rounded down to whole basis points.
func (t Trade) PriceImpactBips() uint32 {
	if t.InputAmount == nil || t.OutputAmount == nil || len(t.Route.Pairs) == 0 {
		return 0
	}
	// quote = in * prod(rOut) / prod(rIn)
	num := new(big.Int).Set(t.InputAmount)
	den := big.NewInt(1)
	current := t.Route.Input
	for _, p := range t.Route.Pairs {
		next := p.Other(current)
		num.Mul(num, p.ReserveOf(next))
		den.Mul(den, p.ReserveOf(current))
		current = next
	}
	// impact = (quote - out) / quote = (num - out*den) / num
	gap := new(big.Int).Mul(t.OutputAmount, den)
	gap.Sub(num, gap)
	if gap.Sign() <= 0 || num.Sign() == 0 {
		return 0
	}
	gap.Mul(gap, big.NewInt(units.BipsDenominator))
	gap.Div(gap, num)
	return uint32(gap.Uint64())
}
