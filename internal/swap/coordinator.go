// Package swap runs one swap attempt end to end: resolve the pair, price the
// trade, build the router call, approve the input when needed, estimate,
// sign, broadcast and wait for the receipt.
package swap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"ammswap/internal/amm"
	"ammswap/internal/approval"
	"ammswap/internal/metrics"
	"ammswap/internal/notify"
	"ammswap/internal/pair"
	"ammswap/internal/swaperr"
	"ammswap/internal/txbuilder"
	"ammswap/internal/units"
)

// Chain is the transport the coordinator reads from and writes to.
type Chain interface {
	approval.Chain
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

type Resolver interface {
	ResolveRoute(ctx context.Context, in, out amm.Token, network amm.Network) (amm.Route, error)
}

// TxBuilder is satisfied by *txbuilder.AutoBuilder.
type TxBuilder interface {
	approval.TxBuilder
	Builder() *txbuilder.Builder
	PopulateSwap(ctx context.Context, from common.Address, call txbuilder.SwapCall, gasHint uint64) (*types.Transaction, error)
}

type Config struct {
	Network                amm.Network
	FeeBips                uint32
	DefaultSlippagePercent string
	NotifyIcon             string
}

type Coordinator struct {
	cfg      Config
	chain    Chain
	resolver Resolver
	builder  TxBuilder
	notifier notify.Dispatcher
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

func New(cfg Config, chain Chain, resolver Resolver, builder TxBuilder, notifier notify.Dispatcher, m *metrics.Metrics, logger *slog.Logger) *Coordinator {
	if cfg.FeeBips == 0 {
		cfg.FeeBips = amm.DefaultFeeBips
	}
	if cfg.DefaultSlippagePercent == "" {
		cfg.DefaultSlippagePercent = "0.5"
	}
	if cfg.NotifyIcon == "" {
		cfg.NotifyIcon = notify.DefaultIcon
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		cfg:      cfg,
		chain:    chain,
		resolver: resolver,
		builder:  builder,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// Quote resolves and prices req without signing or sending anything.
func (c *Coordinator) Quote(ctx context.Context, req Request) (Quote, error) {
	q, err := c.quote(ctx, req, nil)
	if err != nil {
		c.metrics.QuoteServed(swaperr.KindOf(err).String())
		return Quote{}, err
	}
	c.metrics.QuoteServed("ok")
	return q, nil
}

// Execute runs one attempt to a terminal outcome. It never returns a nil
// error on failure: Outcome.Err carries the typed cause.
func (c *Coordinator) Execute(ctx context.Context, req Request, hooks Hooks) Outcome {
	a := &attempt{
		c:       c,
		req:     req,
		hooks:   hooks,
		id:      uuid.NewString(),
		state:   StateIdle,
		entered: c.now(),
		started: c.now(),
	}
	a.log = c.logger.With("attempt", a.id)
	defer c.metrics.Begin()()

	if hooks.BeforeWork != nil {
		hooks.BeforeWork()
	}
	out := a.run(ctx)
	out.AttemptID = a.id
	out.State = a.state
	out.Elapsed = c.now().Sub(a.started)
	c.finish(ctx, a, out)
	return out
}

type attempt struct {
	c       *Coordinator
	req     Request
	hooks   Hooks
	id      string
	log     *slog.Logger
	state   State
	entered time.Time
	started time.Time

	nonceAllocated bool
}

func (a *attempt) enter(to State) {
	from := a.state
	if !from.CanTransition(to) {
		a.log.Error("invalid state transition", "from", from.String(), "to", to.String())
	}
	now := a.c.now()
	a.c.metrics.ObserveStage(from.String(), now.Sub(a.entered))
	a.state = to
	a.entered = now
	a.log.Debug("state", "from", from.String(), "to", to.String())
	if a.hooks.OnTransition != nil {
		a.hooks.OnTransition(from, to)
	}
}

func (a *attempt) fail(out Outcome, err error) Outcome {
	if a.nonceAllocated {
		a.c.builder.ResetNonce(a.req.Account)
	}
	a.enter(StateFailed)
	out.Status = StatusFailed
	out.Err = err
	return out
}

func (a *attempt) run(ctx context.Context) Outcome {
	req := a.req
	c := a.c
	var out Outcome

	if req.Signer == nil || req.Account == (common.Address{}) {
		return a.fail(out, swaperr.Newf(swaperr.KindInvalidRequest, "swap.execute", "signer and account are required"))
	}

	q, err := c.quote(ctx, req, a)
	if err != nil {
		return a.fail(out, err)
	}
	out.Quote = &q

	a.enter(StateBuilding)
	recipient := req.Recipient
	if recipient == (common.Address{}) {
		recipient = req.Account
	}
	var fee txbuilder.FeeParams
	if req.Fee != nil && req.Fee.Complete() {
		fee = *req.Fee
	}
	builder, err := c.networkBuilder(ctx)
	if err != nil {
		return a.fail(out, err)
	}
	call, err := builder.BuildSwapCall(q.From, q.To, q.Trade, q.Bound, recipient, req.DeadlineOffset, fee)
	if err != nil {
		return a.fail(out, err)
	}
	a.log.Info("swap call built", "variant", call.Variant.String(),
		"amount_in", call.AmountIn.String(), "amount_out_min", call.AmountOutMin.String(),
		"deadline", call.Deadline)

	if call.Variant.NeedsApproval() {
		a.enter(StateApproving)
		gate := approval.NewGate(c.chain, c.builder, req.Signer, a.log)
		if c.metrics != nil {
			gate.SetObserver(c.metrics)
		}
		res, err := gate.EnsureApproval(ctx, req.Account, q.From.Address, builder.Router, q.Bound.MaximumInput)
		out.Approval = &res
		if err != nil {
			return a.fail(out, err)
		}
	}

	a.enter(StateEstimating)
	tx, err := c.builder.PopulateSwap(ctx, req.Account, call, req.GasLimitHint)
	if err != nil {
		return a.fail(out, classifyEstimate(err))
	}
	a.nonceAllocated = true
	signed, err := req.Signer.SignTransaction(req.Account, tx, c.builder.ChainID())
	if err != nil {
		return a.fail(out, swaperr.New(swaperr.KindInvalidRequest, "swap.sign", err))
	}
	out.Nonce = signed.Nonce()
	out.TxHash = signed.Hash()
	if a.hooks.OnPreview != nil {
		a.hooks.OnPreview(signed)
	}

	if err := c.chain.SendTransaction(ctx, signed); err != nil {
		return a.fail(out, swaperr.Classify("swap.send", err))
	}
	a.enter(StateSubmitted)
	a.log.Info("swap sent", "tx", signed.Hash().Hex(), "nonce", signed.Nonce(), "gas", signed.Gas())
	if req.NoWait {
		out.Status = StatusSubmitted
		return out
	}

	receipt, err := bind.WaitMined(ctx, c.chain, signed)
	if err != nil {
		return a.fail(out, swaperr.Classify("swap.wait", err))
	}
	out.Receipt = receipt
	if receipt.Status != types.ReceiptStatusSuccessful {
		return a.fail(out, swaperr.Newf(swaperr.KindSwapReverted, "swap.wait", "swap tx %s reverted in block %v",
			signed.Hash().Hex(), receipt.BlockNumber))
	}
	if len(q.Trade.Route.Pairs) > 0 {
		state := q.Trade.Route.Pairs[0]
		events, err := pair.DecodeSwapEvents(receipt, state.Address)
		if err != nil {
			a.log.Warn("decode swap events failed", "error", err)
		}
		if amount, ok := pair.RealizedOutput(events, state, q.To); ok {
			out.AmountOut = amount
		}
	}
	a.enter(StateConfirmed)
	out.Status = StatusConfirmed
	return out
}

// quote drives Resolving and Calculating. a is nil for a bare quote.
func (c *Coordinator) quote(ctx context.Context, req Request, a *attempt) (Quote, error) {
	enter := func(s State) {
		if a != nil {
			a.enter(s)
		}
	}
	network := req.Network
	if network.ChainID == 0 {
		network = c.cfg.Network
	}
	if chainID := c.builder.ChainID(); chainID.Sign() > 0 && chainID.Uint64() != network.ChainID {
		return Quote{}, swaperr.Newf(swaperr.KindInvalidRequest, "swap.quote",
			"network %d does not match builder chain %s", network.ChainID, chainID)
	}

	enter(StateResolving)
	from, err := c.token(ctx, req.From, network)
	if err != nil {
		return Quote{}, err
	}
	to, err := c.token(ctx, req.To, network)
	if err != nil {
		return Quote{}, err
	}
	variant, err := txbuilder.SelectVariant(from, to)
	if err != nil {
		return Quote{}, err
	}
	route, err := c.resolver.ResolveRoute(ctx, from, to, network)
	if err != nil {
		return Quote{}, err
	}

	enter(StateCalculating)
	amountIn, err := units.ParseUnits(req.AmountIn, from.Decimals)
	if err != nil {
		return Quote{}, err
	}
	pct := req.SlippagePercent
	if pct == "" {
		pct = c.cfg.DefaultSlippagePercent
	}
	bips, err := amm.BipsFromPercent(pct)
	if err != nil {
		return Quote{}, err
	}
	trade, err := amm.ComputeTradeWithFee(route, amountIn, c.cfg.FeeBips)
	if err != nil {
		return Quote{}, err
	}
	bound, err := amm.ApplySlippage(trade, bips)
	if err != nil {
		return Quote{}, err
	}
	if a != nil {
		a.logExpected(trade, to)
	}
	return Quote{From: from, To: to, Trade: trade, Bound: bound, Variant: variant}, nil
}

// networkBuilder pins the deadline clock to the latest block timestamp.
func (c *Coordinator) networkBuilder(ctx context.Context) (*txbuilder.Builder, error) {
	head, err := c.chain.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, swaperr.Classify("swap.build", err)
	}
	return c.builder.Builder().At(time.Unix(int64(head.Time), 0)), nil
}

func (c *Coordinator) token(ctx context.Context, sel TokenSelection, network amm.Network) (amm.Token, error) {
	if sel.Native {
		return amm.NativeToken(network, sel.Symbol), nil
	}
	if sel.Address == (common.Address{}) {
		return amm.Token{}, swaperr.Newf(swaperr.KindInvalidRequest, "swap.token", "token address is empty")
	}
	if sel.Decimals != nil {
		return amm.NewToken(network.ChainID, sel.Address, *sel.Decimals, sel.Symbol), nil
	}
	dec, err := txbuilder.ReadERC20Decimals(ctx, c.chain, sel.Address)
	if err != nil {
		return amm.Token{}, swaperr.Classify("swap.token", err)
	}
	return amm.NewToken(network.ChainID, sel.Address, dec, sel.Symbol), nil
}

func (a *attempt) logExpected(trade amm.Trade, to amm.Token) {
	if a.req.ExpectedOut == "" {
		return
	}
	expected, err := units.ParseUnits(a.req.ExpectedOut, to.Decimals)
	if err != nil {
		a.log.Debug("expected output not parseable", "value", a.req.ExpectedOut, "error", err)
		return
	}
	if expected.Cmp(trade.OutputAmount) != 0 {
		a.log.Info("quoted output differs from expected",
			"expected", units.FormatUnits(expected, to.Decimals),
			"quoted", units.FormatUnits(trade.OutputAmount, to.Decimals))
	}
}

func classifyEstimate(err error) error {
	var estErr *txbuilder.EstimateGasError
	if errors.As(err, &estErr) && estErr.Reverted() {
		return swaperr.New(swaperr.KindSwapReverted, "swap.estimate", err)
	}
	return swaperr.Classify("swap.estimate", err)
}

func (c *Coordinator) finish(ctx context.Context, a *attempt, out Outcome) {
	kind := ""
	if out.Err != nil {
		kind = swaperr.KindOf(out.Err).String()
	}
	c.metrics.AttemptFinished(out.Status.String(), kind)

	// notifications outlive a cancelled attempt context
	nctx := context.WithoutCancel(ctx)
	switch out.Status {
	case StatusConfirmed, StatusSubmitted:
		a.log.Info("swap finished", "status", out.Status.String(), "tx", out.TxHash.Hex(), "elapsed", out.Elapsed)
		msg := fmt.Sprintf("Swap #%d is completed.", out.Nonce)
		if out.Status == StatusSubmitted {
			msg = fmt.Sprintf("Swap #%d is submitted.", out.Nonce)
		} else {
			c.deliver(a, func() error {
				return c.notifier.Notify(nctx, notify.Notification{ID: a.id, Title: "Success", Message: msg, Icon: c.cfg.NotifyIcon, Time: c.now()})
			})
		}
		c.deliver(a, func() error {
			return c.notifier.Flash(nctx, notify.Flash{ID: a.id, Text: msg, Variant: notify.VariantSuccess})
		})
		if a.hooks.OnSuccess != nil {
			a.hooks.OnSuccess(out)
		}
	default:
		if swaperr.IsCancelled(out.Err) {
			a.log.Info("swap cancelled", "state", out.State.String())
		} else {
			a.log.Error("swap failed", "error", out.Err, "kind", kind)
			msg := out.Err.Error()
			c.deliver(a, func() error {
				return c.notifier.Notify(nctx, notify.Notification{ID: a.id, Title: "Error", Message: msg, Icon: c.cfg.NotifyIcon, Time: c.now()})
			})
			c.deliver(a, func() error {
				return c.notifier.Flash(nctx, notify.Flash{ID: a.id, Text: msg, Variant: notify.VariantError})
			})
		}
		if a.hooks.OnFailure != nil {
			a.hooks.OnFailure(out)
		}
	}
}

func (c *Coordinator) deliver(a *attempt, send func() error) {
	if err := send(); err != nil {
		a.log.Warn("notification failed", "error", err)
	}
}

// Amounts renders q in human units for display.
func (q Quote) Amounts() map[string]string {
	return map[string]string{
		"amountIn":      units.FormatUnits(q.Trade.InputAmount, q.From.Decimals),
		"amountOut":     units.FormatUnits(q.Trade.OutputAmount, q.To.Decimals),
		"minimumOutput": units.FormatUnits(q.Bound.MinimumOutput, q.To.Decimals),
		"maximumInput":  units.FormatUnits(q.Bound.MaximumInput, q.From.Decimals),
		"price":         q.Trade.ExecutionPrice().String(),
		"priceImpact":   fmtBips(q.Trade.PriceImpactBips()),
	}
}

func fmtBips(b uint32) string {
	return units.FormatUnits(new(big.Int).SetUint64(uint64(b)), 2) + "%"
}
