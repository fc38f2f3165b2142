// Package trade adapts string-typed requests from the HTTP API and the CLI to
// the swap coordinator and renders its outcomes back.
package trade

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"ammswap/internal/keys"
	"ammswap/internal/swap"
	"ammswap/internal/swaperr"
	"ammswap/internal/txbuilder"
	"ammswap/internal/units"
	"ammswap/internal/util"
)

// Executor is satisfied by *swap.Coordinator.
type Executor interface {
	Quote(ctx context.Context, req swap.Request) (swap.Quote, error)
	Execute(ctx context.Context, req swap.Request, hooks swap.Hooks) swap.Outcome
}

type Options struct {
	NativeSymbol string
	// RetryMax bounds quote retries on transport errors.
	RetryMax     int
	RetryBackoff time.Duration
	Logger       *slog.Logger
}

type Service struct {
	exec   Executor
	signer keys.Signer
	opts   Options
}

func NewService(exec Executor, signer keys.Signer, opts Options) *Service {
	if opts.NativeSymbol == "" {
		opts.NativeSymbol = "ETH"
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{exec: exec, signer: signer, opts: opts}
}

// Quote prices a swap. Transport failures are retried; anything typed is
// returned at once.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (*QuoteResult, error) {
	sreq, err := s.quoteRequest(req)
	if err != nil {
		return nil, err
	}
	var q swap.Quote
	err = util.RetryIf(ctx, s.opts.RetryMax, s.opts.RetryBackoff, isTransport, func() error {
		var qerr error
		q, qerr = s.exec.Quote(ctx, sreq)
		if isTransport(qerr) {
			s.opts.Logger.Warn("quote failed, retrying", "error", qerr)
		}
		return qerr
	})
	if err != nil {
		return nil, err
	}
	return QuoteSummary(q), nil
}

// Swap runs one attempt. The result is populated on failure too; the error is
// the outcome's typed cause.
func (s *Service) Swap(ctx context.Context, req SwapRequest) (*SwapResult, error) {
	sreq, err := s.SwapRequest(req)
	if err != nil {
		return nil, err
	}
	var preview map[string]interface{}
	out := s.exec.Execute(ctx, sreq, swap.Hooks{
		OnPreview: func(tx *types.Transaction) { preview = TxSummary(tx) },
	})
	res := OutcomeSummary(out)
	res.Tx = preview
	return res, out.Err
}

// SwapRequest parses req into a coordinator request signed by the service's
// signer.
func (s *Service) SwapRequest(req SwapRequest) (swap.Request, error) {
	sreq, err := s.quoteRequest(req.QuoteRequest)
	if err != nil {
		return swap.Request{}, err
	}
	if s.signer == nil {
		return swap.Request{}, invalid("no signer configured")
	}
	from, err := parseAddress(req.From)
	if err != nil {
		return swap.Request{}, invalid("from: " + err.Error())
	}
	sreq.Signer = s.signer
	sreq.Account = from
	if strings.TrimSpace(req.Recipient) != "" {
		if sreq.Recipient, err = parseAddress(req.Recipient); err != nil {
			return swap.Request{}, invalid("recipient: " + err.Error())
		}
	}
	sreq.ExpectedOut = req.ExpectedOut
	sreq.DeadlineOffset = time.Duration(req.DeadlineSeconds) * time.Second
	sreq.GasLimitHint = req.GasLimit
	sreq.NoWait = req.NoWait
	if req.MaxFeeGwei > 0 || req.PriorityFeeGwei > 0 {
		fee, err := feeParams(req.MaxFeeGwei, req.PriorityFeeGwei)
		if err != nil {
			return swap.Request{}, err
		}
		sreq.Fee = &fee
	}
	return sreq, nil
}

func (s *Service) quoteRequest(req QuoteRequest) (swap.Request, error) {
	from, err := s.selection(req.TokenIn, req.TokenInDecimals)
	if err != nil {
		return swap.Request{}, invalid("token_in: " + err.Error())
	}
	to, err := s.selection(req.TokenOut, req.TokenOutDecimals)
	if err != nil {
		return swap.Request{}, invalid("token_out: " + err.Error())
	}
	if strings.TrimSpace(req.AmountIn) == "" {
		return swap.Request{}, invalid("amount_in is required")
	}
	return swap.Request{
		From:            from,
		To:              to,
		AmountIn:        strings.TrimSpace(req.AmountIn),
		SlippagePercent: strings.TrimSpace(req.SlippagePercent),
	}, nil
}

func (s *Service) selection(value string, decimals *uint8) (swap.TokenSelection, error) {
	value = strings.TrimSpace(value)
	if strings.EqualFold(value, "native") || strings.EqualFold(value, s.opts.NativeSymbol) {
		return swap.Native(s.opts.NativeSymbol), nil
	}
	addr, err := parseAddress(value)
	if err != nil {
		return swap.TokenSelection{}, err
	}
	return swap.TokenSelection{Address: addr, Decimals: decimals}, nil
}

// Fees are all or nothing.
func feeParams(maxFeeGwei, tipGwei float64) (txbuilder.FeeParams, error) {
	if maxFeeGwei <= 0 || tipGwei <= 0 {
		return txbuilder.FeeParams{}, invalid("max_fee_gwei and priority_fee_gwei must be set together")
	}
	maxFee, err := txbuilder.GweiToWei(maxFeeGwei)
	if err != nil {
		return txbuilder.FeeParams{}, invalid(err.Error())
	}
	tip, err := txbuilder.GweiToWei(tipGwei)
	if err != nil {
		return txbuilder.FeeParams{}, invalid(err.Error())
	}
	return txbuilder.FeeParams{MaxFeePerGas: maxFee, MaxPriorityFeePerGas: tip}, nil
}

func QuoteSummary(q swap.Quote) *QuoteResult {
	amounts := q.Amounts()
	res := &QuoteResult{
		Variant:       q.Variant.String(),
		AmountIn:      amounts["amountIn"],
		AmountOut:     amounts["amountOut"],
		MinimumOutput: amounts["minimumOutput"],
		MaximumInput:  amounts["maximumInput"],
		Price:         amounts["price"],
		PriceImpact:   amounts["priceImpact"],
	}
	if len(q.Trade.Route.Pairs) > 0 {
		res.Pair = q.Trade.Route.Pairs[0].Address.Hex()
	}
	for _, a := range q.Trade.Route.Path() {
		res.Path = append(res.Path, a.Hex())
	}
	return res
}

func OutcomeSummary(out swap.Outcome) *SwapResult {
	res := &SwapResult{
		AttemptID: out.AttemptID,
		Status:    out.Status.String(),
		State:     out.State.String(),
		Nonce:     out.Nonce,
		ElapsedMS: out.Elapsed.Milliseconds(),
	}
	if out.TxHash != (common.Hash{}) {
		res.TxHash = out.TxHash.Hex()
	}
	if out.Quote != nil {
		res.Quote = QuoteSummary(*out.Quote)
		if out.AmountOut != nil {
			res.AmountOut = units.FormatUnits(out.AmountOut, out.Quote.To.Decimals)
		}
	}
	if out.Approval != nil {
		res.ApprovalSkipped = out.Approval.Skipped
		if out.Approval.TxHash != (common.Hash{}) {
			res.ApprovalTxHash = out.Approval.TxHash.Hex()
		}
	}
	if out.Err != nil {
		res.Error = out.Err.Error()
		res.Kind = swaperr.KindOf(out.Err).String()
	}
	return res
}

func isTransport(err error) bool {
	return swaperr.KindOf(err) == swaperr.KindTransport
}

func invalid(msg string) error {
	return swaperr.New(swaperr.KindInvalidRequest, "trade.parse", errors.New(msg))
}

func parseAddress(value string) (common.Address, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return common.Address{}, errors.New("address is required")
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, errors.New("invalid address")
	}
	return common.HexToAddress(value), nil
}

// ParseAmount accepts a decimal amount in token units or a raw integer
// (decimal or 0x hex) when raw is set.
func ParseAmount(value string, decimals uint8, raw bool) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, invalid("amount is required")
	}
	if !raw {
		return units.ParseUnits(value, decimals)
	}
	if strings.HasPrefix(value, "0x") {
		return txbuilder.ParseHexBig(value)
	}
	v, ok := new(big.Int).SetString(value, 10)
	if !ok || !units.FitsUint256(v) {
		return nil, invalid("amount must be an integer between 0 and 2^256-1")
	}
	return v, nil
}

func TxSummary(tx *types.Transaction) map[string]interface{} {
	if tx == nil {
		return map[string]interface{}{}
	}
	return map[string]interface{}{
		"hash":             tx.Hash().Hex(),
		"type":             tx.Type(),
		"nonce":            tx.Nonce(),
		"to":               addrToHex(tx.To()),
		"value":            tx.Value().String(),
		"gas":              tx.Gas(),
		"max_fee_wei":      tx.GasFeeCap().String(),
		"priority_fee_wei": tx.GasTipCap().String(),
		"data":             hexutil.Encode(tx.Data()),
	}
}

func addrToHex(addr *common.Address) string {
	if addr == nil {
		return ""
	}
	return addr.Hex()
}
