package swap

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ammswap/internal/amm"
	"ammswap/internal/keys"
	"ammswap/internal/metrics"
	"ammswap/internal/notify"
	"ammswap/internal/pair"
	"ammswap/internal/swaperr"
	"ammswap/internal/txbuilder"
)

var (
	factoryAddr = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	routerAddr  = common.HexToAddress("0x00000000000000000000000000000000000000e2")
	tokenA      = common.HexToAddress("0x1000000000000000000000000000000000000001")
	tokenB      = common.HexToAddress("0x2000000000000000000000000000000000000002")
	weth        = common.HexToAddress("0x3000000000000000000000000000000000000003")
	pairAB      = common.HexToAddress("0x00000000000000000000000000000000000000ab")
	pairWB      = common.HexToAddress("0x00000000000000000000000000000000000000cb")

	testNetwork = amm.Network{ChainID: 1, WrappedNative: weth}
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

type recorder struct {
	mu            sync.Mutex
	notifications []notify.Notification
	flashes       []notify.Flash
}

func (r *recorder) Notify(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, n)
	return nil
}

func (r *recorder) Flash(_ context.Context, f notify.Flash) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flashes = append(r.flashes, f)
	return nil
}

type harness struct {
	chain   *fakeChain
	coord   *Coordinator
	notes   *recorder
	metrics *metrics.Metrics
	signer  *keys.PrivateKeySigner
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	chain := newFakeChain(factoryAddr, routerAddr)
	chain.addPool(pairAB, tokenA, tokenB, ether(1000), ether(2000))
	chain.addPool(pairWB, weth, tokenB, ether(10), ether(20000))
	// chain time runs ahead of the local builder clock
	chain.headTime = 1700000300

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	now := func() time.Time { return time.Unix(1700000000, 0) }
	builder := txbuilder.NewBuilderWithClock(big.NewInt(1), routerAddr, 0, now)
	oracle := txbuilder.NewFeeOracle(chain, txbuilder.FeeOracleConfig{Logger: logger})
	auto := txbuilder.NewAutoBuilder(builder, chain, oracle, txbuilder.AutoBuilderConfig{GasLimitMultiplier: 1.2, Logger: logger})
	auto.SetNonceProvider(txbuilder.NewNonceManager(chain))

	notes := &recorder{}
	m := metrics.New()
	coord := New(Config{Network: testNetwork}, chain, pair.NewResolver(chain, factoryAddr, logger), auto, notes, m, logger)
	return &harness{chain: chain, coord: coord, notes: notes, metrics: m, signer: keys.NewPrivateKeySigner(key)}
}

func (h *harness) request(from, to TokenSelection, amount string) Request {
	return Request{
		Signer:          h.signer,
		Account:         h.signer.Address(),
		From:            from,
		To:              to,
		AmountIn:        amount,
		SlippagePercent: "0.5",
	}
}

func TestExecuteTokenForTokenApprovesThenSwaps(t *testing.T) {
	h := newHarness(t)
	var transitions []State
	var previewSent int
	hooks := Hooks{
		OnTransition: func(_, to State) { transitions = append(transitions, to) },
		OnPreview:    func(*types.Transaction) { previewSent = h.chain.sentCount() },
	}

	out := h.coord.Execute(context.Background(), h.request(ERC20(tokenA, 18, "A"), ERC20(tokenB, 18, "B"), "10"), hooks)
	require.NoError(t, out.Err)
	assert.Equal(t, StatusConfirmed, out.Status)
	assert.Equal(t, StateConfirmed, out.State)
	assert.NotEmpty(t, out.AttemptID)
	assert.Equal(t, []State{StateResolving, StateCalculating, StateBuilding, StateApproving, StateEstimating, StateSubmitted, StateConfirmed}, transitions)

	// the approve was mined before the swap was signed
	assert.Equal(t, 1, previewSent)
	require.Len(t, h.chain.sentTo(tokenA), 1)
	require.Len(t, h.chain.sentTo(routerAddr), 1)
	require.NotNil(t, out.Approval)
	assert.False(t, out.Approval.Skipped)

	require.NotNil(t, out.Quote)
	assert.Equal(t, 0, out.Quote.Bound.MaximumInput.Cmp(h.chain.allowance[tokenA]))
	require.NotNil(t, out.AmountOut)
	assert.Equal(t, 0, out.AmountOut.Cmp(out.Quote.Trade.OutputAmount))
	assert.True(t, out.AmountOut.Cmp(out.Quote.Bound.MinimumOutput) >= 0)

	assert.Equal(t, uint64(1), out.Nonce)
	swapTx := h.chain.sentTo(routerAddr)[0]
	assert.Equal(t, out.TxHash, swapTx.Hash())
	assert.Equal(t, 0, swapTx.Value().Sign())
	variant, args, err := txbuilder.DecodeSwapCall(swapTx.Data())
	require.NoError(t, err)
	assert.Equal(t, txbuilder.ExactTokensForTokens, variant)
	assert.Equal(t, []common.Address{tokenA, tokenB}, args["path"])
	assert.Equal(t, h.signer.Address(), args["to"])
	assert.Equal(t, big.NewInt(1700001500), args["deadline"], "deadline is chain time + 1200s")

	require.Len(t, h.notes.notifications, 1)
	assert.Equal(t, "Success", h.notes.notifications[0].Title)
	assert.Equal(t, "Swap #1 is completed.", h.notes.notifications[0].Message)
	assert.Equal(t, notify.DefaultIcon, h.notes.notifications[0].Icon)
	require.Len(t, h.notes.flashes, 1)
	assert.Equal(t, notify.VariantSuccess, h.notes.flashes[0].Variant)
}

func TestExecuteNativeInSkipsApproval(t *testing.T) {
	h := newHarness(t)
	var succeeded bool
	out := h.coord.Execute(context.Background(), h.request(Native("ETH"), ERC20(tokenB, 18, "B"), "1"), Hooks{
		OnSuccess: func(Outcome) { succeeded = true },
	})
	require.NoError(t, out.Err)
	assert.True(t, succeeded)
	assert.Nil(t, out.Approval)
	assert.Equal(t, uint64(0), out.Nonce)

	sent := h.chain.sentTo(routerAddr)
	require.Len(t, sent, 1)
	assert.Equal(t, 0, sent[0].Value().Cmp(ether(1)))
	variant, args, err := txbuilder.DecodeSwapCall(sent[0].Data())
	require.NoError(t, err)
	assert.Equal(t, txbuilder.ExactETHForTokens, variant)
	assert.Equal(t, []common.Address{weth, tokenB}, args["path"])
	assert.Equal(t, 0, out.AmountOut.Cmp(out.Quote.Trade.OutputAmount))
}

func TestExecuteTokenForNativeUsesWrappedPath(t *testing.T) {
	h := newHarness(t)
	out := h.coord.Execute(context.Background(), h.request(ERC20(tokenB, 18, "B"), Native("ETH"), "100"), Hooks{})
	require.NoError(t, out.Err)
	sent := h.chain.sentTo(routerAddr)
	require.Len(t, sent, 1)
	variant, args, err := txbuilder.DecodeSwapCall(sent[0].Data())
	require.NoError(t, err)
	assert.Equal(t, txbuilder.ExactTokensForETH, variant)
	assert.Equal(t, []common.Address{tokenB, weth}, args["path"])
	assert.Len(t, h.chain.sentTo(tokenB), 1)
}

func TestExecuteEmptyPairHasNoSideEffects(t *testing.T) {
	h := newHarness(t)
	h.chain.addPool(pairAB, tokenA, tokenB, new(big.Int), new(big.Int))
	var failed *Outcome
	out := h.coord.Execute(context.Background(), h.request(ERC20(tokenA, 18, "A"), ERC20(tokenB, 18, "B"), "10"), Hooks{
		OnFailure: func(o Outcome) { failed = &o },
	})
	require.Error(t, out.Err)
	assert.True(t, errors.Is(out.Err, swaperr.ErrPairNotFound))
	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, StateFailed, out.State)
	assert.Nil(t, out.Quote)
	require.NotNil(t, failed)

	assert.Zero(t, h.chain.sentCount())
	assert.Zero(t, h.chain.estimates)
	require.Len(t, h.notes.notifications, 1)
	assert.Equal(t, "Error", h.notes.notifications[0].Title)
	assert.Equal(t, out.Err.Error(), h.notes.notifications[0].Message)
	require.Len(t, h.notes.flashes, 1)
	assert.Equal(t, notify.VariantError, h.notes.flashes[0].Variant)
}

func TestExecuteUnknownPair(t *testing.T) {
	h := newHarness(t)
	other := common.HexToAddress("0x4000000000000000000000000000000000000004")
	out := h.coord.Execute(context.Background(), h.request(ERC20(tokenA, 18, "A"), ERC20(other, 6, "C"), "10"), Hooks{})
	assert.Equal(t, swaperr.KindPairNotFound, swaperr.KindOf(out.Err))
	assert.Zero(t, h.chain.sentCount())
}

func TestExecuteCancelledWhileWaiting(t *testing.T) {
	h := newHarness(t)
	h.chain.holdSwaps = true
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var failed bool
	out := h.coord.Execute(ctx, h.request(Native("ETH"), ERC20(tokenB, 18, "B"), "1"), Hooks{
		OnTransition: func(_, to State) {
			if to == StateSubmitted {
				cancel()
			}
		},
		OnFailure: func(Outcome) { failed = true },
	})
	assert.True(t, swaperr.IsCancelled(out.Err))
	assert.Equal(t, swaperr.KindUserCancelled, swaperr.KindOf(out.Err))
	assert.Equal(t, StatusFailed, out.Status)
	assert.True(t, failed)
	assert.Empty(t, h.notes.notifications)
	assert.Empty(t, h.notes.flashes)
	assert.Len(t, h.chain.sentTo(routerAddr), 1)
}

func TestExecuteCancelledBeforeStart(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := h.coord.Execute(ctx, h.request(ERC20(tokenA, 18, "A"), ERC20(tokenB, 18, "B"), "10"), Hooks{})
	assert.Equal(t, swaperr.KindUserCancelled, swaperr.KindOf(out.Err))
	assert.Zero(t, h.chain.sentCount())
	assert.Empty(t, h.notes.notifications)
}

func TestExecuteRevertedSwapKeepsApproval(t *testing.T) {
	h := newHarness(t)
	h.chain.revertSwaps = true
	req := h.request(ERC20(tokenA, 18, "A"), ERC20(tokenB, 18, "B"), "10")

	out := h.coord.Execute(context.Background(), req, Hooks{})
	assert.Equal(t, swaperr.KindSwapReverted, swaperr.KindOf(out.Err))
	require.NotNil(t, out.Receipt)
	assert.Equal(t, types.ReceiptStatusFailed, out.Receipt.Status)
	assert.Len(t, h.chain.sentTo(tokenA), 1)

	h.chain.revertSwaps = false
	retry := h.coord.Execute(context.Background(), req, Hooks{})
	require.NoError(t, retry.Err)
	require.NotNil(t, retry.Approval)
	assert.True(t, retry.Approval.Skipped)
	assert.Len(t, h.chain.sentTo(tokenA), 1)
	assert.Len(t, h.chain.sentTo(routerAddr), 2)
	assert.Equal(t, uint64(2), retry.Nonce)
}

func TestExecuteRevertingEstimate(t *testing.T) {
	h := newHarness(t)
	h.chain.estimateErr = errors.New("execution reverted: UniswapV2Router: INSUFFICIENT_OUTPUT_AMOUNT")
	out := h.coord.Execute(context.Background(), h.request(Native("ETH"), ERC20(tokenB, 18, "B"), "1"), Hooks{})
	assert.Equal(t, swaperr.KindSwapReverted, swaperr.KindOf(out.Err))
	assert.Zero(t, h.chain.sentCount())
}

func TestExecuteHeaderFailureStopsBeforeApproval(t *testing.T) {
	h := newHarness(t)
	h.chain.headerErr = errors.New("dial tcp: connection refused")
	out := h.coord.Execute(context.Background(), h.request(ERC20(tokenA, 18, "A"), ERC20(tokenB, 18, "B"), "10"), Hooks{})
	assert.Equal(t, swaperr.KindTransport, swaperr.KindOf(out.Err))
	assert.Equal(t, StateFailed, out.State)
	assert.Zero(t, h.chain.sentCount())
}

func TestExecuteSendFailureIsTransport(t *testing.T) {
	h := newHarness(t)
	h.chain.sendErr = errors.New("connection reset by peer")
	out := h.coord.Execute(context.Background(), h.request(Native("ETH"), ERC20(tokenB, 18, "B"), "1"), Hooks{})
	assert.Equal(t, swaperr.KindTransport, swaperr.KindOf(out.Err))

	// the nonce was released, so the next attempt reuses it
	h.chain.sendErr = nil
	next := h.coord.Execute(context.Background(), h.request(Native("ETH"), ERC20(tokenB, 18, "B"), "1"), Hooks{})
	require.NoError(t, next.Err)
	assert.Equal(t, uint64(0), next.Nonce)
}

func TestExecuteNoWaitReturnsSubmitted(t *testing.T) {
	h := newHarness(t)
	h.chain.holdSwaps = true
	req := h.request(Native("ETH"), ERC20(tokenB, 18, "B"), "1")
	req.NoWait = true
	out := h.coord.Execute(context.Background(), req, Hooks{})
	require.NoError(t, out.Err)
	assert.Equal(t, StatusSubmitted, out.Status)
	assert.Equal(t, StateSubmitted, out.State)
	assert.Nil(t, out.Receipt)
	assert.Empty(t, h.notes.notifications)
	require.Len(t, h.notes.flashes, 1)
	assert.Equal(t, "Swap #0 is submitted.", h.notes.flashes[0].Text)
}

func TestExecuteRejectsMissingSigner(t *testing.T) {
	h := newHarness(t)
	req := h.request(Native("ETH"), ERC20(tokenB, 18, "B"), "1")
	req.Signer = nil
	var transitions []State
	out := h.coord.Execute(context.Background(), req, Hooks{OnTransition: func(_, to State) { transitions = append(transitions, to) }})
	assert.Equal(t, swaperr.KindInvalidRequest, swaperr.KindOf(out.Err))
	assert.Equal(t, []State{StateFailed}, transitions)
}

func TestExecuteRejectsBadAmounts(t *testing.T) {
	h := newHarness(t)
	for _, amount := range []string{"", "0", "-1", "abc", "0.0000000000000000001"} {
		out := h.coord.Execute(context.Background(), h.request(ERC20(tokenA, 18, "A"), ERC20(tokenB, 18, "B"), amount), Hooks{})
		assert.Error(t, out.Err, amount)
	}
	assert.Zero(t, h.chain.sentCount())
}

func TestExecuteCallsBeforeWorkFirst(t *testing.T) {
	h := newHarness(t)
	var order []string
	h.coord.Execute(context.Background(), h.request(Native("ETH"), ERC20(tokenB, 18, "B"), "1"), Hooks{
		BeforeWork:   func() { order = append(order, "before") },
		OnTransition: func(_, to State) { order = append(order, to.String()) },
	})
	require.NotEmpty(t, order)
	assert.Equal(t, "before", order[0])
}

func TestQuoteDoesNotTouchKeysOrSend(t *testing.T) {
	h := newHarness(t)
	req := Request{From: ERC20(tokenA, 18, "A"), To: ERC20(tokenB, 18, "B"), AmountIn: "10", SlippagePercent: "5"}
	q, err := h.coord.Quote(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, txbuilder.ExactTokensForTokens, q.Variant)
	assert.Zero(t, h.chain.sentCount())
	assert.Zero(t, h.chain.estimates)

	amounts := q.Amounts()
	assert.Equal(t, "10", amounts["amountIn"])
	assert.Equal(t, "10.5", amounts["maximumInput"])
	assert.Contains(t, amounts, "priceImpact")
}

func TestQuoteReadsDecimalsWhenUnset(t *testing.T) {
	h := newHarness(t)
	req := Request{From: TokenSelection{Address: tokenA}, To: TokenSelection{Address: tokenB}, AmountIn: "1"}
	q, err := h.coord.Quote(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, uint8(18), q.From.Decimals)
	assert.Equal(t, 0, q.Trade.InputAmount.Cmp(ether(1)))
}

func TestQuoteRejectsOtherNetwork(t *testing.T) {
	h := newHarness(t)
	req := Request{Network: amm.Network{ChainID: 5}, From: ERC20(tokenA, 18, "A"), To: ERC20(tokenB, 18, "B"), AmountIn: "1"}
	_, err := h.coord.Quote(context.Background(), req)
	assert.Equal(t, swaperr.KindInvalidRequest, swaperr.KindOf(err))
}

func TestQuoteNativeToNativeUnsupported(t *testing.T) {
	h := newHarness(t)
	_, err := h.coord.Quote(context.Background(), Request{From: Native("ETH"), To: Native("ETH"), AmountIn: "1"})
	assert.Equal(t, swaperr.KindUnsupportedVariant, swaperr.KindOf(err))
}
