package api

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ammswap/internal/config"
	"ammswap/internal/feedata"
	"ammswap/internal/metrics"
	"ammswap/internal/swaperr"
	"ammswap/internal/trade"
)

var (
	account = common.HexToAddress("0x9000000000000000000000000000000000000009")
	tokenA  = common.HexToAddress("0x1000000000000000000000000000000000000001")
)

type fakeTrader struct {
	quoteErr error
	swapRes  *trade.SwapResult
	swapErr  error
	lastSwap trade.SwapRequest

	// swapCtxErr is the attempt context's state while Swap runs. With
	// waitDone set, Swap first waits up to a second for cancellation.
	swapCtxErr error
	waitDone   bool
}

func (f *fakeTrader) Quote(_ context.Context, req trade.QuoteRequest) (*trade.QuoteResult, error) {
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}
	return &trade.QuoteResult{Variant: "swapExactETHForTokens", AmountIn: req.AmountIn, AmountOut: "19"}, nil
}

func (f *fakeTrader) Swap(ctx context.Context, req trade.SwapRequest) (*trade.SwapResult, error) {
	f.lastSwap = req
	if f.waitDone {
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
		}
	}
	f.swapCtxErr = ctx.Err()
	return f.swapRes, f.swapErr
}

type fakeKeys struct {
	accounts []common.Address
}

func (f *fakeKeys) Accounts() []common.Address { return f.accounts }

func (f *fakeKeys) CreateAccount() (common.Address, error) {
	f.accounts = append(f.accounts, account)
	return account, nil
}

func (f *fakeKeys) ExportKeyJSON(addr common.Address) ([]byte, error) {
	return []byte(`{"address":"` + strings.ToLower(addr.Hex()[2:]) + `"}`), nil
}

func (f *fakeKeys) ExportPrivateKeyHex(common.Address) (string, error) {
	return "0xabc", nil
}

type fakeChain struct{}

func (fakeChain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	switch common.Bytes2Hex(msg.Data[:4]) {
	case "70a08231":
		return common.LeftPadBytes(big.NewInt(1234).Bytes(), 32), nil
	case "313ce567":
		return common.LeftPadBytes([]byte{6}, 32), nil
	}
	return nil, errors.New("execution reverted")
}

func (fakeChain) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return big.NewInt(5e18), nil
}

func newTestServer(t *testing.T, trader *fakeTrader, mutate func(*config.Config)) (http.Handler, *feedata.Store) {
	t.Helper()
	cfg, err := config.Parse([]byte("rpc:\n  http: http://localhost:8545\n"))
	require.NoError(t, err)
	if mutate != nil {
		mutate(cfg)
	}
	store := feedata.NewStore()
	srv := NewServer(cfg, nil, &fakeKeys{}, trader, fakeChain{}, store, metrics.New())
	return srv.Handler(), store
}

func do(t *testing.T, h http.Handler, method, path, body string, header map[string]string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	out := map[string]interface{}{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestHealthIsOpen(t *testing.T) {
	h, _ := newTestServer(t, &fakeTrader{}, func(c *config.Config) { c.API.AuthToken = "secret" })
	rec, body := do(t, h, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestAuthAcceptsBearerAndAPIKey(t *testing.T) {
	h, _ := newTestServer(t, &fakeTrader{}, func(c *config.Config) { c.API.AuthToken = "secret" })

	rec, _ := do(t, h, http.MethodGet, "/keys", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/keys", "", map[string]string{"Authorization": "Bearer secret"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/keys", "", map[string]string{"X-API-Key": "secret"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/keys", "", map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestQuoteMapsErrorKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{nil, http.StatusOK, ""},
		{swaperr.Newf(swaperr.KindPairNotFound, "pair.resolve", "no pair"), http.StatusNotFound, "pair_not_found"},
		{swaperr.Newf(swaperr.KindPrecision, "units.parse", "too precise"), http.StatusBadRequest, "precision"},
		{swaperr.Newf(swaperr.KindInsufficientLiquidity, "amm.trade", "drained"), http.StatusUnprocessableEntity, "insufficient_liquidity"},
		{swaperr.New(swaperr.KindTransport, "pair.resolve", errors.New("eof")), http.StatusBadGateway, "transport"},
	}
	for _, tc := range cases {
		h, _ := newTestServer(t, &fakeTrader{quoteErr: tc.err}, nil)
		rec, body := do(t, h, http.MethodPost, "/quote", `{"token_in":"native","token_out":"`+tokenA.Hex()+`","amount_in":"1"}`, nil)
		assert.Equal(t, tc.status, rec.Code)
		if tc.err == nil {
			assert.Equal(t, "19", body["amount_out"])
		} else {
			assert.Equal(t, tc.kind, body["kind"])
		}
	}
}

func TestQuoteRejectsEmptyBody(t *testing.T) {
	h, _ := newTestServer(t, &fakeTrader{}, nil)
	rec, body := do(t, h, http.MethodPost, "/quote", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "empty body", body["error"])
}

func TestSwapStatusCodes(t *testing.T) {
	trader := &fakeTrader{swapRes: &trade.SwapResult{AttemptID: "a", Status: "confirmed", TxHash: "0x01"}}
	h, _ := newTestServer(t, trader, nil)
	payload := `{"from":"` + account.Hex() + `","token_in":"` + tokenA.Hex() + `","token_out":"native","amount_in":"3","no_wait":false}`
	rec, body := do(t, h, http.MethodPost, "/swap", payload, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "confirmed", body["status"])
	assert.Equal(t, account.Hex(), trader.lastSwap.From)
	assert.Equal(t, "3", trader.lastSwap.AmountIn)
	assert.Equal(t, "native", trader.lastSwap.TokenOut)

	trader.swapRes = &trade.SwapResult{Status: "submitted"}
	rec, _ = do(t, h, http.MethodPost, "/swap", payload, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	trader.swapRes = &trade.SwapResult{Status: "failed", Kind: "swap_reverted", Error: "reverted"}
	trader.swapErr = swaperr.Newf(swaperr.KindSwapReverted, "swap.wait", "reverted")
	rec, body = do(t, h, http.MethodPost, "/swap", payload, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "failed", body["status"])

	trader.swapRes = nil
	trader.swapErr = swaperr.Newf(swaperr.KindInvalidRequest, "trade.parse", "from: invalid address")
	rec, body = do(t, h, http.MethodPost, "/swap", payload, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", body["kind"])
}

func TestSwapOutlivesClientDisconnect(t *testing.T) {
	cfg, err := config.Parse([]byte("rpc:\n  http: http://localhost:8545\n"))
	require.NoError(t, err)
	trader := &fakeTrader{swapRes: &trade.SwapResult{Status: "confirmed"}}
	srv := NewServer(cfg, nil, &fakeKeys{}, trader, fakeChain{}, nil, metrics.New())
	payload := `{"from":"` + account.Hex() + `","token_in":"native","token_out":"` + tokenA.Hex() + `","amount_in":"1"}`

	gone, hangUp := context.WithCancel(context.Background())
	hangUp()
	req := httptest.NewRequest(http.MethodPost, "/swap", strings.NewReader(payload)).WithContext(gone)
	srv.Handler().ServeHTTP(httptest.NewRecorder(), req)
	assert.NoError(t, trader.swapCtxErr)
}

func TestSwapCancelledOnShutdown(t *testing.T) {
	cfg, err := config.Parse([]byte("rpc:\n  http: http://localhost:8545\n"))
	require.NoError(t, err)
	trader := &fakeTrader{swapRes: &trade.SwapResult{Status: "confirmed"}, waitDone: true}
	srv := NewServer(cfg, nil, &fakeKeys{}, trader, fakeChain{}, nil, metrics.New())
	base, shutdown := context.WithCancel(context.Background())
	shutdown()
	srv.base = base

	payload := `{"from":"` + account.Hex() + `","token_in":"native","token_out":"` + tokenA.Hex() + `","amount_in":"1"}`
	do(t, srv.Handler(), http.MethodPost, "/swap", payload, nil)
	assert.ErrorIs(t, trader.swapCtxErr, context.Canceled)
}

func TestFeesEndpoint(t *testing.T) {
	h, store := newTestServer(t, &fakeTrader{}, nil)
	rec, _ := do(t, h, http.MethodGet, "/fees", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	store.Set(feedata.FeeData{
		BaseFee: big.NewInt(100),
		Normal:  feedata.FeeTier{MaxFeePerGas: big.NewInt(203), MaxPriorityFeePerGas: big.NewInt(3)},
	})
	rec, body := do(t, h, http.MethodGet, "/fees", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["version"])
	fees := body["fees"].(map[string]interface{})
	assert.Equal(t, float64(100), fees["baseFee"])
}

func TestBalances(t *testing.T) {
	h, _ := newTestServer(t, &fakeTrader{}, nil)
	rec, body := do(t, h, http.MethodGet, "/balances?address="+account.Hex(), "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "5000000000000000000", body["native_wei"])

	rec, body = do(t, h, http.MethodGet, "/balances?address="+account.Hex()+"&token="+tokenA.Hex(), "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1234", body["balance_wei"])
	assert.Equal(t, float64(6), body["decimals"])

	rec, _ = do(t, h, http.MethodGet, "/balances", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestKeysCreateAndExport(t *testing.T) {
	h, _ := newTestServer(t, &fakeTrader{}, nil)
	rec, body := do(t, h, http.MethodPost, "/keys", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, account.Hex(), body["address"])

	rec, body = do(t, h, http.MethodGet, "/keys", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []interface{}{account.Hex()}, body["keys"])

	rec, _ = do(t, h, http.MethodPost, "/keys/export", `{"address":"`+account.Hex()+`","format":"private"}`, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body = do(t, h, http.MethodPost, "/keys/export", `{"address":"`+account.Hex()+`"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body["keystore"], strings.ToLower(account.Hex()[2:]))
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := newTestServer(t, &fakeTrader{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ammswap_swap_in_flight")
}

func TestRateLimit(t *testing.T) {
	h, _ := newTestServer(t, &fakeTrader{}, func(c *config.Config) {
		c.API.RatePerMinute = 2
		c.Performance.RequestTimeout = config.Duration{Duration: time.Second}
	})
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec, _ := do(t, h, http.MethodGet, "/health", "", nil)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
