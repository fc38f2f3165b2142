package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/cors"

	"ammswap/internal/config"
	"ammswap/internal/feedata"
	"ammswap/internal/metrics"
	"ammswap/internal/swaperr"
	"ammswap/internal/trade"
	"ammswap/internal/txbuilder"
)

// Trader is satisfied by *trade.Service.
type Trader interface {
	Quote(ctx context.Context, req trade.QuoteRequest) (*trade.QuoteResult, error)
	Swap(ctx context.Context, req trade.SwapRequest) (*trade.SwapResult, error)
}

// KeyStore is satisfied by *keys.Manager.
type KeyStore interface {
	Accounts() []common.Address
	CreateAccount() (common.Address, error)
	ExportKeyJSON(addr common.Address) ([]byte, error)
	ExportPrivateKeyHex(addr common.Address) (string, error)
}

// BalanceReader is satisfied by *ethclient.Client.
type BalanceReader interface {
	txbuilder.ContractCaller
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	keys    KeyStore
	trader  Trader
	chain   BalanceReader
	fees    *feedata.Store
	metrics *metrics.Metrics
	// base ends swaps still in flight when the server shuts down.
	base    context.Context
}

func NewServer(cfg *config.Config, logger *slog.Logger, keys KeyStore, trader Trader, chain BalanceReader, fees *feedata.Store, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, logger: logger, keys: keys, trader: trader, chain: chain, fees: fees, metrics: m, base: context.Background()}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(s.recoverer)
	if s.cfg.API.RatePerMinute > 0 {
		r.Use(httprate.LimitByIP(s.cfg.API.RatePerMinute, time.Minute))
	}

	r.Get("/health", s.handleHealth)
	r.Group(func(r chi.Router) {
		r.Use(s.withAuth)
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

		// a swap waits for its receipt, so only reads get the request timeout
		r.Group(func(r chi.Router) {
			if d := s.cfg.Performance.RequestTimeout.Duration; d > 0 {
				r.Use(middleware.Timeout(d))
			}
			r.Get("/fees", s.handleFees)
			r.Get("/balances", s.handleBalances)
			r.Post("/quote", s.handleQuote)
			r.Get("/keys", s.handleListKeys)
			r.Post("/keys", s.handleCreateKey)
			r.Post("/keys/export", s.handleKeyExport)
		})
		r.Post("/swap", s.handleSwap)
	})

	return cors.New(cors.Options{
		AllowedOrigins: s.allowedOrigins(),
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-API-Key"},
	}).Handler(r)
}

func (s *Server) Start(ctx context.Context) error {
	s.base = ctx
	server := &http.Server{
		Addr:              s.cfg.API.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctxTimeout)
	}()
	s.logger.Info("api listening", "addr", s.cfg.API.Listen)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) allowedOrigins() []string {
	if len(s.cfg.API.CORSOrigins) == 0 {
		return []string{"*"}
	}
	return s.cfg.API.CORSOrigins
}

func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.API.AuthToken != "" {
			token := r.Header.Get("X-API-Key")
			if token == "" {
				auth := r.Header.Get("Authorization")
				if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
					token = strings.TrimSpace(auth[7:])
				}
			}
			if token != s.cfg.API.AuthToken {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				s.logger.Error("recovered from panic", "panic", rvr, "path", r.URL.Path)
				writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleFees(w http.ResponseWriter, r *http.Request) {
	if s.fees == nil {
		writeError(w, http.StatusServiceUnavailable, "fee data not available")
		return
	}
	data, ok := s.fees.Get()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "fee data not available")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":    s.fees.Version(),
		"updated_at": s.fees.UpdatedAt(),
		"fees":       data,
	})
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req trade.QuoteRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.trader.Quote(r.Context(), req)
	if err != nil {
		writeSwapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSwap(w http.ResponseWriter, r *http.Request) {
	var req trade.SwapRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// A dropped connection is not a user cancel: the attempt runs on to its
	// outcome and notifications still go out. Shutdown cancels it.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	stop := context.AfterFunc(s.base, cancel)
	defer stop()

	res, err := s.trader.Swap(ctx, req)
	if err != nil {
		if res == nil {
			writeSwapError(w, err)
			return
		}
		writeJSON(w, statusFor(err), res)
		return
	}
	status := http.StatusOK
	if res.Status == "submitted" {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	addrs := s.keys.Accounts()
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Hex())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"keys": out})
}

func (s *Server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	addr, err := s.keys.CreateAccount()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"address": addr.Hex()})
}

type exportRequest struct {
	Address string `json:"address"`
	Format  string `json:"format"` // "keystore" or "private"
}

func (s *Server) handleKeyExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	addr, err := parseAddress(req.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	format := strings.ToLower(strings.TrimSpace(req.Format))
	if format == "" {
		format = "keystore"
	}
	if format == "private" {
		if !s.cfg.KeyStore.AllowPrivateExport {
			writeError(w, http.StatusForbidden, "private export disabled")
			return
		}
		keyHex, err := s.keys.ExportPrivateKeyHex(addr)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"address": addr.Hex(), "private_key": keyHex})
		return
	}
	data, err := s.keys.ExportKeyJSON(addr)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"address": addr.Hex(), "keystore": string(data)})
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(r.URL.Query().Get("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		bal, err := s.chain.BalanceAt(r.Context(), addr, nil)
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"address": addr.Hex(), "native_wei": bal.String()})
		return
	}
	tokenAddr, err := parseAddress(token)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bal, err := txbuilder.ReadERC20Balance(r.Context(), s.chain, tokenAddr, addr)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	decimals, err := txbuilder.ReadERC20Decimals(r.Context(), s.chain, tokenAddr)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address":     addr.Hex(),
		"token":       tokenAddr.Hex(),
		"balance_wei": bal.String(),
		"decimals":    decimals,
	})
}

func statusFor(err error) int {
	switch swaperr.KindOf(err) {
	case swaperr.KindInvalidRequest, swaperr.KindPrecision, swaperr.KindInvalidSlippage,
		swaperr.KindInsufficientInputAmount, swaperr.KindUnsupportedVariant:
		return http.StatusBadRequest
	case swaperr.KindPairNotFound:
		return http.StatusNotFound
	case swaperr.KindInsufficientLiquidity, swaperr.KindSwapReverted, swaperr.KindApprovalFailed:
		return http.StatusUnprocessableEntity
	case swaperr.KindTransport:
		return http.StatusBadGateway
	case swaperr.KindUserCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeSwapError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{
		"error": err.Error(),
		"kind":  swaperr.KindOf(err).String(),
	})
}

func readJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer r.Body.Close()
	b, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	if len(b) == 0 {
		return errors.New("empty body")
	}
	return json.Unmarshal(b, v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
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
