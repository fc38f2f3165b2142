package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/sync/errgroup"

	"ammswap/internal/amm"
	"ammswap/internal/api"
	"ammswap/internal/config"
	"ammswap/internal/feedata"
	"ammswap/internal/keys"
	"ammswap/internal/metrics"
	"ammswap/internal/notify"
	"ammswap/internal/pair"
	"ammswap/internal/swap"
	"ammswap/internal/trade"
	"ammswap/internal/txbuilder"
)

// App wires the swap pipeline to a live node.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	RPC         *rpc.Client
	Eth         *ethclient.Client
	Fees        *feedata.Store
	Auto        *txbuilder.AutoBuilder
	Keys        *keys.Manager
	Signer      keys.Signer
	Metrics     *metrics.Metrics
	Coordinator *swap.Coordinator
	Trade       *trade.Service

	closers []func() error
}

func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}
	var err error
	if a.RPC, a.Eth, err = dialHTTP(cfg, logger); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { a.RPC.Close(); return nil })

	a.Fees = feedata.NewStore()
	if a.Auto, err = txbuilder.NewAutoBuilderFromConfig(a.Eth, cfg, a.Fees, logger); err != nil {
		a.Close()
		return nil, err
	}

	passphrase := os.Getenv(cfg.KeyStore.PassphraseEnv)
	if passphrase == "" {
		logger.Warn("keystore passphrase env is empty", "env", cfg.KeyStore.PassphraseEnv)
	}
	if a.Keys, err = keys.NewManager(cfg.KeyStore.Dir, passphrase); err != nil {
		a.Close()
		return nil, fmt.Errorf("keystore init: %w", err)
	}
	a.Signer = a.Keys
	if hexKey := os.Getenv(cfg.KeyStore.PrivateKeyEnv); hexKey != "" {
		pk, err := keys.PrivateKeySignerFromHex(hexKey)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("%s: %w", cfg.KeyStore.PrivateKeyEnv, err)
		}
		a.Signer = pk
		logger.Info("signing with key from env", "address", pk.Address().Hex())
	}

	notifier, err := a.notifier()
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Metrics = metrics.New()
	network := amm.Network{ChainID: cfg.ChainID, RPC: cfg.RPC.HTTP, WrappedNative: cfg.WrappedNativeAddress()}
	a.Coordinator = swap.New(swap.Config{
		Network:                network,
		FeeBips:                cfg.Swap.FeeBips,
		DefaultSlippagePercent: cfg.Swap.DefaultSlippagePercent,
		NotifyIcon:             cfg.Notify.Icon,
	}, a.Eth, pair.NewResolver(a.Eth, cfg.FactoryAddress(), logger), a.Auto, notifier, a.Metrics, logger)

	a.Trade = trade.NewService(a.Coordinator, a.Signer, trade.Options{
		NativeSymbol: cfg.Contracts.NativeSymbol,
		RetryMax:     cfg.Performance.RetryMax,
		RetryBackoff: cfg.Performance.RetryBackoff.Duration,
		Logger:       logger,
	})
	return a, nil
}

func (a *App) notifier() (notify.Dispatcher, error) {
	out := notify.Multi{notify.NewLogger(a.logger)}
	if a.cfg.Notify.JSONLPath != "" {
		j, err := notify.NewJSONL(a.cfg.Notify.JSONLPath)
		if err != nil {
			return nil, fmt.Errorf("notify jsonl: %w", err)
		}
		out = append(out, j)
	}
	return out, nil
}

// Run serves the API and keeps fee data fresh until ctx is done.
func (a *App) Run(ctx context.Context) error {
	server := api.NewServer(a.cfg, a.logger, a.Keys, a.Trade, a.Eth, a.Fees, a.Metrics)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Auto.Start(gctx)
		return nil
	})
	g.Go(func() error {
		return server.Start(gctx)
	})

	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	return nil
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func dialHTTP(cfg *config.Config, logger *slog.Logger) (*rpc.Client, *ethclient.Client, error) {
	httpClient := &http.Client{
		Timeout: cfg.Performance.RequestTimeout.Duration,
	}
	rpcClient, err := rpc.DialHTTPWithClient(cfg.RPC.HTTP, httpClient)
	if err != nil {
		return nil, nil, err
	}
	rpcClient.SetHeader("User-Agent", "ammswap")
	logger.Info("rpc http connected", "url", cfg.RPC.HTTP, "chain_id", cfg.ChainID)
	return rpcClient, ethclient.NewClient(rpcClient), nil
}

// WithTimeout bounds one-off CLI reads; a zero duration means no bound.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
