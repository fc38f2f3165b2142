package txbuilder

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"ammswap/internal/feedata"
)

type FeeOracleConfig struct {
	RefreshInterval   time.Duration
	MaxFeeMultiplier  float64
	MinPriorityFeeWei *big.Int
	// Store receives every refreshed snapshot. Optional.
	Store  *feedata.Store
	Logger *slog.Logger
}

type FeeOracle struct {
	client ChainClient
	cfg    FeeOracleConfig

	mu       sync.RWMutex
	baseFee  *big.Int
	tipCap   *big.Int
	lastSync time.Time
}

func NewFeeOracle(client ChainClient, cfg FeeOracleConfig) *FeeOracle {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Second
	}
	if cfg.MaxFeeMultiplier <= 0 {
		cfg.MaxFeeMultiplier = 2.0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &FeeOracle{client: client, cfg: cfg}
}

func (o *FeeOracle) Start(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.RefreshInterval)
	defer ticker.Stop()

	if err := o.Refresh(ctx); err != nil {
		o.cfg.Logger.Warn("fee refresh failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.Refresh(ctx); err != nil {
				o.cfg.Logger.Warn("fee refresh failed", "error", err)
			}
		}
	}
}

func (o *FeeOracle) Refresh(ctx context.Context) error {
	baseFee, err := o.fetchBaseFee(ctx)
	if err != nil {
		return err
	}
	tip, err := o.client.SuggestGasTipCap(ctx)
	if err != nil {
		return err
	}
	if o.cfg.MinPriorityFeeWei != nil && tip.Cmp(o.cfg.MinPriorityFeeWei) < 0 {
		tip = new(big.Int).Set(o.cfg.MinPriorityFeeWei)
	}
	o.mu.Lock()
	o.baseFee = baseFee
	o.tipCap = tip
	o.lastSync = time.Now()
	o.mu.Unlock()

	if o.cfg.Store != nil {
		if o.cfg.Store.Set(o.tiers(baseFee, tip)) {
			o.cfg.Logger.Debug("fee data updated", "base_fee", baseFee.String(), "tip", tip.String())
		}
	}
	return nil
}

// Fees returns the normal tier.
func (o *FeeOracle) Fees(ctx context.Context) (FeeParams, error) {
	baseFee, tip, err := o.snapshot(ctx)
	if err != nil {
		return FeeParams{}, err
	}
	normal := o.tiers(baseFee, tip).Normal
	return FeeParams{
		MaxFeePerGas:         normal.MaxFeePerGas,
		MaxPriorityFeePerGas: normal.MaxPriorityFeePerGas,
	}, nil
}

// tiers: slow pays the current base fee, normal leaves headroom for base fee
// growth, fast doubles the tip on top of normal.
func (o *FeeOracle) tiers(baseFee, tip *big.Int) feedata.FeeData {
	headroom := mulFloat(baseFee, o.cfg.MaxFeeMultiplier)
	fastTip := new(big.Int).Lsh(tip, 1)
	return feedata.FeeData{
		BaseFee: new(big.Int).Set(baseFee),
		Slow: feedata.FeeTier{
			MaxFeePerGas:         new(big.Int).Add(baseFee, tip),
			MaxPriorityFeePerGas: new(big.Int).Set(tip),
		},
		Normal: feedata.FeeTier{
			MaxFeePerGas:         new(big.Int).Add(headroom, tip),
			MaxPriorityFeePerGas: new(big.Int).Set(tip),
		},
		Fast: feedata.FeeTier{
			MaxFeePerGas:         new(big.Int).Add(headroom, fastTip),
			MaxPriorityFeePerGas: fastTip,
		},
	}
}

func (o *FeeOracle) snapshot(ctx context.Context) (*big.Int, *big.Int, error) {
	o.mu.RLock()
	baseFee := o.baseFee
	tip := o.tipCap
	o.mu.RUnlock()

	if baseFee != nil && tip != nil {
		return new(big.Int).Set(baseFee), new(big.Int).Set(tip), nil
	}
	if err := o.Refresh(ctx); err != nil {
		return nil, nil, err
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.baseFee == nil || o.tipCap == nil {
		return nil, nil, errors.New("fee oracle unavailable")
	}
	return new(big.Int).Set(o.baseFee), new(big.Int).Set(o.tipCap), nil
}

func (o *FeeOracle) fetchBaseFee(ctx context.Context) (*big.Int, error) {
	header, err := o.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, err
	}
	if header.BaseFee != nil {
		return new(big.Int).Set(header.BaseFee), nil
	}
	// pre-London chains: approximate with the legacy gas price
	price, err := o.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}
	return price, nil
}

func mulFloat(v *big.Int, f float64) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	if f == 1.0 {
		return new(big.Int).Set(v)
	}
	r := new(big.Rat).SetInt(v)
	r.Mul(r, new(big.Rat).SetFloat64(f))
	out := new(big.Int)
	out.Div(r.Num(), r.Denom())
	return out
}
