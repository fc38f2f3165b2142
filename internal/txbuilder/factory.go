package txbuilder

import (
	"log/slog"
	"math/big"
	"time"

	"ammswap/internal/config"
	"ammswap/internal/feedata"
)

func NewOracleFromConfig(client ChainClient, cfg *config.Config, store *feedata.Store, logger *slog.Logger) (*FeeOracle, error) {
	minTipWei, err := GweiToWei(cfg.Tx.MinPriorityFeeGwei)
	if err != nil {
		return nil, err
	}
	oracleCfg := FeeOracleConfig{
		RefreshInterval:   time.Duration(cfg.Tx.FeeRefreshSeconds) * time.Second,
		MaxFeeMultiplier:  cfg.Tx.MaxFeeMultiplier,
		MinPriorityFeeWei: minTipWei,
		Store:             store,
		Logger:            logger,
	}
	return NewFeeOracle(client, oracleCfg), nil
}

func NewAutoBuilderFromConfig(client ChainClient, cfg *config.Config, store *feedata.Store, logger *slog.Logger) (*AutoBuilder, error) {
	builder := NewBuilder(bigInt(cfg.ChainID), cfg.RouterAddress(), cfg.Deadline())
	oracle, err := NewOracleFromConfig(client, cfg, store, logger)
	if err != nil {
		return nil, err
	}
	auto := NewAutoBuilder(builder, client, oracle, AutoBuilderConfig{
		GasLimitMultiplier: cfg.Tx.GasLimitMultiplier,
		Logger:             logger,
	})
	auto.SetNonceProvider(NewNonceManager(client))
	return auto, nil
}

func bigInt(v uint64) *big.Int {
	return new(big.Int).SetUint64(v)
}
