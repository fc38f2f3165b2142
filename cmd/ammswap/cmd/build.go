package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/spf13/cobra"

	"ammswap/internal/app"
	"ammswap/internal/trade"
	"ammswap/internal/txbuilder"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build unsigned transactions for inspection",
}

var (
	buildSwapOpts swapFlags
	buildSimulate bool
)

var buildSwapCmd = &cobra.Command{
	Use:   "swap",
	Short: "Quote and populate a router call without signing it",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cfg, logger, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()
		ctx, cancel := app.WithTimeout(context.Background(), cfg.Performance.RequestTimeout.Duration)
		defer cancel()

		req, err := a.Trade.SwapRequest(buildSwapOpts.request(a.Signer))
		if err != nil {
			return err
		}
		q, err := a.Coordinator.Quote(ctx, req)
		if err != nil {
			return err
		}
		if err := printJSON(trade.QuoteSummary(q)); err != nil {
			return err
		}
		recipient := req.Recipient
		if recipient == (common.Address{}) {
			recipient = req.Account
		}
		var fee txbuilder.FeeParams
		if req.Fee != nil {
			fee = *req.Fee
		}
		head, err := a.Eth.HeaderByNumber(ctx, nil)
		if err != nil {
			return err
		}
		builder := a.Auto.Builder().At(time.Unix(int64(head.Time), 0))
		call, err := builder.BuildSwapCall(q.From, q.To, q.Trade, q.Bound, recipient, req.DeadlineOffset, fee)
		if err != nil {
			return err
		}
		tx, err := a.Auto.PopulateSwap(ctx, req.Account, call, req.GasLimitHint)
		if err != nil {
			var estErr *txbuilder.EstimateGasError
			if buildSimulate && errors.As(err, &estErr) {
				runSimWithMsg(ctx, logger, a.Eth, estErr.CallMsg)
			}
			return err
		}
		// nothing is sent, so the nonce goes back
		a.Auto.ResetNonce(req.Account)
		printTx(logger, tx, "swap:"+call.Variant.String())
		if buildSimulate {
			runSim(ctx, logger, a.Eth, req.Account, tx)
		}
		return nil
	},
}

var approveOpts struct {
	from            string
	token           string
	spender         string
	amount          string
	raw             bool
	decimals        int
	offline         bool
	nonce           uint64
	gasLimit        uint64
	maxFeeGwei      float64
	priorityFeeGwei float64
}

var buildApproveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Build an ERC-20 approve for the router (or --spender)",
	RunE: func(cmd *cobra.Command, args []string) error {
		o := approveOpts
		tokenAddr, err := parseAddressRequired("token", o.token)
		if err != nil {
			return err
		}
		if o.offline {
			return buildApproveOffline(tokenAddr)
		}

		a, cfg, logger, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()
		ctx, cancel := app.WithTimeout(context.Background(), cfg.Performance.RequestTimeout.Duration)
		defer cancel()

		fromAddr, err := parseAddressRequired("from", o.from)
		if err != nil {
			return err
		}
		spender := cfg.RouterAddress()
		if o.spender != "" {
			if spender, err = parseAddressRequired("spender", o.spender); err != nil {
				return err
			}
		}
		decimals := uint8(18)
		if o.decimals >= 0 {
			decimals = uint8(o.decimals)
		} else if !o.raw {
			if decimals, err = txbuilder.ReadERC20Decimals(ctx, a.Eth, tokenAddr); err != nil {
				return err
			}
		}
		amount, err := trade.ParseAmount(o.amount, decimals, o.raw)
		if err != nil {
			return err
		}
		allowance, err := txbuilder.ReadERC20Allowance(ctx, a.Eth, tokenAddr, fromAddr, spender)
		if err != nil {
			return err
		}
		logger.Info("current allowance", "token", tokenAddr.Hex(), "spender", spender.Hex(), "allowance", allowance.String())

		tx, err := a.Auto.BuildApproveTx(ctx, fromAddr, tokenAddr, spender, amount)
		if err != nil {
			var estErr *txbuilder.EstimateGasError
			if buildSimulate && errors.As(err, &estErr) {
				runSimWithMsg(ctx, logger, a.Eth, estErr.CallMsg)
			}
			return err
		}
		a.Auto.ResetNonce(fromAddr)
		printTx(logger, tx, "approve")
		if buildSimulate {
			runSim(ctx, logger, a.Eth, fromAddr, tx)
		}
		return nil
	},
}

func buildApproveOffline(token common.Address) error {
	o := approveOpts
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if o.gasLimit == 0 {
		return errors.New("gas-limit is required in offline mode")
	}
	if o.maxFeeGwei <= 0 || o.priorityFeeGwei <= 0 {
		return errors.New("max-fee-gwei and priority-fee-gwei are required in offline mode")
	}
	if o.decimals < 0 && !o.raw {
		return errors.New("decimals or --raw is required in offline mode")
	}
	maxFee, err := txbuilder.GweiToWei(o.maxFeeGwei)
	if err != nil {
		return err
	}
	tip, err := txbuilder.GweiToWei(o.priorityFeeGwei)
	if err != nil {
		return err
	}
	spender := cfg.RouterAddress()
	if o.spender != "" {
		if spender, err = parseAddressRequired("spender", o.spender); err != nil {
			return err
		}
	}
	decimals := uint8(0)
	if o.decimals >= 0 {
		decimals = uint8(o.decimals)
	}
	amount, err := trade.ParseAmount(o.amount, decimals, o.raw)
	if err != nil {
		return err
	}

	builder := txbuilder.NewBuilder(new(big.Int).SetUint64(cfg.ChainID), cfg.RouterAddress(), cfg.Deadline())
	tx, err := builder.BuildApproveTx(token, spender, amount, txbuilder.BuildParams{
		Nonce:    o.nonce,
		GasLimit: o.gasLimit,
		Fee:      txbuilder.FeeParams{MaxFeePerGas: maxFee, MaxPriorityFeePerGas: tip},
	})
	if err != nil {
		return err
	}
	printTx(logger, tx, "approve-offline")
	return nil
}

func init() {
	buildSwapOpts.register(buildSwapCmd.Flags())
	buildCmd.PersistentFlags().BoolVar(&buildSimulate, "simulate", false, "run eth_call with the built tx")

	f := buildApproveCmd.Flags()
	f.StringVar(&approveOpts.from, "from", "", "owner address (for nonce and gas estimation)")
	f.StringVar(&approveOpts.token, "token", "", "token contract address")
	f.StringVar(&approveOpts.spender, "spender", "", "spender address (defaults to the router)")
	f.StringVar(&approveOpts.amount, "amount", "", "amount in token units, or base units with --raw")
	f.BoolVar(&approveOpts.raw, "raw", false, "amount is an integer in base units (decimal or 0x hex)")
	f.IntVar(&approveOpts.decimals, "decimals", -1, "token decimals (read on-chain when unset)")
	f.BoolVar(&approveOpts.offline, "offline", false, "build without RPC (requires nonce, gas and fee flags)")
	f.Uint64Var(&approveOpts.nonce, "nonce", 0, "manual nonce (offline)")
	f.Uint64Var(&approveOpts.gasLimit, "gas-limit", 0, "manual gas limit (offline)")
	f.Float64Var(&approveOpts.maxFeeGwei, "max-fee-gwei", 0, "manual max fee per gas in gwei (offline)")
	f.Float64Var(&approveOpts.priorityFeeGwei, "priority-fee-gwei", 0, "manual priority fee in gwei (offline)")

	buildCmd.AddCommand(buildSwapCmd, buildApproveCmd)
	rootCmd.AddCommand(buildCmd)
}

func parseAddressRequired(name string, value string) (common.Address, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return common.Address{}, fmt.Errorf("%s is required", name)
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("%s is not a valid address", name)
	}
	return common.HexToAddress(value), nil
}

func printTx(logger *slog.Logger, tx *types.Transaction, label string) {
	if tx == nil {
		logger.Info("tx is nil", "label", label)
		return
	}
	logger.Info(
		"built tx",
		"label", label,
		"type", tx.Type(),
		"nonce", tx.Nonce(),
		"to", addrToHex(tx.To()),
		"value", tx.Value().String(),
		"gas", tx.Gas(),
		"max_fee_wei", tx.GasFeeCap().String(),
		"priority_fee_wei", tx.GasTipCap().String(),
		"data", hexutil.Encode(tx.Data()),
	)
}

func addrToHex(addr *common.Address) string {
	if addr == nil {
		return ""
	}
	return addr.Hex()
}

func runSim(ctx context.Context, logger *slog.Logger, client ethereum.ContractCaller, from common.Address, tx *types.Transaction) {
	if client == nil || tx == nil {
		return
	}
	runSimWithMsg(ctx, logger, client, ethereum.CallMsg{
		From:      from,
		To:        tx.To(),
		Value:     tx.Value(),
		Data:      tx.Data(),
		Gas:       tx.Gas(),
		GasFeeCap: tx.GasFeeCap(),
		GasTipCap: tx.GasTipCap(),
	})
}

func runSimWithMsg(ctx context.Context, logger *slog.Logger, client ethereum.ContractCaller, msg ethereum.CallMsg) {
	if client == nil {
		return
	}
	out, err := client.CallContract(ctx, msg, nil)
	if err != nil {
		if reason := extractRevertReason(err); reason != "" {
			logger.Warn("simulation failed", "error", err, "revert_reason", reason)
		} else {
			logger.Warn("simulation failed", "error", err)
		}
		return
	}
	logger.Info("simulation ok", "result", hexutil.Encode(out))
}

func extractRevertReason(err error) string {
	if err == nil {
		return ""
	}
	var dataErr interface{ ErrorData() interface{} }
	if !errors.As(err, &dataErr) {
		return ""
	}
	switch v := dataErr.ErrorData().(type) {
	case string:
		if b, derr := hexutil.Decode(v); derr == nil {
			if reason, rerr := abi.UnpackRevert(b); rerr == nil {
				return reason
			}
		}
	case []byte:
		if reason, rerr := abi.UnpackRevert(v); rerr == nil {
			return reason
		}
	}
	return ""
}
