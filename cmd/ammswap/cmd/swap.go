package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"ammswap/internal/keys"
	"ammswap/internal/trade"
)

type swapFlags struct {
	quoteFlags
	from            string
	recipient       string
	expectedOut     string
	deadlineSeconds uint64
	gasLimit        uint64
	maxFeeGwei      float64
	priorityFeeGwei float64
	noWait          bool
}

func (f *swapFlags) register(fs *pflag.FlagSet) {
	f.quoteFlags.register(fs)
	fs.StringVar(&f.from, "from", "", "sender address (defaults to the env private key's address)")
	fs.StringVar(&f.recipient, "recipient", "", "output recipient (defaults to sender)")
	fs.StringVar(&f.expectedOut, "expected-out", "", "output you were quoted, for the log only")
	fs.Uint64Var(&f.deadlineSeconds, "deadline", 0, "deadline offset in seconds (default from config)")
	fs.Uint64Var(&f.gasLimit, "gas-limit", 0, "cap on the estimated gas limit")
	fs.Float64Var(&f.maxFeeGwei, "max-fee-gwei", 0, "max fee per gas in gwei (with --priority-fee-gwei)")
	fs.Float64Var(&f.priorityFeeGwei, "priority-fee-gwei", 0, "priority fee in gwei (with --max-fee-gwei)")
}

func (f *swapFlags) request(signer keys.Signer) trade.SwapRequest {
	from := f.from
	if pk, ok := signer.(*keys.PrivateKeySigner); ok && from == "" {
		from = pk.Address().Hex()
	}
	return trade.SwapRequest{
		QuoteRequest:    f.quoteFlags.request(),
		From:            from,
		Recipient:       f.recipient,
		ExpectedOut:     f.expectedOut,
		DeadlineSeconds: f.deadlineSeconds,
		GasLimit:        f.gasLimit,
		MaxFeeGwei:      f.maxFeeGwei,
		PriorityFeeGwei: f.priorityFeeGwei,
		NoWait:          f.noWait,
	}
}

var swapOpts swapFlags

var swapCmd = &cobra.Command{
	Use:   "swap",
	Short: "Execute a swap, approving the input token first when needed",
	Long: `Execute a swap and wait for its receipt. Interrupting the wait stops
watching the transaction; it does not cancel it on-chain.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, _, logger, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		res, err := a.Trade.Swap(ctx, swapOpts.request(a.Signer))
		if res != nil {
			if perr := printJSON(res); perr != nil {
				logger.Warn("print result failed", "error", perr)
			}
		}
		return err
	},
}

func init() {
	swapOpts.register(swapCmd.Flags())
	swapCmd.Flags().BoolVar(&swapOpts.noWait, "no-wait", false, "return after broadcast without waiting for the receipt")
	rootCmd.AddCommand(swapCmd)
}
