package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"ammswap/internal/app"
	"ammswap/internal/trade"
)

type quoteFlags struct {
	in          string
	out         string
	amount      string
	slippage    string
	inDecimals  int
	outDecimals int
}

func (f *quoteFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.in, "in", "", `input token address or "native"`)
	fs.StringVar(&f.out, "out", "", `output token address or "native"`)
	fs.StringVar(&f.amount, "amount", "", "input amount in token units (e.g. 1.5)")
	fs.StringVar(&f.slippage, "slippage", "", "slippage tolerance in percent (default from config)")
	fs.IntVar(&f.inDecimals, "in-decimals", -1, "input token decimals (read on-chain when unset)")
	fs.IntVar(&f.outDecimals, "out-decimals", -1, "output token decimals (read on-chain when unset)")
}

func (f *quoteFlags) request() trade.QuoteRequest {
	return trade.QuoteRequest{
		TokenIn:          f.in,
		TokenInDecimals:  decimalsFlag(f.inDecimals),
		TokenOut:         f.out,
		TokenOutDecimals: decimalsFlag(f.outDecimals),
		AmountIn:         f.amount,
		SlippagePercent:  f.slippage,
	}
}

func decimalsFlag(v int) *uint8 {
	if v < 0 {
		return nil
	}
	d := uint8(v)
	return &d
}

var quoteOpts quoteFlags

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Price a swap without sending anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cfg, _, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := app.WithTimeout(context.Background(), cfg.Performance.RequestTimeout.Duration)
		defer cancel()
		res, err := a.Trade.Quote(ctx, quoteOpts.request())
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

func init() {
	quoteOpts.register(quoteCmd.Flags())
	rootCmd.AddCommand(quoteCmd)
}
