package trade

// QuoteRequest names tokens by address, or by "native" (or the configured
// native symbol) for the chain's coin. Decimals are read on-chain when unset.
type QuoteRequest struct {
	TokenIn          string `json:"token_in"`
	TokenInDecimals  *uint8 `json:"token_in_decimals,omitempty"`
	TokenOut         string `json:"token_out"`
	TokenOutDecimals *uint8 `json:"token_out_decimals,omitempty"`
	AmountIn         string `json:"amount_in"`
	SlippagePercent  string `json:"slippage_percent,omitempty"`
}

type SwapRequest struct {
	QuoteRequest
	From            string  `json:"from"`
	Recipient       string  `json:"recipient,omitempty"`
	ExpectedOut     string  `json:"expected_out,omitempty"`
	DeadlineSeconds uint64  `json:"deadline_seconds,omitempty"`
	GasLimit        uint64  `json:"gas_limit,omitempty"`
	MaxFeeGwei      float64 `json:"max_fee_gwei,omitempty"`
	PriorityFeeGwei float64 `json:"priority_fee_gwei,omitempty"`
	NoWait          bool    `json:"no_wait,omitempty"`
}

type QuoteResult struct {
	Variant       string   `json:"variant"`
	Pair          string   `json:"pair"`
	Path          []string `json:"path"`
	AmountIn      string   `json:"amount_in"`
	AmountOut     string   `json:"amount_out"`
	MinimumOutput string   `json:"minimum_output"`
	MaximumInput  string   `json:"maximum_input"`
	Price         string   `json:"price"`
	PriceImpact   string   `json:"price_impact"`
}

type SwapResult struct {
	AttemptID       string                 `json:"attempt_id"`
	Status          string                 `json:"status"`
	State           string                 `json:"state"`
	TxHash          string                 `json:"tx_hash,omitempty"`
	Nonce           uint64                 `json:"nonce"`
	Tx              map[string]interface{} `json:"tx,omitempty"`
	Quote           *QuoteResult           `json:"quote,omitempty"`
	AmountOut       string                 `json:"amount_out,omitempty"`
	ApprovalSkipped bool                   `json:"approval_skipped,omitempty"`
	ApprovalTxHash  string                 `json:"approval_tx_hash,omitempty"`
	Error           string                 `json:"error,omitempty"`
	Kind            string                 `json:"kind,omitempty"`
	ElapsedMS       int64                  `json:"elapsed_ms"`
}
