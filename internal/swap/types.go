package swap

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"ammswap/internal/amm"
	"ammswap/internal/approval"
	"ammswap/internal/keys"
	"ammswap/internal/txbuilder"
)

// TokenSelection is how a caller names one leg of the swap. Decimals are read
// from the token contract when nil.
type TokenSelection struct {
	Native   bool
	Address  common.Address
	Decimals *uint8
	Symbol   string
}

func Native(symbol string) TokenSelection {
	return TokenSelection{Native: true, Symbol: symbol}
}

func ERC20(addr common.Address, decimals uint8, symbol string) TokenSelection {
	return TokenSelection{Address: addr, Decimals: &decimals, Symbol: symbol}
}

type Request struct {
	// Network defaults to the coordinator's network when ChainID is zero.
	Network amm.Network
	Signer  keys.Signer
	Account common.Address
	From    TokenSelection
	To      TokenSelection
	// AmountIn is a human decimal in units of From.
	AmountIn string
	// ExpectedOut is what the caller was shown. It is only logged.
	ExpectedOut     string
	SlippagePercent string
	// Fee overrides the fee oracle when both fields are set.
	Fee            *txbuilder.FeeParams
	GasLimitHint   uint64
	DeadlineOffset time.Duration
	// Recipient defaults to Account.
	Recipient common.Address
	// NoWait returns right after broadcast.
	NoWait bool
}

// Hooks are optional observers of an attempt. They run on the caller's
// goroutine and must not block for long.
type Hooks struct {
	// BeforeWork runs on entry, before any I/O.
	BeforeWork func()
	// OnPreview receives the signed swap transaction before it is broadcast.
	OnPreview    func(tx *types.Transaction)
	OnSuccess    func(Outcome)
	OnFailure    func(Outcome)
	OnTransition func(from, to State)
}

// Quote is the priced, bounded trade an attempt would send.
type Quote struct {
	From    amm.Token
	To      amm.Token
	Trade   amm.Trade
	Bound   amm.SlippageBound
	Variant txbuilder.Variant
}

type Outcome struct {
	AttemptID string
	Status    Status
	// State is the last state reached.
	State   State
	TxHash  common.Hash
	Nonce   uint64
	Receipt *types.Receipt
	Quote   *Quote
	// AmountOut is the realised output read from the pair's Swap log.
	AmountOut *big.Int
	Approval  *approval.Result
	Err       error
	Elapsed   time.Duration
}
