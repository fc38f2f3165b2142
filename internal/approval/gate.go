// Package approval makes sure a spender may pull an ERC-20 amount before a
// swap is sent.
package approval

import (
	"context"
	"errors"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"ammswap/internal/keys"
	"ammswap/internal/swaperr"
	"ammswap/internal/txbuilder"
)

// Chain is the subset of an RPC client the gate needs. *ethclient.Client
// satisfies it.
type Chain interface {
	txbuilder.ContractCaller
	bind.DeployBackend
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// TxBuilder populates approve transactions.
type TxBuilder interface {
	BuildApproveTx(ctx context.Context, from, token, spender common.Address, amount *big.Int) (*types.Transaction, error)
	ResetNonce(from common.Address)
	ChainID() *big.Int
}

// Observer is notified about gate decisions. Optional.
type Observer interface {
	ApprovalSkipped()
	ApprovalIssued(status string)
}

type Result struct {
	// Skipped is true when the existing allowance already covered the amount.
	Skipped   bool
	Allowance *big.Int
	TxHash    common.Hash
	Receipt   *types.Receipt
}

type Gate struct {
	chain    Chain
	builder  TxBuilder
	signer   keys.Signer
	logger   *slog.Logger
	observer Observer
}

func NewGate(chain Chain, builder TxBuilder, signer keys.Signer, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{chain: chain, builder: builder, signer: signer, logger: logger}
}

func (g *Gate) SetObserver(o Observer) {
	g.observer = o
}

// EnsureApproval approves exactly required for spender unless the current
// allowance already covers it, then waits for the approval to be mined.
// Calling it again after success sends nothing.
func (g *Gate) EnsureApproval(ctx context.Context, owner, token, spender common.Address, required *big.Int) (Result, error) {
	const op = "approval.ensure"
	if required == nil || required.Sign() <= 0 {
		return Result{}, swaperr.Newf(swaperr.KindInvalidRequest, op, "required amount must be positive")
	}

	allowance, err := txbuilder.ReadERC20Allowance(ctx, g.chain, token, owner, spender)
	if err != nil {
		return Result{}, swaperr.Classify(op, err)
	}
	if allowance.Cmp(required) >= 0 {
		g.logger.Debug("allowance sufficient", "token", token.Hex(), "spender", spender.Hex(),
			"allowance", allowance.String(), "required", required.String())
		if g.observer != nil {
			g.observer.ApprovalSkipped()
		}
		return Result{Skipped: true, Allowance: allowance}, nil
	}

	tx, err := g.builder.BuildApproveTx(ctx, owner, token, spender, required)
	if err != nil {
		return Result{}, g.fail(op, err)
	}
	signed, err := g.signer.SignTransaction(owner, tx, g.builder.ChainID())
	if err != nil {
		g.builder.ResetNonce(owner)
		return Result{}, swaperr.New(swaperr.KindApprovalFailed, op, err)
	}
	if err := g.chain.SendTransaction(ctx, signed); err != nil {
		g.builder.ResetNonce(owner)
		return Result{}, swaperr.Classify(op, err)
	}
	g.logger.Info("approval sent", "token", token.Hex(), "spender", spender.Hex(),
		"amount", required.String(), "tx", signed.Hash().Hex())

	receipt, err := bind.WaitMined(ctx, g.chain, signed)
	if err != nil {
		return Result{TxHash: signed.Hash()}, swaperr.Classify(op, err)
	}
	res := Result{Allowance: required, TxHash: signed.Hash(), Receipt: receipt}
	if receipt.Status != types.ReceiptStatusSuccessful {
		g.issued("reverted")
		return res, swaperr.Newf(swaperr.KindApprovalFailed, op, "approve tx %s reverted", signed.Hash().Hex())
	}
	g.issued("confirmed")
	g.logger.Info("approval confirmed", "tx", signed.Hash().Hex(), "block", receipt.BlockNumber)
	return res, nil
}

func (g *Gate) fail(op string, err error) error {
	var estErr *txbuilder.EstimateGasError
	if errors.As(err, &estErr) && estErr.Reverted() {
		return swaperr.New(swaperr.KindApprovalFailed, op, err)
	}
	return swaperr.Classify(op, err)
}

func (g *Gate) issued(status string) {
	if g.observer != nil {
		g.observer.ApprovalIssued(status)
	}
}
