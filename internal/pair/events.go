package pair

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"ammswap/internal/amm"
)

// SwapEvent is one decoded pair Swap log.
type SwapEvent struct {
	Pair       common.Address
	Sender     common.Address
	To         common.Address
	Amount0In  *big.Int
	Amount1In  *big.Int
	Amount0Out *big.Int
	Amount1Out *big.Int
	LogIndex   uint
	// Args is the JSON-friendly form of the decoded fields.
	Args map[string]any
}

// DecodeSwapEvents returns the Swap logs emitted by pairAddr in receipt.
func DecodeSwapEvents(receipt *types.Receipt, pairAddr common.Address) ([]SwapEvent, error) {
	if receipt == nil {
		return nil, nil
	}
	event := pairABI.Events["Swap"]
	out := make([]SwapEvent, 0)
	for _, l := range receipt.Logs {
		if l == nil || l.Address != pairAddr || len(l.Topics) == 0 || l.Topics[0] != event.ID {
			continue
		}
		args := map[string]any{}
		if err := event.Inputs.UnpackIntoMap(args, l.Data); err != nil {
			return out, fmt.Errorf("decode swap log %d: %w", l.Index, err)
		}
		if err := abi.ParseTopicsIntoMap(args, indexed(event.Inputs), l.Topics[1:]); err != nil {
			return out, fmt.Errorf("decode swap topics %d: %w", l.Index, err)
		}
		ev := SwapEvent{
			Pair:       l.Address,
			Sender:     asAddress(args["sender"]),
			To:         asAddress(args["to"]),
			Amount0In:  asBig(args["amount0In"]),
			Amount1In:  asBig(args["amount1In"]),
			Amount0Out: asBig(args["amount0Out"]),
			Amount1Out: asBig(args["amount1Out"]),
			LogIndex:   l.Index,
			Args:       normalizeMap(args),
		}
		out = append(out, ev)
	}
	return out, nil
}

// RealizedOutput sums what the pair sent out of token out across events.
// The bool is false when no Swap log was found.
func RealizedOutput(events []SwapEvent, state amm.PairState, out amm.Token) (*big.Int, bool) {
	if len(events) == 0 {
		return nil, false
	}
	outIsToken0 := out.SortsBefore(state.Other(out))
	total := new(big.Int)
	for _, ev := range events {
		if outIsToken0 {
			total.Add(total, ev.Amount0Out)
		} else {
			total.Add(total, ev.Amount1Out)
		}
	}
	return total, true
}

func indexed(args abi.Arguments) abi.Arguments {
	out := make(abi.Arguments, 0, len(args))
	for _, a := range args {
		if a.Indexed {
			out = append(out, a)
		}
	}
	return out
}

func asAddress(v any) common.Address {
	if a, ok := v.(common.Address); ok {
		return a
	}
	return common.Address{}
}

func asBig(v any) *big.Int {
	if b, ok := v.(*big.Int); ok && b != nil {
		return b
	}
	return new(big.Int)
}

func normalizeMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		switch t := v.(type) {
		case common.Address:
			out[k] = t.Hex()
		case common.Hash:
			out[k] = t.Hex()
		case *big.Int:
			if t == nil {
				out[k] = "0"
				continue
			}
			out[k] = t.String()
		case []byte:
			out[k] = "0x" + hex.EncodeToString(t)
		default:
			out[k] = t
		}
	}
	return out
}
