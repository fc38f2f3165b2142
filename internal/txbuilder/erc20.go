package txbuilder

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

var (
	selectorBalanceOf = mustSelector("0x70a08231")
	selectorDecimals  = mustSelector("0x313ce567")
)

func BuildBalanceOfCallData(owner common.Address) []byte {
	data := append([]byte{}, selectorBalanceOf...)
	data = append(data, encodeAddress(owner)...)
	return data
}

func BuildDecimalsCallData() []byte {
	return append([]byte{}, selectorDecimals...)
}

func ReadERC20Balance(ctx context.Context, caller ContractCaller, token common.Address, owner common.Address) (*big.Int, error) {
	return callUint256(ctx, caller, token, BuildBalanceOfCallData(owner))
}

func ReadERC20Allowance(ctx context.Context, caller ContractCaller, token, owner, spender common.Address) (*big.Int, error) {
	return callUint256(ctx, caller, token, BuildAllowanceCallData(owner, spender))
}

func ReadERC20Decimals(ctx context.Context, caller ContractCaller, token common.Address) (uint8, error) {
	v, err := callUint256(ctx, caller, token, BuildDecimalsCallData())
	if err != nil {
		return 0, err
	}
	if v.BitLen() > 8 {
		return 0, fmt.Errorf("decimals out of range: %s", v.String())
	}
	return uint8(v.Uint64()), nil
}

func callUint256(ctx context.Context, caller ContractCaller, to common.Address, data []byte) (*big.Int, error) {
	if caller == nil {
		return nil, errors.New("contract caller is nil")
	}
	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	if len(out) < 32 {
		return nil, fmt.Errorf("call to %s returned %d bytes, want 32", to.Hex(), len(out))
	}
	return new(big.Int).SetBytes(out[:32]), nil
}
