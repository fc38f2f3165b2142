package txbuilder

import (
	"strings"

	"github.com/ethereum/go-ethereum"
)

// EstimateGasError carries the call that could not be estimated.
type EstimateGasError struct {
	Err     error
	CallMsg ethereum.CallMsg
}

func (e *EstimateGasError) Error() string {
	if e == nil || e.Err == nil {
		return "estimate gas failed"
	}
	return "estimate gas failed: " + e.Err.Error()
}

func (e *EstimateGasError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Reverted reports whether the node rejected the call as a contract revert
// rather than failing to answer.
func (e *EstimateGasError) Reverted() bool {
	if e == nil || e.Err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(e.Err.Error()), "execution reverted")
}
