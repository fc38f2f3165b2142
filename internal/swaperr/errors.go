// Package swaperr defines the typed failures produced by the swap pipeline.
//
// Every step returns either a value or an *Error carrying a Kind. Errors with
// the same Kind match under errors.Is, and the underlying cause stays
// reachable through Unwrap.
package swaperr

import (
	"context"
	"errors"
	"fmt"
)

type Kind uint8

const (
	KindUnknown Kind = iota
	KindPrecision
	KindPairNotFound
	KindInsufficientLiquidity
	KindInsufficientInputAmount
	KindInvalidSlippage
	KindApprovalFailed
	KindTransport
	KindUserCancelled
	KindUnsupportedVariant
	KindSwapReverted
	KindInvalidRequest
)

var kindNames = map[Kind]string{
	KindUnknown:                 "unknown",
	KindPrecision:               "precision",
	KindPairNotFound:            "pair_not_found",
	KindInsufficientLiquidity:   "insufficient_liquidity",
	KindInsufficientInputAmount: "insufficient_input_amount",
	KindInvalidSlippage:         "invalid_slippage",
	KindApprovalFailed:          "approval_failed",
	KindTransport:               "transport",
	KindUserCancelled:           "user_cancelled",
	KindUnsupportedVariant:      "unsupported_variant",
	KindSwapReverted:            "swap_reverted",
	KindInvalidRequest:          "invalid_request",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Error is a classified pipeline failure.
type Error struct {
	Kind Kind
	// Op names the step that failed, e.g. "pair.resolve".
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrPrecision               = &Error{Kind: KindPrecision}
	ErrPairNotFound            = &Error{Kind: KindPairNotFound}
	ErrInsufficientLiquidity   = &Error{Kind: KindInsufficientLiquidity}
	ErrInsufficientInputAmount = &Error{Kind: KindInsufficientInputAmount}
	ErrInvalidSlippage         = &Error{Kind: KindInvalidSlippage}
	ErrApprovalFailed          = &Error{Kind: KindApprovalFailed}
	ErrTransport               = &Error{Kind: KindTransport}
	ErrUserCancelled           = &Error{Kind: KindUserCancelled}
	ErrUnsupportedVariant      = &Error{Kind: KindUnsupportedVariant}
	ErrSwapReverted            = &Error{Kind: KindSwapReverted}
	ErrInvalidRequest          = &Error{Kind: KindInvalidRequest}
)

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Newf(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Classify tags an untyped I/O error. Already classified errors are returned
// as is; a cancelled context becomes KindUserCancelled and everything else
// KindTransport.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return New(KindUserCancelled, op, err)
	}
	return New(KindTransport, op, err)
}

// IsCancelled reports whether err is a user-initiated cancellation.
func IsCancelled(err error) bool {
	return KindOf(err) == KindUserCancelled
}
