// Package apperr holds the shop's sentinel errors and the stable codes
// they carry across the relay.
package apperr

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrOrderInactive     = errors.New("the bulk order is not active")
	ErrInvalidQuantity   = errors.New("quantity must be a positive integer")
	ErrInvalidItem       = errors.New("item reference is incomplete")
	ErrNotFound          = errors.New("not found")
	ErrNothingToConfirm  = errors.New("nothing to confirm")
	ErrNotAuthorized     = errors.New("only the GM may do that")
	ErrNotAuthoritative  = errors.New("this client cannot write shared state")
	ErrUnconfirmed       = errors.New("not every participant has confirmed")
	ErrEmptyOrder        = errors.New("the bulk order is empty")
	ErrUnresolvedItem    = errors.New("catalog item could not be resolved")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNoLedgerPath      = errors.New("account has no currency ledger")
	ErrPartialCommit     = errors.New("settlement partially committed")
	ErrGrantFailed       = errors.New("items could not be granted")
	ErrTimeout           = errors.New("no answer from the GM client")
	ErrBadRequest        = errors.New("bad request")
	ErrInternal          = errors.New("internal error")
)

// Wire codes
const (
	CodeOrderInactive     = "E_ORDER_INACTIVE"
	CodeInvalidQuantity   = "E_INVALID_QUANTITY"
	CodeInvalidItem       = "E_INVALID_ITEM"
	CodeNotFound          = "E_NOT_FOUND"
	CodeNothingToConfirm  = "E_NOTHING_TO_CONFIRM"
	CodeNotAuthorized     = "E_NOT_AUTHORIZED"
	CodeNotAuthoritative  = "E_NOT_AUTHORITATIVE"
	CodeUnconfirmed       = "E_UNCONFIRMED"
	CodeEmptyOrder        = "E_EMPTY_ORDER"
	CodeUnresolvedItem    = "E_UNRESOLVED_ITEM"
	CodeInsufficientFunds = "E_INSUFFICIENT_FUNDS"
	CodeNoLedgerPath      = "E_NO_LEDGER_PATH"
	CodePartialCommit     = "E_PARTIAL_COMMIT"
	CodeGrantFailed       = "E_GRANT_FAILED"
	CodeTimeout           = "E_TIMEOUT"
	CodeBadRequest        = "E_BAD_REQUEST"
	CodeInternal          = "E_INTERNAL"
)

var codes = []struct {
	err  error
	code string
}{
	{ErrOrderInactive, CodeOrderInactive},
	{ErrInvalidQuantity, CodeInvalidQuantity},
	{ErrInvalidItem, CodeInvalidItem},
	{ErrNotFound, CodeNotFound},
	{ErrNothingToConfirm, CodeNothingToConfirm},
	{ErrNotAuthorized, CodeNotAuthorized},
	{ErrNotAuthoritative, CodeNotAuthoritative},
	{ErrUnconfirmed, CodeUnconfirmed},
	{ErrEmptyOrder, CodeEmptyOrder},
	{ErrUnresolvedItem, CodeUnresolvedItem},
	{ErrInsufficientFunds, CodeInsufficientFunds},
	{ErrNoLedgerPath, CodeNoLedgerPath},
	{ErrPartialCommit, CodePartialCommit},
	{ErrGrantFailed, CodeGrantFailed},
	{ErrTimeout, CodeTimeout},
	{ErrBadRequest, CodeBadRequest},
	{ErrInternal, CodeInternal},
}

// Code maps an error to its wire code. Unknown errors are E_INTERNAL.
func Code(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// FromCode rebuilds an error received over the wire so that errors.Is
// keeps working on the requesting side.
func FromCode(code, message string) error {
	for _, c := range codes {
		if c.code == code {
			message = strings.TrimSuffix(message, ": "+c.err.Error())
			if message == "" || message == c.err.Error() {
				return c.err
			}
			return errors.Wrap(c.err, message)
		}
	}
	if message == "" {
		return ErrInternal
	}
	return errors.Wrap(ErrInternal, message)
}

// IsUserError reports whether err is an expected validation or
// affordability outcome rather than a fault worth an error log
func IsUserError(err error) bool {
	switch Code(err) {
	case CodeInternal, CodePartialCommit, CodeGrantFailed, CodeNoLedgerPath, CodeUnresolvedItem:
		return false
	}
	return true
}
