// Package ledger is the adapter between coin purses stored on actors and
// the copper amounts the shop charges.
package ledger

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/oatsaysai/general-store-in-discord/internal/apperr"
	"github.com/oatsaysai/general-store-in-discord/internal/currency"
	"github.com/oatsaysai/general-store-in-discord/internal/models"
)

// Reason explains a refused debit
type Reason string

const (
	ReasonInsufficientFunds Reason = "INSUFFICIENT_FUNDS"
	ReasonNoLedgerPath      Reason = "NO_LEDGER_PATH"
)

// Result is the outcome of TryDebit. Balance is the copper left after a
// successful debit, or the copper available when the debit was refused.
type Result struct {
	OK      bool
	Reason  Reason
	Balance int64
}

// Err converts a refused result into the matching sentinel error
func (r Result) Err() error {
	switch {
	case r.OK:
		return nil
	case r.Reason == ReasonNoLedgerPath:
		return apperr.ErrNoLedgerPath
	default:
		return apperr.ErrInsufficientFunds
	}
}

// Debit is an amount of copper to take from one actor
type Debit struct {
	ActorID string `json:"actorId"`
	Amount  int64  `json:"amount"`
}

// Book stores actors and lets the adapter rewrite their coin field
type Book interface {
	Actor(ctx context.Context, id string) (models.Actor, error)
	SetCoins(ctx context.Context, id string, coins currency.Coins) error
}

// ValueDebiter is a book that debits by value in one step
type ValueDebiter interface {
	DebitValue(ctx context.Context, id string, amount int64) (currency.Coins, error)
}

// BatchDebiter is a book that applies several debits all-or-nothing
type BatchDebiter interface {
	DebitAll(ctx context.Context, debits []Debit) error
}

// Adapter checks balances and performs debits against a Book
type Adapter struct {
	book Book
	log  *log.Entry
}

// New creates a ledger adapter
func New(book Book, logger *log.Entry) *Adapter {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Adapter{book: book, log: logger.WithField("component", "ledger")}
}

// Balance returns the copper value of the actor's purse
func (a *Adapter) Balance(ctx context.Context, actorID string) (int64, error) {
	actor, err := a.book.Actor(ctx, actorID)
	if err != nil {
		return 0, err
	}
	if actor.Coins == nil {
		return 0, apperr.ErrNoLedgerPath
	}
	return currency.ToBaseUnits(*actor.Coins), nil
}

// CanAfford reports whether the actor holds at least amount copper.
// It never mutates the ledger.
func (a *Adapter) CanAfford(ctx context.Context, actorID string, amount int64) (bool, error) {
	if amount <= 0 {
		return true, nil
	}
	balance, err := a.Balance(ctx, actorID)
	if err != nil {
		return false, err
	}
	return balance >= amount, nil
}

// TryDebit charges an amount given in gold pieces, rounded half up to copper
func (a *Adapter) TryDebit(ctx context.Context, actorID string, gold float64) (Result, error) {
	return a.TryDebitBase(ctx, actorID, currency.RoundMajor(gold))
}

// TryDebitBase charges amount copper. The purse is only written when it
// covers the whole amount; a refused debit leaves the ledger untouched.
func (a *Adapter) TryDebitBase(ctx context.Context, actorID string, amount int64) (Result, error) {
	if amount < 0 {
		return Result{}, apperr.ErrInvalidQuantity
	}

	actor, err := a.book.Actor(ctx, actorID)
	if err != nil {
		return Result{}, err
	}
	if actor.Coins == nil {
		a.log.WithField("actor", actorID).Warn("Actor has no currency field")
		return Result{Reason: ReasonNoLedgerPath}, nil
	}
	available := currency.ToBaseUnits(*actor.Coins)
	if available < amount {
		return Result{Reason: ReasonInsufficientFunds, Balance: available}, nil
	}
	if amount == 0 {
		return Result{OK: true, Balance: available}, nil
	}

	if vd, ok := a.book.(ValueDebiter); ok {
		left, err := vd.DebitValue(ctx, actorID, amount)
		switch {
		case errors.Is(err, apperr.ErrInsufficientFunds):
			return Result{Reason: ReasonInsufficientFunds, Balance: available}, nil
		case errors.Is(err, apperr.ErrNoLedgerPath):
			return Result{Reason: ReasonNoLedgerPath}, nil
		case err != nil:
			return Result{}, err
		}
		return Result{OK: true, Balance: currency.ToBaseUnits(left)}, nil
	}

	left, ok := actor.Coins.Subtract(amount)
	if !ok {
		return Result{Reason: ReasonInsufficientFunds, Balance: available}, nil
	}
	if err := a.book.SetCoins(ctx, actorID, left); err != nil {
		return Result{}, errors.Wrapf(err, "write coins of %s", actorID)
	}
	a.log.WithFields(log.Fields{"actor": actorID, "amount": amount}).Debug("Debited actor")
	return Result{OK: true, Balance: currency.ToBaseUnits(left)}, nil
}

// DebitAll applies the debits in order. Books implementing BatchDebiter do
// it atomically. Otherwise debits run one by one and a failure after the
// first success returns ErrPartialCommit together with what was committed.
func (a *Adapter) DebitAll(ctx context.Context, debits []Debit) ([]Debit, error) {
	pending := make([]Debit, 0, len(debits))
	for _, d := range debits {
		if d.Amount > 0 {
			pending = append(pending, d)
		}
	}
	if len(pending) == 0 {
		return nil, nil
	}

	if bd, ok := a.book.(BatchDebiter); ok {
		if err := bd.DebitAll(ctx, pending); err != nil {
			return nil, err
		}
		return pending, nil
	}

	committed := make([]Debit, 0, len(pending))
	for _, d := range pending {
		res, err := a.TryDebitBase(ctx, d.ActorID, d.Amount)
		if err == nil {
			err = res.Err()
		}
		if err != nil {
			if len(committed) == 0 {
				return nil, err
			}
			a.log.WithFields(log.Fields{
				"actor":     d.ActorID,
				"amount":    d.Amount,
				"committed": len(committed),
			}).WithError(err).Error("Debit failed after earlier debits were committed")
			return committed, errors.Wrapf(apperr.ErrPartialCommit, "debit of %s failed: %v", d.ActorID, err)
		}
		committed = append(committed, d)
	}
	return committed, nil
}
