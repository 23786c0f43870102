package authority

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/oatsaysai/general-store-in-discord/internal/apperr"
	"github.com/oatsaysai/general-store-in-discord/internal/models"
	"github.com/oatsaysai/general-store-in-discord/internal/order"
	"github.com/oatsaysai/general-store-in-discord/internal/statestore"
	"github.com/oatsaysai/general-store-in-discord/internal/wishlist"
)

// Settler runs the checkout of a confirmed order. A settlement with an ID
// means coins moved, whatever error comes with it.
type Settler interface {
	Settle(ctx context.Context, state models.OrderState) (models.Settlement, error)
}

// Local is the single writer. Mutations are serialised by a mutex so each
// one reads the latest state and writes its successor without interleaving.
type Local struct {
	mu      sync.Mutex
	orders  *statestore.Store[models.OrderState]
	wishes  *statestore.Store[models.WishlistState]
	settler Settler
	log     *log.Entry
}

// NewLocal creates the authority over the two stores, which must be
// authoritative
func NewLocal(orders *statestore.Store[models.OrderState], wishes *statestore.Store[models.WishlistState], settler Settler, logger *log.Entry) *Local {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Local{
		orders:  orders,
		wishes:  wishes,
		settler: settler,
		log:     logger.WithField("component", "authority"),
	}
}

// ApplyMutation applies m and persists the result
func (l *Local) ApplyMutation(ctx context.Context, m Mutation) (Result, error) {
	if m.Kind.Privileged() && !m.Privileged {
		return Result{}, apperr.ErrNotAuthorized
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	logger := l.log.WithFields(log.Fields{"mutation": m.Kind, "participant": m.Args.Participant.UserID})

	var (
		res Result
		err error
	)
	switch m.Kind {
	case KindSetActive, KindAddItem, KindRemoveItem, KindConfirmParticipant:
		res, err = l.applyOrder(ctx, m)
	case KindGMConfirm:
		res, err = l.checkout(ctx)
	case KindWishlistAdd, KindWishlistRemove, KindMovePlayerToCart:
		res, err = l.applyWishlist(ctx, m)
	default:
		err = errors.Wrapf(apperr.ErrBadRequest, "unknown mutation %q", m.Kind)
	}

	switch {
	case err == nil:
		logger.Debug("Applied mutation")
	case apperr.IsUserError(err):
		logger.WithError(err).Info("Mutation rejected")
	default:
		logger.WithError(err).Error("Mutation failed")
	}
	return res, err
}

func (l *Local) applyOrder(ctx context.Context, m Mutation) (Result, error) {
	current, err := l.orders.Read(ctx)
	if err != nil {
		return Result{}, err
	}

	var next models.OrderState
	switch m.Kind {
	case KindSetActive:
		next = order.SetActive(current, m.Args.Active)
	case KindAddItem:
		next, err = order.AddItem(current, m.Args.Participant, m.Args.Item)
	case KindRemoveItem:
		next, err = order.RemoveItem(current, m.Args.Participant.UserID, m.Args.Key)
	case KindConfirmParticipant:
		next, err = order.ConfirmParticipant(current, m.Args.Participant.UserID)
	}
	if err != nil {
		return Result{}, err
	}

	written, err := l.orders.Write(ctx, next)
	if err != nil {
		return Result{}, err
	}
	return Result{Order: &written}, nil
}

func (l *Local) applyWishlist(ctx context.Context, m Mutation) (Result, error) {
	current, err := l.wishes.Read(ctx)
	if err != nil {
		return Result{}, err
	}

	var (
		next  models.WishlistState
		moved *models.LineItem
	)
	switch m.Kind {
	case KindWishlistAdd:
		item := m.Args.Item
		if m.Args.Quantity != 0 {
			item.Quantity = m.Args.Quantity
		}
		next, err = wishlist.Add(current, m.Args.Participant, item)
	case KindWishlistRemove:
		next, err = wishlist.Remove(current, m.Args.Key, m.Args.Participant.UserID, m.Args.Quantity)
	case KindMovePlayerToCart:
		var line models.LineItem
		next, line, err = wishlist.MovePlayerToCart(current, m.Args.Key, m.Args.Participant.UserID, m.Args.Quantity)
		moved = &line
	}
	if err != nil {
		return Result{}, err
	}

	written, err := l.wishes.Write(ctx, next)
	if err != nil {
		return Result{}, err
	}
	return Result{Wishlist: &written, Moved: moved}, nil
}

// checkout settles the order and clears it. No debit happens unless the
// order is ready. Once any coins moved the order is cleared even when
// settlement failed afterwards, so it can never be charged twice; the
// settlement record says what is left to fix by hand.
func (l *Local) checkout(ctx context.Context) (Result, error) {
	if l.settler == nil {
		return Result{}, errors.Wrap(apperr.ErrInternal, "no settler configured")
	}
	current, err := l.orders.Read(ctx)
	if err != nil {
		return Result{}, err
	}
	if err := order.ReadyForSettlement(current); err != nil {
		return Result{}, err
	}

	settlement, settleErr := l.settler.Settle(ctx, current)
	if settlement.ID == "" {
		return Result{}, settleErr
	}
	if settleErr != nil {
		l.log.WithError(settleErr).WithField("settlement", settlement.ID).Error("Settlement failed after coins moved, clearing the order")
	}

	written, err := l.orders.Write(ctx, order.Settled(current))
	if err != nil {
		l.log.WithError(err).WithField("settlement", settlement.ID).Error("Settled but could not clear the order")
		return Result{Settlement: &settlement}, errors.Wrapf(apperr.ErrInternal, "settlement %s committed but the order was not cleared", settlement.ID)
	}
	return Result{Order: &written, Settlement: &settlement}, settleErr
}
