package order

import (
	"github.com/pkg/errors"

	"github.com/oatsaysai/general-store-in-discord/internal/apperr"
	"github.com/oatsaysai/general-store-in-discord/internal/models"
)

// SetActive opens or closes the order. Any earlier GM confirmation is reset.
func SetActive(s models.OrderState, active bool) models.OrderState {
	next := s.Clone()
	next.Active = active
	next.GMConfirmed = false
	Recompute(&next)
	return next
}

// AddItem merges item into the participant's cart. Re-adding a key adds
// the quantities and takes the newer price and name. A confirmed
// participant loses the confirmation and is flagged for reconfirmation.
func AddItem(s models.OrderState, who models.ParticipantRef, item models.LineItem) (models.OrderState, error) {
	if !s.Active {
		return s, apperr.ErrOrderInactive
	}
	if who.UserID == "" || !item.Ref().Valid() || item.Price < 0 || item.Price > models.MaxPrice {
		return s, apperr.ErrInvalidItem
	}
	if item.Quantity <= 0 || item.Quantity > models.MaxQuantity {
		return s, apperr.ErrInvalidQuantity
	}
	if item.Name == "" {
		item.Name = item.ItemID
	}

	next := s.Clone()
	p, ok := next.Participants[who.UserID]
	if !ok {
		p = models.Participant{UserID: who.UserID, Name: who.UserID}
	}
	if who.Name != "" {
		p.Name = who.Name
	}

	merged := false
	for i := range p.Items {
		if p.Items[i].Ref() == item.Ref() {
			if p.Items[i].Quantity > models.MaxQuantity-item.Quantity {
				return s, errors.Wrapf(apperr.ErrInvalidQuantity, "at most %d of %s", models.MaxQuantity, item.Name)
			}
			p.Items[i].Quantity += item.Quantity
			p.Items[i].Price = item.Price
			p.Items[i].Name = item.Name
			if item.Img != "" {
				p.Items[i].Img = item.Img
			}
			merged = true
			break
		}
	}
	if !merged {
		p.Items = append(p.Items, item)
	}

	next.Participants[who.UserID] = unconfirm(p)
	next.GMConfirmed = false
	Recompute(&next)
	if next.TotalPrice > models.MaxTotal {
		return s, errors.Wrap(apperr.ErrInvalidQuantity, "the order total is too large")
	}
	return next, nil
}

// RemoveItem deletes one line from the participant's cart and drops the
// participant once the cart is empty
func RemoveItem(s models.OrderState, userID, key string) (models.OrderState, error) {
	if !s.Active {
		return s, apperr.ErrOrderInactive
	}
	p, ok := s.Participants[userID]
	if !ok {
		return s, errors.Wrapf(apperr.ErrNotFound, "participant %s", userID)
	}
	at := -1
	for i, item := range p.Items {
		if item.Ref().Key() == key {
			at = i
			break
		}
	}
	if at < 0 {
		return s, errors.Wrapf(apperr.ErrNotFound, "item %s", key)
	}

	next := s.Clone()
	p = next.Participants[userID]
	p.Items = append(p.Items[:at], p.Items[at+1:]...)
	if len(p.Items) == 0 {
		delete(next.Participants, userID)
	} else {
		next.Participants[userID] = unconfirm(p)
	}
	next.GMConfirmed = false
	Recompute(&next)
	return next, nil
}

// ConfirmParticipant marks the participant's cart as final
func ConfirmParticipant(s models.OrderState, userID string) (models.OrderState, error) {
	p, ok := s.Participants[userID]
	if !ok || len(p.Items) == 0 {
		return s, apperr.ErrNothingToConfirm
	}
	next := s.Clone()
	p.Items = next.Participants[userID].Items
	p.Confirmed = true
	p.NeedsReconfirm = false
	next.Participants[userID] = p
	Recompute(&next)
	return next, nil
}

// ReadyForSettlement checks that the order is active, not empty and that
// every participant has confirmed a non-empty cart
func ReadyForSettlement(s models.OrderState) error {
	if !s.Active {
		return apperr.ErrOrderInactive
	}
	if len(s.Participants) == 0 {
		return apperr.ErrEmptyOrder
	}
	for _, id := range s.ParticipantIDs() {
		p := s.Participants[id]
		if len(p.Items) == 0 {
			return errors.Wrapf(apperr.ErrEmptyOrder, "%s has no items", p.Name)
		}
		if !p.Confirmed {
			return errors.Wrapf(apperr.ErrUnconfirmed, "%s has not confirmed", p.Name)
		}
	}
	return nil
}

// Settled is the state persisted once a checkout has moved coins
func Settled(s models.OrderState) models.OrderState {
	return models.OrderState{
		Active:       s.Active,
		GMConfirmed:  true,
		Participants: map[string]models.Participant{},
	}
}

func unconfirm(p models.Participant) models.Participant {
	if p.Confirmed {
		p.Confirmed = false
		p.NeedsReconfirm = true
	}
	return p
}
