// Package authority applies mutations to the shared order and wishlist.
// Exactly one Local authority writes; every other client reaches it through
// a RemoteClient, which implements the same interface over the relay.
package authority

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/oatsaysai/general-store-in-discord/internal/apperr"
	"github.com/oatsaysai/general-store-in-discord/internal/models"
)

// Kind names a transition
type Kind string

const (
	KindSetActive          Kind = "setActive"
	KindAddItem            Kind = "addItem"
	KindRemoveItem         Kind = "removeItem"
	KindConfirmParticipant Kind = "confirmParticipant"
	KindGMConfirm          Kind = "gmConfirm"
	KindWishlistAdd        Kind = "wishlistAdd"
	KindWishlistRemove     Kind = "wishlistRemove"
	KindMovePlayerToCart   Kind = "movePlayerToCart"
)

var kinds = map[Kind]struct{}{
	KindSetActive:          {},
	KindAddItem:            {},
	KindRemoveItem:         {},
	KindConfirmParticipant: {},
	KindGMConfirm:          {},
	KindWishlistAdd:        {},
	KindWishlistRemove:     {},
	KindMovePlayerToCart:   {},
}

// ParseKind validates a mutation type received over the wire
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if _, ok := kinds[k]; !ok {
		return "", errors.Wrapf(apperr.ErrBadRequest, "unknown mutation %q", s)
	}
	return k, nil
}

// Privileged reports whether only the GM may request the transition
func (k Kind) Privileged() bool {
	return k == KindSetActive || k == KindGMConfirm
}

// Args carries the arguments of every kind; each kind reads what it needs
type Args struct {
	Active      bool                  `json:"active,omitempty"`
	Participant models.ParticipantRef `json:"participant"`
	Item        models.LineItem       `json:"item"`
	Key         string                `json:"key,omitempty"`
	Quantity    int                   `json:"quantity,omitempty"`
}

// Mutation is one requested transition. Privileged is only ever true for
// requests issued by the GM's own process; remote requests are never
// privileged.
type Mutation struct {
	Kind       Kind
	Args       Args
	Privileged bool
}

// Result is what a mutation produced
type Result struct {
	Order      *models.OrderState    `json:"order,omitempty"`
	Wishlist   *models.WishlistState `json:"wishlist,omitempty"`
	Moved      *models.LineItem      `json:"moved,omitempty"`
	Settlement *models.Settlement    `json:"settlement,omitempty"`
}

// OrderAuthority applies mutations. Callers do not know whether the
// authority is in process or remote.
type OrderAuthority interface {
	ApplyMutation(ctx context.Context, m Mutation) (Result, error)
}

func encodeArgs(a Args) (json.RawMessage, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, errors.Wrap(err, "marshal mutation args")
	}
	return raw, nil
}

func decodeArgs(raw json.RawMessage) (Args, error) {
	var a Args
	if len(raw) == 0 {
		return a, nil
	}
	if err := json.Unmarshal(raw, &a); err != nil {
		return Args{}, errors.Wrap(apperr.ErrBadRequest, "malformed mutation args")
	}
	return a, nil
}
