package statestore

import (
	"github.com/oatsaysai/general-store-in-discord/internal/models"
	"github.com/oatsaysai/general-store-in-discord/internal/order"
	"github.com/oatsaysai/general-store-in-discord/internal/relay"
	"github.com/oatsaysai/general-store-in-discord/internal/wishlist"
)

// Setting keys
const (
	OrderKey    = "bulkOrder"
	WishlistKey = "wishlist"
)

// OrderCodec stores the bulk order
func OrderCodec() Codec[models.OrderState] {
	return Codec[models.OrderState]{
		Key:       OrderKey,
		Type:      relay.TypeOrderState,
		Empty:     order.Empty,
		Parse:     order.Parse,
		Normalize: order.Normalize,
	}
}

// WishlistCodec stores the shared wishlist
func WishlistCodec() Codec[models.WishlistState] {
	return Codec[models.WishlistState]{
		Key:       WishlistKey,
		Type:      relay.TypeWishlistState,
		Empty:     wishlist.Empty,
		Parse:     wishlist.Parse,
		Normalize: wishlist.Normalize,
	}
}
