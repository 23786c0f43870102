package models

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oatsaysai/general-store-in-discord/internal/currency"
)

// ItemRef identifies a catalog entry by its compendium pack and item id
type ItemRef struct {
	PackID string `json:"packId"`
	ItemID string `json:"itemId"`
}

// Key returns the map key used for the item in carts and wishlists
func (r ItemRef) Key() string {
	return r.PackID + ":" + r.ItemID
}

// Valid reports whether both halves of the reference are present
func (r ItemRef) Valid() bool {
	return strings.TrimSpace(r.PackID) != "" && strings.TrimSpace(r.ItemID) != ""
}

// ParseItemKey splits a key produced by ItemRef.Key
func ParseItemKey(key string) (ItemRef, bool) {
	pack, item, ok := strings.Cut(key, ":")
	ref := ItemRef{PackID: pack, ItemID: item}
	return ref, ok && ref.Valid()
}

// ParticipantRef is who is acting on a cart or wishlist
type ParticipantRef struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// Bounds on cart lines. A line's subtotal is at most MaxTotal, and an
// order whose total stays under MaxTotal cannot overflow while it grows by
// one more line.
const (
	MaxQuantity       = 1_000_000
	MaxPrice    int64 = 1_000_000_000_000
	MaxTotal          = MaxPrice * MaxQuantity
)

// LineItem is one catalog reference with a quantity inside a cart.
// Price is the unit price in copper.
type LineItem struct {
	PackID   string `json:"packId"`
	ItemID   string `json:"itemId"`
	Name     string `json:"name"`
	Img      string `json:"img,omitempty"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
}

// Ref returns the catalog reference of the line
func (l LineItem) Ref() ItemRef {
	return ItemRef{PackID: l.PackID, ItemID: l.ItemID}
}

// Subtotal returns price times quantity
func (l LineItem) Subtotal() int64 {
	return l.Price * int64(l.Quantity)
}

// InBounds reports whether price and quantity are within the cart limits
func (l LineItem) InBounds() bool {
	return l.Quantity > 0 && l.Quantity <= MaxQuantity && l.Price >= 0 && l.Price <= MaxPrice
}

// Participant is one player's entry in the bulk order
type Participant struct {
	UserID         string     `json:"userId"`
	Name           string     `json:"name"`
	Confirmed      bool       `json:"confirmed"`
	NeedsReconfirm bool       `json:"needsReconfirm"`
	Items          []LineItem `json:"items"`
}

// Subtotal sums the participant's own line items
func (p Participant) Subtotal() int64 {
	var total int64
	for _, item := range p.Items {
		total += item.Subtotal()
	}
	return total
}

// OrderState is the shared bulk order. TotalPrice is derived and always
// recomputed before the state is persisted.
type OrderState struct {
	Active       bool                   `json:"active"`
	GMConfirmed  bool                   `json:"gmConfirmed"`
	Participants map[string]Participant `json:"participants"`
	TotalPrice   int64                  `json:"totalPrice"`
}

// ParticipantIDs returns the participant ids in ascending order, which is
// also the order used for settlement debits
func (s OrderState) ParticipantIDs() []string {
	ids := make([]string, 0, len(s.Participants))
	for id := range s.Participants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone returns a deep copy so transitions never alias the input
func (s OrderState) Clone() OrderState {
	out := OrderState{
		Active:       s.Active,
		GMConfirmed:  s.GMConfirmed,
		TotalPrice:   s.TotalPrice,
		Participants: make(map[string]Participant, len(s.Participants)),
	}
	for id, p := range s.Participants {
		p.Items = append([]LineItem(nil), p.Items...)
		out.Participants[id] = p
	}
	return out
}

// Claim is one participant's share of a wishlist item
type Claim struct {
	UserID   string `json:"userId"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar,omitempty"`
	Quantity int    `json:"quantity"`
}

// WishlistItem aggregates every claim on one catalog item.
// Quantity always equals the sum of the claims.
type WishlistItem struct {
	PackID       string  `json:"packId"`
	ItemID       string  `json:"itemId"`
	Name         string  `json:"name"`
	Img          string  `json:"img,omitempty"`
	Price        int64   `json:"price"`
	Quantity     int     `json:"quantity"`
	Participants []Claim `json:"participants"`
}

// Ref returns the catalog reference of the item
func (w WishlistItem) Ref() ItemRef {
	return ItemRef{PackID: w.PackID, ItemID: w.ItemID}
}

// WishlistState is the shared wishlist keyed by ItemRef.Key
type WishlistState struct {
	Items map[string]WishlistItem `json:"items"`
}

// Keys returns the item keys in ascending order
func (s WishlistState) Keys() []string {
	keys := make([]string, 0, len(s.Items))
	for k := range s.Items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy of the wishlist
func (s WishlistState) Clone() WishlistState {
	out := WishlistState{Items: make(map[string]WishlistItem, len(s.Items))}
	for k, item := range s.Items {
		item.Participants = append([]Claim(nil), item.Participants...)
		out.Items[k] = item
	}
	return out
}

// ItemDescriptor is what the catalog knows about an item
type ItemDescriptor struct {
	PackID string   `json:"packId" yaml:"pack"`
	ItemID string   `json:"itemId" yaml:"id"`
	Name   string   `json:"name" yaml:"name"`
	Img    string   `json:"img,omitempty" yaml:"img"`
	Price  int64    `json:"price" yaml:"price"`
	Level  int      `json:"level" yaml:"level"`
	Rarity string   `json:"rarity" yaml:"rarity"`
	Traits []string `json:"traits,omitempty" yaml:"traits"`
	Legacy bool     `json:"legacy,omitempty" yaml:"legacy"`
}

// Ref returns the catalog reference of the descriptor
func (d ItemDescriptor) Ref() ItemRef {
	return ItemRef{PackID: d.PackID, ItemID: d.ItemID}
}

// LineItem builds a cart line for qty units of the item
func (d ItemDescriptor) LineItem(qty int) LineItem {
	return LineItem{
		PackID:   d.PackID,
		ItemID:   d.ItemID,
		Name:     d.Name,
		Img:      d.Img,
		Price:    d.Price,
		Quantity: qty,
	}
}

// CatalogFilters are the GM-configured restrictions applied when browsing
type CatalogFilters struct {
	Traits   []string `json:"traits,omitempty"`
	MinLevel *int     `json:"minLevel,omitempty"`
	MaxLevel *int     `json:"maxLevel,omitempty"`
	Rarities []string `json:"rarities,omitempty"`
}

// Actor is a character or the party pool. Coins is nil when the actor
// carries no currency field.
type Actor struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	OwnerID string          `json:"ownerId"`
	IsParty bool            `json:"isParty"`
	Coins   *currency.Coins `json:"coins,omitempty"`
}

// ParticipantShare is how one participant's subtotal was paid
type ParticipantShare struct {
	UserID    string `json:"userId"`
	Name      string `json:"name"`
	ActorID   string `json:"actorId"`
	Subtotal  int64  `json:"subtotal"`
	Share     int64  `json:"share"`
	Remainder int64  `json:"remainder"`
}

// Grant is one item stack handed to a participant's character
type Grant struct {
	UserID  string   `json:"userId"`
	ActorID string   `json:"actorId"`
	Item    LineItem `json:"item"`
}

// Settlement statuses
const (
	SettlementSettled   = "settled"
	SettlementPartial   = "partial"
	SettlementUngranted = "ungranted" // paid, but an item never reached its buyer
)

// Settlement is the record of a checkout. A partial settlement had some
// debits committed before a later one failed. Debited lists the actors
// whose debit committed.
type Settlement struct {
	ID          string             `json:"id"`
	CreatedAt   time.Time          `json:"createdAt"`
	Status      string             `json:"status"`
	Error       string             `json:"error,omitempty"`
	Total       int64              `json:"total"`
	PoolActorID string             `json:"poolActorId,omitempty"`
	PoolUsed    int64              `json:"poolUsed"`
	Debited     []string           `json:"debited,omitempty"`
	Shares      []ParticipantShare `json:"shares"`
	Grants      []Grant            `json:"grants"`
}

// Report lists what normalisation dropped or repaired
type Report struct {
	Dropped []string `json:"dropped,omitempty"`
}

// Dropf records one dropped or repaired entry
func (r *Report) Dropf(format string, args ...any) {
	r.Dropped = append(r.Dropped, fmt.Sprintf(format, args...))
}

// Clean reports whether nothing was dropped
func (r Report) Clean() bool {
	return len(r.Dropped) == 0
}
