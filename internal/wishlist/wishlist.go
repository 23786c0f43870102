// Package wishlist keeps the shared list of wanted items. Entries are
// aggregated per item, each carrying the claims of the players who want it.
package wishlist

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/oatsaysai/general-store-in-discord/internal/apperr"
	"github.com/oatsaysai/general-store-in-discord/internal/models"
	"github.com/oatsaysai/general-store-in-discord/internal/utils"
)

// Empty returns a wishlist without items
func Empty() models.WishlistState {
	return models.WishlistState{Items: map[string]models.WishlistItem{}}
}

// Parse decodes a persisted wishlist, dropping what cannot be coerced
func Parse(raw []byte) (models.WishlistState, models.Report) {
	var report models.Report
	if len(strings.TrimSpace(string(raw))) == 0 {
		return Empty(), report
	}
	v, err := utils.DecodeLoose(raw)
	if err != nil {
		report.Dropf("state is not valid JSON: %v", err)
		return Empty(), report
	}
	if v == nil {
		return Empty(), report
	}
	obj := utils.AsObject(v)
	if obj == nil {
		report.Dropf("state is not an object")
		return Empty(), report
	}

	state := Empty()
	rawItems, _ := obj["items"].(map[string]any)
	for key, ri := range rawItems {
		entry := utils.AsObject(ri)
		if entry == nil {
			report.Dropf("item %q is not an object", key)
			continue
		}
		item := models.WishlistItem{
			PackID: strings.TrimSpace(utils.AsString(entry["packId"])),
			ItemID: strings.TrimSpace(utils.AsString(entry["itemId"])),
			Name:   utils.AsString(entry["name"]),
			Img:    utils.AsString(entry["img"]),
			Price:  utils.NonNegativeAmount(entry["price"]),
		}
		claims, _ := entry["participants"].([]any)
		for i, rc := range claims {
			c := utils.AsObject(rc)
			qty, ok := utils.PositiveQuantity(c["quantity"])
			if c == nil || !ok {
				report.Dropf("item %q claim %d is invalid", key, i)
				continue
			}
			item.Participants = append(item.Participants, models.Claim{
				UserID:   strings.TrimSpace(utils.AsString(c["userId"])),
				Name:     utils.AsString(c["name"]),
				Avatar:   utils.AsString(c["avatar"]),
				Quantity: qty,
			})
		}
		state.Items[key] = item
	}

	state, more := Normalize(state)
	report.Dropped = append(report.Dropped, more.Dropped...)
	return state, report
}

// Normalize re-keys items by their reference, merges claims of the same
// user, recomputes each aggregate quantity and drops items nobody claims
func Normalize(s models.WishlistState) (models.WishlistState, models.Report) {
	var report models.Report
	out := Empty()

	for key, item := range s.Items {
		if !item.Ref().Valid() {
			ref, ok := models.ParseItemKey(key)
			if !ok {
				report.Dropf("item %q has no pack or item id", key)
				continue
			}
			item.PackID, item.ItemID = ref.PackID, ref.ItemID
		}
		if item.Name == "" {
			item.Name = item.ItemID
		}
		if item.Price < 0 {
			item.Price = 0
		}
		if item.Price > models.MaxPrice {
			report.Dropf("item %q has price %d", key, item.Price)
			continue
		}

		claims := make([]models.Claim, 0, len(item.Participants))
		index := make(map[string]int, len(item.Participants))
		total := 0
		for _, c := range item.Participants {
			if c.UserID == "" || c.Quantity <= 0 || c.Quantity > models.MaxQuantity {
				report.Dropf("item %q has an invalid claim", key)
				continue
			}
			if c.Name == "" {
				c.Name = c.UserID
			}
			total += c.Quantity
			if at, dup := index[c.UserID]; dup {
				claims[at].Quantity += c.Quantity
				continue
			}
			index[c.UserID] = len(claims)
			claims = append(claims, c)
		}
		if len(claims) == 0 {
			report.Dropf("item %q has no claims", key)
			continue
		}
		item.Participants = claims
		item.Quantity = total

		k := item.Ref().Key()
		if prev, dup := out.Items[k]; dup {
			item = mergeItems(prev, item)
		}
		out.Items[k] = item
	}
	return out, report
}

func mergeItems(a, b models.WishlistItem) models.WishlistItem {
	for _, c := range b.Participants {
		a = addClaim(a, c)
	}
	return a
}

func addClaim(item models.WishlistItem, c models.Claim) models.WishlistItem {
	claims := append([]models.Claim(nil), item.Participants...)
	found := false
	for i := range claims {
		if claims[i].UserID == c.UserID {
			claims[i].Quantity += c.Quantity
			if c.Name != "" {
				claims[i].Name = c.Name
			}
			if c.Avatar != "" {
				claims[i].Avatar = c.Avatar
			}
			found = true
			break
		}
	}
	if !found {
		claims = append(claims, c)
	}
	item.Participants = claims
	item.Quantity += c.Quantity
	return item
}

// Add records that who wants item.Quantity more of the item
func Add(s models.WishlistState, who models.ParticipantRef, item models.LineItem) (models.WishlistState, error) {
	if who.UserID == "" || !item.Ref().Valid() || item.Price < 0 || item.Price > models.MaxPrice {
		return s, apperr.ErrInvalidItem
	}
	if item.Quantity <= 0 || item.Quantity > models.MaxQuantity {
		return s, apperr.ErrInvalidQuantity
	}
	name := who.Name
	if name == "" {
		name = who.UserID
	}
	if item.Name == "" {
		item.Name = item.ItemID
	}

	next := s.Clone()
	key := item.Ref().Key()
	entry, ok := next.Items[key]
	if !ok {
		entry = models.WishlistItem{PackID: item.PackID, ItemID: item.ItemID}
	}
	for _, c := range entry.Participants {
		if c.UserID == who.UserID && c.Quantity > models.MaxQuantity-item.Quantity {
			return s, errors.Wrapf(apperr.ErrInvalidQuantity, "at most %d of %s", models.MaxQuantity, item.Name)
		}
	}
	entry.Name = item.Name
	entry.Price = item.Price
	if item.Img != "" {
		entry.Img = item.Img
	}
	next.Items[key] = addClaim(entry, models.Claim{
		UserID:   who.UserID,
		Name:     name,
		Avatar:   who.Avatar,
		Quantity: item.Quantity,
	})
	return next, nil
}

// Remove takes qty off the user's claim. A non-positive qty drops the
// whole claim.
func Remove(s models.WishlistState, key, userID string, qty int) (models.WishlistState, error) {
	next, _, err := take(s, key, userID, qty)
	return next, err
}

// MovePlayerToCart takes up to qty of the user's claim off the wishlist and
// returns it as a line item for the user's cart. No currency changes hands.
func MovePlayerToCart(s models.WishlistState, key, userID string, qty int) (models.WishlistState, models.LineItem, error) {
	if qty <= 0 {
		return s, models.LineItem{}, apperr.ErrInvalidQuantity
	}
	return take(s, key, userID, qty)
}

func take(s models.WishlistState, key, userID string, qty int) (models.WishlistState, models.LineItem, error) {
	entry, ok := s.Items[key]
	if !ok {
		return s, models.LineItem{}, errors.Wrapf(apperr.ErrNotFound, "wishlist item %s", key)
	}
	at := -1
	for i, c := range entry.Participants {
		if c.UserID == userID {
			at = i
			break
		}
	}
	if at < 0 {
		return s, models.LineItem{}, errors.Wrapf(apperr.ErrNotFound, "claim of %s on %s", userID, key)
	}

	next := s.Clone()
	entry = next.Items[key]
	held := entry.Participants[at].Quantity
	moved := held
	if qty > 0 {
		moved = min(qty, held)
	}

	entry.Participants[at].Quantity -= moved
	entry.Quantity -= moved
	if entry.Participants[at].Quantity <= 0 {
		entry.Participants = append(entry.Participants[:at], entry.Participants[at+1:]...)
	}
	if entry.Quantity <= 0 || len(entry.Participants) == 0 {
		delete(next.Items, key)
	} else {
		next.Items[key] = entry
	}

	line := models.LineItem{
		PackID:   entry.PackID,
		ItemID:   entry.ItemID,
		Name:     entry.Name,
		Img:      entry.Img,
		Price:    entry.Price,
		Quantity: moved,
	}
	return next, line, nil
}
