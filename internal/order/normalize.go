// Package order holds the bulk order state machine: normalisation of the
// persisted value and the pure transitions applied by the authority.
package order

import (
	"strings"

	"github.com/oatsaysai/general-store-in-discord/internal/models"
	"github.com/oatsaysai/general-store-in-discord/internal/utils"
)

// Empty returns the state used when nothing has been persisted yet
func Empty() models.OrderState {
	return models.OrderState{Participants: map[string]models.Participant{}}
}

// Parse decodes a persisted bulk order. It never fails: anything that
// cannot be coerced is dropped and listed in the report.
func Parse(raw []byte) (models.OrderState, models.Report) {
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

	state := models.OrderState{
		Active:       utils.AsBool(obj["active"]),
		GMConfirmed:  utils.AsBool(obj["gmConfirmed"]),
		Participants: map[string]models.Participant{},
	}

	rawParticipants, _ := obj["participants"].(map[string]any)
	if obj["participants"] != nil && rawParticipants == nil {
		report.Dropf("participants is not an object")
	}
	for id, rp := range rawParticipants {
		entry := utils.AsObject(rp)
		if entry == nil {
			report.Dropf("participant %q is not an object", id)
			continue
		}
		p := models.Participant{
			UserID:         id,
			Name:           utils.AsString(entry["name"]),
			Confirmed:      utils.AsBool(entry["confirmed"]),
			NeedsReconfirm: utils.AsBool(entry["needsReconfirm"]),
		}
		items, _ := entry["items"].([]any)
		for i, ri := range items {
			item, ok := parseLineItem(ri)
			if !ok {
				report.Dropf("participant %q item %d is invalid", id, i)
				continue
			}
			p.Items = append(p.Items, item)
		}
		state.Participants[id] = p
	}

	state, more := Normalize(state)
	report.Dropped = append(report.Dropped, more.Dropped...)
	return state, report
}

func parseLineItem(v any) (models.LineItem, bool) {
	obj := utils.AsObject(v)
	if obj == nil {
		return models.LineItem{}, false
	}
	qty, ok := utils.PositiveQuantity(obj["quantity"])
	if !ok {
		return models.LineItem{}, false
	}
	return models.LineItem{
		PackID:   strings.TrimSpace(utils.AsString(obj["packId"])),
		ItemID:   strings.TrimSpace(utils.AsString(obj["itemId"])),
		Name:     utils.AsString(obj["name"]),
		Img:      utils.AsString(obj["img"]),
		Price:    utils.NonNegativeAmount(obj["price"]),
		Quantity: qty,
	}, true
}

// Normalize validates a typed state: items without a complete reference or
// with a quantity or price outside the cart limits are dropped, duplicate
// keys are merged up to MaxQuantity, lines that would push the total past
// MaxTotal are dropped, participants left without items are removed and the
// total is recomputed. The input is not modified.
func Normalize(s models.OrderState) (models.OrderState, models.Report) {
	var report models.Report
	out := models.OrderState{
		Active:       s.Active,
		GMConfirmed:  s.GMConfirmed,
		Participants: make(map[string]models.Participant, len(s.Participants)),
	}

	var total int64
	for _, id := range s.ParticipantIDs() {
		p := s.Participants[id]
		if strings.TrimSpace(id) == "" {
			report.Dropf("participant with empty id")
			continue
		}
		p.UserID = id
		if p.Name == "" {
			p.Name = id
		}

		items := make([]models.LineItem, 0, len(p.Items))
		index := make(map[string]int, len(p.Items))
		for _, item := range p.Items {
			if !item.Ref().Valid() {
				report.Dropf("participant %q item without pack or item id", id)
				continue
			}
			if item.Price < 0 {
				item.Price = 0
			}
			if !item.InBounds() {
				report.Dropf("participant %q item %s has quantity %d at price %d", id, item.Ref().Key(), item.Quantity, item.Price)
				continue
			}
			if item.Name == "" {
				item.Name = item.ItemID
			}
			key := item.Ref().Key()
			if at, dup := index[key]; dup {
				if items[at].Quantity > models.MaxQuantity-item.Quantity {
					report.Dropf("participant %q item %s merges past %d", id, key, models.MaxQuantity)
					continue
				}
				items[at].Quantity += item.Quantity
				continue
			}
			index[key] = len(items)
			items = append(items, item)
		}

		kept := items[:0]
		for _, item := range items {
			if item.Subtotal() > models.MaxTotal-total {
				report.Dropf("participant %q item %s pushes the total past %d", id, item.Ref().Key(), models.MaxTotal)
				continue
			}
			total += item.Subtotal()
			kept = append(kept, item)
		}

		if len(kept) == 0 {
			report.Dropf("participant %q has no items", id)
			continue
		}
		p.Items = kept
		out.Participants[id] = p
	}

	Recompute(&out)
	return out, report
}

// Recompute sets TotalPrice from the line items. Lines are assumed to be
// within the cart limits.
func Recompute(s *models.OrderState) {
	var total int64
	for _, p := range s.Participants {
		total += p.Subtotal()
	}
	s.TotalPrice = total
}
