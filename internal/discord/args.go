package discord

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/oatsaysai/general-store-in-discord/internal/apperr"
	"github.com/oatsaysai/general-store-in-discord/internal/currency"
	"github.com/oatsaysai/general-store-in-discord/internal/models"
)

// parseItemArg reads a pack:item reference
func parseItemArg(s string) (models.ItemRef, error) {
	ref, ok := models.ParseItemKey(strings.Trim(s, "`"))
	if !ok {
		return models.ItemRef{}, errors.Wrapf(apperr.ErrInvalidItem, "expected pack:item, got %q", s)
	}
	return ref, nil
}

// quantityAt reads args[idx] as a quantity, or def when absent
func quantityAt(args []string, idx, def int) (int, error) {
	if idx >= len(args) {
		return def, nil
	}
	qty, err := strconv.Atoi(args[idx])
	if err != nil || qty <= 0 {
		return 0, errors.Wrapf(apperr.ErrInvalidQuantity, "%q", args[idx])
	}
	return qty, nil
}

// parseGold reads an amount in gold pieces: "1.5", "1.5gp" or "3 sp"
func parseGold(args []string) (float64, error) {
	text := strings.Join(args, " ")
	trimmed := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(text)), "gp")
	if gold, err := strconv.ParseFloat(strings.TrimSpace(trimmed), 64); err == nil && gold > 0 {
		return gold, nil
	}
	cp, err := currency.ParsePrice(text)
	if err != nil || cp <= 0 {
		return 0, errors.Wrapf(apperr.ErrBadRequest, "not an amount: %q", text)
	}
	return float64(cp) / currency.CopperPerGold, nil
}

// parseFilters reads "level 1-5 rarity common,rare traits magical".
// Keys not given keep their previous value.
func parseFilters(current models.CatalogFilters, args []string) (models.CatalogFilters, error) {
	f := current
	if len(args)%2 != 0 {
		return f, errors.Wrap(apperr.ErrBadRequest, "filters come in key value pairs")
	}
	for i := 0; i < len(args); i += 2 {
		key, value := strings.ToLower(args[i]), args[i+1]
		switch key {
		case "level":
			lo, hi, found := strings.Cut(value, "-")
			if !found {
				hi = lo
			}
			minLevel, err := levelValue(lo)
			if err != nil {
				return current, err
			}
			maxLevel, err := levelValue(hi)
			if err != nil {
				return current, err
			}
			f.MinLevel, f.MaxLevel = minLevel, maxLevel
		case "minlevel":
			v, err := levelValue(value)
			if err != nil {
				return current, err
			}
			f.MinLevel = v
		case "maxlevel":
			v, err := levelValue(value)
			if err != nil {
				return current, err
			}
			f.MaxLevel = v
		case "rarity", "rarities":
			f.Rarities = listValue(value)
		case "traits", "trait":
			f.Traits = listValue(value)
		default:
			return current, errors.Wrapf(apperr.ErrBadRequest, "unknown filter %q", key)
		}
	}
	if f.MinLevel != nil && f.MaxLevel != nil && *f.MinLevel > *f.MaxLevel {
		return current, errors.Wrap(apperr.ErrBadRequest, "minimum level is above maximum level")
	}
	return f, nil
}

// levelValue parses a level; "*" or an empty value clears the bound
func levelValue(s string) (*int, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return nil, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return nil, errors.Wrapf(apperr.ErrBadRequest, "not a level: %q", s)
	}
	return &v, nil
}

func listValue(s string) []string {
	if s == "*" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
