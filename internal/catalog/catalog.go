// Package catalog resolves and browses the items the shop sells
package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/oatsaysai/general-store-in-discord/internal/apperr"
	"github.com/oatsaysai/general-store-in-discord/internal/models"
)

// DefaultLimit caps browse results when the query sets none
const DefaultLimit = 25

// Query selects catalog entries
type Query struct {
	Text    string
	Filters models.CatalogFilters
	Limit   int
}

// Provider is a catalog backend
type Provider interface {
	Resolve(ctx context.Context, ref models.ItemRef) (models.ItemDescriptor, error)
	Browse(ctx context.Context, q Query) ([]models.ItemDescriptor, error)
}

// Fold normalises text for case-insensitive matching. Casers keep state,
// so each call gets its own.
func Fold(s string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(s)))
}

// MatchesText reports whether every word of text occurs in the item name
func MatchesText(d models.ItemDescriptor, text string) bool {
	name := Fold(d.Name)
	for _, word := range strings.Fields(Fold(text)) {
		if !strings.Contains(name, word) {
			return false
		}
	}
	return true
}

// MatchesFilters applies the GM filters. Traits is an allow-list: an item
// passes when it carries at least one allowed trait.
func MatchesFilters(d models.ItemDescriptor, f models.CatalogFilters) bool {
	if f.MinLevel != nil && d.Level < *f.MinLevel {
		return false
	}
	if f.MaxLevel != nil && d.Level > *f.MaxLevel {
		return false
	}
	if len(f.Rarities) > 0 && !containsFolded(f.Rarities, d.Rarity) {
		return false
	}
	if len(f.Traits) > 0 {
		allowed := false
		for _, trait := range d.Traits {
			if containsFolded(f.Traits, trait) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}
	return true
}

func containsFolded(list []string, s string) bool {
	s = Fold(s)
	for _, v := range list {
		if Fold(v) == s {
			return true
		}
	}
	return false
}

// Memory is a catalog held in process
type Memory struct {
	mu    sync.RWMutex
	items map[models.ItemRef]models.ItemDescriptor
}

// NewMemory creates a catalog with the given items
func NewMemory(items ...models.ItemDescriptor) *Memory {
	m := &Memory{items: make(map[models.ItemRef]models.ItemDescriptor)}
	m.Put(items...)
	return m
}

// Put adds or replaces items
func (m *Memory) Put(items ...models.ItemDescriptor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range items {
		m.items[d.Ref()] = d
	}
}

// Upsert adds or replaces items and reports how many were written
func (m *Memory) Upsert(_ context.Context, items []models.ItemDescriptor) (int, error) {
	m.Put(items...)
	return len(items), nil
}

func (m *Memory) Resolve(_ context.Context, ref models.ItemRef) (models.ItemDescriptor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.items[ref]
	if !ok {
		return models.ItemDescriptor{}, errors.Wrapf(apperr.ErrNotFound, "item %s", ref.Key())
	}
	return d, nil
}

func (m *Memory) Browse(_ context.Context, q Query) ([]models.ItemDescriptor, error) {
	m.mu.RLock()
	out := make([]models.ItemDescriptor, 0)
	for _, d := range m.items {
		if MatchesText(d, q.Text) && MatchesFilters(d, q.Filters) {
			out = append(out, d)
		}
	}
	m.mu.RUnlock()

	Sort(out)
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Sort orders items by level, then name, then key
func Sort(items []models.ItemDescriptor) {
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Level != b.Level {
			return a.Level < b.Level
		}
		if fa, fb := Fold(a.Name), Fold(b.Name); fa != fb {
			return fa < fb
		}
		return a.Ref().Key() < b.Ref().Key()
	})
}
