package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/oatsaysai/general-store-in-discord/internal/apperr"
	"github.com/oatsaysai/general-store-in-discord/internal/currency"
	"github.com/oatsaysai/general-store-in-discord/internal/models"
)

// MemoryBook keeps actors and their inventories in process. It backs the
// memory storage mode and the tests.
type MemoryBook struct {
	mu        sync.Mutex
	actors    map[string]models.Actor
	inventory map[string][]models.LineItem
}

// NewMemoryBook creates a book holding the given actors
func NewMemoryBook(actors ...models.Actor) *MemoryBook {
	b := &MemoryBook{
		actors:    make(map[string]models.Actor),
		inventory: make(map[string][]models.LineItem),
	}
	for _, a := range actors {
		b.Put(a)
	}
	return b
}

// Put inserts or replaces an actor
func (b *MemoryBook) Put(actor models.Actor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if actor.Coins != nil {
		c := *actor.Coins
		actor.Coins = &c
	}
	b.actors[actor.ID] = actor
}

// Actor returns a copy of the actor
func (b *MemoryBook) Actor(_ context.Context, id string) (models.Actor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.actorLocked(id)
}

func (b *MemoryBook) actorLocked(id string) (models.Actor, error) {
	actor, ok := b.actors[id]
	if !ok {
		return models.Actor{}, errors.Wrapf(apperr.ErrNotFound, "actor %s", id)
	}
	if actor.Coins != nil {
		c := *actor.Coins
		actor.Coins = &c
	}
	return actor, nil
}

// SetCoins overwrites the actor's purse
func (b *MemoryBook) SetCoins(_ context.Context, id string, coins currency.Coins) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	actor, ok := b.actors[id]
	if !ok {
		return errors.Wrapf(apperr.ErrNotFound, "actor %s", id)
	}
	actor.Coins = &coins
	b.actors[id] = actor
	return nil
}

// DebitAll checks every debit first and only then applies them
func (b *MemoryBook) DebitAll(_ context.Context, debits []Debit) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := make(map[string]currency.Coins)
	for _, d := range debits {
		purse, seen := next[d.ActorID]
		if !seen {
			actor, err := b.actorLocked(d.ActorID)
			if err != nil {
				return err
			}
			if actor.Coins == nil {
				return errors.Wrapf(apperr.ErrNoLedgerPath, "actor %s", d.ActorID)
			}
			purse = *actor.Coins
		}
		left, ok := purse.Subtract(d.Amount)
		if !ok {
			return errors.Wrapf(apperr.ErrInsufficientFunds, "actor %s", d.ActorID)
		}
		next[d.ActorID] = left
	}
	for id, coins := range next {
		actor := b.actors[id]
		c := coins
		actor.Coins = &c
		b.actors[id] = actor
	}
	return nil
}

// CharacterFor returns the first character, by id, owned by userID
func (b *MemoryBook) CharacterFor(_ context.Context, userID string) (models.Actor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.actors))
	for id, a := range b.actors {
		if !a.IsParty && a.OwnerID == userID {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return models.Actor{}, errors.Wrapf(apperr.ErrNotFound, "character of user %s", userID)
	}
	sort.Strings(ids)
	return b.actorLocked(ids[0])
}

// PartyActor returns the party pool, if one exists
func (b *MemoryBook) PartyActor(_ context.Context) (models.Actor, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, 1)
	for id, a := range b.actors {
		if a.IsParty {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return models.Actor{}, false, nil
	}
	sort.Strings(ids)
	actor, err := b.actorLocked(ids[0])
	return actor, err == nil, err
}

// Grant adds an item stack to the actor's inventory
func (b *MemoryBook) Grant(_ context.Context, actorID string, item models.LineItem) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.actors[actorID]; !ok {
		return errors.Wrapf(apperr.ErrNotFound, "actor %s", actorID)
	}
	b.inventory[actorID] = append(b.inventory[actorID], item)
	return nil
}

// Inventory returns the stacks granted to the actor
func (b *MemoryBook) Inventory(actorID string) []models.LineItem {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.LineItem(nil), b.inventory[actorID]...)
}
