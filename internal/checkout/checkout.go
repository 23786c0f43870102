// Package checkout settles a confirmed bulk order: it splits the cost
// between the party pool and the participants, checks every payer can
// afford their part, takes the coins and hands out the goods.
package checkout

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/oatsaysai/general-store-in-discord/internal/apperr"
	"github.com/oatsaysai/general-store-in-discord/internal/ledger"
	"github.com/oatsaysai/general-store-in-discord/internal/models"
	"github.com/oatsaysai/general-store-in-discord/internal/order"
)

// Catalog resolves the items referenced by an order
type Catalog interface {
	Resolve(ctx context.Context, ref models.ItemRef) (models.ItemDescriptor, error)
}

// Accounts finds who pays: each user's character and the party pool
type Accounts interface {
	CharacterFor(ctx context.Context, userID string) (models.Actor, error)
	PartyActor(ctx context.Context) (models.Actor, bool, error)
}

// Inventory receives purchased goods
type Inventory interface {
	Grant(ctx context.Context, actorID string, item models.LineItem) error
}

// Recorder keeps settlement records. Failures to record are logged and do
// not undo a settlement.
type Recorder interface {
	Record(ctx context.Context, s models.Settlement) error
}

// Service runs checkouts
type Service struct {
	catalog   Catalog
	accounts  Accounts
	ledger    *ledger.Adapter
	inventory Inventory
	recorders []Recorder
	poolID    string
	log       *log.Entry
	now       func() time.Time
}

// Option tunes a Service
type Option func(*Service)

// WithPoolActor pins the party pool to one actor instead of asking Accounts
func WithPoolActor(id string) Option {
	return func(s *Service) { s.poolID = id }
}

// WithRecorders adds settlement recorders
func WithRecorders(r ...Recorder) Option {
	return func(s *Service) { s.recorders = append(s.recorders, r...) }
}

// NewService creates a checkout service
func NewService(catalog Catalog, accounts Accounts, adapter *ledger.Adapter, inventory Inventory, logger *log.Entry, opts ...Option) *Service {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	s := &Service{
		catalog:   catalog,
		accounts:  accounts,
		ledger:    adapter,
		inventory: inventory,
		log:       logger.WithField("component", "checkout"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type payer struct {
	share models.ParticipantShare
	actor models.Actor
	items []models.LineItem
}

// Settle validates and pays for the order, then grants the goods. Nothing is
// debited unless every item resolves and every payer can afford their part.
// It does not touch the shared order state; the authority clears it.
//
// Once a debit has committed the settlement is returned together with any
// error (ErrPartialCommit, ErrGrantFailed), so callers can tell that coins
// moved by its non-empty ID.
func (s *Service) Settle(ctx context.Context, state models.OrderState) (models.Settlement, error) {
	if err := order.ReadyForSettlement(state); err != nil {
		return models.Settlement{}, err
	}

	resolved, err := s.resolve(ctx, state)
	if err != nil {
		return models.Settlement{}, err
	}

	poolID, poolAvailable, err := s.pool(ctx)
	if err != nil {
		s.log.WithError(err).Warn("Could not look up the party pool")
		return models.Settlement{}, err
	}
	plan := ComputePlan(state, poolAvailable)
	logger := s.log.WithFields(log.Fields{"total": plan.Total, "poolUsed": plan.PoolUsed, "pool": poolID})

	payers := make([]payer, 0, len(plan.Shares))
	for _, share := range plan.Shares {
		actor, err := s.accounts.CharacterFor(ctx, share.UserID)
		if err != nil {
			logger.WithError(err).WithField("participant", share.UserID).Warn("Participant has no character")
			return models.Settlement{}, errors.Wrapf(apperr.ErrNoLedgerPath, "%s has no character", share.Name)
		}
		share.ActorID = actor.ID
		payers = append(payers, payer{share: share, actor: actor, items: state.Participants[share.UserID].Items})
	}

	debits := make([]ledger.Debit, 0, len(payers)+1)
	if plan.PoolUsed > 0 {
		debits = append(debits, ledger.Debit{ActorID: poolID, Amount: plan.PoolUsed})
	}
	for _, p := range payers {
		debits = append(debits, ledger.Debit{ActorID: p.actor.ID, Amount: p.share.Remainder})
	}

	if err := s.checkAffordable(ctx, poolID, debits, payers); err != nil {
		logger.WithError(err).Info("Settlement refused")
		return models.Settlement{}, err
	}

	settlement := models.Settlement{
		ID:          uuid.NewString(),
		CreatedAt:   s.now().UTC(),
		Status:      models.SettlementSettled,
		Total:       plan.Total,
		PoolActorID: poolID,
		PoolUsed:    plan.PoolUsed,
	}
	for _, p := range payers {
		settlement.Shares = append(settlement.Shares, p.share)
	}

	committed, err := s.ledger.DebitAll(ctx, debits)
	for _, d := range committed {
		settlement.Debited = append(settlement.Debited, d.ActorID)
	}
	if err != nil {
		if !errors.Is(err, apperr.ErrPartialCommit) {
			return models.Settlement{}, err
		}
		settlement.Status = models.SettlementPartial
		settlement.Error = err.Error()
		logger.WithError(err).WithField("settlement", settlement.ID).Error("Settlement partially committed")
		s.record(ctx, settlement)
		return settlement, err
	}

	for _, p := range payers {
		for _, item := range p.items {
			grant := resolved[item.Ref()].LineItem(item.Quantity)
			grant.Price = item.Price
			if err := s.inventory.Grant(ctx, p.actor.ID, grant); err != nil {
				settlement.Status = models.SettlementUngranted
				settlement.Error = err.Error()
				logger.WithError(err).WithFields(log.Fields{
					"settlement": settlement.ID,
					"actor":      p.actor.ID,
					"item":       item.Ref().Key(),
				}).Error("Paid but could not grant item")
				s.record(ctx, settlement)
				return settlement, errors.Wrapf(apperr.ErrGrantFailed, "%s for %s: %v", item.Name, p.share.Name, err)
			}
			settlement.Grants = append(settlement.Grants, models.Grant{UserID: p.share.UserID, ActorID: p.actor.ID, Item: grant})
		}
	}

	logger.WithField("settlement", settlement.ID).Info("Order settled")
	s.record(ctx, settlement)
	return settlement, nil
}

func (s *Service) resolve(ctx context.Context, state models.OrderState) (map[models.ItemRef]models.ItemDescriptor, error) {
	resolved := make(map[models.ItemRef]models.ItemDescriptor)
	for _, id := range state.ParticipantIDs() {
		for _, item := range state.Participants[id].Items {
			ref := item.Ref()
			if _, ok := resolved[ref]; ok {
				continue
			}
			d, err := s.catalog.Resolve(ctx, ref)
			if err != nil {
				s.log.WithError(err).WithField("item", ref.Key()).Warn("Could not resolve catalog item")
				return nil, errors.Wrapf(apperr.ErrUnresolvedItem, "%s", ref.Key())
			}
			resolved[ref] = d
		}
	}
	return resolved, nil
}

// pool returns the pool actor and what it can contribute. A missing pool
// or one without a purse contributes nothing; any other failure is
// returned so that participants are not charged the pool's part.
func (s *Service) pool(ctx context.Context) (string, int64, error) {
	id := s.poolID
	if id == "" {
		actor, ok, err := s.accounts.PartyActor(ctx)
		if err != nil {
			return "", 0, errors.Wrap(err, "look up the party pool")
		}
		if !ok {
			return "", 0, nil
		}
		id = actor.ID
	}
	balance, err := s.ledger.Balance(ctx, id)
	switch {
	case errors.Is(err, apperr.ErrNoLedgerPath):
		s.log.WithField("pool", id).Warn("Party pool has no purse")
		return "", 0, nil
	case err != nil:
		return "", 0, errors.Wrapf(err, "read the party pool %s", id)
	}
	return id, balance, nil
}

// checkAffordable sums the debits per actor before checking, so an actor
// paying both as the pool and as a participant must cover both parts.
func (s *Service) checkAffordable(ctx context.Context, poolID string, debits []ledger.Debit, payers []payer) error {
	names := make(map[string]string, len(payers)+1)
	for _, p := range payers {
		names[p.actor.ID] = p.share.Name
	}
	if poolID != "" {
		names[poolID] = "the party pool"
	}

	totals := make(map[string]int64, len(debits))
	ids := make([]string, 0, len(debits))
	for _, d := range debits {
		if d.Amount <= 0 {
			continue
		}
		if _, ok := totals[d.ActorID]; !ok {
			ids = append(ids, d.ActorID)
		}
		totals[d.ActorID] += d.Amount
	}

	for _, id := range ids {
		ok, err := s.ledger.CanAfford(ctx, id, totals[id])
		if err != nil {
			return errors.Wrapf(err, "%s", names[id])
		}
		if !ok {
			return errors.Wrapf(apperr.ErrInsufficientFunds, "%s", names[id])
		}
	}
	return nil
}

func (s *Service) record(ctx context.Context, settlement models.Settlement) {
	for _, r := range s.recorders {
		if err := r.Record(ctx, settlement); err != nil {
			s.log.WithError(err).WithField("settlement", settlement.ID).Error("Could not record settlement")
		}
	}
}
