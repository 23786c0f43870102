// Package shop is the client-facing service. It wires the replicated stores,
// the order authority (in process for the GM, remote for players), checkout,
// the currency ledger and the catalog behind one set of operations.
package shop

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/oatsaysai/general-store-in-discord/internal/apperr"
	"github.com/oatsaysai/general-store-in-discord/internal/authority"
	"github.com/oatsaysai/general-store-in-discord/internal/catalog"
	"github.com/oatsaysai/general-store-in-discord/internal/checkout"
	"github.com/oatsaysai/general-store-in-discord/internal/ledger"
	"github.com/oatsaysai/general-store-in-discord/internal/models"
	"github.com/oatsaysai/general-store-in-discord/internal/relay"
	"github.com/oatsaysai/general-store-in-discord/internal/statestore"
)

// Role decides whether this process is the authority
type Role string

const (
	RoleGM     Role = "gm"
	RolePlayer Role = "player"
)

// FiltersKey is the world setting holding the catalog filters
const FiltersKey = "catalogFilters"

// ParseRole validates a configured role
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleGM, RolePlayer:
		return Role(s), nil
	}
	return "", errors.Errorf("unknown shop role %q", s)
}

// Caller is the person an operation is performed for
type Caller struct {
	models.ParticipantRef
	GM bool
}

// SettlementStore looks up recorded settlements
type SettlementStore interface {
	Settlement(ctx context.Context, id string) (models.Settlement, error)
}

// Accounts is everything the shop needs from the actor storage
type Accounts interface {
	checkout.Accounts
	checkout.Inventory
	ledger.Book
}

// Config selects the role and identity of this client
type Config struct {
	Role          Role
	ClientID      string
	RemoteTimeout time.Duration
	PoolActorID   string
}

// Deps are the backends the service runs on
type Deps struct {
	Settings    statestore.Settings
	Bus         relay.Bus
	Catalog     catalog.Provider
	Accounts    Accounts
	Recorders   []checkout.Recorder
	Settlements SettlementStore
}

// Service is one constructed shop client
type Service struct {
	cfg      Config
	deps     Deps
	orders   *statestore.Store[models.OrderState]
	wishes   *statestore.Store[models.WishlistState]
	ledger   *ledger.Adapter
	checkout *checkout.Service

	authority authority.OrderAuthority
	local     *authority.Local
	responder *authority.Responder
	remote    *authority.RemoteClient

	log *log.Entry
}

// New builds the service. Nothing touches the bus until Start.
func New(cfg Config, deps Deps, logger *log.Entry) (*Service, error) {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	if deps.Settings == nil || deps.Bus == nil || deps.Catalog == nil {
		return nil, errors.New("shop needs settings, a relay bus and a catalog")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("shop client id is required")
	}
	if cfg.Role == "" {
		cfg.Role = RolePlayer
	}
	if cfg.Role == RoleGM && deps.Accounts == nil {
		return nil, errors.New("the GM client needs an actor store")
	}

	logger = logger.WithFields(log.Fields{"role": cfg.Role, "client": cfg.ClientID})
	opts := statestore.Options{
		Authoritative:  cfg.Role == RoleGM,
		ClientID:       cfg.ClientID,
		ClientFallback: cfg.Role != RoleGM,
	}

	s := &Service{
		cfg:    cfg,
		deps:   deps,
		orders: statestore.New(statestore.OrderCodec(), deps.Settings, deps.Bus, opts, logger),
		wishes: statestore.New(statestore.WishlistCodec(), deps.Settings, deps.Bus, opts, logger),
		log:    logger.WithField("component", "shop"),
	}

	if deps.Accounts != nil {
		s.ledger = ledger.New(deps.Accounts, logger)
	}

	if cfg.Role == RoleGM {
		var checkoutOpts []checkout.Option
		if cfg.PoolActorID != "" {
			checkoutOpts = append(checkoutOpts, checkout.WithPoolActor(cfg.PoolActorID))
		}
		checkoutOpts = append(checkoutOpts, checkout.WithRecorders(deps.Recorders...))
		s.checkout = checkout.NewService(deps.Catalog, deps.Accounts, s.ledger, deps.Accounts, logger, checkoutOpts...)
		s.local = authority.NewLocal(s.orders, s.wishes, s.checkout, logger)
		s.responder = authority.NewResponder(deps.Bus, s.local, cfg.ClientID, cfg.RemoteTimeout, logger)
		s.authority = s.local
	} else {
		s.remote = authority.NewRemoteClient(deps.Bus, cfg.ClientID, cfg.RemoteTimeout, logger)
		s.authority = s.remote
	}
	return s, nil
}

// Start loads both states and begins serving or forwarding mutations
func (s *Service) Start(ctx context.Context) error {
	if err := s.orders.Start(ctx); err != nil {
		return errors.Wrap(err, "start order store")
	}
	if err := s.wishes.Start(ctx); err != nil {
		s.orders.Close()
		return errors.Wrap(err, "start wishlist store")
	}
	if s.responder != nil {
		s.responder.Start()
	}
	if s.remote != nil {
		s.remote.Start()
	}
	s.log.Info("Shop started")
	return nil
}

// Close stops every subscription
func (s *Service) Close() {
	if s.responder != nil {
		s.responder.Close()
	}
	if s.remote != nil {
		s.remote.Close()
	}
	s.orders.Close()
	s.wishes.Close()
}

// Role returns the configured role
func (s *Service) Role() Role { return s.cfg.Role }

// Orders is the replicated bulk order
func (s *Service) Orders() *statestore.Store[models.OrderState] { return s.orders }

// Wishlist is the replicated wishlist
func (s *Service) Wishlist() *statestore.Store[models.WishlistState] { return s.wishes }

// Authority returns the order authority used by this client
func (s *Service) Authority() authority.OrderAuthority { return s.authority }

func (s *Service) apply(ctx context.Context, caller Caller, kind authority.Kind, args authority.Args) (authority.Result, error) {
	return s.authority.ApplyMutation(ctx, authority.Mutation{
		Kind:       kind,
		Args:       args,
		Privileged: caller.GM && s.cfg.Role == RoleGM,
	})
}

// line builds a cart line from the catalog so prices never come from the caller
func (s *Service) line(ctx context.Context, ref models.ItemRef, qty int) (models.LineItem, error) {
	if !ref.Valid() {
		return models.LineItem{}, apperr.ErrInvalidItem
	}
	if qty <= 0 || qty > models.MaxQuantity {
		return models.LineItem{}, apperr.ErrInvalidQuantity
	}
	d, err := s.deps.Catalog.Resolve(ctx, ref)
	if err != nil {
		return models.LineItem{}, err
	}
	if d.Price < 0 || d.Price > models.MaxPrice {
		return models.LineItem{}, errors.Wrapf(apperr.ErrInvalidItem, "%s has no usable price", d.Name)
	}
	return d.LineItem(qty), nil
}

// AddToOrder adds qty of a catalog item to the caller's cart
func (s *Service) AddToOrder(ctx context.Context, caller Caller, ref models.ItemRef, qty int) (models.OrderState, error) {
	item, err := s.line(ctx, ref, qty)
	if err != nil {
		return models.OrderState{}, err
	}
	res, err := s.apply(ctx, caller, authority.KindAddItem, authority.Args{Participant: caller.ParticipantRef, Item: item})
	return orderOf(res, err)
}

// RemoveFromOrder drops one line from the caller's cart
func (s *Service) RemoveFromOrder(ctx context.Context, caller Caller, key string) (models.OrderState, error) {
	res, err := s.apply(ctx, caller, authority.KindRemoveItem, authority.Args{Participant: caller.ParticipantRef, Key: key})
	return orderOf(res, err)
}

// ConfirmOrder marks the caller's cart as confirmed
func (s *Service) ConfirmOrder(ctx context.Context, caller Caller) (models.OrderState, error) {
	res, err := s.apply(ctx, caller, authority.KindConfirmParticipant, authority.Args{Participant: caller.ParticipantRef})
	return orderOf(res, err)
}

// SetOrderActive opens or closes the bulk order. GM only.
func (s *Service) SetOrderActive(ctx context.Context, caller Caller, active bool) (models.OrderState, error) {
	res, err := s.apply(ctx, caller, authority.KindSetActive, authority.Args{Participant: caller.ParticipantRef, Active: active})
	return orderOf(res, err)
}

// Checkout settles the bulk order. GM only. When coins moved but the
// settlement failed afterwards, the settlement is returned with the error.
func (s *Service) Checkout(ctx context.Context, caller Caller) (models.Settlement, error) {
	res, err := s.apply(ctx, caller, authority.KindGMConfirm, authority.Args{Participant: caller.ParticipantRef})
	if err != nil {
		if res.Settlement != nil {
			return *res.Settlement, err
		}
		return models.Settlement{}, err
	}
	if res.Settlement == nil {
		return models.Settlement{}, errors.Wrap(apperr.ErrInternal, "checkout returned no settlement")
	}
	return *res.Settlement, nil
}

// WishlistAdd claims qty of a catalog item on the wishlist
func (s *Service) WishlistAdd(ctx context.Context, caller Caller, ref models.ItemRef, qty int) (models.WishlistState, error) {
	item, err := s.line(ctx, ref, qty)
	if err != nil {
		return models.WishlistState{}, err
	}
	res, err := s.apply(ctx, caller, authority.KindWishlistAdd, authority.Args{Participant: caller.ParticipantRef, Item: item})
	return wishlistOf(res, err)
}

// WishlistRemove reduces the caller's claim by qty, or drops it when qty <= 0
func (s *Service) WishlistRemove(ctx context.Context, caller Caller, key string, qty int) (models.WishlistState, error) {
	res, err := s.apply(ctx, caller, authority.KindWishlistRemove, authority.Args{Participant: caller.ParticipantRef, Key: key, Quantity: qty})
	return wishlistOf(res, err)
}

// MoveWishToCart moves up to qty of the caller's claim into the bulk order.
// The two steps are separate mutations; when the cart rejects the item the
// claim is put back.
func (s *Service) MoveWishToCart(ctx context.Context, caller Caller, key string, qty int) (models.OrderState, error) {
	res, err := s.apply(ctx, caller, authority.KindMovePlayerToCart, authority.Args{Participant: caller.ParticipantRef, Key: key, Quantity: qty})
	if err != nil {
		return models.OrderState{}, err
	}
	if res.Moved == nil {
		return models.OrderState{}, errors.Wrap(apperr.ErrInternal, "move returned no item")
	}
	moved := *res.Moved

	state, err := orderOf(s.apply(ctx, caller, authority.KindAddItem, authority.Args{Participant: caller.ParticipantRef, Item: moved}))
	if err == nil {
		return state, nil
	}

	logger := s.log.WithFields(log.Fields{"participant": caller.UserID, "item": moved.Ref().Key(), "quantity": moved.Quantity})
	if _, rerr := s.apply(ctx, caller, authority.KindWishlistAdd, authority.Args{Participant: caller.ParticipantRef, Item: moved}); rerr != nil {
		logger.WithError(rerr).Error("Wishlist claim lost after the cart rejected it")
	} else {
		logger.WithError(err).Info("Cart rejected moved item, claim restored")
	}
	return models.OrderState{}, err
}

// Receipt describes a direct purchase
type Receipt struct {
	Item    models.LineItem `json:"item"`
	ActorID string          `json:"actorId"`
	Cost    int64           `json:"cost"`
	Balance int64           `json:"balance"`
}

// Purchase buys qty of an item for the caller's character right away
func (s *Service) Purchase(ctx context.Context, caller Caller, ref models.ItemRef, qty int) (Receipt, error) {
	if err := s.requireLedger(); err != nil {
		return Receipt{}, err
	}
	item, err := s.line(ctx, ref, qty)
	if err != nil {
		return Receipt{}, err
	}
	actor, err := s.deps.Accounts.CharacterFor(ctx, caller.UserID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return Receipt{}, errors.Wrapf(apperr.ErrNoLedgerPath, "%s has no character", caller.Name)
		}
		return Receipt{}, err
	}

	cost := item.Subtotal()
	res, err := s.ledger.TryDebitBase(ctx, actor.ID, cost)
	if err != nil {
		return Receipt{}, err
	}
	if err := res.Err(); err != nil {
		return Receipt{Item: item, ActorID: actor.ID, Cost: cost, Balance: res.Balance}, err
	}

	logger := s.log.WithFields(log.Fields{"participant": caller.UserID, "actor": actor.ID, "item": ref.Key(), "cost": cost})
	if err := s.deps.Accounts.Grant(ctx, actor.ID, item); err != nil {
		logger.WithError(err).Error("Paid but the item could not be granted")
		return Receipt{}, errors.Wrapf(apperr.ErrGrantFailed, "%s paid %d cp", actor.ID, cost)
	}
	logger.Info("Purchase completed")
	return Receipt{Item: item, ActorID: actor.ID, Cost: cost, Balance: res.Balance}, nil
}

// Charge debits gold from a player's character. GM only.
func (s *Service) Charge(ctx context.Context, caller Caller, userID string, gold float64) (ledger.Result, error) {
	if !caller.GM {
		return ledger.Result{}, apperr.ErrNotAuthorized
	}
	if err := s.requireLedger(); err != nil {
		return ledger.Result{}, err
	}
	if gold <= 0 {
		return ledger.Result{}, errors.Wrap(apperr.ErrBadRequest, "amount must be positive")
	}
	actor, err := s.deps.Accounts.CharacterFor(ctx, userID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return ledger.Result{OK: false, Reason: ledger.ReasonNoLedgerPath}, apperr.ErrNoLedgerPath
		}
		return ledger.Result{}, err
	}
	res, err := s.ledger.TryDebit(ctx, actor.ID, gold)
	if err != nil {
		return ledger.Result{}, err
	}
	return res, res.Err()
}

// Wallet returns the caller's character and its balance in copper
func (s *Service) Wallet(ctx context.Context, userID string) (models.Actor, int64, error) {
	if err := s.requireLedger(); err != nil {
		return models.Actor{}, 0, err
	}
	actor, err := s.deps.Accounts.CharacterFor(ctx, userID)
	if err != nil {
		return models.Actor{}, 0, err
	}
	balance, err := s.ledger.Balance(ctx, actor.ID)
	if err != nil {
		return actor, 0, err
	}
	return actor, balance, nil
}

// Browse searches the catalog within the GM's filters
func (s *Service) Browse(ctx context.Context, text string, limit int) ([]models.ItemDescriptor, error) {
	filters, err := s.Filters(ctx)
	if err != nil {
		return nil, err
	}
	return s.deps.Catalog.Browse(ctx, catalog.Query{Text: text, Filters: filters, Limit: limit})
}

// Filters returns the stored catalog filters. A missing or unreadable
// setting means no filters.
func (s *Service) Filters(ctx context.Context) (models.CatalogFilters, error) {
	var f models.CatalogFilters
	raw, err := s.deps.Settings.Get(ctx, statestore.World, FiltersKey)
	if err != nil {
		return f, errors.Wrap(err, "read catalog filters")
	}
	if len(raw) == 0 {
		return f, nil
	}
	if err := json.Unmarshal(raw, &f); err != nil {
		s.log.WithError(err).Warn("Ignoring unreadable catalog filters")
		return models.CatalogFilters{}, nil
	}
	return f, nil
}

// SetFilters stores new catalog filters. GM only.
func (s *Service) SetFilters(ctx context.Context, caller Caller, f models.CatalogFilters) error {
	if !caller.GM {
		return apperr.ErrNotAuthorized
	}
	if s.cfg.Role != RoleGM {
		return apperr.ErrNotAuthoritative
	}
	if f.MinLevel != nil && f.MaxLevel != nil && *f.MinLevel > *f.MaxLevel {
		return errors.Wrap(apperr.ErrBadRequest, "minimum level is above maximum level")
	}
	raw, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return errors.Wrap(s.deps.Settings.Set(ctx, statestore.World, FiltersKey, raw), "store catalog filters")
}

// Settlement looks up a recorded settlement
func (s *Service) Settlement(ctx context.Context, id string) (models.Settlement, error) {
	if s.deps.Settlements == nil {
		return models.Settlement{}, errors.Wrap(apperr.ErrNotFound, "settlements are not recorded here")
	}
	return s.deps.Settlements.Settlement(ctx, id)
}

// Resolve looks an item up in the catalog
func (s *Service) Resolve(ctx context.Context, ref models.ItemRef) (models.ItemDescriptor, error) {
	return s.deps.Catalog.Resolve(ctx, ref)
}

func (s *Service) requireLedger() error {
	if s.ledger == nil || s.cfg.Role != RoleGM {
		return apperr.ErrNotAuthoritative
	}
	return nil
}

func orderOf(res authority.Result, err error) (models.OrderState, error) {
	if err != nil {
		return models.OrderState{}, err
	}
	if res.Order == nil {
		return models.OrderState{}, errors.Wrap(apperr.ErrInternal, "mutation returned no order")
	}
	return *res.Order, nil
}

func wishlistOf(res authority.Result, err error) (models.WishlistState, error) {
	if err != nil {
		return models.WishlistState{}, err
	}
	if res.Wishlist == nil {
		return models.WishlistState{}, errors.Wrap(apperr.ErrInternal, "mutation returned no wishlist")
	}
	return *res.Wishlist, nil
}
