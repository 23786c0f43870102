// Package db is the PostgreSQL storage of the shop: settings, actors and
// their purses, inventories, the item catalog and settlement records.
package db

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/oatsaysai/general-store-in-discord/internal/apperr"
	"github.com/oatsaysai/general-store-in-discord/internal/currency"
	"github.com/oatsaysai/general-store-in-discord/internal/ledger"
	"github.com/oatsaysai/general-store-in-discord/internal/models"
	"github.com/oatsaysai/general-store-in-discord/internal/statestore"
)

// Store runs every query against one pool
type Store struct {
	pool *pgxpool.Pool
	log  *log.Entry
}

// NewStore wraps a connected pool
func NewStore(pool *pgxpool.Pool, logger *log.Entry) *Store {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Store{pool: pool, log: logger.WithField("component", "db")}
}

// Get returns a setting, or nil when it was never written
func (s *Store) Get(ctx context.Context, scope statestore.Scope, key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM settings WHERE scope = $1 AND key = $2`, string(scope), key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read setting %s/%s", scope, key)
	}
	return value, nil
}

// Set writes a setting
func (s *Store) Set(ctx context.Context, scope statestore.Scope, key string, value []byte) error {
	_, err := s.pool.Exec(ctx, `
        INSERT INTO settings (scope, key, value, updated_at)
        VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
        ON CONFLICT (scope, key)
        DO UPDATE SET value = EXCLUDED.value, updated_at = CURRENT_TIMESTAMP`,
		string(scope), key, value)
	if err != nil {
		return errors.Wrapf(err, "failed to write setting %s/%s", scope, key)
	}
	return nil
}

const actorColumns = `id, name, owner_id, is_party, coins`

func scanActor(row pgx.Row) (models.Actor, error) {
	var a models.Actor
	err := row.Scan(&a.ID, &a.Name, &a.OwnerID, &a.IsParty, &a.Coins)
	return a, err
}

// PutActor creates or replaces an actor
func (s *Store) PutActor(ctx context.Context, a models.Actor) error {
	_, err := s.pool.Exec(ctx, `
        INSERT INTO actors (id, name, owner_id, is_party, coins)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (id)
        DO UPDATE SET name = EXCLUDED.name, owner_id = EXCLUDED.owner_id,
            is_party = EXCLUDED.is_party, coins = EXCLUDED.coins`,
		a.ID, a.Name, a.OwnerID, a.IsParty, a.Coins)
	if err != nil {
		return errors.Wrapf(err, "failed to save actor %s", a.ID)
	}
	return nil
}

// Actor loads one actor
func (s *Store) Actor(ctx context.Context, id string) (models.Actor, error) {
	a, err := scanActor(s.pool.QueryRow(ctx, `SELECT `+actorColumns+` FROM actors WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Actor{}, errors.Wrapf(apperr.ErrNotFound, "actor %s", id)
	}
	if err != nil {
		return models.Actor{}, errors.Wrapf(err, "failed to load actor %s", id)
	}
	return a, nil
}

// SetCoins overwrites an actor's purse
func (s *Store) SetCoins(ctx context.Context, id string, coins currency.Coins) error {
	tag, err := s.pool.Exec(ctx, `UPDATE actors SET coins = $1 WHERE id = $2`, coins, id)
	if err != nil {
		return errors.Wrapf(err, "failed to write coins of %s", id)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(apperr.ErrNotFound, "actor %s", id)
	}
	return nil
}

// DebitValue takes amount copper from one actor with the row locked, so
// concurrent debits cannot both spend the same coins
func (s *Store) DebitValue(ctx context.Context, id string, amount int64) (currency.Coins, error) {
	var left currency.Coins
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		purses, err := lockPurses(ctx, tx, []string{id})
		if err != nil {
			return err
		}
		next, err := subtract(purses, ledger.Debit{ActorID: id, Amount: amount})
		if err != nil {
			return err
		}
		left = next
		return writePurses(ctx, tx, purses)
	})
	return left, err
}

// DebitAll applies every debit in one transaction. Rows are locked in id
// order; nothing is written unless every purse covers its debits.
func (s *Store) DebitAll(ctx context.Context, debits []ledger.Debit) error {
	ids := make([]string, 0, len(debits))
	for _, d := range debits {
		ids = append(ids, d.ActorID)
	}
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		purses, err := lockPurses(ctx, tx, ids)
		if err != nil {
			return err
		}
		for _, d := range debits {
			if _, err := subtract(purses, d); err != nil {
				return err
			}
		}
		return writePurses(ctx, tx, purses)
	})
	if err == nil {
		s.log.WithField("debits", len(debits)).Debug("Committed batch debit")
	}
	return err
}

func lockPurses(ctx context.Context, tx pgx.Tx, ids []string) (map[string]*currency.Coins, error) {
	rows, err := tx.Query(ctx, `SELECT id, coins FROM actors WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "failed to lock purses")
	}
	defer rows.Close()

	purses := make(map[string]*currency.Coins, len(ids))
	for rows.Next() {
		var (
			id    string
			coins *currency.Coins
		)
		if err := rows.Scan(&id, &coins); err != nil {
			return nil, errors.Wrap(err, "failed to scan purse")
		}
		purses[id] = coins
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := purses[id]; !ok {
			return nil, errors.Wrapf(apperr.ErrNotFound, "actor %s", id)
		}
	}
	return purses, nil
}

func subtract(purses map[string]*currency.Coins, d ledger.Debit) (currency.Coins, error) {
	purse := purses[d.ActorID]
	if purse == nil {
		return currency.Coins{}, errors.Wrapf(apperr.ErrNoLedgerPath, "actor %s", d.ActorID)
	}
	left, ok := purse.Subtract(d.Amount)
	if !ok {
		return currency.Coins{}, errors.Wrapf(apperr.ErrInsufficientFunds, "actor %s", d.ActorID)
	}
	purses[d.ActorID] = &left
	return left, nil
}

func writePurses(ctx context.Context, tx pgx.Tx, purses map[string]*currency.Coins) error {
	batch := &pgx.Batch{}
	for id, coins := range purses {
		batch.Queue(`UPDATE actors SET coins = $1 WHERE id = $2`, coins, id)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return errors.Wrap(err, "failed to write purses")
	}
	return nil
}

// CharacterFor returns the lowest-id character owned by userID
func (s *Store) CharacterFor(ctx context.Context, userID string) (models.Actor, error) {
	a, err := scanActor(s.pool.QueryRow(ctx,
		`SELECT `+actorColumns+` FROM actors WHERE owner_id = $1 AND NOT is_party ORDER BY id LIMIT 1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Actor{}, errors.Wrapf(apperr.ErrNotFound, "character of user %s", userID)
	}
	if err != nil {
		return models.Actor{}, errors.Wrapf(err, "failed to find character of %s", userID)
	}
	return a, nil
}

// PartyActor returns the party pool, if one exists
func (s *Store) PartyActor(ctx context.Context) (models.Actor, bool, error) {
	a, err := scanActor(s.pool.QueryRow(ctx, `SELECT `+actorColumns+` FROM actors WHERE is_party ORDER BY id LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Actor{}, false, nil
	}
	if err != nil {
		return models.Actor{}, false, errors.Wrap(err, "failed to find party actor")
	}
	return a, true, nil
}

// Grant adds an item stack to an actor's inventory, merging with an
// existing stack of the same item
func (s *Store) Grant(ctx context.Context, actorID string, item models.LineItem) error {
	_, err := s.pool.Exec(ctx, `
        INSERT INTO actor_items (actor_id, pack_id, item_id, name, img, price, quantity, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, CURRENT_TIMESTAMP)
        ON CONFLICT (actor_id, pack_id, item_id)
        DO UPDATE SET quantity = actor_items.quantity + EXCLUDED.quantity, updated_at = CURRENT_TIMESTAMP`,
		actorID, item.PackID, item.ItemID, item.Name, item.Img, item.Price, item.Quantity)
	if err != nil {
		return errors.Wrapf(err, "failed to grant %s to %s", item.Ref().Key(), actorID)
	}
	return nil
}

// Inventory lists an actor's item stacks
func (s *Store) Inventory(ctx context.Context, actorID string) ([]models.LineItem, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT pack_id, item_id, name, img, price, quantity
        FROM actor_items WHERE actor_id = $1 ORDER BY name, pack_id, item_id`, actorID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list inventory of %s", actorID)
	}
	defer rows.Close()

	var items []models.LineItem
	for rows.Next() {
		var it models.LineItem
		if err := rows.Scan(&it.PackID, &it.ItemID, &it.Name, &it.Img, &it.Price, &it.Quantity); err != nil {
			return nil, errors.Wrap(err, "failed to scan inventory row")
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// Record stores a settlement. Recording the same id again replaces it.
func (s *Store) Record(ctx context.Context, st models.Settlement) error {
	body, err := json.Marshal(st)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
        INSERT INTO settlements (id, status, total, pool_actor_id, pool_used, body, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (id)
        DO UPDATE SET status = EXCLUDED.status, body = EXCLUDED.body`,
		st.ID, st.Status, st.Total, st.PoolActorID, st.PoolUsed, body, st.CreatedAt)
	if err != nil {
		return errors.Wrapf(err, "failed to record settlement %s", st.ID)
	}
	return nil
}

// Settlement loads a recorded settlement
func (s *Store) Settlement(ctx context.Context, id string) (models.Settlement, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, `SELECT body FROM settlements WHERE id::text = $1`, id).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Settlement{}, errors.Wrapf(apperr.ErrNotFound, "settlement %s", id)
	}
	if err != nil {
		return models.Settlement{}, errors.Wrapf(err, "failed to load settlement %s", id)
	}
	var st models.Settlement
	if err := json.Unmarshal(body, &st); err != nil {
		return models.Settlement{}, errors.Wrapf(err, "settlement %s is unreadable", id)
	}
	return st, nil
}

func (s *Store) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin database transaction")
	}
	defer tx.Rollback(ctx) // Ensure rollback if not committed

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "failed to commit database transaction")
	}
	return nil
}
