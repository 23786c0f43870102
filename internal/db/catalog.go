package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/oatsaysai/general-store-in-discord/internal/apperr"
	"github.com/oatsaysai/general-store-in-discord/internal/catalog"
	"github.com/oatsaysai/general-store-in-discord/internal/models"
)

// Catalog serves item descriptors from the catalog_items table
type Catalog struct {
	store *Store
}

// Catalog returns the catalog provider backed by this store
func (s *Store) Catalog() *Catalog {
	return &Catalog{store: s}
}

const itemColumns = `pack_id, item_id, name, img, price, level, rarity, traits, legacy`

func scanItem(row pgx.Row) (models.ItemDescriptor, error) {
	var d models.ItemDescriptor
	err := row.Scan(&d.PackID, &d.ItemID, &d.Name, &d.Img, &d.Price, &d.Level, &d.Rarity, &d.Traits, &d.Legacy)
	return d, err
}

// Resolve loads one item
func (c *Catalog) Resolve(ctx context.Context, ref models.ItemRef) (models.ItemDescriptor, error) {
	d, err := scanItem(c.store.pool.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM catalog_items WHERE pack_id = $1 AND item_id = $2`, ref.PackID, ref.ItemID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ItemDescriptor{}, errors.Wrapf(apperr.ErrNotFound, "catalog item %s", ref.Key())
	}
	if err != nil {
		return models.ItemDescriptor{}, errors.Wrapf(err, "failed to resolve %s", ref.Key())
	}
	return d, nil
}

// Browse narrows by level and rarity in SQL, then applies name folding and
// the trait allow-list the same way the in-memory catalog does
func (c *Catalog) Browse(ctx context.Context, q catalog.Query) ([]models.ItemDescriptor, error) {
	rows, err := c.store.pool.Query(ctx, `
        SELECT `+itemColumns+` FROM catalog_items
        WHERE ($1::int IS NULL OR level >= $1)
          AND ($2::int IS NULL OR level <= $2)
          AND (cardinality($3::text[]) = 0 OR lower(rarity) = ANY($3))
        ORDER BY level, lower(name), pack_id, item_id`,
		q.Filters.MinLevel, q.Filters.MaxLevel, foldAll(q.Filters.Rarities))
	if err != nil {
		return nil, errors.Wrap(err, "failed to browse catalog")
	}
	defer rows.Close()

	limit := q.Limit
	if limit <= 0 {
		limit = catalog.DefaultLimit
	}
	out := make([]models.ItemDescriptor, 0)
	for rows.Next() {
		d, err := scanItem(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan catalog item")
		}
		if catalog.MatchesText(d, q.Text) && catalog.MatchesFilters(d, q.Filters) {
			out = append(out, d)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	catalog.Sort(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Upsert writes item descriptors in one transaction
func (c *Catalog) Upsert(ctx context.Context, items []models.ItemDescriptor) (int, error) {
	err := c.store.inTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, d := range items {
			traits := d.Traits
			if traits == nil {
				traits = []string{}
			}
			batch.Queue(`
                INSERT INTO catalog_items (`+itemColumns+`)
                VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
                ON CONFLICT (pack_id, item_id)
                DO UPDATE SET name = EXCLUDED.name, img = EXCLUDED.img, price = EXCLUDED.price,
                    level = EXCLUDED.level, rarity = EXCLUDED.rarity, traits = EXCLUDED.traits,
                    legacy = EXCLUDED.legacy`,
				d.PackID, d.ItemID, d.Name, d.Img, d.Price, d.Level, d.Rarity, traits, d.Legacy)
		}
		return errors.Wrap(tx.SendBatch(ctx, batch).Close(), "failed to upsert catalog items")
	})
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

func foldAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, catalog.Fold(s))
	}
	return out
}
