package catalog

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/oatsaysai/general-store-in-discord/internal/currency"
	"github.com/oatsaysai/general-store-in-discord/internal/models"
)

// Upserter stores imported items
type Upserter interface {
	Upsert(ctx context.Context, items []models.ItemDescriptor) (int, error)
}

// importFile is the YAML layout of a catalog file:
//
//	pack: equipment
//	items:
//	  - id: torch
//	    name: Torch
//	    price: 1 cp
//	    level: 0
//	    traits: [light]
type importFile struct {
	Pack  string       `yaml:"pack"`
	Items []importItem `yaml:"items"`
}

type importItem struct {
	Pack   string   `yaml:"pack"`
	ID     string   `yaml:"id"`
	Name   string   `yaml:"name"`
	Img    string   `yaml:"img"`
	Price  string   `yaml:"price"`
	Level  int      `yaml:"level"`
	Rarity string   `yaml:"rarity"`
	Traits []string `yaml:"traits"`
	Legacy bool     `yaml:"legacy"`
}

// Parse reads a catalog file. Prices are coin strings ("2 gp 5 sp") or a
// bare number of copper pieces.
func Parse(r io.Reader) ([]models.ItemDescriptor, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read catalog file")
	}
	var file importFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, errors.Wrap(err, "parse catalog YAML")
	}

	items := make([]models.ItemDescriptor, 0, len(file.Items))
	for i, it := range file.Items {
		pack := it.Pack
		if pack == "" {
			pack = file.Pack
		}
		d := models.ItemDescriptor{
			PackID: strings.TrimSpace(pack),
			ItemID: strings.TrimSpace(it.ID),
			Name:   strings.TrimSpace(it.Name),
			Img:    it.Img,
			Level:  it.Level,
			Rarity: strings.ToLower(strings.TrimSpace(it.Rarity)),
			Traits: it.Traits,
			Legacy: it.Legacy,
		}
		if !d.Ref().Valid() {
			return nil, errors.Errorf("item %d: pack and id are required", i+1)
		}
		if d.Name == "" {
			d.Name = d.ItemID
		}
		if d.Rarity == "" {
			d.Rarity = "common"
		}
		if strings.TrimSpace(it.Price) != "" {
			price, err := currency.ParsePrice(it.Price)
			if err != nil {
				return nil, errors.Wrapf(err, "item %s", d.Ref().Key())
			}
			d.Price = price
		}
		items = append(items, d)
	}
	return items, nil
}

// Import parses r and upserts every item into dst
func Import(ctx context.Context, r io.Reader, dst Upserter) (int, error) {
	items, err := Parse(r)
	if err != nil {
		return 0, err
	}
	return dst.Upsert(ctx, items)
}
