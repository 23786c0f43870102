package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/oatsaysai/general-store-in-discord/internal/catalog"
	"github.com/oatsaysai/general-store-in-discord/internal/db"
)

func newCatalogCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the item catalog",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Insert or update catalog items from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(opts); err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return errors.Wrap(err, "open catalog file")
			}
			defer f.Close()

			pool, err := openDatabase(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			n, err := catalog.Import(cmd.Context(), f, db.NewStore(pool, nil).Catalog())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d items\n", n)
			return nil
		},
	})
	return cmd
}
