package main

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(opts); err != nil {
				return err
			}
			pool, err := openDatabase(cmd.Context())
			if err != nil {
				return err
			}
			pool.Close()
			log.Info("Database schema is up to date")
			return nil
		},
	}
}
