package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/oatsaysai/general-store-in-discord/internal/audit"
)

func newAuditCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the settlement journal",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show <journal file>",
		Short: "Print the entries of one journal file as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := audit.ReadFile(args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, e := range entries {
				if err := enc.Encode(e); err != nil {
					return err
				}
			}
			return nil
		},
	})
	return cmd
}
