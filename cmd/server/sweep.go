package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSweepCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one expiry sweep and exit",
		Long:  "Loads every session mirrored in Redis, deletes those past the session TTL and idle grace, and prints how many were removed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			c, err := build(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			loaded, err := c.recoverAll(cmd.Context())
			if err != nil {
				return err
			}
			deleted := c.supervisor.Sweep(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "scanned %d sessions, deleted %d\n", loaded, deleted)
			return nil
		},
	}
}
