package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dkeye/callbridge/internal/adapters/auth"
	"github.com/dkeye/callbridge/internal/adapters/cache"
)

func newRevokeCmd(configPath *string) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "revoke <token-id>",
		Short: "Block an identity token by its jti",
		Long:  "Writes the token id to the Redis revocation list read by the verifier. Set --ttl to at least the token's remaining lifetime.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if !cfg.Redis.Enabled {
				return errors.New("revocation needs redis.enabled")
			}
			rc, err := cache.New(cmd.Context(), cache.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
				PoolSize: cfg.Redis.PoolSize,
			})
			if err != nil {
				return err
			}
			defer rc.Close()

			if err := auth.Revoke(cmd.Context(), rc, args[0], ttl); err != nil {
				return fmt.Errorf("revoke %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %s for %s\n", args[0], ttl)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "how long the revocation is kept")
	return cmd
}
