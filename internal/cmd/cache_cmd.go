package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/movinesta/movinesta-cli/internal/urlcache"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "cache",
		Aliases: []string{"ch"},
		Short:   "Manage the shared signed-URL cache",
	}

	cmd.AddCommand(newCacheClearCmd())
	return cmd
}

func newCacheClearCmd() *cobra.Command {
	var redisURL string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear cached signed URLs",
		Long: strings.TrimSpace(`
Remove every cached signed URL from the shared Redis cache.

Signed URLs are minted again on demand, so clearing is always safe; the only
cost is one extra signing round trip per attachment. Requires a Redis cache
(MOVINESTA_REDIS_URL or --redis-url); the in-process cache of other commands
lives and dies with their process and needs no clearing.
`),
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			if redisURL == "" {
				redisURL = strings.TrimSpace(os.Getenv("MOVINESTA_REDIS_URL"))
			}
			if redisURL == "" {
				return fmt.Errorf("no shared cache configured (set MOVINESTA_REDIS_URL or pass --redis-url)")
			}

			opts, err := redis.ParseURL(redisURL)
			if err != nil {
				return fmt.Errorf("invalid redis URL: %w", err)
			}
			client := redis.NewClient(opts)
			defer func() { _ = client.Close() }()

			if err := urlcache.NewRedisStore(client).Clear(cmd.Context()); err != nil {
				return fmt.Errorf("failed to clear cache: %w", err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Signed-URL cache cleared.")
			return nil
		}),
	}

	cmd.Flags().StringVar(&redisURL, "redis-url", "", "Redis connection URL (default env MOVINESTA_REDIS_URL)")
	flagAlias(cmd.Flags(), "redis-url", "ru")

	return cmd
}
