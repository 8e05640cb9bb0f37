package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/movinesta/movinesta-cli/internal/storage"
)

func newResolveCmd() *cobra.Command {
	var (
		bucket  string
		ttl     int
		public  bool
		refresh bool
		check   bool
	)

	cmd := &cobra.Command{
		Use:   "resolve <path>",
		Short: "Resolve a storage path to a loadable URL",
		Long: strings.TrimSpace(`
Resolve an attachment storage path (bucket-relative) to a URL.

Cached signed URLs are reused until shortly before expiry; otherwise a fresh
signed URL is minted. Absolute http(s) URLs pass through untouched. With
--check the URL is also probed, refreshing the signed URL at most once if
the first probe fails.
`),
		Example: strings.TrimSpace(`
  # Resolve with the default one-hour TTL
  movinesta resolve message_attachments/CONV/USER/172...-abcd.jpg

  # Short-lived URL with public fallback, verified to load
  movinesta resolve PATH --ttl 300 --public --check
`),
		Args: cobra.ExactArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			path := strings.TrimSpace(args[0])
			if path == "" {
				return fmt.Errorf("path is required")
			}

			cfg, err := clientConfig()
			if err != nil {
				return err
			}
			if bucket == "" {
				bucket = cfg.Bucket
			}

			resolver, store, cleanup, err := getResolver(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			var url string
			if check {
				loader := storage.NewLoader(resolver, store, storage.HTTPProbe(probeHTTPClient()), bucket)
				url, err = loader.Load(cmd.Context(), path)
				if err != nil {
					return fmt.Errorf("resolve %s: %w", path, err)
				}
			} else {
				url = resolver.Resolve(cmd.Context(), bucket, path, storage.ResolveOptions{
					TTLSeconds:          ttl,
					AllowPublicFallback: public,
					ForceRefresh:        refresh,
				})
				if url == "" {
					return fmt.Errorf("resolve %s: attachment unavailable", path)
				}
			}

			if isJSON(cmd) {
				return printJSON(cmd, map[string]any{
					"path":   path,
					"bucket": bucket,
					"url":    url,
				})
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), url)
			return nil
		}),
	}

	cmd.Flags().StringVar(&bucket, "bucket", "", "Bucket to resolve against (default: configured attachment bucket)")
	cmd.Flags().IntVar(&ttl, "ttl", 0, "Signed URL lifetime in seconds (default 3600)")
	cmd.Flags().BoolVar(&public, "public", false, "Fall back to the public URL when signing fails")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Skip the cache and mint a fresh signed URL")
	cmd.Flags().BoolVar(&check, "check", false, "Probe the URL and refresh once if it does not load")
	flagAlias(cmd.Flags(), "bucket", "bk")
	flagAlias(cmd.Flags(), "refresh", "rf")
	flagAlias(cmd.Flags(), "public", "pub")

	return cmd
}
