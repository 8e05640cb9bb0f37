package cmd

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/movinesta/movinesta-cli/internal/api"
	"github.com/movinesta/movinesta-cli/internal/config"
	"github.com/movinesta/movinesta-cli/internal/iocontext"
	"github.com/movinesta/movinesta-cli/internal/outfmt"
	"github.com/movinesta/movinesta-cli/internal/storage"
	"github.com/movinesta/movinesta-cli/internal/urlcache"
)

// getJQQuery returns the jq query from --jq or --query flags.
// --jq takes precedence over --query.
func getJQQuery() string {
	if flags.JQ != "" {
		return flags.JQ
	}
	return flags.Query
}

// clientConfig resolves connection settings, applying the --base-url override.
func clientConfig() (config.ClientConfig, error) {
	return config.ResolveClientConfig(flags.BaseURL)
}

// getClient creates an API client from stored credentials
func getClient() (*api.Client, config.ClientConfig, error) {
	cfg, err := clientConfig()
	if err != nil {
		return nil, config.ClientConfig{}, err
	}
	client := api.New(cfg.BaseURL, cfg.AnonKey, cfg.AccessToken)
	client.UserID = cfg.UserID
	client.UserAgent = fmt.Sprintf("movinesta-cli/%s", version)
	if flags.Timeout > 0 {
		client.HTTP.Timeout = flags.Timeout
	}
	return client, cfg, nil
}

// getStorageClient creates an object-storage client for the account.
func getStorageClient(cfg config.ClientConfig) *storage.HTTPClient {
	key := cfg.AccessToken
	if key == "" {
		key = cfg.AnonKey
	}
	client := storage.NewHTTPClient(cfg.BaseURL+"/storage/v1", key)
	if flags.Timeout > 0 {
		client.HTTP.Timeout = flags.Timeout
	}
	return client
}

// getURLCache picks the signed-URL cache backend: Redis when
// MOVINESTA_REDIS_URL is set (shared across processes), otherwise an
// in-process store. The returned cleanup closes the Redis connection.
func getURLCache() (urlcache.Cache, func(), error) {
	redisURL := strings.TrimSpace(os.Getenv("MOVINESTA_REDIS_URL"))
	if redisURL == "" {
		return urlcache.NewStore(), func() {}, nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid MOVINESTA_REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	return urlcache.NewRedisStore(client), func() { _ = client.Close() }, nil
}

// getResolver wires a URL resolver over the storage client and cache.
func getResolver(cfg config.ClientConfig) (*storage.Resolver, *storage.HTTPClient, func(), error) {
	store := getStorageClient(cfg)
	cache, cleanup, err := getURLCache()
	if err != nil {
		return nil, nil, nil, err
	}
	return storage.NewResolver(store, cache), store, cleanup, nil
}

// probeHTTPClient is the client used to verify resolved URLs actually load.
func probeHTTPClient() *http.Client {
	return &http.Client{Timeout: flags.Timeout}
}

// newTabWriter creates a tabwriter for text output
func newTabWriter(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
}

func newTabWriterFromCmd(cmd *cobra.Command) *tabwriter.Writer {
	ioStreams := iocontext.GetIO(cmd.Context())
	return newTabWriter(ioStreams.Out)
}

// printJSON outputs data as JSON with optional query/template filtering
func printJSON(cmd *cobra.Command, v any) error {
	ioStreams := iocontext.GetIO(cmd.Context())
	query := outfmt.GetQuery(cmd.Context())
	compact := outfmt.IsCompact(cmd.Context())
	if tmpl := outfmt.GetTemplate(cmd.Context()); tmpl != "" {
		filtered, err := outfmt.ApplyQuery(v, query)
		if err != nil {
			return err
		}
		return outfmt.WriteTemplate(ioStreams.Out, filtered, tmpl)
	}
	return outfmt.WriteJSONFiltered(ioStreams.Out, v, query, compact)
}

// printJSONErr writes a JSON value to stderr.
func printJSONErr(cmd *cobra.Command, v any) error {
	ioStreams := iocontext.GetIO(cmd.Context())
	return outfmt.WriteJSON(ioStreams.ErrOut, v)
}

// isJSON checks if the command context wants JSON output
func isJSON(cmd *cobra.Command) bool {
	return outfmt.IsJSON(cmd.Context())
}

// errAlreadyHandled is a sentinel error indicating the error was already printed to stderr.
// Commands using RunE return this to signal Cobra that an error occurred (for exit code)
// without Cobra printing it again (since SilenceErrors is true on root command).
var errAlreadyHandled = errors.New("error already handled")

type handledError struct {
	err      error
	exitCode int
}

func (e *handledError) Error() string {
	return e.err.Error()
}

func (e *handledError) Unwrap() error {
	return errAlreadyHandled
}

func (e *handledError) ExitCode() int {
	return e.exitCode
}

// RunE wraps a command function with enhanced error handling
func RunE(fn func(cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := fn(cmd, args)
		if err != nil {
			if isJSON(cmd) {
				var apiErr *api.APIError
				if errors.As(err, &apiErr) {
					_ = printJSONErr(cmd, apiErr)
				} else {
					_ = printJSONErr(cmd, map[string]any{"error": err.Error()})
				}
			} else {
				_, _ = fmt.Fprint(cmd.ErrOrStderr(), HandleError(err))
			}
			// Return a handled error so tests can still inspect the original message.
			return &handledError{err: err, exitCode: ExitCode(err)}
		}
		return nil
	}
}
