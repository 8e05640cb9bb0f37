package cmd

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/movinesta/movinesta-cli/internal/recent"
	"github.com/movinesta/movinesta-cli/internal/storage"
	"github.com/movinesta/movinesta-cli/internal/upload"
	"github.com/movinesta/movinesta-cli/internal/validation"
)

// resolverPrefetcher adapts the URL resolver to the upload pipeline's
// prefetch hook.
type resolverPrefetcher struct {
	resolver *storage.Resolver
}

func (p resolverPrefetcher) Prefetch(ctx context.Context, bucket, path string) {
	p.resolver.Prefetch(ctx, bucket, path, storage.DefaultSignedTTLSeconds)
}

func newAttachCmd() *cobra.Command {
	var (
		caption  string
		mimeType string
	)

	cmd := &cobra.Command{
		Use:     "attach <conversation-id> <file>",
		Aliases: []string{"at"},
		Short:   "Upload a file and send it as an attachment message",
		Long: strings.TrimSpace(`
Validate, upload, and send a file as an attachment on a conversation.

The file is classified as image, audio, or document; files over the per-kind
size cap or with an unsupported format are rejected before any bytes move.
Ctrl+C during the upload cancels the send: the storage write cannot be
aborted mid-flight, so the freshly written object is deleted instead and no
message goes out.
`),
		Example: strings.TrimSpace(`
  # Send a photo with a caption
  movinesta attach CONV_ID ./photo.jpg --caption "check this out"

  # Force the MIME type when the extension is misleading
  movinesta attach CONV_ID ./clip --mime-type audio/mpeg
`),
		Args: cobra.ExactArgs(2),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			convID := strings.TrimSpace(args[0])
			if err := validation.ValidateUUID(convID, "conversation id"); err != nil {
				return err
			}
			localPath := args[1]

			client, cfg, err := getClient()
			if err != nil {
				return err
			}
			if cfg.UserID == "" {
				return fmt.Errorf("user id not configured - run 'movinesta auth login' with --user-id")
			}

			resolver, store, cleanup, err := getResolver(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			if mimeType == "" {
				mimeType = mime.TypeByExtension(filepath.Ext(localPath))
			}
			file, err := upload.FileFromPath(localPath, mimeType)
			if err != nil {
				return fmt.Errorf("cannot read %s: %w", localPath, err)
			}

			pipeline := upload.NewPipeline(store, resolverPrefetcher{resolver}, client, cfg.Bucket, convID, cfg.UserID)

			pending, err := pipeline.SelectFile(file)
			if err != nil {
				var rejection *upload.Rejection
				if errors.As(err, &rejection) {
					return fmt.Errorf("%s: %s", file.Name, rejection.Message)
				}
				return err
			}
			if !isJSON(cmd) {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Uploading %s (%s, %s)...\n", pending.Name, pending.Kind.Label(), pending.SizeLabel)
			}

			// Ctrl+C cancels through the pipeline token rather than the request
			// context, so an interrupted upload cleans up its orphaned object.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				pipeline.Cancel()
			}()

			if err := pipeline.Upload(context.WithoutCancel(ctx), caption); err != nil {
				return err
			}

			switch pipeline.State() {
			case upload.StateCancelled:
				if !isJSON(cmd) {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Cancelled; uploaded object removed.")
				}
				return nil
			case upload.StateSent:
				recordRecentAttachment(localPath, pending, cfg.BaseURL, cfg.UserID, convID)
				if isJSON(cmd) {
					return printJSON(cmd, map[string]any{
						"sent":            true,
						"conversation_id": convID,
						"name":            pending.Name,
						"kind":            string(pending.Kind),
						"size":            pending.Size,
					})
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Sent %s to conversation %s.\n", pending.Name, convID)
				return nil
			default:
				return fmt.Errorf("upload ended in unexpected state %q", pipeline.State())
			}
		}),
	}

	cmd.Flags().StringVar(&caption, "caption", "", "Message text to send with the attachment")
	cmd.Flags().StringVar(&mimeType, "mime-type", "", "Override the detected MIME type")
	flagAlias(cmd.Flags(), "caption", "cap")
	flagAlias(cmd.Flags(), "mime-type", "mt")

	return cmd
}

// recordRecentAttachment remembers a successful send in the local recent
// store. Best-effort; a missing cache dir just skips the record.
func recordRecentAttachment(localPath string, pending *upload.PendingAttachment, baseURL, userID, convID string) {
	dir, err := recent.DefaultDir()
	if err != nil {
		return
	}
	abs, err := filepath.Abs(localPath)
	if err != nil {
		abs = localPath
	}
	store := recent.NewStore(dir, baseURL, userID)
	store.Add(recent.Entry{
		LocalPath:      abs,
		Name:           pending.Name,
		Kind:           string(pending.Kind),
		Size:           pending.Size,
		ConversationID: convID,
		AttachedAt:     time.Now(),
	})
}
