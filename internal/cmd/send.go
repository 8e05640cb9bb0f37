package cmd

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/movinesta/movinesta-cli/internal/api"
	"github.com/movinesta/movinesta-cli/internal/validation"
)

func newSendCmd() *cobra.Command {
	var clientID string

	cmd := &cobra.Command{
		Use:   "send <conversation-id> <text>",
		Short: "Send a text message",
		Long: strings.TrimSpace(`
Send a text message to a conversation.

Every send carries a client id; retrying with the same --client-id is safe
because the server deduplicates on it and the original message is returned.
`),
		Example: strings.TrimSpace(`
  # Send a message
  movinesta send CONV_ID "on my way"

  # Retry-safe send with an explicit client id
  movinesta send CONV_ID "on my way" --client-id 4f2d...
`),
		Args: cobra.ExactArgs(2),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			convID := strings.TrimSpace(args[0])
			if err := validation.ValidateUUID(convID, "conversation id"); err != nil {
				return err
			}
			text := args[1]
			if err := validation.ValidateMessageContent(text); err != nil {
				return err
			}

			client, cfg, err := getClient()
			if err != nil {
				return err
			}
			if cfg.UserID == "" {
				return fmt.Errorf("user id not configured - run 'movinesta auth login' with --user-id")
			}

			if clientID == "" {
				clientID = uuid.NewString()
			} else if err := validation.ValidateUUID(clientID, "client id"); err != nil {
				return err
			}

			msg, err := client.SendMessage(cmd.Context(), api.NewMessage{
				ConversationID: convID,
				SenderID:       cfg.UserID,
				ClientID:       clientID,
				Content:        text,
			})
			if err != nil {
				return err
			}

			if isJSON(cmd) {
				return printJSON(cmd, msg)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Sent message %s.\n", msg.ID)
			return nil
		}),
	}

	cmd.Flags().StringVar(&clientID, "client-id", "", "Client id for idempotent retries (default: random UUID)")
	flagAlias(cmd.Flags(), "client-id", "cid")

	return cmd
}
