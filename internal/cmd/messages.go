package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/movinesta/movinesta-cli/internal/api"
	"github.com/movinesta/movinesta-cli/internal/validation"
)

func newMessagesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "messages",
		Aliases: []string{"msg"},
		Short:   "Inspect and update conversation messages",
	}

	cmd.AddCommand(newMessagesListCmd())
	cmd.AddCommand(newMessagesReadCmd())
	cmd.AddCommand(newMessagesReactCmd())
	cmd.AddCommand(newMessagesUnreactCmd())

	return cmd
}

func newMessagesListCmd() *cobra.Command {
	var (
		since    string
		limit    int
		receipts bool
	)

	cmd := &cobra.Command{
		Use:     "list <conversation-id>",
		Aliases: []string{"ls"},
		Short:   "List messages in a conversation",
		Example: strings.TrimSpace(`
  # Last 20 messages
  movinesta messages list CONV_ID --limit 20

  # Messages since a point in time, with read receipts and reactions
  movinesta messages list CONV_ID --since 2026-08-30T12:00:00Z --receipts --json
`),
		Args: cobra.ExactArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			convID := strings.TrimSpace(args[0])
			if err := validation.ValidateUUID(convID, "conversation id"); err != nil {
				return err
			}

			var sinceTime time.Time
			if since != "" {
				t, err := time.Parse(time.RFC3339, since)
				if err != nil {
					return fmt.Errorf("invalid --since %q: must be RFC3339 (e.g. 2026-08-30T12:00:00Z)", since)
				}
				sinceTime = t
			}

			client, cfg, err := getClient()
			if err != nil {
				return err
			}

			msgs, err := client.ListMessages(cmd.Context(), convID, api.ListMessagesOptions{
				Since: sinceTime,
				Limit: limit,
			})
			if err != nil {
				return err
			}

			if receipts {
				reads, err := client.ListReadReceipts(cmd.Context(), convID, sinceTime)
				if err != nil {
					return err
				}
				reactions, err := client.ListReactions(cmd.Context(), convID)
				if err != nil {
					return err
				}
				if isJSON(cmd) {
					return printJSON(cmd, map[string]any{
						"messages":      msgs,
						"read_receipts": reads,
						"reactions":     reactions,
					})
				}
				printMessagesTable(cmd, msgs, cfg.UserID)
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "\n%d read receipt(s), %d reaction(s)\n", len(reads), len(reactions))
				return nil
			}

			if isJSON(cmd) {
				return printJSON(cmd, map[string]any{"messages": msgs})
			}
			if len(msgs) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No messages.")
				return nil
			}
			printMessagesTable(cmd, msgs, cfg.UserID)
			return nil
		}),
	}

	cmd.Flags().StringVar(&since, "since", "", "Only messages created after this RFC3339 time")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum messages to fetch (default server cap)")
	cmd.Flags().BoolVar(&receipts, "receipts", false, "Include read receipts and reactions")
	flagAlias(cmd.Flags(), "since", "sc")
	flagAlias(cmd.Flags(), "limit", "lim")
	flagAlias(cmd.Flags(), "receipts", "rc")

	return cmd
}

func printMessagesTable(cmd *cobra.Command, msgs []api.Message, userID string) {
	w := newTabWriterFromCmd(cmd)
	defer func() { _ = w.Flush() }()
	_, _ = fmt.Fprintln(w, "TIME\tSENDER\tCONTENT")
	for _, m := range msgs {
		sender := m.SenderID
		if userID != "" && sender == userID {
			sender = "me"
		}
		content := m.Content
		if m.DeletedAt != nil {
			content = "(deleted)"
		} else if m.AttachmentPath != "" {
			content = strings.TrimSpace(content + " [" + m.AttachmentKind + " attachment]")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", m.CreatedAt.Local().Format("2006-01-02 15:04:05"), sender, content)
	}
}

func newMessagesReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <conversation-id> <message-id>",
		Short: "Mark a message as read",
		Args:  cobra.ExactArgs(2),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			convID, msgID, err := conversationAndMessageArgs(args)
			if err != nil {
				return err
			}
			client, cfg, err := getClient()
			if err != nil {
				return err
			}
			if cfg.UserID == "" {
				return fmt.Errorf("user id not configured - run 'movinesta auth login' with --user-id")
			}
			if err := client.MarkRead(cmd.Context(), convID, msgID); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Marked %s read.\n", msgID)
			return nil
		}),
	}
}

func newMessagesReactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "react <conversation-id> <message-id> <emoji>",
		Short: "Add an emoji reaction to a message",
		Args:  cobra.ExactArgs(3),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			convID, msgID, err := conversationAndMessageArgs(args)
			if err != nil {
				return err
			}
			emoji := args[2]
			if err := validation.ValidateEmoji(emoji); err != nil {
				return err
			}
			client, cfg, err := getClient()
			if err != nil {
				return err
			}
			if cfg.UserID == "" {
				return fmt.Errorf("user id not configured - run 'movinesta auth login' with --user-id")
			}
			if err := client.AddReaction(cmd.Context(), convID, msgID, emoji); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Reacted %s to %s.\n", emoji, msgID)
			return nil
		}),
	}
}

func newMessagesUnreactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unreact <message-id> <emoji>",
		Short: "Remove an emoji reaction from a message",
		Args:  cobra.ExactArgs(2),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			msgID := strings.TrimSpace(args[0])
			if err := validation.ValidateUUID(msgID, "message id"); err != nil {
				return err
			}
			emoji := args[1]
			if err := validation.ValidateEmoji(emoji); err != nil {
				return err
			}
			client, cfg, err := getClient()
			if err != nil {
				return err
			}
			if cfg.UserID == "" {
				return fmt.Errorf("user id not configured - run 'movinesta auth login' with --user-id")
			}
			if err := client.RemoveReaction(cmd.Context(), msgID, emoji); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from %s.\n", emoji, msgID)
			return nil
		}),
	}
}

func conversationAndMessageArgs(args []string) (string, string, error) {
	convID := strings.TrimSpace(args[0])
	if err := validation.ValidateUUID(convID, "conversation id"); err != nil {
		return "", "", err
	}
	msgID := strings.TrimSpace(args[1])
	if err := validation.ValidateUUID(msgID, "message id"); err != nil {
		return "", "", err
	}
	return convID, msgID, nil
}
