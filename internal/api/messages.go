package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Message is one row of the messages table.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	ClientID       string     `json:"client_id,omitempty"`
	Content        string     `json:"content"`
	AttachmentPath string     `json:"attachment_path,omitempty"`
	AttachmentKind string     `json:"attachment_kind,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	EditedAt       *time.Time `json:"edited_at,omitempty"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

// ReadReceipt marks a message read by a user.
type ReadReceipt struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	ReadAt         time.Time `json:"read_at"`
}

// DeliveryReceipt marks a message delivered to a user's device.
type DeliveryReceipt struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	DeliveredAt    time.Time `json:"delivered_at"`
}

// Reaction is one emoji reaction on a message.
type Reaction struct {
	ID             string    `json:"id"`
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Emoji          string    `json:"emoji"`
	CreatedAt      time.Time `json:"created_at"`
}

// ListMessagesOptions narrows a message poll.
type ListMessagesOptions struct {
	// Since limits results to rows created strictly after this time. Zero
	// means no lower bound.
	Since time.Time
	// Limit caps the number of rows; 0 applies DefaultListLimit.
	Limit int
}

// DefaultListLimit bounds fallback polls so a long outage does not turn the
// first recovery poll into an unbounded fetch.
const DefaultListLimit = 100

// ListMessages fetches messages for a conversation in ascending creation
// order. This is the polling path used when the realtime channel is down.
func (c *Client) ListMessages(ctx context.Context, conversationID string, opts ListMessagesOptions) ([]Message, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("conversation_id", "eq."+conversationID)
	q.Set("order", "created_at.asc")
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	q.Set("limit", strconv.Itoa(limit))
	if !opts.Since.IsZero() {
		q.Set("created_at", "gt."+opts.Since.UTC().Format(time.RFC3339Nano))
	}

	var messages []Message
	if err := c.do(ctx, http.MethodGet, c.restPath("/messages?"+q.Encode()), "", nil, &messages); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

// NewMessage is the client-side shape of a message to send. ClientID must be
// unique per logical send; the server enforces this, which makes retries
// after an ambiguous failure safe.
type NewMessage struct {
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	ClientID       string `json:"client_id"`
	Content        string `json:"content,omitempty"`
	AttachmentPath string `json:"attachment_path,omitempty"`
	AttachmentKind string `json:"attachment_kind,omitempty"`
}

// SendMessage inserts a message and returns the stored row. If the server
// reports the client_id already exists, an earlier attempt won the race and
// its row is fetched and returned instead.
func (c *Client) SendMessage(ctx context.Context, msg NewMessage) (Message, error) {
	if msg.ClientID == "" {
		return Message{}, errors.New("send message: client ID required")
	}

	var rows []Message
	err := c.do(ctx, http.MethodPost, c.restPath("/messages"), "return=representation", msg, &rows)
	if err != nil {
		var apiErr *APIError
		// 23505: unique violation on client_id. The message is already there.
		if errors.As(err, &apiErr) && apiErr.Code == "23505" {
			return c.messageByClientID(ctx, msg.ClientID)
		}
		return Message{}, fmt.Errorf("send message: %w", err)
	}
	if len(rows) == 0 {
		return Message{}, errors.New("send message: empty response")
	}
	return rows[0], nil
}

func (c *Client) messageByClientID(ctx context.Context, clientID string) (Message, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("client_id", "eq."+clientID)
	q.Set("limit", "1")

	var rows []Message
	if err := c.do(ctx, http.MethodGet, c.restPath("/messages?"+q.Encode()), "", nil, &rows); err != nil {
		return Message{}, fmt.Errorf("fetch message by client ID: %w", err)
	}
	if len(rows) == 0 {
		return Message{}, errors.New("duplicate client ID reported but message not found")
	}
	return rows[0], nil
}

// SendAttachmentMessage sends a message whose payload is an uploaded object.
// UserID must be set on the client.
func (c *Client) SendAttachmentMessage(ctx context.Context, conversationID, clientID, attachmentPath, attachmentKind, caption string) error {
	if c.UserID == "" {
		return errors.New("send attachment: no authenticated user")
	}
	_, err := c.SendMessage(ctx, NewMessage{
		ConversationID: conversationID,
		SenderID:       c.UserID,
		ClientID:       clientID,
		Content:        caption,
		AttachmentPath: attachmentPath,
		AttachmentKind: attachmentKind,
	})
	return err
}

// MarkRead records a read receipt. Upsert: re-reading a message is a no-op
// server side.
func (c *Client) MarkRead(ctx context.Context, conversationID, messageID string) error {
	if c.UserID == "" {
		return errors.New("mark read: no authenticated user")
	}
	receipt := ReadReceipt{
		MessageID:      messageID,
		ConversationID: conversationID,
		UserID:         c.UserID,
		ReadAt:         time.Now().UTC(),
	}
	if err := c.do(ctx, http.MethodPost, c.restPath("/message_read_receipts"), "resolution=merge-duplicates", receipt, nil); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// MarkDelivered records a delivery receipt, upserting like MarkRead.
func (c *Client) MarkDelivered(ctx context.Context, conversationID, messageID string) error {
	if c.UserID == "" {
		return errors.New("mark delivered: no authenticated user")
	}
	receipt := DeliveryReceipt{
		MessageID:      messageID,
		ConversationID: conversationID,
		UserID:         c.UserID,
		DeliveredAt:    time.Now().UTC(),
	}
	if err := c.do(ctx, http.MethodPost, c.restPath("/message_delivery_receipts"), "resolution=merge-duplicates", receipt, nil); err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return nil
}

// ListReadReceipts fetches read receipts for a conversation, optionally
// bounded to those recorded after since.
func (c *Client) ListReadReceipts(ctx context.Context, conversationID string, since time.Time) ([]ReadReceipt, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("conversation_id", "eq."+conversationID)
	if !since.IsZero() {
		q.Set("read_at", "gt."+since.UTC().Format(time.RFC3339Nano))
	}

	var receipts []ReadReceipt
	if err := c.do(ctx, http.MethodGet, c.restPath("/message_read_receipts?"+q.Encode()), "", nil, &receipts); err != nil {
		return nil, fmt.Errorf("list read receipts: %w", err)
	}
	return receipts, nil
}

// ListReactions fetches reactions for a conversation.
func (c *Client) ListReactions(ctx context.Context, conversationID string) ([]Reaction, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("conversation_id", "eq."+conversationID)

	var reactions []Reaction
	if err := c.do(ctx, http.MethodGet, c.restPath("/message_reactions?"+q.Encode()), "", nil, &reactions); err != nil {
		return nil, fmt.Errorf("list reactions: %w", err)
	}
	return reactions, nil
}

// AddReaction attaches an emoji reaction to a message.
func (c *Client) AddReaction(ctx context.Context, conversationID, messageID, emoji string) error {
	if c.UserID == "" {
		return errors.New("add reaction: no authenticated user")
	}
	reaction := map[string]string{
		"message_id":      messageID,
		"conversation_id": conversationID,
		"user_id":         c.UserID,
		"emoji":           emoji,
	}
	if err := c.do(ctx, http.MethodPost, c.restPath("/message_reactions"), "resolution=merge-duplicates", reaction, nil); err != nil {
		return fmt.Errorf("add reaction: %w", err)
	}
	return nil
}

// RemoveReaction removes the current user's emoji reaction from a message.
func (c *Client) RemoveReaction(ctx context.Context, messageID, emoji string) error {
	if c.UserID == "" {
		return errors.New("remove reaction: no authenticated user")
	}
	q := url.Values{}
	q.Set("message_id", "eq."+messageID)
	q.Set("user_id", "eq."+c.UserID)
	q.Set("emoji", "eq."+emoji)
	if err := c.do(ctx, http.MethodDelete, c.restPath("/message_reactions?"+q.Encode()), "", nil, nil); err != nil {
		return fmt.Errorf("remove reaction: %w", err)
	}
	return nil
}
