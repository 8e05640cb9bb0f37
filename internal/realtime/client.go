package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// DefaultReadTimeout is how long we wait without receiving any frame
// (including heartbeat replies) before treating the connection as dead.
// The server heartbeats every ~25s, so 60s means two missed beats.
var DefaultReadTimeout = 60 * time.Second

// heartbeatInterval matches the phoenix default.
const heartbeatInterval = 25 * time.Second

// ErrReadTimeout is returned when no frames arrive within the read timeout.
var ErrReadTimeout = errors.New("read timeout: no frames received")

// frame is a raw phoenix-channel JSON frame.
type frame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
}

// joinConfig is the phx_join payload: one binding per logical change stream.
type joinConfig struct {
	Config struct {
		PostgresChanges []changeBinding `json:"postgres_changes"`
	} `json:"config"`
}

type changeBinding struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter"`
}

// changeData is the payload of a postgres_changes frame.
type changeData struct {
	Data struct {
		Schema          string          `json:"schema"`
		Table           string          `json:"table"`
		Type            string          `json:"type"`
		Record          json.RawMessage `json:"record"`
		OldRecord       json.RawMessage `json:"old_record"`
		CommitTimestamp string          `json:"commit_timestamp"`
	} `json:"data"`
}

// maxReadSize caps websocket frames at 1 MB. Change events are small JSON
// rows; anything larger is likely malformed.
const maxReadSize = 1 << 20

// ClientEvent is one item from the read loop: either a change, a status
// transition, or a terminal error.
type ClientEvent struct {
	Change *ChangeEvent
	Status *Status
	Err    error
}

// Client is a phoenix-channel websocket client scoped to one conversation
// topic.
type Client struct {
	conn  *websocket.Conn
	topic string

	mu  sync.Mutex
	ref int
}

// Dial connects to the realtime endpoint.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	conn.SetReadLimit(maxReadSize)
	return &Client{conn: conn}, nil
}

// Close gracefully closes the connection.
func (c *Client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}

func (c *Client) nextRef() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ref++
	return strconv.Itoa(c.ref)
}

func (c *Client) send(ctx context.Context, f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// conversationBindings builds the five logical change streams for one
// conversation: message inserts/updates, read receipt upserts, delivery
// receipt upserts, reaction upserts, reaction deletes.
func conversationBindings(conversationID string) []changeBinding {
	filter := "conversation_id=eq." + conversationID
	bind := func(event, table string) changeBinding {
		return changeBinding{Event: event, Schema: "public", Table: table, Filter: filter}
	}
	return []changeBinding{
		bind(ChangeInsert, TableMessages),
		bind(ChangeUpdate, TableMessages),
		bind(ChangeInsert, TableReadReceipts),
		bind(ChangeUpdate, TableReadReceipts),
		bind(ChangeInsert, TableDeliveryReceipts),
		bind(ChangeUpdate, TableDeliveryReceipts),
		bind(ChangeInsert, TableReactions),
		bind(ChangeUpdate, TableReactions),
		bind(ChangeDelete, TableReactions),
	}
}

// Join subscribes to a conversation's change streams and waits for the join
// reply.
func (c *Client) Join(ctx context.Context, conversationID string) error {
	topic := "conversation-db-" + conversationID

	var cfg joinConfig
	cfg.Config.PostgresChanges = conversationBindings(conversationID)
	payload, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal join config: %w", err)
	}

	joinRef := c.nextRef()
	if err := c.send(ctx, frame{
		Topic:   topic,
		Event:   "phx_join",
		Payload: payload,
		Ref:     joinRef,
	}); err != nil {
		return fmt.Errorf("write join: %w", err)
	}

	// Wait for the reply, skipping unrelated frames that may arrive first.
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read join reply: %w", err)
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		if f.Event != "phx_reply" || f.Ref != joinRef {
			continue
		}
		var reply struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(f.Payload, &reply); err != nil {
			return fmt.Errorf("parse join reply: %w", err)
		}
		if reply.Status != "ok" {
			return fmt.Errorf("join rejected (status=%s)", reply.Status)
		}
		c.topic = topic
		return nil
	}
}

// StartHeartbeat sends phoenix heartbeats at the protocol interval until ctx
// is cancelled. If onError is non-nil, it is called once on the first write
// failure before the goroutine exits.
func (c *Client) StartHeartbeat(ctx context.Context, onError func(error)) {
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := c.send(ctx, frame{
					Topic:   "phoenix",
					Event:   "heartbeat",
					Payload: json.RawMessage(`{}`),
					Ref:     c.nextRef(),
				})
				if err != nil {
					if onError != nil && ctx.Err() == nil {
						onError(fmt.Errorf("heartbeat write: %w", err))
					}
					return
				}
			}
		}
	}()
}

// Listen starts the read loop and returns a channel of events. Heartbeat
// replies and unrelated frames are dropped silently. The channel closes when
// the connection drops or ctx is cancelled.
//
// A rolling read timeout detects half-dead connections: if no frame at all
// arrives within DefaultReadTimeout, a StatusTimedOut event is emitted and
// the loop exits.
func (c *Client) Listen(ctx context.Context) <-chan ClientEvent {
	return c.ListenWithTimeout(ctx, DefaultReadTimeout)
}

// ListenWithTimeout is like Listen with a configurable read timeout.
// Use 0 to disable the timeout (not recommended outside tests).
func (c *Client) ListenWithTimeout(ctx context.Context, readTimeout time.Duration) <-chan ClientEvent {
	ch := make(chan ClientEvent, 64)
	go func() {
		defer close(ch)

		emit := func(ev ClientEvent) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		emitStatus := func(s Status) bool {
			return emit(ClientEvent{Status: &s})
		}

		if !emitStatus(StatusSubscribed) {
			return
		}

		for {
			readCtx := ctx
			var readCancel context.CancelFunc
			if readTimeout > 0 {
				readCtx, readCancel = context.WithTimeout(ctx, readTimeout)
			}

			_, data, err := c.conn.Read(readCtx)

			if readCancel != nil {
				readCancel()
			}

			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if readTimeout > 0 && readCtx.Err() != nil {
					emitStatus(StatusTimedOut)
					emit(ClientEvent{Err: ErrReadTimeout})
					return
				}
				emitStatus(StatusClosed)
				emit(ClientEvent{Err: err})
				return
			}

			var f frame
			if err := json.Unmarshal(data, &f); err != nil {
				continue // skip malformed frames
			}

			switch f.Event {
			case "phx_reply", "presence_state", "presence_diff", "system":
				continue
			case "phx_error":
				emitStatus(StatusChannelError)
				emit(ClientEvent{Err: fmt.Errorf("channel error on %s", f.Topic)})
				return
			case "phx_close":
				emitStatus(StatusClosed)
				emit(ClientEvent{Err: fmt.Errorf("channel closed on %s", f.Topic)})
				return
			case "postgres_changes":
				if c.topic != "" && f.Topic != c.topic {
					continue
				}
				var cd changeData
				if err := json.Unmarshal(f.Payload, &cd); err != nil {
					continue
				}
				change := ChangeEvent{
					Table:           cd.Data.Table,
					Type:            cd.Data.Type,
					New:             cd.Data.Record,
					Old:             cd.Data.OldRecord,
					CommitTimestamp: cd.Data.CommitTimestamp,
				}
				if !emit(ClientEvent{Change: &change}) {
					return
				}
			}
		}
	}()
	return ch
}
