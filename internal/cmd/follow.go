package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	neturl "net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/movinesta/movinesta-cli/internal/api"
	"github.com/movinesta/movinesta-cli/internal/config"
	"github.com/movinesta/movinesta-cli/internal/filter"
	"github.com/movinesta/movinesta-cli/internal/realtime"
	"github.com/movinesta/movinesta-cli/internal/validation"
)

func newFollowCmd() *cobra.Command {
	var (
		tail       int
		filterExpr string
		ack        bool
		events     []string
	)

	cmd := &cobra.Command{
		Use:     "follow <conversation-id>",
		Aliases: []string{"fw"},
		Short:   "Follow a conversation in real-time",
		Long: strings.TrimSpace(`
Follow a conversation and print new events as they arrive.

Connects to the realtime websocket for push delivery of message, receipt, and
reaction changes. A safety-net poll always runs in the background because a
channel can look healthy while change events are silently missing; the poll
speeds up whenever the channel is down, and the websocket reconnects with
exponential backoff.
`),
		Example: strings.TrimSpace(`
  # Follow a conversation
  movinesta follow 8e7d2f3a-1b4c-4a6e-9f0d-2c5b8a7e6d1f

  # JSON event stream filtered with jq syntax
  movinesta follow CONV_ID --json --filter '.event == "message.created"'

  # Mark incoming messages delivered as they arrive
  movinesta follow CONV_ID --ack
`),
		Args: cobra.ExactArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			convID := strings.TrimSpace(args[0])
			if err := validation.ValidateUUID(convID, "conversation id"); err != nil {
				return err
			}

			filterExpr = strings.TrimSpace(filterExpr)
			if filterExpr != "" {
				filterExpr = filter.NormalizeExpression(filterExpr)
			}

			allowed, err := allowedEventSet(events)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			client, cfg, err := getClient()
			if err != nil {
				return err
			}

			f := &follower{
				cmd:        cmd,
				client:     client,
				convID:     convID,
				userID:     cfg.UserID,
				filterExpr: filterExpr,
				allowed:    allowed,
				ack:        ack,
				seen:       make(map[string]struct{}),
				since:      time.Now(),
			}

			if tail > 0 {
				msgs, err := client.ListMessages(ctx, convID, api.ListMessagesOptions{Limit: tail})
				if err != nil {
					return err
				}
				// ListMessages returns ascending order; print as history.
				start := 0
				if len(msgs) > tail {
					start = len(msgs) - tail
				}
				for _, m := range msgs[start:] {
					f.emitMessage(m, "history")
				}
			}

			if !isJSON(cmd) {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Following conversation %s (press Ctrl+C to stop)...\n", convID)
			}

			subscriber := &realtime.WebsocketSubscriber{URL: realtimeEndpoint(cfg)}
			registry := realtime.NewRegistry(subscriber)
			fallback := realtime.NewFallbackState(func(pollWhenDown bool) {
				f.pollWake()
				if pollWhenDown {
					slog.Debug("realtime channel down, polling faster", "conversation", convID)
				} else {
					slog.Debug("realtime channel healthy", "conversation", convID)
				}
			})

			go f.pollLoop(ctx, fallback)

			// Reconnection loop. The subscriber does not redial on its own: when
			// the transport dies its terminal status lands here, the registration
			// is torn down, and a fresh one is opened after the backoff. The
			// fallback poll keeps the view moving in the meantime.
			backoff := 2 * time.Second
			const maxBackoff = 30 * time.Second
			const resetThreshold = 60 * time.Second
			generation := 0

			for {
				generation++
				fallback.Reset(fmt.Sprintf("%s#%d", convID, generation))

				down := make(chan struct{})
				var downOnce sync.Once
				handlers := f.handlers(ctx)
				userStatus := handlers.OnStatus
				handlers.OnStatus = func(status realtime.Status) {
					fallback.OnStatus(status)
					if userStatus != nil {
						userStatus(status)
					}
					if status != realtime.StatusSubscribed {
						downOnce.Do(func() { close(down) })
					}
				}

				connectStart := time.Now()
				unregister := registry.Register(convID, handlers)

				select {
				case <-ctx.Done():
					unregister()
					return nil
				case <-down:
				}
				unregister()

				if time.Since(connectStart) > resetThreshold {
					backoff = 2 * time.Second
				}
				if !isJSON(cmd) {
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "realtime channel down, reconnecting in %s...\n", backoff)
				}
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return nil
				}
				backoff = min(backoff*2, maxBackoff)
			}
		}),
	}

	cmd.Flags().IntVar(&tail, "tail", 20, "Print the last N messages before following (0 to disable)")
	cmd.Flags().StringVar(&filterExpr, "filter", "", "JQ expression applied to each event; falsy results are dropped")
	cmd.Flags().BoolVar(&ack, "ack", false, "Mark incoming messages delivered as they arrive")
	cmd.Flags().StringSliceVar(&events, "events", nil, "Event types to show (default all): message.created,message.updated,receipt.read,receipt.delivered,reaction.added,reaction.removed")
	flagAlias(cmd.Flags(), "tail", "tl")
	flagAlias(cmd.Flags(), "filter", "fl")
	flagAlias(cmd.Flags(), "events", "ev")
	return cmd
}

// realtimeEndpoint derives the websocket URL for the resolved config,
// carrying the API key in the query string.
func realtimeEndpoint(cfg config.ClientConfig) string {
	u := strings.TrimSuffix(cfg.BaseURL, "/")
	u = strings.Replace(u, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u + "/realtime/v1/websocket?apikey=" + neturl.QueryEscape(cfg.AnonKey)
}

var followEventNames = []string{
	"message.created",
	"message.updated",
	"receipt.read",
	"receipt.delivered",
	"reaction.added",
	"reaction.removed",
}

func allowedEventSet(events []string) (map[string]struct{}, error) {
	if len(events) == 0 {
		return nil, nil
	}
	known := make(map[string]struct{}, len(followEventNames))
	for _, name := range followEventNames {
		known[name] = struct{}{}
	}
	allowed := make(map[string]struct{}, len(events))
	for _, e := range events {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if e == "all" || e == "*" {
			return nil, nil
		}
		if _, ok := known[e]; !ok {
			return nil, fmt.Errorf("unknown event type %q (valid: %s)", e, strings.Join(followEventNames, ","))
		}
		allowed[e] = struct{}{}
	}
	if len(allowed) == 0 {
		return nil, nil
	}
	return allowed, nil
}

// followEvent is the emitted envelope for every event source: websocket
// pushes, the fallback poll, and the pre-follow history tail.
type followEvent struct {
	Event  string `json:"event"`
	Source string `json:"source"`
	Data   any    `json:"data"`
}

type follower struct {
	cmd        *cobra.Command
	client     *api.Client
	convID     string
	userID     string
	filterExpr string
	allowed    map[string]struct{}
	ack        bool

	mu    sync.Mutex
	seen  map[string]struct{}
	since time.Time

	pollMu   sync.Mutex
	pollChan chan struct{}
}

func (f *follower) handlers(ctx context.Context) realtime.Handlers {
	return realtime.Handlers{
		OnMessageInsert: func(ev realtime.ChangeEvent) {
			var m api.Message
			if err := json.Unmarshal(ev.New, &m); err != nil {
				slog.Debug("bad message payload", "error", err)
				return
			}
			f.emitMessage(m, "realtime")
			if f.ack && f.userID != "" && m.SenderID != f.userID {
				if err := f.client.MarkDelivered(ctx, f.convID, m.ID); err != nil {
					slog.Debug("mark delivered failed", "message", m.ID, "error", err)
				}
			}
		},
		OnMessageUpdate: func(ev realtime.ChangeEvent) {
			f.emitRaw("message.updated", ev.New)
		},
		OnReadReceiptUpsert: func(ev realtime.ChangeEvent) {
			f.emitRaw("receipt.read", ev.New)
		},
		OnDeliveryReceiptUpsert: func(ev realtime.ChangeEvent) {
			f.emitRaw("receipt.delivered", ev.New)
		},
		OnReactionUpsert: func(ev realtime.ChangeEvent) {
			f.emitRaw("reaction.added", ev.New)
		},
		OnReactionDelete: func(ev realtime.ChangeEvent) {
			f.emitRaw("reaction.removed", ev.Old)
		},
	}
}

// pollLoop is the safety-net poll. It always runs; the interval follows the
// fallback policy (slow while the channel is healthy, fast while it is down).
func (f *follower) pollLoop(ctx context.Context, fallback *realtime.FallbackState) {
	for {
		interval := fallback.CurrentPolicy().RefetchInterval
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		case <-f.wakeChan():
		}

		f.mu.Lock()
		since := f.since
		f.mu.Unlock()

		msgs, err := f.client.ListMessages(ctx, f.convID, api.ListMessagesOptions{Since: since})
		if err != nil {
			if ctx.Err() == nil {
				slog.Debug("poll failed", "conversation", f.convID, "error", err)
			}
			continue
		}
		for _, m := range msgs {
			f.emitMessage(m, "poll")
		}
	}
}

func (f *follower) wakeChan() chan struct{} {
	f.pollMu.Lock()
	defer f.pollMu.Unlock()
	if f.pollChan == nil {
		f.pollChan = make(chan struct{})
	}
	return f.pollChan
}

// pollWake forces an immediate poll, used on fallback-state flips so a
// down transition does not wait out the slow interval.
func (f *follower) pollWake() {
	f.pollMu.Lock()
	defer f.pollMu.Unlock()
	if f.pollChan != nil {
		close(f.pollChan)
	}
	f.pollChan = make(chan struct{})
}

// emitMessage prints a message event once, whichever source saw it first.
func (f *follower) emitMessage(m api.Message, source string) {
	f.mu.Lock()
	if _, dup := f.seen[m.ID]; dup {
		f.mu.Unlock()
		return
	}
	f.seen[m.ID] = struct{}{}
	if m.CreatedAt.After(f.since) {
		f.since = m.CreatedAt
	}
	f.mu.Unlock()

	f.emit(followEvent{Event: "message.created", Source: source, Data: m})
}

func (f *follower) emitRaw(event string, payload json.RawMessage) {
	var data any
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &data); err != nil {
			slog.Debug("bad event payload", "event", event, "error", err)
			return
		}
	}
	f.emit(followEvent{Event: event, Source: "realtime", Data: data})
}

func (f *follower) emit(ev followEvent) {
	if f.allowed != nil {
		if _, ok := f.allowed[ev.Event]; !ok {
			return
		}
	}
	if f.filterExpr != "" {
		keep, err := f.matchesFilter(ev)
		if err != nil {
			slog.Debug("filter failed", "error", err)
			return
		}
		if !keep {
			return
		}
	}

	if isJSON(f.cmd) {
		if err := printJSON(f.cmd, ev); err != nil {
			slog.Debug("emit failed", "error", err)
		}
		return
	}
	f.emitText(ev)
}

func (f *follower) matchesFilter(ev followEvent) (bool, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return false, err
	}
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return false, err
	}
	result, err := filter.Apply(data, f.filterExpr)
	if err != nil {
		return false, err
	}
	switch v := result.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	default:
		return true, nil
	}
}

func (f *follower) emitText(ev followEvent) {
	out := f.cmd.OutOrStdout()
	switch data := ev.Data.(type) {
	case api.Message:
		stamp := data.CreatedAt.Local().Format("15:04:05")
		sender := data.SenderID
		if f.userID != "" && sender == f.userID {
			sender = "me"
		}
		line := data.Content
		if data.AttachmentPath != "" {
			note := fmt.Sprintf("[%s attachment: %s]", data.AttachmentKind, data.AttachmentPath)
			if line != "" {
				line += " " + note
			} else {
				line = note
			}
		}
		_, _ = fmt.Fprintf(out, "[%s] %s: %s\n", stamp, sender, line)
	default:
		raw, err := json.Marshal(ev.Data)
		if err != nil {
			raw = []byte("{}")
		}
		_, _ = fmt.Fprintf(out, "%s %s\n", ev.Event, raw)
	}
}
