package realtime

import (
	"context"
	"io"
	"time"
)

// WebsocketSubscriber is the production Subscriber: one websocket client per
// conversation, driven by a background goroutine that translates client
// events into registry callbacks.
type WebsocketSubscriber struct {
	// URL is the realtime websocket endpoint, API key included.
	URL string
	// DialTimeout bounds connection establishment and join. Zero means 15s.
	DialTimeout time.Duration
}

type wsSubscription struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *wsSubscription) Close() error {
	s.cancel()
	<-s.done
	return nil
}

// Subscribe implements Subscriber. The subscription lives until the returned
// closer is closed; terminal transport failures surface as status callbacks,
// never as panics or late errors.
func (s *WebsocketSubscriber) Subscribe(conversationID string, onEvent func(ChangeEvent), onStatus func(Status)) (io.Closer, error) {
	dialTimeout := s.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 15 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	dialCtx, dialCancel := context.WithTimeout(ctx, dialTimeout)
	client, err := Dial(dialCtx, s.URL)
	if err != nil {
		dialCancel()
		cancel()
		return nil, err
	}
	if err := client.Join(dialCtx, conversationID); err != nil {
		dialCancel()
		_ = client.Close()
		cancel()
		return nil, err
	}
	dialCancel()

	client.StartHeartbeat(ctx, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() { _ = client.Close() }()
		for ev := range client.Listen(ctx) {
			switch {
			case ev.Status != nil:
				onStatus(*ev.Status)
			case ev.Change != nil:
				onEvent(*ev.Change)
			case ev.Err != nil:
				// The status transition was already emitted; the error just
				// ends the loop.
				return
			}
		}
	}()

	return &wsSubscription{cancel: cancel, done: done}, nil
}
