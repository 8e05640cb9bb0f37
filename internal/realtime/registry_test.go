package realtime_test

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/movinesta/movinesta-cli/internal/realtime"
)

// fakeSubscriber records opens and closes and lets tests push events by hand.
type fakeSubscriber struct {
	mu           sync.Mutex
	opens        int
	closes       int
	openErr      error
	nextCloseErr error

	onEvent  func(realtime.ChangeEvent)
	onStatus func(realtime.Status)
}

type fakeCloser struct {
	sub      *fakeSubscriber
	closeErr error
}

func (c *fakeCloser) Close() error {
	c.sub.mu.Lock()
	defer c.sub.mu.Unlock()
	c.sub.closes++
	return c.closeErr
}

func (s *fakeSubscriber) Subscribe(_ string, onEvent func(realtime.ChangeEvent), onStatus func(realtime.Status)) (io.Closer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	if s.openErr != nil {
		return nil, s.openErr
	}
	s.onEvent = onEvent
	s.onStatus = onStatus
	return &fakeCloser{sub: s, closeErr: s.nextCloseErr}, nil
}

func (s *fakeSubscriber) push(ev realtime.ChangeEvent) {
	s.mu.Lock()
	cb := s.onEvent
	s.mu.Unlock()
	cb(ev)
}

func (s *fakeSubscriber) pushStatus(status realtime.Status) {
	s.mu.Lock()
	cb := s.onStatus
	s.mu.Unlock()
	cb(status)
}

func (s *fakeSubscriber) counts() (opens, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens, s.closes
}

func TestRegistry_SingleSubscriptionForManyListeners(t *testing.T) {
	sub := &fakeSubscriber{}
	reg := realtime.NewRegistry(sub)

	var unregs []func()
	for i := 0; i < 3; i++ {
		unregs = append(unregs, reg.Register("conv-1", realtime.Handlers{
			OnMessageInsert: func(realtime.ChangeEvent) {},
		}))
	}

	if opens, _ := sub.counts(); opens != 1 {
		t.Fatalf("expected exactly one open, got %d", opens)
	}

	for _, u := range unregs {
		u()
	}
	if opens, closes := sub.counts(); opens != 1 || closes != 1 {
		t.Fatalf("expected 1 open / 1 close, got %d / %d", opens, closes)
	}
	if reg.ActiveConversations() != 0 {
		t.Fatal("entry must be removed at refcount zero")
	}

	// Registering again opens exactly one new subscription.
	u := reg.Register("conv-1", realtime.Handlers{})
	defer u()
	if opens, _ := sub.counts(); opens != 2 {
		t.Fatalf("expected a fresh open after teardown, got %d", opens)
	}
}

func TestRegistry_DistinctConversationsGetDistinctSubscriptions(t *testing.T) {
	sub := &fakeSubscriber{}
	reg := realtime.NewRegistry(sub)

	u1 := reg.Register("conv-1", realtime.Handlers{})
	u2 := reg.Register("conv-2", realtime.Handlers{})
	defer u1()
	defer u2()

	if opens, _ := sub.counts(); opens != 2 {
		t.Fatalf("expected one open per conversation, got %d", opens)
	}
}

func TestRegistry_FanOutReachesOnlyMatchingCategory(t *testing.T) {
	sub := &fakeSubscriber{}
	reg := realtime.NewRegistry(sub)

	var inserts, updates, reactions int
	u1 := reg.Register("conv-1", realtime.Handlers{
		OnMessageInsert: func(realtime.ChangeEvent) { inserts++ },
		OnMessageUpdate: func(realtime.ChangeEvent) { updates++ },
	})
	u2 := reg.Register("conv-1", realtime.Handlers{
		OnMessageInsert:  func(realtime.ChangeEvent) { inserts++ },
		OnReactionUpsert: func(realtime.ChangeEvent) { reactions++ },
	})
	defer u1()
	defer u2()

	sub.push(realtime.ChangeEvent{
		Table: realtime.TableMessages,
		Type:  realtime.ChangeInsert,
		New:   json.RawMessage(`{"id":"m1"}`),
	})

	if inserts != 2 {
		t.Fatalf("expected both insert listeners, got %d", inserts)
	}
	if updates != 0 || reactions != 0 {
		t.Fatalf("event leaked outside its category: updates=%d reactions=%d", updates, reactions)
	}
}

func TestRegistry_ReceiptInsertAndUpdateBothUpsert(t *testing.T) {
	sub := &fakeSubscriber{}
	reg := realtime.NewRegistry(sub)

	var readUpserts, deliveryUpserts int
	u := reg.Register("conv-1", realtime.Handlers{
		OnReadReceiptUpsert:     func(realtime.ChangeEvent) { readUpserts++ },
		OnDeliveryReceiptUpsert: func(realtime.ChangeEvent) { deliveryUpserts++ },
	})
	defer u()

	sub.push(realtime.ChangeEvent{Table: realtime.TableReadReceipts, Type: realtime.ChangeInsert})
	sub.push(realtime.ChangeEvent{Table: realtime.TableReadReceipts, Type: realtime.ChangeUpdate})
	sub.push(realtime.ChangeEvent{Table: realtime.TableDeliveryReceipts, Type: realtime.ChangeUpdate})

	if readUpserts != 2 || deliveryUpserts != 1 {
		t.Fatalf("unexpected counts: read=%d delivery=%d", readUpserts, deliveryUpserts)
	}
}

func TestRegistry_ReactionDeleteIsSeparate(t *testing.T) {
	sub := &fakeSubscriber{}
	reg := realtime.NewRegistry(sub)

	var upserts, deletes int
	u := reg.Register("conv-1", realtime.Handlers{
		OnReactionUpsert: func(realtime.ChangeEvent) { upserts++ },
		OnReactionDelete: func(realtime.ChangeEvent) { deletes++ },
	})
	defer u()

	sub.push(realtime.ChangeEvent{Table: realtime.TableReactions, Type: realtime.ChangeInsert})
	sub.push(realtime.ChangeEvent{Table: realtime.TableReactions, Type: realtime.ChangeDelete})

	if upserts != 1 || deletes != 1 {
		t.Fatalf("unexpected counts: upserts=%d deletes=%d", upserts, deletes)
	}
}

func TestRegistry_LateSubscriberGetsStatusReplay(t *testing.T) {
	sub := &fakeSubscriber{}
	reg := realtime.NewRegistry(sub)

	u1 := reg.Register("conv-1", realtime.Handlers{})
	defer u1()
	sub.pushStatus(realtime.StatusSubscribed)

	var replayed []realtime.Status
	u2 := reg.Register("conv-1", realtime.Handlers{
		OnStatus: func(s realtime.Status) { replayed = append(replayed, s) },
	})
	defer u2()

	// The replay happens synchronously inside Register.
	if len(replayed) != 1 || replayed[0] != realtime.StatusSubscribed {
		t.Fatalf("expected synchronous replay of SUBSCRIBED, got %v", replayed)
	}
}

func TestRegistry_NoReplayWithoutKnownStatus(t *testing.T) {
	sub := &fakeSubscriber{}
	reg := realtime.NewRegistry(sub)

	var got []realtime.Status
	u := reg.Register("conv-1", realtime.Handlers{
		OnStatus: func(s realtime.Status) { got = append(got, s) },
	})
	defer u()

	if len(got) != 0 {
		t.Fatalf("no status known yet, got %v", got)
	}
}

func TestRegistry_OpenFailureSurfacesChannelError(t *testing.T) {
	sub := &fakeSubscriber{openErr: errors.New("connect refused")}
	reg := realtime.NewRegistry(sub)

	var got []realtime.Status
	u := reg.Register("conv-1", realtime.Handlers{
		OnStatus: func(s realtime.Status) { got = append(got, s) },
	})
	defer u()

	if len(got) != 1 || got[0] != realtime.StatusChannelError {
		t.Fatalf("expected CHANNEL_ERROR on open failure, got %v", got)
	}
}

func TestRegistry_UnregisterIsIdempotent(t *testing.T) {
	sub := &fakeSubscriber{}
	reg := realtime.NewRegistry(sub)

	u1 := reg.Register("conv-1", realtime.Handlers{})
	u2 := reg.Register("conv-1", realtime.Handlers{})

	u1()
	u1() // must not decrement twice
	if reg.ActiveConversations() != 1 {
		t.Fatal("double unregister tore down a live entry")
	}

	u2()
	if _, closes := sub.counts(); closes != 1 {
		t.Fatalf("expected one close, got %d", closes)
	}
}

func TestRegistry_CloseFailureIsSwallowed(t *testing.T) {
	sub := &fakeSubscriber{nextCloseErr: errors.New("close failed")}
	reg := realtime.NewRegistry(sub)

	u := reg.Register("conv-1", realtime.Handlers{})

	// Must not panic even though Close errors; the entry is discarded anyway.
	u()
	if reg.ActiveConversations() != 0 {
		t.Fatal("entry must be removed despite the close failure")
	}
}

func TestRegistry_UnregisteredListenerStopsReceiving(t *testing.T) {
	sub := &fakeSubscriber{}
	reg := realtime.NewRegistry(sub)

	var a, b int
	ua := reg.Register("conv-1", realtime.Handlers{
		OnMessageInsert: func(realtime.ChangeEvent) { a++ },
	})
	ub := reg.Register("conv-1", realtime.Handlers{
		OnMessageInsert: func(realtime.ChangeEvent) { b++ },
	})
	defer ub()

	sub.push(realtime.ChangeEvent{Table: realtime.TableMessages, Type: realtime.ChangeInsert})
	ua()
	sub.push(realtime.ChangeEvent{Table: realtime.TableMessages, Type: realtime.ChangeInsert})

	if a != 1 {
		t.Fatalf("unregistered listener kept receiving: %d", a)
	}
	if b != 2 {
		t.Fatalf("remaining listener missed events: %d", b)
	}
}

func TestRegistry_UnknownChangeIsDropped(t *testing.T) {
	sub := &fakeSubscriber{}
	reg := realtime.NewRegistry(sub)

	var calls int
	u := reg.Register("conv-1", realtime.Handlers{
		OnMessageInsert: func(realtime.ChangeEvent) { calls++ },
	})
	defer u()

	sub.push(realtime.ChangeEvent{Table: "unexpected_table", Type: realtime.ChangeInsert})
	sub.push(realtime.ChangeEvent{Table: realtime.TableMessages, Type: realtime.ChangeDelete})

	if calls != 0 {
		t.Fatalf("unclassifiable events must be dropped, got %d calls", calls)
	}
}
