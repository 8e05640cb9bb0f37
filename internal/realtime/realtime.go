// Package realtime keeps a conversation's messages, receipts, and reactions
// synchronized across consumers.
//
// The Registry multiplexes one change subscription per conversation across any
// number of listeners, and FallbackState converts raw transport status into a
// poll-now signal for the periods when push delivery cannot be trusted.
package realtime

import (
	"encoding/json"
	"io"
)

// Status is a raw transport status as reported by the subscription client.
// The set is open-ended: servers ship new values, so consumers must treat
// anything other than StatusSubscribed as unhealthy.
type Status string

const (
	StatusSubscribed   Status = "SUBSCRIBED"
	StatusChannelError Status = "CHANNEL_ERROR"
	StatusTimedOut     Status = "TIMED_OUT"
	StatusClosed       Status = "CLOSED"
	StatusUnsubscribed Status = "UNSUBSCRIBED"
)

// Change types on the underlying row streams.
const (
	ChangeInsert = "INSERT"
	ChangeUpdate = "UPDATE"
	ChangeDelete = "DELETE"
)

// Tables carrying conversation state.
const (
	TableMessages         = "messages"
	TableReadReceipts     = "message_read_receipts"
	TableDeliveryReceipts = "message_delivery_receipts"
	TableReactions        = "message_reactions"
)

// ChangeEvent is one row-level change delivered on a conversation's
// subscription. New and Old carry the raw row payloads; Old is only populated
// for updates and deletes.
type ChangeEvent struct {
	Table           string
	Type            string // INSERT, UPDATE, DELETE
	New             json.RawMessage
	Old             json.RawMessage
	CommitTimestamp string
}

// EventKind is the closed set of listener categories the registry fans out to.
type EventKind int

const (
	KindMessageInsert EventKind = iota
	KindMessageUpdate
	KindReadReceiptUpsert
	KindDeliveryReceiptUpsert
	KindReactionUpsert
	KindReactionDelete
	numEventKinds
)

// classify maps a raw change to its listener category. Receipt inserts and
// updates collapse into one upsert category each, matching how consumers
// treat them. Unknown table/type combinations are dropped.
func classify(table, changeType string) (EventKind, bool) {
	switch table {
	case TableMessages:
		switch changeType {
		case ChangeInsert:
			return KindMessageInsert, true
		case ChangeUpdate:
			return KindMessageUpdate, true
		}
	case TableReadReceipts:
		if changeType == ChangeInsert || changeType == ChangeUpdate {
			return KindReadReceiptUpsert, true
		}
	case TableDeliveryReceipts:
		if changeType == ChangeInsert || changeType == ChangeUpdate {
			return KindDeliveryReceiptUpsert, true
		}
	case TableReactions:
		switch changeType {
		case ChangeInsert, ChangeUpdate:
			return KindReactionUpsert, true
		case ChangeDelete:
			return KindReactionDelete, true
		}
	}
	return 0, false
}

// Handlers is a caller's (partial) set of callbacks for one registration.
// Any field may be nil.
type Handlers struct {
	OnStatus func(Status)

	OnMessageInsert func(ChangeEvent)
	OnMessageUpdate func(ChangeEvent)

	OnReadReceiptUpsert     func(ChangeEvent)
	OnDeliveryReceiptUpsert func(ChangeEvent)

	OnReactionUpsert func(ChangeEvent)
	OnReactionDelete func(ChangeEvent)
}

func (h Handlers) byKind(kind EventKind) func(ChangeEvent) {
	switch kind {
	case KindMessageInsert:
		return h.OnMessageInsert
	case KindMessageUpdate:
		return h.OnMessageUpdate
	case KindReadReceiptUpsert:
		return h.OnReadReceiptUpsert
	case KindDeliveryReceiptUpsert:
		return h.OnDeliveryReceiptUpsert
	case KindReactionUpsert:
		return h.OnReactionUpsert
	case KindReactionDelete:
		return h.OnReactionDelete
	}
	return nil
}

// Subscriber opens the single underlying change subscription for a
// conversation. Events and statuses flow through the callbacks until the
// returned closer is closed. Implementations must be safe to call from
// multiple goroutines.
type Subscriber interface {
	Subscribe(conversationID string, onEvent func(ChangeEvent), onStatus func(Status)) (io.Closer, error)
}
