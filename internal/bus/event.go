package bus

import "time"

// Event kinds published on the bus.
const (
	KindUnreadChanged       = "unread.changed"
	KindNotificationAdded   = "notification.added"
	KindNotificationRemoved = "notification.removed"
	KindConnectionState     = "connection.state_changed"
	KindMessageUpserted     = "message.upserted"
	KindSMSReport           = "sms.report"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Notifier receives UI invalidation events. *Bus implements it.
type Notifier interface {
	Publish(evt Event)
}

// Inbound kinds carried by the Queue.
const (
	InboundMessages = "messages"
	InboundContacts = "contacts"
	InboundAck      = "ack"
	InboundPresence = "presence"
)

// Inbound is a realm-native payload waiting to be normalized.
type Inbound struct {
	AccountID  string
	Kind       string
	Payload    any
	ReceivedAt time.Time
}
