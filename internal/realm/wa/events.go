package wa

import (
	"context"

	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"

	"github.com/matheus3301/mpp/internal/bus"
)

// Sink receives what the event handler extracts from whatsmeow events.
type Sink interface {
	Inbound(kind string, payload any)
	Connected()
	Disconnected(reason string)
}

// LIDResolver maps LID JIDs to phone number JIDs. *Adapter implements it.
type LIDResolver interface {
	ResolveLID(ctx context.Context, jid types.JID) types.JID
}

// EventHandler turns whatsmeow events into inbound payloads and session
// signals. Chat and sender JIDs leave it normalized and LID-resolved.
type EventHandler struct {
	sink     Sink
	resolver LIDResolver
	logger   *zap.Logger
}

// NewEventHandler creates a handler. resolver may be nil.
func NewEventHandler(sink Sink, resolver LIDResolver, logger *zap.Logger) *EventHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventHandler{sink: sink, resolver: resolver, logger: logger}
}

// Handle is the whatsmeow event handler function.
func (h *EventHandler) Handle(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		p := ParseLiveMessage(evt)
		p.ChatJID = h.resolveJID(p.ChatJID)
		p.SenderJID = h.resolveJID(p.SenderJID)
		h.sink.Inbound(bus.InboundMessages, []ParsedMessage{p})
	case *events.HistorySync:
		h.handleHistorySync(evt)
	case *events.PushName:
		h.sink.Inbound(bus.InboundContacts, []Contact{{
			JID:      h.resolveJID(evt.JID.String()),
			PushName: evt.NewPushName,
		}})
	case *events.Connected:
		h.logger.Info("WhatsApp connected")
		h.sink.Connected()
	case *events.Disconnected:
		h.logger.Warn("WhatsApp disconnected")
		h.sink.Disconnected("disconnected")
	case *events.StreamReplaced:
		h.logger.Warn("WhatsApp stream replaced by another client")
		h.sink.Disconnected("stream replaced")
	case *events.LoggedOut:
		h.logger.Warn("WhatsApp logged out", zap.String("reason", evt.Reason.String()))
		h.sink.Disconnected("logged out: " + evt.Reason.String())
	}
}

func (h *EventHandler) handleHistorySync(evt *events.HistorySync) {
	data := evt.Data
	if data == nil {
		return
	}

	var (
		msgs     []ParsedMessage
		contacts []Contact
	)
	for _, conv := range data.GetConversations() {
		chatJID := h.resolveJID(conv.GetID())
		if name := conv.GetName(); name != "" {
			contacts = append(contacts, Contact{JID: chatJID, FullName: name})
		}
		for _, hm := range conv.GetMessages() {
			p, ok := parseHistoryMessage(chatJID, hm.GetMessage())
			if !ok {
				continue
			}
			p.SenderJID = h.resolveJID(p.SenderJID)
			msgs = append(msgs, p)
		}
	}

	if len(msgs) > 0 {
		h.sink.Inbound(bus.InboundMessages, msgs)
	}
	if len(contacts) > 0 {
		h.sink.Inbound(bus.InboundContacts, contacts)
	}
}

func (h *EventHandler) resolveJID(jid string) string {
	normalized := NormalizeJID(jid)
	if h.resolver == nil || normalized == "" {
		return normalized
	}
	j, err := types.ParseJID(normalized)
	if err != nil {
		return normalized
	}
	return h.resolver.ResolveLID(context.Background(), j).String()
}
