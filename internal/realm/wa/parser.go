package wa

import (
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waWeb"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// ParsedMessage is a WhatsApp message flattened for normalization.
type ParsedMessage struct {
	ChatJID     string
	MsgID       string
	SenderJID   string
	SenderName  string
	Body        string
	MessageType string
	FromMe      bool
	Timestamp   time.Time
}

// Contact is a WhatsApp address book entry.
type Contact struct {
	JID      string
	FullName string
	PushName string
}

// ParseLiveMessage normalizes a live whatsmeow message event.
func ParseLiveMessage(evt *events.Message) ParsedMessage {
	return ParsedMessage{
		ChatJID:     evt.Info.Chat.ToNonAD().String(),
		MsgID:       evt.Info.ID,
		SenderJID:   evt.Info.Sender.ToNonAD().String(),
		SenderName:  evt.Info.PushName,
		Body:        extractTextBody(evt.Message),
		MessageType: detectMessageType(evt.Message),
		FromMe:      evt.Info.IsFromMe,
		Timestamp:   evt.Info.Timestamp,
	}
}

// parseHistoryMessage normalizes one message of a history sync conversation.
// It returns false for entries without content.
func parseHistoryMessage(chatJID string, wmsg *waWeb.WebMessageInfo) (ParsedMessage, bool) {
	if wmsg == nil || wmsg.GetMessage() == nil {
		return ParsedMessage{}, false
	}
	info := wmsg.GetMessage()
	sender := wmsg.GetKey().GetParticipant()
	if sender == "" && !wmsg.GetKey().GetFromMe() {
		sender = chatJID
	}
	return ParsedMessage{
		ChatJID:     NormalizeJID(chatJID),
		MsgID:       wmsg.GetKey().GetID(),
		SenderJID:   NormalizeJID(sender),
		SenderName:  wmsg.GetPushName(),
		Body:        extractTextBody(info),
		MessageType: detectMessageType(info),
		FromMe:      wmsg.GetKey().GetFromMe(),
		Timestamp:   time.Unix(int64(wmsg.GetMessageTimestamp()), 0),
	}, true
}

// NormalizeJID strips device and agent suffixes. Unparseable input is
// returned unchanged.
func NormalizeJID(jid string) string {
	if jid == "" {
		return ""
	}
	j, err := types.ParseJID(jid)
	if err != nil || j.Server == "" {
		return jid
	}
	return j.ToNonAD().String()
}

func extractTextBody(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if c := msg.GetConversation(); c != "" {
		return c
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	return ""
}

func detectMessageType(msg *waE2E.Message) string {
	if msg == nil {
		return "unknown"
	}
	switch {
	case msg.GetConversation() != "" || msg.GetExtendedTextMessage() != nil:
		return "text"
	case msg.GetImageMessage() != nil:
		return "image"
	case msg.GetVideoMessage() != nil:
		return "video"
	case msg.GetAudioMessage() != nil:
		return "audio"
	case msg.GetDocumentMessage() != nil:
		return "document"
	case msg.GetStickerMessage() != nil:
		return "sticker"
	case msg.GetContactMessage() != nil:
		return "contact"
	case msg.GetLocationMessage() != nil:
		return "location"
	default:
		return "unknown"
	}
}
