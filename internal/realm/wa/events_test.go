package wa

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waCommon"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waHistorySync"
	"go.mau.fi/whatsmeow/proto/waWeb"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/matheus3301/mpp/internal/account"
	"github.com/matheus3301/mpp/internal/bus"
	"github.com/matheus3301/mpp/internal/model"
)

type inbound struct {
	kind    string
	payload any
}

type recordingSink struct {
	mu           sync.Mutex
	inbound      []inbound
	connected    int
	disconnected []string
}

func (s *recordingSink) Inbound(kind string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inbound = append(s.inbound, inbound{kind, payload})
}

func (s *recordingSink) Connected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected++
}

func (s *recordingSink) Disconnected(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnected = append(s.disconnected, reason)
}

// mapResolver resolves LIDs from a fixed table.
type mapResolver map[string]string

func (m mapResolver) ResolveLID(_ context.Context, jid types.JID) types.JID {
	if pn, ok := m[jid.String()]; ok {
		j, _ := types.ParseJID(pn)
		return j
	}
	return jid
}

func historyConversation(id, name string, msgs ...*waWeb.WebMessageInfo) *events.HistorySync {
	conv := &waHistorySync.Conversation{ID: proto.String(id)}
	if name != "" {
		conv.Name = proto.String(name)
	}
	for _, m := range msgs {
		conv.Messages = append(conv.Messages, &waHistorySync.HistorySyncMsg{Message: m})
	}
	return &events.HistorySync{Data: &waHistorySync.HistorySync{Conversations: []*waHistorySync.Conversation{conv}}}
}

func webMessage(id, remote, participant, text string, ts uint64) *waWeb.WebMessageInfo {
	key := &waCommon.MessageKey{ID: proto.String(id), FromMe: proto.Bool(false), RemoteJID: proto.String(remote)}
	if participant != "" {
		key.Participant = proto.String(participant)
	}
	return &waWeb.WebMessageInfo{
		Key:              key,
		MessageTimestamp: &ts,
		Message:          &waE2E.Message{Conversation: proto.String(text)},
	}
}

func TestHandleSessionSignals(t *testing.T) {
	sink := &recordingSink{}
	h := NewEventHandler(sink, nil, nil)

	h.Handle(&events.Connected{})
	h.Handle(&events.Disconnected{})
	h.Handle(&events.StreamReplaced{})
	h.Handle(&events.LoggedOut{})

	if sink.connected != 1 {
		t.Errorf("connected = %d, want 1", sink.connected)
	}
	if len(sink.disconnected) != 3 {
		t.Errorf("disconnected = %v, want 3 signals", sink.disconnected)
	}
}

func TestHandleLiveMessageResolvesLID(t *testing.T) {
	sink := &recordingSink{}
	h := NewEventHandler(sink, mapResolver{"3917077286968@lid": "558592403672@s.whatsapp.net"}, nil)

	h.Handle(&events.Message{
		Info: types.MessageInfo{
			ID:        "m1",
			Timestamp: time.Now(),
			MessageSource: types.MessageSource{
				Chat:   types.JID{User: "3917077286968", Server: types.HiddenUserServer},
				Sender: types.JID{User: "3917077286968", Server: types.HiddenUserServer},
			},
		},
		Message: &waE2E.Message{Conversation: proto.String("hello")},
	})

	if len(sink.inbound) != 1 || sink.inbound[0].kind != bus.InboundMessages {
		t.Fatalf("inbound = %+v", sink.inbound)
	}
	p := sink.inbound[0].payload.([]ParsedMessage)[0]
	if p.ChatJID != "558592403672@s.whatsapp.net" || p.SenderJID != "558592403672@s.whatsapp.net" {
		t.Errorf("chat = %q, sender = %q, want phone JIDs", p.ChatJID, p.SenderJID)
	}
}

func TestResolveJIDWithoutResolver(t *testing.T) {
	h := NewEventHandler(&recordingSink{}, nil, nil)
	tests := []struct {
		input string
		want  string
	}{
		{"558592403672@s.whatsapp.net", "558592403672@s.whatsapp.net"},
		{"558592403672:0@s.whatsapp.net", "558592403672@s.whatsapp.net"},
		{"3917077286968@lid", "3917077286968@lid"},
	}
	for _, tt := range tests {
		if got := h.resolveJID(tt.input); got != tt.want {
			t.Errorf("resolveJID(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestResolveLIDPassthrough(t *testing.T) {
	var a *Adapter
	for _, jid := range []types.JID{
		{User: "558592403672", Server: types.DefaultUserServer},
		{User: "120363123456", Server: types.GroupServer},
		{User: "3917077286968", Server: types.HiddenUserServer},
	} {
		if got := a.ResolveLID(context.Background(), jid); got != jid {
			t.Errorf("ResolveLID(%v) = %v, want unchanged", jid, got)
		}
	}
}

func TestHandleHistorySync(t *testing.T) {
	sink := &recordingSink{}
	h := NewEventHandler(sink, nil, nil)

	h.Handle(historyConversation("558592403672:0@s.whatsapp.net", "Eric",
		webMessage("hm1", "558592403672:0@s.whatsapp.net", "558592403672:2@s.whatsapp.net", "hello", 1_700_000_000),
		&waWeb.WebMessageInfo{Key: &waCommon.MessageKey{ID: proto.String("empty")}},
	))

	if len(sink.inbound) != 2 {
		t.Fatalf("inbound = %+v, want messages then contacts", sink.inbound)
	}
	msgs := sink.inbound[0].payload.([]ParsedMessage)
	if len(msgs) != 1 {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[0].ChatJID != "558592403672@s.whatsapp.net" || msgs[0].SenderJID != "558592403672@s.whatsapp.net" {
		t.Errorf("chat = %q, sender = %q, want device suffix stripped", msgs[0].ChatJID, msgs[0].SenderJID)
	}
	if !msgs[0].Timestamp.Equal(time.Unix(1_700_000_000, 0)) {
		t.Errorf("timestamp = %v", msgs[0].Timestamp)
	}
	contacts := sink.inbound[1].payload.([]Contact)
	if len(contacts) != 1 || contacts[0].FullName != "Eric" {
		t.Errorf("contacts = %+v", contacts)
	}
}

func TestHandleHistorySyncNilData(t *testing.T) {
	sink := &recordingSink{}
	NewEventHandler(sink, nil, nil).Handle(&events.HistorySync{Data: nil})
	if len(sink.inbound) != 0 {
		t.Errorf("unexpected payloads: %+v", sink.inbound)
	}
}

func TestPushNameContactJIDNormalized(t *testing.T) {
	sink := &recordingSink{}
	NewEventHandler(sink, nil, nil).Handle(&events.PushName{
		JID:         types.JID{User: "558592403672", Server: "s.whatsapp.net", Device: 5},
		NewPushName: "Eric",
	})
	if len(sink.inbound) != 1 {
		t.Fatalf("inbound = %+v", sink.inbound)
	}
	c := sink.inbound[0].payload.([]Contact)[0]
	if c.JID != "558592403672@s.whatsapp.net" || c.PushName != "Eric" {
		t.Errorf("contact = %+v", c)
	}
}

func TestNormalizer(t *testing.T) {
	acc := NewAccount("wa~1", true, Config{Phone: "5511"}, Deps{})
	ts := time.Unix(1_700_000_000, 0)
	payload := []ParsedMessage{
		{ChatJID: "100@s.whatsapp.net", MsgID: "a", SenderJID: "100@s.whatsapp.net", SenderName: "Ann", Body: "hi", MessageType: "text", Timestamp: ts},
		{ChatJID: "g1@g.us", MsgID: "b", SenderJID: "200@s.whatsapp.net", MessageType: "image", Timestamp: ts},
		{ChatJID: "100@s.whatsapp.net", MsgID: "c", Body: "yo", MessageType: "text", FromMe: true, Timestamp: ts},
		{ChatJID: "100@s.whatsapp.net", Body: "no id"},
	}

	batches, err := NewNormalizer().Normalize(context.Background(), acc, bus.Inbound{Payload: payload})
	if err == nil {
		t.Error("message without id not reported")
	}
	if len(batches) != 2 {
		t.Fatalf("batches = %d, want 2", len(batches))
	}
	private, group := batches[0], batches[1]
	if len(private.Messages) != 2 || private.Messages[1].Direction != model.DirectionOut || !private.Messages[1].Read {
		t.Errorf("private = %+v", private.Messages)
	}
	if private.Messages[1].Recipient != acc.NewUserEntity("100@s.whatsapp.net") {
		t.Errorf("outgoing recipient = %v", private.Messages[1].Recipient)
	}
	if len(private.Contacts) != 1 {
		t.Fatalf("contacts = %+v", private.Contacts)
	}
	if nick, _ := private.Contacts[0].Property(model.PropertyNickname); nick != "Ann" {
		t.Errorf("nickname = %q", nick)
	}
	if phone, _ := private.Contacts[0].Property(model.PropertyPhone); phone != "100" {
		t.Errorf("phone = %q", phone)
	}
	if group.Chat.Private || group.Messages[0].Body != "[image]" || group.Messages[0].HasRecipient() {
		t.Errorf("group = %+v", group)
	}

	contacts, err := NewNormalizer().Normalize(context.Background(), acc, bus.Inbound{Payload: []Contact{
		{JID: "300@s.whatsapp.net", FullName: "Carl Jung"},
		{JID: "5511@s.whatsapp.net", FullName: "Myself"},
	}})
	if err != nil || len(contacts) != 1 || len(contacts[0].Contacts) != 1 {
		t.Fatalf("contacts = %+v, %v", contacts, err)
	}
	if name := contacts[0].Contacts[0].DisplayName(); name != "Carl Jung" {
		t.Errorf("display name = %q", name)
	}
}

func TestConnectRequiresPairedDevice(t *testing.T) {
	acc := NewAccount("wa~1", true, Config{Phone: "5511", DevicePath: filepath.Join(t.TempDir(), "device.db")}, Deps{Queue: bus.NewQueue(1)})
	conn := acc.NewConnection()

	err := conn.Start(context.Background())
	var connErr *account.ConnectionError
	if !errors.As(err, &connErr) || !errors.Is(err, ErrNotPaired) {
		t.Fatalf("error = %v, want ConnectionError(ErrNotPaired)", err)
	}
	if !conn.IsStopped() {
		t.Error("connection should be stopped")
	}

	c := conn.(*Connection)
	chat := model.NewPrivateChat(acc.User().Entity, acc.NewUserEntity("100@s.whatsapp.net"))
	if _, err := c.SendChatMessage(context.Background(), chat, model.ChatMessage{Body: "x"}); !errors.Is(err, account.ErrNotConnected) {
		t.Errorf("send error = %v, want ErrNotConnected", err)
	}
}
