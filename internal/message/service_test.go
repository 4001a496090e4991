package message

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/mpp/internal/account"
	"github.com/matheus3301/mpp/internal/bus"
	"github.com/matheus3301/mpp/internal/chat"
	"github.com/matheus3301/mpp/internal/entity"
	"github.com/matheus3301/mpp/internal/model"
	"github.com/matheus3301/mpp/internal/status"
	"github.com/matheus3301/mpp/internal/store"
	"github.com/matheus3301/mpp/internal/user"
)

type testAccount struct {
	*account.Base
}

func (testAccount) NewConnection() account.Connection { return nil }

func newAccount(id string, notify bool) testAccount {
	return testAccount{&account.Base{
		AccountID: id,
		AccRealm:  account.StaticRealm{Name: "test", Internet: true, NotifyImmediately: notify},
		IsEnabled: true,
		UserID:    "me",
	}}
}

type accountSet map[string]account.Account

func (s accountSet) AccountByID(id string) (account.Account, bool) {
	acc, ok := s[id]
	return acc, ok
}

type sendingConn struct {
	acc    account.Account
	state  status.State
	realID string
	err    error
	sent   []model.ChatMessage
}

func (c *sendingConn) Start(context.Context) error { return nil }
func (c *sendingConn) Stop()                       {}
func (c *sendingConn) IsStopped() bool             { return c.state == status.Stopped }
func (c *sendingConn) InternetRequired() bool      { return true }
func (c *sendingConn) Account() account.Account    { return c.acc }
func (c *sendingConn) State() status.State         { return c.state }

func (c *sendingConn) SendChatMessage(_ context.Context, _ model.Chat, m model.ChatMessage) (string, error) {
	c.sent = append(c.sent, m)
	return c.realID, c.err
}

type connSet map[string]account.Connection

func (s connSet) Connection(id string) (account.Connection, bool) {
	c, ok := s[id]
	return c, ok
}

type fixture struct {
	chats    *chat.Service
	users    *user.Service
	bus      *bus.Bus
	accounts accountSet
	conns    connSet
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	lock := &store.PersistenceLock{}
	b := bus.New()
	return &fixture{
		chats:    chat.NewService(db, lock, b, nil),
		users:    user.NewService(db, lock, nil),
		bus:      b,
		accounts: accountSet{},
		conns:    connSet{},
	}
}

func (f *fixture) service() *Service {
	return NewService(f.accounts, f.conns, f.chats, nil)
}

func TestIDGeneratorStrictlyIncreasing(t *testing.T) {
	g := NewIDGenerator()
	clock := time.UnixMilli(5000)
	g.now = func() time.Time { return clock }

	ids := []string{g.Next("a"), g.Next("a")}
	clock = time.UnixMilli(4000)
	ids = append(ids, g.Next("a"))
	clock = time.UnixMilli(6000)
	ids = append(ids, g.Next("a"), g.Next("b"))

	want := []string{"5000-0", "5000-1", "5000-2", "6000-0", "6000-0"}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
}

func TestGenerateEntity(t *testing.T) {
	s := NewService(accountSet{}, connSet{}, nil, nil)
	acc := newAccount("sms~1", true)
	seen := map[entity.Entity]bool{}
	for range 1000 {
		e := s.GenerateEntity(acc)
		if e.Acknowledged() || e.RealmID != "sms~1" {
			t.Fatalf("entity = %v", e)
		}
		if seen[e] {
			t.Fatalf("duplicate entity %v", e)
		}
		seen[e] = true
	}
}

func TestSendPersistsWhenRealmNotifies(t *testing.T) {
	f := newFixture(t)
	acc := newAccount("xmpp~1", true)
	conn := &sendingConn{acc: acc, state: status.Connected, realID: "srv-1"}
	f.accounts[acc.ID()] = acc
	f.conns[acc.ID()] = conn

	ctx := context.Background()
	me := acc.User().Entity
	c, _ := f.chats.GetPrivateChat(ctx, me, acc.NewUserEntity("bob"))
	fwd := model.ChatMessage{Entity: acc.NewMessageEntity("old"), Author: acc.NewUserEntity("bob"), Body: "quoted", Direction: model.DirectionIn}

	msg, err := f.service().SendChatMessage(ctx, me, c, model.ChatMessage{Body: "hello", Forwarded: []model.ChatMessage{fwd}})
	if err != nil {
		t.Fatal(err)
	}
	if msg.Direction != model.DirectionOut || !msg.Read || msg.Recipient != c.SecondUser || msg.Author != me {
		t.Errorf("msg = %+v", msg)
	}
	if msg.Entity != acc.NewMessageEntity("srv-1") {
		t.Errorf("entity = %v, want realm id", msg.Entity)
	}

	stored, err := f.chats.ChatMessages(ctx, c.Entity, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 {
		t.Fatalf("stored %d messages, want 1", len(stored))
	}
	got := stored[0].Message
	if got.Direction != model.DirectionOut || !got.Read || len(got.Forwarded) != 1 {
		t.Errorf("stored = %+v", got)
	}
	if n, _ := f.service().UnreadMessagesCount(ctx); n != 0 {
		t.Errorf("unread = %d, want 0", n)
	}
}

func TestSendWithoutImmediateNotifyPersistsNothing(t *testing.T) {
	f := newFixture(t)
	acc := newAccount("vk~1", false)
	f.accounts[acc.ID()] = acc
	f.conns[acc.ID()] = &sendingConn{acc: acc, state: status.Connected}

	ctx := context.Background()
	c, _ := f.chats.GetPrivateChat(ctx, acc.User().Entity, acc.NewUserEntity("42"))
	msg, err := f.service().SendChatMessage(ctx, acc.User().Entity, c, model.ChatMessage{Body: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if msg.Entity.Acknowledged() {
		t.Errorf("fire-and-forget send got realm id %v", msg.Entity)
	}
	stored, _ := f.chats.ChatMessages(ctx, c.Entity, 0, 0)
	if len(stored) != 0 {
		t.Errorf("stored %d messages, want 0", len(stored))
	}
}

func TestSendFailureReturnsLocalMessage(t *testing.T) {
	f := newFixture(t)
	acc := newAccount("sms~1", true)
	f.accounts[acc.ID()] = acc
	ctx := context.Background()
	c := model.NewPrivateChat(acc.User().Entity, acc.NewUserEntity("+1"))

	// No connection at all.
	msg, err := f.service().SendChatMessage(ctx, acc.User().Entity, c, model.ChatMessage{Body: "x"})
	var sendErr *SendError
	if !errors.As(err, &sendErr) || !errors.Is(err, account.ErrNotConnected) {
		t.Fatalf("error = %v, want SendError(ErrNotConnected)", err)
	}
	if msg.Body != "x" || msg.Entity.Acknowledged() {
		t.Errorf("msg = %+v, want local pending copy", msg)
	}

	// Realm rejects.
	f.conns[acc.ID()] = &sendingConn{acc: acc, state: status.Connected, err: errors.New("gateway 500")}
	if _, err := f.service().SendChatMessage(ctx, acc.User().Entity, c, model.ChatMessage{Body: "y"}); !errors.As(err, &sendErr) {
		t.Fatalf("error = %v, want SendError", err)
	}
	if sendErr.Account != "sms~1" {
		t.Errorf("Account = %q", sendErr.Account)
	}
}

func TestSendUnknownAccount(t *testing.T) {
	f := newFixture(t)
	_, err := f.service().SendChatMessage(context.Background(), entity.New("nope", "me"), model.Chat{}, model.ChatMessage{})
	if !errors.Is(err, ErrUnknownAccount) {
		t.Errorf("error = %v, want ErrUnknownAccount", err)
	}
}

func TestTitle(t *testing.T) {
	acc := newAccount("xmpp~1", true)
	me := acc.User().Entity
	bob := acc.NewUserEntity("bob")
	bobUser := model.NewUser(bob, model.SyncData{}, model.Properties{model.PropertyNickname: "Bobby"})
	private := model.NewPrivateChat(me, bob)
	group := model.NewGroupChat(acc.NewUserEntity("room"))

	tests := []struct {
		name   string
		chat   model.Chat
		author entity.Entity
		user   *model.User
		want   string
	}{
		{"own in private", private, me, nil, "Me: hi"},
		{"own in group", group, me, &bobUser, "Me: hi"},
		{"other in private", private, bob, &bobUser, "hi"},
		{"other in group", group, bob, &bobUser, "Bobby: hi"},
		{"unknown in group", group, bob, nil, "bob: hi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := model.ChatMessage{Author: tt.author, Body: "hi"}
			if got := Title(acc, tt.chat, m, tt.user); got != tt.want {
				t.Errorf("Title() = %q, want %q", got, tt.want)
			}
		})
	}
}
