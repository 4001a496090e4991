package vk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/mpp/internal/account"
	"github.com/matheus3301/mpp/internal/bus"
	"github.com/matheus3301/mpp/internal/entity"
	"github.com/matheus3301/mpp/internal/message"
	"github.com/matheus3301/mpp/internal/model"
)

// fakeAPI serves users.get, messages.get and messages.send. Sent messages
// show up in the next messages.get as outgoing messages.
type fakeAPI struct {
	mu       sync.Mutex
	self     int64
	nextID   int64
	messages []Message
	failGet  bool
	sends    int
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	reply := func(w http.ResponseWriter, v any) {
		_ = json.NewEncoder(w).Encode(map[string]any{"response": v})
	}
	mux.HandleFunc("/users.get", func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("access_token") != "token" {
			_ = json.NewEncoder(w).Encode(map[string]any{"error": APIError{Code: 5, Message: "User authorization failed"}})
			return
		}
		if ids := r.FormValue("user_ids"); ids != "" {
			id, _ := strconv.ParseInt(ids, 10, 64)
			reply(w, []User{{ID: id, FirstName: "Bob", LastName: "Stone", Online: 1}})
			return
		}
		reply(w, []User{{ID: f.self, FirstName: "Me"}})
	})
	mux.HandleFunc("/messages.get", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failGet {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		last, _ := strconv.ParseInt(r.FormValue("last_message_id"), 10, 64)
		var items []Message
		for _, m := range f.messages {
			if m.ID > last {
				items = append(items, m)
			}
		}
		reply(w, map[string]any{"count": len(items), "items": items})
	})
	mux.HandleFunc("/messages.send", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		peer, _ := strconv.ParseInt(r.FormValue("peer_id"), 10, 64)
		random, _ := strconv.ParseInt(r.FormValue("random_id"), 10, 64)
		f.sends++
		f.nextID++
		f.messages = append(f.messages, Message{
			ID: f.nextID, Date: 1_700_000_000, PeerID: peer, FromID: f.self, Out: 1,
			Text: r.FormValue("message"), RandomID: random,
		})
		reply(w, f.nextID)
	})
	return mux
}

func (f *fakeAPI) receive(from int64, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.messages = append(f.messages, Message{ID: f.nextID, Date: 1_700_000_000, PeerID: from, FromID: from, Text: text})
}

func newTestAccount(t *testing.T, api *fakeAPI, q *bus.Queue) *Account {
	t.Helper()
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)
	return NewAccount("vk~1", true, Config{
		Token:             "token",
		UserID:            strconv.FormatInt(api.self, 10),
		APIURL:            srv.URL,
		PollInterval:      10 * time.Millisecond,
		RequestsPerSecond: 1000,
	}, Deps{Queue: q, Backoff: account.Backoff{Initial: 10 * time.Millisecond, Max: 20 * time.Millisecond}})
}

func nextPoll(t *testing.T, q *bus.Queue) PollResult {
	t.Helper()
	select {
	case in := <-q.Events():
		return in.Payload.(PollResult)
	case <-time.After(2 * time.Second):
		t.Fatal("no poll result")
		return PollResult{}
	}
}

func TestClientAPIError(t *testing.T) {
	api := &fakeAPI{self: 1}
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()

	_, err := NewClient(srv.URL, "wrong", 100).Users(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != 5 {
		t.Fatalf("error = %v, want APIError 5", err)
	}
}

func TestConnectRejectsForeignToken(t *testing.T) {
	api := &fakeAPI{self: 1}
	acc := newTestAccount(t, api, bus.NewQueue(1))
	acc.cfg.UserID = "2"
	conn := acc.NewConnection()

	var connErr *account.ConnectionError
	if err := conn.Start(context.Background()); !errors.As(err, &connErr) {
		t.Fatalf("error = %v, want ConnectionError", err)
	}
	if !conn.IsStopped() {
		t.Error("connection should be stopped")
	}
}

func TestPollDeliversAndAcknowledges(t *testing.T) {
	api := &fakeAPI{self: 1}
	q := bus.NewQueue(16)
	acc := newTestAccount(t, api, q)
	conn := acc.NewConnection().(*Connection)
	ctx := context.Background()

	chat := model.NewPrivateChat(acc.User().Entity, acc.NewUserEntity("7"))
	if _, err := conn.SendChatMessage(ctx, chat, model.ChatMessage{Body: "x"}); !errors.Is(err, account.ErrNotConnected) {
		t.Fatalf("send while stopped error = %v", err)
	}

	api.receive(7, "hello")
	if err := conn.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer conn.Stop()

	first := nextPoll(t, q)
	if len(first.Messages) != 1 || first.Messages[0].Text != "hello" {
		t.Fatalf("first poll = %+v", first)
	}
	if len(first.Users) != 1 || first.Users[0].ID != 7 {
		t.Errorf("sender profile = %+v", first.Users)
	}

	pending := entity.Pending(acc.ID(), "1000-0")
	realmID, err := conn.SendChatMessage(ctx, chat, model.ChatMessage{Entity: pending, Body: "reply"})
	if err != nil || realmID != "" {
		t.Fatalf("send = %q, %v", realmID, err)
	}

	second := nextPoll(t, q)
	if len(second.Messages) != 1 || second.Messages[0].Out != 1 {
		t.Fatalf("second poll = %+v", second)
	}
	if got := second.Acked[second.Messages[0].ID]; got != pending {
		t.Errorf("acked = %v, want %v", got, pending)
	}
	if len(second.Users) != 0 {
		t.Error("known senders looked up again")
	}
}

func TestPollFailuresDropAndReconnect(t *testing.T) {
	api := &fakeAPI{self: 1, failGet: true}
	q := bus.NewQueue(16)
	acc := newTestAccount(t, api, q)
	conn := acc.NewConnection()
	if err := conn.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer conn.Stop()

	// Let the first session give up, then heal the API.
	time.Sleep(100 * time.Millisecond)
	api.mu.Lock()
	api.failGet = false
	api.mu.Unlock()
	api.receive(7, "after outage")

	if res := nextPoll(t, q); res.Messages[0].Text != "after outage" {
		t.Errorf("poll = %+v", res)
	}
}

func TestNormalizer(t *testing.T) {
	acc := NewAccount("vk~1", true, Config{UserID: "1"}, Deps{})
	pending := entity.Pending("vk~1", "5-0")
	res := PollResult{
		Messages: []Message{
			{ID: 10, Date: 100, PeerID: 7, FromID: 7, Text: "a"},
			{ID: 11, Date: 101, PeerID: 2_000_000_001, FromID: 8, Text: "group"},
			{ID: 12, Date: 102, PeerID: 7, FromID: 1, Out: 1, Text: "b", RandomID: 99},
		},
		Users: []User{{ID: 7, FirstName: "Bob", LastName: "Stone", Online: 1}},
		Acked: map[int64]entity.Entity{12: pending},
	}

	batches, err := NewNormalizer().Normalize(context.Background(), acc, bus.Inbound{Payload: res})
	if err != nil {
		t.Fatal(err)
	}
	if len(batches) != 2 {
		t.Fatalf("batches = %d, want 2", len(batches))
	}
	private, group := batches[0], batches[1]
	if !private.Chat.Private || group.Chat.Private {
		t.Errorf("chats = %+v / %+v", private.Chat, group.Chat)
	}
	if len(private.Messages) != 2 || private.Messages[0].Body != "a" || private.Messages[1].Body != "b" {
		t.Fatalf("private messages = %+v", private.Messages)
	}
	out := private.Messages[1]
	if out.Direction != model.DirectionOut || !out.Read || out.Author != acc.User().Entity || out.Recipient != acc.NewUserEntity("7") {
		t.Errorf("outgoing = %+v", out)
	}
	if len(private.Acks) != 1 || private.Acks[0] != (message.Ack{Pending: pending, Acked: acc.NewMessageEntity("12")}) {
		t.Errorf("acks = %+v", private.Acks)
	}
	if len(private.Contacts) != 1 || private.Contacts[0].DisplayName() != "Bob Stone" || !private.Contacts[0].Online {
		t.Errorf("contacts = %+v", private.Contacts)
	}
	if !private.Messages[0].SendDate.Equal(time.Unix(100, 0)) {
		t.Errorf("send date = %v", private.Messages[0].SendDate)
	}

	if _, err := NewNormalizer().Normalize(context.Background(), acc, bus.Inbound{Payload: "x"}); err == nil {
		t.Error("unexpected payload accepted")
	}
}

func TestRandomIDStable(t *testing.T) {
	e := entity.Pending("vk~1", "1-0")
	if randomID(e) != randomID(e) || randomID(e) <= 0 {
		t.Errorf("randomID = %d", randomID(e))
	}
	if randomID(e) == randomID(entity.Pending("vk~1", "1-1")) {
		t.Error("distinct entities share a random id")
	}
}
