// Package sms is the SMS realm: receivers on the broadcast channel feed the
// inbound queue, outbound messages go through an HTTP gateway.
package sms

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/mpp/internal/account"
	"github.com/matheus3301/mpp/internal/bus"
	"github.com/matheus3301/mpp/internal/entity"
	"github.com/matheus3301/mpp/internal/model"
)

// RealmID identifies the SMS realm.
const RealmID = "sms"

// Realm is the SMS policy: works offline, stores sent messages immediately.
var Realm = account.StaticRealm{Name: RealmID, Internet: false, NotifyImmediately: true}

// Users is the contact access the realm needs. *user.Service implements it.
type Users interface {
	UserByID(ctx context.Context, e entity.Entity) (*model.User, error)
	ContactsOf(ctx context.Context, owner entity.Entity) ([]model.User, error)
	MergeContacts(ctx context.Context, owner model.User, contacts []model.User) error
}

// Deps are the shared collaborators of every SMS account.
type Deps struct {
	Channel *Channel
	Queue   *bus.Queue
	Bus     *bus.Bus
	Users   Users
	Gateway Gateway
	Backoff account.Backoff
	Logger  *zap.Logger
}

// Account is one SMS identity.
type Account struct {
	*account.Base
	deps Deps
}

// NewAccount creates an SMS account. ownNumber is the account user's id.
func NewAccount(id string, enabled bool, ownNumber string, deps Deps) *Account {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if ownNumber == "" {
		ownNumber = "me"
	}
	return &Account{
		Base: &account.Base{
			AccountID:  id,
			AccRealm:   Realm,
			IsEnabled:  enabled,
			UserID:     ownNumber,
			Properties: model.Properties{model.PropertyPhone: ownNumber},
		},
		deps: deps,
	}
}

// NewConnection creates a stopped receiver connection.
func (a *Account) NewConnection() account.Connection {
	s := &session{acc: a, deps: a.deps, logger: a.deps.Logger.With(zap.String("account", a.ID()))}
	return &Connection{
		SessionConnection: account.NewSessionConnection(a, s, account.ConnectionOptions{
			InternetRequired: Realm.InternetRequired(),
			Looped:           true,
			Backoff:          a.deps.Backoff,
			Bus:              a.deps.Bus,
			Logger:           a.deps.Logger,
		}),
		acc: a,
	}
}

// Connection is the SMS connection. It sends through the gateway.
type Connection struct {
	*account.SessionConnection
	acc *Account
}

// SendChatMessage sends m to the second user of a private chat.
func (c *Connection) SendChatMessage(ctx context.Context, ch model.Chat, m model.ChatMessage) (string, error) {
	if !ch.Private {
		return "", fmt.Errorf("sms: group chats are not supported")
	}
	if c.acc.deps.Gateway == nil {
		return "", ErrGatewayNotConfigured
	}
	phone, err := c.acc.phoneOf(ctx, ch.SecondUser)
	if err != nil {
		return "", err
	}
	return c.acc.deps.Gateway.Send(ctx, phone, m.Body)
}

func (a *Account) phoneOf(ctx context.Context, e entity.Entity) (string, error) {
	if a.deps.Users != nil {
		u, err := a.deps.Users.UserByID(ctx, e)
		if err != nil {
			return "", err
		}
		if u != nil {
			if phones := u.Phones(); len(phones) > 0 {
				return phones[0], nil
			}
			if p, ok := u.Property(model.PropertyPhone); ok && p != "" {
				return p, nil
			}
		}
	}
	return e.AccountEntityID, nil
}

// Report is the payload of bus.KindSMSReport.
type Report struct {
	Account string
	Signal  Signal
	Payload []byte
}

// session registers the account's receivers on the channel. It never drops
// on its own.
type session struct {
	acc    *Account
	deps   Deps
	logger *zap.Logger

	mu         sync.Mutex
	unregister []func()
	done       chan struct{}
}

// Connect registers a fresh set of receivers, replacing any earlier set.
func (s *session) Connect(context.Context) (<-chan struct{}, error) {
	ch := s.deps.Channel
	if ch == nil {
		return nil, fmt.Errorf("sms: no broadcast channel")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardown()
	s.unregister = []func(){
		ch.Register(SignalSent, PriorityDefault, s.onReport(SignalSent)),
		ch.Register(SignalDelivered, PriorityDefault, s.onReport(SignalDelivered)),
		ch.Register(SignalReceived, PrioritySystemHigh, s.onReceived),
	}
	s.done = make(chan struct{})
	return s.done, nil
}

// Disconnect unregisters the receivers of the registration that returned done.
func (s *session) Disconnect(done <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil || done != (<-chan struct{})(s.done) {
		return
	}
	s.teardown()
}

func (s *session) teardown() {
	for _, u := range s.unregister {
		u()
	}
	s.unregister = nil
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
}

func (s *session) onReceived(ctx context.Context, payload []byte) {
	in := bus.Inbound{
		AccountID:  s.acc.ID(),
		Kind:       bus.InboundMessages,
		Payload:    payload,
		ReceivedAt: time.Now(),
	}
	if err := s.deps.Queue.Publish(ctx, in); err != nil {
		s.logger.Error("failed to enqueue received sms", zap.Error(err))
	}
}

func (s *session) onReport(sig Signal) Receiver {
	return func(_ context.Context, payload []byte) {
		if s.deps.Bus == nil {
			return
		}
		s.deps.Bus.Publish(bus.Event{
			Kind:      bus.KindSMSReport,
			Timestamp: time.Now(),
			Payload:   Report{Account: s.acc.ID(), Signal: sig, Payload: payload},
		})
	}
}
