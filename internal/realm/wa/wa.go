// Package wa is the WhatsApp realm, built on whatsmeow. Each account owns a
// device store; pairing happens outside the daemon.
package wa

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/mpp/internal/account"
	"github.com/matheus3301/mpp/internal/bus"
	"github.com/matheus3301/mpp/internal/model"
)

// RealmID identifies the WhatsApp realm.
const RealmID = "wa"

// Realm is the WhatsApp policy.
var Realm = account.StaticRealm{Name: RealmID, Internet: true, NotifyImmediately: true}

// ErrNotPaired is returned when the device store holds no credentials.
var ErrNotPaired = errors.New("wa: device not paired")

// Config is the configuration of one WhatsApp account.
type Config struct {
	// Phone is the account's number, without "+".
	Phone string `toml:"phone" yaml:"phone"`
	// DevicePath is the whatsmeow device database.
	DevicePath string `toml:"device_path" yaml:"device_path"`
}

// Deps are the shared collaborators of every WhatsApp account.
type Deps struct {
	Queue   *bus.Queue
	Bus     *bus.Bus
	Backoff account.Backoff
	// ConnectTimeout bounds the login. Zero means thirty seconds.
	ConnectTimeout time.Duration
	Logger         *zap.Logger
}

// Account is one WhatsApp identity.
type Account struct {
	*account.Base
	cfg  Config
	deps Deps
}

// NewAccount creates a WhatsApp account. The account user is the phone JID.
func NewAccount(id string, enabled bool, cfg Config, deps Deps) *Account {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.ConnectTimeout <= 0 {
		deps.ConnectTimeout = 30 * time.Second
	}
	return &Account{
		Base: &account.Base{
			AccountID:  id,
			AccRealm:   Realm,
			IsEnabled:  enabled,
			UserID:     cfg.Phone + "@s.whatsapp.net",
			Properties: model.Properties{model.PropertyPhone: cfg.Phone},
		},
		cfg:  cfg,
		deps: deps,
	}
}

// NewConnection creates a stopped, looped connection.
func (a *Account) NewConnection() account.Connection {
	s := &session{acc: a, logger: a.deps.Logger.With(zap.String("account", a.ID()))}
	return &Connection{
		SessionConnection: account.NewSessionConnection(a, s, account.ConnectionOptions{
			InternetRequired: Realm.InternetRequired(),
			Looped:           true,
			Backoff:          a.deps.Backoff,
			Bus:              a.deps.Bus,
			Logger:           a.deps.Logger,
		}),
		session: s,
	}
}

// Connection is the WhatsApp connection.
type Connection struct {
	*account.SessionConnection
	session *session
}

// SendChatMessage sends m as a text message and returns the server id.
func (c *Connection) SendChatMessage(ctx context.Context, ch model.Chat, m model.ChatMessage) (string, error) {
	to := ch.SecondUser.AccountEntityID
	if !ch.Private {
		to = ch.Entity.AccountEntityID
	}
	adapter := c.session.connectedAdapter()
	if adapter == nil {
		return "", account.ErrNotConnected
	}
	return adapter.SendText(ctx, to, m.Body)
}

type session struct {
	acc    *Account
	logger *zap.Logger

	mu        sync.Mutex
	adapter   *Adapter
	runCtx    context.Context
	cancel    context.CancelFunc
	connected chan struct{}
	done      chan struct{}
	// attempt is the done channel of the newest Connect. Unlike done it
	// survives the end of the session.
	attempt chan struct{}
	live    bool
}

func (s *session) Connect(ctx context.Context) (<-chan struct{}, error) {
	ctx, cancelLogin := context.WithTimeout(ctx, s.acc.deps.ConnectTimeout)
	defer cancelLogin()
	adapter, err := s.openAdapter(ctx)
	if err != nil {
		return nil, err
	}
	if !adapter.IsLoggedIn() {
		return nil, ErrNotPaired
	}

	runCtx, cancel := context.WithCancel(context.Background())
	connected, done := make(chan struct{}), make(chan struct{})
	s.mu.Lock()
	prevCancel := s.cancel
	if s.done != nil {
		close(s.done)
	}
	s.runCtx, s.cancel = runCtx, cancel
	s.connected, s.done, s.attempt = connected, done, done
	s.mu.Unlock()
	if prevCancel != nil {
		prevCancel()
	}

	if err := adapter.Connect(); err != nil {
		s.Disconnect(done)
		return nil, fmt.Errorf("wa connect: %w", err)
	}
	select {
	case <-connected:
	case <-done:
		s.Disconnect(done)
		return nil, errors.New("wa: connection closed during login")
	case <-ctx.Done():
		s.Disconnect(done)
		return nil, ctx.Err()
	}

	s.Inbound(bus.InboundContacts, adapter.Contacts(runCtx))
	return done, nil
}

func (s *session) openAdapter(ctx context.Context) (*Adapter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.adapter != nil {
		return s.adapter, nil
	}
	if s.acc.cfg.DevicePath == "" {
		return nil, errors.New("wa: device_path not configured")
	}
	a, err := NewAdapter(ctx, s.acc.cfg.DevicePath, s.logger)
	if err != nil {
		return nil, err
	}
	a.RegisterEventHandler(NewEventHandler(s, a, s.logger).Handle)
	s.adapter = a
	return a, nil
}

// Disconnect closes the socket opened by the attempt that returned done.
func (s *session) Disconnect(done <-chan struct{}) {
	s.mu.Lock()
	if s.attempt == nil || done != (<-chan struct{})(s.attempt) {
		s.mu.Unlock()
		return
	}
	adapter, cancel := s.adapter, s.cancel
	s.cancel, s.attempt = nil, nil
	s.live = false
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if adapter != nil {
		adapter.Disconnect()
	}
	s.Disconnected("closed")
}

func (s *session) connectedAdapter() *Adapter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live {
		return nil
	}
	return s.adapter
}

// Inbound implements Sink.
func (s *session) Inbound(kind string, payload any) {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil {
		return
	}
	in := bus.Inbound{AccountID: s.acc.ID(), Kind: kind, Payload: payload, ReceivedAt: time.Now()}
	if err := s.acc.deps.Queue.Publish(ctx, in); err != nil {
		s.logger.Error("failed to enqueue whatsapp event", zap.String("kind", kind), zap.Error(err))
	}
}

// Connected implements Sink.
func (s *session) Connected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected == nil {
		return
	}
	s.live = true
	close(s.connected)
	s.connected = nil
}

// Disconnected implements Sink.
func (s *session) Disconnected(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = false
	if s.done == nil {
		return
	}
	s.logger.Info("whatsapp session ended", zap.String("reason", reason))
	close(s.done)
	s.done = nil
}
