// Package xmpp is the XMPP realm. A looped socket session per account feeds
// chat messages, roster pushes and presence into the inbound queue.
package xmpp

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	goxmpp "github.com/xmppo/go-xmpp"
	"go.uber.org/zap"

	"github.com/matheus3301/mpp/internal/account"
	"github.com/matheus3301/mpp/internal/bus"
	"github.com/matheus3301/mpp/internal/model"
)

// RealmID identifies the XMPP realm.
const RealmID = "xmpp"

// Realm is the XMPP policy.
var Realm = account.StaticRealm{Name: RealmID, Internet: true, NotifyImmediately: true}

// Client is the part of *goxmpp.Client the session uses.
type Client interface {
	Recv() (any, error)
	SendOrg(raw string) (int, error)
	Roster() error
	Close() error
}

// Dialer opens an authenticated client stream.
type Dialer func(ctx context.Context, cfg Config) (Client, error)

// Deps are the shared collaborators of every XMPP account.
type Deps struct {
	Queue   *bus.Queue
	Bus     *bus.Bus
	Backoff account.Backoff
	// Dial defaults to DialClient.
	Dial Dialer
	// ConnectTimeout bounds the dial and login. Zero means thirty seconds.
	ConnectTimeout time.Duration
	// VCardTimeout bounds a vCard request. Zero means five seconds.
	VCardTimeout time.Duration
	Logger       *zap.Logger
}

// Account is one XMPP identity.
type Account struct {
	*account.Base
	cfg   Config
	deps  Deps
	users atomic.Pointer[UserService]
}

// NewAccount creates an XMPP account. The account user is the bare JID.
func NewAccount(id string, enabled bool, cfg Config, deps Deps) *Account {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Dial == nil {
		deps.Dial = DialClient
	}
	if deps.ConnectTimeout <= 0 {
		deps.ConnectTimeout = 30 * time.Second
	}
	if deps.VCardTimeout <= 0 {
		deps.VCardTimeout = 5 * time.Second
	}
	cfg = cfg.WithDefaults()
	return &Account{
		Base: &account.Base{
			AccountID: id,
			AccRealm:  Realm,
			IsEnabled: enabled,
			UserID:    cfg.JID(),
		},
		cfg:  cfg,
		deps: deps,
	}
}

// Config returns the account configuration.
func (a *Account) Config() Config { return a.cfg }

// NewConnection creates a stopped, looped connection.
func (a *Account) NewConnection() account.Connection {
	s := &session{
		acc:    a,
		logger: a.deps.Logger.With(zap.String("account", a.ID())),
	}
	conn := &Connection{
		SessionConnection: account.NewSessionConnection(a, s, account.ConnectionOptions{
			InternetRequired: Realm.InternetRequired(),
			Looped:           true,
			Backoff:          a.deps.Backoff,
			Bus:              a.deps.Bus,
			Logger:           a.deps.Logger,
		}),
		acc:     a,
		session: s,
	}
	a.users.Store(NewUserService(conn))
	return conn
}

// Users returns the user service of the newest connection, nil before the
// first one is created.
func (a *Account) Users() *UserService { return a.users.Load() }

// Connection is the XMPP connection.
type Connection struct {
	*account.SessionConnection
	acc     *Account
	session *session
}

// SendChatMessage sends m as a chat stanza, or a groupchat stanza for group
// chats. The stanza id is returned as the realm message id.
func (c *Connection) SendChatMessage(_ context.Context, ch model.Chat, m model.ChatMessage) (string, error) {
	to, typ := ch.SecondUser.AccountEntityID, "chat"
	if !ch.Private {
		to, typ = ch.Entity.AccountEntityID, "groupchat"
	}
	id := newStanzaID()
	if err := c.session.send(messageStanza(id, to, typ, m.Body)); err != nil {
		return "", err
	}
	return id, nil
}

// DialClient connects with github.com/mattn/go-xmpp. The handshake is not
// interruptible; when ctx ends first the late client is closed.
func DialClient(ctx context.Context, cfg Config) (Client, error) {
	opts := goxmpp.Options{
		Host:     cfg.Addr(),
		User:     cfg.JID(),
		Password: cfg.Password,
		Resource: cfg.Resource,
		NoTLS:    !cfg.DirectTLS,
		StartTLS: !cfg.DirectTLS,
		Session:  true,
	}
	type result struct {
		c   *goxmpp.Client
		err error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := opts.NewClient()
		ch <- result{c, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		return r.c, nil
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.c != nil {
				_ = r.c.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// IncomingMessage is the InboundMessages payload.
type IncomingMessage struct {
	From  string
	Type  string
	Text  string
	Stamp time.Time
}

// PresenceUpdate is the InboundPresence payload.
type PresenceUpdate struct {
	JID    string
	Online bool
}

type session struct {
	acc    *Account
	logger *zap.Logger

	mu       sync.Mutex
	client   Client
	cancel   context.CancelFunc
	done     chan struct{}
	roster   map[string]goxmpp.Contact
	presence map[string]bool
	waiters  map[string]chan goxmpp.IQ
}

func (s *session) Connect(ctx context.Context) (<-chan struct{}, error) {
	ctx, cancelDial := context.WithTimeout(ctx, s.acc.deps.ConnectTimeout)
	defer cancelDial()
	c, err := s.acc.deps.Dial(ctx, s.acc.cfg)
	if err != nil {
		return nil, fmt.Errorf("xmpp dial %s: %w", s.acc.cfg.Addr(), err)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	prev, prevCancel := s.client, s.cancel
	s.client = c
	s.cancel = cancel
	s.done = done
	s.roster = make(map[string]goxmpp.Contact)
	s.presence = make(map[string]bool)
	s.waiters = make(map[string]chan goxmpp.IQ)
	s.mu.Unlock()
	closeClient(prev, prevCancel)

	go s.recv(runCtx, c, done)

	if err := c.Roster(); err != nil {
		s.Disconnect(done)
		return nil, fmt.Errorf("xmpp roster request: %w", err)
	}
	return done, nil
}

// Disconnect closes the stream opened by the attempt that returned done.
func (s *session) Disconnect(done <-chan struct{}) {
	s.mu.Lock()
	if s.done == nil || done != (<-chan struct{})(s.done) {
		s.mu.Unlock()
		return
	}
	c, cancel := s.client, s.cancel
	s.client, s.cancel, s.done = nil, nil, nil
	s.mu.Unlock()
	closeClient(c, cancel)
}

func closeClient(c Client, cancel context.CancelFunc) {
	if cancel != nil {
		cancel()
	}
	if c != nil {
		_ = c.Close()
	}
}

func (s *session) recv(ctx context.Context, c Client, done chan struct{}) {
	defer close(done)
	for {
		stanza, err := c.Recv()
		if err != nil {
			s.mu.Lock()
			active := s.client == c
			if active {
				s.client = nil
			}
			s.mu.Unlock()
			if active {
				s.logger.Warn("xmpp stream closed", zap.Error(err))
				_ = c.Close()
			}
			return
		}
		s.handle(ctx, stanza)
	}
}

func (s *session) handle(ctx context.Context, stanza any) {
	switch v := stanza.(type) {
	case goxmpp.Chat:
		if v.Type == "roster" {
			s.mu.Lock()
			for _, item := range v.Roster {
				s.roster[bareJID(item.Remote)] = item
			}
			s.mu.Unlock()
			s.publish(ctx, bus.InboundContacts, v.Roster)
			return
		}
		if v.Text == "" || v.Type == "error" {
			return
		}
		s.publish(ctx, bus.InboundMessages, IncomingMessage{From: v.Remote, Type: v.Type, Text: v.Text, Stamp: v.Stamp})
	case goxmpp.Presence:
		jid := bareJID(v.From)
		if jid == "" || jid == s.acc.cfg.JID() {
			return
		}
		online := v.Type == "" || v.Type == "available"
		s.mu.Lock()
		s.presence[jid] = online
		s.mu.Unlock()
		s.publish(ctx, bus.InboundPresence, PresenceUpdate{JID: jid, Online: online})
	case goxmpp.IQ:
		s.mu.Lock()
		w, ok := s.waiters[v.ID]
		delete(s.waiters, v.ID)
		s.mu.Unlock()
		if ok {
			w <- v
		}
	}
}

func (s *session) publish(ctx context.Context, kind string, payload any) {
	in := bus.Inbound{AccountID: s.acc.ID(), Kind: kind, Payload: payload, ReceivedAt: time.Now()}
	if err := s.acc.deps.Queue.Publish(ctx, in); err != nil {
		s.logger.Error("failed to enqueue stanza", zap.String("kind", kind), zap.Error(err))
	}
}

func (s *session) send(raw string) error {
	s.mu.Lock()
	c := s.client
	s.mu.Unlock()
	if c == nil {
		return account.ErrNotConnected
	}
	if _, err := c.SendOrg(raw); err != nil {
		return fmt.Errorf("xmpp send: %w", err)
	}
	return nil
}

// query sends an IQ and waits for the reply with the same id.
func (s *session) query(ctx context.Context, id, raw string) (goxmpp.IQ, error) {
	w := make(chan goxmpp.IQ, 1)
	s.mu.Lock()
	if s.client == nil {
		s.mu.Unlock()
		return goxmpp.IQ{}, account.ErrNotConnected
	}
	s.waiters[id] = w
	s.mu.Unlock()

	forget := func() {
		s.mu.Lock()
		delete(s.waiters, id)
		s.mu.Unlock()
	}
	if err := s.send(raw); err != nil {
		forget()
		return goxmpp.IQ{}, err
	}
	select {
	case iq := <-w:
		return iq, nil
	case <-ctx.Done():
		forget()
		return goxmpp.IQ{}, ctx.Err()
	}
}

func (s *session) connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil
}

func (s *session) rosterEntries() []goxmpp.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]goxmpp.Contact, 0, len(s.roster))
	for _, c := range s.roster {
		out = append(out, c)
	}
	return out
}

func (s *session) rosterEntry(jid string) (goxmpp.Contact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.roster[jid]
	return c, ok
}

func (s *session) isOnline(jid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presence[jid]
}

func bareJID(jid string) string {
	if i := strings.IndexByte(jid, '/'); i >= 0 {
		return jid[:i]
	}
	return jid
}

func newStanzaID() string { return uuid.NewString() }

func messageStanza(id, to, typ, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<message id='%s' to='%s' type='%s'><body>", escape(id), escape(to), typ)
	_ = xml.EscapeText(&b, []byte(body))
	b.WriteString("</body></message>")
	return b.String()
}

func escape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
