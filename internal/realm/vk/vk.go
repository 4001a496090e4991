// Package vk is the VK realm. The connection polls the HTTP API for new
// messages; sends are fire-and-forget and acknowledged by a later poll.
package vk

import (
	"cmp"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/mpp/internal/account"
	"github.com/matheus3301/mpp/internal/bus"
	"github.com/matheus3301/mpp/internal/entity"
	"github.com/matheus3301/mpp/internal/model"
)

// RealmID identifies the VK realm.
const RealmID = "vk"

// Realm is the VK policy: sent messages are stored when a poll returns them.
var Realm = account.StaticRealm{Name: RealmID, Internet: true, NotifyImmediately: false}

// maxPollFailures consecutive failed polls drop the session.
const maxPollFailures = 3

// Config is the configuration of one VK account.
type Config struct {
	Token             string        `toml:"token" yaml:"token"`
	UserID            string        `toml:"user_id" yaml:"user_id"`
	APIURL            string        `toml:"api_url" yaml:"api_url"`
	PollInterval      time.Duration `toml:"poll_interval" yaml:"poll_interval"`
	RequestsPerSecond float64       `toml:"requests_per_second" yaml:"requests_per_second"`
}

// Deps are the shared collaborators of every VK account.
type Deps struct {
	Queue   *bus.Queue
	Bus     *bus.Bus
	Backoff account.Backoff
	Logger  *zap.Logger
}

// Account is one VK identity.
type Account struct {
	*account.Base
	cfg    Config
	client *Client
	deps   Deps
}

// NewAccount creates a VK account.
func NewAccount(id string, enabled bool, cfg Config, deps Deps) *Account {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &Account{
		Base: &account.Base{
			AccountID: id,
			AccRealm:  Realm,
			IsEnabled: enabled,
			UserID:    cfg.UserID,
		},
		cfg:    cfg,
		client: NewClient(cfg.APIURL, cfg.Token, cfg.RequestsPerSecond),
		deps:   deps,
	}
}

// NewConnection creates a stopped, looped polling connection.
func (a *Account) NewConnection() account.Connection {
	s := &session{
		acc:     a,
		logger:  a.deps.Logger.With(zap.String("account", a.ID())),
		pending: make(map[int64]entity.Entity),
	}
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

// Connection is the VK connection.
type Connection struct {
	*account.SessionConnection
	session *session
}

// SendChatMessage posts m to the peer of a private chat. No realm id is
// returned: the next poll that sees the message acknowledges m.Entity.
func (c *Connection) SendChatMessage(ctx context.Context, ch model.Chat, m model.ChatMessage) (string, error) {
	peer := ch.SecondUser.AccountEntityID
	if !ch.Private {
		peer = ch.Entity.AccountEntityID
	}
	peerID, err := strconv.ParseInt(peer, 10, 64)
	if err != nil {
		return "", fmt.Errorf("vk: bad peer id %q", peer)
	}
	return "", c.session.send(ctx, peerID, m)
}

// PollResult is the InboundMessages payload: new messages in id order, the
// senders' profiles and the pending entities acknowledged by message id.
type PollResult struct {
	Messages []Message
	Users    []User
	Acked    map[int64]entity.Entity
}

type session struct {
	acc    *Account
	logger *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	lastID  int64
	pending map[int64]entity.Entity
	known   map[int64]bool
}

func (s *session) Connect(ctx context.Context) (<-chan struct{}, error) {
	self, err := s.acc.client.Users(ctx)
	if err != nil {
		return nil, err
	}
	if len(self) == 0 {
		return nil, errors.New("vk: token owner not returned")
	}
	if want := s.acc.cfg.UserID; want != "" && strconv.FormatInt(self[0].ID, 10) != want {
		return nil, fmt.Errorf("vk: token belongs to %d, not %s", self[0].ID, want)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel, s.done = cancel, done
	s.known = map[int64]bool{self[0].ID: true}
	s.mu.Unlock()

	go s.poll(runCtx, done)
	return done, nil
}

// Disconnect stops the poll loop started by the attempt that returned done.
func (s *session) Disconnect(done <-chan struct{}) {
	s.mu.Lock()
	if s.done == nil || done != (<-chan struct{})(s.done) {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	cancel()
}

func (s *session) poll(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.acc.cfg.PollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		if err := s.pollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			s.logger.Warn("poll failed", zap.Int("failures", failures), zap.Error(err))
			if failures >= maxPollFailures {
				return
			}
		} else {
			failures = 0
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *session) pollOnce(ctx context.Context) error {
	s.mu.Lock()
	lastID := s.lastID
	s.mu.Unlock()

	msgs, err := s.acc.client.Messages(ctx, lastID)
	if err != nil {
		return err
	}
	msgs = slices.DeleteFunc(msgs, func(m Message) bool { return m.ID <= lastID })
	if len(msgs) == 0 {
		return nil
	}
	slices.SortFunc(msgs, func(a, b Message) int { return cmp.Compare(a.ID, b.ID) })

	res := PollResult{Messages: msgs, Acked: make(map[int64]entity.Entity)}
	var unknown []int64
	s.mu.Lock()
	for _, m := range msgs {
		if m.Out == 1 && m.RandomID != 0 {
			if p, ok := s.pending[m.RandomID]; ok {
				res.Acked[m.ID] = p
				delete(s.pending, m.RandomID)
			}
		}
		if !s.known[m.FromID] && m.FromID > 0 {
			s.known[m.FromID] = true
			unknown = append(unknown, m.FromID)
		}
	}
	s.mu.Unlock()

	if len(unknown) > 0 {
		users, err := s.acc.client.Users(ctx, unknown...)
		if err != nil {
			s.logger.Warn("sender profiles not loaded", zap.Error(err))
		}
		res.Users = users
	}

	in := bus.Inbound{AccountID: s.acc.ID(), Kind: bus.InboundMessages, Payload: res, ReceivedAt: time.Now()}
	if err := s.acc.deps.Queue.Publish(ctx, in); err != nil {
		return err
	}
	s.mu.Lock()
	s.lastID = msgs[len(msgs)-1].ID
	s.mu.Unlock()
	return nil
}

func (s *session) send(ctx context.Context, peerID int64, m model.ChatMessage) error {
	s.mu.Lock()
	connected := s.cancel != nil
	s.mu.Unlock()
	if !connected {
		return account.ErrNotConnected
	}

	id := randomID(m.Entity)
	if !m.Entity.Acknowledged() && !m.Entity.IsZero() {
		s.mu.Lock()
		s.pending[id] = m.Entity
		s.mu.Unlock()
	}
	if err := s.acc.client.Send(ctx, peerID, id, m.Body); err != nil {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return err
	}
	return nil
}

var randomNamespace = uuid.MustParse("4e2c9f1a-7b3d-5e60-8c21-9d4f0a6b3e57")

// randomID derives the positive 31-bit random_id of a pending message.
func randomID(e entity.Entity) int64 {
	u := uuid.NewSHA1(randomNamespace, []byte(entity.Format(e)))
	return int64(binary.BigEndian.Uint32(u[:4])&0x7fffffff) | 1
}
