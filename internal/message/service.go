// Package message is the chat message dispatcher: it generates local ids,
// routes sends to realm connections and ingests inbound payloads.
package message

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/mpp/internal/account"
	"github.com/matheus3301/mpp/internal/entity"
	"github.com/matheus3301/mpp/internal/metrics"
	"github.com/matheus3301/mpp/internal/model"
	"github.com/matheus3301/mpp/internal/status"
	"github.com/matheus3301/mpp/internal/store"
)

// ChatSender is the send capability realm connections expose. An empty
// realm message id means the realm acknowledges later, if at all.
type ChatSender interface {
	SendChatMessage(ctx context.Context, c model.Chat, m model.ChatMessage) (realmMessageID string, err error)
}

// Accounts resolves configured accounts.
type Accounts interface {
	AccountByID(id string) (account.Account, bool)
}

// Connections looks up live connections. *account.Connections implements it.
type Connections interface {
	Connection(accountID string) (account.Connection, bool)
}

// Chats is the chat persistence the dispatcher uses. *chat.Service implements it.
type Chats interface {
	SaveChatMessages(ctx context.Context, c model.Chat, msgs []model.ChatMessage, notify bool) ([]model.ChatMessage, error)
	ChatMessages(ctx context.Context, chat entity.Entity, afterSeq int64, limit int) ([]store.StoredMessage, error)
	UnreadMessagesCount(ctx context.Context, accountID string) (int, error)
	ReconcileMessage(ctx context.Context, pending, acked entity.Entity) (bool, error)
}

// Service is the chat message dispatcher.
type Service struct {
	accounts Accounts
	conns    Connections
	chats    Chats
	ids      *IDGenerator
	logger   *zap.Logger
}

// NewService creates a dispatcher.
func NewService(accounts Accounts, conns Connections, chats Chats, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		accounts: accounts,
		conns:    conns,
		chats:    chats,
		ids:      NewIDGenerator(),
		logger:   logger.Named("messages"),
	}
}

// GenerateEntity returns a pending message entity scoped to acc.
func (s *Service) GenerateEntity(acc account.Account) entity.Entity {
	return entity.Pending(acc.ID(), s.ids.Next(acc.ID()))
}

// SendChatMessage sends draft from the user "from" into chat c. The built
// message is returned even when sending fails, together with a *SendError.
// It is persisted by the dispatcher only when the realm notifies sent
// messages immediately.
func (s *Service) SendChatMessage(ctx context.Context, from entity.Entity, c model.Chat, draft model.ChatMessage) (model.ChatMessage, error) {
	acc, ok := s.accounts.AccountByID(from.RealmID)
	if !ok {
		return model.ChatMessage{}, fmt.Errorf("%w: %s", ErrUnknownAccount, from.RealmID)
	}

	msg := model.ChatMessage{
		Entity:    s.GenerateEntity(acc),
		Author:    from,
		SendDate:  time.Now(),
		Title:     draft.Title,
		Body:      draft.Body,
		Read:      true,
		Direction: model.DirectionOut,
		Forwarded: slices.Clone(draft.Forwarded),
	}
	if c.Private {
		msg.Recipient = c.SecondUser
	}

	realm := acc.Realm().ID()
	logger := s.logger.With(zap.String("account", acc.ID()), zap.Stringer("chat", c.Entity))

	realmID, sendErr := s.transmit(ctx, acc, c, msg)
	if sendErr != nil {
		metrics.MessagesSentTotal.WithLabelValues(realm, "failure").Inc()
		logger.Warn("send failed", zap.Error(sendErr))
	} else {
		metrics.MessagesSentTotal.WithLabelValues(realm, "success").Inc()
		if realmID != "" {
			msg.Entity = acc.NewMessageEntity(realmID)
		}
	}

	if acc.Realm().NotifySentMessagesImmediately() {
		if _, err := s.chats.SaveChatMessages(ctx, c, []model.ChatMessage{msg}, false); err != nil {
			return msg, err
		}
	}
	if sendErr != nil {
		return msg, sendErr
	}
	return msg, nil
}

func (s *Service) transmit(ctx context.Context, acc account.Account, c model.Chat, msg model.ChatMessage) (string, error) {
	conn, ok := s.conns.Connection(acc.ID())
	if !ok || conn.State() != status.Connected {
		return "", &SendError{Account: acc.ID(), Err: account.ErrNotConnected}
	}
	sender, ok := conn.(ChatSender)
	if !ok {
		return "", &SendError{Account: acc.ID(), Err: fmt.Errorf("realm %s cannot send messages", acc.Realm().ID())}
	}

	start := time.Now()
	realmID, err := sender.SendChatMessage(ctx, c, msg)
	metrics.SendDurationSeconds.WithLabelValues(acc.Realm().ID()).Observe(time.Since(start).Seconds())
	if err != nil {
		return "", &SendError{Account: acc.ID(), Err: err}
	}
	return realmID, nil
}

// UnreadMessagesCount returns the unread count over all accounts.
func (s *Service) UnreadMessagesCount(ctx context.Context) (int, error) {
	return s.chats.UnreadMessagesCount(ctx, "")
}

// ChatMessages returns the messages of a chat in arrival order.
func (s *Service) ChatMessages(ctx context.Context, chat entity.Entity, afterSeq int64, limit int) ([]store.StoredMessage, error) {
	return s.chats.ChatMessages(ctx, chat, afterSeq, limit)
}
