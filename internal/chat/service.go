// Package chat persists chats and their messages and raises the matching
// notifier events.
package chat

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/mpp/internal/bus"
	"github.com/matheus3301/mpp/internal/entity"
	"github.com/matheus3301/mpp/internal/model"
	"github.com/matheus3301/mpp/internal/store"
)

// MessageStore is the message persistence the service needs. *store.DB
// implements it.
type MessageStore interface {
	SaveChat(ctx context.Context, c model.Chat) error
	Chat(ctx context.Context, e entity.Entity) (*model.Chat, error)
	ListChats(ctx context.Context, accountID string, limit int) ([]model.Chat, error)
	SaveMessages(ctx context.Context, c model.Chat, msgs []model.ChatMessage) ([]model.ChatMessage, error)
	LoadMessages(ctx context.Context, chat entity.Entity, afterSeq int64, limit int) ([]store.StoredMessage, error)
	SearchMessages(ctx context.Context, query string, chat entity.Entity, limit int) ([]store.SearchResult, error)
	UnreadCount(ctx context.Context, accountID string) (int, error)
	MarkRead(ctx context.Context, chat entity.Entity) (int64, error)
	ReconcileMessage(ctx context.Context, pending, acked entity.Entity) (bool, error)
}

// MessageUpserted is the payload of bus.KindMessageUpserted.
type MessageUpserted struct {
	Chat    entity.Entity
	Message model.ChatMessage
}

// UnreadChanged is the payload of bus.KindUnreadChanged.
type UnreadChanged struct {
	Count int
}

// Notification is the payload of bus.KindNotificationAdded and
// bus.KindNotificationRemoved.
type Notification struct {
	Chat     entity.Entity
	Messages []model.ChatMessage
}

// Service is the chat service.
type Service struct {
	store    MessageStore
	lock     *store.PersistenceLock
	notifier bus.Notifier
	logger   *zap.Logger
}

// NewService creates a chat service. notifier may be nil.
func NewService(s MessageStore, lock *store.PersistenceLock, notifier bus.Notifier, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: s, lock: lock, notifier: notifier, logger: logger.Named("chats")}
}

// GetPrivateChat returns the private chat between owner and second, creating
// it on first use.
func (s *Service) GetPrivateChat(ctx context.Context, owner, second entity.Entity) (model.Chat, error) {
	c := model.NewPrivateChat(owner, second)
	s.lock.Lock()
	defer s.lock.Unlock()
	if err := s.store.SaveChat(ctx, c); err != nil {
		return model.Chat{}, err
	}
	return c, nil
}

// Chat returns a stored chat, or nil when unknown.
func (s *Service) Chat(ctx context.Context, e entity.Entity) (*model.Chat, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.store.Chat(ctx, e)
}

// Chats lists the chats of an account, or of every account when accountID is
// empty.
func (s *Service) Chats(ctx context.Context, accountID string, limit int) ([]model.Chat, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.store.ListChats(ctx, accountID, limit)
}

// SaveChatMessages persists msgs in order, skipping already stored ones. With
// notify set, newly stored unread messages raise unread and notification
// events.
func (s *Service) SaveChatMessages(ctx context.Context, c model.Chat, msgs []model.ChatMessage, notify bool) ([]model.ChatMessage, error) {
	if len(msgs) == 0 {
		return nil, nil
	}

	var (
		unread []model.ChatMessage
		count  int
	)
	s.lock.Lock()
	inserted, err := s.store.SaveMessages(ctx, c, msgs)
	if err == nil && notify {
		for _, m := range inserted {
			if m.Direction == model.DirectionIn && !m.Read {
				unread = append(unread, m)
			}
		}
		if len(unread) > 0 {
			count, err = s.store.UnreadCount(ctx, "")
		}
	}
	s.lock.Unlock()
	if err != nil {
		return nil, err
	}

	for _, m := range inserted {
		s.publish(bus.KindMessageUpserted, MessageUpserted{Chat: c.Entity, Message: m})
	}
	if len(unread) > 0 {
		s.publish(bus.KindUnreadChanged, UnreadChanged{Count: count})
		s.publish(bus.KindNotificationAdded, Notification{Chat: c.Entity, Messages: unread})
	}
	if len(inserted) < len(msgs) {
		s.logger.Debug("skipped stored messages",
			zap.Stringer("chat", c.Entity), zap.Int("skipped", len(msgs)-len(inserted)))
	}
	return inserted, nil
}

// ChatMessages returns the messages of a chat in arrival order.
func (s *Service) ChatMessages(ctx context.Context, chat entity.Entity, afterSeq int64, limit int) ([]store.StoredMessage, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.store.LoadMessages(ctx, chat, afterSeq, limit)
}

// Search runs a full-text query over message bodies.
func (s *Service) Search(ctx context.Context, query string, chat entity.Entity, limit int) ([]store.SearchResult, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.store.SearchMessages(ctx, query, chat, limit)
}

// UnreadMessagesCount returns the persisted unread count, read under the
// persistence lock so it never observes a half-applied save.
func (s *Service) UnreadMessagesCount(ctx context.Context, accountID string) (int, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.store.UnreadCount(ctx, accountID)
}

// MarkRead flags the messages of a chat as read.
func (s *Service) MarkRead(ctx context.Context, chat entity.Entity) error {
	s.lock.Lock()
	n, err := s.store.MarkRead(ctx, chat)
	var count int
	if err == nil && n > 0 {
		count, err = s.store.UnreadCount(ctx, "")
	}
	s.lock.Unlock()
	if err != nil {
		return err
	}
	if n > 0 {
		s.publish(bus.KindUnreadChanged, UnreadChanged{Count: count})
		s.publish(bus.KindNotificationRemoved, Notification{Chat: chat})
	}
	return nil
}

// ReconcileMessage gives a pending message the id its realm acknowledged.
func (s *Service) ReconcileMessage(ctx context.Context, pending, acked entity.Entity) (bool, error) {
	s.lock.Lock()
	changed, err := s.store.ReconcileMessage(ctx, pending, acked)
	s.lock.Unlock()
	if err != nil {
		return false, err
	}
	if changed {
		s.logger.Debug("message acknowledged", zap.Stringer("pending", pending), zap.Stringer("acked", acked))
	}
	return changed, nil
}

func (s *Service) publish(kind string, payload any) {
	if s.notifier == nil {
		return
	}
	s.notifier.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
