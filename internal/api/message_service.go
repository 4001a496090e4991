package api

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/matheus3301/mpp/internal/account"
	"github.com/matheus3301/mpp/internal/entity"
	"github.com/matheus3301/mpp/internal/message"
	"github.com/matheus3301/mpp/internal/model"
	"github.com/matheus3301/mpp/internal/store"
)

const defaultLimit = 50

// SendMessage sends {account, to, group, body}. "to" is the realm id of the
// peer, or of the room when group is set. A failed send answers
// Unavailable; the message is still recorded when the realm stores sent
// messages immediately.
func (s *Service) SendMessage(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	accountID, to, body := stringField(req, "account"), stringField(req, "to"), stringField(req, "body")
	if accountID == "" || to == "" || strings.TrimSpace(body) == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "account, to and body are required")
	}
	acc, ok := s.Accounts.AccountByID(accountID)
	if !ok {
		return nil, grpcstatus.Errorf(codes.NotFound, "account %q not configured", accountID)
	}

	c, err := s.resolveChat(ctx, acc, to, boolField(req, "group"))
	if err != nil {
		return nil, err
	}

	msg, err := s.Messages.SendChatMessage(ctx, acc.User().Entity, c, model.ChatMessage{Body: body})
	if err != nil {
		s.logger.Warn("send message failed", zap.String("account", accountID), zap.Error(err))
		return nil, toStatus("send message", err)
	}
	return newStruct(messageToMap(c.Entity, 0, msg, message.Title(acc, c, msg, nil)))
}

func (s *Service) resolveChat(ctx context.Context, acc account.Account, to string, group bool) (model.Chat, error) {
	peer := acc.NewUserEntity(to)
	if !group {
		c, err := s.Chats.GetPrivateChat(ctx, acc.User().Entity, peer)
		return c, toStatus("open chat", err)
	}
	c, err := s.Chats.Chat(ctx, peer)
	if err != nil {
		return model.Chat{}, toStatus("open chat", err)
	}
	if c == nil {
		return model.Chat{}, grpcstatus.Errorf(codes.NotFound, "group chat %q not known", to)
	}
	return *c, nil
}

// ListMessages returns {messages} of {chat} after {after_seq}, oldest first.
func (s *Service) ListMessages(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	chatID, err := entityField(req, "chat")
	if err != nil {
		return nil, err
	}
	if chatID.IsZero() {
		return nil, grpcstatus.Error(codes.InvalidArgument, "chat is required")
	}
	limit := int(intField(req, "limit"))
	if limit <= 0 {
		limit = defaultLimit
	}

	c, err := s.Chats.Chat(ctx, chatID)
	if err != nil {
		return nil, toStatus("chat", err)
	}
	if c == nil {
		return nil, grpcstatus.Errorf(codes.NotFound, "chat %q not found", entity.Format(chatID))
	}
	msgs, err := s.Chats.ChatMessages(ctx, chatID, intField(req, "after_seq"), limit)
	if err != nil {
		return nil, toStatus("list messages", err)
	}

	acc, _ := s.Accounts.AccountByID(chatID.RealmID)
	out := make([]any, 0, len(msgs))
	for _, sm := range msgs {
		out = append(out, messageToMap(sm.Chat, sm.Seq, sm.Message, s.title(ctx, acc, *c, sm)))
	}
	return newStruct(map[string]any{"messages": out, "has_more": len(msgs) == limit})
}

// SearchMessages runs a full-text {query}, optionally within {chat}.
func (s *Service) SearchMessages(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	query := stringField(req, "query")
	if strings.TrimSpace(query) == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "query is required")
	}
	chatID, err := entityField(req, "chat")
	if err != nil {
		return nil, err
	}
	limit := int(intField(req, "limit"))
	if limit <= 0 {
		limit = defaultLimit
	}

	results, err := s.Chats.Search(ctx, query, chatID, limit)
	if err != nil {
		return nil, toStatus("search", err)
	}
	out := make([]any, 0, len(results))
	for _, r := range results {
		m := messageToMap(r.Chat, r.Seq, r.Message, "")
		m["snippet"] = r.Snippet
		out = append(out, m)
	}
	return newStruct(map[string]any{"results": out})
}

// UnreadCount returns the unread count over every account.
func (s *Service) UnreadCount(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.Int64Value, error) {
	n, err := s.Messages.UnreadMessagesCount(ctx)
	if err != nil {
		return nil, toStatus("unread count", err)
	}
	return wrapperspb.Int64(int64(n)), nil
}

func (s *Service) title(ctx context.Context, acc account.Account, c model.Chat, sm store.StoredMessage) string {
	if acc == nil {
		return sm.Message.Body
	}
	var author *model.User
	if !c.Private && s.Users != nil && !acc.IsAccountUser(sm.Message.Author) {
		u, err := s.Users.UserByID(ctx, sm.Message.Author)
		if err != nil {
			s.logger.Debug("author lookup failed", zap.Stringer("author", sm.Message.Author), zap.Error(err))
		}
		author = u
	}
	return message.Title(acc, c, sm.Message, author)
}
