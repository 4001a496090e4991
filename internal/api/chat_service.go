package api

import (
	"context"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/matheus3301/mpp/internal/entity"
)

// ListChats returns {chats} of {account}, or of every account, most recent
// first.
func (s *Service) ListChats(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	limit := int(intField(req, "limit"))
	if limit <= 0 {
		limit = defaultLimit
	}
	chats, err := s.Chats.Chats(ctx, stringField(req, "account"), limit)
	if err != nil {
		return nil, toStatus("list chats", err)
	}
	out := make([]any, 0, len(chats))
	for _, c := range chats {
		out = append(out, chatToMap(c))
	}
	return newStruct(map[string]any{"chats": out, "has_more": len(chats) == limit})
}

// MarkRead flags every message of the chat as read.
func (s *Service) MarkRead(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	e, err := entity.Parse(req.GetValue())
	if err != nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "chat: %v", err)
	}
	if err := s.Chats.MarkRead(ctx, e); err != nil {
		return nil, toStatus("mark read", err)
	}
	return &emptypb.Empty{}, nil
}

// Watch streams bus events whose kind starts with the requested prefix. An
// empty prefix streams everything. The stream ends when the bus closes.
func (s *Service) Watch(req *wrapperspb.StringValue, stream WatchServer) error {
	if s.Bus == nil {
		return grpcstatus.Error(codes.Unavailable, "event bus not available")
	}
	ch, unsub := s.Bus.Subscribe(req.GetValue(), 256)
	defer unsub()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			out, err := newStruct(map[string]any{
				"event_id":       uuid.New().String(),
				"session":        s.SessionName,
				"occurred_at_ms": evt.Timestamp.UnixMilli(),
				"kind":           evt.Kind,
				"payload":        eventPayload(evt.Payload),
			})
			if err != nil {
				return err
			}
			if err := stream.Send(out); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}
