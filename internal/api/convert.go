package api

import (
	"time"

	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/mpp/internal/chat"
	"github.com/matheus3301/mpp/internal/entity"
	"github.com/matheus3301/mpp/internal/model"
	"github.com/matheus3301/mpp/internal/realm/sms"
	"github.com/matheus3301/mpp/internal/status"
)

func newStruct(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	return s, nil
}

func stringField(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func intField(s *structpb.Struct, key string) int64 {
	return int64(s.GetFields()[key].GetNumberValue())
}

func boolField(s *structpb.Struct, key string) bool {
	return s.GetFields()[key].GetBoolValue()
}

// entityField parses an optional entity. An empty field is the zero entity.
func entityField(s *structpb.Struct, key string) (entity.Entity, error) {
	raw := stringField(s, key)
	if raw == "" {
		return entity.Entity{}, nil
	}
	e, err := entity.Parse(raw)
	if err != nil {
		return entity.Entity{}, grpcstatus.Errorf(codes.InvalidArgument, "%s: %v", key, err)
	}
	return e, nil
}

func formatOptional(e entity.Entity) string {
	if e.IsZero() {
		return ""
	}
	return entity.Format(e)
}

func messageToMap(chat entity.Entity, seq int64, m model.ChatMessage, title string) map[string]any {
	return map[string]any{
		"seq":       seq,
		"chat":      entity.Format(chat),
		"id":        entity.Format(m.Entity),
		"pending":   !m.Entity.Acknowledged(),
		"author":    entity.Format(m.Author),
		"recipient": formatOptional(m.Recipient),
		"send_date": m.SendDate.UTC().Format(time.RFC3339Nano),
		"title":     title,
		"body":      m.Body,
		"read":      m.Read,
		"direction": string(m.Direction),
	}
}

func chatToMap(c model.Chat) map[string]any {
	return map[string]any{
		"id":          entity.Format(c.Entity),
		"private":     c.Private,
		"second_user": formatOptional(c.SecondUser),
	}
}

// eventPayload flattens the payloads of the bus events a watcher may see.
func eventPayload(p any) map[string]any {
	switch v := p.(type) {
	case status.StatusChange:
		return map[string]any{"account": v.Account, "from": string(v.From), "to": string(v.To)}
	case chat.MessageUpserted:
		return messageToMap(v.Chat, 0, v.Message, "")
	case chat.UnreadChanged:
		return map[string]any{"count": v.Count}
	case chat.Notification:
		return map[string]any{"chat": entity.Format(v.Chat), "messages": len(v.Messages)}
	case sms.Report:
		return map[string]any{"account": v.Account, "signal": string(v.Signal), "payload": string(v.Payload)}
	default:
		return map[string]any{}
	}
}
