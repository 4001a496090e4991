package wa

import (
	"context"
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow/types"

	"github.com/matheus3301/mpp/internal/account"
	"github.com/matheus3301/mpp/internal/bus"
	"github.com/matheus3301/mpp/internal/message"
	"github.com/matheus3301/mpp/internal/model"
)

// Normalizer maps parsed WhatsApp messages and contacts to canonical values.
type Normalizer struct{}

func NewNormalizer() *Normalizer { return &Normalizer{} }

// Normalize accepts []ParsedMessage and []Contact payloads. Messages are
// grouped by chat keeping their order; entries without an id or chat are
// dropped.
func (Normalizer) Normalize(_ context.Context, acc account.Account, in bus.Inbound) ([]message.Batch, error) {
	switch p := in.Payload.(type) {
	case []ParsedMessage:
		return normalizeMessages(acc, p)
	case []Contact:
		users := make([]model.User, 0, len(p))
		for _, c := range p {
			if c.JID == "" || acc.IsAccountUser(acc.NewUserEntity(c.JID)) {
				continue
			}
			users = append(users, contactUser(acc, c.JID, c.FullName, c.PushName))
		}
		if len(users) == 0 {
			return nil, nil
		}
		return []message.Batch{{Contacts: users}}, nil
	default:
		return nil, &message.NormalizationError{Realm: RealmID, Err: fmt.Errorf("unexpected payload %T", in.Payload)}
	}
}

func normalizeMessages(acc account.Account, msgs []ParsedMessage) ([]message.Batch, error) {
	owner := acc.User().Entity
	var (
		order   []string
		batches = make(map[string]*message.Batch)
		dropped int
	)
	for _, p := range msgs {
		if p.MsgID == "" || p.ChatJID == "" {
			dropped++
			continue
		}
		b, ok := batches[p.ChatJID]
		if !ok {
			b = &message.Batch{}
			if isGroup(p.ChatJID) {
				b.Chat = model.NewGroupChat(acc.NewUserEntity(p.ChatJID))
			} else {
				b.Chat = model.NewPrivateChat(owner, acc.NewUserEntity(p.ChatJID))
			}
			batches[p.ChatJID] = b
			order = append(order, p.ChatJID)
		}

		m := model.ChatMessage{
			Entity:   acc.NewMessageEntity(p.MsgID),
			SendDate: p.Timestamp,
			Body:     body(p),
		}
		switch {
		case p.FromMe:
			m.Author = owner
			m.Direction = model.DirectionOut
			m.Read = true
			if b.Chat.Private {
				m.Recipient = b.Chat.SecondUser
			}
		default:
			sender := p.SenderJID
			if sender == "" {
				sender = p.ChatJID
			}
			m.Author = acc.NewUserEntity(sender)
			m.Direction = model.DirectionIn
			if b.Chat.Private {
				m.Recipient = owner
				if p.SenderName != "" {
					b.Contacts = append(b.Contacts, contactUser(acc, sender, "", p.SenderName))
				}
			}
		}
		b.Messages = append(b.Messages, m)
	}

	out := make([]message.Batch, 0, len(order))
	for _, jid := range order {
		out = append(out, *batches[jid])
	}
	if dropped > 0 {
		return out, &message.NormalizationError{Realm: RealmID, Err: fmt.Errorf("%d messages without id or chat", dropped)}
	}
	return out, nil
}

// body renders media messages, which carry no text, as their type.
func body(p ParsedMessage) string {
	if p.Body != "" || p.MessageType == "text" {
		return p.Body
	}
	return "[" + p.MessageType + "]"
}

func contactUser(acc account.Account, jid, fullName, pushName string) model.User {
	props := model.Properties{}
	if pushName != "" {
		props[model.PropertyNickname] = pushName
	}
	if j, err := types.ParseJID(jid); err == nil && j.Server == types.DefaultUserServer {
		props[model.PropertyPhone] = j.User
	}
	model.ParseNameProperties(props, fullName)
	return model.NewUser(acc.NewUserEntity(jid), model.SyncData{}, props)
}

func isGroup(jid string) bool {
	return strings.HasSuffix(jid, "@"+types.GroupServer)
}
