package vk

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/matheus3301/mpp/internal/account"
	"github.com/matheus3301/mpp/internal/bus"
	"github.com/matheus3301/mpp/internal/message"
	"github.com/matheus3301/mpp/internal/model"
)

// groupPeerBase is the first peer id of a multi-user conversation.
const groupPeerBase = 2_000_000_000

// Normalizer maps poll results to one batch per conversation.
type Normalizer struct{}

func NewNormalizer() *Normalizer { return &Normalizer{} }

func (Normalizer) Normalize(_ context.Context, acc account.Account, in bus.Inbound) ([]message.Batch, error) {
	res, ok := in.Payload.(PollResult)
	if !ok {
		return nil, &message.NormalizationError{Realm: RealmID, Err: fmt.Errorf("unexpected payload %T", in.Payload)}
	}

	profiles := make(map[int64]model.User, len(res.Users))
	for _, u := range res.Users {
		profiles[u.ID] = toUser(acc, u)
	}

	owner := acc.User().Entity
	var (
		order   []int64
		batches = make(map[int64]*message.Batch)
	)
	for _, m := range res.Messages {
		b, ok := batches[m.PeerID]
		if !ok {
			b = &message.Batch{}
			peer := acc.NewUserEntity(strconv.FormatInt(m.PeerID, 10))
			if m.PeerID >= groupPeerBase {
				b.Chat = model.NewGroupChat(peer)
			} else {
				b.Chat = model.NewPrivateChat(owner, peer)
			}
			batches[m.PeerID] = b
			order = append(order, m.PeerID)
		}

		e := acc.NewMessageEntity(strconv.FormatInt(m.ID, 10))
		msg := model.ChatMessage{
			Entity:   e,
			SendDate: time.Unix(m.Date, 0),
			Body:     m.Text,
		}
		if m.Out == 1 {
			msg.Author = owner
			msg.Direction = model.DirectionOut
			msg.Read = true
			if b.Chat.Private {
				msg.Recipient = b.Chat.SecondUser
			}
		} else {
			msg.Author = acc.NewUserEntity(strconv.FormatInt(m.FromID, 10))
			msg.Direction = model.DirectionIn
			if b.Chat.Private {
				msg.Recipient = owner
			}
			if u, ok := profiles[m.FromID]; ok {
				b.Contacts = append(b.Contacts, u)
				delete(profiles, m.FromID)
			}
		}
		b.Messages = append(b.Messages, msg)
		if pending, ok := res.Acked[m.ID]; ok {
			b.Acks = append(b.Acks, message.Ack{Pending: pending, Acked: e})
		}
	}

	out := make([]message.Batch, 0, len(order))
	for _, peer := range order {
		out = append(out, *batches[peer])
	}
	return out, nil
}

func toUser(acc account.Account, u User) model.User {
	props := model.Properties{
		model.PropertyFirstName: u.FirstName,
		model.PropertyLastName:  u.LastName,
	}
	if u.Nickname != "" {
		props[model.PropertyNickname] = u.Nickname
	}
	return model.NewUser(acc.NewUserEntity(strconv.FormatInt(u.ID, 10)), model.SyncData{}, props).WithStatus(u.Online == 1)
}
