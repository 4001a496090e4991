package xmpp

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	goxmpp "github.com/xmppo/go-xmpp"

	"github.com/matheus3301/mpp/internal/account"
	"github.com/matheus3301/mpp/internal/bus"
	"github.com/matheus3301/mpp/internal/message"
	"github.com/matheus3301/mpp/internal/model"
)

var stanzaNamespace = uuid.MustParse("0b6c3a52-8f0e-5c47-a1d3-52e9b7f4c611")

// Normalizer maps XMPP stanzas to canonical values.
type Normalizer struct{}

// NewNormalizer creates the XMPP normalizer.
func NewNormalizer() *Normalizer { return &Normalizer{} }

// Normalize handles IncomingMessage, roster and PresenceUpdate payloads.
// Roster entries are enriched from vCards while the account is connected.
func (Normalizer) Normalize(ctx context.Context, acc account.Account, in bus.Inbound) ([]message.Batch, error) {
	switch p := in.Payload.(type) {
	case IncomingMessage:
		return normalizeMessage(acc, in, p)
	case goxmpp.Roster:
		return []message.Batch{{Contacts: rosterContacts(ctx, acc, p)}}, nil
	case PresenceUpdate:
		u := model.NewUser(acc.NewUserEntity(p.JID), model.SyncData{}, nil).WithStatus(p.Online)
		return []message.Batch{{Contacts: []model.User{u}}}, nil
	default:
		return nil, &message.NormalizationError{Realm: RealmID, Err: fmt.Errorf("unexpected payload %T", in.Payload)}
	}
}

func rosterContacts(ctx context.Context, acc account.Account, roster goxmpp.Roster) []model.User {
	var users *UserService
	if a, ok := acc.(*Account); ok {
		users = a.Users()
	}
	contacts := make([]model.User, 0, len(roster))
	for _, item := range roster {
		jid := bareJID(item.Remote)
		if users != nil && users.checkConnected() == nil {
			// Status comes from presence updates, not roster pushes.
			u := users.toUser(ctx, jid, item.Name)
			delete(u.Properties, model.PropertyOnline)
			u.Online = false
			contacts = append(contacts, u)
			continue
		}
		props := model.Properties{}
		model.ParseNameProperties(props, item.Name)
		contacts = append(contacts, model.NewUser(acc.NewUserEntity(jid), model.SyncData{}, props))
	}
	return contacts
}

func normalizeMessage(acc account.Account, in bus.Inbound, m IncomingMessage) ([]message.Batch, error) {
	from := bareJID(m.From)
	if from == "" {
		return nil, &message.NormalizationError{Realm: RealmID, Err: errors.New("message without sender")}
	}
	sent := m.Stamp
	if sent.IsZero() {
		sent = in.ReceivedAt
	}
	id := uuid.NewSHA1(stanzaNamespace, []byte(acc.ID()+"\x00"+m.From+"\x00"+strconv.FormatInt(sent.UnixMilli(), 10)+"\x00"+m.Text)).String()
	owner := acc.User().Entity

	msg := model.ChatMessage{
		Entity:    acc.NewMessageEntity(id),
		SendDate:  sent,
		Body:      m.Text,
		Direction: model.DirectionIn,
	}
	var b message.Batch
	if m.Type == "groupchat" {
		// Room occupants are addressed as room@service/nick.
		b.Chat = model.NewGroupChat(acc.NewUserEntity(from))
		msg.Author = acc.NewUserEntity(m.From)
	} else {
		peer := acc.NewUserEntity(from)
		b.Chat = model.NewPrivateChat(owner, peer)
		// A sender is reachable right now.
		b.Contacts = []model.User{model.NewUser(peer, model.SyncData{}, nil).WithStatus(true)}
		msg.Author = peer
		msg.Recipient = owner
	}
	b.Messages = []model.ChatMessage{msg}
	return []message.Batch{b}, nil
}
