package model

import (
	"time"

	"github.com/matheus3301/mpp/internal/entity"
)

// Direction tells whether a message was received or authored locally.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// ChatMessage is the canonical message. Recipient is zero for group chats.
// Only Read changes after construction, and only through the store.
type ChatMessage struct {
	Entity    entity.Entity
	Author    entity.Entity
	Recipient entity.Entity
	SendDate  time.Time
	Title     string
	Body      string
	Read      bool
	Direction Direction
	Forwarded []ChatMessage
}

// HasRecipient reports whether the message targets a single user.
func (m ChatMessage) HasRecipient() bool {
	return !m.Recipient.IsZero()
}

// Chat is a conversation inside one account.
type Chat struct {
	Entity     entity.Entity
	Private    bool
	SecondUser entity.Entity
}

// PrivateChatEntity derives the chat entity for a conversation between owner
// and second. Repeated calls return the same entity.
func PrivateChatEntity(owner, second entity.Entity) entity.Entity {
	return entity.New(owner.RealmID, owner.AccountEntityID+"_"+second.AccountEntityID)
}

// NewPrivateChat returns the private chat between owner and second.
func NewPrivateChat(owner, second entity.Entity) Chat {
	return Chat{
		Entity:     PrivateChatEntity(owner, second),
		Private:    true,
		SecondUser: second,
	}
}

// NewGroupChat returns a multi-party chat.
func NewGroupChat(e entity.Entity) Chat {
	return Chat{Entity: e}
}
