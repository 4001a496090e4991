package message

import (
	"context"

	"github.com/matheus3301/mpp/internal/account"
	"github.com/matheus3301/mpp/internal/bus"
	"github.com/matheus3301/mpp/internal/entity"
	"github.com/matheus3301/mpp/internal/model"
)

// Ack pairs a pending local message with the id its realm assigned.
type Ack struct {
	Pending entity.Entity
	Acked   entity.Entity
}

// Batch is the canonical outcome of one inbound payload for one chat.
type Batch struct {
	Chat     model.Chat
	Messages []model.ChatMessage
	Acks     []Ack
	// Contacts are merged into the account user's contacts before the
	// messages are stored.
	Contacts []model.User
}

// Normalizer maps realm-native payloads to canonical values. It may return
// batches together with an error describing the units it dropped.
type Normalizer interface {
	Normalize(ctx context.Context, acc account.Account, in bus.Inbound) ([]Batch, error)
}

// NormalizerFunc adapts a function to Normalizer.
type NormalizerFunc func(ctx context.Context, acc account.Account, in bus.Inbound) ([]Batch, error)

func (f NormalizerFunc) Normalize(ctx context.Context, acc account.Account, in bus.Inbound) ([]Batch, error) {
	return f(ctx, acc, in)
}
