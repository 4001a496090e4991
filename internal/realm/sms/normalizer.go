package sms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/mpp/internal/account"
	"github.com/matheus3301/mpp/internal/bus"
	"github.com/matheus3301/mpp/internal/message"
	"github.com/matheus3301/mpp/internal/model"
)

// PDU is one decoded SMS as the gateway delivers it.
type PDU struct {
	ID        string `json:"id,omitempty"`
	From      string `json:"from"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// pduNamespace derives stable message ids for PDUs that carry none.
var pduNamespace = uuid.MustParse("6f1f4a7e-3c8b-5d1e-9a0b-7c2d4e6f8a10")

// Normalizer maps a batch of PDUs to one message batch per sender.
type Normalizer struct {
	users  Users
	logger *zap.Logger
}

// NewNormalizer creates the SMS normalizer.
func NewNormalizer(users Users, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{users: users, logger: logger.Named("sms")}
}

// Normalize decodes a JSON array of PDUs. Senders are resolved to contacts
// by their phone, creating unknown ones. A sender whose contact cannot be
// created loses its messages for this batch; the others are kept.
func (n *Normalizer) Normalize(ctx context.Context, acc account.Account, in bus.Inbound) ([]message.Batch, error) {
	raw, ok := in.Payload.([]byte)
	if !ok {
		return nil, &message.NormalizationError{Realm: RealmID, Err: fmt.Errorf("unexpected payload %T", in.Payload)}
	}
	var pdus []PDU
	if err := json.Unmarshal(raw, &pdus); err != nil {
		return nil, &message.NormalizationError{Realm: RealmID, Err: err}
	}

	phones, byPhone := groupByPhone(pdus)
	if len(phones) == 0 {
		return nil, nil
	}

	owner := acc.User()
	contacts, err := n.users.ContactsOf(ctx, owner.Entity)
	if err != nil {
		return nil, err
	}

	var (
		batches []message.Batch
		dropped []error
	)
	for _, phone := range phones {
		contact, err := n.findOrCreateContact(ctx, acc, phone, contacts)
		if err != nil {
			n.logger.Warn("contact creation failed, dropping messages",
				zap.String("account", acc.ID()), zap.String("phone", phone), zap.Error(err))
			dropped = append(dropped, &message.NormalizationError{Realm: RealmID, Err: fmt.Errorf("contact %s: %w", phone, err)})
			continue
		}
		contacts = append(contacts, contact)

		b := message.Batch{Chat: model.NewPrivateChat(owner.Entity, contact.Entity)}
		for i, p := range byPhone[phone] {
			b.Messages = append(b.Messages, model.ChatMessage{
				Entity:    acc.NewMessageEntity(pduID(acc.ID(), p, i, in.ReceivedAt)),
				Author:    contact.Entity,
				Recipient: owner.Entity,
				SendDate:  sendDate(p, in.ReceivedAt),
				Body:      p.Body,
				Direction: model.DirectionIn,
			})
		}
		batches = append(batches, b)
	}
	return batches, errors.Join(dropped...)
}

func (n *Normalizer) findOrCreateContact(ctx context.Context, acc account.Account, phone string, contacts []model.User) (model.User, error) {
	for _, c := range contacts {
		if c.HasPhone(phone) {
			return c, nil
		}
	}
	u := model.NewUser(acc.NewUserEntity(phone), model.SyncData{}, model.Properties{model.PropertyPhones: phone})
	if err := n.users.MergeContacts(ctx, acc.User(), []model.User{u}); err != nil {
		return model.User{}, err
	}
	n.logger.Info("created contact for unknown sender", zap.String("account", acc.ID()), zap.String("phone", phone))
	return u, nil
}

// groupByPhone keeps the first-seen order of senders and the arrival order
// of each sender's messages. Empty bodies are skipped.
func groupByPhone(pdus []PDU) ([]string, map[string][]PDU) {
	var order []string
	byPhone := make(map[string][]PDU)
	for _, p := range pdus {
		if p.Body == "" || p.From == "" {
			continue
		}
		if _, seen := byPhone[p.From]; !seen {
			order = append(order, p.From)
		}
		byPhone[p.From] = append(byPhone[p.From], p)
	}
	return order, byPhone
}

func pduID(accountID string, p PDU, index int, received time.Time) string {
	if p.ID != "" {
		return p.ID
	}
	key := accountID + "\x00" + p.From + "\x00" + strconv.FormatInt(sendDate(p, received).UnixMilli(), 10) + "\x00" + strconv.Itoa(index) + "\x00" + p.Body
	return uuid.NewSHA1(pduNamespace, []byte(key)).String()
}

func sendDate(p PDU, received time.Time) time.Time {
	if p.Timestamp > 0 {
		return time.UnixMilli(p.Timestamp)
	}
	return received
}
