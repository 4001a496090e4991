package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/mpp/internal/entity"
	"github.com/matheus3301/mpp/internal/model"
)

const messageColumns = `m.id, m.entity, m.author, m.recipient, m.send_date, m.title, m.body, m.read, m.direction, m.forwarded`

// StoredMessage is a message with its chat and arrival sequence.
type StoredMessage struct {
	Seq     int64
	Chat    entity.Entity
	Message model.ChatMessage
}

// SaveMessages appends messages to a chat in slice order. Messages whose
// entity is already stored are skipped, so replays persist nothing twice. It
// returns the messages that were actually inserted.
func (db *DB) SaveMessages(ctx context.Context, chat model.Chat, msgs []model.ChatMessage) ([]model.ChatMessage, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrap("save messages", fmt.Errorf("begin tx: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	chatID := entity.Format(chat.Entity)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chats (entity, account_id, is_private, second_user, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(entity) DO NOTHING`,
		chatID, chat.Entity.RealmID, chat.Private, formatOptional(chat.SecondUser), now); err != nil {
		return nil, wrap("save messages", fmt.Errorf("ensure chat: %w", err))
	}

	var inserted []model.ChatMessage
	var last int64
	for _, m := range msgs {
		fwd, err := json.Marshal(toForwarded(m.Forwarded))
		if err != nil {
			return nil, wrap("save messages", fmt.Errorf("encode forwarded of %s: %w", m.Entity, err))
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO messages (entity, chat, author, recipient, send_date, title, body, read, direction, forwarded, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(entity) DO NOTHING`,
			entity.Format(m.Entity), chatID, entity.Format(m.Author), formatOptional(m.Recipient),
			m.SendDate.UnixMilli(), m.Title, m.Body, m.Read, string(m.Direction), string(fwd), now)
		if err != nil {
			return nil, wrap("save messages", fmt.Errorf("insert %s: %w", m.Entity, err))
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted = append(inserted, m)
			last = max(last, m.SendDate.UnixMilli())
		}
	}
	if last > 0 {
		if _, err := tx.ExecContext(ctx, `
			UPDATE chats SET last_message_at = MAX(last_message_at, ?), updated_at = ? WHERE entity = ?`,
			last, now, chatID); err != nil {
			return nil, wrap("save messages", fmt.Errorf("touch chat: %w", err))
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, wrap("save messages", err)
	}
	return inserted, nil
}

// LoadMessages returns the messages of a chat in arrival order. afterSeq > 0
// skips everything up to and including that sequence.
func (db *DB) LoadMessages(ctx context.Context, chat entity.Entity, afterSeq int64, limit int) ([]StoredMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `
		SELECT `+messageColumns+`, m.chat
		FROM messages m
		WHERE m.chat = ? AND m.id > ?
		ORDER BY m.id
		LIMIT ?`, entity.Format(chat), afterSeq, limit)
	if err != nil {
		return nil, wrap("load messages", err)
	}
	defer func() { _ = rows.Close() }()

	var out []StoredMessage
	for rows.Next() {
		sm, err := scanStored(rows)
		if err != nil {
			return nil, wrap("load messages", err)
		}
		out = append(out, sm)
	}
	return out, wrap("load messages", rows.Err())
}

// Message returns a stored message by entity, or nil when unknown.
func (db *DB) Message(ctx context.Context, e entity.Entity) (*StoredMessage, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`, m.chat FROM messages m WHERE m.entity = ?`, entity.Format(e))
	sm, err := scanStored(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("message", err)
	}
	return &sm, nil
}

// UnreadCount counts inbound messages not read yet. An empty accountID counts
// every account.
func (db *DB) UnreadCount(ctx context.Context, accountID string) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages m
		JOIN chats c ON c.entity = m.chat
		WHERE m.direction = 'in' AND m.read = 0 AND (? = '' OR c.account_id = ?)`,
		accountID, accountID).Scan(&n)
	return n, wrap("unread count", err)
}

// MarkRead flags every message of a chat as read and returns how many changed.
func (db *DB) MarkRead(ctx context.Context, chat entity.Entity) (int64, error) {
	res, err := db.ExecContext(ctx, `UPDATE messages SET read = 1 WHERE chat = ? AND read = 0`, entity.Format(chat))
	if err != nil {
		return 0, wrap("mark read", err)
	}
	n, err := res.RowsAffected()
	return n, wrap("mark read", err)
}

// MessageCount returns the total number of messages.
func (db *DB) MessageCount(ctx context.Context) (int64, error) {
	var count int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, wrap("message count", err)
}

// forwardedMessage is the JSON shape of a forwarded sub-message.
type forwardedMessage struct {
	Entity    string             `json:"entity"`
	Author    string             `json:"author"`
	Recipient string             `json:"recipient,omitempty"`
	SendDate  int64              `json:"send_date"`
	Title     string             `json:"title,omitempty"`
	Body      string             `json:"body"`
	Read      bool               `json:"read"`
	Direction string             `json:"direction"`
	Forwarded []forwardedMessage `json:"forwarded,omitempty"`
}

func toForwarded(msgs []model.ChatMessage) []forwardedMessage {
	out := make([]forwardedMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, forwardedMessage{
			Entity:    entity.Format(m.Entity),
			Author:    entity.Format(m.Author),
			Recipient: formatOptional(m.Recipient),
			SendDate:  m.SendDate.UnixMilli(),
			Title:     m.Title,
			Body:      m.Body,
			Read:      m.Read,
			Direction: string(m.Direction),
			Forwarded: toForwarded(m.Forwarded),
		})
	}
	return out
}

func fromForwarded(in []forwardedMessage) ([]model.ChatMessage, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]model.ChatMessage, 0, len(in))
	for _, f := range in {
		m, err := buildMessage(f.Entity, f.Author, f.Recipient, f.SendDate, f.Title, f.Body, f.Read, f.Direction)
		if err != nil {
			return nil, err
		}
		if m.Forwarded, err = fromForwarded(f.Forwarded); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func buildMessage(id, author, recipient string, sendDate int64, title, body string, read bool, direction string) (model.ChatMessage, error) {
	e, err := entity.Parse(id)
	if err != nil {
		return model.ChatMessage{}, err
	}
	a, err := entity.Parse(author)
	if err != nil {
		return model.ChatMessage{}, err
	}
	r, err := parseOptional(recipient)
	if err != nil {
		return model.ChatMessage{}, err
	}
	return model.ChatMessage{
		Entity:    e,
		Author:    a,
		Recipient: r,
		SendDate:  time.UnixMilli(sendDate),
		Title:     title,
		Body:      body,
		Read:      read,
		Direction: model.Direction(direction),
	}, nil
}

func scanStored(s scanner, extra ...any) (StoredMessage, error) {
	var (
		seq, sendDate                      int64
		id, author, recipient, title, body string
		direction, fwd, chat               string
		read                               bool
	)
	dest := append([]any{&seq, &id, &author, &recipient, &sendDate, &title, &body, &read, &direction, &fwd, &chat}, extra...)
	if err := s.Scan(dest...); err != nil {
		return StoredMessage{}, err
	}
	m, err := buildMessage(id, author, recipient, sendDate, title, body, read, direction)
	if err != nil {
		return StoredMessage{}, err
	}
	var forwarded []forwardedMessage
	if err := json.Unmarshal([]byte(fwd), &forwarded); err != nil {
		return StoredMessage{}, fmt.Errorf("decode forwarded of %s: %w", id, err)
	}
	if m.Forwarded, err = fromForwarded(forwarded); err != nil {
		return StoredMessage{}, err
	}
	c, err := entity.Parse(chat)
	if err != nil {
		return StoredMessage{}, err
	}
	return StoredMessage{Seq: seq, Chat: c, Message: m}, nil
}
