package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/matheus3301/mpp/internal/entity"
	"github.com/matheus3301/mpp/internal/model"
)

// SaveChat inserts a chat when it does not exist yet. Chats are immutable
// once stored.
func (db *DB) SaveChat(ctx context.Context, c model.Chat) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO chats (entity, account_id, is_private, second_user, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(entity) DO NOTHING`,
		entity.Format(c.Entity), c.Entity.RealmID, c.Private, formatOptional(c.SecondUser), time.Now().UnixMilli())
	return wrap("save chat", err)
}

// Chat returns the chat with the given entity, or nil when unknown.
func (db *DB) Chat(ctx context.Context, e entity.Entity) (*model.Chat, error) {
	row := db.QueryRowContext(ctx, `SELECT entity, is_private, second_user FROM chats WHERE entity = ?`, entity.Format(e))
	c, err := scanChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("chat", err)
	}
	return &c, nil
}

// ListChats returns the chats of an account sorted by last message descending.
// An empty accountID lists every account.
func (db *DB) ListChats(ctx context.Context, accountID string, limit int) ([]model.Chat, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT entity, is_private, second_user
		FROM chats
		WHERE ? = '' OR account_id = ?
		ORDER BY last_message_at DESC, entity
		LIMIT ?`, accountID, accountID, limit)
	if err != nil {
		return nil, wrap("list chats", err)
	}
	defer func() { _ = rows.Close() }()

	var chats []model.Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, wrap("list chats", err)
		}
		chats = append(chats, c)
	}
	return chats, wrap("list chats", rows.Err())
}

func scanChat(s scanner) (model.Chat, error) {
	var (
		id, second string
		private    bool
	)
	if err := s.Scan(&id, &private, &second); err != nil {
		return model.Chat{}, err
	}
	e, err := entity.Parse(id)
	if err != nil {
		return model.Chat{}, err
	}
	c := model.Chat{Entity: e, Private: private}
	if c.SecondUser, err = parseOptional(second); err != nil {
		return model.Chat{}, err
	}
	return c, nil
}

func formatOptional(e entity.Entity) string {
	if e.IsZero() {
		return ""
	}
	return entity.Format(e)
}

func parseOptional(s string) (entity.Entity, error) {
	if s == "" {
		return entity.Entity{}, nil
	}
	return entity.Parse(s)
}
