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

const userColumns = `entity, properties, online, last_properties_sync, last_contacts_sync, last_chats_sync`

// UpsertUser inserts or updates a user. Non-empty incoming properties win over
// stored ones; the stored status is kept unless u carries PropertyOnline.
func (db *DB) UpsertUser(ctx context.Context, u model.User) error {
	return wrap("upsert user", upsertUser(ctx, db.DB, u))
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func upsertUser(ctx context.Context, q execer, u model.User) error {
	var (
		stored       string
		storedOnline bool
	)
	err := q.QueryRowContext(ctx, `SELECT properties, online FROM users WHERE entity = ?`, entity.Format(u.Entity)).Scan(&stored, &storedOnline)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return err
	default:
		var existing model.Properties
		if err := json.Unmarshal([]byte(stored), &existing); err != nil {
			return fmt.Errorf("decode properties of %s: %w", u.Entity, err)
		}
		online := storedOnline
		// Only a user carrying a status overrides the stored one.
		if _, ok := u.Properties[model.PropertyOnline]; ok {
			online = u.Online
		}
		u = model.NewUser(u.Entity, u.SyncData, existing).WithProperties(u.Properties).WithStatus(online)
	}

	props, err := json.Marshal(u.Properties)
	if err != nil {
		return fmt.Errorf("encode properties of %s: %w", u.Entity, err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO users (entity, account_id, realm_user_id, properties, online,
			last_properties_sync, last_contacts_sync, last_chats_sync, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity) DO UPDATE SET
			properties = excluded.properties,
			online = excluded.online,
			last_properties_sync = MAX(users.last_properties_sync, excluded.last_properties_sync),
			last_contacts_sync = MAX(users.last_contacts_sync, excluded.last_contacts_sync),
			last_chats_sync = MAX(users.last_chats_sync, excluded.last_chats_sync),
			updated_at = excluded.updated_at`,
		entity.Format(u.Entity), u.Entity.RealmID, u.Entity.AccountEntityID, string(props), u.Online,
		millis(u.SyncData.LastPropertiesSync), millis(u.SyncData.LastContactsSync), millis(u.SyncData.LastChatsSync),
		time.Now().UnixMilli())
	return err
}

// UserByID returns the user with the given entity, or nil when unknown.
func (db *DB) UserByID(ctx context.Context, e entity.Entity) (*model.User, error) {
	row := db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE entity = ?`, entity.Format(e))
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("user by id", err)
	}
	return &u, nil
}

// ContactsOf lists the contacts linked to owner, ordered by entity.
func (db *DB) ContactsOf(ctx context.Context, owner entity.Entity) ([]model.User, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT u.entity, u.properties, u.online, u.last_properties_sync, u.last_contacts_sync, u.last_chats_sync
		FROM user_contacts c
		JOIN users u ON u.entity = c.contact
		WHERE c.owner = ?
		ORDER BY u.entity`, entity.Format(owner))
	if err != nil {
		return nil, wrap("contacts of", err)
	}
	defer func() { _ = rows.Close() }()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, wrap("contacts of", err)
		}
		users = append(users, u)
	}
	return users, wrap("contacts of", rows.Err())
}

// MergeContacts upserts contacts and links them to owner in one transaction.
// The owner row is created when missing.
func (db *DB) MergeContacts(ctx context.Context, owner model.User, contacts []model.User) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("merge contacts", fmt.Errorf("begin tx: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO users (entity, account_id, realm_user_id, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(entity) DO NOTHING`,
		entity.Format(owner.Entity), owner.Entity.RealmID, owner.Entity.AccountEntityID, time.Now().UnixMilli()); err != nil {
		return wrap("merge contacts", fmt.Errorf("ensure owner: %w", err))
	}
	for _, c := range contacts {
		if err := upsertUser(ctx, tx, c); err != nil {
			return wrap("merge contacts", fmt.Errorf("upsert %s: %w", c.Entity, err))
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_contacts (owner, contact) VALUES (?, ?)
			ON CONFLICT(owner, contact) DO NOTHING`,
			entity.Format(owner.Entity), entity.Format(c.Entity)); err != nil {
			return wrap("merge contacts", fmt.Errorf("link %s: %w", c.Entity, err))
		}
	}
	return wrap("merge contacts", tx.Commit())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (model.User, error) {
	var (
		id, props          string
		online             bool
		propSync, contSync int64
		chatsSync          int64
		properties         model.Properties
	)
	if err := s.Scan(&id, &props, &online, &propSync, &contSync, &chatsSync); err != nil {
		return model.User{}, err
	}
	e, err := entity.Parse(id)
	if err != nil {
		return model.User{}, err
	}
	if err := json.Unmarshal([]byte(props), &properties); err != nil {
		return model.User{}, fmt.Errorf("decode properties of %s: %w", id, err)
	}
	u := model.NewUser(e, model.SyncData{
		LastPropertiesSync: fromMillis(propSync),
		LastContactsSync:   fromMillis(contSync),
		LastChatsSync:      fromMillis(chatsSync),
	}, properties)
	u.Online = online
	return u, nil
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
