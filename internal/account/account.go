// Package account defines accounts, their per-realm connections and the
// registry that owns at most one live connection per account.
package account

import (
	"context"
	"sync"

	"github.com/matheus3301/mpp/internal/entity"
	"github.com/matheus3301/mpp/internal/model"
	"github.com/matheus3301/mpp/internal/status"
)

// Realm describes a backend protocol and its policies.
type Realm interface {
	ID() string
	InternetRequired() bool
	NotifySentMessagesImmediately() bool
}

// Account is one configured identity inside a realm.
type Account interface {
	ID() string
	Realm() Realm
	Enabled() bool
	User() model.User
	NewConnection() Connection
	NewUserEntity(realmUserID string) entity.Entity
	NewMessageEntity(realmMessageID string) entity.Entity
	IsAccountUser(e entity.Entity) bool
}

// Connection is the live backend session of one account.
type Connection interface {
	Start(ctx context.Context) error
	Stop()
	IsStopped() bool
	InternetRequired() bool
	Account() Account
	State() status.State
}

// StaticRealm is a Realm with fixed policies.
type StaticRealm struct {
	Name              string
	Internet          bool
	NotifyImmediately bool
}

func (r StaticRealm) ID() string                          { return r.Name }
func (r StaticRealm) InternetRequired() bool              { return r.Internet }
func (r StaticRealm) NotifySentMessagesImmediately() bool { return r.NotifyImmediately }

// Base implements the realm-independent half of Account. Realm packages embed
// it and add NewConnection.
type Base struct {
	mu        sync.RWMutex
	AccountID string
	AccRealm  Realm
	// IsEnabled is the configured state; SetEnabled changes it at runtime.
	IsEnabled bool
	// UserID is the realm-native id of the account owner.
	UserID     string
	Properties model.Properties
}

func (b *Base) ID() string   { return b.AccountID }
func (b *Base) Realm() Realm { return b.AccRealm }
func (b *Base) Enabled() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.IsEnabled
}

// SetEnabled enables or disables the account.
func (b *Base) SetEnabled(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.IsEnabled = enabled
}

// User returns the account owner. It is always online.
func (b *Base) User() model.User {
	return model.NewUser(b.NewUserEntity(b.UserID), model.SyncData{}, b.Properties).WithStatus(true)
}

// NewUserEntity scopes a realm user id to this account.
func (b *Base) NewUserEntity(realmUserID string) entity.Entity {
	return entity.New(b.AccountID, realmUserID)
}

// NewMessageEntity scopes a realm message id to this account.
func (b *Base) NewMessageEntity(realmMessageID string) entity.Entity {
	return entity.New(b.AccountID, realmMessageID)
}

func (b *Base) IsAccountUser(e entity.Entity) bool {
	return e == b.NewUserEntity(b.UserID)
}
