// Package user is the contact service. Every store access happens under the
// shared persistence lock.
package user

import (
	"context"

	"go.uber.org/zap"

	"github.com/matheus3301/mpp/internal/entity"
	"github.com/matheus3301/mpp/internal/model"
	"github.com/matheus3301/mpp/internal/store"
)

// Store is the user persistence the service needs. *store.DB implements it.
type Store interface {
	UserByID(ctx context.Context, e entity.Entity) (*model.User, error)
	ContactsOf(ctx context.Context, owner entity.Entity) ([]model.User, error)
	MergeContacts(ctx context.Context, owner model.User, contacts []model.User) error
	UpsertUser(ctx context.Context, u model.User) error
}

// Service reads and merges users.
type Service struct {
	store  Store
	lock   *store.PersistenceLock
	logger *zap.Logger
}

// NewService creates a user service.
func NewService(s Store, lock *store.PersistenceLock, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: s, lock: lock, logger: logger.Named("users")}
}

// UserByID returns a stored user, or nil when unknown.
func (s *Service) UserByID(ctx context.Context, e entity.Entity) (*model.User, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.store.UserByID(ctx, e)
}

// ContactsOf lists the contacts of owner.
func (s *Service) ContactsOf(ctx context.Context, owner entity.Entity) ([]model.User, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.store.ContactsOf(ctx, owner)
}

// MergeContacts stores contacts and links them to owner.
func (s *Service) MergeContacts(ctx context.Context, owner model.User, contacts []model.User) error {
	if len(contacts) == 0 {
		return nil
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	if err := s.store.MergeContacts(ctx, owner, contacts); err != nil {
		return err
	}
	s.logger.Debug("contacts merged", zap.Stringer("owner", owner.Entity), zap.Int("count", len(contacts)))
	return nil
}

// SaveUser stores a single user, e.g. after a presence change.
func (s *Service) SaveUser(ctx context.Context, u model.User) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.store.UpsertUser(ctx, u)
}
