package user

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/matheus3301/mpp/internal/entity"
	"github.com/matheus3301/mpp/internal/model"
	"github.com/matheus3301/mpp/internal/store"
)

func TestMergeAndLookup(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	s := NewService(db, &store.PersistenceLock{}, nil)
	ctx := context.Background()
	owner := model.NewUser(entity.New("xmpp~1", "me@x"), model.SyncData{}, nil)
	bob := model.NewUser(entity.New("xmpp~1", "bob@x"), model.SyncData{}, model.Properties{model.PropertyNickname: "bob"})

	if err := s.MergeContacts(ctx, owner, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.MergeContacts(ctx, owner, []model.User{bob}); err != nil {
		t.Fatal(err)
	}
	contacts, err := s.ContactsOf(ctx, owner.Entity)
	if err != nil {
		t.Fatal(err)
	}
	if len(contacts) != 1 || contacts[0].DisplayName() != "bob" {
		t.Fatalf("contacts = %+v", contacts)
	}

	if err := s.SaveUser(ctx, contacts[0].WithStatus(true)); err != nil {
		t.Fatal(err)
	}
	got, err := s.UserByID(ctx, bob.Entity)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || !got.Online {
		t.Errorf("UserByID() = %+v, want online bob", got)
	}
}
