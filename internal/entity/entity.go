// Package entity defines the protocol-qualified identifier shared by users,
// chats and messages across all realms.
package entity

import (
	"errors"
	"fmt"
	"strings"
)

// Separator splits the realm part from the account entity part in the
// canonical string form.
const Separator = ":"

// NoRealmMessageID prefixes the account entity id of a message the remote
// realm has not acknowledged yet. The locally generated id follows it.
const NoRealmMessageID = "~"

// ErrMalformed is returned by Parse for strings without a separator or with a
// broken realm escape.
var ErrMalformed = errors.New("entity: malformed id")

// Entity identifies a user, chat or message inside one account of one realm.
// It is a value: compare with ==.
type Entity struct {
	RealmID         string
	AccountEntityID string
}

// New returns the entity for the given pair.
func New(realmID, accountEntityID string) Entity {
	return Entity{RealmID: realmID, AccountEntityID: accountEntityID}
}

// Pending returns an entity marking a message that still waits for its realm id.
func Pending(realmID, localID string) Entity {
	return Entity{RealmID: realmID, AccountEntityID: NoRealmMessageID + localID}
}

// IsZero reports whether both parts are empty.
func (e Entity) IsZero() bool {
	return e.RealmID == "" && e.AccountEntityID == ""
}

// Acknowledged reports whether the realm assigned the account entity id.
func (e Entity) Acknowledged() bool {
	return !strings.HasPrefix(e.AccountEntityID, NoRealmMessageID)
}

// LocalID returns the generated part of a pending entity, or "" when the
// entity is acknowledged.
func (e Entity) LocalID() string {
	if e.Acknowledged() {
		return ""
	}
	return strings.TrimPrefix(e.AccountEntityID, NoRealmMessageID)
}

// String returns the canonical form, see Format.
func (e Entity) String() string {
	return Format(e)
}

// Format renders realmId + Separator + accountEntityId. Separator and '%'
// occurring inside the realm id are percent-escaped so Parse can always split
// on the first separator.
func Format(e Entity) string {
	return escapeRealm(e.RealmID) + Separator + e.AccountEntityID
}

// Parse is the inverse of Format.
func Parse(s string) (Entity, error) {
	realm, id, ok := strings.Cut(s, Separator)
	if !ok {
		return Entity{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	realmID, err := unescapeRealm(realm)
	if err != nil {
		return Entity{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	return Entity{RealmID: realmID, AccountEntityID: id}, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Entity {
	e, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return e
}

func escapeRealm(s string) string {
	if !strings.ContainsAny(s, "%"+Separator) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%':
			b.WriteString("%25")
		case Separator[0]:
			b.WriteString("%3A")
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func unescapeRealm(s string) (string, error) {
	if !strings.Contains(s, "%") {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			b.WriteByte(s[i])
			continue
		}
		if i+2 >= len(s) {
			return "", ErrMalformed
		}
		switch s[i+1 : i+3] {
		case "25":
			b.WriteByte('%')
		case "3A":
			b.WriteByte(Separator[0])
		default:
			return "", ErrMalformed
		}
		i += 2
	}
	return b.String(), nil
}
