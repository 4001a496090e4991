// Package model holds the canonical, realm-independent values the core
// persists: users, chats and chat messages.
package model

import (
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/matheus3301/mpp/internal/entity"
)

// Well-known user property names.
const (
	PropertyFirstName    = "first_name"
	PropertyLastName     = "last_name"
	PropertyNickname     = "nickname"
	PropertyEmail        = "email"
	PropertyPhone        = "phone"
	PropertyPhones       = "phones"
	PropertyOnline       = "online"
	PropertyAvatarHash   = "avatar_hash"
	PropertyAvatarBase64 = "avatar_base64"
)

// PhonesSeparators lists the separators accepted inside PropertyPhones.
const PhonesSeparators = ",;"

// Properties maps property names to values.
type Properties map[string]string

// SyncData records when the user's data was last pulled from its realm.
// The zero value means never synced.
type SyncData struct {
	LastPropertiesSync time.Time
	LastContactsSync   time.Time
	LastChatsSync      time.Time
}

// User is a canonical contact. Values are never mutated in place: the With*
// methods return updated copies.
type User struct {
	Entity     entity.Entity
	Properties Properties
	Online     bool
	SyncData   SyncData
}

// NewUser builds a user, copying props.
func NewUser(e entity.Entity, sync SyncData, props Properties) User {
	u := User{Entity: e, Properties: maps.Clone(props), SyncData: sync}
	if u.Properties == nil {
		u.Properties = Properties{}
	}
	if v, ok := u.Properties[PropertyOnline]; ok {
		u.Online, _ = strconv.ParseBool(v)
	}
	return u
}

// Property returns the value of the named property.
func (u User) Property(name string) (string, bool) {
	v, ok := u.Properties[name]
	return v, ok
}

// DisplayName prefers "first last", then the nickname, then the realm id.
func (u User) DisplayName() string {
	first := u.Properties[PropertyFirstName]
	last := u.Properties[PropertyLastName]
	if name := strings.TrimSpace(first + " " + last); name != "" {
		return name
	}
	if nick := u.Properties[PropertyNickname]; nick != "" {
		return nick
	}
	return u.Entity.AccountEntityID
}

// WithStatus returns a copy with the given presence.
func (u User) WithStatus(online bool) User {
	c := u.clone()
	c.Online = online
	c.Properties[PropertyOnline] = strconv.FormatBool(online)
	return c
}

// WithProperties returns a copy where props override existing values.
// Empty values in props are ignored.
func (u User) WithProperties(props Properties) User {
	c := u.clone()
	for k, v := range props {
		if v != "" {
			c.Properties[k] = v
		}
	}
	if v, ok := props[PropertyOnline]; ok {
		c.Online, _ = strconv.ParseBool(v)
	}
	return c
}

// Phones lists the numbers from PropertyPhones in order, skipping empties.
func (u User) Phones() []string {
	raw := u.Properties[PropertyPhones]
	if raw == "" {
		return nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return strings.ContainsRune(PhonesSeparators, r)
	})
	phones := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			phones = append(phones, p)
		}
	}
	return phones
}

// HasPhone matches phone against the phone list first and the default phone
// property second.
func (u User) HasPhone(phone string) bool {
	if slices.Contains(u.Phones(), phone) {
		return true
	}
	return u.Properties[PropertyPhone] != "" && u.Properties[PropertyPhone] == phone
}

func (u User) clone() User {
	c := u
	c.Properties = maps.Clone(u.Properties)
	if c.Properties == nil {
		c.Properties = Properties{}
	}
	return c
}

// ParseNameProperties splits a full name into first and last name unless
// those properties are already set.
func ParseNameProperties(props Properties, fullName string) {
	fields := strings.Fields(fullName)
	if len(fields) == 0 {
		return
	}
	if props[PropertyFirstName] == "" {
		props[PropertyFirstName] = fields[0]
	}
	if len(fields) > 1 && props[PropertyLastName] == "" {
		props[PropertyLastName] = strings.Join(fields[1:], " ")
	}
}
