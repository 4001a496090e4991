package xmpp

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/matheus3301/mpp/internal/account"
	"github.com/matheus3301/mpp/internal/entity"
	"github.com/matheus3301/mpp/internal/model"
)

// UserService loads users from the live session: the roster for contacts,
// presence for online status and vCards for profile properties. Every
// operation fails with account.ErrNotConnected while disconnected.
type UserService struct {
	conn   *Connection
	logger *zap.Logger
}

// NewUserService binds the service to conn.
func NewUserService(conn *Connection) *UserService {
	return &UserService{conn: conn, logger: conn.acc.deps.Logger.Named("xmpp.users")}
}

// UserByID returns the account user or a roster contact, nil when jid is in
// neither.
func (s *UserService) UserByID(ctx context.Context, jid string) (*model.User, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	acc := s.conn.acc
	if acc.IsAccountUser(acc.NewUserEntity(jid)) {
		u := s.toUser(ctx, jid, "")
		return &u, nil
	}
	entry, ok := s.conn.session.rosterEntry(jid)
	if !ok {
		return nil, nil
	}
	u := s.toUser(ctx, bareJID(entry.Remote), entry.Name)
	return &u, nil
}

// Contacts returns the roster for the account user. Other users' contacts
// are not visible over XMPP, so the result is empty for them.
func (s *UserService) Contacts(ctx context.Context, jid string) ([]model.User, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if jid != s.conn.acc.User().Entity.AccountEntityID {
		return nil, nil
	}
	entries := s.conn.session.rosterEntries()
	out := make([]model.User, 0, len(entries))
	for _, e := range entries {
		out = append(out, s.toUser(ctx, bareJID(e.Remote), e.Name))
	}
	return out, nil
}

// CheckOnlineUsers returns copies of users with their current presence.
func (s *UserService) CheckOnlineUsers(_ context.Context, users []model.User) ([]model.User, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	out := make([]model.User, 0, len(users))
	for _, u := range users {
		out = append(out, u.WithStatus(s.isOnline(u.Entity)))
	}
	return out, nil
}

func (s *UserService) checkConnected() error {
	if !s.conn.session.connected() {
		return account.ErrNotConnected
	}
	return nil
}

func (s *UserService) isOnline(e entity.Entity) bool {
	acc := s.conn.acc
	if acc.IsAccountUser(e) {
		return true
	}
	if _, ok := s.conn.session.rosterEntry(e.AccountEntityID); !ok {
		return false
	}
	return s.conn.session.isOnline(e.AccountEntityID)
}

// toUser builds a user from the vCard of jid. A failed vCard request only
// costs the profile properties; rosterName is used for the name instead.
func (s *UserService) toUser(ctx context.Context, jid, rosterName string) model.User {
	acc := s.conn.acc
	e := acc.NewUserEntity(jid)
	props := model.Properties{model.PropertyOnline: strconv.FormatBool(s.isOnline(e))}

	card, err := s.loadVCard(ctx, jid)
	if err != nil {
		s.logger.Warn("vcard not loaded", zap.String("jid", jid), zap.Error(err))
		model.ParseNameProperties(props, rosterName)
		return model.NewUser(e, model.SyncData{}, props)
	}
	card.apply(props)
	return model.NewUser(e, model.SyncData{}, props)
}

func (s *UserService) loadVCard(ctx context.Context, jid string) (*vCard, error) {
	ctx, cancel := context.WithTimeout(ctx, s.conn.acc.deps.VCardTimeout)
	defer cancel()

	id := newStanzaID()
	raw := fmt.Sprintf("<iq id='%s' to='%s' type='get'><vCard xmlns='vcard-temp'/></iq>", escape(id), escape(jid))
	iq, err := s.conn.session.query(ctx, id, raw)
	if err != nil {
		return nil, err
	}
	if iq.Type == "error" {
		return nil, errors.New("vcard request rejected")
	}
	return parseVCard(iq.Query)
}

type vCard struct {
	FullName string `xml:"FN"`
	Name     struct {
		Given  string `xml:"GIVEN"`
		Family string `xml:"FAMILY"`
	} `xml:"N"`
	Nickname string `xml:"NICKNAME"`
	Emails   []struct {
		Home   *struct{} `xml:"HOME"`
		UserID string    `xml:"USERID"`
	} `xml:"EMAIL"`
	Phones []struct {
		Home   *struct{} `xml:"HOME"`
		Voice  *struct{} `xml:"VOICE"`
		Number string    `xml:"NUMBER"`
	} `xml:"TEL"`
	Photo struct {
		BinVal string `xml:"BINVAL"`
	} `xml:"PHOTO"`
}

func parseVCard(query []byte) (*vCard, error) {
	var card vCard
	if len(strings.TrimSpace(string(query))) == 0 {
		return &card, nil
	}
	if err := xml.Unmarshal(query, &card); err != nil {
		return nil, fmt.Errorf("parse vcard: %w", err)
	}
	return &card, nil
}

func (c *vCard) apply(props model.Properties) {
	set := func(name, value string) {
		if value != "" {
			props[name] = value
		}
	}
	set(model.PropertyFirstName, c.Name.Given)
	set(model.PropertyLastName, c.Name.Family)
	set(model.PropertyNickname, c.Nickname)
	for _, e := range c.Emails {
		if e.Home != nil {
			set(model.PropertyEmail, e.UserID)
			break
		}
	}
	for _, p := range c.Phones {
		if p.Home != nil && p.Voice != nil {
			set(model.PropertyPhone, p.Number)
			break
		}
	}
	if c.Photo.BinVal != "" {
		data, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(c.Photo.BinVal), ""))
		if err == nil && len(data) > 0 {
			sum := sha1.Sum(data)
			props[model.PropertyAvatarHash] = hex.EncodeToString(sum[:])
			props[model.PropertyAvatarBase64] = base64.StdEncoding.EncodeToString(data)
		}
	}
	model.ParseNameProperties(props, c.FullName)
}
