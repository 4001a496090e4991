package realm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheus3301/mpp/internal/config"
	"github.com/matheus3301/mpp/internal/realm/sms"
	"github.com/matheus3301/mpp/internal/realm/vk"
	"github.com/matheus3301/mpp/internal/realm/wa"
	"github.com/matheus3301/mpp/internal/realm/xmpp"
)

func disabled() *bool {
	f := false
	return &f
}

func TestNewBuildsEveryRealm(t *testing.T) {
	r, err := New([]config.Account{
		{ID: "phone", Realm: sms.RealmID, SMS: &config.SMSAccount{OwnNumber: "+1555"}},
		{ID: "jabber", Realm: xmpp.RealmID, XMPP: &xmpp.Config{Server: "example.org", Login: "alice", Password: "pw"}},
		{ID: "whatsapp", Realm: wa.RealmID, WA: &wa.Config{Phone: "5511", DevicePath: "/tmp/d.db"}, Enabled: disabled()},
		{ID: "vkontakte", Realm: vk.RealmID, VK: &vk.Config{Token: "t", UserID: "1"}},
	}, Deps{SMSChannel: sms.NewChannel()})
	require.NoError(t, err)

	accounts := r.Accounts()
	require.Len(t, accounts, 4)
	for i, want := range []string{sms.RealmID, xmpp.RealmID, wa.RealmID, vk.RealmID} {
		assert.Equal(t, want, accounts[i].Realm().ID())
	}

	acc, ok := r.AccountByID("jabber")
	require.True(t, ok)
	assert.Equal(t, "alice@example.org", acc.User().Entity.AccountEntityID)
	assert.True(t, acc.Realm().InternetRequired())

	smsAcc, _ := r.AccountByID("phone")
	assert.False(t, smsAcc.Realm().InternetRequired())

	vkAcc, _ := r.AccountByID("vkontakte")
	assert.False(t, vkAcc.Realm().NotifySentMessagesImmediately())

	assert.Len(t, r.Enabled(), 3)
	_, ok = r.AccountByID("missing")
	assert.False(t, ok)
}

func TestNewReportsEveryInvalidAccount(t *testing.T) {
	_, err := New([]config.Account{
		{ID: "a", Realm: "icq"},
		{ID: "b", Realm: xmpp.RealmID},
		{ID: "c", Realm: vk.RealmID, VK: &vk.Config{Token: "t"}},
		{ID: "d", Realm: xmpp.RealmID, XMPP: &xmpp.Config{Login: "bob"}},
	}, Deps{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownRealm))
	assert.Contains(t, err.Error(), "account b: missing [xmpp] block")
	assert.Contains(t, err.Error(), "account c: vk token and user_id are required")
	assert.Contains(t, err.Error(), "account d:")
}

func TestNewRejectsDuplicateIDs(t *testing.T) {
	_, err := New([]config.Account{
		{ID: "x", Realm: sms.RealmID},
		{ID: "x", Realm: sms.RealmID},
	}, Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate id")
}

func TestNormalizersCoverEveryRealm(t *testing.T) {
	n := Normalizers(nil, nil)
	for _, id := range IDs {
		assert.Contains(t, n, id)
	}
	assert.Len(t, n, len(IDs))
}
