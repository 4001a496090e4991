// Package realm builds the configured accounts of the closed realm set and
// exposes the per-realm normalizers.
package realm

import (
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/matheus3301/mpp/internal/account"
	"github.com/matheus3301/mpp/internal/bus"
	"github.com/matheus3301/mpp/internal/config"
	"github.com/matheus3301/mpp/internal/message"
	"github.com/matheus3301/mpp/internal/realm/sms"
	"github.com/matheus3301/mpp/internal/realm/vk"
	"github.com/matheus3301/mpp/internal/realm/wa"
	"github.com/matheus3301/mpp/internal/realm/xmpp"
)

// ErrUnknownRealm is returned for an account whose realm is not built in.
var ErrUnknownRealm = errors.New("unknown realm")

// IDs lists the supported realms.
var IDs = []string{sms.RealmID, xmpp.RealmID, wa.RealmID, vk.RealmID}

// Deps are the collaborators shared by accounts of every realm.
type Deps struct {
	Queue      *bus.Queue
	Bus        *bus.Bus
	SMSChannel *sms.Channel
	Users      sms.Users
	Backoff    account.Backoff
	Logger     *zap.Logger
}

// Registry holds the configured accounts in configuration order.
type Registry struct {
	accounts []account.Account
	byID     map[string]account.Account
	logger   *zap.Logger
}

// New builds every configured account. All configuration errors are
// reported together.
func New(cfgs []config.Account, deps Deps) (*Registry, error) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	r := &Registry{
		byID:   make(map[string]account.Account, len(cfgs)),
		logger: deps.Logger.Named("realm"),
	}
	var errs []error
	for _, cfg := range cfgs {
		acc, err := NewAccount(cfg, deps)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := r.byID[acc.ID()]; dup {
			errs = append(errs, fmt.Errorf("account %s: duplicate id", acc.ID()))
			continue
		}
		r.accounts = append(r.accounts, acc)
		r.byID[acc.ID()] = acc
		r.logger.Info("account configured",
			zap.String("account", acc.ID()),
			zap.String("realm", acc.Realm().ID()),
			zap.Bool("enabled", acc.Enabled()))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return r, nil
}

// NewAccount builds one account from its configuration block.
func NewAccount(cfg config.Account, deps Deps) (account.Account, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	missing := func() error {
		return fmt.Errorf("account %s: missing [%s] block", cfg.ID, cfg.Realm)
	}

	switch cfg.Realm {
	case sms.RealmID:
		c := config.SMSAccount{}
		if cfg.SMS != nil {
			c = *cfg.SMS
		}
		var gw sms.Gateway
		if c.GatewayURL != "" {
			gw = sms.NewHTTPGateway(c.GatewayURL, c.APIID, c.Sender)
		}
		return sms.NewAccount(cfg.ID, cfg.IsEnabled(), c.OwnNumber, sms.Deps{
			Channel: deps.SMSChannel,
			Queue:   deps.Queue,
			Bus:     deps.Bus,
			Users:   deps.Users,
			Gateway: gw,
			Backoff: deps.Backoff,
			Logger:  logger,
		}), nil
	case xmpp.RealmID:
		if cfg.XMPP == nil {
			return nil, missing()
		}
		c := cfg.XMPP.WithDefaults()
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("account %s: %w", cfg.ID, err)
		}
		return xmpp.NewAccount(cfg.ID, cfg.IsEnabled(), c, xmpp.Deps{
			Queue:   deps.Queue,
			Bus:     deps.Bus,
			Backoff: deps.Backoff,
			Logger:  logger,
		}), nil
	case wa.RealmID:
		if cfg.WA == nil {
			return nil, missing()
		}
		if cfg.WA.Phone == "" {
			return nil, fmt.Errorf("account %s: wa phone is required", cfg.ID)
		}
		return wa.NewAccount(cfg.ID, cfg.IsEnabled(), *cfg.WA, wa.Deps{
			Queue:   deps.Queue,
			Bus:     deps.Bus,
			Backoff: deps.Backoff,
			Logger:  logger,
		}), nil
	case vk.RealmID:
		if cfg.VK == nil {
			return nil, missing()
		}
		if cfg.VK.Token == "" || cfg.VK.UserID == "" {
			return nil, fmt.Errorf("account %s: vk token and user_id are required", cfg.ID)
		}
		return vk.NewAccount(cfg.ID, cfg.IsEnabled(), *cfg.VK, vk.Deps{
			Queue:   deps.Queue,
			Bus:     deps.Bus,
			Backoff: deps.Backoff,
			Logger:  logger,
		}), nil
	default:
		return nil, fmt.Errorf("account %s: %w %q", cfg.ID, ErrUnknownRealm, cfg.Realm)
	}
}

// Normalizers returns one normalizer per realm, keyed by realm id.
func Normalizers(users sms.Users, logger *zap.Logger) map[string]message.Normalizer {
	return map[string]message.Normalizer{
		sms.RealmID:  sms.NewNormalizer(users, logger),
		xmpp.RealmID: xmpp.NewNormalizer(),
		wa.RealmID:   wa.NewNormalizer(),
		vk.RealmID:   vk.NewNormalizer(),
	}
}

// AccountByID implements message.Accounts.
func (r *Registry) AccountByID(id string) (account.Account, bool) {
	acc, ok := r.byID[id]
	return acc, ok
}

// Accounts returns the accounts in configuration order.
func (r *Registry) Accounts() []account.Account {
	return slices.Clone(r.accounts)
}

// Enabled returns the enabled accounts.
func (r *Registry) Enabled() []account.Account {
	var out []account.Account
	for _, acc := range r.accounts {
		if acc.Enabled() {
			out = append(out, acc)
		}
	}
	return out
}
