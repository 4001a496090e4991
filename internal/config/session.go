package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/matheus3301/mpp/internal/realm/vk"
	"github.com/matheus3301/mpp/internal/realm/wa"
	"github.com/matheus3301/mpp/internal/realm/xmpp"
)

// Session is the per-session daemon configuration, read from
// ~/.mpp/sessions/<name>/config.toml or config.yaml.
type Session struct {
	// Workers bounds concurrent connection start and stop calls.
	Workers int `toml:"workers" yaml:"workers"`
	// QueueSize is the inbound queue buffer.
	QueueSize int `toml:"queue_size" yaml:"queue_size"`
	// HTTPAddr serves /metrics, /healthz and the SMS webhooks. Empty disables it.
	HTTPAddr string `toml:"http_addr" yaml:"http_addr"`
	// LogLevel is a zap level name. Empty is info.
	LogLevel  string     `toml:"log_level" yaml:"log_level"`
	Network   Network    `toml:"network" yaml:"network"`
	Reconnect Reconnect  `toml:"reconnect" yaml:"reconnect"`
	Accounts  []Account  `toml:"accounts" yaml:"accounts"`
	Webhook   SMSWebhook `toml:"sms_webhook" yaml:"sms_webhook"`
}

// Network configures the reachability probe.
type Network struct {
	// ProbeAddr is dialed over TCP. Empty means always online.
	ProbeAddr string        `toml:"probe_addr" yaml:"probe_addr"`
	Interval  time.Duration `toml:"interval" yaml:"interval"`
	Timeout   time.Duration `toml:"timeout" yaml:"timeout"`
}

// Reconnect bounds the backoff of looped connections.
type Reconnect struct {
	Initial time.Duration `toml:"initial" yaml:"initial"`
	Max     time.Duration `toml:"max" yaml:"max"`
}

// SMSWebhook protects the inbound SMS endpoints.
type SMSWebhook struct {
	Token string `toml:"token" yaml:"token"`
}

// Account is one configured identity. Exactly the block matching Realm is used.
type Account struct {
	ID      string `toml:"id" yaml:"id"`
	Realm   string `toml:"realm" yaml:"realm"`
	Enabled *bool  `toml:"enabled" yaml:"enabled"`

	SMS  *SMSAccount  `toml:"sms" yaml:"sms"`
	XMPP *xmpp.Config `toml:"xmpp" yaml:"xmpp"`
	WA   *wa.Config   `toml:"wa" yaml:"wa"`
	VK   *vk.Config   `toml:"vk" yaml:"vk"`
}

// IsEnabled reports whether the account is enabled. Accounts are enabled
// unless configured otherwise.
func (a Account) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// SMSAccount configures an SMS identity and its outbound gateway.
type SMSAccount struct {
	OwnNumber  string `toml:"own_number" yaml:"own_number"`
	GatewayURL string `toml:"gateway_url" yaml:"gateway_url"`
	APIID      string `toml:"api_id" yaml:"api_id"`
	Sender     string `toml:"sender" yaml:"sender"`
}

// WithDefaults fills unset fields.
func (s Session) WithDefaults() Session {
	if s.Workers <= 0 {
		s.Workers = 4
	}
	if s.QueueSize <= 0 {
		s.QueueSize = 256
	}
	if s.Network.Interval <= 0 {
		s.Network.Interval = 30 * time.Second
	}
	if s.Network.Timeout <= 0 {
		s.Network.Timeout = 5 * time.Second
	}
	if s.Reconnect.Initial <= 0 {
		s.Reconnect.Initial = 2 * time.Second
	}
	if s.Reconnect.Max < s.Reconnect.Initial {
		s.Reconnect.Max = max(2*time.Minute, s.Reconnect.Initial)
	}
	return s
}

// Validate checks account ids are present and unique.
func (s Session) Validate() error {
	seen := make(map[string]bool, len(s.Accounts))
	var errs []error
	for i, a := range s.Accounts {
		switch {
		case a.ID == "":
			errs = append(errs, fmt.Errorf("accounts[%d]: id is required", i))
		case seen[a.ID]:
			errs = append(errs, fmt.Errorf("accounts[%d]: duplicate id %q", i, a.ID))
		}
		seen[a.ID] = true
		if a.Realm == "" {
			errs = append(errs, fmt.Errorf("accounts[%d]: realm is required", i))
		}
	}
	return errors.Join(errs...)
}

// LoadSession reads a session config. The format follows the extension:
// .yaml and .yml are YAML, anything else TOML. Unknown keys are rejected and
// defaults are applied.
func LoadSession(path string) (*Session, error) {
	var s Session
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		md, err := toml.DecodeFile(path, &s)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if err := undecoded(md); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	s = s.WithDefaults()
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	return &s, nil
}

// FindSession returns the first existing config file in dir, preferring
// config.toml. A missing file yields an empty, defaulted Session.
func FindSession(dir string) (*Session, error) {
	for _, name := range []string{"config.toml", "config.yaml", "config.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return LoadSession(path)
		}
	}
	s := Session{}.WithDefaults()
	return &s, nil
}
