package xmpp

import (
	"errors"
	"net"
	"strconv"
	"strings"
)

const (
	DefaultPort     = 5222
	DefaultResource = "mpp"
)

// Config is the connection configuration of one XMPP account.
type Config struct {
	Server   string `toml:"server" yaml:"server"`
	Login    string `toml:"login" yaml:"login"`
	Password string `toml:"password" yaml:"password"`
	Resource string `toml:"resource" yaml:"resource"`
	Port     int    `toml:"port" yaml:"port"`
	// DirectTLS dials TLS right away instead of upgrading with STARTTLS.
	DirectTLS bool `toml:"direct_tls" yaml:"direct_tls"`
}

// WithDefaults fills the resource and port.
func (c Config) WithDefaults() Config {
	if c.Resource == "" {
		c.Resource = DefaultResource
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	return c
}

func (c Config) Validate() error {
	switch {
	case c.Server == "":
		return errors.New("xmpp: server is required")
	case c.Login == "":
		return errors.New("xmpp: login is required")
	case c.Port < 0 || c.Port > 65535:
		return errors.New("xmpp: port out of range")
	}
	return nil
}

// JID returns the bare JID of the account user.
func (c Config) JID() string {
	if strings.Contains(c.Login, "@") {
		return c.Login
	}
	return c.Login + "@" + c.Server
}

// Addr is the host:port to dial.
func (c Config) Addr() string {
	c = c.WithDefaults()
	return net.JoinHostPort(c.Server, strconv.Itoa(c.Port))
}

// SameAccount reports whether both configurations log in as the same user
// on the same server and port.
func (c Config) SameAccount(o Config) bool {
	c, o = c.WithDefaults(), o.WithDefaults()
	return c.Login == o.Login && c.Server == o.Server && c.Port == o.Port
}

// SameCredentials is SameAccount with an equal password.
func (c Config) SameCredentials(o Config) bool {
	return c.SameAccount(o) && c.Password == o.Password
}
