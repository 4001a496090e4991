package session

import "github.com/matheus3301/mpp/internal/config"

const DefaultSessionName = "main"

// Resolve determines the active session name using precedence:
// 1. flagOverride (--session flag)
// 2. config.toml default_session
// 3. "main"
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	cfg, err := config.Load(ConfigPath())
	if err == nil && cfg.DefaultSession != "" {
		return cfg.DefaultSession
	}
	return DefaultSessionName
}

// LoadConfig reads the session's account configuration from its directory.
// Unset WhatsApp device paths default to the session's device store.
func LoadConfig(name string) (*config.Session, error) {
	cfg, err := config.FindSession(Dir(name))
	if err != nil {
		return nil, err
	}
	for i, acc := range cfg.Accounts {
		if err := ValidateAccountID(acc.ID); err != nil {
			return nil, err
		}
		if acc.WA != nil && acc.WA.DevicePath == "" {
			wa := *acc.WA
			wa.DevicePath = For(name).Device(acc.ID)
			cfg.Accounts[i].WA = &wa
		}
	}
	return cfg, nil
}
