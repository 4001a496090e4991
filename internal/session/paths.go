package session

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// HomeEnv overrides the base directory.
const HomeEnv = "MPP_HOME"

// BaseDir returns $MPP_HOME, or ~/.mpp when unset.
func BaseDir() string {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".mpp")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// Dir returns the session-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "sessions", name)
}

// List returns the names of the session directories, sorted.
func List() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(BaseDir(), "sessions"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && ValidateName(e.Name()) == nil {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Layout names the files inside one session directory.
type Layout struct {
	Dir string
}

// For returns the layout of a named session.
func For(name string) Layout {
	return Layout{Dir: Dir(name)}
}

// Socket is the control API's unix socket.
func (l Layout) Socket() string { return filepath.Join(l.Dir, "daemon.sock") }

// Lock is held by whichever process owns the session.
func (l Layout) Lock() string { return filepath.Join(l.Dir, "LOCK") }

// Store is the message database.
func (l Layout) Store() string { return filepath.Join(l.Dir, "mpp.db") }

func (l Layout) Logs() string { return filepath.Join(l.Dir, "logs") }

func (l Layout) Log() string { return filepath.Join(l.Logs(), "mppd.log") }

func (l Layout) Devices() string { return filepath.Join(l.Dir, "devices") }

// Device is the whatsmeow device store of one WhatsApp account.
func (l Layout) Device(accountID string) string {
	return filepath.Join(l.Devices(), accountID+".db")
}

// Ensure creates the directory tree, private to the user.
func (l Layout) Ensure() error {
	for _, d := range []string{l.Dir, l.Logs(), l.Devices()} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
