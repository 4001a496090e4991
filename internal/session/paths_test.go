package session

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(HomeEnv, "")

	want := filepath.Join(home, ".mpp", "sessions", "main")
	if got := Dir("main"); got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
}

func TestHomeOverride(t *testing.T) {
	base := t.TempDir()
	t.Setenv(HomeEnv, base)

	if got := ConfigPath(); got != filepath.Join(base, "config.toml") {
		t.Errorf("ConfigPath() = %q", got)
	}
}

func TestLayout(t *testing.T) {
	l := Layout{Dir: "/s"}
	tests := map[string]string{
		l.Socket():          "/s/daemon.sock",
		l.Lock():            "/s/LOCK",
		l.Store():           "/s/mpp.db",
		l.Log():             "/s/logs/mppd.log",
		l.Device("wa-home"): "/s/devices/wa-home.db",
	}
	for got, want := range tests {
		if got != want {
			t.Errorf("path = %q, want %q", got, want)
		}
	}
}

func TestEnsureAndList(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())

	for _, name := range []string{"work", "main"} {
		if err := For(name).Ensure(); err != nil {
			t.Fatal(err)
		}
	}
	l := For("main")
	for _, d := range []string{l.Dir, l.Logs(), l.Devices()} {
		info, err := os.Stat(d)
		if err != nil {
			t.Fatalf("%s not created: %v", d, err)
		}
		if info.Mode().Perm() != 0700 {
			t.Errorf("%s mode = %o, want 700", d, info.Mode().Perm())
		}
	}

	names, err := List()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(names, []string{"main", "work"}) {
		t.Errorf("List() = %v", names)
	}
}

func TestListWithoutBase(t *testing.T) {
	t.Setenv(HomeEnv, filepath.Join(t.TempDir(), "missing"))
	names, err := List()
	if err != nil || len(names) != 0 {
		t.Errorf("List() = %v, %v", names, err)
	}
}

func TestLoadConfigDefaultsDevicePath(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())
	if err := For("test").Ensure(); err != nil {
		t.Fatal(err)
	}
	data := "[[accounts]]\nid = \"wa-home\"\nrealm = \"wa\"\n[accounts.wa]\nphone = \"5511999\"\n"
	if err := os.WriteFile(filepath.Join(Dir("test"), "config.toml"), []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig("test")
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Accounts) != 1 || cfg.Accounts[0].WA == nil {
		t.Fatalf("accounts = %+v", cfg.Accounts)
	}
	if got := cfg.Accounts[0].WA.DevicePath; got != For("test").Device("wa-home") {
		t.Errorf("DevicePath = %q", got)
	}
}

func TestLoadConfigRejectsBadAccountID(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())
	if err := For("test").Ensure(); err != nil {
		t.Fatal(err)
	}
	data := "[[accounts]]\nid = \"../x\"\nrealm = \"wa\"\n"
	if err := os.WriteFile(filepath.Join(Dir("test"), "config.toml"), []byte(data), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig("test"); err == nil {
		t.Error("LoadConfig() expected error for path-like account id")
	}
}
