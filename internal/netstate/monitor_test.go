package netstate

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matheus3301/mpp/internal/account"
)

type call struct {
	op       string
	internet bool
}

type recordingRegistry struct {
	mu    sync.Mutex
	calls []call
}

func (r *recordingRegistry) StartConnectionsFor(_ context.Context, _ []account.Account, internet bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{"start", internet})
}

func (r *recordingRegistry) OnNoInternetConnection() map[string]error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{op: "offline"})
	return nil
}

func (r *recordingRegistry) snapshot() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]call(nil), r.calls...)
}

func noAccounts() []account.Account { return nil }

func TestCheckReactsOnlyToChanges(t *testing.T) {
	reg := &recordingRegistry{}
	var online atomic.Bool
	online.Store(true)
	m := NewMonitor(reg, noAccounts, func(context.Context) bool { return online.Load() }, time.Hour, nil)
	ctx := context.Background()

	m.Check(ctx)
	m.Check(ctx)
	online.Store(false)
	m.Check(ctx)
	m.Check(ctx)
	online.Store(true)
	m.Check(ctx)

	want := []call{
		{"start", true},
		{"offline", false},
		{"start", false},
		{"start", true},
	}
	got := reg.snapshot()
	if len(got) != len(want) {
		t.Fatalf("calls = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if !m.Online() {
		t.Error("Online() = false after recovery")
	}
}

func TestStartProbesImmediately(t *testing.T) {
	reg := &recordingRegistry{}
	m := NewMonitor(reg, noAccounts, func(context.Context) bool { return false }, time.Hour, nil)
	m.Start(context.Background())
	defer m.Stop()

	got := reg.snapshot()
	if len(got) != 2 || got[0].op != "offline" || got[1] != (call{"start", false}) {
		t.Errorf("calls = %+v", got)
	}
}

func TestTCPProbe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()

	ctx := context.Background()
	if !TCPProbe(addr, time.Second)(ctx) {
		t.Error("listening address reported unreachable")
	}
	_ = ln.Close()
	if TCPProbe(addr, time.Second)(ctx) {
		t.Error("closed address reported reachable")
	}
	if !TCPProbe("", time.Second)(ctx) {
		t.Error("empty address should always be reachable")
	}
}
