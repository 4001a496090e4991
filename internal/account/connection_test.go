package account

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/mpp/internal/status"
)

type fakeSession struct {
	mu          sync.Mutex
	connects    int
	disconnects int
	fail        func(attempt int) error
	// gate blocks every Connect until closed or the handshake is cancelled.
	gate chan struct{}
	// stall blocks the first Connect until closed, ignoring cancellation.
	stall chan struct{}
	done  chan struct{}
}

func (s *fakeSession) Connect(ctx context.Context) (<-chan struct{}, error) {
	s.mu.Lock()
	stall := s.stall
	s.stall = nil
	s.mu.Unlock()
	if stall != nil {
		<-stall
	}
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	if s.fail != nil {
		if err := s.fail(s.connects); err != nil {
			return nil, err
		}
	}
	done := make(chan struct{})
	if stall == nil {
		s.done = done
	}
	return done, nil
}

// Disconnect closes the given attempt and counts it. Only the current
// attempt's channel is tracked by drop.
func (s *fakeSession) Disconnect(done <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnects++
	if s.done != nil && done == (<-chan struct{})(s.done) {
		s.closeDone()
	}
}

func (s *fakeSession) drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeDone()
}

func (s *fakeSession) closeDone() {
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
}

// stalled reports whether the first Connect took the stall.
func (s *fakeSession) stalled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stall == nil
}

func (s *fakeSession) live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done != nil
}

func (s *fakeSession) counts() (connects, disconnects int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects, s.disconnects
}

type testAccount struct {
	*Base
}

func (testAccount) NewConnection() Connection { return nil }

func newTestAccount() testAccount {
	return testAccount{&Base{AccountID: "t~1", AccRealm: StaticRealm{Name: "t"}, IsEnabled: true, UserID: "me"}}
}

var fastBackoff = Backoff{Initial: time.Millisecond, Max: 4 * time.Millisecond}

func waitForState(t *testing.T, c *SessionConnection, want status.State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for c.State() != want {
		select {
		case <-deadline:
			t.Fatalf("state = %s, want %s", c.State(), want)
		case <-time.After(time.Millisecond):
		}
	}
}

func TestStartStop(t *testing.T) {
	s := &fakeSession{}
	c := NewSessionConnection(newTestAccount(), s, ConnectionOptions{InternetRequired: true})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if c.State() != status.Connected {
		t.Fatalf("state = %s, want CONNECTED", c.State())
	}
	// Second start is a no-op.
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	c.Stop()
	if !c.IsStopped() {
		t.Error("not stopped after Stop()")
	}
	if connects, disconnects := s.counts(); connects != 1 || disconnects != 1 {
		t.Errorf("connects = %d, disconnects = %d, want 1, 1", connects, disconnects)
	}
	if !c.InternetRequired() {
		t.Error("InternetRequired() = false")
	}
}

func TestStartFailure(t *testing.T) {
	refused := errors.New("refused")
	s := &fakeSession{fail: func(int) error { return refused }}
	c := NewSessionConnection(newTestAccount(), s, ConnectionOptions{Backoff: fastBackoff})

	err := c.Start(context.Background())
	var connErr *ConnectionError
	if !errors.As(err, &connErr) || !errors.Is(err, refused) {
		t.Fatalf("Start() error = %v, want ConnectionError wrapping refused", err)
	}
	if connErr.Account != "t~1" {
		t.Errorf("Account = %q", connErr.Account)
	}
	if !c.IsStopped() {
		t.Errorf("state = %s, want STOPPED", c.State())
	}

	// A plain connection does not retry on its own.
	time.Sleep(20 * time.Millisecond)
	if connects, _ := s.counts(); connects != 1 {
		t.Errorf("connects = %d, want 1", connects)
	}
}

func TestLoopedRetriesFailedStart(t *testing.T) {
	s := &fakeSession{fail: func(n int) error {
		if n == 1 {
			return errors.New("server down")
		}
		return nil
	}}
	c := NewSessionConnection(newTestAccount(), s, ConnectionOptions{Looped: true, Backoff: fastBackoff})

	var connErr *ConnectionError
	if err := c.Start(context.Background()); !errors.As(err, &connErr) {
		t.Fatalf("Start() error = %v, want ConnectionError", err)
	}
	if c.IsStopped() {
		t.Fatal("looped connection stopped after a failed start")
	}
	waitForState(t, c, status.Connected)
	if connects, _ := s.counts(); connects != 2 {
		t.Errorf("connects = %d, want 2", connects)
	}

	// Start is a no-op while the loop owns the connection.
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	c.Stop()
	if !c.IsStopped() || s.live() {
		t.Errorf("state = %s, live = %v after Stop()", c.State(), s.live())
	}
}

func TestStopEndsRetriesAfterFailedStart(t *testing.T) {
	s := &fakeSession{fail: func(int) error { return errors.New("down") }}
	c := NewSessionConnection(newTestAccount(), s, ConnectionOptions{Looped: true, Backoff: fastBackoff})
	_ = c.Start(context.Background())

	deadline := time.After(2 * time.Second)
	for {
		if connects, _ := s.counts(); connects >= 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("failed start was not retried")
		case <-time.After(time.Millisecond):
		}
	}

	c.Stop()
	after, _ := s.counts()
	time.Sleep(30 * time.Millisecond)
	if connects, _ := s.counts(); connects > after+1 {
		t.Errorf("connects grew from %d to %d after Stop()", after, connects)
	}
	if !c.IsStopped() {
		t.Errorf("state = %s, want STOPPED", c.State())
	}
}

func TestLoopedReconnects(t *testing.T) {
	s := &fakeSession{fail: func(n int) error {
		if n == 2 {
			return errors.New("flaky")
		}
		return nil
	}}
	c := NewSessionConnection(newTestAccount(), s, ConnectionOptions{Looped: true, Backoff: fastBackoff})
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	s.drop()
	deadline := time.After(2 * time.Second)
	for {
		connects, _ := s.counts()
		if connects >= 3 && c.State() == status.Connected {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("no reconnect: connects = %d, state = %s", connects, c.State())
		case <-time.After(time.Millisecond):
		}
	}
	c.Stop()
}

func TestStopCancelsRetries(t *testing.T) {
	s := &fakeSession{fail: func(n int) error {
		if n > 1 {
			return errors.New("down")
		}
		return nil
	}}
	c := NewSessionConnection(newTestAccount(), s, ConnectionOptions{Looped: true, Backoff: fastBackoff})
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.drop()
	waitForState(t, c, status.Connecting)
	time.Sleep(10 * time.Millisecond)

	c.Stop()
	if !c.IsStopped() {
		t.Fatal("not stopped after Stop()")
	}
	after, _ := s.counts()
	time.Sleep(30 * time.Millisecond)
	if connects, _ := s.counts(); connects > after+1 {
		t.Errorf("connects grew from %d to %d after Stop()", after, connects)
	}
	if !c.IsStopped() {
		t.Errorf("state = %s after Stop()", c.State())
	}
}

func TestNonLoopedDropStops(t *testing.T) {
	s := &fakeSession{}
	c := NewSessionConnection(newTestAccount(), s, ConnectionOptions{})
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.drop()
	waitForState(t, c, status.Stopped)

	// Eligible for a fresh start.
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if c.State() != status.Connected {
		t.Errorf("state = %s, want CONNECTED", c.State())
	}
	c.Stop()
}

func TestStopCancelsHandshake(t *testing.T) {
	s := &fakeSession{gate: make(chan struct{})}
	c := NewSessionConnection(newTestAccount(), s, ConnectionOptions{Looped: true, Backoff: fastBackoff})

	result := make(chan error, 1)
	go func() { result <- c.Start(context.Background()) }()
	waitForState(t, c, status.Connecting)

	c.Stop()
	if !c.IsStopped() {
		t.Fatal("Stop() did not flip state synchronously")
	}

	// The gate is never opened: only the cancellation ends the handshake.
	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() still in the handshake after Stop()")
	}
	time.Sleep(10 * time.Millisecond)
	if connects, _ := s.counts(); connects != 0 {
		t.Errorf("connects = %d, want 0", connects)
	}
	if !c.IsStopped() {
		t.Errorf("state = %s, want STOPPED", c.State())
	}
}

func TestCallerContextBoundsHandshake(t *testing.T) {
	s := &fakeSession{gate: make(chan struct{})}
	c := NewSessionConnection(newTestAccount(), s, ConnectionOptions{Backoff: fastBackoff})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	var connErr *ConnectionError
	if err := c.Start(ctx); !errors.As(err, &connErr) || !errors.Is(err, context.Canceled) {
		t.Fatalf("Start() error = %v, want cancelled handshake", err)
	}
	if !c.IsStopped() {
		t.Errorf("state = %s, want STOPPED", c.State())
	}
}

func TestStaleHandshakeKeepsNewSession(t *testing.T) {
	stall := make(chan struct{})
	s := &fakeSession{stall: stall}
	c := NewSessionConnection(newTestAccount(), s, ConnectionOptions{Looped: true, Backoff: fastBackoff})

	first := make(chan error, 1)
	go func() { first <- c.Start(context.Background()) }()
	for !s.stalled() {
		time.Sleep(time.Millisecond)
	}

	c.Stop()
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if c.State() != status.Connected {
		t.Fatalf("state = %s, want CONNECTED", c.State())
	}

	// The first handshake completes late and is torn down on its own.
	close(stall)
	select {
	case err := <-first:
		if err != nil {
			t.Fatalf("stale Start() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stale Start() did not return")
	}
	if _, disconnects := s.counts(); disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", disconnects)
	}
	if c.State() != status.Connected || !s.live() {
		t.Errorf("state = %s, live = %v, want the new session intact", c.State(), s.live())
	}
	c.Stop()
}
