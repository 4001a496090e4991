package account

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/mpp/internal/bus"
	"github.com/matheus3301/mpp/internal/metrics"
	"github.com/matheus3301/mpp/internal/status"
)

// Session is the realm-specific transport behind a SessionConnection.
type Session interface {
	// Connect performs the handshake. ctx bounds the handshake only. The
	// returned channel is closed when the established session drops and
	// identifies the attempt to Disconnect.
	Connect(ctx context.Context) (done <-chan struct{}, err error)
	// Disconnect tears down the attempt that returned done. It is a no-op
	// once a later attempt replaced it or it already dropped.
	Disconnect(done <-chan struct{})
}

// Backoff bounds the delay between reconnect attempts.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// DefaultBackoff is used when ConnectionOptions leaves Backoff zero.
var DefaultBackoff = Backoff{Initial: 2 * time.Second, Max: 2 * time.Minute}

// ConnectionOptions configures a SessionConnection.
type ConnectionOptions struct {
	InternetRequired bool
	// Looped connections keep retrying with backoff, after a failed Start
	// as well as after the session drops.
	Looped  bool
	Backoff Backoff
	Bus     *bus.Bus
	Logger  *zap.Logger
}

// SessionConnection drives a Session through the stopped, connecting and
// connected states. All realms build their Connection on it.
type SessionConnection struct {
	account Account
	session Session
	opts    ConnectionOptions
	machine *status.Machine
	logger  *zap.Logger

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	done   <-chan struct{}
}

// NewSessionConnection creates a stopped connection.
func NewSessionConnection(acc Account, s Session, opts ConnectionOptions) *SessionConnection {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Backoff.Initial <= 0 {
		opts.Backoff.Initial = DefaultBackoff.Initial
	}
	if opts.Backoff.Max < opts.Backoff.Initial {
		opts.Backoff.Max = max(DefaultBackoff.Max, opts.Backoff.Initial)
	}
	return &SessionConnection{
		account: acc,
		session: s,
		opts:    opts,
		machine: status.NewMachine(opts.Bus, acc.ID()),
		logger:  opts.Logger.With(zap.String("account", acc.ID())),
	}
}

func (c *SessionConnection) Account() Account       { return c.account }
func (c *SessionConnection) InternetRequired() bool { return c.opts.InternetRequired }
func (c *SessionConnection) State() status.State    { return c.machine.Current() }
func (c *SessionConnection) IsStopped() bool        { return c.machine.Current() == status.Stopped }

// Session returns the underlying transport.
func (c *SessionConnection) Session() Session {
	return c.session
}

// Start connects. It is a no-op returning nil unless the connection is
// stopped. A failed handshake returns a *ConnectionError; a plain connection
// goes back to stopped, a looped one stays connecting and retries in the
// background until Stop. Stop cancels a handshake in flight.
func (c *SessionConnection) Start(ctx context.Context) error {
	c.mu.Lock()
	if !c.machine.CompareAndTransition(status.Stopped, status.Connecting) {
		c.mu.Unlock()
		return nil
	}
	c.gen++
	gen := c.gen
	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	c.logger.Info("connecting")
	done, err := c.connect(ctx, loopCtx)
	if err != nil {
		c.mu.Lock()
		switch {
		case c.gen != gen:
			c.mu.Unlock()
			return nil
		case c.opts.Looped:
			c.mu.Unlock()
			c.logger.Warn("connect failed, retrying", zap.Error(err))
			go c.supervise(loopCtx, gen, nil)
		default:
			cancel()
			c.cancel = nil
			c.machine.CompareAndTransition(status.Connecting, status.Stopped)
			c.mu.Unlock()
		}
		return &ConnectionError{Account: c.account.ID(), Err: err}
	}
	if !c.established(gen, done) {
		return nil
	}
	c.logger.Info("connected")
	go c.supervise(loopCtx, gen, done)
	return nil
}

// connect runs one handshake. It ends early when either ctx or loopCtx does.
func (c *SessionConnection) connect(ctx, loopCtx context.Context) (<-chan struct{}, error) {
	hsCtx, cancel := context.WithCancel(loopCtx)
	defer cancel()
	defer context.AfterFunc(ctx, cancel)()

	done, err := c.session.Connect(hsCtx)
	result := "success"
	if err != nil {
		result = "failure"
	}
	metrics.ConnectionAttemptsTotal.WithLabelValues(c.account.Realm().ID(), result).Inc()
	return done, err
}

// established records a finished handshake. A handshake that lost the race
// against Stop is torn down and false is returned.
func (c *SessionConnection) established(gen uint64, done <-chan struct{}) bool {
	c.mu.Lock()
	if c.gen != gen || !c.machine.CompareAndTransition(status.Connecting, status.Connected) {
		c.mu.Unlock()
		c.logger.Info("stopped during handshake, abandoning session")
		c.session.Disconnect(done)
		return false
	}
	c.done = done
	c.mu.Unlock()
	metrics.ConnectionsConnected.WithLabelValues(c.account.Realm().ID()).Inc()
	return true
}

// Stop moves to stopped synchronously. No reconnect attempt starts after Stop
// returns, and a handshake in flight is cancelled.
func (c *SessionConnection) Stop() {
	c.mu.Lock()
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	done := c.done
	c.done = nil
	wasConnected := c.machine.Current() == status.Connected
	c.machine.Stop()
	c.mu.Unlock()

	if wasConnected {
		metrics.ConnectionsConnected.WithLabelValues(c.account.Realm().ID()).Dec()
		c.session.Disconnect(done)
		c.logger.Info("stopped")
	}
}

// supervise waits for the session to drop and reconnects looped connections.
// A nil done means the last attempt failed and the loop retries at once.
func (c *SessionConnection) supervise(ctx context.Context, gen uint64, done <-chan struct{}) {
	for {
		if done != nil {
			select {
			case <-ctx.Done():
				return
			case <-done:
			}

			c.mu.Lock()
			if c.gen != gen {
				c.mu.Unlock()
				return
			}
			c.done = nil
			metrics.ConnectionsConnected.WithLabelValues(c.account.Realm().ID()).Dec()
			if !c.opts.Looped {
				c.gen++
				if c.cancel != nil {
					c.cancel()
					c.cancel = nil
				}
				c.machine.Stop()
				c.mu.Unlock()
				c.logger.Warn("session dropped")
				return
			}
			c.machine.CompareAndTransition(status.Connected, status.Connecting)
			c.mu.Unlock()
			c.logger.Warn("session dropped, reconnecting")
		}

		var ok bool
		if done, ok = c.reconnect(ctx, gen); !ok {
			return
		}
	}
}

func (c *SessionConnection) reconnect(ctx context.Context, gen uint64) (<-chan struct{}, bool) {
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	backoff := c.opts.Backoff.Initial

	for {
		wait := backoff
		if half := int64(backoff / 2); half > 0 {
			wait += time.Duration(rnd.Int63n(half))
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, false
		case <-timer.C:
		}

		done, err := c.connect(ctx, ctx)
		if err == nil {
			if !c.established(gen, done) {
				return nil, false
			}
			c.logger.Info("reconnected")
			return done, true
		}

		c.mu.Lock()
		stale := c.gen != gen
		c.mu.Unlock()
		if stale {
			return nil, false
		}
		c.logger.Warn("reconnect failed", zap.Error(err), zap.Duration("backoff", backoff))
		backoff *= 2
		if backoff > c.opts.Backoff.Max {
			backoff = c.opts.Backoff.Max
		}
	}
}
