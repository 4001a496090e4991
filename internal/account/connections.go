package account

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Executor runs lifecycle calls off the caller's goroutine.
type Executor interface {
	Execute(f func())
}

// ExecutorFunc adapts a function to Executor. ExecutorFunc(func(f func()) { f() })
// runs everything inline.
type ExecutorFunc func(f func())

func (e ExecutorFunc) Execute(f func()) { e(f) }

// Connections owns the account to connection map. Map changes are serialized
// by one mutex; Start and Stop calls run outside of it.
type Connections struct {
	mu    sync.Mutex
	conns map[string]*entry

	executor Executor
	logger   *zap.Logger
}

type entry struct {
	conn Connection
	// starting is set while a Start is queued or running.
	starting bool
}

// NewConnections creates an empty registry. Starts run on executor.
func NewConnections(executor Executor, logger *zap.Logger) *Connections {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connections{
		conns:    make(map[string]*entry),
		executor: executor,
		logger:   logger.Named("connections"),
	}
}

// StartConnectionsFor starts the connections of every enabled account. A
// stopped connection is started again; a running one, or one whose start is
// still pending, is reused. With no internet, accounts requiring it are
// skipped. Start failures are logged and isolated per account.
func (r *Connections) StartConnectionsFor(ctx context.Context, accounts []Account, internet bool) {
	var toStart []Connection

	r.mu.Lock()
	for _, acc := range accounts {
		if !acc.Enabled() {
			continue
		}
		e, ok := r.conns[acc.ID()]
		if !ok {
			if !internet && acc.Realm().InternetRequired() {
				continue
			}
			e = &entry{conn: acc.NewConnection()}
			r.conns[acc.ID()] = e
		}
		if !e.starting && e.conn.IsStopped() && (internet || !e.conn.InternetRequired()) {
			e.starting = true
			toStart = append(toStart, e.conn)
		}
	}
	r.mu.Unlock()

	for _, conn := range toStart {
		r.executor.Execute(func() {
			r.start(ctx, conn)
		})
	}
}

// start runs a queued Start unless the connection was stopped or removed
// while it waited.
func (r *Connections) start(ctx context.Context, conn Connection) {
	id := conn.Account().ID()
	defer r.finishStart(id, conn)

	r.mu.Lock()
	e, ok := r.conns[id]
	pending := ok && e.conn == conn && e.starting
	r.mu.Unlock()
	if !pending {
		return
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("connection start panicked", zap.String("account", id), zap.Any("panic", p))
		}
	}()
	if err := conn.Start(ctx); err != nil {
		r.logger.Warn("connection start failed", zap.String("account", id), zap.Error(err))
	}
}

func (r *Connections) finishStart(id string, conn Connection) {
	r.mu.Lock()
	if e, ok := r.conns[id]; ok && e.conn == conn {
		e.starting = false
	}
	r.mu.Unlock()
}

// TryStopAll stops every tracked connection, including stopped ones, and waits
// for all of them. The result holds the accounts whose Stop failed.
func (r *Connections) TryStopAll() map[string]error {
	return r.stopWhere(func(Connection) bool { return true })
}

// OnNoInternetConnection stops only the connections that require internet.
func (r *Connections) OnNoInternetConnection() map[string]error {
	return r.stopWhere(Connection.InternetRequired)
}

// stopWhere cancels pending starts of the matching connections and stops
// them. Stops run on their own goroutines: a Stop only flips state and tears
// down, so it never waits behind starts saturating the executor.
func (r *Connections) stopWhere(match func(Connection) bool) map[string]error {
	var targets []Connection
	r.mu.Lock()
	for _, e := range r.conns {
		if match(e.conn) {
			e.starting = false
			targets = append(targets, e.conn)
		}
	}
	r.mu.Unlock()

	var (
		wg     sync.WaitGroup
		errMu  sync.Mutex
		failed = make(map[string]error)
	)
	for _, conn := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := stopSafely(conn); err != nil {
				id := conn.Account().ID()
				r.logger.Error("connection stop failed", zap.String("account", id), zap.Error(err))
				errMu.Lock()
				failed[id] = err
				errMu.Unlock()
			}
		}()
	}
	wg.Wait()
	return failed
}

func stopSafely(conn Connection) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("stop panicked: %v", p)
		}
	}()
	conn.Stop()
	return nil
}

// Connection returns the live connection of an account.
func (r *Connections) Connection(accountID string) (Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[accountID]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// UpdateAccount applies a changed account. A disabled account loses its
// connection; an enabled one is started as by StartConnectionsFor.
func (r *Connections) UpdateAccount(ctx context.Context, acc Account, internet bool) {
	if !acc.Enabled() {
		r.RemoveConnectionFor(acc.ID())
		return
	}
	r.StartConnectionsFor(ctx, []Account{acc}, internet)
}

// RemoveConnectionFor stops and forgets the connection of an account.
func (r *Connections) RemoveConnectionFor(accountID string) {
	r.mu.Lock()
	e, ok := r.conns[accountID]
	delete(r.conns, accountID)
	r.mu.Unlock()

	if !ok {
		return
	}
	if err := stopSafely(e.conn); err != nil {
		r.logger.Error("connection stop failed", zap.String("account", accountID), zap.Error(err))
	}
}

// Snapshot returns the tracked connections.
func (r *Connections) Snapshot() []Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Connection, 0, len(r.conns))
	for _, e := range r.conns {
		out = append(out, e.conn)
	}
	return out
}
