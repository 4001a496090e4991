// Package worker provides the bounded executor that runs connection lifecycle
// calls off the caller's goroutine.
package worker

import (
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Pool runs submitted functions with at most size of them in flight.
type Pool struct {
	g      errgroup.Group
	logger *zap.Logger
}

// NewPool creates a pool. size <= 0 means unbounded.
func NewPool(size int, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{logger: logger.Named("worker")}
	if size > 0 {
		p.g.SetLimit(size)
	}
	return p
}

// Execute schedules f. It blocks while the pool is saturated.
func (p *Pool) Execute(f func()) {
	p.g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("worker task panicked: %v", r)
				p.logger.Error("task panicked", zap.Any("panic", r))
			}
		}()
		f()
		return nil
	})
}

// Wait blocks until every scheduled function returned.
func (p *Pool) Wait() {
	_ = p.g.Wait()
}
