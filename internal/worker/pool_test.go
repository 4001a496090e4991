package worker

import (
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestPoolRunsAll(t *testing.T) {
	p := NewPool(4, zap.NewNop())
	var n atomic.Int32
	for range 100 {
		p.Execute(func() { n.Add(1) })
	}
	p.Wait()
	if n.Load() != 100 {
		t.Errorf("ran %d tasks, want 100", n.Load())
	}
}

func TestPoolLimit(t *testing.T) {
	p := NewPool(2, nil)
	var inFlight, peak atomic.Int32
	for range 10 {
		p.Execute(func() {
			cur := inFlight.Add(1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
		})
	}
	p.Wait()
	if peak.Load() > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak.Load())
	}
}

func TestPoolSurvivesPanic(t *testing.T) {
	p := NewPool(1, nil)
	var ran atomic.Bool
	p.Execute(func() { panic("boom") })
	p.Execute(func() { ran.Store(true) })
	p.Wait()
	if !ran.Load() {
		t.Error("task after panic did not run")
	}
}
