package sms

import (
	"context"
	"slices"
	"sync"
)

// Signal names one of the broadcast events of the SMS gateway.
type Signal string

const (
	SignalSent      Signal = "sms.sent"
	SignalDelivered Signal = "sms.delivered"
	SignalReceived  Signal = "sms.received"
)

// Receiver priorities. Higher runs first.
const (
	PriorityDefault    = 0
	PrioritySystemHigh = 1000
)

// Receiver handles one broadcast payload.
type Receiver func(ctx context.Context, payload []byte)

type registration struct {
	id       int
	priority int
	receiver Receiver
}

// Channel is the in-process broadcast channel SMS traffic arrives on. Each
// broadcast reaches the receivers of its signal in priority order, then in
// registration order.
type Channel struct {
	mu   sync.RWMutex
	regs map[Signal][]registration
	next int
}

// NewChannel creates an empty channel.
func NewChannel() *Channel {
	return &Channel{regs: make(map[Signal][]registration)}
}

// Register adds a receiver and returns the function removing it.
func (c *Channel) Register(sig Signal, priority int, r Receiver) (unregister func()) {
	c.mu.Lock()
	id := c.next
	c.next++
	regs := append(c.regs[sig], registration{id: id, priority: priority, receiver: r})
	slices.SortStableFunc(regs, func(a, b registration) int { return b.priority - a.priority })
	c.regs[sig] = regs
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.regs[sig] = slices.DeleteFunc(slices.Clone(c.regs[sig]), func(r registration) bool { return r.id == id })
		})
	}
}

// Broadcast delivers payload to every receiver of sig and returns how many
// received it.
func (c *Channel) Broadcast(ctx context.Context, sig Signal, payload []byte) int {
	c.mu.RLock()
	regs := slices.Clone(c.regs[sig])
	c.mu.RUnlock()

	for _, r := range regs {
		r.receiver(ctx, payload)
	}
	return len(regs)
}

// Receivers returns the number of receivers registered for sig.
func (c *Channel) Receivers(sig Signal) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.regs[sig])
}
