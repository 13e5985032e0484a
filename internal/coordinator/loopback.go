package coordinator

import (
	"context"
	"sync"
)

// Loopback is an in-process transport for single-process deployments and
// tests: every envelope is handed synchronously to all joined coordinators.
type Loopback struct {
	mu      sync.Mutex
	members []*Coordinator
}

// NewLoopback creates an empty loopback bus.
func NewLoopback() *Loopback {
	return &Loopback{}
}

// Join adds a coordinator to the bus.
func (l *Loopback) Join(c *Coordinator) {
	l.mu.Lock()
	l.members = append(l.members, c)
	l.mu.Unlock()
}

// Send delivers the envelope to every member. Members filter their own
// origin, so a sender never reapplies its own mutation.
func (l *Loopback) Send(ctx context.Context, env Envelope) error {
	l.mu.Lock()
	members := make([]*Coordinator, len(l.members))
	copy(members, l.members)
	l.mu.Unlock()

	for _, m := range members {
		m.Handle(ctx, env)
	}
	return nil
}
