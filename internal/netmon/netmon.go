// Package netmon tracks backend reachability. The engine only consumes the
// Monitor interface; the concrete sensor is swappable (HTTP probe in
// production, a manual switch in tests).
package netmon

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Monitor reports connectivity and notifies subscribers of transitions.
type Monitor interface {
	// Online returns the current connectivity state.
	Online() bool

	// Subscribe returns a channel receiving the new state on every
	// transition, plus a cancel func. The channel is never closed by the
	// monitor; callers stop listening by cancelling.
	Subscribe() (<-chan bool, func())
}

// base holds subscriber bookkeeping shared by the monitor implementations.
type base struct {
	mu     sync.Mutex
	online bool
	subs   map[int]chan bool
	nextID int
}

func (b *base) Online() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.online
}

func (b *base) Subscribe() (<-chan bool, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs == nil {
		b.subs = make(map[int]chan bool)
	}
	id := b.nextID
	b.nextID++
	ch := make(chan bool, 1)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
	return ch, cancel
}

// set updates the state and fans out on transition. Sends never block: a
// subscriber that has not drained its previous notification keeps only the
// latest state, which is all the drain trigger needs.
func (b *base) set(online bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.online == online {
		return
	}
	b.online = online

	for _, ch := range b.subs {
		select {
		case ch <- online:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- online
		}
	}
}

// Prober polls a health check on an interval and derives online/offline
// transitions from consecutive outcomes.
type Prober struct {
	base
	probe    func(context.Context) error
	interval time.Duration
	timeout  time.Duration
}

// NewProber creates a monitor that considers the backend online whenever the
// probe succeeds. The initial state is offline until the first probe.
func NewProber(probe func(context.Context) error, interval time.Duration) *Prober {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Prober{
		probe:    probe,
		interval: interval,
		timeout:  5 * time.Second,
	}
}

// Run probes until ctx is cancelled. The first probe happens immediately.
func (p *Prober) Run(ctx context.Context) {
	p.check(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.check(ctx)
		}
	}
}

func (p *Prober) check(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.probe(probeCtx)
	if err != nil && ctx.Err() == nil {
		slog.Debug("netmon: probe failed", "err", err)
	}
	p.set(err == nil)
}

// Manual is a monitor driven entirely by SetOnline. Used in tests and by
// commands that force a state.
type Manual struct {
	base
}

// NewManual creates a manual monitor with the given initial state.
func NewManual(online bool) *Manual {
	m := &Manual{}
	m.online = online
	return m
}

// SetOnline flips the state, notifying subscribers on transition.
func (m *Manual) SetOnline(online bool) {
	m.set(online)
}
