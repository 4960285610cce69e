package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/marcus/syncq/internal/backend"
	"github.com/marcus/syncq/internal/models"
	"github.com/marcus/syncq/internal/netmon"
	"github.com/marcus/syncq/internal/store"
)

// Config holds the executor tunables. Zero values fall back to the
// defaults below.
type Config struct {
	// MaxRetries is the attempt ceiling before a mutation is parked as
	// failed. Counts attempts, so 5 means the mutation fails after its
	// fifth unsuccessful apply.
	MaxRetries int

	// BatchSize caps how many pending mutations a single queue fetch pulls.
	BatchSize int

	// BackoffBase is the delay after the first retryable failure; it
	// doubles per attempt up to BackoffCap.
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// AutoDrainInterval is the period between background drain passes while
	// online. Zero disables the timer; transitions to online still trigger
	// a drain.
	AutoDrainInterval time.Duration

	// Debounce is the settle window for drain triggers in Run: a burst of
	// triggers (connectivity flapping, overlapping ticks) collapses into one
	// drain after the burst goes quiet. Zero drains immediately.
	Debounce time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 30 * time.Second
	}
	return c
}

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Applied   int
	Failed    int
	Conflicts int
	Aborted   bool // went offline or was cancelled mid-drain

	// Coalesced is set when the call found a drain already in flight and
	// folded into it instead of starting a second one.
	Coalesced bool
}

// Executor owns the drain loop: it pulls pending mutations in order, applies
// them against the backend, and routes failures into retries, parked
// failures, or conflicts.
type Executor struct {
	store    *store.Store
	backend  backend.Backend
	detector *Detector
	monitor  netmon.Monitor
	locks    *entityLocks
	clock    Clock
	cfg      Config

	draining atomic.Bool
	rerun    atomic.Bool
}

// NewExecutor wires an executor. The returned executor's Locks() must be
// shared with the resolver when both run in one process.
func NewExecutor(s *store.Store, b backend.Backend, mon netmon.Monitor, cfg Config) *Executor {
	return &Executor{
		store:    s,
		backend:  b,
		detector: NewDetector(s, b),
		monitor:  mon,
		locks:    newEntityLocks(),
		clock:    SystemClock,
		cfg:      cfg.withDefaults(),
	}
}

// Locks exposes the per-entity lock table for sharing with a Resolver.
func (e *Executor) Locks() *entityLocks { return e.locks }

// SetClock swaps the clock. Test hook.
func (e *Executor) SetClock(c Clock) { e.clock = c }

// Recover requeues mutations stranded in the syncing state by a crash.
// Call once at startup before any drain.
func (e *Executor) Recover() (int64, error) {
	n, err := e.store.RequeueSyncing()
	if err != nil {
		return 0, fmt.Errorf("requeue interrupted mutations: %w", err)
	}
	if n > 0 {
		slog.Info("requeued interrupted mutations", "count", n)
	}
	return n, nil
}

// Drain processes the queue until it is empty, blocked, or the pass aborts.
// At most one drain runs at a time; a concurrent call marks the in-flight
// drain for one more pass and returns immediately with Coalesced set.
func (e *Executor) Drain(ctx context.Context) (DrainResult, error) {
	if !e.draining.CompareAndSwap(false, true) {
		e.rerun.Store(true)
		return DrainResult{Coalesced: true}, nil
	}
	defer e.draining.Store(false)

	var total DrainResult
	for {
		res, err := e.drainPass(ctx)
		total.Applied += res.Applied
		total.Failed += res.Failed
		total.Conflicts += res.Conflicts
		total.Aborted = res.Aborted
		if err != nil {
			return total, err
		}
		if total.Aborted || !e.rerun.CompareAndSwap(true, false) {
			return total, nil
		}
	}
}

func (e *Executor) drainPass(ctx context.Context) (DrainResult, error) {
	var res DrainResult

	// Entities with a conflict detected this pass: their remaining
	// mutations stay pending until the conflict is resolved. Excluded from
	// every fetch below so they cannot crowd unrelated work out of a batch.
	blocked := make(map[string]bool)

	for {
		if ctx.Err() != nil || !e.monitor.Online() {
			res.Aborted = true
			return res, nil
		}

		batch, err := e.store.DequeueBatch(e.cfg.BatchSize, blockedKeys(blocked)...)
		if err != nil {
			return res, fmt.Errorf("fetch pending mutations: %w", err)
		}

		progressed := false
		for _, m := range batch {
			if ctx.Err() != nil || !e.monitor.Online() {
				res.Aborted = true
				return res, nil
			}
			if blocked[m.EntityType+"/"+m.EntityID] {
				continue
			}

			outcome, err := e.processOne(ctx, m)
			if err != nil {
				return res, err
			}
			switch outcome {
			case outcomeApplied:
				res.Applied++
				progressed = true
			case outcomeRetried:
				progressed = true
			case outcomeParked:
				res.Failed++
				progressed = true
			case outcomeConflict:
				res.Conflicts++
				blocked[m.EntityType+"/"+m.EntityID] = true
				progressed = true
			case outcomeAborted:
				res.Aborted = true
				return res, nil
			case outcomeSkipped:
			}
		}

		if len(batch) == 0 || !progressed {
			return res, nil
		}
	}
}

func blockedKeys(blocked map[string]bool) []string {
	keys := make([]string, 0, len(blocked))
	for k := range blocked {
		keys = append(keys, k)
	}
	return keys
}

type itemOutcome int

const (
	outcomeApplied itemOutcome = iota
	outcomeRetried             // retryable failure, still under the ceiling
	outcomeParked              // moved to failed
	outcomeConflict
	outcomeAborted
	outcomeSkipped // raced away from pending, nothing to do
)

func (e *Executor) processOne(ctx context.Context, m models.PendingMutation) (itemOutcome, error) {
	unlock := e.locks.lock(m.EntityType, m.EntityID)
	defer unlock()

	if err := e.store.MarkSyncing(m.ID); err != nil {
		// Another path (a resolution discarding the entity's queue, most
		// likely) moved it out from under us.
		slog.Debug("skipping mutation", "id", m.ID, "reason", err)
		return outcomeSkipped, nil
	}

	// Verify the backend has not moved past the mutation's base state
	// before applying. Creates included: the entity may already exist
	// server-side, and an absent record never conflicts.
	conflict, err := e.detector.Detect(ctx, m.EntityType, m.EntityID, m.Payload, m.CreatedAt)
	if err != nil {
		return e.handleApplyError(ctx, m, err)
	}
	if conflict != nil {
		if err := e.store.MarkPending(m.ID); err != nil {
			return outcomeSkipped, fmt.Errorf("return conflicted mutation to pending: %w", err)
		}
		return outcomeConflict, nil
	}

	if _, err := e.backend.Apply(ctx, m); err != nil {
		return e.handleApplyError(ctx, m, err)
	}

	if err := e.store.MarkApplied(m.ID); err != nil {
		return outcomeSkipped, fmt.Errorf("remove applied mutation %s: %w", m.ID, err)
	}
	slog.Debug("mutation applied", "id", m.ID,
		"entity", m.EntityType+"/"+m.EntityID, "op", m.Operation)
	return outcomeApplied, nil
}

// handleApplyError routes a failed apply by error class: network and server
// errors retry with backoff up to the ceiling, everything else parks the
// mutation immediately.
func (e *Executor) handleApplyError(ctx context.Context, m models.PendingMutation, cause error) (itemOutcome, error) {
	if ctx.Err() != nil {
		// Cancellation surfaces as an apply error; leave the item pending
		// without charging it an attempt.
		if err := e.store.MarkPending(m.ID); err != nil {
			return outcomeSkipped, err
		}
		return outcomeAborted, nil
	}

	class := backend.Classify(cause)
	if !class.Retryable() {
		if err := e.store.MarkFailed(m.ID, cause.Error(), 0); err != nil {
			return outcomeSkipped, fmt.Errorf("park mutation %s: %w", m.ID, err)
		}
		slog.Warn("mutation parked", "id", m.ID, "class", class, "err", cause)
		return outcomeParked, nil
	}

	if err := e.store.MarkFailed(m.ID, cause.Error(), e.cfg.MaxRetries); err != nil {
		return outcomeSkipped, fmt.Errorf("record failed attempt %s: %w", m.ID, err)
	}

	attempts := m.RetryCount + 1
	if attempts >= e.cfg.MaxRetries {
		slog.Warn("mutation exhausted retries", "id", m.ID,
			"attempts", attempts, "err", cause)
		return outcomeParked, nil
	}

	delay := e.backoff(attempts)
	slog.Debug("mutation retry scheduled", "id", m.ID,
		"attempt", attempts, "delay", delay, "err", cause)
	if err := e.clock.Sleep(ctx, delay); err != nil {
		return outcomeAborted, nil
	}
	return outcomeRetried, nil
}

// backoff returns the delay before the next attempt: exponential in the
// attempt count with up to 25% jitter, capped.
func (e *Executor) backoff(attempt int) time.Duration {
	d := e.cfg.BackoffBase
	for i := 1; i < attempt && d < e.cfg.BackoffCap; i++ {
		d *= 2
	}
	if d > e.cfg.BackoffCap {
		d = e.cfg.BackoffCap
	}
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	return d + jitter
}

// Run drains in the background until ctx is cancelled: once at startup if
// online, on every offline-to-online transition, and on the configured
// interval while online. With Debounce set, triggers are coalesced through a
// Debouncer so flapping connectivity settles before the drain starts.
func (e *Executor) Run(ctx context.Context) error {
	transitions, cancel := e.monitor.Subscribe()
	defer cancel()

	var tick <-chan time.Time
	if e.cfg.AutoDrainInterval > 0 {
		ticker := time.NewTicker(e.cfg.AutoDrainInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	drain := func() {
		res, err := e.Drain(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("background drain failed", "err", err)
			return
		}
		if res.Applied > 0 || res.Failed > 0 || res.Conflicts > 0 {
			slog.Info("background drain finished", "applied", res.Applied,
				"failed", res.Failed, "conflicts", res.Conflicts)
		}
	}

	trigger := drain
	if e.cfg.Debounce > 0 {
		deb := NewDebouncer(e.cfg.Debounce)
		defer deb.Stop()
		trigger = func() { deb.Trigger(drain) }
	}

	if e.monitor.Online() {
		trigger()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case online := <-transitions:
			if online {
				slog.Info("backend reachable, draining queue")
				trigger()
			} else {
				slog.Info("backend unreachable, queueing locally")
			}
		case <-tick:
			if e.monitor.Online() {
				trigger()
			}
		}
	}
}
