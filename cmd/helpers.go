package cmd

import (
	"context"
	"strings"
	"time"

	"github.com/marcus/syncq/internal/backend"
	"github.com/marcus/syncq/internal/config"
	"github.com/marcus/syncq/internal/engine"
	"github.com/marcus/syncq/internal/netmon"
	"github.com/marcus/syncq/internal/store"
)

// openStore opens the local store, failing with a hint when the project has
// not been initialized.
func openStore() (*store.Store, error) {
	return store.Open(getBaseDir())
}

// newBackend builds the backend from the configured URL. A "sqlite:" URL
// selects the embedded SQLite backend, anything else is treated as an HTTP
// base URL.
func newBackend() (backend.Backend, error) {
	url := config.GetBackendURL()
	if path, ok := strings.CutPrefix(url, "sqlite:"); ok {
		return backend.OpenSQL(path)
	}
	return backend.NewHTTP(url, config.GetAPIKey()), nil
}

// probeOnline performs one synchronous reachability check and returns a
// manual monitor holding the result. One-shot commands use this instead of a
// background prober.
func probeOnline(ctx context.Context, b backend.Backend) *netmon.Manual {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return netmon.NewManual(healthProbe(b)(probeCtx) == nil)
}

// healthProbe returns the reachability probe for a backend. The SQLite
// backend is always reachable.
func healthProbe(b backend.Backend) func(context.Context) error {
	if hb, ok := b.(*backend.HTTPBackend); ok {
		return hb.Health
	}
	return func(context.Context) error { return nil }
}

// engineConfig assembles the executor tunables from config.
func engineConfig() engine.Config {
	cfg := engine.Config{
		MaxRetries:  config.GetMaxRetries(),
		BatchSize:   config.GetBatchSize(),
		BackoffBase: config.GetBackoffBase(),
		BackoffCap:  config.GetBackoffCap(),
		Debounce:    config.GetDebounce(),
	}
	if config.GetAutoDrainEnabled() {
		cfg.AutoDrainInterval = config.GetAutoDrainInterval()
	}
	return cfg
}
