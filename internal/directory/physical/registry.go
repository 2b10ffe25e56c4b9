package physical

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/gezibash/arc-contacts/internal/observability"
	"github.com/gezibash/arc-contacts/internal/storage"
)

// Factory opens a backend from its merged configuration.
type Factory func(ctx context.Context, config map[string]string) (Backend, error)

// DefaultsFunc returns a backend's default configuration. It also documents
// the keys the backend understands, as shown by `contacts backends`.
type DefaultsFunc func() map[string]string

type registration struct {
	open     Factory
	defaults DefaultsFunc
}

// Backends register themselves from init, so the registry is package state.
var registry = struct {
	sync.RWMutex
	byName map[string]registration
}{byName: map[string]registration{}}

func lookupBackend(name string) (registration, bool) {
	registry.RLock()
	defer registry.RUnlock()
	r, ok := registry.byName[name]
	return r, ok
}

// Register makes a backend available to New under name. Registering a name
// twice panics.
func Register(name string, factory Factory, defaults DefaultsFunc) {
	registry.Lock()
	defer registry.Unlock()
	if _, taken := registry.byName[name]; taken {
		panic(fmt.Sprintf("contact store backend %q already registered", name))
	}
	registry.byName[name] = registration{open: factory, defaults: defaults}
}

// IsRegistered reports whether name is a known backend.
func IsRegistered(name string) bool {
	_, ok := lookupBackend(name)
	return ok
}

// ListBackends returns the registered backend names in sorted order.
func ListBackends() []string {
	registry.RLock()
	defer registry.RUnlock()
	return slices.Sorted(maps.Keys(registry.byName))
}

// GetDefaults returns a fresh copy of the named backend's defaults, or nil
// for an unknown backend.
func GetDefaults(name string) map[string]string {
	r, ok := lookupBackend(name)
	if !ok || r.defaults == nil {
		return nil
	}
	return r.defaults()
}

// New opens the named backend with config laid over its defaults.
func New(ctx context.Context, name string, config map[string]string, metrics *observability.Metrics) (_ Backend, err error) {
	op, ctx := observability.StartOperation(ctx, metrics, "physical.new")
	defer func() { op.End(err) }()

	r, ok := lookupBackend(name)
	if !ok {
		return nil, storage.NewConfigError(name, "",
			fmt.Sprintf("unknown contact store backend (available: %s)", strings.Join(ListBackends(), ", ")))
	}

	merged := storage.MergeConfig(GetDefaults(name), config)
	backend, err := r.open(ctx, merged)
	if err != nil {
		return nil, err
	}
	// Values may hold credentials; only the keys are logged.
	slog.InfoContext(ctx, "contact store backend opened", "backend", name,
		"config_keys", slices.Sorted(maps.Keys(merged)))
	return backend, nil
}
