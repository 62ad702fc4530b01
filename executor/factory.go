package executor

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/kbukum/execkit/errors"
	"github.com/kbukum/execkit/logger"
	"github.com/kbukum/execkit/process"
)

// Env carries the run-scoped dependencies every backend receives.
type Env struct {
	// Pool owns every local process the executor spawns. Required.
	Pool *process.Pool
	// Log is the base logger. Nil uses the global logger.
	Log *logger.Logger
}

// Factory creates an Executor from backend-specific config. providerCfg is
// the backend's Config, a pointer to it, or nil for defaults.
type Factory func(providerCfg any, env Env) (Executor, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// aliases maps transport names to the backend implementing them.
var aliases = map[string]string{
	"container":   BackendDocker,
	"pod":         BackendKubernetes,
	"k8s":         BackendKubernetes,
	"push-config": BackendAnsible,
}

// RegisterFactory registers a backend factory. Registering a name twice
// replaces the previous factory.
func RegisterFactory(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// Canonical resolves an alias to its backend name.
func Canonical(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if target, ok := aliases[name]; ok {
		return target
	}
	return name
}

// New creates the executor registered under name.
func New(name string, providerCfg any, env Env) (Executor, error) {
	name = Canonical(name)

	factoriesMu.RLock()
	f, ok := factories[name]
	factoriesMu.RUnlock()
	if !ok {
		return nil, errors.UnsupportedBackend(name)
	}
	if env.Pool == nil {
		return nil, errors.MissingField("pool")
	}
	if env.Log == nil {
		env.Log = logger.GetGlobalLogger()
	}

	env.Log.Debug("creating executor", map[string]interface{}{logger.FieldBackend: name})
	return f(providerCfg, env)
}

// Registered returns the registered backend names in sorted order.
func Registered() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ConfigAs extracts a backend config of type T from providerCfg. nil yields
// the zero value, which backends complete with ApplyDefaults.
func ConfigAs[T any](providerCfg any) (T, error) {
	var zero T
	switch c := providerCfg.(type) {
	case nil:
		return zero, nil
	case T:
		return c, nil
	case *T:
		if c == nil {
			return zero, nil
		}
		return *c, nil
	default:
		return zero, errors.InvalidInput("config", fmt.Sprintf("expected %T, got %T", zero, providerCfg))
	}
}
