package logger

import (
	"sync"
)

// Component logger names used across execkit.
const (
	ComponentExecution = "execution"
	ComponentPool      = "process.pool"
	ComponentSession   = "session"
)

// registry is the global named-logger registry.
var registry = &loggerRegistry{
	loggers: make(map[string]*Logger),
}

type loggerRegistry struct {
	mu      sync.RWMutex
	loggers map[string]*Logger
}

// Register stores a named logger in the registry.
func Register(name string, l *Logger) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.loggers[name] = l
}

// Get retrieves a named logger. If the name is not registered it returns the
// global logger tagged with the requested component name.
func Get(name string) *Logger {
	registry.mu.RLock()
	l, ok := registry.loggers[name]
	registry.mu.RUnlock()
	if ok {
		return l
	}
	return GetGlobalLogger().WithComponent(name)
}

// RegisterDefaults derives one component logger per name from base and
// registers it. A nil base uses the global logger.
func RegisterDefaults(base *Logger, names ...string) {
	if base == nil {
		base = GetGlobalLogger()
	}
	for _, name := range names {
		Register(name, base.WithComponent(name))
	}
}
