package component

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/kbukum/execkit/logger"
)

// DefaultStopTimeout bounds each component's Stop call.
const DefaultStopTimeout = 30 * time.Second

type entry struct {
	component Component
	started   bool
}

// Registry starts components in registration order and stops them in
// reverse order.
type Registry struct {
	mu          sync.Mutex
	entries     []*entry
	lookup      map[string]*entry
	stopTimeout time.Duration
	log         *logger.Logger
}

// NewRegistry creates an empty registry. A nil logger uses the global logger.
func NewRegistry(log *logger.Logger) *Registry {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Registry{
		lookup:      make(map[string]*entry),
		stopTimeout: DefaultStopTimeout,
		log:         log.WithComponent(logger.ComponentSession),
	}
}

// SetStopTimeout changes the per-component Stop deadline.
func (r *Registry) SetStopTimeout(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d > 0 {
		r.stopTimeout = d
	}
}

// Register adds a component. Register dependencies first.
func (r *Registry) Register(c Component) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := c.Name()
	if _, exists := r.lookup[name]; exists {
		return fmt.Errorf("component %s already registered", name)
	}
	e := &entry{component: c}
	r.entries = append(r.entries, e)
	r.lookup[name] = e

	r.log.Debug("component registered", map[string]interface{}{"name": name})
	return nil
}

// StartAll starts every component not yet started, in registration order.
// It stops at the first failure.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.started {
			continue
		}
		name := e.component.Name()
		if err := e.component.Start(ctx); err != nil {
			r.log.Error("component start failed", map[string]interface{}{
				"name":            name,
				logger.FieldError: err.Error(),
			})
			return fmt.Errorf("failed to start %s: %w", name, err)
		}
		e.started = true
		r.log.Debug("component started", map[string]interface{}{"name": name})
	}
	return nil
}

// StopAll stops started components in reverse registration order. Every
// component is stopped even if an earlier one fails; the failures are joined.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		if !e.started {
			continue
		}
		name := e.component.Name()

		stopCtx, cancel := context.WithTimeout(ctx, r.stopTimeout)
		err := e.component.Stop(stopCtx)
		cancel()
		e.started = false

		if err != nil {
			errs = append(errs, fmt.Errorf("failed to stop %s: %w", name, err))
			r.log.Error("component stop failed", map[string]interface{}{
				"name":            name,
				logger.FieldError: err.Error(),
			})
			continue
		}
		r.log.Debug("component stopped", map[string]interface{}{"name": name})
	}
	return stderrors.Join(errs...)
}

// HealthAll returns health status for all registered components.
func (r *Registry) HealthAll(ctx context.Context) []Health {
	r.mu.Lock()
	entries := append([]*entry(nil), r.entries...)
	r.mu.Unlock()

	results := make([]Health, 0, len(entries))
	for _, e := range entries {
		results = append(results, e.component.Health(ctx))
	}
	return results
}

// Get returns a registered component by name, or nil if not found.
func (r *Registry) Get(name string) Component {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.lookup[name]; ok {
		return e.component
	}
	return nil
}

// Describe returns descriptions of the components that implement Describable.
func (r *Registry) Describe() []Description {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Description
	for _, e := range r.entries {
		d, ok := e.component.(Describable)
		if !ok {
			continue
		}
		desc := d.Describe()
		if desc.Name == "" {
			desc.Name = e.component.Name()
		}
		out = append(out, desc)
	}
	return out
}
