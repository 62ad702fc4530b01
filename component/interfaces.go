package component

import "context"

// HealthStatus represents the health state of a component.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusUnhealthy HealthStatus = "unhealthy"
	StatusDegraded  HealthStatus = "degraded"
)

// Health holds health information for a component.
type Health struct {
	Name    string       `json:"name"`
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

// Component is a lifecycle-managed resource owned by a run context.
type Component interface {
	// Name returns the unique name of the component for registration.
	Name() string

	// Start prepares the component for use.
	Start(ctx context.Context) error

	// Stop releases the component. It must be safe to call once per Start.
	Stop(ctx context.Context) error

	// Health returns the current health status of the component.
	Health(ctx context.Context) Health
}

// Description is a one-line summary a component reports about itself.
type Description struct {
	// Name is the display name. If empty, the component's Name() is used.
	Name string
	// Type categorizes the component: "process", "telemetry".
	Type string
	// Details is a short human-readable summary of the configuration.
	Details string
}

// Describable is optionally implemented by components that can summarize
// their configuration.
type Describable interface {
	Describe() Description
}

// Func adapts plain functions to Component.
type Func struct {
	ComponentName string
	StartFunc     func(ctx context.Context) error
	StopFunc      func(ctx context.Context) error
}

func (f Func) Name() string { return f.ComponentName }

func (f Func) Start(ctx context.Context) error {
	if f.StartFunc == nil {
		return nil
	}
	return f.StartFunc(ctx)
}

func (f Func) Stop(ctx context.Context) error {
	if f.StopFunc == nil {
		return nil
	}
	return f.StopFunc(ctx)
}

func (f Func) Health(_ context.Context) Health {
	return Health{Name: f.ComponentName, Status: StatusHealthy}
}
