package process

import (
	"context"
	"fmt"

	"github.com/kbukum/execkit/component"
)

// Component adapts a Pool to the component lifecycle. Stopping the
// component drains the pool.
type Component struct {
	pool *Pool
}

var _ component.Component = (*Component)(nil)
var _ component.Describable = (*Component)(nil)

// NewComponent wraps pool.
func NewComponent(pool *Pool) *Component { return &Component{pool: pool} }

// Pool returns the wrapped pool.
func (c *Component) Pool() *Pool { return c.pool }

func (c *Component) Name() string { return "process-pool" }

func (c *Component) Start(_ context.Context) error { return nil }

func (c *Component) Stop(ctx context.Context) error { return c.pool.Drain(ctx) }

func (c *Component) Health(_ context.Context) component.Health {
	if c.pool.Drained() {
		return component.Health{Name: c.Name(), Status: component.StatusUnhealthy, Message: "drained"}
	}
	return component.Health{
		Name:    c.Name(),
		Status:  component.StatusHealthy,
		Message: fmt.Sprintf("%d running", len(c.pool.Running())),
	}
}

func (c *Component) Describe() component.Description {
	cfg := c.pool.Config()
	return component.Description{
		Name:    "Process Pool",
		Type:    "process",
		Details: fmt.Sprintf("attempts=%d delay=%s grace=%s", cfg.Attempts, cfg.Delay, cfg.GracePeriod),
	}
}
