package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/kbukum/execkit/component"
	"github.com/kbukum/execkit/logger"
	"github.com/kbukum/execkit/process"
)

// StopTimeout bounds the Stop call Setup registers.
const StopTimeout = 10 * time.Second

// Setup starts c and registers its Stop as a test cleanup. A failing Start
// fails the test.
func Setup(t testing.TB, c component.Component) {
	t.Helper()
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start %s: %v", c.Name(), err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), StopTimeout)
		defer cancel()
		if err := c.Stop(ctx); err != nil {
			t.Errorf("stop %s: %v", c.Name(), err)
		}
	})
}

// PoolConfig is a pool configuration with short teardown delays.
func PoolConfig() process.PoolConfig {
	return process.PoolConfig{
		Attempts:    10,
		Delay:       10 * time.Millisecond,
		GracePeriod: 500 * time.Millisecond,
	}
}

// Pool returns a process pool that is drained when the test ends.
func Pool(t testing.TB) *process.Pool {
	t.Helper()
	pool, err := process.NewPool(PoolConfig(), logger.NewNop())
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	Setup(t, process.NewComponent(pool))
	return pool
}
