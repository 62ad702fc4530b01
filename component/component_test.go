package component

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/kbukum/execkit/logger"
)

// mockComponent implements Component for testing.
type mockComponent struct {
	name       string
	startErr   error
	stopErr    error
	health     Health
	startOrder *[]string
	stopOrder  *[]string
	stopCtx    context.Context
}

func (m *mockComponent) Name() string { return m.name }
func (m *mockComponent) Start(ctx context.Context) error {
	if m.startOrder != nil {
		*m.startOrder = append(*m.startOrder, m.name)
	}
	return m.startErr
}
func (m *mockComponent) Stop(ctx context.Context) error {
	m.stopCtx = ctx
	if m.stopOrder != nil {
		*m.stopOrder = append(*m.stopOrder, m.name)
	}
	return m.stopErr
}
func (m *mockComponent) Health(ctx context.Context) Health {
	return m.health
}

type describedComponent struct{ mockComponent }

func (d *describedComponent) Describe() Description {
	return Description{Type: "process", Details: "attempts=10"}
}

func newRegistry() *Registry { return NewRegistry(logger.NewNop()) }

func TestRegisterDuplicate(t *testing.T) {
	r := newRegistry()
	if err := r.Register(&mockComponent{name: "pool"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Register(&mockComponent{name: "pool"}); err == nil {
		t.Error("expected error for duplicate registration")
	}
}

func TestGet(t *testing.T) {
	r := newRegistry()
	c := &mockComponent{name: "pool"}
	_ = r.Register(c)

	if got := r.Get("pool"); got != c {
		t.Fatalf("Get returned %v", got)
	}
	if got := r.Get("missing"); got != nil {
		t.Fatalf("expected nil for unknown component, got %v", got)
	}
}

func TestStartStopOrder(t *testing.T) {
	r := newRegistry()
	var started, stopped []string
	for _, name := range []string{"a", "b", "c"} {
		_ = r.Register(&mockComponent{name: name, startOrder: &started, stopOrder: &stopped})
	}

	if err := r.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	if err := r.StopAll(context.Background()); err != nil {
		t.Fatalf("StopAll: %v", err)
	}

	if fmt.Sprint(started) != "[a b c]" {
		t.Errorf("start order = %v", started)
	}
	if fmt.Sprint(stopped) != "[c b a]" {
		t.Errorf("stop order = %v", stopped)
	}
}

func TestStartAllError(t *testing.T) {
	r := newRegistry()
	var stopped []string
	_ = r.Register(&mockComponent{name: "ok", stopOrder: &stopped})
	_ = r.Register(&mockComponent{name: "bad", startErr: fmt.Errorf("boom"), stopOrder: &stopped})

	if err := r.StartAll(context.Background()); err == nil {
		t.Fatal("expected start error")
	}
	if err := r.StopAll(context.Background()); err != nil {
		t.Fatalf("StopAll: %v", err)
	}
	if fmt.Sprint(stopped) != "[ok]" {
		t.Errorf("only started components should be stopped, got %v", stopped)
	}
}

func TestStopAllJoinsErrors(t *testing.T) {
	r := newRegistry()
	var stopped []string
	_ = r.Register(&mockComponent{name: "a", stopErr: fmt.Errorf("a failed"), stopOrder: &stopped})
	_ = r.Register(&mockComponent{name: "b", stopErr: fmt.Errorf("b failed"), stopOrder: &stopped})
	_ = r.StartAll(context.Background())

	err := r.StopAll(context.Background())
	if err == nil {
		t.Fatal("expected stop error")
	}
	if len(stopped) != 2 {
		t.Fatalf("every component should be stopped, got %v", stopped)
	}
}

func TestStopTimeout(t *testing.T) {
	r := newRegistry()
	r.SetStopTimeout(time.Second)
	c := &mockComponent{name: "a"}
	_ = r.Register(c)
	_ = r.StartAll(context.Background())
	_ = r.StopAll(context.Background())

	deadline, ok := c.stopCtx.Deadline()
	if !ok {
		t.Fatal("stop context should carry a deadline")
	}
	if time.Until(deadline) > time.Second {
		t.Errorf("deadline too far away: %v", time.Until(deadline))
	}
}

func TestHealthAll(t *testing.T) {
	r := newRegistry()
	_ = r.Register(&mockComponent{name: "a", health: Health{Name: "a", Status: StatusHealthy}})
	_ = r.Register(&mockComponent{name: "b", health: Health{Name: "b", Status: StatusUnhealthy}})

	health := r.HealthAll(context.Background())
	if len(health) != 2 {
		t.Fatalf("expected 2 results, got %d", len(health))
	}
	if health[1].Status != StatusUnhealthy {
		t.Errorf("b status = %s", health[1].Status)
	}
}

func TestDescribe(t *testing.T) {
	r := newRegistry()
	_ = r.Register(&mockComponent{name: "plain"})
	_ = r.Register(&describedComponent{mockComponent{name: "pool"}})

	descs := r.Describe()
	if len(descs) != 1 {
		t.Fatalf("expected 1 description, got %d", len(descs))
	}
	if descs[0].Name != "pool" || descs[0].Type != "process" {
		t.Errorf("unexpected description: %+v", descs[0])
	}
}

func TestFunc(t *testing.T) {
	var stopped bool
	c := Func{ComponentName: "tracer", StopFunc: func(context.Context) error {
		stopped = true
		return nil
	}}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !stopped {
		t.Error("StopFunc not called")
	}
	if c.Health(context.Background()).Status != StatusHealthy {
		t.Error("Func components report healthy")
	}
}
