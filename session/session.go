// Package session owns the resources of one run: the logger, the process
// pool every backend spawns into, telemetry providers and the executors
// built from configuration.
//
// A session is a scoped acquisition. Closing it interrupts every execution
// still running, whatever its backend, then stops components in reverse
// order, which drains the pool so no spawned process outlives the run:
//
//	s, err := session.Open(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer s.Close(ctx)
//
//	ex, err := s.Run(ctx, command.New([]string{"qpidd", "--version"}))
package session

import (
	"context"
	stderrors "errors"
	"io"
	"slices"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/kbukum/execkit/command"
	"github.com/kbukum/execkit/component"
	"github.com/kbukum/execkit/errors"
	"github.com/kbukum/execkit/execution"
	"github.com/kbukum/execkit/executor"
	"github.com/kbukum/execkit/logger"
	"github.com/kbukum/execkit/observability"
	"github.com/kbukum/execkit/process"
)

const instrumentationName = "github.com/kbukum/execkit/session"

// Option configures a Session.
type Option func(*Session)

// WithLogger uses log instead of one built from the logging config.
func WithLogger(log *logger.Logger) Option {
	return func(s *Session) { s.log = log }
}

// WithMiddleware appends middleware applied to every executor, inside the
// logging, tracing and metrics middleware.
func WithMiddleware(mws ...executor.Middleware) Option {
	return func(s *Session) { s.middleware = append(s.middleware, mws...) }
}

// Session is the run context.
type Session struct {
	cfg        Config
	log        *logger.Logger
	pool       *process.Pool
	registry   *component.Registry
	tracer     trace.Tracer
	metrics    *observability.Metrics
	middleware []executor.Middleware

	mu        sync.Mutex
	executors map[string]executor.Executor
	closers   []io.Closer
	live      []execution.Execution
	closed    bool
}

// Open applies defaults to cfg, validates it and starts the session
// components. On failure every component already started is stopped.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Session, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.InvalidInput("config", err.Error()).WithCause(err)
	}

	s := &Session{cfg: cfg, executors: make(map[string]executor.Executor)}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.New(&cfg.Logging, cfg.Name)
	}
	s.log = s.log.WithComponent(logger.ComponentSession)

	pool, err := process.NewPool(cfg.Pool, s.log)
	if err != nil {
		return nil, errors.InvalidInput("pool", err.Error()).WithCause(err)
	}
	s.pool = pool

	s.registry = component.NewRegistry(s.log)
	for _, c := range s.components() {
		if err := s.registry.Register(c); err != nil {
			return nil, err
		}
	}
	if err := s.registry.StartAll(ctx); err != nil {
		_ = s.registry.StopAll(context.WithoutCancel(ctx))
		return nil, err
	}

	s.log.Info("session opened", map[string]interface{}{
		logger.FieldService: cfg.Name,
		logger.FieldBackend: cfg.Backend,
		"tracing":           cfg.Tracing.Enabled,
		"metrics":           cfg.Metrics.Enabled,
	})
	return s, nil
}

// components lists the session components in start order. Telemetry starts
// before the pool so it stops after the pool drained and the last
// executions reported.
func (s *Session) components() []component.Component {
	var list []component.Component
	if s.cfg.Tracing.Enabled {
		list = append(list, s.tracingComponent())
	}
	if s.cfg.Metrics.Enabled {
		list = append(list, s.metricsComponent())
	}
	return append(list, process.NewComponent(s.pool))
}

func (s *Session) tracingComponent() component.Component {
	var shutdown func(context.Context) error
	return component.Func{
		ComponentName: "tracer",
		StartFunc: func(ctx context.Context) error {
			tp, err := observability.InitTracer(ctx, s.cfg.Tracing)
			if err != nil {
				return err
			}
			shutdown = tp.Shutdown
			s.tracer = tp.Tracer(instrumentationName)
			return nil
		},
		StopFunc: func(ctx context.Context) error {
			if shutdown == nil {
				return nil
			}
			return shutdown(ctx)
		},
	}
}

func (s *Session) metricsComponent() component.Component {
	var shutdown func(context.Context) error
	return component.Func{
		ComponentName: "meter",
		StartFunc: func(ctx context.Context) error {
			mp, err := observability.InitMeter(ctx, &s.cfg.Metrics)
			if err != nil {
				return err
			}
			shutdown = mp.Shutdown
			m, err := observability.NewMetrics(mp.Meter(instrumentationName))
			if err != nil {
				return err
			}
			s.metrics = m
			return nil
		},
		StopFunc: func(ctx context.Context) error {
			if shutdown == nil {
				return nil
			}
			return shutdown(ctx)
		},
	}
}

// Config returns the effective configuration.
func (s *Session) Config() Config { return s.cfg }

// Logger returns the session logger.
func (s *Session) Logger() *logger.Logger { return s.log }

// Pool returns the process pool backends spawn into.
func (s *Session) Pool() *process.Pool { return s.pool }

// Health reports the health of every session component.
func (s *Session) Health(ctx context.Context) []component.Health {
	return s.registry.HealthAll(ctx)
}

// Describe summarizes the session components.
func (s *Session) Describe() []component.Description {
	return s.registry.Describe()
}

// Executor returns the executor for name, or for the configured default
// backend when name is empty. Executors are built once per session from
// their config section and wrapped with the session middleware.
func (s *Session) Executor(name string) (executor.Executor, error) {
	if name == "" {
		name = s.cfg.Backend
	}
	name = executor.Canonical(name)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.LaunchFailure(name, process.ErrPoolDrained)
	}
	if e, ok := s.executors[name]; ok {
		return e, nil
	}

	providerCfg, err := s.cfg.BackendConfig(name)
	if err != nil {
		return nil, err
	}
	base, err := executor.New(name, providerCfg, executor.Env{Pool: s.pool, Log: s.log})
	if err != nil {
		return nil, err
	}
	if c, ok := base.(io.Closer); ok {
		s.closers = append(s.closers, c)
	}

	e := executor.Chain(base, s.chain()...)
	s.executors[name] = e
	return e, nil
}

func (s *Session) chain() []executor.Middleware {
	mws := []executor.Middleware{s.track, executor.WithLogging(s.log)}
	if s.tracer != nil {
		mws = append(mws, executor.WithTracing(s.tracer))
	}
	if s.metrics != nil {
		mws = append(mws, executor.WithMetrics(s.metrics))
	}
	return append(mws, s.middleware...)
}

// track records every execution so Close can stop the ones still running.
// Settled executions are pruned as new ones arrive.
func (s *Session) track(next executor.Executor) executor.Executor {
	return trackedExecutor{Executor: next, s: s}
}

type trackedExecutor struct {
	executor.Executor
	s *Session
}

func (t trackedExecutor) Execute(ctx context.Context, cmd *command.Command) (execution.Execution, error) {
	ex, err := t.Executor.Execute(ctx, cmd)
	if err != nil {
		return nil, err
	}
	t.s.mu.Lock()
	closed := t.s.closed
	if !closed {
		t.s.live = append(slices.DeleteFunc(t.s.live, settled), ex)
	}
	t.s.mu.Unlock()
	if closed {
		ex.Interrupt()
	}
	return ex, nil
}

func settled(ex execution.Execution) bool {
	select {
	case <-ex.Done():
		return true
	default:
		return false
	}
}

// Run executes cmd on the default backend and waits for it unless it is a
// daemon.
func (s *Session) Run(ctx context.Context, cmd *command.Command) (execution.Execution, error) {
	e, err := s.Executor("")
	if err != nil {
		return nil, err
	}
	return executor.Run(ctx, e, cmd)
}

// Close interrupts the executions still running, releases executor clients
// and stops every component in reverse start order, draining the pool.
// Later calls are no-ops.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	closers := s.closers
	live := slices.DeleteFunc(s.live, settled)
	s.closers, s.live = nil, nil
	s.mu.Unlock()

	var errs []error
	if err := interruptAll(ctx, live); err != nil {
		errs = append(errs, err)
	}
	for _, c := range closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.registry.StopAll(ctx); err != nil {
		errs = append(errs, err)
	}
	s.log.Info("session closed", map[string]interface{}{logger.FieldService: s.cfg.Name})
	return stderrors.Join(errs...)
}

// interruptAll interrupts every execution and waits for them to settle or
// for ctx to end.
func interruptAll(ctx context.Context, live []execution.Execution) error {
	for _, ex := range live {
		ex.Interrupt()
	}
	for _, ex := range live {
		select {
		case <-ex.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
