package process

import (
	"context"
	"os/exec"
	"slices"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kbukum/execkit/errors"
	"github.com/kbukum/execkit/logger"
)

// ErrPoolDrained is the cause of launch failures on a drained pool.
var ErrPoolDrained = errors.New(errors.ErrCodeLaunchFailure, "process pool is drained")

// Pool tracks every local process started in one run context. The list is
// append-only; processes are never removed, so Drain sees everything that
// was ever started.
type Pool struct {
	cfg PoolConfig
	log *logger.Logger

	mu      sync.Mutex
	procs   []*Process
	drained bool

	drainOnce sync.Once
	drainErr  error
}

// NewPool creates a pool. A nil logger uses the global logger.
func NewPool(cfg PoolConfig, log *logger.Logger) (*Pool, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.InvalidInput("pool", err.Error())
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Pool{cfg: cfg, log: log.WithComponent(logger.ComponentPool)}, nil
}

// Config returns the effective pool configuration.
func (p *Pool) Config() PoolConfig { return p.cfg }

// Start spawns a process and registers it with the pool. It returns
// ErrPoolDrained once the pool has been drained and the raw spawn error
// otherwise; callers attribute it to their backend.
func (p *Pool) Start(spec Spec) (*Process, error) {
	if len(spec.Args) == 0 {
		return nil, errors.MissingField("args")
	}
	grace := spec.GracePeriod
	if grace == 0 {
		grace = p.cfg.GracePeriod
	}

	c := exec.Command(spec.Args[0], spec.Args[1:]...) //nolint:gosec // dynamic args are the purpose of this package
	c.Dir = spec.Dir
	c.Env = mergeEnv(spec.Env)
	if spec.Stdin != nil {
		c.Stdin = spec.Stdin
	}

	proc := &Process{cmd: c, grace: grace, done: make(chan struct{})}
	if spec.CaptureStdout {
		c.Stdout = &proc.stdout
	}
	if spec.CaptureStderr {
		c.Stderr = &proc.stderr
	}

	// Use process group so we can kill the entire tree
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.WaitDelay = grace

	// Holding the lock across Start keeps Drain from missing a process
	// spawned concurrently with it.
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.drained {
		return nil, ErrPoolDrained
	}
	if err := c.Start(); err != nil {
		return nil, err
	}
	proc.pid = c.Process.Pid
	proc.start = time.Now()
	p.procs = append(p.procs, proc)
	go proc.monitor()

	p.log.Debug("process started", map[string]interface{}{
		logger.FieldPID:  proc.pid,
		logger.FieldArgs: spec.Args,
	})
	return proc, nil
}

// Run starts a process and waits for it cooperatively. If ctx is canceled
// the process is terminated and the partial result is returned with the
// context error. A non-zero exit is reported in Result.ExitCode, not as an
// error.
func (p *Pool) Run(ctx context.Context, spec Spec) (*Result, error) {
	proc, err := p.Start(spec)
	if err != nil {
		return nil, err
	}
	select {
	case <-proc.Done():
	case <-ctx.Done():
		_ = proc.Terminate()
		<-proc.Done()
		return proc.Result(), errors.Interrupted().WithCause(ctx.Err())
	}
	return proc.Result(), proc.Err()
}

// Len returns how many processes were ever started through the pool.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.procs)
}

// Running returns the processes that have not exited yet.
func (p *Pool) Running() []*Process {
	p.mu.Lock()
	procs := slices.Clone(p.procs)
	p.mu.Unlock()
	return slices.DeleteFunc(procs, (*Process).Exited)
}

// Drained reports whether Drain has been called.
func (p *Pool) Drained() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.drained
}

// Drain terminates every process still alive. Each one is sent SIGTERM,
// polled up to Attempts times with Delay between polls, and killed if it is
// still alive after that. Drain runs once; later calls return the first
// result. After Drain the pool refuses new processes.
func (p *Pool) Drain(ctx context.Context) error {
	p.drainOnce.Do(func() {
		p.mu.Lock()
		p.drained = true
		procs := slices.Clone(p.procs)
		p.mu.Unlock()

		var g errgroup.Group
		alive := 0
		for _, proc := range procs {
			if proc.Exited() {
				continue
			}
			alive++
			g.Go(func() error { return p.reap(ctx, proc) })
		}
		p.drainErr = g.Wait()
		p.log.Info("process pool drained", map[string]interface{}{
			"started": len(procs),
			"alive":   alive,
		})
	})
	return p.drainErr
}

func (p *Pool) reap(ctx context.Context, proc *Process) error {
	if err := proc.signal(syscall.SIGTERM); err != nil {
		p.log.Warn("sigterm failed", map[string]interface{}{
			logger.FieldPID:   proc.pid,
			logger.FieldError: err.Error(),
		})
	}

	ticker := time.NewTicker(p.cfg.Delay)
	defer ticker.Stop()
poll:
	for range p.cfg.Attempts {
		select {
		case <-proc.Done():
			return nil
		case <-ctx.Done():
			break poll
		case <-ticker.C:
		}
	}

	if proc.Exited() {
		return nil
	}
	p.log.Warn("process ignored SIGTERM, killing", map[string]interface{}{logger.FieldPID: proc.pid})
	if err := proc.Kill(); err != nil {
		return errors.Internal(err).WithDetail("pid", proc.pid)
	}
	<-proc.Done()
	return nil
}
