package process

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Process owns one running subprocess. It is created by Pool.Start and is
// never shared between executions.
type Process struct {
	cmd   *exec.Cmd
	pid   int
	grace time.Duration
	start time.Time

	stdout Buffer
	stderr Buffer

	done     chan struct{}
	exitCode int
	waitErr  error
	duration time.Duration

	termOnce sync.Once
}

// PID returns the OS process id.
func (p *Process) PID() int { return p.pid }

// Done is closed once the process has exited and its output pipes are drained.
func (p *Process) Done() <-chan struct{} { return p.done }

// Exited reports whether the process has exited.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the process exits and returns its exit code.
func (p *Process) Wait() int {
	<-p.done
	return p.exitCode
}

// ExitCode returns the exit code once exited, -1 before that.
func (p *Process) ExitCode() int {
	if !p.Exited() {
		return -1
	}
	return p.exitCode
}

// Err returns an I/O error observed while waiting, if any. A non-zero exit is
// not an error.
func (p *Process) Err() error {
	if !p.Exited() {
		return nil
	}
	return p.waitErr
}

// Stdout returns a snapshot of the captured standard output.
func (p *Process) Stdout() []byte { return p.stdout.Bytes() }

// Stderr returns a snapshot of the captured standard error.
func (p *Process) Stderr() []byte { return p.stderr.Bytes() }

// Result returns the final result. It blocks until the process exits.
func (p *Process) Result() *Result {
	<-p.done
	return &Result{
		PID:      p.pid,
		Stdout:   p.stdout.Bytes(),
		Stderr:   p.stderr.Bytes(),
		ExitCode: p.exitCode,
		Duration: p.duration,
	}
}

// Terminate sends SIGTERM to the process group and escalates to SIGKILL if
// the process is still alive after the grace period. It does not block.
func (p *Process) Terminate() error {
	if p.Exited() {
		return nil
	}
	err := p.signal(syscall.SIGTERM)
	p.termOnce.Do(func() {
		go func() {
			timer := time.NewTimer(p.grace)
			defer timer.Stop()
			select {
			case <-p.done:
			case <-timer.C:
				_ = p.signal(syscall.SIGKILL)
			}
		}()
	})
	return err
}

// Kill sends SIGKILL to the process group.
func (p *Process) Kill() error {
	if p.Exited() {
		return nil
	}
	return p.signal(syscall.SIGKILL)
}

func (p *Process) signal(sig syscall.Signal) error {
	err := syscall.Kill(-p.pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

func (p *Process) monitor() {
	err := p.cmd.Wait()
	p.duration = time.Since(p.start)
	p.exitCode = exitCode(p.cmd.ProcessState)

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		p.waitErr = err
	}
	close(p.done)
}

// exitCode maps a process state to the exit status, using the negative signal
// number for processes killed by a signal.
func exitCode(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal())
	}
	return state.ExitCode()
}

// mergeEnv merges additional env vars with the current environment.
func mergeEnv(extra []string) []string {
	if len(extra) == 0 {
		return nil // inherit parent env
	}
	env := os.Environ()
	return append(env, extra...)
}
