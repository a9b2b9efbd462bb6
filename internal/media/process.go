package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Spec describes an external media process to launch.
type Spec struct {
	Bin   string
	Args  []string
	Dir   string // working directory; empty = inherit
	Stdin bool   // open a pipe to the process's stdin
}

// Process is a handle to a running external media process. Orchestration
// code only sees this interface so tests can run without a real encoder binary.
type Process interface {
	// Write appends raw input to the process's stdin. Returns an error when
	// the process was started without stdin or has exited.
	Write(p []byte) (int, error)
	// Stop signals the process to exit and kills it after the grace period.
	Stop(grace time.Duration) error
	// Running reports whether the process has not yet exited.
	Running() bool
	// Done is closed when the process exits.
	Done() <-chan struct{}
}

// Runner launches media processes.
type Runner interface {
	Start(ctx context.Context, spec Spec) (Process, error)
}

// ExecRunner launches real OS processes (ffmpeg).
type ExecRunner struct {
	logger *zap.Logger
}

// NewExecRunner creates a Runner backed by os/exec.
func NewExecRunner(logger *zap.Logger) *ExecRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecRunner{logger: logger}
}

// Start launches the process described by spec. The context is used for
// launch only; stopping is explicit via Process.Stop.
func (r *ExecRunner) Start(_ context.Context, spec Spec) (Process, error) {
	cmd := exec.Command(spec.Bin, spec.Args...)
	if spec.Dir != "" {
		cmd.Dir = spec.Dir
	}
	var stdin io.WriteCloser
	if spec.Stdin {
		pipe, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("stdin pipe: %w", err)
		}
		stdin = pipe
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Bin, err)
	}
	p := &execProcess{
		cmd:    cmd,
		stdin:  stdin,
		done:   make(chan struct{}),
		logger: r.logger,
	}
	go func() {
		err := cmd.Wait()
		if err != nil {
			// Crash or non-zero exit is logged, never retried here; the
			// coordinator surfaces the stalled stream to the host.
			r.logger.Warn("media process exited", zap.String("bin", spec.Bin), zap.Error(err))
		}
		close(p.done)
	}()
	return p, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	done   chan struct{}
	mu     sync.Mutex
	logger *zap.Logger
}

func (p *execProcess) Write(b []byte) (int, error) {
	p.mu.Lock()
	stdin := p.stdin
	p.mu.Unlock()
	if stdin == nil {
		return 0, fmt.Errorf("process has no stdin")
	}
	if !p.Running() {
		return 0, fmt.Errorf("process has exited")
	}
	return stdin.Write(b)
}

func (p *execProcess) Stop(grace time.Duration) error {
	p.mu.Lock()
	if p.stdin != nil {
		_ = p.stdin.Close()
		p.stdin = nil
	}
	p.mu.Unlock()

	if !p.Running() {
		return nil
	}
	_ = p.cmd.Process.Signal(os.Interrupt)
	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
		return p.cmd.Process.Kill()
	}
}

func (p *execProcess) Running() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *execProcess) Done() <-chan struct{} { return p.done }
