package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/readerbridge/internal/core/domain"
	"github.com/custodia-labs/readerbridge/internal/core/ports/driven"
	"github.com/custodia-labs/readerbridge/internal/logger"
)

// DefaultStopGrace is how long Stop waits after an interrupt before killing the reader.
const DefaultStopGrace = 3 * time.Second

// Ensure ExecLauncher implements the interface.
var _ driven.Launcher = (*ExecLauncher)(nil)

// ExecLauncher starts readers as child processes.
type ExecLauncher struct {
	// StopGrace overrides DefaultStopGrace.
	StopGrace time.Duration
}

// NewExecLauncher creates a launcher with default settings.
func NewExecLauncher() *ExecLauncher {
	return &ExecLauncher{StopGrace: DefaultStopGrace}
}

// Launch starts spec.Executable with spec.Args followed by spec.Address.
// The child is not bound to ctx; it lives until it exits or Stop is called.
func (l *ExecLauncher) Launch(ctx context.Context, spec driven.LaunchSpec) (driven.ReaderProcess, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if spec.Executable == "" {
		return nil, fmt.Errorf("%w: no reader executable configured", domain.ErrLaunchFailed)
	}

	args := append(append([]string{}, spec.Args...), spec.Address)
	cmd := exec.Command(spec.Executable, args...)
	cmd.Env = append(os.Environ(), spec.Env...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrLaunchFailed, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrLaunchFailed, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrLaunchFailed, spec.Executable, err)
	}

	grace := l.StopGrace
	if grace <= 0 {
		grace = DefaultStopGrace
	}
	p := &execProcess{
		cmd:   cmd,
		spec:  spec,
		grace: grace,
		done:  make(chan struct{}),
		log:   logger.Named("reader").With(zap.Int("pid", cmd.Process.Pid)),
	}
	p.log.Debug("reader started",
		zap.String("executable", spec.Executable),
		zap.String("address", spec.Address))

	go p.wait(stdout, stderr)
	return p, nil
}

// execProcess is a running child reader.
type execProcess struct {
	cmd   *exec.Cmd
	spec  driven.LaunchSpec
	grace time.Duration
	log   *zap.Logger

	stopping atomic.Bool
	done     chan struct{}
	err      error
}

func (p *execProcess) PID() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Done() <-chan struct{} {
	return p.done
}

func (p *execProcess) Err() error {
	<-p.done
	return p.err
}

// wait drains the output pipes, reaps the child and fires the callbacks.
func (p *execProcess) wait(stdout, stderr io.Reader) {
	defer close(p.done)

	var g errgroup.Group
	g.Go(func() error { return pump(stdout, p.log.Info) })
	g.Go(func() error { return pump(stderr, p.log.Warn) })
	if err := g.Wait(); err != nil {
		p.log.Debug("reading reader output", zap.Error(err))
	}

	err := p.cmd.Wait()
	code := p.cmd.ProcessState.ExitCode()
	p.log.Debug("reader exited", zap.Int("code", code))

	if p.spec.OnExit != nil {
		p.spec.OnExit(code)
	}
	if err == nil || p.stopping.Load() {
		return
	}
	p.err = err
	if p.spec.OnError != nil {
		p.spec.OnError(err)
	}
}

// pump logs r line by line until EOF.
func pump(r io.Reader, log func(string, ...zap.Field)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		log(sc.Text())
	}
	if err := sc.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}

// Stop interrupts the reader, kills it after the grace period and waits for it to be reaped.
func (p *execProcess) Stop(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	default:
	}
	p.stopping.Store(true)

	// Windows has no interrupt for child processes.
	if runtime.GOOS == "windows" {
		_ = p.cmd.Process.Kill()
	} else if err := p.cmd.Process.Signal(os.Interrupt); err != nil {
		_ = p.cmd.Process.Kill()
	}

	timer := time.NewTimer(p.grace)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-timer.C:
		p.log.Warn("reader ignored interrupt, killing")
		_ = p.cmd.Process.Kill()
	case <-ctx.Done():
		_ = p.cmd.Process.Kill()
	}

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for reader %d: %w", p.PID(), ctx.Err())
	}
}
