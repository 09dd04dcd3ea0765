package process

import (
	"context"
	"errors"
	"fmt"

	"github.com/custodia-labs/readerbridge/internal/adapters/driven/rpc"
	"github.com/custodia-labs/readerbridge/internal/core/domain"
	"github.com/custodia-labs/readerbridge/internal/core/ports/driven"
	"github.com/custodia-labs/readerbridge/internal/core/ports/driving"
	"github.com/custodia-labs/readerbridge/internal/logger"
)

// Ensure InlineLauncher implements the interface.
var _ driven.Launcher = (*InlineLauncher)(nil)

// InlineLauncher serves a reader inside the connector process.
// The LaunchSpec executable and arguments are ignored.
type InlineLauncher struct {
	// NewReader creates the reader for one launch.
	NewReader func() driving.ReaderService
}

// NewInlineLauncher creates a launcher serving readers built by newReader.
func NewInlineLauncher(newReader func() driving.ReaderService) *InlineLauncher {
	return &InlineLauncher{NewReader: newReader}
}

// Launch serves a fresh reader on spec.Address until it is shut down or stopped.
func (l *InlineLauncher) Launch(ctx context.Context, spec driven.LaunchSpec) (driven.ReaderProcess, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.NewReader == nil {
		return nil, fmt.Errorf("%w: no inline reader configured", domain.ErrLaunchFailed)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	p := &inlineProcess{cancel: cancel, done: make(chan struct{})}
	svc := l.NewReader()

	go func() {
		defer close(p.done)
		err := rpc.ServeReader(runCtx, spec.Address, svc)
		code := 0
		if err != nil {
			code = 1
			p.err = err
		}
		logger.Debug("Inline reader on %s exited with code %d", spec.Address, code)
		if spec.OnExit != nil {
			spec.OnExit(code)
		}
		if err != nil && spec.OnError != nil {
			spec.OnError(err)
		}
	}()
	return p, nil
}

// inlineProcess is a reader served on a goroutine.
type inlineProcess struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func (p *inlineProcess) PID() int {
	return 0
}

func (p *inlineProcess) Done() <-chan struct{} {
	return p.done
}

func (p *inlineProcess) Err() error {
	<-p.done
	return p.err
}

// Stop cancels the server and waits for it to drain.
func (p *inlineProcess) Stop(ctx context.Context) error {
	p.cancel()
	select {
	case <-p.done:
		if errors.Is(p.err, context.Canceled) {
			return nil
		}
		return p.err
	case <-ctx.Done():
		return fmt.Errorf("waiting for inline reader: %w", ctx.Err())
	}
}
