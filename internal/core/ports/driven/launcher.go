package driven

import "context"

// ReaderProcess is a running reader, child process or in-process.
type ReaderProcess interface {
	// PID returns the OS process id, or 0 for in-process readers.
	PID() int

	// Done is closed once the reader has exited.
	Done() <-chan struct{}

	// Err returns the exit error after Done is closed.
	Err() error

	// Stop terminates the reader if still running and waits for it.
	Stop(ctx context.Context) error
}

// LaunchSpec describes how to start a reader.
type LaunchSpec struct {
	// Executable is the reader program.
	Executable string

	// Args precede the address, which is always the last argument.
	Args []string

	// Address is the host:port the reader must serve on.
	Address string

	// Env is appended to the connector's environment.
	Env []string

	// OnExit is called with the exit code once the reader exits.
	OnExit func(code int)

	// OnError is called when the reader fails outside a clean exit.
	OnError func(err error)
}

// Launcher starts readers.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (ReaderProcess, error)
}
