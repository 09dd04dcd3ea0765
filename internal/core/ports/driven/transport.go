package driven

import (
	"context"

	"github.com/custodia-labs/readerbridge/internal/core/ports/driving"
)

// Transport binds the two RPC channels of a job.
type Transport interface {
	// DialReader connects to a reader's Control/Data server, failing fast when
	// the reader is not ready within the transport's connect deadline.
	DialReader(ctx context.Context, address string) (ReaderClient, error)

	// ServeReadBack starts the read-back server on address, answering through svc.
	ServeReadBack(ctx context.Context, address string, svc driving.ReadBackService) (ReadBackServer, error)
}

// ReadBackServer is a running read-back server.
type ReadBackServer interface {
	// Address returns the bound host:port.
	Address() string

	// Stop closes the listener and waits for in-flight calls.
	Stop()
}
