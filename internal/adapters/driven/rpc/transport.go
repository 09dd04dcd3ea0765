package rpc

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/custodia-labs/readerbridge/internal/core/ports/driven"
	"github.com/custodia-labs/readerbridge/internal/core/ports/driving"
)

// Ensure Transport implements the interface.
var _ driven.Transport = (*Transport)(nil)

// Transport binds both channels of a job over gRPC.
type Transport struct {
	// ConnectTimeout bounds waiting for the reader to become ready.
	ConnectTimeout time.Duration

	// ReadBackRate throttles read-back calls per second; zero disables throttling.
	ReadBackRate float64

	// ReadBackBurst is the throttle's burst size.
	ReadBackBurst int
}

// DialReader connects to a reader's Control/Data server.
func (t *Transport) DialReader(ctx context.Context, address string) (driven.ReaderClient, error) {
	return Connect(ctx, address, t.ConnectTimeout)
}

// ServeReadBack starts the read-back server for one job.
func (t *Transport) ServeReadBack(
	ctx context.Context,
	address string,
	svc driving.ReadBackService,
) (driven.ReadBackServer, error) {
	return ServeReadBack(ctx, address, svc, rate.Limit(t.ReadBackRate), t.ReadBackBurst)
}
