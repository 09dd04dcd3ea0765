package rpc

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/custodia-labs/readerbridge/internal/core/domain"
)

// DefaultConnectTimeout is the fixed deadline for a connection to become ready.
const DefaultConnectTimeout = 5 * time.Second

// dial creates a client connection to address and waits until it is READY.
// Connection establishment is the only time-bounded step of a job.
func dial(ctx context.Context, address string, timeout time.Duration) (*grpc.ClientConn, error) {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	conn, err := grpc.NewClient("passthrough:///"+address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
		grpc.WithConnectParams(grpc.ConnectParams{
			Backoff: backoff.Config{
				BaseDelay:  50 * time.Millisecond,
				Multiplier: 1.6,
				Jitter:     0.2,
				MaxDelay:   time.Second,
			},
			MinConnectTimeout: timeout,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("creating client for %s: %w", address, err)
	}

	if err := waitForReady(ctx, conn, timeout); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w at %s: %w", domain.ErrReaderUnreachable, address, err)
	}
	return conn, nil
}

// waitForReady blocks until conn is READY or the deadline passes.
func waitForReady(ctx context.Context, conn *grpc.ClientConn, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn.Connect()
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return fmt.Errorf("connection shut down")
		}
		if !conn.WaitForStateChange(ctx, state) {
			return fmt.Errorf("not ready after %s (last state %s): %w", timeout, state, ctx.Err())
		}
	}
}
