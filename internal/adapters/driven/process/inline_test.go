package process

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/custodia-labs/readerbridge/internal/adapters/driven/rpc"
	"github.com/custodia-labs/readerbridge/internal/core/domain"
	"github.com/custodia-labs/readerbridge/internal/core/ports/driven"
	"github.com/custodia-labs/readerbridge/internal/core/ports/driving"
)

// nopReader accepts every source and streams nothing.
type nopReader struct{}

func (nopReader) Initialize(context.Context, string, string) (string, error) { return "", nil }

func (nopReader) GetData(context.Context, string, func(domain.Record) error) error { return nil }

func (nopReader) Shutdown(context.Context, string) error { return nil }

func freeAddress(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())
	return addr
}

func newNopLauncher() *InlineLauncher {
	return NewInlineLauncher(func() driving.ReaderService { return nopReader{} })
}

func TestInlineLauncher_ExitsAfterShutdown(t *testing.T) {
	t.Cleanup(func() {
		goleak.VerifyNone(t)
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rec := &exitRecorder{}
	addr := freeAddress(t)
	p, err := newNopLauncher().Launch(ctx, driven.LaunchSpec{Address: addr, OnExit: rec.onExit, OnError: rec.onError})
	require.NoError(t, err)
	assert.Zero(t, p.PID())

	client, err := rpc.Connect(ctx, addr, 5*time.Second)
	require.NoError(t, err)
	defer client.Close()

	reason, err := client.Initialize(ctx, "anything", "")
	require.NoError(t, err)
	assert.Empty(t, reason)
	require.NoError(t, client.Shutdown(ctx, "done"))

	waitDone(t, p)
	assert.NoError(t, p.Err())
	codes, errs := rec.snapshot()
	assert.Equal(t, []int{0}, codes)
	assert.Empty(t, errs)
}

func TestInlineLauncher_Stop(t *testing.T) {
	t.Cleanup(func() {
		goleak.VerifyNone(t)
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p, err := newNopLauncher().Launch(ctx, driven.LaunchSpec{Address: freeAddress(t)})
	require.NoError(t, err)
	require.NoError(t, p.Stop(ctx))
	waitDone(t, p)
}

func TestInlineLauncher_AddressInUse(t *testing.T) {
	t.Cleanup(func() {
		goleak.VerifyNone(t)
	})
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer lis.Close()

	rec := &exitRecorder{}
	p, err := newNopLauncher().Launch(context.Background(), driven.LaunchSpec{
		Address: lis.Addr().String(),
		OnExit:  rec.onExit,
		OnError: rec.onError,
	})
	require.NoError(t, err)
	waitDone(t, p)

	assert.Error(t, p.Err())
	codes, errs := rec.snapshot()
	assert.Equal(t, []int{1}, codes)
	assert.Len(t, errs, 1)
}

func TestInlineLauncher_NoReader(t *testing.T) {
	_, err := (&InlineLauncher{}).Launch(context.Background(), driven.LaunchSpec{Address: "127.0.0.1:1"})
	assert.ErrorIs(t, err, domain.ErrLaunchFailed)
}
