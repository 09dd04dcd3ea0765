package services

import (
	"context"
	"net"
	"sync"

	"github.com/custodia-labs/readerbridge/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/readerbridge/internal/core/domain"
	"github.com/custodia-labs/readerbridge/internal/core/ports/driven"
	"github.com/custodia-labs/readerbridge/internal/core/ports/driving"
)

// --- Test doubles shared by the service tests ---

// initResult scripts one Initialize answer.
type initResult struct {
	reason string
	err    error
}

// fakeReaderClient implements driven.ReaderClient from a script.
type fakeReaderClient struct {
	mu          sync.Mutex
	initResults []initResult
	initCalls   int
	filenames   []string
	readBacks   []string

	records   []domain.Record
	streamErr error
	getErr    error

	shutdownErr error
	shutdowns   int
	closed      bool
}

func (c *fakeReaderClient) Initialize(_ context.Context, filename, readBackAddress string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initCalls++
	c.filenames = append(c.filenames, filename)
	c.readBacks = append(c.readBacks, readBackAddress)
	if len(c.initResults) == 0 {
		return "", nil
	}
	r := c.initResults[0]
	if len(c.initResults) > 1 {
		c.initResults = c.initResults[1:]
	}
	return r.reason, r.err
}

func (c *fakeReaderClient) GetData(_ context.Context, _ string) (driven.RecordStream, error) {
	if c.getErr != nil {
		return nil, c.getErr
	}
	return &sliceStream{records: c.records, err: c.streamErr}, nil
}

func (c *fakeReaderClient) Shutdown(_ context.Context, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shutdowns++
	return c.shutdownErr
}

func (c *fakeReaderClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeReaderClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initCalls
}

// sliceStream yields records then err (or the end of the stream).
type sliceStream struct {
	records []domain.Record
	err     error
	closed  bool
}

func (s *sliceStream) Next(ctx context.Context) (domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return domain.Record{}, err
	}
	if len(s.records) == 0 {
		if s.err != nil {
			return domain.Record{}, s.err
		}
		return domain.Record{}, domain.ErrStreamEnd
	}
	rec := s.records[0]
	s.records = s.records[1:]
	return rec, nil
}

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}

// fakeTransport hands out one client and records read-back servers.
type fakeTransport struct {
	client   *fakeReaderClient
	dialErr  error
	bind     bool // listen on read-back addresses like a real server
	dialed   []string
	servers  []*fakeReadBackServer
	readBack driving.ReadBackService
}

func (t *fakeTransport) DialReader(_ context.Context, address string) (driven.ReaderClient, error) {
	t.dialed = append(t.dialed, address)
	if t.dialErr != nil {
		return nil, t.dialErr
	}
	return t.client, nil
}

func (t *fakeTransport) ServeReadBack(
	_ context.Context,
	address string,
	svc driving.ReadBackService,
) (driven.ReadBackServer, error) {
	srv := &fakeReadBackServer{addr: address}
	if t.bind {
		lis, err := net.Listen("tcp", address)
		if err != nil {
			return nil, err
		}
		srv.lis = lis
	}
	t.servers = append(t.servers, srv)
	t.readBack = svc
	return srv, nil
}

type fakeReadBackServer struct {
	addr    string
	lis     net.Listener
	stopped bool
}

func (s *fakeReadBackServer) Address() string { return s.addr }

func (s *fakeReadBackServer) Stop() {
	s.stopped = true
	if s.lis != nil {
		s.lis.Close()
	}
}

// fakeProcess implements driven.ReaderProcess.
type fakeProcess struct {
	done    chan struct{}
	stopped bool
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{done: make(chan struct{})}
}

func (p *fakeProcess) PID() int              { return 0 }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }
func (p *fakeProcess) Err() error            { return nil }
func (p *fakeProcess) Stop(_ context.Context) error {
	if !p.stopped {
		p.stopped = true
		close(p.done)
	}
	return nil
}

// countingStore counts write transactions opened against a memory store.
type countingStore struct {
	*memory.TargetStore
	mu     sync.Mutex
	begins int
}

func newCountingStore() *countingStore {
	return &countingStore{TargetStore: memory.NewTargetStore()}
}

func (s *countingStore) Begin(ctx context.Context) (driven.TargetTx, error) {
	s.mu.Lock()
	s.begins++
	s.mu.Unlock()
	return s.TargetStore.Begin(ctx)
}

func (s *countingStore) writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.begins
}
