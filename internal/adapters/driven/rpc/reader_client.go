package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"google.golang.org/grpc"

	"github.com/custodia-labs/readerbridge/internal/core/domain"
	"github.com/custodia-labs/readerbridge/internal/core/ports/driven"
	"github.com/custodia-labs/readerbridge/internal/logger"
)

// Ensure ReaderClient implements the interface.
var _ driven.ReaderClient = (*ReaderClient)(nil)

// ReaderClient is the connector's Control/Data client.
type ReaderClient struct {
	conn    *grpc.ClientConn
	address string
}

// Connect dials a reader and waits until the connection is ready.
func Connect(ctx context.Context, address string, timeout time.Duration) (*ReaderClient, error) {
	conn, err := dial(ctx, address, timeout)
	if err != nil {
		return nil, err
	}
	return &ReaderClient{conn: conn, address: address}, nil
}

// Initialize asks the reader to open filename.
func (c *ReaderClient) Initialize(ctx context.Context, filename, readBackAddress string) (string, error) {
	resp := new(InitializeResponse)
	err := c.conn.Invoke(ctx, methodInitialize, &InitializeRequest{
		Filename:        filename,
		ReadBackAddress: readBackAddress,
	}, resp)
	if err != nil {
		return "", fromGRPCError(err)
	}
	return resp.FailureReason, nil
}

// GetData opens the record stream.
func (c *ReaderClient) GetData(ctx context.Context, jobID string) (driven.RecordStream, error) {
	ctx, cancel := context.WithCancel(ctx)
	stream, err := c.conn.NewStream(ctx, &readerServiceDesc.Streams[0], methodGetData)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %w", domain.ErrStreamAborted, fromGRPCError(err))
	}
	if err := stream.SendMsg(&GetDataRequest{JobID: jobID}); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %w", domain.ErrStreamAborted, fromGRPCError(err))
	}
	if err := stream.CloseSend(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %w", domain.ErrStreamAborted, fromGRPCError(err))
	}
	return &recordStream{stream: stream, cancel: cancel}, nil
}

// Shutdown tells the reader to exit. A stream reset without an error code is a
// clean shutdown.
func (c *ReaderClient) Shutdown(ctx context.Context, reason string) error {
	err := c.conn.Invoke(ctx, methodShutdown, &ShutdownRequest{Reason: reason}, new(ShutdownResponse))
	if err == nil {
		return nil
	}
	if isShutdownRace(err) {
		logger.Debug("Reader %s closed before acknowledging shutdown: %v", c.address, err)
		return nil
	}
	return fromGRPCError(err)
}

// Close releases the connection.
func (c *ReaderClient) Close() error {
	return c.conn.Close()
}

// recordStream pulls records off a GetData server stream.
type recordStream struct {
	stream grpc.ClientStream
	cancel context.CancelFunc
	final  error
}

// Next returns the next record, domain.ErrStreamEnd at the end of the stream,
// or an error wrapping domain.ErrStreamAborted.
func (s *recordStream) Next(ctx context.Context) (domain.Record, error) {
	if s.final != nil {
		return domain.Record{}, s.final
	}
	if err := ctx.Err(); err != nil {
		return domain.Record{}, err
	}

	msg := new(RecordMessage)
	err := s.stream.RecvMsg(msg)
	if err != nil {
		s.final = domain.ErrStreamEnd
		if !errors.Is(err, io.EOF) {
			s.final = fmt.Errorf("%w: %w", domain.ErrStreamAborted, fromGRPCError(err))
		}
		s.cancel()
		return domain.Record{}, s.final
	}

	data := json.RawMessage(msg.Data)
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	return domain.Record{ObjType: msg.ObjType, Data: data}, nil
}

// Close abandons the stream.
func (s *recordStream) Close() error {
	s.cancel()
	return nil
}
