package driven

import (
	"context"

	"github.com/custodia-labs/readerbridge/internal/core/domain"
)

// ReaderClient is the connector's handle on the reader's Control/Data channel.
type ReaderClient interface {
	// Initialize asks the reader to open and validate the source.
	// A non-empty failure reason means the reader rejected it.
	// Returns domain.ErrUnsupportedProtocol if the reader lacks the method.
	Initialize(ctx context.Context, filename, readBackAddress string) (failureReason string, err error)

	// GetData opens the server stream of records.
	GetData(ctx context.Context, jobID string) (RecordStream, error)

	// Shutdown tells the reader to stop serving and exit.
	Shutdown(ctx context.Context, reason string) error

	// Close releases the connection.
	Close() error
}

// RecordStream is a pull-based view of the GetData stream.
type RecordStream interface {
	// Next returns the next record, domain.ErrStreamEnd when the stream completed,
	// or a transport error wrapping domain.ErrStreamAborted.
	Next(ctx context.Context) (domain.Record, error)

	// Close abandons the stream.
	Close() error
}
