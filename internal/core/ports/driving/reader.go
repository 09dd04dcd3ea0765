package driving

import (
	"context"

	"github.com/custodia-labs/readerbridge/internal/core/domain"
)

// ReaderService is what a reader serves on the Control/Data channel.
// Implemented by concrete readers and by test doubles.
type ReaderService interface {
	// Initialize opens the source. Calling it again with the same filename must succeed.
	Initialize(ctx context.Context, filename, readBackAddress string) (failureReason string, err error)

	// GetData sends every record through send, returning when the stream is complete.
	GetData(ctx context.Context, jobID string, send func(domain.Record) error) error

	// Shutdown stops serving. The reader may exit once it returns.
	Shutdown(ctx context.Context, reason string) error
}
