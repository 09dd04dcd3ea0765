package driving

import (
	"context"

	"github.com/custodia-labs/readerbridge/internal/core/domain"
)

// BridgeJob synchronises one source through one reader process.
type BridgeJob interface {
	// Run drives the job from Idle to Terminated.
	Run(ctx context.Context, sourcePath string) error

	// Status returns a snapshot of the job.
	Status() JobStatus
}

// JobStatus represents the current state of a job.
type JobStatus struct {
	// SourcePath identifies the source.
	SourcePath string

	// State is the current state machine stage.
	State domain.JobState

	// DocumentState is the change state of the source as a whole.
	DocumentState domain.ItemState

	// Stats counts processed records.
	Stats domain.JobStats
}
