package driven

import (
	"context"

	"github.com/custodia-labs/readerbridge/internal/core/domain"
)

// ChangeTracker is the change-detection surface formats convert records through.
type ChangeTracker interface {
	// DetectChanges classifies item against its provenance record in (scopeID, kind).
	DetectChanges(ctx context.Context, scopeID, kind string, item domain.SourceItem) (domain.SyncResult, error)

	// UpdateIModel commits an element and its provenance record atomically and returns the element id.
	UpdateIModel(
		ctx context.Context,
		results domain.SynchronizationResults,
		scopeID string,
		item domain.SourceItem,
		kind string,
	) (string, error)

	// OnElementSeen marks an element as visited during the current run.
	OnElementSeen(id string)

	// InsertRelationship records a relationship once.
	InsertRelationship(ctx context.Context, rel domain.Relationship) error
}

// Conversion is the per-job context handed to a ReaderFormat.
type Conversion struct {
	// Store is the target store. Formats write shared definitions through it.
	Store TargetStore

	// Tracker converts records with provenance.
	Tracker ChangeTracker

	// ScopeID is the RepositoryLink element all aspects of the job are scoped to.
	ScopeID string

	// SubjectID is the job subject under the root subject.
	SubjectID string

	// ModelID is the physical model converted elements are placed in.
	ModelID string

	// DocumentState is the change state of the source as a whole.
	DocumentState domain.ItemState

	// SourcePath is the absolute path of the source.
	SourcePath string
}

// ReaderFormat is the per-format capability set driving one kind of source.
// Nil optional fields are skipped.
type ReaderFormat struct {
	// Name identifies the format in logs and codes.
	Name string

	// Kinds lists the provenance kinds subject to orphan reconciliation.
	Kinds []string

	// StartReader launches the reader serving on address.
	StartReader func(ctx context.Context, launcher Launcher, address string) (ReaderProcess, error)

	// ImportSchema records the format's domain schema. Optional.
	ImportSchema func(ctx context.Context, conv *Conversion) error

	// ImportDefinitions provisions definitions needed by every run. Optional.
	ImportDefinitions func(ctx context.Context, conv *Conversion) error

	// BuildSharedDefinitions provisions reference data when the document is new. Optional.
	BuildSharedDefinitions func(ctx context.Context, conv *Conversion) error

	// ConvertRecord converts one streamed record and returns its classification.
	// Unknown discriminators return domain.ErrUnknownRecord.
	ConvertRecord func(ctx context.Context, conv *Conversion, rec domain.Record) (domain.ItemState, error)

	// Finalize runs after the stream ended. Optional.
	Finalize func(ctx context.Context, conv *Conversion) error
}
