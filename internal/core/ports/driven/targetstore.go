package driven

import (
	"context"

	"github.com/custodia-labs/readerbridge/internal/core/domain"
)

// ElementReader is the read-only view of the target store.
// Implementations only expose committed state and must be safe to call
// concurrently with a single writer holding a TargetTx.
type ElementReader interface {
	// GetElement returns an element by id, or domain.ErrNotFound.
	GetElement(ctx context.Context, id string) (*domain.ElementProps, error)

	// FindElementByGUID returns an element by federation GUID, or domain.ErrNotFound.
	FindElementByGUID(ctx context.Context, guid string) (*domain.ElementProps, error)

	// QueryElementIDByCode returns the id of the element holding code, or domain.ErrNotFound.
	QueryElementIDByCode(ctx context.Context, code domain.Code) (string, error)

	// FindAspectBySource returns the provenance record for key, or domain.ErrNotFound.
	FindAspectBySource(ctx context.Context, key domain.AspectIdentifier) (*domain.AspectProps, error)

	// GetAspect returns a provenance record by id, or domain.ErrNotFound.
	GetAspect(ctx context.Context, id string) (*domain.AspectProps, error)

	// ListAspects returns all provenance records for a scope and kind.
	ListAspects(ctx context.Context, scopeID, kind string) ([]domain.AspectProps, error)

	// QueryElements returns elements matching q ordered by id.
	QueryElements(ctx context.Context, q domain.ElementQuery) ([]domain.ElementProps, error)

	// ListRelationships returns relationships of a class; empty class lists all.
	ListRelationships(ctx context.Context, classFullName string) ([]domain.Relationship, error)

	// GetSchema returns an imported schema by name, or domain.ErrNotFound.
	GetSchema(ctx context.Context, name string) (*domain.Schema, error)
}

// TargetStore is the persistent store elements are synchronised into.
// Writes go through a TargetTx; the orchestrator is the only writer.
type TargetStore interface {
	ElementReader

	// Begin opens a write transaction.
	Begin(ctx context.Context) (TargetTx, error)

	// Close releases resources.
	Close() error
}

// TargetTx groups writes that must commit atomically.
type TargetTx interface {
	// InsertElement assigns an id and returns it. Codes must be unique.
	InsertElement(ctx context.Context, props domain.ElementProps) (string, error)

	// UpdateElement replaces an existing element's properties.
	UpdateElement(ctx context.Context, props domain.ElementProps) error

	// DeleteElement removes an element with its aspects and relationships.
	DeleteElement(ctx context.Context, id string) error

	// UpsertAspect inserts or updates the aspect keyed by (scope, kind, identifier).
	UpsertAspect(ctx context.Context, aspect domain.AspectProps) (string, error)

	// InsertRelationship records a relationship; inserting an existing one is a no-op.
	InsertRelationship(ctx context.Context, rel domain.Relationship) error

	// DeleteRelationships removes every relationship of a class that targets targetID.
	DeleteRelationships(ctx context.Context, classFullName, targetID string) error

	// ImportSchema records a schema, replacing an older version.
	ImportSchema(ctx context.Context, schema domain.Schema) error

	// Commit makes the writes visible to readers.
	Commit() error

	// Rollback discards the writes. Calling it after Commit is a no-op.
	Rollback() error
}
