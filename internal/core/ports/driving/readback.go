package driving

import (
	"context"

	"github.com/custodia-labs/readerbridge/internal/core/domain"
)

// ElementSelector picks an element by exactly one of its fields.
type ElementSelector struct {
	ID             string                   `json:"id,omitempty"`
	FederationGUID string                   `json:"federationGuid,omitempty"`
	Code           *domain.Code             `json:"code,omitempty"`
	Aspect         *domain.AspectIdentifier `json:"aspect,omitempty"`
}

// DetectChangeRequest asks for the classification of an external record.
type DetectChangeRequest struct {
	Identifier domain.AspectIdentifier
	Version    string
	Checksum   string
}

// DetectChangeResult answers a DetectChangeRequest.
type DetectChangeResult struct {
	ElementID string
	AspectID  string
	IsChanged bool
	State     domain.ItemState
}

// ReadBackService answers the reader's queries into the target store.
// Every method is read-only.
type ReadBackService interface {
	// TryGetElementProps returns nil, nil when nothing matches.
	TryGetElementProps(ctx context.Context, sel ElementSelector) (*domain.ElementProps, error)

	// GetExternalSourceAspectProps returns domain.ErrNotFound for unknown ids.
	GetExternalSourceAspectProps(ctx context.Context, aspectID string) (*domain.AspectProps, error)

	// DetectChange classifies a record without recording anything.
	DetectChange(ctx context.Context, req DetectChangeRequest) (DetectChangeResult, error)

	// ExecuteQuery runs a structured element query.
	ExecuteQuery(ctx context.Context, q domain.ElementQuery) ([]domain.ElementProps, error)
}
