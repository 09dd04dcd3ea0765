package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/custodia-labs/readerbridge/internal/core/domain"
	"github.com/custodia-labs/readerbridge/internal/core/ports/driven"
	"github.com/custodia-labs/readerbridge/internal/core/ports/driving"
)

// Ensure ReadBackService implements the interface.
var _ driving.ReadBackService = (*ReadBackService)(nil)

// MaxQueryRows caps ExecuteQuery results when the query sets no limit.
const MaxQueryRows = 10000

// ReadBackService answers reader queries from committed store state.
// It holds only the read-only view, so it cannot mutate the store.
type ReadBackService struct {
	store driven.ElementReader
}

// NewReadBackService creates a read-back service for one job.
func NewReadBackService(store driven.ElementReader) *ReadBackService {
	return &ReadBackService{store: store}
}

// TryGetElementProps resolves sel to an element, returning nil, nil on a miss.
func (s *ReadBackService) TryGetElementProps(
	ctx context.Context,
	sel driving.ElementSelector,
) (*domain.ElementProps, error) {
	var (
		props *domain.ElementProps
		err   error
	)
	switch {
	case sel.ID != "":
		props, err = s.store.GetElement(ctx, sel.ID)
	case sel.FederationGUID != "":
		props, err = s.store.FindElementByGUID(ctx, sel.FederationGUID)
	case sel.Code != nil:
		var id string
		id, err = s.store.QueryElementIDByCode(ctx, *sel.Code)
		if err == nil {
			props, err = s.store.GetElement(ctx, id)
		}
	case sel.Aspect != nil:
		var aspect *domain.AspectProps
		aspect, err = s.store.FindAspectBySource(ctx, *sel.Aspect)
		if err == nil {
			props, err = s.store.GetElement(ctx, aspect.ElementID)
		}
	default:
		return nil, fmt.Errorf("%w: empty element selector", domain.ErrInvalidInput)
	}

	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return props, nil
}

// GetExternalSourceAspectProps returns a provenance record by id.
func (s *ReadBackService) GetExternalSourceAspectProps(
	ctx context.Context,
	aspectID string,
) (*domain.AspectProps, error) {
	if aspectID == "" {
		return nil, fmt.Errorf("%w: empty aspect id", domain.ErrInvalidInput)
	}
	return s.store.GetAspect(ctx, aspectID)
}

// DetectChange classifies a record the same way the synchronizer does, without recording anything.
func (s *ReadBackService) DetectChange(
	ctx context.Context,
	req driving.DetectChangeRequest,
) (driving.DetectChangeResult, error) {
	if req.Identifier.Identifier == "" {
		return driving.DetectChangeResult{}, fmt.Errorf("%w: empty identifier", domain.ErrInvalidInput)
	}

	aspect, err := s.store.FindAspectBySource(ctx, req.Identifier)
	if errors.Is(err, domain.ErrNotFound) {
		return driving.DetectChangeResult{IsChanged: true, State: domain.ItemNew}, nil
	}
	if err != nil {
		return driving.DetectChangeResult{}, err
	}

	state := Classify(aspect, domain.SourceItem{
		ID:       req.Identifier.Identifier,
		Version:  req.Version,
		Checksum: req.Checksum,
	})
	return driving.DetectChangeResult{
		ElementID: aspect.ElementID,
		AspectID:  aspect.ID,
		IsChanged: state != domain.ItemUnchanged,
		State:     state,
	}, nil
}

// ExecuteQuery runs a structured element query.
func (s *ReadBackService) ExecuteQuery(ctx context.Context, q domain.ElementQuery) ([]domain.ElementProps, error) {
	if q.Limit <= 0 || q.Limit > MaxQueryRows {
		q.Limit = MaxQueryRows
	}
	return s.store.QueryElements(ctx, q)
}
