package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/custodia-labs/readerbridge/internal/core/domain"
	"github.com/custodia-labs/readerbridge/internal/core/ports/driven"
	"github.com/custodia-labs/readerbridge/internal/logger"
)

// Ensure Synchronizer implements the interface.
var _ driven.ChangeTracker = (*Synchronizer)(nil)

// Synchronizer decides whether external records are new, changed or unchanged
// and applies the outcome to the target store exactly once per identity.
// One Synchronizer serves one job run.
type Synchronizer struct {
	store  driven.TargetStore
	policy domain.OrphanPolicy

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewSynchronizer creates a synchronizer over store.
func NewSynchronizer(store driven.TargetStore, policy domain.OrphanPolicy) *Synchronizer {
	if policy == "" {
		policy = domain.OrphanKeep
	}
	return &Synchronizer{
		store:  store,
		policy: policy,
		seen:   make(map[string]struct{}),
	}
}

// Classify compares a stored provenance record against an incoming item.
// Equal versions are Unchanged; otherwise equal checksums are. With nothing
// matching the item is Changed.
func Classify(aspect *domain.AspectProps, item domain.SourceItem) domain.ItemState {
	if aspect == nil {
		return domain.ItemNew
	}
	if aspect.Version != "" && item.Version != "" && aspect.Version == item.Version {
		return domain.ItemUnchanged
	}
	if aspect.Checksum != "" && item.Checksum != "" && aspect.Checksum == item.Checksum {
		return domain.ItemUnchanged
	}
	return domain.ItemChanged
}

// DetectChanges looks up the provenance record for (scopeID, kind, item.ID) and classifies item.
func (s *Synchronizer) DetectChanges(
	ctx context.Context,
	scopeID, kind string,
	item domain.SourceItem,
) (domain.SyncResult, error) {
	if item.ID == "" {
		return domain.SyncResult{}, fmt.Errorf("%w: source item without id", domain.ErrInvalidInput)
	}

	aspect, err := s.store.FindAspectBySource(ctx, domain.AspectIdentifier{
		ScopeID: scopeID, Kind: kind, Identifier: item.ID,
	})
	if errors.Is(err, domain.ErrNotFound) {
		return domain.SyncResult{State: domain.ItemNew}, nil
	}
	if err != nil {
		return domain.SyncResult{}, fmt.Errorf("find aspect %s/%s: %w", kind, item.ID, err)
	}

	return domain.SyncResult{
		ElementID: aspect.ElementID,
		AspectID:  aspect.ID,
		State:     Classify(aspect, item),
	}, nil
}

// OnElementSeen marks an element as visited during the current run.
func (s *Synchronizer) OnElementSeen(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	s.seen[id] = struct{}{}
	s.mu.Unlock()
}

// Seen reports whether id was marked during the current run.
func (s *Synchronizer) Seen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[id]
	return ok
}

// UpdateIModel applies results for item in a single store transaction.
// New inserts the element, Changed updates it in place, and both (re)write
// the provenance record and the element's owners. Unchanged performs no
// write at all. The element is marked seen in every case.
func (s *Synchronizer) UpdateIModel(
	ctx context.Context,
	results domain.SynchronizationResults,
	scopeID string,
	item domain.SourceItem,
	kind string,
) (string, error) {
	if results.State == domain.ItemUnchanged {
		if results.Element.ID == "" {
			return "", fmt.Errorf("%w: unchanged %s/%s without element id", domain.ErrInvalidInput, kind, item.ID)
		}
		s.OnElementSeen(results.Element.ID)
		return results.Element.ID, nil
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	id := results.Element.ID
	switch {
	case results.State == domain.ItemChanged && id != "":
		if err := tx.UpdateElement(ctx, results.Element); err != nil {
			return "", fmt.Errorf("update element %s: %w", id, err)
		}
	default:
		props := results.Element
		props.ID = ""
		if id, err = tx.InsertElement(ctx, props); err != nil {
			return "", fmt.Errorf("insert %s/%s: %w", kind, item.ID, err)
		}
	}

	_, err = tx.UpsertAspect(ctx, domain.AspectProps{
		ElementID:  id,
		ScopeID:    scopeID,
		Kind:       kind,
		Identifier: item.ID,
		Version:    item.Version,
		Checksum:   item.Checksum,
	})
	if err != nil {
		return "", fmt.Errorf("upsert aspect %s/%s: %w", kind, item.ID, err)
	}

	for _, rel := range results.Owners {
		if rel.TargetID == "" {
			rel.TargetID = id
		}
		if err := tx.DeleteRelationships(ctx, rel.ClassFullName, rel.TargetID); err != nil {
			return "", fmt.Errorf("clear %s of %s: %w", rel.ClassFullName, rel.TargetID, err)
		}
		if rel.SourceID == "" {
			continue
		}
		if err := tx.InsertRelationship(ctx, rel); err != nil {
			return "", fmt.Errorf("insert %s: %w", rel.ClassFullName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	s.OnElementSeen(id)
	return id, nil
}

// InsertRelationship records rel once.
func (s *Synchronizer) InsertRelationship(ctx context.Context, rel domain.Relationship) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := tx.InsertRelationship(ctx, rel); err != nil {
		return fmt.Errorf("insert %s: %w", rel.ClassFullName, err)
	}
	return tx.Commit()
}

// Unseen lists the provenance records in (scopeID, kind) whose element was
// never marked seen during the current run.
func (s *Synchronizer) Unseen(ctx context.Context, scopeID string, kinds ...string) ([]domain.AspectProps, error) {
	var out []domain.AspectProps
	for _, kind := range kinds {
		aspects, err := s.store.ListAspects(ctx, scopeID, kind)
		if err != nil {
			return nil, fmt.Errorf("list %s aspects: %w", kind, err)
		}
		for _, a := range aspects {
			if !s.Seen(a.ElementID) {
				out = append(out, a)
			}
		}
	}
	return out, nil
}

// ReconcileOrphans applies the orphan policy to unseen records and returns how many were found.
func (s *Synchronizer) ReconcileOrphans(ctx context.Context, scopeID string, kinds []string) (int, error) {
	orphans, err := s.Unseen(ctx, scopeID, kinds...)
	if err != nil {
		return 0, err
	}
	if len(orphans) == 0 {
		return 0, nil
	}

	switch s.policy {
	case domain.OrphanReport:
		for _, a := range orphans {
			logger.Warn("Orphan %s %q (element %s) not seen in this run", a.Kind, a.Identifier, a.ElementID)
		}
	case domain.OrphanDelete:
		tx, err := s.store.Begin(ctx)
		if err != nil {
			return 0, err
		}
		defer tx.Rollback()

		deleted := make(map[string]struct{}, len(orphans))
		for _, a := range orphans {
			if _, done := deleted[a.ElementID]; done {
				continue
			}
			if err := tx.DeleteElement(ctx, a.ElementID); err != nil && !errors.Is(err, domain.ErrNotFound) {
				return 0, fmt.Errorf("delete orphan %s: %w", a.ElementID, err)
			}
			deleted[a.ElementID] = struct{}{}
			logger.Debug("Deleted orphan %s %q (element %s)", a.Kind, a.Identifier, a.ElementID)
		}
		if err := tx.Commit(); err != nil {
			return 0, err
		}
	default:
		logger.Debug("Keeping %d orphaned elements", len(orphans))
	}
	return len(orphans), nil
}
