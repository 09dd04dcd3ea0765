package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/readerbridge/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/readerbridge/internal/core/domain"
)

const testScope = "0x1"

func tileElement(id, value string) domain.ElementProps {
	return domain.ElementProps{
		ID:            id,
		ClassFullName: "TestConnector:SmallSquareTile",
		ModelID:       "0x20",
		Code:          domain.Code{Spec: "TestConnector", Scope: "0x20", Value: value},
	}
}

// syncItem runs the detect/update pair the way a format does.
func syncItem(t *testing.T, s *Synchronizer, kind string, item domain.SourceItem) (string, domain.ItemState) {
	t.Helper()
	ctx := context.Background()

	result, err := s.DetectChanges(ctx, testScope, kind, item)
	require.NoError(t, err)

	id, err := s.UpdateIModel(ctx, domain.SynchronizationResults{
		Element: tileElement(result.ElementID, item.ID),
		State:   result.State,
	}, testScope, item, kind)
	require.NoError(t, err)
	return id, result.State
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		aspect *domain.AspectProps
		item   domain.SourceItem
		want   domain.ItemState
	}{
		{"no aspect", nil, domain.SourceItem{ID: "a", Version: "1"}, domain.ItemNew},
		{"same version", &domain.AspectProps{Version: "1"}, domain.SourceItem{ID: "a", Version: "1"}, domain.ItemUnchanged},
		{"new version", &domain.AspectProps{Version: "1"}, domain.SourceItem{ID: "a", Version: "2"}, domain.ItemChanged},
		{"new version same checksum", &domain.AspectProps{Version: "1", Checksum: "c"},
			domain.SourceItem{ID: "a", Version: "2", Checksum: "c"}, domain.ItemUnchanged},
		{"new version new checksum", &domain.AspectProps{Version: "1", Checksum: "c"},
			domain.SourceItem{ID: "a", Version: "2", Checksum: "d"}, domain.ItemChanged},
		{"same checksum", &domain.AspectProps{Checksum: "c"}, domain.SourceItem{ID: "a", Checksum: "c"}, domain.ItemUnchanged},
		{"new checksum", &domain.AspectProps{Checksum: "c"}, domain.SourceItem{ID: "a", Checksum: "d"}, domain.ItemChanged},
		{"checksum when versions missing on one side", &domain.AspectProps{Checksum: "c"},
			domain.SourceItem{ID: "a", Version: "1", Checksum: "c"}, domain.ItemUnchanged},
		{"nothing to compare", &domain.AspectProps{}, domain.SourceItem{ID: "a"}, domain.ItemChanged},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.aspect, tt.item))
		})
	}
}

func TestSynchronizer_NeverSeenIsNew(t *testing.T) {
	s := NewSynchronizer(memory.NewTargetStore(), domain.OrphanKeep)
	ctx := context.Background()

	for _, item := range []domain.SourceItem{
		{ID: "a"},
		{ID: "b", Version: "1"},
		{ID: "c", Checksum: "x"},
		{ID: "d", Version: "1", Checksum: "x"},
	} {
		result, err := s.DetectChanges(ctx, testScope, "Tile", item)
		require.NoError(t, err)
		assert.Equal(t, domain.ItemNew, result.State, item.ID)
		assert.Empty(t, result.ElementID)
	}
}

func TestSynchronizer_SameVersionTwiceIsUnchangedWithoutMutation(t *testing.T) {
	store := newCountingStore()
	s := NewSynchronizer(store, domain.OrphanKeep)
	item := domain.SourceItem{ID: "tile-1", Version: "v1"}

	id, state := syncItem(t, s, "Tile", item)
	assert.Equal(t, domain.ItemNew, state)
	writes := store.writes()

	again, state := syncItem(t, s, "Tile", item)
	assert.Equal(t, domain.ItemUnchanged, state)
	assert.Equal(t, id, again)
	assert.Equal(t, writes, store.writes(), "unchanged item must not open a write transaction")
	assert.True(t, s.Seen(id))
}

func TestSynchronizer_ChecksumChangeIsChanged(t *testing.T) {
	store := memory.NewTargetStore()
	s := NewSynchronizer(store, domain.OrphanKeep)
	ctx := context.Background()

	id, _ := syncItem(t, s, "Tile", domain.SourceItem{ID: "tile-1", Checksum: "aaa"})

	result, err := s.DetectChanges(ctx, testScope, "Tile", domain.SourceItem{ID: "tile-1", Checksum: "bbb"})
	require.NoError(t, err)
	assert.Equal(t, domain.ItemChanged, result.State)
	assert.Equal(t, id, result.ElementID)

	updated, state := syncItem(t, s, "Tile", domain.SourceItem{ID: "tile-1", Checksum: "bbb"})
	assert.Equal(t, domain.ItemChanged, state)
	assert.Equal(t, id, updated, "changed items update in place")

	aspect, err := store.FindAspectBySource(ctx, domain.AspectIdentifier{ScopeID: testScope, Kind: "Tile", Identifier: "tile-1"})
	require.NoError(t, err)
	assert.Equal(t, "bbb", aspect.Checksum)
}

func TestSynchronizer_IdentityIsTheKey(t *testing.T) {
	store := memory.NewTargetStore()
	s := NewSynchronizer(store, domain.OrphanKeep)

	a, _ := syncItem(t, s, "Tile", domain.SourceItem{ID: "a", Checksum: "same"})
	b, _ := syncItem(t, s, "Tile", domain.SourceItem{ID: "b", Checksum: "same"})
	assert.NotEqual(t, a, b)

	// Same external id under another kind is another entity.
	c, state := syncItem(t, s, "Group", domain.SourceItem{ID: "c", Checksum: "same"})
	assert.Equal(t, domain.ItemNew, state)
	assert.NotEqual(t, a, c)
}

func TestSynchronizer_UpdateIModel_UnchangedWithoutID(t *testing.T) {
	s := NewSynchronizer(memory.NewTargetStore(), domain.OrphanKeep)

	_, err := s.UpdateIModel(context.Background(), domain.SynchronizationResults{State: domain.ItemUnchanged},
		testScope, domain.SourceItem{ID: "a"}, "Tile")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSynchronizer_UpdateIModel_AtomicOnFailure(t *testing.T) {
	store := memory.NewTargetStore()
	s := NewSynchronizer(store, domain.OrphanKeep)
	ctx := context.Background()

	syncItem(t, s, "Tile", domain.SourceItem{ID: "a", Version: "1"})

	// Same code under a new identity violates code uniqueness; nothing may be left behind.
	_, err := s.UpdateIModel(ctx, domain.SynchronizationResults{
		Element: tileElement("", "a"),
		State:   domain.ItemNew,
	}, testScope, domain.SourceItem{ID: "other", Version: "1"}, "Tile")
	require.ErrorIs(t, err, domain.ErrDuplicateCode)

	_, err = store.FindAspectBySource(ctx, domain.AspectIdentifier{ScopeID: testScope, Kind: "Tile", Identifier: "other"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSynchronizer_VersionBumpWithSameContentIsUnchanged(t *testing.T) {
	s := NewSynchronizer(memory.NewTargetStore(), domain.OrphanKeep)

	id, _ := syncItem(t, s, "Tile", domain.SourceItem{ID: "a", Version: "1", Checksum: "c"})

	result, err := s.DetectChanges(context.Background(), testScope, "Tile", domain.SourceItem{ID: "a", Version: "2", Checksum: "c"})
	require.NoError(t, err)
	assert.Equal(t, domain.ItemUnchanged, result.State)
	assert.Equal(t, id, result.ElementID)
}

func TestSynchronizer_UpdateIModel_ReplacesOwners(t *testing.T) {
	store := memory.NewTargetStore()
	s := NewSynchronizer(store, domain.OrphanKeep)
	ctx := context.Background()
	const owns = "TestConnector:GroupOwnsTile"

	first, _ := syncItem(t, s, "Group", domain.SourceItem{ID: "g1"})
	second, _ := syncItem(t, s, "Group", domain.SourceItem{ID: "g2"})

	tile := func(owner string, item domain.SourceItem) string {
		result, err := s.DetectChanges(ctx, testScope, "Tile", item)
		require.NoError(t, err)
		id, err := s.UpdateIModel(ctx, domain.SynchronizationResults{
			Element: tileElement(result.ElementID, "t"),
			State:   result.State,
			Owners:  []domain.Relationship{{ClassFullName: owns, SourceID: owner}},
		}, testScope, item, "Tile")
		require.NoError(t, err)
		return id
	}

	id := tile(first, domain.SourceItem{ID: "t", Checksum: "1"})
	rels, err := store.ListRelationships(ctx, owns)
	require.NoError(t, err)
	assert.Equal(t, []domain.Relationship{{ClassFullName: owns, SourceID: first, TargetID: id}}, rels)

	assert.Equal(t, id, tile(second, domain.SourceItem{ID: "t", Checksum: "2"}))
	rels, err = store.ListRelationships(ctx, owns)
	require.NoError(t, err)
	assert.Equal(t, []domain.Relationship{{ClassFullName: owns, SourceID: second, TargetID: id}}, rels)

	// No owner clears the class.
	tile("", domain.SourceItem{ID: "t", Checksum: "3"})
	rels, err = store.ListRelationships(ctx, owns)
	require.NoError(t, err)
	assert.Empty(t, rels)
}

func TestSynchronizer_UpdateIModel_OwnerFailureWritesNothing(t *testing.T) {
	store := memory.NewTargetStore()
	s := NewSynchronizer(store, domain.OrphanKeep)
	ctx := context.Background()

	_, err := s.UpdateIModel(ctx, domain.SynchronizationResults{
		Element: tileElement("", "t"),
		State:   domain.ItemNew,
		Owners:  []domain.Relationship{{ClassFullName: "TestConnector:GroupOwnsTile", SourceID: "0xfff"}},
	}, testScope, domain.SourceItem{ID: "t", Checksum: "1"}, "Tile")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = store.FindAspectBySource(ctx, domain.AspectIdentifier{ScopeID: testScope, Kind: "Tile", Identifier: "t"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	elements, err := store.QueryElements(ctx, domain.ElementQuery{ClassFullName: "TestConnector:SmallSquareTile"})
	require.NoError(t, err)
	assert.Empty(t, elements)
}

func TestSynchronizer_DetectChanges_EmptyID(t *testing.T) {
	s := NewSynchronizer(memory.NewTargetStore(), domain.OrphanKeep)
	_, err := s.DetectChanges(context.Background(), testScope, "Tile", domain.SourceItem{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSynchronizer_InsertRelationship_Idempotent(t *testing.T) {
	store := memory.NewTargetStore()
	s := NewSynchronizer(store, domain.OrphanKeep)
	ctx := context.Background()

	a, _ := syncItem(t, s, "Tile", domain.SourceItem{ID: "a"})
	b, _ := syncItem(t, s, "Tile", domain.SourceItem{ID: "b"})
	rel := domain.Relationship{ClassFullName: "TestConnector:GroupOwnsTile", SourceID: a, TargetID: b}

	require.NoError(t, s.InsertRelationship(ctx, rel))
	require.NoError(t, s.InsertRelationship(ctx, rel))

	rels, err := store.ListRelationships(ctx, rel.ClassFullName)
	require.NoError(t, err)
	assert.Len(t, rels, 1)
}

func TestSynchronizer_ReconcileOrphans(t *testing.T) {
	tests := []struct {
		policy      domain.OrphanPolicy
		wantRemoved bool
	}{
		{domain.OrphanKeep, false},
		{domain.OrphanReport, false},
		{domain.OrphanDelete, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			store := memory.NewTargetStore()
			ctx := context.Background()

			first := NewSynchronizer(store, tt.policy)
			kept, _ := syncItem(t, first, "Tile", domain.SourceItem{ID: "kept", Version: "1"})
			gone, _ := syncItem(t, first, "Tile", domain.SourceItem{ID: "gone", Version: "1"})

			// Second run only sees "kept".
			second := NewSynchronizer(store, tt.policy)
			syncItem(t, second, "Tile", domain.SourceItem{ID: "kept", Version: "1"})

			unseen, err := second.Unseen(ctx, testScope, "Tile")
			require.NoError(t, err)
			require.Len(t, unseen, 1)
			assert.Equal(t, gone, unseen[0].ElementID)

			n, err := second.ReconcileOrphans(ctx, testScope, []string{"Tile"})
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			_, err = store.GetElement(ctx, gone)
			if tt.wantRemoved {
				assert.ErrorIs(t, err, domain.ErrNotFound)
			} else {
				assert.NoError(t, err)
			}
			_, err = store.GetElement(ctx, kept)
			assert.NoError(t, err)
		})
	}
}

func TestNewSynchronizer_DefaultPolicy(t *testing.T) {
	s := NewSynchronizer(memory.NewTargetStore(), "")
	assert.Equal(t, domain.OrphanKeep, s.policy)
}
