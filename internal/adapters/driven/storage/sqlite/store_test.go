package sqlite

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/readerbridge/internal/core/domain"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	require.NotNil(t, store)
	t.Cleanup(func() {
		assert.NoError(t, store.Close())
	})
	return store
}

func insert(t *testing.T, store *Store, props domain.ElementProps) string {
	t.Helper()
	ctx := context.Background()
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	id, err := tx.InsertElement(ctx, props)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	return id
}

func tileProps(value string) domain.ElementProps {
	return domain.ElementProps{
		ClassFullName:  "TestConnector:SmallSquareTile",
		ModelID:        "0x20",
		Code:           domain.Code{Spec: "TestConnector", Scope: "0x20", Value: value},
		JSONProperties: json.RawMessage(`{"color":"red"}`),
	}
}

// ==================== Store Creation and Initialization Tests ====================

func TestNewStore_ErrorHandling(t *testing.T) {
	_, err := NewStore("/invalid\x00path")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "creating data directory")
}

func TestNewStore_Success(t *testing.T) {
	dir := t.TempDir()

	store, err := NewStore(dir)
	require.NoError(t, err)
	defer store.Close()

	dbPath := filepath.Join(dir, "target.db")
	assert.Equal(t, dbPath, store.Path())
	assert.FileExists(t, dbPath)
	assert.NoError(t, store.db.Ping())
}

func TestNewStore_ReopenKeepsDataAndReserved(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewStore(dir)
	require.NoError(t, err)
	id := insert(t, store, tileProps("tile-1"))
	root, err := store.GetElement(ctx, domain.RootSubjectID)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := NewStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	_, err = reopened.GetElement(ctx, id)
	assert.NoError(t, err)

	rootAgain, err := reopened.GetElement(ctx, domain.RootSubjectID)
	require.NoError(t, err)
	assert.Equal(t, root.FederationGUID, rootAgain.FederationGUID)

	var versions int
	require.NoError(t, reopened.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&versions))
	assert.Equal(t, 2, versions)
}

func TestNewStore_DataDirPermissions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	store, err := NewStore(dir)
	require.NoError(t, err)
	defer store.Close()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

// ==================== Element Tests ====================

func TestStore_InsertElement(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	id := insert(t, store, tileProps("tile-1"))
	assert.Equal(t, "0x20", id)

	got, err := store.GetElement(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "TestConnector:SmallSquareTile", got.ClassFullName)
	assert.Equal(t, "tile-1", got.Code.Value)
	assert.NotEmpty(t, got.FederationGUID)
	assert.JSONEq(t, `{"color":"red"}`, string(got.JSONProperties))

	byGUID, err := store.FindElementByGUID(ctx, got.FederationGUID)
	require.NoError(t, err)
	assert.Equal(t, id, byGUID.ID)

	byCode, err := store.QueryElementIDByCode(ctx, got.Code)
	require.NoError(t, err)
	assert.Equal(t, id, byCode)
}

func TestStore_InsertElement_DuplicateCode(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	insert(t, store, tileProps("tile-1"))

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = tx.InsertElement(ctx, tileProps("tile-1"))
	assert.ErrorIs(t, err, domain.ErrDuplicateCode)
}

func TestStore_InsertElement_EmptyCodesDoNotCollide(t *testing.T) {
	store := setupTestStore(t)

	a := insert(t, store, domain.ElementProps{ClassFullName: "X", ModelID: "0x20"})
	b := insert(t, store, domain.ElementProps{ClassFullName: "X", ModelID: "0x20"})
	assert.NotEqual(t, a, b)
}

func TestStore_GetElement_NotFound(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.GetElement(ctx, "0x999")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = store.GetElement(ctx, "not-an-id")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_UpdateElement(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	id := insert(t, store, tileProps("tile-1"))
	before, err := store.GetElement(ctx, id)
	require.NoError(t, err)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	updated := tileProps("tile-1")
	updated.ID = id
	updated.JSONProperties = json.RawMessage(`{"color":"blue"}`)
	require.NoError(t, tx.UpdateElement(ctx, updated))
	require.NoError(t, tx.Commit())

	after, err := store.GetElement(ctx, id)
	require.NoError(t, err)
	assert.JSONEq(t, `{"color":"blue"}`, string(after.JSONProperties))
	assert.Equal(t, before.FederationGUID, after.FederationGUID)
}

func TestStore_UpdateElement_CodeTakenByOther(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	insert(t, store, tileProps("tile-1"))
	id := insert(t, store, tileProps("tile-2"))

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	clash := tileProps("tile-1")
	clash.ID = id
	assert.ErrorIs(t, tx.UpdateElement(ctx, clash), domain.ErrDuplicateCode)
}

func TestStore_UpdateElement_GUIDTakenByOther(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	first := insert(t, store, tileProps("tile-1"))
	id := insert(t, store, tileProps("tile-2"))
	owner, err := store.GetElement(ctx, first)
	require.NoError(t, err)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	clash := tileProps("tile-2")
	clash.ID = id
	clash.FederationGUID = owner.FederationGUID
	assert.ErrorIs(t, tx.UpdateElement(ctx, clash), domain.ErrAlreadyExists)

	dup := tileProps("tile-3")
	dup.FederationGUID = owner.FederationGUID
	_, err = tx.InsertElement(ctx, dup)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

// ==================== Aspect Tests ====================

func TestStore_UpsertAspect(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	elementID := insert(t, store, tileProps("tile-1"))
	key := domain.AspectIdentifier{ScopeID: "0x1", Kind: "Tile", Identifier: "guid-1"}

	upsert := func(version string) string {
		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		id, err := tx.UpsertAspect(ctx, domain.AspectProps{
			ElementID: elementID, ScopeID: key.ScopeID, Kind: key.Kind, Identifier: key.Identifier, Version: version,
		})
		require.NoError(t, err)
		require.NoError(t, tx.Commit())
		return id
	}

	first := upsert("v1")
	second := upsert("v2")
	assert.Equal(t, first, second)

	got, err := store.FindAspectBySource(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Version)
	assert.Equal(t, elementID, got.ElementID)

	byID, err := store.GetAspect(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, key, byID.Key())
}

func TestStore_UpsertAspect_MissingOwner(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = tx.UpsertAspect(ctx, domain.AspectProps{ElementID: "0x999", ScopeID: "0x1", Kind: "Tile", Identifier: "x"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_ListAspects(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	elementID := insert(t, store, tileProps("tile-1"))

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	for _, ident := range []string{"a", "b"} {
		_, err := tx.UpsertAspect(ctx, domain.AspectProps{ElementID: elementID, ScopeID: "0x1", Kind: "Tile", Identifier: ident})
		require.NoError(t, err)
	}
	_, err = tx.UpsertAspect(ctx, domain.AspectProps{ElementID: elementID, ScopeID: "0x1", Kind: "Group", Identifier: "g"})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	tiles, err := store.ListAspects(ctx, "0x1", "Tile")
	require.NoError(t, err)
	assert.Len(t, tiles, 2)
}

// ==================== Transaction Tests ====================

func TestStore_Rollback_DiscardsWrites(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	id, err := tx.InsertElement(ctx, tileProps("tile-1"))
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	_, err = store.GetElement(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_RollbackAfterCommit_NoOp(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.NoError(t, tx.Rollback())
}

func TestStore_ReadersSeeCommittedOnly(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	id, err := tx.InsertElement(ctx, tileProps("tile-1"))
	require.NoError(t, err)

	_, err = store.GetElement(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotFound, "uncommitted insert must be invisible to readers")

	require.NoError(t, tx.Commit())

	_, err = store.GetElement(ctx, id)
	assert.NoError(t, err)
}

func TestStore_DeleteElement_Cascades(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	group := insert(t, store, tileProps("group"))
	tile := insert(t, store, tileProps("tile"))

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.UpsertAspect(ctx, domain.AspectProps{ElementID: tile, ScopeID: "0x1", Kind: "Tile", Identifier: "t"})
	require.NoError(t, err)
	require.NoError(t, tx.InsertRelationship(ctx, domain.Relationship{ClassFullName: "R", SourceID: group, TargetID: tile}))
	require.NoError(t, tx.Commit())

	tx, err = store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.DeleteElement(ctx, tile))
	require.NoError(t, tx.Commit())

	_, err = store.FindAspectBySource(ctx, domain.AspectIdentifier{ScopeID: "0x1", Kind: "Tile", Identifier: "t"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	rels, err := store.ListRelationships(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, rels)
}

// ==================== Relationship, Query and Schema Tests ====================

func TestStore_InsertRelationship_Idempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	a := insert(t, store, tileProps("a"))
	b := insert(t, store, tileProps("b"))
	rel := domain.Relationship{ClassFullName: "TestConnector:GroupOwnsTile", SourceID: a, TargetID: b}

	for range 2 {
		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.InsertRelationship(ctx, rel))
		require.NoError(t, tx.Commit())
	}

	rels, err := store.ListRelationships(ctx, "TestConnector:GroupOwnsTile")
	require.NoError(t, err)
	assert.Equal(t, []domain.Relationship{rel}, rels)
}

func TestStore_InsertRelationship_MissingEnd(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	a := insert(t, store, tileProps("a"))

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	err = tx.InsertRelationship(ctx, domain.Relationship{ClassFullName: "R", SourceID: a, TargetID: "0x999"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_DeleteRelationships(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	a := insert(t, store, tileProps("a"))
	b := insert(t, store, tileProps("b"))
	tile := insert(t, store, tileProps("tile"))
	owns := domain.Relationship{ClassFullName: "TestConnector:GroupOwnsTile", SourceID: a, TargetID: tile}
	other := domain.Relationship{ClassFullName: "TestConnector:Other", SourceID: b, TargetID: tile}

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.InsertRelationship(ctx, owns))
	require.NoError(t, tx.InsertRelationship(ctx, other))
	require.NoError(t, tx.Commit())

	tx, err = store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.DeleteRelationships(ctx, owns.ClassFullName, tile))
	require.NoError(t, tx.Commit())

	rels, err := store.ListRelationships(ctx, owns.ClassFullName)
	require.NoError(t, err)
	assert.Empty(t, rels)
	rels, err = store.ListRelationships(ctx, other.ClassFullName)
	require.NoError(t, err)
	assert.Equal(t, []domain.Relationship{other}, rels)
}

func TestStore_QueryElements(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	for _, v := range []string{"tile-a", "tile-b", "other"} {
		insert(t, store, tileProps(v))
	}

	got, err := store.QueryElements(ctx, domain.ElementQuery{CodeValuePrefix: "tile-"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "tile-a", got[0].Code.Value)
	assert.Equal(t, "tile-b", got[1].Code.Value)

	got, err = store.QueryElements(ctx, domain.ElementQuery{ClassFullName: "TestConnector:SmallSquareTile", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = store.QueryElements(ctx, domain.ElementQuery{ModelID: domain.RepositoryModelID})
	require.NoError(t, err)
	assert.Len(t, got, 2, "root subject and dictionary partition")
}

func TestStore_Schema(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.GetSchema(ctx, "TestConnector")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	for _, v := range []string{"1.0.0", "1.0.1"} {
		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.ImportSchema(ctx, domain.Schema{Name: "TestConnector", Version: v, Body: "<ECSchema/>"}))
		require.NoError(t, tx.Commit())
	}

	s, err := store.GetSchema(ctx, "TestConnector")
	require.NoError(t, err)
	assert.Equal(t, "1.0.1", s.Version)
	assert.Equal(t, "<ECSchema/>", s.Body)
}

func TestStore_ConcurrentReadersDuringWrites(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range 20 {
			tx, err := store.Begin(ctx)
			if !assert.NoError(t, err) {
				return
			}
			_, err = tx.InsertElement(ctx, tileProps(domain.FormatID(uint64(i))))
			assert.NoError(t, err)
			assert.NoError(t, tx.Commit())
		}
	}()

	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				_, err := store.QueryElements(ctx, domain.ElementQuery{ClassFullName: "TestConnector:SmallSquareTile"})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	all, err := store.QueryElements(ctx, domain.ElementQuery{ClassFullName: "TestConnector:SmallSquareTile"})
	require.NoError(t, err)
	assert.Len(t, all, 20)
}
