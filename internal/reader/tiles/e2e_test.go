package tiles_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/readerbridge/internal/adapters/driven/process"
	"github.com/custodia-labs/readerbridge/internal/adapters/driven/rpc"
	"github.com/custodia-labs/readerbridge/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/readerbridge/internal/adapters/driven/storage/sqlite"
	tilefmt "github.com/custodia-labs/readerbridge/internal/connectors/tiles"
	"github.com/custodia-labs/readerbridge/internal/core/domain"
	"github.com/custodia-labs/readerbridge/internal/core/ports/driven"
	"github.com/custodia-labs/readerbridge/internal/core/ports/driving"
	"github.com/custodia-labs/readerbridge/internal/core/services"
	"github.com/custodia-labs/readerbridge/internal/reader/tiles"
)

// Four tiles in two groups, one of them naming a group that is never defined.
const floorPlan = `{
	"Groups": [
		{"guid": "3f2504e0-4f89-11d3-9a0c-0305e82c3301", "name": "Hall"},
		{"name": "Kitchen", "description": "tiled floor"}
	],
	"Tiles": {
		"SmallSquareTile": [
			{"guid": "6ba7b810-9dad-11d1-80b4-00c04fd430c1", "color": "Red", "group": "Hall"},
			{"guid": "6ba7b810-9dad-11d1-80b4-00c04fd430c2", "color": "Blue", "group": "Kitchen"}
		],
		"RightTriangleTile": [
			{"guid": "6ba7b810-9dad-11d1-80b4-00c04fd430c3", "color": "Teal", "group": "Kitchen"},
			{"guid": "6ba7b810-9dad-11d1-80b4-00c04fd430c4", "group": "Cellar"}
		]
	}
}`

// The same plan with tile c1 moved to the kitchen, tile c2 recoloured and tile c3 removed.
const floorPlanEdited = `{
	"Groups": [
		{"guid": "3f2504e0-4f89-11d3-9a0c-0305e82c3301", "name": "Hall"},
		{"name": "Kitchen", "description": "tiled floor"}
	],
	"Tiles": {
		"SmallSquareTile": [
			{"guid": "6ba7b810-9dad-11d1-80b4-00c04fd430c1", "color": "Red", "group": "Kitchen"},
			{"guid": "6ba7b810-9dad-11d1-80b4-00c04fd430c2", "color": "Green", "group": "Kitchen"}
		],
		"RightTriangleTile": [
			{"guid": "6ba7b810-9dad-11d1-80b4-00c04fd430c4", "group": "Cellar"}
		]
	}
}`

type stores map[string]func(t *testing.T) driven.TargetStore

var targetStores = stores{
	"memory": func(*testing.T) driven.TargetStore { return memory.NewTargetStore() },
	"sqlite": func(t *testing.T) driven.TargetStore {
		s, err := sqlite.NewStore(t.TempDir())
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	},
}

func newJob(store driven.TargetStore, orphans domain.OrphanPolicy) *services.Orchestrator {
	format := tilefmt.New(tilefmt.Options{})
	launcher := process.NewInlineLauncher(func() driving.ReaderService { return tiles.New() })
	return services.NewOrchestrator(store, &rpc.Transport{ConnectTimeout: 5 * time.Second}, launcher, format.ReaderFormat(),
		services.OrchestratorOptions{
			Addresses: services.AddressAllocator{
				LookupEnv: func(string) (string, bool) { return "", false },
			},
			Retry:   services.RetryPolicy{MaxAttempts: 3, Interval: 10 * time.Millisecond},
			Orphans: orphans,
		})
}

func runJob(t *testing.T, job *services.Orchestrator, path string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, job.Run(ctx, path))
}

func count(t *testing.T, store driven.TargetStore, class string) int {
	t.Helper()
	els, err := store.QueryElements(context.Background(), domain.ElementQuery{ClassFullName: class})
	require.NoError(t, err)
	return len(els)
}

func countTiles(t *testing.T, store driven.TargetStore) int {
	t.Helper()
	n := 0
	for _, tt := range tilefmt.TileTypes {
		n += count(t, store, tilefmt.TileClass(tt))
	}
	return n
}

func assertEveryTileOwned(t *testing.T, store driven.TargetStore) {
	t.Helper()
	ctx := context.Background()
	rels, err := store.ListRelationships(ctx, tilefmt.RelGroupOwnsTile)
	require.NoError(t, err)

	owners := map[string]int{}
	for _, r := range rels {
		group, err := store.GetElement(ctx, r.SourceID)
		require.NoError(t, err)
		assert.Equal(t, tilefmt.ClassGroup, group.ClassFullName)
		owners[r.TargetID]++
	}
	for _, tt := range tilefmt.TileTypes {
		els, err := store.QueryElements(ctx, domain.ElementQuery{ClassFullName: tilefmt.TileClass(tt)})
		require.NoError(t, err)
		for _, el := range els {
			assert.Equal(t, 1, owners[el.ID], "tile %s must have exactly one group", el.Code.Value)
		}
	}
}

func groupOf(t *testing.T, store driven.TargetStore, tileGUID string) string {
	t.Helper()
	ctx := context.Background()
	tile, err := store.FindElementByGUID(ctx, tileGUID)
	require.NoError(t, err)
	rels, err := store.ListRelationships(ctx, tilefmt.RelGroupOwnsTile)
	require.NoError(t, err)
	for _, r := range rels {
		if r.TargetID == tile.ID {
			group, err := store.GetElement(ctx, r.SourceID)
			require.NoError(t, err)
			return group.UserLabel
		}
	}
	return ""
}

func TestTiles_EndToEnd(t *testing.T) {
	for name, open := range targetStores {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			path := filepath.Join(t.TempDir(), "floor.json")
			require.NoError(t, os.WriteFile(path, []byte(floorPlan), 0o600))
			job := newJob(store, domain.OrphanDelete)

			// First run converts everything.
			runJob(t, job, path)

			status := job.Status()
			assert.Equal(t, domain.ItemNew, status.DocumentState)
			assert.Equal(t, 6, status.Stats.Records)
			assert.Equal(t, 6, status.Stats.Inserted)
			assert.Equal(t, 3, count(t, store, tilefmt.ClassGroup), "Hall, Kitchen and the Cellar placeholder")
			assert.Equal(t, 4, countTiles(t, store))
			assertEveryTileOwned(t, store)
			assert.Equal(t, 1, count(t, store, "BisCore:SpatialViewDefinition"))
			schema, err := store.GetSchema(context.Background(), tilefmt.SchemaName)
			require.NoError(t, err)
			assert.Equal(t, tilefmt.SchemaVersion, schema.Version)
			materials := count(t, store, "BisCore:RenderMaterial")
			assert.Equal(t, len(tilefmt.Palette)+1, materials, "Teal is added on first use")

			// An untouched file is not streamed again.
			runJob(t, job, path)

			status = job.Status()
			assert.Equal(t, domain.ItemUnchanged, status.DocumentState)
			assert.Zero(t, status.Stats.Records)
			assert.Equal(t, 4, countTiles(t, store))

			assert.Equal(t, "Hall", groupOf(t, store, "6ba7b810-9dad-11d1-80b4-00c04fd430c1"))

			// An edited file updates two tiles, one of them regrouped, and deletes the removed one.
			require.NoError(t, os.WriteFile(path, []byte(floorPlanEdited), 0o600))
			later := time.Now().Add(time.Hour)
			require.NoError(t, os.Chtimes(path, later, later))

			runJob(t, job, path)

			status = job.Status()
			assert.Equal(t, domain.ItemChanged, status.DocumentState)
			assert.Equal(t, 5, status.Stats.Records)
			assert.Equal(t, 2, status.Stats.Updated)
			assert.Equal(t, 3, status.Stats.Unchanged)
			assert.Equal(t, 1, status.Stats.Orphans)
			assert.Equal(t, 3, countTiles(t, store))
			assert.Equal(t, 3, count(t, store, tilefmt.ClassGroup))
			assertEveryTileOwned(t, store)
			assert.Equal(t, "Kitchen", groupOf(t, store, "6ba7b810-9dad-11d1-80b4-00c04fd430c1"))
			assert.Equal(t, materials, count(t, store, "BisCore:RenderMaterial"))
		})
	}
}

func TestTiles_UnreadableDocument(t *testing.T) {
	store := memory.NewTargetStore()
	path := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"Tiles": [`), 0o600))
	job := newJob(store, domain.OrphanKeep)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := job.Run(ctx, path)

	assert.ErrorIs(t, err, domain.ErrReaderUnreachable)
	assert.Contains(t, err.Error(), "cannot parse")
	assert.Zero(t, countTiles(t, store))
}
