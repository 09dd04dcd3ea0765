// Package sqlite provides a SQLite-based implementation of the target store.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation that requires
// no CGO, enabling easy cross-compilation. A single database holds:
//
//   - elements: synchronised entities with unique codes and federation GUIDs
//   - external_source_aspects: provenance records keyed by (scope, kind, identifier)
//   - relationships: links between elements
//   - schemas: imported domain schemas
//
// # Schema
//
// The database schema is managed through versioned migrations stored in the
// migrations/ directory. Each migration is a pair of .up.sql and .down.sql files.
//
// # Data Location
//
// By default, the database is stored at ~/.readerbridge/data/target.db
//
// # Thread Safety
//
// The store runs in WAL mode. Read methods go through the connection pool and see
// the last committed state; writes go through a single transaction at a time, so
// read-back queries never observe a half-written record.
package sqlite
