// Package domain defines the core entities of the reader bridge.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - SourceItem: identity plus version/checksum of an external record
//   - ItemState: New, Changed or Unchanged relative to prior runs
//   - AspectProps: the durable provenance record (ExternalSourceAspect)
//   - ElementProps: an entity in the target store
//   - Record: one item of the reader's data stream
//   - JobState: the orchestrator's state machine
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
