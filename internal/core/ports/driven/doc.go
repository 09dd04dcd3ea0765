// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
//   - TargetStore: Elements, provenance aspects, relationships and schemas
//   - Transport: Control/Data client and read-back server
//   - Launcher: Starts the reader, as a child process or in-process
//   - ReaderFormat: Per-format capabilities (start, convert, definitions)
//
// # Import Rules
//
//   - Can Import: domain and driving packages only
//   - Cannot Import: Any adapter, connector, or reader package
package driven
