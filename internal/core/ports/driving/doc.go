// Package driving defines interfaces that external actors (CLI, reader
// processes) use to interact with core services. These are the "driving"
// ports in hexagonal architecture terminology - they drive the application.
//
// BridgeJob and ReadBackService are implemented in internal/core/services.
// ReaderService is implemented by readers and served by the rpc adapter.
package driving
