// Package rpc implements both RPC channels of a job over gRPC.
//
// Messages are plain Go structs carried by a JSON codec registered under the
// "json" content subtype, and the service descriptors are written by hand,
// so no generated code is involved. Two services are defined:
//
//   - readerbridge.v1.Reader: served by the reader, called by the connector
//     (Initialize, GetData stream, Shutdown).
//   - readerbridge.v1.ReadBack: served by the connector, called by the reader
//     (TryGetElementProps, GetExternalSourceAspectProps, DetectChange, ExecuteQuery).
//
// Domain errors cross the wire as gRPC status codes and are mapped back on
// the calling side.
package rpc
