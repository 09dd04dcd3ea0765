// Package connectors holds the reader formats a bridge job can drive.
// Each subpackage knows how to start its reader and how to turn the
// reader's records into elements in the target store.
//
// Formats are selected by the composition root in cmd/.
package connectors
