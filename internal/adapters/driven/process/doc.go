// Package process starts reader processes for the connector.
//
// ExecLauncher runs a reader as a child process. The reader's standard output
// and error are forwarded line by line into the "reader" logger, and its exit
// is reported through the LaunchSpec callbacks.
//
// InlineLauncher serves a ReaderService on a goroutine of the connector. It is
// used for debugging and tests where a separate executable is unavailable.
package process
