package domain

import "errors"

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates an entity already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicateCode indicates an element code is already used.
	ErrDuplicateCode = errors.New("duplicate code")

	// Job Errors.

	// ErrSourceNotFound indicates the source path does not exist.
	ErrSourceNotFound = errors.New("source not found")

	// ErrInvalidTransition indicates a job step was called out of order.
	ErrInvalidTransition = errors.New("invalid job state transition")

	// ErrUnknownRecord indicates a record discriminator the format cannot convert.
	ErrUnknownRecord = errors.New("unknown record type")

	// Reader Errors.

	// ErrLaunchFailed indicates the reader process could not be started.
	ErrLaunchFailed = errors.New("reader launch failed")

	// ErrUnsupportedProtocol indicates the reader does not implement a required method.
	// Retrying cannot help.
	ErrUnsupportedProtocol = errors.New("reader does not support protocol")

	// ErrReaderUnreachable indicates the reader could not be reached within policy limits.
	ErrReaderUnreachable = errors.New("cannot reach reader process")

	// ErrStreamAborted indicates the data stream failed at the transport level.
	ErrStreamAborted = errors.New("data stream aborted")

	// ErrReaderReported indicates the reader sent an in-band error record.
	ErrReaderReported = errors.New("reader reported error")

	// ErrStreamEnd is returned by record streams once the stream completed successfully.
	ErrStreamEnd = errors.New("end of stream")
)
