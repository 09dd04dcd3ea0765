// Package mock provides a scripted reader for exercising the connector
// without a real source format.
package mock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/readerbridge/internal/adapters/driven/rpc"
	"github.com/custodia-labs/readerbridge/internal/core/domain"
	"github.com/custodia-labs/readerbridge/internal/core/ports/driving"
)

// Ensure Reader implements the interface.
var _ driving.ReaderService = (*Reader)(nil)

// ShutdownRaceMessage mimics a transport that resets the stream while
// acknowledging Shutdown.
const ShutdownRaceMessage = "stream terminated by RST_STREAM with error code: NO_ERROR"

// ErrInterrupted is the default mid-stream failure.
var ErrInterrupted = errors.New("mock: stream interrupted")

// Reader serves a script. Configure the exported fields before serving.
type Reader struct {
	// Records are sent in order by GetData.
	Records []domain.Record

	// InitFailures is how many Initialize calls answer with FailureReason.
	InitFailures int

	// FailureReason is returned for the failing Initialize calls.
	FailureReason string

	// Unimplemented makes every call report an unsupported protocol.
	Unimplemented bool

	// ShutdownRace makes Shutdown fail with a clean stream reset.
	ShutdownRace bool

	// FailAfter ends the stream with StreamErr after that many records.
	// Zero or negative disables the failure.
	FailAfter int

	// StreamErr is the mid-stream error, ErrInterrupted when nil.
	StreamErr error

	// Checks are sent to the read-back channel at the start of GetData.
	Checks []driving.DetectChangeRequest

	// Dial opens the read-back channel, rpc.DialReadBack when nil.
	Dial func(ctx context.Context, address string) (driving.ReadBackService, func() error, error)

	mu          sync.Mutex
	initCalls   int
	filenames   []string
	readBacks   []string
	jobs        []string
	shutdowns   []string
	checkResults []driving.DetectChangeResult
	checkErrs   []error
}

// NewReader returns a reader that streams records.
func NewReader(records ...domain.Record) *Reader {
	return &Reader{Records: records}
}

// Record builds a record with a JSON payload.
func Record(objType string, payload any) domain.Record {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("mock: encoding %s payload: %v", objType, err))
	}
	return domain.Record{ObjType: objType, Data: data}
}

// ErrorRecord builds an in-band error record.
func ErrorRecord(details string) domain.Record {
	return Record(domain.ObjTypeError, domain.ErrorDetails{Details: details})
}

// Initialize fails the first InitFailures calls with FailureReason.
func (r *Reader) Initialize(_ context.Context, filename, readBackAddress string) (string, error) {
	if r.Unimplemented {
		return "", fmt.Errorf("%w: Initialize", domain.ErrUnsupportedProtocol)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.initCalls++
	r.filenames = append(r.filenames, filename)
	r.readBacks = append(r.readBacks, readBackAddress)
	if r.initCalls <= r.InitFailures {
		reason := r.FailureReason
		if reason == "" {
			reason = "mock: not ready"
		}
		return reason, nil
	}
	return "", nil
}

// GetData runs the checks, then streams Records.
func (r *Reader) GetData(ctx context.Context, jobID string, send func(domain.Record) error) error {
	if r.Unimplemented {
		return fmt.Errorf("%w: GetData", domain.ErrUnsupportedProtocol)
	}
	r.mu.Lock()
	r.jobs = append(r.jobs, jobID)
	var readBack string
	if n := len(r.readBacks); n > 0 {
		readBack = r.readBacks[n-1]
	}
	r.mu.Unlock()

	if len(r.Checks) > 0 && readBack != "" {
		if err := r.runChecks(ctx, readBack); err != nil {
			return err
		}
	}

	for i, rec := range r.Records {
		if r.FailAfter > 0 && i == r.FailAfter {
			if r.StreamErr != nil {
				return r.StreamErr
			}
			return ErrInterrupted
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := send(rec); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reader) runChecks(ctx context.Context, address string) error {
	dial := r.Dial
	if dial == nil {
		dial = func(ctx context.Context, address string) (driving.ReadBackService, func() error, error) {
			c, err := rpc.DialReadBack(ctx, address, 5*time.Second)
			if err != nil {
				return nil, nil, err
			}
			return c, c.Close, nil
		}
	}
	client, closeFn, err := dial(ctx, address)
	if err != nil {
		return fmt.Errorf("mock: dialing read-back: %w", err)
	}
	defer closeFn()

	for _, req := range r.Checks {
		res, err := client.DetectChange(ctx, req)
		r.mu.Lock()
		r.checkResults = append(r.checkResults, res)
		r.checkErrs = append(r.checkErrs, err)
		r.mu.Unlock()
	}
	return nil
}

// Shutdown records the reason.
func (r *Reader) Shutdown(_ context.Context, reason string) error {
	if r.Unimplemented {
		return fmt.Errorf("%w: Shutdown", domain.ErrUnsupportedProtocol)
	}
	r.mu.Lock()
	r.shutdowns = append(r.shutdowns, reason)
	r.mu.Unlock()
	if r.ShutdownRace {
		return errors.New(ShutdownRaceMessage)
	}
	return nil
}

// InitializeCalls returns how many times Initialize was called.
func (r *Reader) InitializeCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initCalls
}

// Filenames returns the filename of every Initialize call.
func (r *Reader) Filenames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.filenames...)
}

// ReadBackAddresses returns the read-back address of every Initialize call.
func (r *Reader) ReadBackAddresses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.readBacks...)
}

// Jobs returns the job id of every GetData call.
func (r *Reader) Jobs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.jobs...)
}

// Shutdowns returns the reason of every Shutdown call.
func (r *Reader) Shutdowns() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.shutdowns...)
}

// CheckResults returns the answer and error of every read-back check.
func (r *Reader) CheckResults() ([]driving.DetectChangeResult, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]driving.DetectChangeResult(nil), r.checkResults...), append([]error(nil), r.checkErrs...)
}
