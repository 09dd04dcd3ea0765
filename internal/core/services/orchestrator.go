package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/readerbridge/internal/core/domain"
	"github.com/custodia-labs/readerbridge/internal/core/ports/driven"
	"github.com/custodia-labs/readerbridge/internal/core/ports/driving"
	"github.com/custodia-labs/readerbridge/internal/logger"
)

// Ensure Orchestrator implements the interface.
var _ driving.BridgeJob = (*Orchestrator)(nil)

// Provenance kinds and classes owned by the orchestrator.
const (
	KindRepositoryLink = "RepositoryLink"

	ClassRepositoryLink    = "BisCore:RepositoryLink"
	ClassSubject           = "BisCore:Subject"
	ClassPhysicalPartition = "BisCore:PhysicalPartition"

	codeSpecLink      = "BisCore:LinkElement"
	codeSpecSubject   = "BisCore:Subject"
	codeSpecPartition = "BisCore:InformationPartitionElement"
)

// DefaultShutdownTimeout bounds terminate when the job context is gone.
const DefaultShutdownTimeout = 10 * time.Second

// OrchestratorOptions tunes a job.
type OrchestratorOptions struct {
	// Addresses allocates the reader and read-back addresses.
	Addresses AddressAllocator

	// Retry bounds the Initialize handshake.
	Retry RetryPolicy

	// Orphans decides what happens to records not seen during the run.
	Orphans domain.OrphanPolicy

	// ShutdownTimeout bounds the Shutdown call and process teardown.
	ShutdownTimeout time.Duration
}

// Orchestrator drives one job through the synchronisation state machine:
// Idle, SourceOpened, JobInitialized, SchemaImported, DefinitionsImported,
// Converting, Finalized, Terminated. One reader process serves one job.
type Orchestrator struct {
	store     driven.TargetStore
	transport driven.Transport
	launcher  driven.Launcher
	format    driven.ReaderFormat
	opts      OrchestratorOptions

	mu     sync.RWMutex
	status driving.JobStatus

	// Per-job resources, owned by the goroutine calling Run.
	jobID    string
	sync     *Synchronizer
	conv     *driven.Conversion
	link     domain.SourceItem
	linkID   string
	proc     driven.ReaderProcess
	client   driven.ReaderClient
	readBack driven.ReadBackServer
}

// NewOrchestrator creates an orchestrator for one format.
func NewOrchestrator(
	store driven.TargetStore,
	transport driven.Transport,
	launcher driven.Launcher,
	format driven.ReaderFormat,
	opts OrchestratorOptions,
) *Orchestrator {
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.ShutdownTimeout == 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	return &Orchestrator{
		store:     store,
		transport: transport,
		launcher:  launcher,
		format:    format,
		opts:      opts,
	}
}

// Run executes the whole job. Terminate runs on every exit path and the
// returned error names the failing stage.
func (o *Orchestrator) Run(ctx context.Context, sourcePath string) (err error) {
	if state := o.State(); state != domain.JobIdle && state != domain.JobTerminated {
		return fmt.Errorf("%w: run while %s", domain.ErrInvalidTransition, state)
	}
	o.reset(sourcePath)

	defer func() {
		if termErr := o.Terminate(ctx); termErr != nil {
			if err == nil {
				err = termErr
			} else {
				logger.Warn("Terminate after failure: %v", termErr)
			}
		}
	}()

	steps := []func(context.Context) error{
		func(ctx context.Context) error { return o.OpenSourceData(ctx, sourcePath) },
		o.InitializeJob,
		o.ImportDomainSchema,
		o.ImportDefinitions,
		o.UpdateExistingData,
		o.Finalize,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			return err
		}
	}

	stats := o.Status().Stats
	logger.Info("Sync complete: %d records, %d inserted, %d updated, %d unchanged, %d orphans",
		stats.Records, stats.Inserted, stats.Updated, stats.Unchanged, stats.Orphans)
	return nil
}

// Status returns a snapshot of the job.
func (o *Orchestrator) Status() driving.JobStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status
}

// State returns the current state.
func (o *Orchestrator) State() domain.JobState {
	return o.Status().State
}

// OpenSourceData records the document identity, starts both RPC channels
// and performs the Initialize handshake.
func (o *Orchestrator) OpenSourceData(ctx context.Context, sourcePath string) error {
	if err := o.expect(domain.JobIdle); err != nil {
		return err
	}
	if o.sync == nil {
		o.reset(sourcePath)
	}

	abs, err := filepath.Abs(sourcePath)
	if err != nil {
		return stageErr(domain.StageOpenSource, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return stageErr(domain.StageOpenSource, fmt.Errorf("%w: %s", domain.ErrSourceNotFound, abs))
		}
		return stageErr(domain.StageOpenSource, err)
	}
	if info.IsDir() {
		return stageErr(domain.StageOpenSource, fmt.Errorf("%w: %s is a directory", domain.ErrInvalidInput, abs))
	}

	o.link = domain.SourceItem{ID: abs, Version: info.ModTime().UTC().Format(time.RFC3339Nano)}
	if err := o.recordDocument(ctx); err != nil {
		return stageErr(domain.StageOpenSource, err)
	}
	logger.Info("Opened %s (document %s)", abs, o.conv.DocumentState)

	// The read-back server binds first so a pinned port range cannot hand
	// its port to the reader as well.
	readBackAddr, err := o.opts.Addresses.Allocate(ctx)
	if err != nil {
		return stageErr(domain.StageLaunch, err)
	}
	rb, err := o.transport.ServeReadBack(ctx, readBackAddr, NewReadBackService(o.store))
	if err != nil {
		return stageErr(domain.StageLaunch, fmt.Errorf("read-back server: %w", err))
	}
	o.readBack = rb

	readerAddr, attached, err := o.opts.Addresses.ReaderAddress(ctx)
	if err != nil {
		return stageErr(domain.StageLaunch, err)
	}

	if attached {
		logger.Info("Attaching to reader at %s", readerAddr)
	} else {
		if o.format.StartReader == nil {
			return stageErr(domain.StageLaunch, fmt.Errorf("%w: format %s cannot start a reader", domain.ErrLaunchFailed, o.format.Name))
		}
		proc, err := o.format.StartReader(ctx, o.launcher, readerAddr)
		if err != nil {
			if !errors.Is(err, domain.ErrLaunchFailed) {
				err = fmt.Errorf("%w: %w", domain.ErrLaunchFailed, err)
			}
			return stageErr(domain.StageLaunch, err)
		}
		o.proc = proc
	}

	client, err := o.transport.DialReader(ctx, readerAddr)
	if err != nil {
		return stageErr(domain.StageConnect, err)
	}
	o.client = client

	if err := InitializeWithRetries(ctx, client, abs, rb.Address(), o.opts.Retry); err != nil {
		return stageErr(domain.StageInitialize, err)
	}

	o.setState(domain.JobSourceOpened)
	return nil
}

// recordDocument classifies the source as a whole against its RepositoryLink.
// The link's version is only committed by Finalize, so an aborted run is
// never mistaken for a complete one.
func (o *Orchestrator) recordDocument(ctx context.Context) error {
	result, err := o.sync.DetectChanges(ctx, domain.RootSubjectID, KindRepositoryLink, o.link)
	if err != nil {
		return err
	}
	o.conv.DocumentState = result.State
	o.setDocumentState(result.State)

	o.linkID = result.ElementID
	if result.State == domain.ItemUnchanged {
		o.sync.OnElementSeen(o.linkID)
	} else {
		pending := o.link
		pending.Version = ""
		o.linkID, err = o.sync.UpdateIModel(ctx, o.linkResults(result), domain.RootSubjectID, pending, KindRepositoryLink)
		if err != nil {
			return fmt.Errorf("repository link: %w", err)
		}
	}
	o.conv.ScopeID = o.linkID
	o.conv.SourcePath = o.link.ID
	return nil
}

func (o *Orchestrator) linkResults(result domain.SyncResult) domain.SynchronizationResults {
	props, _ := json.Marshal(map[string]string{"url": o.link.ID, "format": o.format.Name})
	return domain.SynchronizationResults{
		State: result.State,
		Element: domain.ElementProps{
			ID:             result.ElementID,
			ClassFullName:  ClassRepositoryLink,
			ModelID:        domain.RepositoryModelID,
			Code:           domain.Code{Spec: codeSpecLink, Scope: domain.RootSubjectID, Value: o.link.ID},
			UserLabel:      filepath.Base(o.link.ID),
			JSONProperties: props,
		},
	}
}

// InitializeJob provisions the job subject and physical model.
func (o *Orchestrator) InitializeJob(ctx context.Context) error {
	if err := o.expect(domain.JobSourceOpened); err != nil {
		return err
	}

	subject := domain.ElementProps{
		ClassFullName: ClassSubject,
		ModelID:       domain.RepositoryModelID,
		ParentID:      domain.RootSubjectID,
		Code:          domain.Code{Spec: codeSpecSubject, Scope: domain.RootSubjectID, Value: o.format.Name + ":" + o.link.ID},
		UserLabel:     o.format.Name,
	}
	subjectID, err := o.ensureElement(ctx, subject)
	if err != nil {
		return stageErr(domain.StageInitialize, fmt.Errorf("job subject: %w", err))
	}

	partition := domain.ElementProps{
		ClassFullName: ClassPhysicalPartition,
		ModelID:       domain.RepositoryModelID,
		ParentID:      subjectID,
		Code:          domain.Code{Spec: codeSpecPartition, Scope: subjectID, Value: o.format.Name + "-Physical"},
	}
	modelID, err := o.ensureElement(ctx, partition)
	if err != nil {
		return stageErr(domain.StageInitialize, fmt.Errorf("physical model: %w", err))
	}

	o.conv.SubjectID = subjectID
	o.conv.ModelID = modelID
	o.setState(domain.JobInitialized)
	return nil
}

// ensureElement returns the element holding props.Code, inserting it only when
// missing. Provisioning only writes for new documents or after an aborted first run.
func (o *Orchestrator) ensureElement(ctx context.Context, props domain.ElementProps) (string, error) {
	id, err := o.store.QueryElementIDByCode(ctx, props.Code)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}

	tx, err := o.store.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()
	if id, err = tx.InsertElement(ctx, props); err != nil {
		return "", err
	}
	return id, tx.Commit()
}

// ImportDomainSchema records the format's schema unless the document is unchanged.
func (o *Orchestrator) ImportDomainSchema(ctx context.Context) error {
	if err := o.expect(domain.JobInitialized); err != nil {
		return err
	}
	if o.conv.DocumentState != domain.ItemUnchanged && o.format.ImportSchema != nil {
		if err := o.format.ImportSchema(ctx, o.conv); err != nil {
			return stageErr(domain.StageSchema, err)
		}
	}
	o.setState(domain.JobSchemaImported)
	return nil
}

// ImportDefinitions provisions per-run definitions unless the document is unchanged.
func (o *Orchestrator) ImportDefinitions(ctx context.Context) error {
	if err := o.expect(domain.JobSchemaImported); err != nil {
		return err
	}
	if o.conv.DocumentState != domain.ItemUnchanged && o.format.ImportDefinitions != nil {
		if err := o.format.ImportDefinitions(ctx, o.conv); err != nil {
			return stageErr(domain.StageDefinitions, err)
		}
	}
	o.setState(domain.JobDefinitionsImported)
	return nil
}

// UpdateExistingData streams every record from the reader and converts it.
// New documents first get their shared definitions. Unchanged documents are
// not streamed at all.
func (o *Orchestrator) UpdateExistingData(ctx context.Context) error {
	if err := o.expect(domain.JobDefinitionsImported); err != nil {
		return err
	}
	o.setState(domain.JobConverting)

	switch o.conv.DocumentState {
	case domain.ItemUnchanged:
		logger.Info("Source unchanged since last run, skipping conversion")
		return nil
	case domain.ItemNew:
		if o.format.BuildSharedDefinitions != nil {
			if err := o.format.BuildSharedDefinitions(ctx, o.conv); err != nil {
				return stageErr(domain.StageDefinitions, err)
			}
		}
	}

	stream, err := o.client.GetData(ctx, o.jobID)
	if err != nil {
		return stageErr(domain.StageGetData, err)
	}
	defer stream.Close()

	for {
		rec, err := stream.Next(ctx)
		if errors.Is(err, domain.ErrStreamEnd) {
			return nil
		}
		if err != nil {
			return stageErr(domain.StageGetData, err)
		}

		if rec.ObjType == domain.ObjTypeError {
			var details domain.ErrorDetails
			if err := json.Unmarshal(rec.Data, &details); err != nil || details.Details == "" {
				details.Details = strings.TrimSpace(string(rec.Data))
			}
			return stageErr(domain.StageGetData, fmt.Errorf("%w: %s", domain.ErrReaderReported, details.Details))
		}

		state, err := o.format.ConvertRecord(ctx, o.conv, rec)
		if err != nil {
			return stageErr(domain.StageGetData, fmt.Errorf("convert %s record: %w", rec.ObjType, err))
		}
		o.count(state)
	}
}

// Finalize runs the format's finalisation, reconciles orphans and commits the
// document version.
func (o *Orchestrator) Finalize(ctx context.Context) error {
	if err := o.expect(domain.JobConverting); err != nil {
		return err
	}

	if o.conv.DocumentState != domain.ItemUnchanged {
		if o.format.Finalize != nil {
			if err := o.format.Finalize(ctx, o.conv); err != nil {
				return stageErr(domain.StageFinalize, err)
			}
		}

		orphans, err := o.sync.ReconcileOrphans(ctx, o.linkID, o.format.Kinds)
		if err != nil {
			return stageErr(domain.StageFinalize, err)
		}
		o.mu.Lock()
		o.status.Stats.Orphans = orphans
		o.mu.Unlock()

		results := o.linkResults(domain.SyncResult{ElementID: o.linkID, State: domain.ItemChanged})
		if _, err := o.sync.UpdateIModel(ctx, results, domain.RootSubjectID, o.link, KindRepositoryLink); err != nil {
			return stageErr(domain.StageFinalize, fmt.Errorf("repository link: %w", err))
		}
	}

	o.setState(domain.JobFinalized)
	return nil
}

// Terminate shuts the reader down and releases every job resource.
// It is safe to call from any state and runs at most once per job.
func (o *Orchestrator) Terminate(ctx context.Context) error {
	if o.State() == domain.JobTerminated {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.ShutdownTimeout)
	defer cancel()

	var errs []error
	if o.client != nil {
		if err := o.client.Shutdown(ctx, "job finished"); err != nil {
			errs = append(errs, stageErr(domain.StageShutdown, err))
		}
		if err := o.client.Close(); err != nil {
			logger.Debug("Closing reader client: %v", err)
		}
		o.client = nil
	}
	if o.proc != nil {
		if err := o.proc.Stop(ctx); err != nil {
			logger.Debug("Stopping reader process: %v", err)
		}
		o.proc = nil
	}
	if o.readBack != nil {
		o.readBack.Stop()
		o.readBack = nil
	}

	o.setState(domain.JobTerminated)
	return errors.Join(errs...)
}

func (o *Orchestrator) reset(sourcePath string) {
	o.jobID = uuid.NewString()
	o.sync = NewSynchronizer(o.store, o.opts.Orphans)
	o.conv = &driven.Conversion{Store: o.store, Tracker: o.sync}
	o.link = domain.SourceItem{}
	o.linkID = ""

	o.mu.Lock()
	o.status = driving.JobStatus{SourcePath: sourcePath, State: domain.JobIdle}
	o.mu.Unlock()
}

func (o *Orchestrator) expect(want domain.JobState) error {
	if got := o.State(); got != want {
		return fmt.Errorf("%w: expected %s, job is %s", domain.ErrInvalidTransition, want, got)
	}
	return nil
}

func (o *Orchestrator) setState(state domain.JobState) {
	o.mu.Lock()
	o.status.State = state
	o.mu.Unlock()
	logger.Debug("Job %s: %s", o.jobID, state)
}

func (o *Orchestrator) setDocumentState(state domain.ItemState) {
	o.mu.Lock()
	o.status.DocumentState = state
	o.mu.Unlock()
}

func (o *Orchestrator) count(state domain.ItemState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status.Stats.Records++
	switch state {
	case domain.ItemNew:
		o.status.Stats.Inserted++
	case domain.ItemChanged:
		o.status.Stats.Updated++
	case domain.ItemUnchanged:
		o.status.Stats.Unchanged++
	}
}

func stageErr(stage domain.Stage, err error) error {
	var se *domain.StageError
	if errors.As(err, &se) {
		return err
	}
	return &domain.StageError{Stage: stage, Err: err}
}
