package domain

// JobState is a stage of the synchronisation state machine.
// Transitions are strictly sequential per job.
type JobState int

const (
	JobIdle JobState = iota
	JobSourceOpened
	JobInitialized
	JobSchemaImported
	JobDefinitionsImported
	JobConverting
	JobFinalized
	JobTerminated
)

var jobStateNames = [...]string{
	"Idle",
	"SourceOpened",
	"JobInitialized",
	"SchemaImported",
	"DefinitionsImported",
	"Converting",
	"Finalized",
	"Terminated",
}

// String returns the state name.
func (s JobState) String() string {
	if s < 0 || int(s) >= len(jobStateNames) {
		return "Unknown"
	}
	return jobStateNames[s]
}

// Stage names a step of a job for error reporting.
type Stage string

const (
	StageOpenSource  Stage = "OpenSource"
	StageLaunch      Stage = "Launch"
	StageConnect     Stage = "Connect"
	StageInitialize  Stage = "Initialize"
	StageSchema      Stage = "ImportSchema"
	StageDefinitions Stage = "ImportDefinitions"
	StageGetData     Stage = "GetData"
	StageFinalize    Stage = "Finalize"
	StageShutdown    Stage = "Shutdown"
)

// StageError is the terminal error of a job, naming the stage that failed.
type StageError struct {
	Stage Stage
	Err   error
}

// Error implements error.
func (e *StageError) Error() string {
	return string(e.Stage) + ": " + e.Err.Error()
}

// Unwrap returns the cause.
func (e *StageError) Unwrap() error {
	return e.Err
}

// JobStats counts what a job did.
type JobStats struct {
	Records   int
	Inserted  int
	Updated   int
	Unchanged int
	Orphans   int
}
