package database

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Run is one invocation of a command against a model directory.
type Run struct {
	ID         string
	ModelDir   string
	Command    string
	Mode       string
	Threads    int
	Status     string
	Error      *string
	Iterations int64
	StartedAt  *string
	FinishedAt *string
}

// Iteration is one recorded sweep of a run. LogLikelihood is nil when the
// run did not evaluate it.
type Iteration struct {
	RunID         string
	Iteration     int64
	LogLikelihood *float64
	DurationMS    int64
	Transitions   int64
	RecordedAt    *string
}

// Snapshot is an assignment file saved during a run.
type Snapshot struct {
	ID         int64
	RunID      string
	Iteration  int64
	Path       string
	Compressed bool
	SavedAt    *string
}

// Estimate is one marginal-likelihood trial.
type Estimate struct {
	RunID      string
	Trial      int
	Value      float64
	RecordedAt *string
}

// Stats holds aggregate ledger statistics.
type Stats struct {
	Runs          int
	CompletedRuns int
	FailedRuns    int
	Iterations    int
	Snapshots     int
	Estimates     int
}
