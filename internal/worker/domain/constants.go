package domain

// Job status constants
const (
	StatusEmpty   Status = "EMPTY"
	StatusWaiting Status = "WAITING"
	StatusRunning Status = "RUNNING"
	StatusDone    Status = "DONE"
	StatusError   Status = "ERROR"

	// StatusBlocked is reported for jobs whose dependency can no longer
	// succeed in the current run. It is never persisted.
	StatusBlocked Status = "BLOCKED"
)

// Per-job files under <workspace>/<job>/
const (
	RecordFile   = "se_job.yaml"
	LogFile      = "se_console.log"
	ResultFile   = "se_user_result.yaml"
	RerunScript  = "rerun.sh"
	LegacyMarker = "SE_STATUS@"
)

// SnapshotFile is the registry snapshot written at the workspace root
const SnapshotFile = "se_jobs.yaml"

// DefaultConcurrency is used when a run is started with a non-positive limit
const DefaultConcurrency = 1
