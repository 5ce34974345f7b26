package selfupdate

// State is one stage of the update pipeline.
type State string

const (
	StateChecking    State = "checking"
	StateDownloading State = "downloading"
	StateVerifying   State = "verifying"
	StateBackingUp   State = "backing_up"
	StateReplacing   State = "replacing"
	StateCleaningUp  State = "cleaning_up"

	StateDone       State = "done"
	StateFailed     State = "failed"
	StateRolledBack State = "rolled_back"
)

// Result describes how an update attempt ended.
type Result struct {
	// State is the terminal state: done, failed, or rolled_back.
	State State
	// FailedStage is the stage that aborted the pipeline. Empty on
	// success.
	FailedStage State

	FromVersion string
	ToVersion   string

	// Updated reports whether the executable was replaced and survived
	// its smoke test.
	Updated bool
	// Reason explains a no-op ending (already up to date, held by
	// policy, check suppressed by cache).
	Reason string
}
