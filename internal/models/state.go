package models

// State is the coarse lifecycle state of a pipeline, derived from its
// validation errors and most recent execution.
type State string

const (
	StateInvalid   State = "INVALID"
	StateInit      State = "INIT"
	StateQueued    State = "QUEUED"
	StateRunning   State = "RUNNING"
	StateSucceeded State = "SUCCEEDED"
	StateFailed    State = "FAILED"
)

// Active reports whether an execution is in flight.
func (s State) Active() bool {
	return s == StateQueued || s == StateRunning
}

// Trigger is the origin of a queued execution.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
	TriggerDirty     Trigger = "dirty-task"
	TriggerWebhook   Trigger = "webhook"
)
