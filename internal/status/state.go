package status

import "github.com/mpataki/pipestatus/internal/models"

// State derives the lifecycle state from the current data.
func (s *PipelineStatus) State() models.State {
	return DeriveState(s.Runnable(), s.LastExecution())
}

// DeriveState maps runnability and the most recent execution (nil when none)
// to a lifecycle state.
func DeriveState(runnable bool, last Execution) models.State {
	if !runnable {
		return models.StateInvalid
	}
	if last == nil {
		return models.StateInit
	}
	success := last.Success()
	if success == nil {
		if last.StartTime() == nil {
			return models.StateQueued
		}
		return models.StateRunning
	}
	if *success {
		return models.StateSucceeded
	}
	return models.StateFailed
}
