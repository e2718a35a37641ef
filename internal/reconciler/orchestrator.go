package reconciler

import (
	"time"
)

// Pipeline stage names, in execution order
const (
	StageLoad        = "load_inputs"
	StageFilter      = "filter_records"
	StageExpand      = "expand_models"
	StageAssignIDs   = "assign_ids"
	StageNormalize   = "normalize_fields"
	StageJoinWeights = "join_weights"
	StageMatch       = "match_records"
	StageCompleted   = "completed"
)

// pipelineStages is the number of stages Process runs
const pipelineStages = 7

// ReconciliationProgress tracks the progress of a reconciliation run
type ReconciliationProgress struct {
	TotalSteps         int           `json:"total_steps"`
	CompletedSteps     int           `json:"completed_steps"`
	CurrentStep        string        `json:"current_step"`
	PercentComplete    float64       `json:"percent_complete"`
	StartTime          time.Time     `json:"start_time"`
	ElapsedTime        time.Duration `json:"elapsed_time"`
	EstimatedRemaining time.Duration `json:"estimated_remaining"`
}

// ProgressCallback is called before each stage and once on completion
type ProgressCallback func(ReconciliationProgress)

// AddProgressCallback adds a progress callback function
func (rs *ReconciliationService) AddProgressCallback(callback ProgressCallback) {
	rs.progressMutex.Lock()
	defer rs.progressMutex.Unlock()

	rs.progressCallbacks = append(rs.progressCallbacks, callback)
}

// Progress returns a snapshot of the current run's progress
func (rs *ReconciliationService) Progress() ReconciliationProgress {
	rs.progressMutex.RLock()
	defer rs.progressMutex.RUnlock()

	if rs.currentProgress == nil {
		return ReconciliationProgress{TotalSteps: pipelineStages}
	}
	return *rs.currentProgress
}

func (rs *ReconciliationService) initializeProgress(start time.Time) {
	rs.progressMutex.Lock()
	defer rs.progressMutex.Unlock()

	rs.currentProgress = &ReconciliationProgress{
		TotalSteps: pipelineStages,
		StartTime:  start,
	}
}

func (rs *ReconciliationService) updateProgress(step string, completed int) {
	rs.progressMutex.Lock()
	progress := rs.currentProgress
	progress.CurrentStep = step
	progress.CompletedSteps = completed
	progress.ElapsedTime = time.Since(progress.StartTime)
	progress.PercentComplete = float64(completed) / float64(progress.TotalSteps) * 100

	// Estimate remaining time
	if completed > 0 && completed < progress.TotalSteps {
		avgTimePerStep := progress.ElapsedTime / time.Duration(completed)
		progress.EstimatedRemaining = avgTimePerStep * time.Duration(progress.TotalSteps-completed)
	} else {
		progress.EstimatedRemaining = 0
	}

	snapshot := *progress
	callbacks := make([]ProgressCallback, len(rs.progressCallbacks))
	copy(callbacks, rs.progressCallbacks)
	rs.progressMutex.Unlock()

	for _, callback := range callbacks {
		callback(snapshot)
	}
}
