package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrRunInProgress is returned when a run is requested for a work item
// that already has a RUNNING execution.
var ErrRunInProgress = errors.New("work item already has a running execution")

func (r *Repo) CreateExecution(ctx context.Context, exec *Execution) error {
	return r.db.WithContext(ctx).Create(exec).Error
}

func (r *Repo) GetExecution(ctx context.Context, id string) (*Execution, error) {
	var exec Execution
	if err := r.db.WithContext(ctx).First(&exec, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &exec, nil
}

func (r *Repo) ListExecutions(ctx context.Context, workItemID string) ([]Execution, error) {
	var execs []Execution
	err := r.db.WithContext(ctx).
		Where("work_item_id = ?", workItemID).
		Order("started_at DESC").
		Find(&execs).Error
	if err != nil {
		return nil, err
	}
	return execs, nil
}

// HasRunningExecution reports whether a RUNNING execution exists for the
// work item.
func (r *Repo) HasRunningExecution(ctx context.Context, workItemID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Execution{}).
		Where("work_item_id = ? AND status = ?", workItemID, ExecRunning).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// AppendProgress adds one entry to the execution's log, updates the
// percent-complete figure and current stage, and refreshes the heartbeat.
// Only RUNNING executions accept progress; finalized rows are immutable.
func (r *Repo) AppendProgress(ctx context.Context, execID string, stage Stage, percent int, entry ProgressEntry) error {
	var exec Execution
	if err := r.db.WithContext(ctx).First(&exec, "id = ?", execID).Error; err != nil {
		return err
	}
	if exec.Status != ExecRunning {
		return nil
	}

	entries := append(exec.Entries, entry)
	return r.db.WithContext(ctx).Model(&Execution{}).
		Where("id = ? AND status = ?", execID, ExecRunning).
		Updates(map[string]any{
			"stage":        stage,
			"progress":     percent,
			"entries":      jsonEntries(entries),
			"heartbeat_at": time.Now().UTC(),
		}).Error
}

// Heartbeat refreshes the liveness timestamp of a RUNNING execution.
func (r *Repo) Heartbeat(ctx context.Context, execID string) error {
	return r.db.WithContext(ctx).Model(&Execution{}).
		Where("id = ? AND status = ?", execID, ExecRunning).
		Update("heartbeat_at", time.Now().UTC()).Error
}

// FinalizeExecution moves a RUNNING execution to SUCCESS or FAILED and
// stamps completion. A second finalize matches no row and is a no-op.
func (r *Repo) FinalizeExecution(ctx context.Context, execID string, status ExecStatus, failedStage *Stage, errMsg *string) error {
	now := time.Now().UTC()

	var exec Execution
	if err := r.db.WithContext(ctx).First(&exec, "id = ?", execID).Error; err != nil {
		return err
	}
	duration := now.Sub(exec.StartedAt).Milliseconds()

	return r.db.WithContext(ctx).Model(&Execution{}).
		Where("id = ? AND status = ?", execID, ExecRunning).
		Updates(map[string]any{
			"status":       status,
			"failed_stage": failedStage,
			"error":        errMsg,
			"completed_at": now,
			"duration_ms":  duration,
			"heartbeat_at": now,
		}).Error
}

// SweepStale fails RUNNING executions whose heartbeat is older than the
// threshold, then marks their work items FAILED so they become retriable.
// Returns the ids of swept executions.
func (r *Repo) SweepStale(ctx context.Context, olderThan time.Duration) ([]string, error) {
	if olderThan <= 0 {
		return nil, nil
	}
	cutoff := time.Now().UTC().Add(-olderThan)

	var stale []Execution
	err := r.db.WithContext(ctx).
		Where("status = ? AND heartbeat_at < ?", ExecRunning, cutoff).
		Find(&stale).Error
	if err != nil {
		return nil, err
	}

	swept := make([]string, 0, len(stale))
	msg := "run presumed dead: heartbeat older than " + olderThan.String()
	for _, exec := range stale {
		stage := exec.Stage
		if err := r.FinalizeExecution(ctx, exec.ID, ExecFailed, &stage, &msg); err != nil {
			return swept, err
		}
		if err := r.MarkFailed(ctx, exec.WorkItemID, exec.Stage, msg); err != nil && !errors.Is(err, ErrStatusConflict) {
			return swept, err
		}
		swept = append(swept, exec.ID)
	}
	return swept, nil
}

func jsonEntries(entries []ProgressEntry) string {
	b, _ := json.Marshal(entries)
	return string(b)
}
