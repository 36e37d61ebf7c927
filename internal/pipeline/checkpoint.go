package pipeline

import (
	"context"
	"fmt"
)

// Summary is a side-effect-free snapshot of a work item's progress, for
// operator display and audit.
type Summary struct {
	WorkItemID string `json:"work_item_id"`
	Status     Status `json:"status"`
	HasSEO     bool   `json:"has_seo"`
	HasImages  bool   `json:"has_images"`
	HasRecipe  bool   `json:"has_recipe"`
	ImageCount int    `json:"image_count"`
	ImagesGot  int    `json:"images_got"`
	NextStage  Stage  `json:"next_stage"`
}

// CheckpointManager decides where a run should resume and handles retry
// resets. The status flag is the primary source of truth, but resumption
// checks artifact presence field by field so a crash between an artifact
// commit and a later status write can never cause a completed stage to be
// re-executed.
type CheckpointManager struct {
	repo *Repo
}

func NewCheckpointManager(repo *Repo) *CheckpointManager {
	return &CheckpointManager{repo: repo}
}

// ResumeStageFor returns the first incomplete stage for the item, derived
// from artifact presence.
func ResumeStageFor(item *WorkItem) Stage {
	switch {
	case item.HasRecipe():
		return StageDone
	case item.HasImages():
		return StagePublish
	case item.HasSEO():
		return StageImages
	default:
		return StageSEO
	}
}

// DetermineResumeStage loads the work item and returns the stage a run
// should start from.
func (m *CheckpointManager) DetermineResumeStage(ctx context.Context, workItemID string) (Stage, error) {
	item, err := m.repo.GetWorkItem(ctx, workItemID)
	if err != nil {
		return "", fmt.Errorf("load work item: %w", err)
	}
	return ResumeStageFor(item), nil
}

// ResumeSummary reports completed-stage flags without side effects.
func (m *CheckpointManager) ResumeSummary(ctx context.Context, workItemID string) (*Summary, error) {
	item, err := m.repo.GetWorkItem(ctx, workItemID)
	if err != nil {
		return nil, fmt.Errorf("load work item: %w", err)
	}
	return &Summary{
		WorkItemID: item.ID,
		Status:     item.Status,
		HasSEO:     item.HasSEO(),
		HasImages:  item.HasImages(),
		HasRecipe:  item.HasRecipe(),
		ImageCount: item.ImageCount,
		ImagesGot:  len(item.ImageURLs),
		NextStage:  ResumeStageFor(item),
	}, nil
}

// ResetForRetry clears a FAILED status back to the in-progress status the
// artifacts justify, so the orchestrator re-enters the pipeline at the
// right stage. Completed artifacts are never cleared. Safe to call any
// number of times: once the item is no longer FAILED the reset matches
// nothing.
func (m *CheckpointManager) ResetForRetry(ctx context.Context, workItemID string) error {
	item, err := m.repo.GetWorkItem(ctx, workItemID)
	if err != nil {
		return fmt.Errorf("load work item: %w", err)
	}
	if item.Status != StatusFailed {
		return nil
	}
	return m.repo.ResetStatus(ctx, workItemID, statusForArtifacts(item))
}

// RetriableEntries lists FAILED and stranded work items for bulk retry.
func (m *CheckpointManager) RetriableEntries(ctx context.Context) ([]WorkItem, error) {
	return m.repo.Retriable(ctx)
}

// statusForArtifacts recomputes the in-progress status implied by the
// artifacts actually present.
func statusForArtifacts(item *WorkItem) Status {
	switch {
	case item.HasImages():
		return StatusImagesGenerated
	case item.HasSEO():
		return StatusSEOProcessed
	default:
		return StatusPending
	}
}
