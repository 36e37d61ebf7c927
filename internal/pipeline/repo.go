package pipeline

import (
	"context"
	"encoding/json"
	"errors"

	"gorm.io/gorm"
)

// ErrStatusConflict is returned when a guarded status update matches no
// row, i.e. the item moved under us or the transition would regress.
var ErrStatusConflict = errors.New("work item status conflict")

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) CreateWorkItem(ctx context.Context, item *WorkItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

// CreateWorkItemOrGetExisting tries to create a work item, but if the
// idempotency key already exists it returns the existing item instead.
func (r *Repo) CreateWorkItemOrGetExisting(ctx context.Context, item *WorkItem) (*WorkItem, bool, error) {
	if item.IdempotencyKey == nil || *item.IdempotencyKey == "" {
		item.IdempotencyKey = nil
		if err := r.db.WithContext(ctx).Create(item).Error; err != nil {
			return nil, false, err
		}
		return item, true, nil
	}

	err := r.db.WithContext(ctx).Create(item).Error
	if err == nil {
		return item, true, nil
	}

	var existing WorkItem
	getErr := r.db.WithContext(ctx).
		Where("idempotency_key = ?", *item.IdempotencyKey).
		First(&existing).Error
	if getErr == nil {
		return &existing, false, nil
	}
	if errors.Is(getErr, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	return nil, false, getErr
}

func (r *Repo) GetWorkItem(ctx context.Context, id string) (*WorkItem, error) {
	var item WorkItem
	if err := r.db.WithContext(ctx).First(&item, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

// Stage commits guard against concurrent writers and regressions, but a
// crash can leave the status flag a stage behind the artifacts already on
// the row, and resumption skips the completed stage. Each commit therefore
// accepts every earlier in-progress status, not just the immediately
// preceding one.

// SaveSEOArtifacts persists stage-1 output and advances the status flag in
// a single update.
func (r *Repo) SaveSEOArtifacts(ctx context.Context, id, keyword, title, description string) error {
	return r.guardedUpdate(ctx, id, []Status{StatusPending}, map[string]any{
		"seo_keyword":     keyword,
		"seo_title":       title,
		"seo_description": description,
		"status":          StatusSEOProcessed,
	})
}

// SaveImageArtifacts persists stage-2 output and advances the status flag.
func (r *Repo) SaveImageArtifacts(ctx context.Context, id string, urls, prompts []string) error {
	return r.guardedUpdate(ctx, id, []Status{StatusSEOProcessed, StatusPending}, map[string]any{
		"image_urls":    jsonValue(urls),
		"image_prompts": jsonValue(prompts),
		"status":        StatusImagesGenerated,
	})
}

// SavePublication records the recipe reference and marks the item
// PUBLISHED.
func (r *Repo) SavePublication(ctx context.Context, id, recipeID, recipeURL string) error {
	return r.guardedUpdate(ctx, id, []Status{StatusImagesGenerated, StatusSEOProcessed, StatusPending}, map[string]any{
		"recipe_id":  recipeID,
		"recipe_url": recipeURL,
		"status":     StatusPublished,
	})
}

// MarkFailed records a failure. PUBLISHED is terminal and never regresses.
func (r *Repo) MarkFailed(ctx context.Context, id string, stage Stage, msg string) error {
	res := r.db.WithContext(ctx).Model(&WorkItem{}).
		Where("id = ? AND status <> ?", id, StatusPublished).
		Updates(map[string]any{
			"status":       StatusFailed,
			"failed_stage": stage,
			"last_error":   msg,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

// ResetStatus moves a FAILED (or stuck) item back to an in-progress status
// and clears the error fields. Artifacts are left untouched. Calling it
// again once the item is no longer FAILED affects nothing.
func (r *Repo) ResetStatus(ctx context.Context, id string, status Status) error {
	return r.db.WithContext(ctx).Model(&WorkItem{}).
		Where("id = ? AND status = ?", id, StatusFailed).
		Updates(map[string]any{
			"status":       status,
			"failed_stage": nil,
			"last_error":   nil,
		}).Error
}

// NextPending returns the oldest PENDING work item that has no RUNNING
// execution, or nil when the backlog is empty.
func (r *Repo) NextPending(ctx context.Context) (*WorkItem, error) {
	running := r.db.Model(&Execution{}).
		Select("work_item_id").
		Where("status = ?", ExecRunning)

	var item WorkItem
	err := r.db.WithContext(ctx).
		Where("status = ?", StatusPending).
		Where("id NOT IN (?)", running).
		Order("created_at ASC").
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// Retriable returns work items eligible for operator retry: FAILED items
// plus items stranded in an intermediate status with no run in flight.
func (r *Repo) Retriable(ctx context.Context) ([]WorkItem, error) {
	running := r.db.Model(&Execution{}).
		Select("work_item_id").
		Where("status = ?", ExecRunning)

	var items []WorkItem
	err := r.db.WithContext(ctx).
		Where("status = ?", StatusFailed).
		Or(r.db.
			Where("status IN ?", []Status{StatusSEOProcessed, StatusImagesGenerated}).
			Where("id NOT IN (?)", running)).
		Order("created_at ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// jsonValue encodes slice fields for map-based updates, matching the
// serializer:json storage format on the model.
func jsonValue(v []string) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func (r *Repo) guardedUpdate(ctx context.Context, id string, from []Status, fields map[string]any) error {
	res := r.db.WithContext(ctx).Model(&WorkItem{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}
