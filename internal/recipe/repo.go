package recipe

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// CreateOrGetExisting inserts the recipe, but if one already exists for the
// same work item it returns that one instead. The unique index on
// work_item_id is the backstop that makes publication idempotent even under
// a race.
func (r *Repo) CreateOrGetExisting(ctx context.Context, rec *Recipe) (*Recipe, bool, error) {
	err := r.db.WithContext(ctx).Create(rec).Error
	if err == nil {
		return rec, true, nil
	}

	existing, getErr := r.GetByWorkItemID(ctx, rec.WorkItemID)
	if getErr == nil {
		return existing, false, nil
	}
	if errors.Is(getErr, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	return nil, false, getErr
}

func (r *Repo) GetByID(ctx context.Context, id string) (*Recipe, error) {
	var rec Recipe
	if err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *Repo) GetBySlug(ctx context.Context, slug string) (*Recipe, error) {
	var rec Recipe
	if err := r.db.WithContext(ctx).First(&rec, "slug = ?", slug).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *Repo) GetByWorkItemID(ctx context.Context, workItemID string) (*Recipe, error) {
	var rec Recipe
	if err := r.db.WithContext(ctx).First(&rec, "work_item_id = ?", workItemID).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// UniqueSlug appends a numeric suffix until the slug is free.
func (r *Repo) UniqueSlug(ctx context.Context, base string) (string, error) {
	slug := base
	for i := 2; ; i++ {
		var count int64
		if err := r.db.WithContext(ctx).Model(&Recipe{}).
			Where("slug = ?", slug).Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return slug, nil
		}
		slug = fmt.Sprintf("%s-%d", base, i)
	}
}
