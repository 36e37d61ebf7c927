package pipeline

import "time"

// Status tracks how far a work item has moved through the pipeline.
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusSEOProcessed    Status = "SEO_PROCESSED"
	StatusImagesGenerated Status = "IMAGES_GENERATED"
	StatusPublished       Status = "PUBLISHED"
	StatusFailed          Status = "FAILED"
)

// Stage names one ordered pipeline step. StageDone means nothing is left.
type Stage string

const (
	StageSEO     Stage = "SEO"
	StageImages  Stage = "IMAGES"
	StagePublish Stage = "PUBLISH"
	StageDone    Stage = "DONE"
)

// ordinal position of a stage in the run, 1-based. StageDone is past the end.
func (s Stage) ordinal() int {
	switch s {
	case StageSEO:
		return 1
	case StageImages:
		return 2
	case StagePublish:
		return 3
	default:
		return 4
	}
}

// WorkItem is one scraped inspiration record being driven through
// SEO generation, image generation and publication. Artifact fields are
// filled in stage by stage; the orchestrator is the only writer.
type WorkItem struct {
	ID string `gorm:"primaryKey;size:26"` // ULID length

	SourceTitle       string `gorm:"type:text;not null"`
	SourceDescription string `gorm:"type:text"`
	Category          string `gorm:"size:64;index"`

	IdempotencyKey *string `gorm:"type:varchar(128);index:uniq_workitem_idempo,unique"`

	// SEO artifacts (stage 1)
	SEOKeyword     string `gorm:"size:255"`
	SEOTitle       string `gorm:"size:255"`
	SEODescription string `gorm:"type:text"`

	// Image artifacts (stage 2). ImageCount is the number of images the
	// item requires; the stage either delivers all of them or none.
	ImageCount   int      `gorm:"not null;default:4"`
	ImageURLs    []string `gorm:"type:text;serializer:json"`
	ImagePrompts []string `gorm:"type:text;serializer:json"`

	// Publication artifacts (stage 3)
	RecipeID  *string `gorm:"size:26;index"`
	RecipeURL *string `gorm:"size:512"`

	Status      Status  `gorm:"type:varchar(20);index;not null"`
	FailedStage *Stage  `gorm:"type:varchar(10)"`
	LastError   *string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (WorkItem) TableName() string { return "work_items" }

// HasSEO reports whether all SEO artifacts are populated.
func (w *WorkItem) HasSEO() bool {
	return w.SEOKeyword != "" && w.SEOTitle != "" && w.SEODescription != ""
}

// HasImages reports whether every expected image URL is present.
func (w *WorkItem) HasImages() bool {
	if w.ImageCount <= 0 || len(w.ImageURLs) < w.ImageCount {
		return false
	}
	for _, u := range w.ImageURLs {
		if u == "" {
			return false
		}
	}
	return true
}

// HasRecipe reports whether the item has been published.
func (w *WorkItem) HasRecipe() bool {
	return w.RecipeID != nil && *w.RecipeID != ""
}
