package recipe

import (
	"strings"
	"time"
)

// Recipe is the published, first-class entity a work item turns into.
// WorkItemID is unique so the same item can never publish twice.
type Recipe struct {
	ID         string `gorm:"primaryKey;size:26"`
	WorkItemID string `gorm:"size:26;uniqueIndex;not null"`

	Title       string `gorm:"size:255;not null"`
	Slug        string `gorm:"size:255;uniqueIndex;not null"`
	Description string `gorm:"type:text"`
	Category    string `gorm:"size:64;index"`
	Keyword     string `gorm:"size:255"`

	ImageURLs []string `gorm:"type:text;serializer:json"`

	PublishedAt time.Time
}

func (Recipe) TableName() string { return "recipes" }

// Slugify lowercases the title and folds everything that is not a letter
// or digit into single dashes.
func Slugify(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
