// Package stage holds the three pipeline stage services. Each one is a
// pure transformer: validated input in, artifacts or a classified error
// out. Stages know nothing about checkpoints, retries or the orchestrator's
// state machine.
package stage

import "context"

// SEOInput carries the scraped source fields into SEO generation.
type SEOInput struct {
	Title       string
	Description string
	Category    string
}

// SEOArtifacts is the SEO stage output. All three fields are guaranteed
// non-empty on success.
type SEOArtifacts struct {
	Keyword     string `json:"keyword"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type SEOGenerator interface {
	Generate(ctx context.Context, in SEOInput) (SEOArtifacts, error)
}

// ImageInput carries SEO artifacts as prompt material plus the number of
// images the item requires.
type ImageInput struct {
	Keyword     string
	Title       string
	Description string
	Count       int
}

// ImageArtifacts holds exactly Count URLs and the prompts used to generate
// them; partial sets are never returned.
type ImageArtifacts struct {
	URLs    []string
	Prompts []string
}

type ImageGenerator interface {
	Generate(ctx context.Context, in ImageInput) (ImageArtifacts, error)
}

// PublishInput composes everything earlier stages produced.
type PublishInput struct {
	WorkItemID        string
	SourceTitle       string
	SourceDescription string
	Category          string

	SEO       SEOArtifacts
	ImageURLs []string

	// ExistingRecipeID short-circuits the stage when the item was already
	// published by an earlier run.
	ExistingRecipeID string
}

type PublishResult struct {
	RecipeID         string
	RecipeURL        string
	AlreadyPublished bool
}

type Publisher interface {
	Publish(ctx context.Context, in PublishInput) (PublishResult, error)
}
