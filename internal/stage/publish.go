package stage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/recipeworks/recipeforge/internal/recipe"
)

// IDFunc supplies identifiers for new recipes.
type IDFunc func() (string, error)

// PublishService assembles a recipe from source + SEO + image artifacts and
// persists it as a published entity. Publication is idempotent: an item
// that already has a recipe short-circuits to the existing one.
type PublishService struct {
	recipes *recipe.Repo
	baseURL string
	newID   IDFunc
}

func NewPublishService(recipes *recipe.Repo, baseURL string, newID IDFunc) *PublishService {
	return &PublishService{
		recipes: recipes,
		baseURL: strings.TrimRight(baseURL, "/"),
		newID:   newID,
	}
}

func (s *PublishService) Publish(ctx context.Context, in PublishInput) (PublishResult, error) {
	if in.ExistingRecipeID != "" {
		rec, err := s.recipes.GetByID(ctx, in.ExistingRecipeID)
		if err != nil {
			return PublishResult{}, &Error{Kind: KindProviderError, Err: fmt.Errorf("publish: load existing recipe: %w", err)}
		}
		return PublishResult{
			RecipeID:         rec.ID,
			RecipeURL:        s.urlFor(rec.Slug),
			AlreadyPublished: true,
		}, nil
	}

	if in.WorkItemID == "" {
		return PublishResult{}, newError(KindInputInvalid, "publish: missing work item id")
	}
	if in.SEO.Title == "" || in.SEO.Keyword == "" || in.SEO.Description == "" {
		return PublishResult{}, newError(KindInputInvalid, "publish: incomplete seo artifacts")
	}
	if len(in.ImageURLs) == 0 {
		return PublishResult{}, newError(KindInputInvalid, "publish: no image artifacts")
	}

	base := recipe.Slugify(in.SEO.Title)

	var saved *recipe.Recipe
	var created bool
	for attempt := 0; ; attempt++ {
		slug, err := s.recipes.UniqueSlug(ctx, base)
		if err != nil {
			return PublishResult{}, &Error{Kind: KindProviderError, Err: fmt.Errorf("publish: slug: %w", err)}
		}

		id, err := s.newID()
		if err != nil {
			return PublishResult{}, &Error{Kind: KindProviderError, Err: err}
		}

		rec := &recipe.Recipe{
			ID:          id,
			WorkItemID:  in.WorkItemID,
			Title:       in.SEO.Title,
			Slug:        slug,
			Description: in.SEO.Description,
			Category:    in.Category,
			Keyword:     in.SEO.Keyword,
			ImageURLs:   in.ImageURLs,
			PublishedAt: time.Now().UTC(),
		}

		saved, created, err = s.recipes.CreateOrGetExisting(ctx, rec)
		if err == nil {
			break
		}
		// Another item can claim the slug between the probe and the
		// insert; the unique index rejects it. Re-probe and try again.
		if attempt < 2 {
			if _, slugErr := s.recipes.GetBySlug(ctx, slug); slugErr == nil {
				continue
			}
		}
		return PublishResult{}, &Error{Kind: KindProviderError, Err: fmt.Errorf("publish: persist recipe: %w", err)}
	}

	return PublishResult{
		RecipeID:         saved.ID,
		RecipeURL:        s.urlFor(saved.Slug),
		AlreadyPublished: !created,
	}, nil
}

func (s *PublishService) urlFor(slug string) string {
	if s.baseURL == "" {
		return "/recipes/" + slug
	}
	return s.baseURL + "/recipes/" + slug
}
