package stage

import (
	"context"
	"fmt"
	"strings"

	"github.com/recipeworks/recipeforge/internal/ai"
)

// imageAngles vary the framing across a work item's image set.
var imageAngles = []string{
	"overhead shot on a rustic wooden table",
	"close-up with shallow depth of field",
	"plated serving with garnish, natural light",
	"step-by-step preparation scene",
	"styled flat lay with ingredients around the dish",
}

// ImageService generates the full image set for a work item. The set is
// atomic: a single failed generation fails the whole stage so downstream
// assembly always sees a complete, fixed-size set.
type ImageService struct {
	provider ai.ImageProvider
}

func NewImageService(provider ai.ImageProvider) *ImageService {
	return &ImageService{provider: provider}
}

func (s *ImageService) Generate(ctx context.Context, in ImageInput) (ImageArtifacts, error) {
	if in.Count <= 0 {
		return ImageArtifacts{}, newError(KindInputInvalid, "images: count must be positive, got %d", in.Count)
	}
	if strings.TrimSpace(in.Title) == "" || strings.TrimSpace(in.Keyword) == "" {
		return ImageArtifacts{}, newError(KindInputInvalid, "images: missing seo artifacts")
	}

	urls := make([]string, 0, in.Count)
	prompts := make([]string, 0, in.Count)

	for i := 0; i < in.Count; i++ {
		prompt := buildImagePrompt(in, i)

		url, err := s.provider.GenerateImage(ctx, prompt)
		if err != nil {
			if len(urls) > 0 {
				return ImageArtifacts{}, &Error{
					Kind: KindPartialArtifact,
					Err:  fmt.Errorf("images: got %d of %d before failure: %w", len(urls), in.Count, err),
				}
			}
			return ImageArtifacts{}, &Error{Kind: KindProviderError, Err: err}
		}
		if url == "" {
			return ImageArtifacts{}, newError(KindPartialArtifact, "images: empty url at index %d", i)
		}

		urls = append(urls, url)
		prompts = append(prompts, prompt)
	}

	return ImageArtifacts{URLs: urls, Prompts: prompts}, nil
}

func buildImagePrompt(in ImageInput, idx int) string {
	angle := imageAngles[idx%len(imageAngles)]
	return fmt.Sprintf("Professional food photography of %s (%s), %s. Appetizing, high resolution, no text.",
		in.Title, in.Keyword, angle)
}
