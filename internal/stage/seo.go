package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/recipeworks/recipeforge/internal/ai"
)

const seoPromptTemplate = `You are an SEO specialist for a recipe website.
Given a scraped recipe idea, produce SEO metadata as a single JSON object
with exactly these keys: "keyword", "title", "description".
- keyword: the primary search phrase, 2-5 words
- title: a click-worthy page title under 60 characters
- description: a meta description under 160 characters
Respond with JSON only, no commentary.

Recipe idea:
Title: %s
Description: %s
Category: %s`

// SEOService generates SEO metadata from a scraped source record using a
// text-generation provider.
type SEOService struct {
	provider ai.Provider
	opts     ai.Options
}

func NewSEOService(provider ai.Provider) *SEOService {
	return &SEOService{
		provider: provider,
		opts:     ai.Options{Temperature: 0.7, MaxTokens: 512},
	}
}

func (s *SEOService) Generate(ctx context.Context, in SEOInput) (SEOArtifacts, error) {
	if strings.TrimSpace(in.Title) == "" {
		return SEOArtifacts{}, newError(KindInputInvalid, "seo: source title is empty")
	}

	prompt := fmt.Sprintf(seoPromptTemplate, in.Title, in.Description, in.Category)

	raw, err := s.provider.Generate(ctx, prompt, s.opts)
	if err != nil {
		return SEOArtifacts{}, &Error{Kind: KindProviderError, Err: err}
	}

	art, err := parseSEOOutput(raw)
	if err != nil {
		return SEOArtifacts{}, err
	}
	return art, nil
}

// parseSEOOutput extracts the JSON object from the generator's response.
// Models routinely wrap JSON in markdown fences or prose, so the parser
// cuts from the first '{' to the last '}' before decoding.
func parseSEOOutput(raw string) (SEOArtifacts, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return SEOArtifacts{}, newError(KindMalformedOutput, "seo: no JSON object in output")
	}

	var art SEOArtifacts
	if err := json.Unmarshal([]byte(raw[start:end+1]), &art); err != nil {
		return SEOArtifacts{}, &Error{Kind: KindMalformedOutput, Err: err}
	}

	art.Keyword = strings.TrimSpace(art.Keyword)
	art.Title = strings.TrimSpace(art.Title)
	art.Description = strings.TrimSpace(art.Description)
	if art.Keyword == "" || art.Title == "" || art.Description == "" {
		return SEOArtifacts{}, newError(KindMalformedOutput, "seo: missing keyword, title or description")
	}
	return art, nil
}
