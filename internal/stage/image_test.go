package stage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

type fakeImageProvider struct {
	calls   int
	failAt  int // fail on the nth call (1-based), 0 = never
	blankAt int // return "" on the nth call (1-based), 0 = never
}

func (f *fakeImageProvider) GenerateImage(ctx context.Context, prompt string) (string, error) {
	f.calls++
	if f.failAt > 0 && f.calls == f.failAt {
		return "", errors.New("rate limited")
	}
	if f.blankAt > 0 && f.calls == f.blankAt {
		return "", nil
	}
	return fmt.Sprintf("https://cdn.example.com/img-%d.jpg", f.calls), nil
}

func validImageInput(count int) ImageInput {
	return ImageInput{
		Keyword:     "spicy tofu stir fry",
		Title:       "Spicy Tofu Stir Fry",
		Description: "Weeknight dinner.",
		Count:       count,
	}
}

func TestImageGenerate(t *testing.T) {
	provider := &fakeImageProvider{}
	svc := NewImageService(provider)

	art, err := svc.Generate(context.Background(), validImageInput(4))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(art.URLs) != 4 || len(art.Prompts) != 4 {
		t.Fatalf("got %d urls / %d prompts, want 4/4", len(art.URLs), len(art.Prompts))
	}
	if provider.calls != 4 {
		t.Fatalf("provider calls = %d, want 4", provider.calls)
	}
	// each image gets a distinct framing
	if art.Prompts[0] == art.Prompts[1] {
		t.Fatalf("prompts not varied: %q", art.Prompts[0])
	}
	for i, p := range art.Prompts {
		if !strings.Contains(p, "Spicy Tofu Stir Fry") {
			t.Fatalf("prompt %d missing title: %q", i, p)
		}
	}
}

func TestImageGenerate_MidwayFailureIsPartial(t *testing.T) {
	provider := &fakeImageProvider{failAt: 3}
	svc := NewImageService(provider)

	art, err := svc.Generate(context.Background(), validImageInput(4))
	if err == nil {
		t.Fatal("expected error")
	}
	if Classify(err) != KindPartialArtifact {
		t.Fatalf("kind = %s, want %s", Classify(err), KindPartialArtifact)
	}
	if len(art.URLs) != 0 {
		t.Fatalf("partial set leaked: %v", art.URLs)
	}
	if !strings.Contains(err.Error(), "2 of 4") {
		t.Fatalf("error should report progress: %v", err)
	}
	// no point generating the rest once one has failed
	if provider.calls != 3 {
		t.Fatalf("provider calls = %d, want 3", provider.calls)
	}
}

func TestImageGenerate_FirstCallFailure(t *testing.T) {
	svc := NewImageService(&fakeImageProvider{failAt: 1})

	_, err := svc.Generate(context.Background(), validImageInput(4))
	if Classify(err) != KindProviderError {
		t.Fatalf("kind = %s, want %s", Classify(err), KindProviderError)
	}
}

func TestImageGenerate_EmptyURL(t *testing.T) {
	svc := NewImageService(&fakeImageProvider{blankAt: 2})

	_, err := svc.Generate(context.Background(), validImageInput(4))
	if Classify(err) != KindPartialArtifact {
		t.Fatalf("kind = %s, want %s", Classify(err), KindPartialArtifact)
	}
}

func TestImageGenerate_InvalidInput(t *testing.T) {
	svc := NewImageService(&fakeImageProvider{})

	cases := []struct {
		name string
		in   ImageInput
	}{
		{"zero count", ImageInput{Keyword: "k", Title: "t"}},
		{"negative count", ImageInput{Keyword: "k", Title: "t", Count: -1}},
		{"missing seo artifacts", ImageInput{Count: 4}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Generate(context.Background(), tc.in)
			if Classify(err) != KindInputInvalid {
				t.Fatalf("kind = %s, want %s", Classify(err), KindInputInvalid)
			}
		})
	}
}
