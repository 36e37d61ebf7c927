package ai

import "context"

// Options tune a single generation call.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// Provider generates text from a prompt. Implementations wrap external
// model APIs and must honor ctx cancellation.
type Provider interface {
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
}

// ImageProvider generates a single image for a prompt and returns a stable
// public URL for it.
type ImageProvider interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}
