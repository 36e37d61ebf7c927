package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ImageAPIProvider calls an OpenAI-compatible images endpoint
// (POST {base}/images/generations) and returns the hosted URL of the
// generated image.
type ImageAPIProvider struct {
	BaseURL string
	APIKey  string
	Model   string
	Size    string
	Client  *http.Client
}

func NewImageAPIProvider(baseURL, apiKey, model, size string) *ImageAPIProvider {
	if size == "" {
		size = "1024x1024"
	}
	return &ImageAPIProvider{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		Size:    size,
		Client:  &http.Client{Timeout: 120 * time.Second},
	}
}

type imageGenReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size"`
}

type imageGenResp struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *ImageAPIProvider) GenerateImage(ctx context.Context, prompt string) (string, error) {
	if p.Client == nil {
		return "", errors.New("images: http client is nil")
	}
	if strings.TrimSpace(p.BaseURL) == "" {
		return "", errors.New("images: base url is required")
	}

	b, err := json.Marshal(imageGenReq{
		Model:  p.Model,
		Prompt: prompt,
		N:      1,
		Size:   p.Size,
	})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/images/generations", strings.TrimRight(p.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return "", fmt.Errorf("images: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded imageGenResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", err
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return "", errors.New(decoded.Error.Message)
	}
	if len(decoded.Data) == 0 || decoded.Data[0].URL == "" {
		return "", errors.New("images: empty result")
	}
	return decoded.Data[0].URL, nil
}
