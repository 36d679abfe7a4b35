package analyzer

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/config"
	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/domain"
)

// HTTPBackend drives an OpenAI-compatible chat-completions endpoint with
// image content, which is how the vision model is fronted (§4.5, §10.2).
// It is the sole domain.AnalyzerBackend implementation used outside tests.
type HTTPBackend struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// NewHTTPBackend builds a backend from configuration.
func NewHTTPBackend(cfg config.Config) *HTTPBackend {
	return &HTTPBackend{
		httpClient: &http.Client{Timeout: cfg.VisionModelTimeout},
		baseURL:    cfg.VisionModelBaseURL,
		apiKey:     cfg.VisionModelAPIKey,
		model:      cfg.VisionModelName,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Messages    []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Analyze implements domain.AnalyzerBackend.
func (b *HTTPBackend) Analyze(ctx domain.Context, image []byte, mediaType, category, systemPrompt string, maxTokens int, temperature float64) (string, error) {
	return b.chat(ctx, image, mediaType, systemPrompt, analysisUserPrompt(category), maxTokens, temperature)
}

// Describe implements domain.AnalyzerBackend.
func (b *HTTPBackend) Describe(ctx domain.Context, image []byte, mediaType, productName string) (string, error) {
	return b.chat(ctx, image, mediaType, "", descriptionUserPrompt(productName), 2000, 0.7)
}

func (b *HTTPBackend) chat(ctx domain.Context, image []byte, mediaType, systemPrompt, userPrompt string, maxTokens int, temperature float64) (string, error) {
	if b.apiKey == "" {
		return "", fmt.Errorf("op=analyzer.chat: %w: vision model API key missing", domain.ErrInternal)
	}

	dataURL := "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(image)
	messages := make([]chatMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, chatMessage{
		Role: "user",
		Content: []contentPart{
			{Type: "text", Text: userPrompt},
			{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
		},
	})

	body, err := json.Marshal(chatRequest{
		Model:       b.model,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Messages:    messages,
	})
	if err != nil {
		return "", fmt.Errorf("op=analyzer.chat: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("op=analyzer.chat: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("op=analyzer.chat: %w: %v", domain.ErrUpstreamTransient, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("op=analyzer.chat: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("op=analyzer.chat status=%d: %w", resp.StatusCode, domain.ErrUpstreamRateLimited)
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("op=analyzer.chat status=%d: %w", resp.StatusCode, domain.ErrUpstreamTransient)
	case resp.StatusCode >= 400:
		return "", fmt.Errorf("op=analyzer.chat status=%d: %w: %s", resp.StatusCode, domain.ErrInternal, string(raw))
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("op=analyzer.chat: %w", err)
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return "", domain.ErrEmptyResponse
	}
	return out.Choices[0].Message.Content, nil
}

var _ domain.AnalyzerBackend = (*HTTPBackend)(nil)
