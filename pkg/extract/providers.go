package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Per-provider request timeout.
const requestTimeout = 60 * time.Second

// Environment variables carrying provider credentials.
const (
	EnvMistralAPIKey    = "MISTRAL_API_KEY"
	EnvOpenRouterAPIKey = "OPENROUTER_API_KEY"
	EnvGroqAPIKey       = "GROQ_API_KEY"
)

// DefaultProviderOrder is the fallback chain used when
// EXTRACTION_PROVIDER_ORDER is unset.
var DefaultProviderOrder = []string{"mistral", "openrouter", "groq"}

func newLimiter() *rate.Limiter {
	// One request per second with a small burst keeps free-tier
	// providers from throttling the poll loop.
	return rate.NewLimiter(rate.Every(time.Second), 2)
}

// chat-completions wire types shared by the OpenAI-compatible providers.

type chatContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ChatVisionClient posts the document inline as a data URI to an
// OpenAI-shaped chat-completions endpoint constrained to JSON output.
// OpenRouter and Groq both speak this dialect.
type ChatVisionClient struct {
	name         string
	endpoint     string
	apiKey       string
	defaultModel string
	limiter      *rate.Limiter
	httpClient   *http.Client
}

// NewOpenRouterClient builds the OpenRouter adapter.
func NewOpenRouterClient(apiKey string) *ChatVisionClient {
	return &ChatVisionClient{
		name:         "openrouter",
		endpoint:     "https://openrouter.ai/api/v1/chat/completions",
		apiKey:       apiKey,
		defaultModel: "qwen/qwen2.5-vl-72b-instruct",
		limiter:      newLimiter(),
		httpClient:   &http.Client{Timeout: requestTimeout},
	}
}

// NewGroqClient builds the Groq adapter.
func NewGroqClient(apiKey string) *ChatVisionClient {
	return &ChatVisionClient{
		name:         "groq",
		endpoint:     "https://api.groq.com/openai/v1/chat/completions",
		apiKey:       apiKey,
		defaultModel: "meta-llama/llama-4-scout-17b-16e-instruct",
		limiter:      newLimiter(),
		httpClient:   &http.Client{Timeout: requestTimeout},
	}
}

func (c *ChatVisionClient) Name() string { return c.name }

func (c *ChatVisionClient) ExtractJSON(ctx context.Context, filePath, model, prompt string) (string, error) {
	dataURI, err := fileDataURI(filePath)
	if err != nil {
		return "", err
	}
	if model == "" || model == "auto" {
		model = c.defaultModel
	}
	body := chatRequest{
		Model: model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []chatContentPart{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &chatImageURL{URL: dataURI}},
			},
		}},
		ResponseFormat: map[string]any{"type": "json_object"},
	}
	return postChat(ctx, c.httpClient, c.limiter, c.name, c.endpoint, c.apiKey, body)
}

// MistralClient takes the two-step OCR path: the file goes to the OCR
// endpoint first, then the joined page markdown is run through a
// JSON-constrained chat completion. The intermediate page text is kept
// so the orchestrator can attach it to the payload.
type MistralClient struct {
	apiKey     string
	ocrModel   string
	chatModel  string
	baseURL    string
	limiter    *rate.Limiter
	httpClient *http.Client
	ocrText    string
}

// NewMistralClient builds the Mistral OCR adapter.
func NewMistralClient(apiKey string) *MistralClient {
	return &MistralClient{
		apiKey:     apiKey,
		ocrModel:   "mistral-ocr-latest",
		chatModel:  "mistral-small-latest",
		baseURL:    "https://api.mistral.ai",
		limiter:    newLimiter(),
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

func (c *MistralClient) Name() string { return "mistral" }

// OCRText returns the page text of the last successful extraction.
func (c *MistralClient) OCRText() string { return c.ocrText }

type mistralOCRRequest struct {
	Model    string             `json:"model"`
	Document mistralOCRDocument `json:"document"`
}

type mistralOCRDocument struct {
	Type        string `json:"type"`
	ImageURL    string `json:"image_url,omitempty"`
	DocumentURL string `json:"document_url,omitempty"`
}

type mistralOCRResponse struct {
	Pages []struct {
		Markdown string `json:"markdown"`
	} `json:"pages"`
}

func (c *MistralClient) ExtractJSON(ctx context.Context, filePath, model, prompt string) (string, error) {
	c.ocrText = ""
	text, err := c.runOCR(ctx, filePath)
	if err != nil {
		return "", err
	}
	c.ocrText = text

	if model == "" || model == "auto" {
		model = c.chatModel
	}
	body := chatRequest{
		Model: model,
		Messages: []chatMessage{{
			Role:    "user",
			Content: prompt + "\n\nDocument text:\n" + text,
		}},
		ResponseFormat: map[string]any{"type": "json_object"},
	}
	return postChat(ctx, c.httpClient, c.limiter, "mistral", c.baseURL+"/v1/chat/completions", c.apiKey, body)
}

func (c *MistralClient) runOCR(ctx context.Context, filePath string) (string, error) {
	dataURI, err := fileDataURI(filePath)
	if err != nil {
		return "", err
	}
	mimeType, _ := MimeForPath(filePath)
	doc := mistralOCRDocument{Type: "image_url", ImageURL: dataURI}
	if mimeType == "application/pdf" {
		doc = mistralOCRDocument{Type: "document_url", DocumentURL: dataURI}
	}

	raw, err := postJSON(ctx, c.httpClient, c.limiter, "mistral", c.baseURL+"/v1/ocr", c.apiKey,
		mistralOCRRequest{Model: c.ocrModel, Document: doc})
	if err != nil {
		return "", err
	}
	var parsed mistralOCRResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", newError(CodeProviderRequestFailed, "mistral", "decode ocr response: %v", err)
	}
	var pages []string
	for _, page := range parsed.Pages {
		if strings.TrimSpace(page.Markdown) != "" {
			pages = append(pages, page.Markdown)
		}
	}
	if len(pages) == 0 {
		return "", newError(CodeEmptyResponse, "mistral", "ocr returned no page text")
	}
	return strings.Join(pages, "\n\n"), nil
}

func postChat(ctx context.Context, client *http.Client, limiter *rate.Limiter, provider, endpoint, apiKey string, body chatRequest) (string, error) {
	raw, err := postJSON(ctx, client, limiter, provider, endpoint, apiKey, body)
	if err != nil {
		return "", err
	}
	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", newError(CodeProviderRequestFailed, provider, "decode response: %v", err)
	}
	if len(parsed.Choices) == 0 {
		return "", newError(CodeEmptyResponse, provider, "response carried no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func postJSON(ctx context.Context, client *http.Client, limiter *rate.Limiter, provider, endpoint, apiKey string, body any) ([]byte, error) {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, newError(CodeProviderRequestFailed, provider, "rate limiter: %v", err)
		}
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("extract: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("extract: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, newError(CodeProviderRequestFailed, provider, "%v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(CodeProviderRequestFailed, provider, "read response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, newError(CodeProviderRequestFailed, provider, "status %d: %s", resp.StatusCode, truncate(string(payload), 200))
	}
	return payload, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// NewProviderClient builds the adapter for a single named provider,
// reading its credential from the environment.
func NewProviderClient(name string) (Client, error) {
	switch strings.ToLower(name) {
	case "mistral":
		key := os.Getenv(EnvMistralAPIKey)
		if key == "" {
			return nil, newError(CodeMissingAPIKey, "mistral", "%s is not set", EnvMistralAPIKey)
		}
		return NewMistralClient(key), nil
	case "openrouter":
		key := os.Getenv(EnvOpenRouterAPIKey)
		if key == "" {
			return nil, newError(CodeMissingAPIKey, "openrouter", "%s is not set", EnvOpenRouterAPIKey)
		}
		return NewOpenRouterClient(key), nil
	case "groq":
		key := os.Getenv(EnvGroqAPIKey)
		if key == "" {
			return nil, newError(CodeMissingAPIKey, "groq", "%s is not set", EnvGroqAPIKey)
		}
		return NewGroqClient(key), nil
	default:
		return nil, newError(CodeUnsupportedProvider, "", "unknown provider %q", name)
	}
}
