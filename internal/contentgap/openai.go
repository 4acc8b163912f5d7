// Package contentgap asks a chat-completion model for missing-content
// recommendations based on the crawled pages.
package contentgap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-auditor/internal/audit"
)

const (
	maxPromptPages    = 200
	maxPromptHeadings = 10
)

const systemPrompt = `You are an SEO content strategist. Given the pages of a website, identify topics or page types the site is missing.
Respond with a JSON object of the form:
{"gaps":[{"category":"...","description":"...","priority":"high|medium|low","suggested_pages":["..."],"reasoning":"..."}]}
Return at most 10 gaps ordered from most to least important.`

// Config configures the OpenAI-compatible client.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client implements audit.ContentGapAnalyzer.
type Client struct {
	api    *openai.Client
	model  string
	logger *zap.Logger
}

// New builds a Client. BaseURL may point at any OpenAI-compatible endpoint.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("content gap api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return &Client{
		api:    openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		logger: logger,
	}, nil
}

type pagePrompt struct {
	URL      string   `json:"url"`
	Title    string   `json:"title,omitempty"`
	Headings []string `json:"headings,omitempty"`
}

type gapResponse struct {
	Gaps []audit.ContentGap `json:"gaps"`
}

// AnalyzeContentGaps sends page digests to the model and returns its
// recommendations in the order given.
func (c *Client) AnalyzeContentGaps(ctx context.Context, pages []audit.PageDigest) ([]audit.ContentGap, error) {
	prompt, err := buildPrompt(pages)
	if err != nil {
		return nil, err
	}
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Temperature:    0.2,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}
	gaps, err := parseGaps(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("content gaps received", zap.Int("pages", len(pages)), zap.Int("gaps", len(gaps)))
	return gaps, nil
}

func buildPrompt(pages []audit.PageDigest) (string, error) {
	if len(pages) > maxPromptPages {
		pages = pages[:maxPromptPages]
	}
	prompts := make([]pagePrompt, 0, len(pages))
	for _, p := range pages {
		headings := p.Headings
		if len(headings) > maxPromptHeadings {
			headings = headings[:maxPromptHeadings]
		}
		prompts = append(prompts, pagePrompt{URL: p.URL, Title: p.Title, Headings: headings})
	}
	data, err := json.Marshal(prompts)
	if err != nil {
		return "", fmt.Errorf("marshal pages: %w", err)
	}
	return "Site pages:\n" + string(data), nil
}

func parseGaps(content string) ([]audit.ContentGap, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimSuffix(strings.TrimPrefix(content, "```"), "```")

	var parsed gapResponse
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, fmt.Errorf("decode content gaps: %w", err)
	}
	out := make([]audit.ContentGap, 0, len(parsed.Gaps))
	for _, gap := range parsed.Gaps {
		if strings.TrimSpace(gap.Description) == "" {
			continue
		}
		gap.Priority = normalizePriority(gap.Priority)
		if gap.SuggestedPages == nil {
			gap.SuggestedPages = []string{}
		}
		out = append(out, gap)
	}
	return out, nil
}

func normalizePriority(p string) string {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case "high":
		return "high"
	case "low":
		return "low"
	default:
		return "medium"
	}
}
