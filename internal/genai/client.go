// Package genai calls the hosted document-generation provider. The
// provider is a chat-completions style HTTP API: one synchronous call,
// a usable document or an error, no partial results.
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shjeon-96/ideatoprd-sub001/internal/domain"
)

const defaultAPIURL = "https://api.openai.com/v1/chat/completions"

// Input is one generation call: the user's idea plus an optional
// template selector.
type Input struct {
	Idea     string
	Template string
}

// Output is a usable generated document.
type Output struct {
	Title       string
	Body        string
	Model       string
	TotalTokens int
}

// Generator is the provider boundary the orchestrator depends on.
type Generator interface {
	Generate(ctx context.Context, in Input) (*Output, error)
}

// Client talks to an OpenAI-compatible completions endpoint.
type Client struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

func NewClient(apiKey, model, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultAPIURL
	}
	return &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

type chatError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Generate performs a single provider call. Rate limits, 5xx responses
// and timeouts surface as transient ProviderErrors so the caller can
// retry within its bound; other provider rejections are fatal.
func (c *Client) Generate(ctx context.Context, in Input) (*Output, error) {
	if c.apiKey == "" {
		return nil, &domain.ProviderError{Message: "api key not configured"}
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt(in.Template)},
			{Role: "user", Content: userPrompt(in.Idea)},
		},
		MaxTokens:   4096,
		Temperature: 0.7,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		// Network errors and client timeouts are retryable.
		return nil, &domain.ProviderError{Message: err.Error(), Transient: true}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.ProviderError{Message: "read response: " + err.Error(), Transient: true}
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr chatError
		msg := http.StatusText(resp.StatusCode)
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		return nil, &domain.ProviderError{
			StatusCode: resp.StatusCode,
			Message:    msg,
			Transient:  resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
		}
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, &domain.ProviderError{Message: "malformed response: " + err.Error()}
	}
	if len(chatResp.Choices) == 0 || chatResp.Choices[0].Message.Content == "" {
		return nil, &domain.ProviderError{Message: "empty completion"}
	}

	content := chatResp.Choices[0].Message.Content
	return &Output{
		Title:       extractTitle(content, in.Idea),
		Body:        content,
		Model:       chatResp.Model,
		TotalTokens: chatResp.Usage.TotalTokens,
	}, nil
}
