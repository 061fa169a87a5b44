package genai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shjeon-96/ideatoprd-sub001/internal/domain"
)

func completionResponse(content string) map[string]interface{} {
	return map[string]interface{}{
		"id":    "chatcmpl-1",
		"model": "gpt-4o",
		"choices": []map[string]interface{}{
			{"message": map[string]string{"role": "assistant", "content": content}, "finish_reason": "stop"},
		},
		"usage": map[string]int{"total_tokens": 321},
	}
}

func TestGenerateSuccess(t *testing.T) {
	var gotAuth string
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(completionResponse("# Meal Planner PRD\n\n## Problem\n..."))
	}))
	defer srv.Close()

	c := NewClient("sk-test", "gpt-4o", srv.URL)
	out, err := c.Generate(context.Background(), Input{Idea: "a meal planner"})
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "gpt-4o", gotReq.Model)
	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
	assert.Contains(t, gotReq.Messages[1].Content, "a meal planner")

	assert.Equal(t, "Meal Planner PRD", out.Title)
	assert.Equal(t, "gpt-4o", out.Model)
	assert.Equal(t, 321, out.TotalTokens)
}

func TestGenerateRateLimitIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"message": "rate limit exceeded", "type": "rate_limit_error"},
		})
	}))
	defer srv.Close()

	c := NewClient("sk-test", "gpt-4o", srv.URL)
	_, err := c.Generate(context.Background(), Input{Idea: "x"})

	var pe *domain.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.True(t, pe.Transient)
	assert.Equal(t, http.StatusTooManyRequests, pe.StatusCode)
	assert.Contains(t, pe.Message, "rate limit")
}

func TestGenerateServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient("sk-test", "gpt-4o", srv.URL)
	_, err := c.Generate(context.Background(), Input{Idea: "x"})

	var pe *domain.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.True(t, pe.Transient)
}

func TestGenerateBadRequestIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"message": "invalid model", "type": "invalid_request_error"},
		})
	}))
	defer srv.Close()

	c := NewClient("sk-test", "gpt-4o", srv.URL)
	_, err := c.Generate(context.Background(), Input{Idea: "x"})

	var pe *domain.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.False(t, pe.Transient)
}

func TestGenerateEmptyCompletionIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"choices": []interface{}{}})
	}))
	defer srv.Close()

	c := NewClient("sk-test", "gpt-4o", srv.URL)
	_, err := c.Generate(context.Background(), Input{Idea: "x"})

	var pe *domain.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.False(t, pe.Transient)
}

func TestGenerateMissingAPIKey(t *testing.T) {
	c := NewClient("", "gpt-4o", "")
	_, err := c.Generate(context.Background(), Input{Idea: "x"})

	var pe *domain.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.False(t, pe.Transient)
}

func TestExtractTitle(t *testing.T) {
	assert.Equal(t, "My PRD", extractTitle("# My PRD\n\nbody", "idea"))
	assert.Equal(t, "Nested", extractTitle("intro\n## Nested\n", "idea"))
	assert.Equal(t, "just an idea", extractTitle("no headings here", "just an idea"))
	assert.Equal(t, "Untitled PRD", extractTitle("", "  "))
}

func TestSystemPromptTemplates(t *testing.T) {
	assert.Contains(t, systemPrompt("lean"), "lean PRD")
	assert.Contains(t, systemPrompt(""), "Product Requirements Document")
	assert.Contains(t, systemPrompt("anything-else"), "Product Requirements Document")
}
