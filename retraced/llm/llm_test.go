package llm_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retracehq/retrace/retraced/llm"
	"github.com/retracehq/retrace/retracesdk"
	"github.com/retracehq/retrace/testutil"
)

func TestFormatHistory(t *testing.T) {
	t.Parallel()

	t.Run("Empty", func(t *testing.T) {
		t.Parallel()
		require.Equal(t, "No browsing history available.", llm.FormatHistory(nil))
	})

	t.Run("Entries", func(t *testing.T) {
		t.Parallel()
		formatted := llm.FormatHistory(retracesdk.RecordSet{
			{URL: "https://golang.org", Title: "Go", VisitCount: 12, LastVisitTime: 1_700_000_000_000},
		})
		require.Contains(t, formatted, "Recent browsing history:")
		require.Contains(t, formatted, "1. Go")
		require.Contains(t, formatted, "URL: https://golang.org")
		require.Contains(t, formatted, "(visited 12 times)")
	})

	t.Run("Truncated", func(t *testing.T) {
		t.Parallel()
		var set retracesdk.RecordSet
		for i := 0; i < 80; i++ {
			set = append(set, retracesdk.HistoryEntry{
				URL:           fmt.Sprintf("https://example.com/%d", i),
				Title:         fmt.Sprintf("Page %d", i),
				VisitCount:    1,
				LastVisitTime: 1_700_000_000_000,
			})
		}
		formatted := llm.FormatHistory(set)
		require.Contains(t, formatted, "50. Page 49")
		require.NotContains(t, formatted, "51. Page 50")
		require.Contains(t, formatted, "... and 30 more entries")
	})
}

type completionRequest struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func TestOpenAIComplete(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t, testutil.WaitLong)

	var captured completionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		rw.Header().Set("Content-Type", "application/json")
		_, _ = rw.Write([]byte(`{"id":"cmpl-1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"You visited three Rust pages."},"finish_reason":"stop"}]}`))
	}))
	t.Cleanup(srv.Close)

	client, err := llm.NewOpenAI(llm.OpenAIOptions{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)

	reply, err := client.Complete(ctx, llm.Request{
		Message: "What did I read about Rust?",
		Conversation: []retracesdk.ChatMessage{
			{Role: "user", Content: "Hello"},
			{Role: "assistant", Content: "Hi, ask me about your history."},
		},
		History: retracesdk.RecordSet{
			{URL: "https://rust-lang.org", Title: "Rust", VisitCount: 3, LastVisitTime: 1_700_000_000_000},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "You visited three Rust pages.", reply)

	require.Equal(t, llm.DefaultModel, captured.Model)
	require.InDelta(t, 0.7, captured.Temperature, 0.0001)
	require.Equal(t, 1000, captured.MaxTokens)

	// System prompt with history first, prior turns in order, the current
	// question last.
	require.Len(t, captured.Messages, 4)
	require.Equal(t, "system", captured.Messages[0].Role)
	require.Contains(t, captured.Messages[0].Content, "Recent browsing history:")
	require.Contains(t, captured.Messages[0].Content, "https://rust-lang.org")
	require.Equal(t, "user", captured.Messages[1].Role)
	require.Equal(t, "Hello", captured.Messages[1].Content)
	require.Equal(t, "assistant", captured.Messages[2].Role)
	require.Equal(t, "user", captured.Messages[3].Role)
	require.Equal(t, "What did I read about Rust?", captured.Messages[3].Content)
}

func TestOpenAIComplete_Errors(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t, testutil.WaitLong)

	newClient := func(t *testing.T, handler http.HandlerFunc) *llm.OpenAI {
		srv := httptest.NewServer(handler)
		t.Cleanup(srv.Close)
		client, err := llm.NewOpenAI(llm.OpenAIOptions{APIKey: "test-key", BaseURL: srv.URL})
		require.NoError(t, err)
		return client
	}

	t.Run("InvalidKey", func(t *testing.T) {
		t.Parallel()
		client := newClient(t, func(rw http.ResponseWriter, r *http.Request) {
			rw.Header().Set("Content-Type", "application/json")
			rw.WriteHeader(http.StatusUnauthorized)
			_, _ = rw.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`))
		})
		_, err := client.Complete(ctx, llm.Request{Message: "hi"})
		require.EqualError(t, err, "invalid OpenAI API key")
	})

	t.Run("BadRequest", func(t *testing.T) {
		t.Parallel()
		client := newClient(t, func(rw http.ResponseWriter, r *http.Request) {
			rw.Header().Set("Content-Type", "application/json")
			rw.WriteHeader(http.StatusBadRequest)
			_, _ = rw.Write([]byte(`{"error":{"message":"context length exceeded","type":"invalid_request_error"}}`))
		})
		_, err := client.Complete(ctx, llm.Request{Message: "hi"})
		require.ErrorContains(t, err, "context length exceeded")
	})

	t.Run("NoChoices", func(t *testing.T) {
		t.Parallel()
		client := newClient(t, func(rw http.ResponseWriter, r *http.Request) {
			rw.Header().Set("Content-Type", "application/json")
			_, _ = rw.Write([]byte(`{"id":"cmpl-1","object":"chat.completion","choices":[]}`))
		})
		_, err := client.Complete(ctx, llm.Request{Message: "hi"})
		require.ErrorContains(t, err, "no response from OpenAI")
	})
}

func TestNewOpenAI_MissingKey(t *testing.T) {
	t.Parallel()

	_, err := llm.NewOpenAI(llm.OpenAIOptions{})
	require.ErrorContains(t, err, "API key not configured")
}
