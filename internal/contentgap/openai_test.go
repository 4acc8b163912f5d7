package contentgap

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-auditor/internal/audit"
)

func completionServer(t *testing.T, status int, content string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" || r.Header.Get("Authorization") != "Bearer test-key" {
			http.Error(w, "unexpected request", http.StatusBadRequest)
			return
		}
		if seen != nil {
			_ = json.NewDecoder(r.Body).Decode(seen)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			return
		}
		body, _ := json.Marshal(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
		})
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAnalyzeContentGaps(t *testing.T) {
	t.Parallel()

	var request map[string]any
	srv := completionServer(t, http.StatusOK, `{"gaps":[
		{"category":"pricing","description":"No pricing page","priority":"HIGH","suggested_pages":["/pricing"],"reasoning":"buyers compare cost"},
		{"category":"support","description":"","priority":"low"},
		{"category":"faq","description":"No FAQ","priority":"urgent","reasoning":"common questions"}
	]}`, &request)

	client, err := New(Config{APIKey: "test-key", BaseURL: srv.URL + "/", Model: "test-model", Timeout: time.Second}, zap.NewNop())
	require.NoError(t, err)

	gaps, err := client.AnalyzeContentGaps(context.Background(), []audit.PageDigest{
		{URL: "https://s.test/", Title: "Home", Headings: []string{"Welcome"}},
	})
	require.NoError(t, err)
	require.Equal(t, []audit.ContentGap{
		{Category: "pricing", Description: "No pricing page", Priority: "high", SuggestedPages: []string{"/pricing"}, Reasoning: "buyers compare cost"},
		{Category: "faq", Description: "No FAQ", Priority: "medium", SuggestedPages: []string{}, Reasoning: "common questions"},
	}, gaps)

	require.Equal(t, "test-model", request["model"])
	messages, ok := request["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)
	user, ok := messages[1].(map[string]any)
	require.True(t, ok)
	require.Contains(t, user["content"], "https://s.test/")
}

func TestAnalyzeContentGapsErrors(t *testing.T) {
	t.Parallel()

	failing := completionServer(t, http.StatusInternalServerError, "", nil)
	client, err := New(Config{APIKey: "test-key", BaseURL: failing.URL}, nil)
	require.NoError(t, err)
	_, err = client.AnalyzeContentGaps(context.Background(), []audit.PageDigest{{URL: "https://s.test/"}})
	require.Error(t, err)

	garbled := completionServer(t, http.StatusOK, "not json", nil)
	client, err = New(Config{APIKey: "test-key", BaseURL: garbled.URL}, nil)
	require.NoError(t, err)
	_, err = client.AnalyzeContentGaps(context.Background(), []audit.PageDigest{{URL: "https://s.test/"}})
	require.ErrorContains(t, err, "decode content gaps")
}

func TestNewRequiresAPIKey(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil)
	require.Error(t, err)
}

func TestParseGapsStripsCodeFence(t *testing.T) {
	t.Parallel()

	gaps, err := parseGaps("```json\n{\"gaps\":[{\"category\":\"blog\",\"description\":\"No blog\",\"priority\":\"low\"}]}\n```")
	require.NoError(t, err)
	require.Len(t, gaps, 1)
	require.Equal(t, "low", gaps[0].Priority)
}

func TestBuildPromptTruncates(t *testing.T) {
	t.Parallel()

	pages := make([]audit.PageDigest, maxPromptPages+5)
	for i := range pages {
		pages[i] = audit.PageDigest{URL: "https://s.test/p", Headings: make([]string, 20)}
	}
	prompt, err := buildPrompt(pages)
	require.NoError(t, err)

	var decoded []pagePrompt
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(prompt, "Site pages:\n")), &decoded))
	require.Len(t, decoded, maxPromptPages)
	require.Len(t, decoded[0].Headings, maxPromptHeadings)
}
