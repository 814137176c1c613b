package research

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/twinbattle/internal/errors"
	"github.com/Iron-Ham/twinbattle/internal/runner"
	"github.com/Iron-Ham/twinbattle/internal/testutil"
)

func TestTool_Research(t *testing.T) {
	fake := &testutil.FakeRunner{Handler: func(cmd runner.Command) (string, int) {
		return `{"summary":"use parameterized queries","sources":["https://owasp.org"]}`, 0
	}}
	r := NewTool("research-tool", 0, fake)

	got, err := r.Research(context.Background(), "sql injection")
	require.NoError(t, err)
	assert.Equal(t, "sql injection", got.Topic)
	assert.Equal(t, "use parameterized queries", got.Summary)
	assert.Equal(t, []string{"https://owasp.org"}, got.Sources)
	assert.Equal(t, []string{"lookup", "sql injection", "--json"}, fake.Commands()[0].Args)
}

func TestTool_ResearchFailures(t *testing.T) {
	tests := []struct {
		name   string
		stdout string
		exit   int
		target error
	}{
		{"non-zero exit", `{"summary":"x"}`, 1, errors.ErrToolFailed},
		{"not json", "rate limited", 0, ErrEmptyResult},
		{"empty summary", `{"summary":"  "}`, 0, ErrEmptyResult},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &testutil.FakeRunner{Handler: func(runner.Command) (string, int) { return tt.stdout, tt.exit }}
			_, err := NewTool("research-tool", 0, fake).Research(context.Background(), "xss")
			assert.True(t, errors.Is(err, tt.target), "got %v", err)
		})
	}
}

func TestAnthropic_Research(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/messages") {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_01",
			"type": "message",
			"role": "assistant",
			"model": "claude-3-5-sonnet-20241022",
			"content": [{"type": "text", "text": "Stack canaries detect overwrites."}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 10, "output_tokens": 6}
		}`))
	}))
	defer srv.Close()

	r, err := NewAnthropic(AnthropicOptions{Model: "claude-3-5-sonnet-20241022", APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)
	got, err := r.Research(context.Background(), "buffer overflow")
	require.NoError(t, err)
	assert.Equal(t, "Stack canaries detect overwrites.", got.Summary)
	assert.Equal(t, "claude-3-5-sonnet-20241022", gotBody["model"])
}

func TestAnthropic_ResearchAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	}))
	defer srv.Close()

	r, err := NewAnthropic(AnthropicOptions{Model: "claude-3-5-haiku-latest", APIKey: "bad", BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = r.Research(context.Background(), "xss")
	assert.Error(t, err)
}

func TestNewAnthropic_RequiresModel(t *testing.T) {
	_, err := NewAnthropic(AnthropicOptions{APIKey: "test-key"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput), "got %v", err)
}

func TestAnthropic_ResearchUsesConfiguredModel(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_02",
			"type": "message",
			"role": "assistant",
			"model": "claude-3-5-haiku-latest",
			"content": [{"type": "text", "text": "Use parameterized queries."}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 8, "output_tokens": 4}
		}`))
	}))
	defer srv.Close()

	r, err := NewAnthropic(AnthropicOptions{Model: "claude-3-5-haiku-latest", APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = r.Research(context.Background(), "sql injection")
	require.NoError(t, err)
	assert.Equal(t, "claude-3-5-haiku-latest", gotBody["model"])
}
