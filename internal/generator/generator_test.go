package generator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drover-ai/drover/internal/config"
	"github.com/drover-ai/drover/pkg/board"
)

func testRequest() Request {
	return Request{
		AgentType:    "developer",
		Instructions: "write a plan",
		Item: &board.WorkItem{
			ID:    "11111111-1111-1111-1111-111111111111",
			Title: "Build billing",
			Type:  "story",
		},
		Context: map[string]any{"title": "Build billing"},
	}
}

func TestHTTPClientGenerate(t *testing.T) {
	ctx := context.Background()

	t.Run("posts the request and returns the output", func(t *testing.T) {
		var received Request
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
			w.Write([]byte(`{"output": {"summary": "done"}}`))
		}))
		defer server.Close()

		client := NewHTTPClient(&config.GeneratorConfig{Endpoint: server.URL, TimeoutSecs: 5})
		raw, err := client.Generate(ctx, testRequest())
		require.NoError(t, err)
		assert.JSONEq(t, `{"summary": "done"}`, string(raw))
		assert.Equal(t, "developer", received.AgentType)
		assert.Equal(t, "Build billing", received.Item.Title)
	})

	t.Run("sends a bearer token when configured", func(t *testing.T) {
		t.Setenv("TEST_GENERATOR_KEY", "s3cret")

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))
			w.Write([]byte(`{"output": {}}`))
		}))
		defer server.Close()

		client := NewHTTPClient(&config.GeneratorConfig{
			Endpoint:    server.URL,
			APIKeyEnv:   "TEST_GENERATOR_KEY",
			TimeoutSecs: 5,
		})
		_, err := client.Generate(ctx, testRequest())
		require.NoError(t, err)
	})

	t.Run("non-2xx is an error carrying the body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model overloaded", http.StatusServiceUnavailable)
		}))
		defer server.Close()

		client := NewHTTPClient(&config.GeneratorConfig{Endpoint: server.URL, TimeoutSecs: 5})
		_, err := client.Generate(ctx, testRequest())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "503")
		assert.Contains(t, err.Error(), "model overloaded")
	})

	t.Run("missing output is an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		client := NewHTTPClient(&config.GeneratorConfig{Endpoint: server.URL, TimeoutSecs: 5})
		_, err := client.Generate(ctx, testRequest())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no output")
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		}))
		defer server.Close()

		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		client := NewHTTPClient(&config.GeneratorConfig{Endpoint: server.URL, TimeoutSecs: 5})
		_, err := client.Generate(cancelled, testRequest())
		assert.Error(t, err)
	})
}
