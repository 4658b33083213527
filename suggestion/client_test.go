package suggestion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disputeflow/config"
)

func testConfig(url string) config.CompletionConfig {
	return config.CompletionConfig{
		APIKey:      "test-key",
		BaseURL:     url,
		Model:       "test-model",
		Timeout:     2 * time.Second,
		MaxAttempts: 3,
		RetryDelay:  time.Millisecond,
		MaxTokens:   256,
		Temperature: 0.4,
	}
}

func TestClient_Complete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-model", body["model"])
		assert.Len(t, body["messages"], 2)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": completion},
				"finish_reason": "stop",
			}},
		})
	}))
	defer server.Close()

	text, err := NewClient(testConfig(server.URL)).Complete(context.Background(), Prompt{System: "s", User: "u"})

	require.NoError(t, err)
	assert.Equal(t, completion, text)
}

func TestClient_Complete_NotConfigured(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.APIKey = ""

	_, err := NewClient(cfg).Complete(context.Background(), Prompt{})

	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestClient_Complete_ErrorStatusIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key","type":"auth_error"}}`))
	}))
	defer server.Close()

	_, err := NewClient(testConfig(server.URL)).Complete(context.Background(), Prompt{User: "u"})

	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusUnauthorized, upstream.StatusCode)
	assert.Contains(t, upstream.Message, "invalid api key")
	assert.Equal(t, int32(1), hits.Load())
}

func TestClient_Complete_UnreachableExhaustsAttempts(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		hj, ok := w.(http.Hijacker)
		require.True(t, ok)
		conn, _, err := hj.Hijack()
		require.NoError(t, err)
		_ = conn.Close()
	}))
	defer server.Close()

	_, err := NewClient(testConfig(server.URL)).Complete(context.Background(), Prompt{User: "u"})

	assert.ErrorIs(t, err, ErrUnavailable)
	assert.GreaterOrEqual(t, hits.Load(), int32(3))
}

func TestClient_Complete_TimeoutIsRetried(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Timeout = 20 * time.Millisecond
	cfg.MaxAttempts = 2

	_, err := NewClient(cfg).Complete(context.Background(), Prompt{User: "u"})

	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(2), hits.Load())
}
