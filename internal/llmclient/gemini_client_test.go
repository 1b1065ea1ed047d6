package llmclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/converge-cli/api/schemas"
	"github.com/xkilldash9x/converge-cli/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *GeminiClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewGeminiClient(config.LLMModelConfig{
		Model:      "gemini-test",
		APIKey:     "test-key",
		Endpoint:   server.URL,
		APITimeout: 10 * time.Second,
		MaxTokens:  1024,
	}, zap.NewNop())
	require.NoError(t, err)
	return client
}

func successBody(text string) string {
	return `{"candidates":[{"content":{"parts":[{"text":` + jsonString(text) + `}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":10,"candidatesTokenCount":5,"totalTokenCount":15}}`
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestNewGeminiClientRequiresAPIKey(t *testing.T) {
	_, err := NewGeminiClient(config.LLMModelConfig{Model: "m"}, zap.NewNop())
	require.Error(t, err)
}

func TestGenerateReturnsText(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		io.WriteString(w, successBody("hello from the model"))
	})

	got, err := client.Generate(context.Background(), schemas.GenerationRequest{
		SystemPrompt: "be terse",
		UserPrompt:   "say hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello from the model", got)
}

func TestGenerateEncodesInlineImages(t *testing.T) {
	var captured geminiRequestPayload
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))
		io.WriteString(w, successBody("ok"))
	})

	_, err := client.Generate(context.Background(), schemas.GenerationRequest{
		UserPrompt: "compare these",
		Images: []schemas.ImagePart{
			{Data: []byte{0x89, 0x50, 0x4e, 0x47}},
			{MIMEType: "image/jpeg", Data: []byte{0xff, 0xd8}},
		},
	})
	require.NoError(t, err)

	require.Len(t, captured.Contents, 1)
	parts := captured.Contents[0].Parts
	require.Len(t, parts, 3)
	assert.Equal(t, "compare these", parts[0].Text)
	require.NotNil(t, parts[1].InlineData)
	assert.Equal(t, "image/png", parts[1].InlineData.MIMEType)
	assert.NotEmpty(t, parts[1].InlineData.Data)
	require.NotNil(t, parts[2].InlineData)
	assert.Equal(t, "image/jpeg", parts[2].InlineData.MIMEType)
}

func TestGenerateForceJSONSetsMimeType(t *testing.T) {
	var captured geminiRequestPayload
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))
		io.WriteString(w, successBody(`{"ok":true}`))
	})

	_, err := client.Generate(context.Background(), schemas.GenerationRequest{
		UserPrompt: "respond in json",
		Options:    schemas.GenerationOptions{ForceJSONFormat: true},
	})
	require.NoError(t, err)
	assert.Equal(t, "application/json", captured.GenerationConfig.ResponseMimeType)
}

func TestGenerateRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, successBody("recovered"))
	})

	got, err := client.Generate(context.Background(), schemas.GenerationRequest{UserPrompt: "retry me"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", got)
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestGenerateDoesNotRetryPermanentErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := client.Generate(context.Background(), schemas.GenerationRequest{UserPrompt: "bad request"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerateSafetyBlockIsPermanent(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		io.WriteString(w, `{"candidates":[{"content":{"parts":[]},"finishReason":"SAFETY"}]}`)
	})

	_, err := client.Generate(context.Background(), schemas.GenerationRequest{UserPrompt: "blocked"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SAFETY")
	assert.Equal(t, int32(1), calls.Load())
}
