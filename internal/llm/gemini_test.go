package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/temirov/repolens/internal/llm"
	"github.com/temirov/repolens/internal/retry"
)

const (
	testAPIKey = "test-key"
	testModel  = "test-model"
	testPrompt = "Summarize the repository."
)

type capturedRequest struct {
	Contents []struct {
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"contents"`
}

func newTestClient(testingInstance *testing.T, server *httptest.Server) *llm.GeminiClient {
	testingInstance.Helper()
	client, clientError := llm.NewGeminiClient(llm.Config{
		APIKey:            testAPIKey,
		Model:             testModel,
		BaseURL:           server.URL,
		RequestsPerMinute: 6000,
		Burst:             10,
		Retry:             retry.Config{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond},
	}, server.Client(), nil)
	require.NoError(testingInstance, clientError)
	return client
}

func writeCandidate(responseWriter http.ResponseWriter, text string) {
	responseWriter.Header().Set("Content-Type", "application/json")
	_, _ = responseWriter.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":` + mustQuote(text) + `}]}}]}`))
}

func mustQuote(text string) string {
	encoded, _ := json.Marshal(text)
	return string(encoded)
}

func TestGenerateSendsPromptAndReturnsText(testingInstance *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
		require.Equal(testingInstance, http.MethodPost, request.Method)
		require.Equal(testingInstance, "/models/"+testModel+":generateContent", request.URL.Path)
		require.Equal(testingInstance, testAPIKey, request.URL.Query().Get("key"))
		var captured capturedRequest
		require.NoError(testingInstance, json.NewDecoder(request.Body).Decode(&captured))
		require.Len(testingInstance, captured.Contents, 1)
		require.Equal(testingInstance, testPrompt, captured.Contents[0].Parts[0].Text)
		writeCandidate(responseWriter, "A small service.")
	}))
	defer server.Close()

	generated, generateError := newTestClient(testingInstance, server).Generate(context.Background(), testPrompt)
	require.NoError(testingInstance, generateError)
	require.Equal(testingInstance, "A small service.", generated)
}

func TestGenerateRetriesTransientStatuses(testingInstance *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
		switch attempts.Add(1) {
		case 1:
			http.Error(responseWriter, "quota", http.StatusTooManyRequests)
		case 2:
			http.Error(responseWriter, "unavailable", http.StatusServiceUnavailable)
		default:
			writeCandidate(responseWriter, "recovered")
		}
	}))
	defer server.Close()

	generated, generateError := newTestClient(testingInstance, server).Generate(context.Background(), testPrompt)
	require.NoError(testingInstance, generateError)
	require.Equal(testingInstance, "recovered", generated)
	require.Equal(testingInstance, int32(3), attempts.Load())
}

func TestGenerateDoesNotRetryClientErrors(testingInstance *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
		attempts.Add(1)
		http.Error(responseWriter, "bad prompt", http.StatusBadRequest)
	}))
	defer server.Close()

	_, generateError := newTestClient(testingInstance, server).Generate(context.Background(), testPrompt)
	var statusError *llm.StatusError
	require.True(testingInstance, errors.As(generateError, &statusError))
	require.Equal(testingInstance, http.StatusBadRequest, statusError.StatusCode)
	require.Equal(testingInstance, int32(1), attempts.Load())
}

func TestGenerateGivesUpAfterRetryBudget(testingInstance *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
		attempts.Add(1)
		http.Error(responseWriter, "down", http.StatusInternalServerError)
	}))
	defer server.Close()

	_, generateError := newTestClient(testingInstance, server).Generate(context.Background(), testPrompt)
	require.Error(testingInstance, generateError)
	require.Equal(testingInstance, int32(3), attempts.Load())
}

func TestGenerateRejectsEmptyCandidates(testingInstance *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
		_, _ = responseWriter.Write([]byte(`{"candidates":[]}`))
	}))
	defer server.Close()

	_, generateError := newTestClient(testingInstance, server).Generate(context.Background(), testPrompt)
	require.ErrorIs(testingInstance, generateError, llm.ErrEmptyResponse)
}

func TestNewGeminiClientRequiresKey(testingInstance *testing.T) {
	_, clientError := llm.NewGeminiClient(llm.Config{APIKey: "  "}, nil, nil)
	require.ErrorIs(testingInstance, clientError, llm.ErrMissingAPIKey)
}

func TestConfigApplyDefaults(testingInstance *testing.T) {
	config := llm.Config{BaseURL: "https://example.com/v1/"}.ApplyDefaults()
	require.Equal(testingInstance, llm.DefaultModel, config.Model)
	require.Equal(testingInstance, "https://example.com/v1", config.BaseURL)
	require.Equal(testingInstance, llm.DefaultRequestTimeout, config.RequestTimeout)
	require.Equal(testingInstance, llm.DefaultRequestsPerMinute, config.RequestsPerMinute)
	require.Equal(testingInstance, llm.DefaultBurst, config.Burst)
	require.Equal(testingInstance, retry.DefaultConfig().MaxRetries, config.Retry.MaxRetries)
}
