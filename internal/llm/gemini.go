// Package llm talks to the hosted text-generation model.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/temirov/repolens/internal/retry"
	"github.com/temirov/repolens/internal/utils"
)

const (
	DefaultBaseURL           = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel             = "gemini-1.5-flash"
	DefaultRequestTimeout    = 60 * time.Second
	DefaultRequestsPerMinute = 60
	DefaultBurst             = 5

	generateContentPathFormat = "%s/models/%s:generateContent?key=%s"
	contentTypeHeader         = "Content-Type"
	jsonContentType           = "application/json"
	userRole                  = "user"
	maximumErrorBodyBytes     = 4096
	secondsPerMinute          = 60
	redactedPlaceholder       = "REDACTED"

	rateLimiterErrorFormat  = "rate limiter: %w"
	encodeRequestFormat     = "encode generate request: %w"
	buildRequestFormat      = "build generate request: %w"
	transportErrorFormat    = "generate request failed: %w"
	readResponseErrorFormat = "read generate response: %w"
	decodeResponseFormat    = "decode generate response: %w"
	statusErrorFormat       = "model returned status %d: %s"
	retryingMessage         = "retrying model request"
)

var (
	// ErrMissingAPIKey is returned when the client has no credential.
	ErrMissingAPIKey = errors.New("model API key is not configured")
	// ErrEmptyResponse is returned when the model produced no text.
	ErrEmptyResponse = errors.New("model returned no text")
)

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Config describes the hosted model and its limits.
type Config struct {
	APIKey            string        `mapstructure:"api_key"`
	Model             string        `mapstructure:"model"`
	BaseURL           string        `mapstructure:"base_url"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	Burst             int           `mapstructure:"burst"`
	Retry             retry.Config  `mapstructure:"retry"`
}

// ApplyDefaults fills unset fields.
func (config Config) ApplyDefaults() Config {
	if config.Model == utils.EmptyString {
		config.Model = DefaultModel
	}
	if config.BaseURL == utils.EmptyString {
		config.BaseURL = DefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultRequestTimeout
	}
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if config.Burst <= 0 {
		config.Burst = DefaultBurst
	}
	config.Retry = config.Retry.ApplyDefaults()
	return config
}

// StatusError is a non-success HTTP response from the model endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (statusError *StatusError) Error() string {
	return fmt.Sprintf(statusErrorFormat, statusError.StatusCode, statusError.Body)
}

// Retryable reports whether the response is worth repeating.
func (statusError *StatusError) Retryable() bool {
	return statusError.StatusCode == http.StatusTooManyRequests || statusError.StatusCode >= http.StatusInternalServerError
}

// GeminiClient calls the generateContent REST endpoint.
type GeminiClient struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewGeminiClient validates the configuration and builds a client.
func NewGeminiClient(config Config, httpClient *http.Client, logger *zap.Logger) (*GeminiClient, error) {
	if strings.TrimSpace(config.APIKey) == utils.EmptyString {
		return nil, ErrMissingAPIKey
	}
	config = config.ApplyDefaults()
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Limit(float64(config.RequestsPerMinute) / secondsPerMinute)
	return &GeminiClient{
		config:     config,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, config.Burst),
		logger:     logger,
	}, nil
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// Generate sends one prompt and returns the concatenated text of the first candidate.
// Rate-limit and server errors are retried with exponential backoff.
func (client *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	payload, encodeError := json.Marshal(generateRequest{Contents: []content{{Role: userRole, Parts: []part{{Text: prompt}}}}})
	if encodeError != nil {
		return utils.EmptyString, fmt.Errorf(encodeRequestFormat, encodeError)
	}

	var generated string
	operation := func() error {
		if waitError := client.limiter.Wait(ctx); waitError != nil {
			return retry.Permanent(fmt.Errorf(rateLimiterErrorFormat, waitError))
		}
		text, requestError := client.doRequest(ctx, payload)
		if requestError != nil {
			var statusError *StatusError
			if errors.As(requestError, &statusError) && !statusError.Retryable() {
				return retry.Permanent(requestError)
			}
			if errors.Is(requestError, ErrEmptyResponse) || ctx.Err() != nil {
				return retry.Permanent(requestError)
			}
			return requestError
		}
		generated = text
		return nil
	}
	notify := func(retryError error, delay time.Duration) {
		client.logger.Warn(retryingMessage, zap.Error(retryError), zap.Duration("delay", delay))
	}
	if retryError := retry.Do(ctx, client.config.Retry, operation, notify); retryError != nil {
		return utils.EmptyString, retryError
	}
	return generated, nil
}

func (client *GeminiClient) doRequest(ctx context.Context, payload []byte) (string, error) {
	requestContext, cancel := context.WithTimeout(ctx, client.config.RequestTimeout)
	defer cancel()

	endpoint := fmt.Sprintf(generateContentPathFormat, client.config.BaseURL, url.PathEscape(client.config.Model), url.QueryEscape(client.config.APIKey))
	request, requestError := http.NewRequestWithContext(requestContext, http.MethodPost, endpoint, bytes.NewReader(payload))
	if requestError != nil {
		return utils.EmptyString, fmt.Errorf(buildRequestFormat, requestError)
	}
	request.Header.Set(contentTypeHeader, jsonContentType)

	response, transportError := client.httpClient.Do(request)
	if transportError != nil {
		return utils.EmptyString, fmt.Errorf(transportErrorFormat, redactKey(transportError, client.config.APIKey))
	}
	defer response.Body.Close()

	body, readError := io.ReadAll(response.Body)
	if readError != nil {
		return utils.EmptyString, fmt.Errorf(readResponseErrorFormat, readError)
	}
	if response.StatusCode != http.StatusOK {
		if len(body) > maximumErrorBodyBytes {
			body = body[:maximumErrorBodyBytes]
		}
		return utils.EmptyString, &StatusError{StatusCode: response.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var decoded generateResponse
	if decodeError := json.Unmarshal(body, &decoded); decodeError != nil {
		return utils.EmptyString, fmt.Errorf(decodeResponseFormat, decodeError)
	}
	if len(decoded.Candidates) == 0 {
		return utils.EmptyString, ErrEmptyResponse
	}
	var builder strings.Builder
	for _, candidatePart := range decoded.Candidates[0].Content.Parts {
		builder.WriteString(candidatePart.Text)
	}
	if builder.Len() == 0 {
		return utils.EmptyString, ErrEmptyResponse
	}
	return builder.String(), nil
}

// redactKey keeps the API key out of transport errors, which embed the request URL.
func redactKey(transportError error, apiKey string) error {
	if apiKey == utils.EmptyString {
		return transportError
	}
	message := transportError.Error()
	redacted := strings.NewReplacer(url.QueryEscape(apiKey), redactedPlaceholder, apiKey, redactedPlaceholder).Replace(message)
	if redacted == message {
		return transportError
	}
	return errors.New(redacted)
}
