// Package tokenizer estimates token counts of ingested content.
package tokenizer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/temirov/repolens/internal/types"
)

const (
	defaultModel        = "gpt-4o"
	defaultEncodingName = "cl100k_base"

	fallbackEncodingErrorFormat = "initialize fallback tokenizer: %w"
)

// ErrNilCounter is returned when counting without a Counter.
var ErrNilCounter = errors.New("tokenizer counter is nil")

// openAIModelPrefixes select models whose own tiktoken encoding is used.
var openAIModelPrefixes = []string{"gpt-", "o1", "o3", "text-embedding", "davinci", "curie", "babbage", "ada", "code-"}

// Counter estimates token counts for text content.
type Counter interface {
	Name() string
	CountString(input string) (int, error)
}

// Config captures tokenizer selection parameters.
type Config struct {
	Model string `mapstructure:"model"`
}

// CountResult is the token count of an ingested context.
type CountResult struct {
	Tokens int
	// Files is the number of records the count covered.
	Files int
}

type tiktokenCounter struct {
	encoding *tiktoken.Tiktoken
	name     string
}

func (counter tiktokenCounter) Name() string {
	return counter.name
}

func (counter tiktokenCounter) CountString(input string) (int, error) {
	return len(counter.encoding.Encode(input, nil, nil)), nil
}

// NewCounter returns a Counter for the requested model together with the effective model name.
// OpenAI models use their own encoding; every other model, Gemini included, is approximated with cl100k_base.
func NewCounter(cfg Config) (Counter, string, error) {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	lowerModel := strings.ToLower(model)
	if hasOpenAIPrefix(lowerModel) {
		if encoding, encodingError := tiktoken.EncodingForModel(lowerModel); encodingError == nil && encoding != nil {
			return tiktokenCounter{encoding: encoding, name: lowerModel}, model, nil
		}
	}
	fallback, fallbackError := tiktoken.GetEncoding(defaultEncodingName)
	if fallbackError != nil {
		return nil, "", fmt.Errorf(fallbackEncodingErrorFormat, fallbackError)
	}
	return tiktokenCounter{encoding: fallback, name: defaultEncodingName}, defaultEncodingName, nil
}

// CountContext counts the tokens of the rendered context text, i.e. what a model receives.
func CountContext(counter Counter, ingested types.IngestedContext) (CountResult, error) {
	if counter == nil {
		return CountResult{}, ErrNilCounter
	}
	tokens, countError := counter.CountString(ingested.Text())
	if countError != nil {
		return CountResult{}, countError
	}
	return CountResult{Tokens: tokens, Files: ingested.FileCount()}, nil
}

func hasOpenAIPrefix(model string) bool {
	for _, prefix := range openAIModelPrefixes {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}
