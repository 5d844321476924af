package tokenizer

import (
	"errors"
	"testing"

	"github.com/temirov/repolens/internal/types"
)

type runeCounter struct{}

func (runeCounter) Name() string { return "runes" }

func (runeCounter) CountString(input string) (int, error) { return len([]rune(input)), nil }

type failingCounter struct{}

func (failingCounter) Name() string { return "failing" }

func (failingCounter) CountString(string) (int, error) { return 0, errors.New("encoder unavailable") }

func TestNewCounterSelectsEncoding(t *testing.T) {
	testCases := []struct {
		name          string
		model         string
		expectedModel string
		expectedName  string
	}{
		{name: "openai_model", model: "gpt-4o", expectedModel: "gpt-4o", expectedName: "gpt-4o"},
		{name: "default_model", model: "  ", expectedModel: "gpt-4o", expectedName: "gpt-4o"},
		{name: "gemini_falls_back", model: "gemini-1.5-flash", expectedModel: "cl100k_base", expectedName: "cl100k_base"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			counter, model, err := NewCounter(Config{Model: testCase.model})
			if err != nil {
				t.Fatalf("NewCounter error: %v", err)
			}
			if model != testCase.expectedModel || counter.Name() != testCase.expectedName {
				t.Fatalf("expected %s/%s, got %s/%s", testCase.expectedModel, testCase.expectedName, model, counter.Name())
			}
			tokens, countErr := counter.CountString("hello world")
			if countErr != nil {
				t.Fatalf("CountString error: %v", countErr)
			}
			if tokens <= 0 {
				t.Fatalf("expected positive token count, got %d", tokens)
			}
		})
	}
}

func TestCountContextUsesRenderedText(t *testing.T) {
	ingested := types.IngestedContext{Files: []types.FileRecord{
		{Path: "a.py", Content: "print()"},
		{Path: "b.py", Content: "pass"},
	}}
	result, err := CountContext(runeCounter{}, ingested)
	if err != nil {
		t.Fatalf("CountContext error: %v", err)
	}
	if result.Tokens != len([]rune(ingested.Text())) {
		t.Fatalf("expected %d tokens, got %d", len([]rune(ingested.Text())), result.Tokens)
	}
	if result.Files != 2 {
		t.Fatalf("expected 2 files, got %d", result.Files)
	}
}

func TestCountContextErrors(t *testing.T) {
	if _, err := CountContext(nil, types.IngestedContext{}); !errors.Is(err, ErrNilCounter) {
		t.Fatalf("expected ErrNilCounter, got %v", err)
	}
	if _, err := CountContext(failingCounter{}, types.IngestedContext{}); err == nil {
		t.Fatalf("expected the counter error to surface")
	}
}
