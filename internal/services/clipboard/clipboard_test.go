package clipboard

import (
	"errors"
	"testing"
)

func TestCopyWritesText(testingInstance *testing.T) {
	var written string
	service := &Service{write: func(text string) error {
		written = text
		return nil
	}}
	if copyError := service.Copy("context"); copyError != nil {
		testingInstance.Fatalf("unexpected error: %v", copyError)
	}
	if written != "context" {
		testingInstance.Fatalf("expected the text to reach the clipboard, got %q", written)
	}
}

func TestCopyReportsUnsupportedHost(testingInstance *testing.T) {
	service := &Service{
		write: func(string) error {
			testingInstance.Fatalf("write must not be attempted without a clipboard utility")
			return nil
		},
		unsupported: true,
	}
	if copyError := service.Copy("context"); !errors.Is(copyError, ErrUnsupported) {
		testingInstance.Fatalf("expected ErrUnsupported, got %v", copyError)
	}
}
