package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/temirov/repolens/internal/serializer"
	"github.com/temirov/repolens/internal/utils"
)

type configTestCase struct {
	name                string
	globalContent       string
	localContent        string
	explicitPath        string
	environment         map[string]string
	expectAddress       string
	expectModel         string
	expectAPIKey        string
	expectMaxFileBytes  int
	expectFetchTimeout  time.Duration
	expectChatChars     int
	expectLogEncoding   string
	expectIgnorePattern []string
}

func writeConfiguration(t *testing.T, path string, content string) {
	t.Helper()
	if content == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("create config directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestLoadApplicationConfigurationMergesSources(t *testing.T) {
	testCases := []configTestCase{
		{
			name:               "defaults_only",
			expectAddress:      "127.0.0.1:8000",
			expectModel:        "gemini-1.5-flash",
			expectMaxFileBytes: serializer.DefaultMaxFileBytes,
			expectFetchTimeout: 5 * time.Minute,
			expectChatChars:    50000,
			expectLogEncoding:  utils.LogEncodingConsole,
		},
		{
			name:                "local_overrides_global",
			globalContent:       "server:\n  address: 0.0.0.0:9000\nllm:\n  model: global-model\nlogging:\n  encoding: json\n",
			localContent:        "llm:\n  model: local-model\n  context_limits:\n    chat_chars: 1000\npolicy:\n  max_file_bytes: 4096\n  ignore_patterns: [\"docs/\", \"docs/\"]\nrepository:\n  fetch_timeout: 90s\n",
			expectAddress:       "0.0.0.0:9000",
			expectModel:         "local-model",
			expectMaxFileBytes:  4096,
			expectFetchTimeout:  90 * time.Second,
			expectChatChars:     1000,
			expectLogEncoding:   utils.LogEncodingJSON,
			expectIgnorePattern: []string{"docs/"},
		},
		{
			name:               "explicit_path_replaces_local",
			localContent:       "llm:\n  model: ignored\n",
			explicitPath:       "custom.yaml",
			expectAddress:      "127.0.0.1:8000",
			expectModel:        "explicit-model",
			expectMaxFileBytes: serializer.DefaultMaxFileBytes,
			expectFetchTimeout: 5 * time.Minute,
			expectChatChars:    50000,
			expectLogEncoding:  utils.LogEncodingConsole,
		},
		{
			name:               "environment_overrides_files",
			localContent:       "server:\n  address: 127.0.0.1:7000\nllm:\n  model: file-model\n",
			environment:        map[string]string{"REPOLENS_SERVER_ADDRESS": ":8080", "GEMINI_API_KEY": "gemini-secret", "REPOLENS_POLICY_MAX_FILE_BYTES": "100"},
			expectAddress:      ":8080",
			expectModel:        "file-model",
			expectAPIKey:       "gemini-secret",
			expectMaxFileBytes: 100,
			expectFetchTimeout: 5 * time.Minute,
			expectChatChars:    50000,
			expectLogEncoding:  utils.LogEncodingConsole,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			homeDirectory := t.TempDir()
			workingDirectory := t.TempDir()
			t.Setenv("HOME", homeDirectory)
			t.Setenv("USERPROFILE", homeDirectory)
			t.Setenv("GEMINI_API_KEY", "")
			for name, value := range testCase.environment {
				t.Setenv(name, value)
			}

			writeConfiguration(t, filepath.Join(homeDirectory, utils.GlobalConfigDirectoryName, utils.ConfigFileName), testCase.globalContent)
			writeConfiguration(t, filepath.Join(workingDirectory, utils.ConfigFileName), testCase.localContent)
			if testCase.explicitPath != "" {
				writeConfiguration(t, filepath.Join(workingDirectory, testCase.explicitPath), "llm:\n  model: explicit-model\n")
			}

			loaded, err := LoadApplicationConfiguration(LoadOptions{WorkingDirectory: workingDirectory, ExplicitFilePath: testCase.explicitPath})
			if err != nil {
				t.Fatalf("LoadApplicationConfiguration error: %v", err)
			}
			if loaded.Server.Address != testCase.expectAddress {
				t.Errorf("address: got %q, want %q", loaded.Server.Address, testCase.expectAddress)
			}
			if loaded.LLM.Model != testCase.expectModel {
				t.Errorf("model: got %q, want %q", loaded.LLM.Model, testCase.expectModel)
			}
			if loaded.LLM.APIKey != testCase.expectAPIKey {
				t.Errorf("api key: got %q, want %q", loaded.LLM.APIKey, testCase.expectAPIKey)
			}
			if loaded.Policy.MaxFileBytes != testCase.expectMaxFileBytes {
				t.Errorf("max file bytes: got %d, want %d", loaded.Policy.MaxFileBytes, testCase.expectMaxFileBytes)
			}
			if loaded.Repository.FetchTimeout != testCase.expectFetchTimeout {
				t.Errorf("fetch timeout: got %s, want %s", loaded.Repository.FetchTimeout, testCase.expectFetchTimeout)
			}
			if loaded.LLM.ContextLimits.ChatChars != testCase.expectChatChars {
				t.Errorf("chat chars: got %d, want %d", loaded.LLM.ContextLimits.ChatChars, testCase.expectChatChars)
			}
			if loaded.Logging.Encoding != testCase.expectLogEncoding {
				t.Errorf("log encoding: got %q, want %q", loaded.Logging.Encoding, testCase.expectLogEncoding)
			}
			if len(loaded.Policy.IgnorePatterns) != len(testCase.expectIgnorePattern) {
				t.Errorf("ignore patterns: got %v, want %v", loaded.Policy.IgnorePatterns, testCase.expectIgnorePattern)
			}
		})
	}
}

func TestLoadApplicationConfigurationDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	loaded, err := LoadApplicationConfiguration(LoadOptions{WorkingDirectory: t.TempDir()})
	if err != nil {
		t.Fatalf("LoadApplicationConfiguration error: %v", err)
	}
	if loaded.Workspace.Root != DefaultWorkspaceRoot() {
		t.Errorf("workspace root: got %q", loaded.Workspace.Root)
	}
	if !loaded.Policy.UseGitignore || !loaded.Cache.Enabled || !loaded.Security.Secrets {
		t.Errorf("expected enabled defaults, got %+v", loaded)
	}
	if len(loaded.Policy.IncludedExtensions) != len(serializer.DefaultIncludedExtensions) {
		t.Errorf("included extensions: got %d entries", len(loaded.Policy.IncludedExtensions))
	}
	if loaded.LLM.Retry.MaxRetries != 3 || loaded.Workspace.ReclaimRetry.InitialBackoff != 200*time.Millisecond {
		t.Errorf("unexpected retry defaults: %+v %+v", loaded.LLM.Retry, loaded.Workspace.ReclaimRetry)
	}
}

func TestDefaultCachePath(t *testing.T) {
	cacheDirectory := t.TempDir()
	testCases := []struct {
		name     string
		lookup   func() (string, error)
		expected string
	}{
		{
			name:     "user_cache_directory",
			lookup:   func() (string, error) { return cacheDirectory, nil },
			expected: filepath.Join(cacheDirectory, "repolens", "cache.db"),
		},
		{
			name:     "temporary_directory_fallback",
			lookup:   func() (string, error) { return "", errors.New("neither $XDG_CACHE_HOME nor $HOME are defined") },
			expected: filepath.Join(os.TempDir(), "repolens", "cache.db"),
		},
	}
	originalLookup := userCacheDirectory
	t.Cleanup(func() { userCacheDirectory = originalLookup })
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			userCacheDirectory = testCase.lookup
			if actual := DefaultCachePath(); actual != testCase.expected {
				t.Fatalf("expected %q, got %q", testCase.expected, actual)
			}
		})
	}
}

func TestLoadApplicationConfigurationErrors(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	workingDirectory := t.TempDir()

	if _, err := LoadApplicationConfiguration(LoadOptions{WorkingDirectory: workingDirectory, ExplicitFilePath: "missing.yaml"}); err == nil {
		t.Fatalf("expected error for a missing explicit configuration file")
	}

	if err := os.Mkdir(filepath.Join(workingDirectory, utils.ConfigFileName), 0o755); err != nil {
		t.Fatalf("create directory: %v", err)
	}
	if _, err := LoadApplicationConfiguration(LoadOptions{WorkingDirectory: workingDirectory}); err == nil {
		t.Fatalf("expected error when the configuration path is a directory")
	}

	malformedDirectory := t.TempDir()
	writeConfiguration(t, filepath.Join(malformedDirectory, utils.ConfigFileName), "server: [unterminated\n")
	if _, err := LoadApplicationConfiguration(LoadOptions{WorkingDirectory: malformedDirectory}); err == nil {
		t.Fatalf("expected error for malformed YAML")
	}
}
