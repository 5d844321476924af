// Package config loads the application configuration from defaults, YAML files and the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/temirov/repolens/internal/llm"
	"github.com/temirov/repolens/internal/retry"
	"github.com/temirov/repolens/internal/serializer"
	"github.com/temirov/repolens/internal/server"
	"github.com/temirov/repolens/internal/services/analysis"
	"github.com/temirov/repolens/internal/tokenizer"
	"github.com/temirov/repolens/internal/utils"
)

const (
	configurationType        = "yaml"
	workspaceDirectoryName   = "repolens"
	workspaceSlotsName       = "workspaces"
	cacheFileName            = "cache.db"
	geminiAPIKeyVariableName = "GEMINI_API_KEY"
	llmAPIKeyKey             = "llm.api_key"
)

// LoadOptions controls how application configuration is discovered.
type LoadOptions struct {
	WorkingDirectory string
	ExplicitFilePath string
}

// ApplicationConfiguration holds every runtime setting.
type ApplicationConfiguration struct {
	Server     server.Config           `mapstructure:"server"`
	Workspace  WorkspaceConfiguration  `mapstructure:"workspace"`
	Repository RepositoryConfiguration `mapstructure:"repository"`
	Policy     serializer.Policy       `mapstructure:"policy"`
	Cache      CacheConfiguration      `mapstructure:"cache"`
	LLM        LLMConfiguration        `mapstructure:"llm"`
	Security   SecurityConfiguration   `mapstructure:"security"`
	Tokens     tokenizer.Config        `mapstructure:"tokens"`
	Logging    LoggingConfiguration    `mapstructure:"logging"`
}

// WorkspaceConfiguration locates workspace slots and bounds session lifetime.
type WorkspaceConfiguration struct {
	Root               string        `mapstructure:"root"`
	SessionIdleTimeout time.Duration `mapstructure:"session_idle_timeout"`
	ReclaimRetry       retry.Config  `mapstructure:"reclaim_retry"`
}

// RepositoryConfiguration controls clones and revision probes.
type RepositoryConfiguration struct {
	FetchTimeout      time.Duration `mapstructure:"fetch_timeout"`
	ProbeTimeout      time.Duration `mapstructure:"probe_timeout"`
	Depth             int           `mapstructure:"depth"`
	Username          string        `mapstructure:"username"`
	Token             string        `mapstructure:"token"`
	AllowFileProtocol bool          `mapstructure:"allow_file_protocol"`
}

// CacheConfiguration locates the durable result cache.
type CacheConfiguration struct {
	Enabled     bool          `mapstructure:"enabled"`
	Path        string        `mapstructure:"path"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

// LLMConfiguration configures the text generator and the context sent to it.
type LLMConfiguration struct {
	llm.Config    `mapstructure:",squash"`
	ContextLimits analysis.Limits `mapstructure:"context_limits"`
}

// SecurityConfiguration selects the static scanners.
type SecurityConfiguration struct {
	Bandit           bool   `mapstructure:"bandit"`
	BanditExecutable string `mapstructure:"bandit_executable"`
	Safety           bool   `mapstructure:"safety"`
	SafetyExecutable string `mapstructure:"safety_executable"`
	Secrets          bool   `mapstructure:"secrets"`
}

// LoggingConfiguration selects the zap level and encoding.
type LoggingConfiguration struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

// DefaultWorkspaceRoot is the slot directory used when none is configured.
func DefaultWorkspaceRoot() string {
	return filepath.Join(os.TempDir(), workspaceDirectoryName, workspaceSlotsName)
}

var userCacheDirectory = os.UserCacheDir

// DefaultCachePath is the cache database used when none is configured. It lives under the
// user cache directory and falls back to the temporary directory when that is unknown.
func DefaultCachePath() string {
	baseDirectory, lookupError := userCacheDirectory()
	if lookupError != nil || baseDirectory == utils.EmptyString {
		baseDirectory = os.TempDir()
	}
	return filepath.Join(baseDirectory, workspaceDirectoryName, cacheFileName)
}

func applyDefaults(reader *viper.Viper) {
	policy := serializer.DefaultPolicy()
	retryDefaults := retry.DefaultConfig()
	llmDefaults := llm.Config{}.ApplyDefaults()
	limits := analysis.Limits{}.ApplyDefaults()

	reader.SetDefault("server.address", "127.0.0.1:8000")
	reader.SetDefault("server.shutdown_timeout", 10*time.Second)
	reader.SetDefault("server.allowed_origins", []string{"*"})

	reader.SetDefault("workspace.root", DefaultWorkspaceRoot())
	reader.SetDefault("workspace.session_idle_timeout", 30*time.Minute)
	setRetryDefaults(reader, "workspace.reclaim_retry", retryDefaults)

	reader.SetDefault("repository.fetch_timeout", 5*time.Minute)
	reader.SetDefault("repository.probe_timeout", 5*time.Second)
	reader.SetDefault("repository.depth", 1)
	reader.SetDefault("repository.username", utils.EmptyString)
	reader.SetDefault("repository.token", utils.EmptyString)
	reader.SetDefault("repository.allow_file_protocol", false)

	reader.SetDefault("policy.excluded_directories", policy.ExcludedDirectoryNames)
	reader.SetDefault("policy.included_extensions", policy.IncludedExtensions)
	reader.SetDefault("policy.included_file_names", policy.IncludedFileNames)
	reader.SetDefault("policy.max_file_bytes", policy.MaxFileBytes)
	reader.SetDefault("policy.max_total_bytes", policy.MaxTotalBytes)
	reader.SetDefault("policy.ignore_patterns", []string{})
	reader.SetDefault("policy.use_gitignore", true)

	reader.SetDefault("cache.enabled", true)
	reader.SetDefault("cache.path", DefaultCachePath())
	reader.SetDefault("cache.busy_timeout", 5*time.Second)

	reader.SetDefault(llmAPIKeyKey, utils.EmptyString)
	reader.SetDefault("llm.model", llmDefaults.Model)
	reader.SetDefault("llm.base_url", llmDefaults.BaseURL)
	reader.SetDefault("llm.request_timeout", llmDefaults.RequestTimeout)
	reader.SetDefault("llm.requests_per_minute", llmDefaults.RequestsPerMinute)
	reader.SetDefault("llm.burst", llmDefaults.Burst)
	setRetryDefaults(reader, "llm.retry", retryDefaults)
	reader.SetDefault("llm.context_limits.overview_chars", limits.OverviewChars)
	reader.SetDefault("llm.context_limits.security_chars", limits.SecurityChars)
	reader.SetDefault("llm.context_limits.chat_chars", limits.ChatChars)
	reader.SetDefault("llm.context_limits.generate_chars", limits.GenerateChars)

	reader.SetDefault("security.bandit", true)
	reader.SetDefault("security.bandit_executable", "bandit")
	reader.SetDefault("security.safety", true)
	reader.SetDefault("security.safety_executable", "safety")
	reader.SetDefault("security.secrets", true)

	reader.SetDefault("tokens.model", "gpt-4o")

	reader.SetDefault("logging.level", "info")
	reader.SetDefault("logging.encoding", utils.LogEncodingConsole)
}

func setRetryDefaults(reader *viper.Viper, prefix string, defaults retry.Config) {
	reader.SetDefault(prefix+".max_retries", defaults.MaxRetries)
	reader.SetDefault(prefix+".initial_backoff", defaults.InitialBackoff)
	reader.SetDefault(prefix+".max_backoff", defaults.MaxBackoff)
	reader.SetDefault(prefix+".backoff_multiplier", defaults.BackoffMultiplier)
}

// LoadApplicationConfiguration layers built-in defaults, the global file, the local
// (or explicit) file and REPOLENS_* environment variables, in that order.
func LoadApplicationConfiguration(options LoadOptions) (ApplicationConfiguration, error) {
	workingDirectory := options.WorkingDirectory
	if workingDirectory == "" {
		currentDirectory, err := os.Getwd()
		if err != nil {
			return ApplicationConfiguration{}, fmt.Errorf("determine working directory: %w", err)
		}
		workingDirectory = currentDirectory
	}

	reader := viper.New()
	reader.SetConfigType(configurationType)
	applyDefaults(reader)

	if homeDirectory, err := os.UserHomeDir(); err == nil && homeDirectory != "" {
		globalPath := filepath.Join(homeDirectory, utils.GlobalConfigDirectoryName, utils.ConfigFileName)
		if mergeErr := mergeConfigurationFromPath(reader, globalPath, false); mergeErr != nil {
			return ApplicationConfiguration{}, mergeErr
		}
	}

	localPath, resolveErr := resolveLocalConfigPath(workingDirectory, options.ExplicitFilePath)
	if resolveErr != nil {
		return ApplicationConfiguration{}, resolveErr
	}
	if mergeErr := mergeConfigurationFromPath(reader, localPath, options.ExplicitFilePath != ""); mergeErr != nil {
		return ApplicationConfiguration{}, mergeErr
	}

	reader.SetEnvPrefix(utils.EnvironmentPrefix)
	reader.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	reader.AutomaticEnv()
	if bindErr := reader.BindEnv(llmAPIKeyKey, utils.EnvironmentPrefix+"_LLM_API_KEY", geminiAPIKeyVariableName); bindErr != nil {
		return ApplicationConfiguration{}, fmt.Errorf("bind %s: %w", geminiAPIKeyVariableName, bindErr)
	}

	var config ApplicationConfiguration
	if decodeErr := reader.Unmarshal(&config); decodeErr != nil {
		return ApplicationConfiguration{}, fmt.Errorf("decode configuration: %w", decodeErr)
	}
	config.Policy.ExcludedDirectoryNames = utils.DeduplicatePatterns(config.Policy.ExcludedDirectoryNames)
	config.Policy.IgnorePatterns = utils.DeduplicatePatterns(config.Policy.IgnorePatterns)
	return config, nil
}

func resolveLocalConfigPath(workingDirectory, explicitPath string) (string, error) {
	if explicitPath != "" {
		if filepath.IsAbs(explicitPath) {
			return explicitPath, nil
		}
		if workingDirectory == "" {
			absolute, err := filepath.Abs(explicitPath)
			if err != nil {
				return "", fmt.Errorf("resolve configuration path %s: %w", explicitPath, err)
			}
			return absolute, nil
		}
		return filepath.Join(workingDirectory, explicitPath), nil
	}
	if workingDirectory == "" {
		return "", nil
	}
	return filepath.Join(workingDirectory, utils.ConfigFileName), nil
}

// mergeConfigurationFromPath overlays the YAML file at path. A missing file is skipped
// unless required is set.
//
// #nosec G304
func mergeConfigurationFromPath(reader *viper.Viper, path string, required bool) error {
	if path == "" {
		return nil
	}
	info, statErr := os.Stat(path)
	if statErr != nil {
		if os.IsNotExist(statErr) && !required {
			return nil
		}
		return fmt.Errorf("stat configuration %s: %w", path, statErr)
	}
	if info.IsDir() {
		return fmt.Errorf("configuration path %s is a directory", path)
	}
	fileHandle, openErr := os.Open(path)
	if openErr != nil {
		return fmt.Errorf("open configuration %s: %w", path, openErr)
	}
	defer fileHandle.Close()
	if mergeErr := reader.MergeConfig(fileHandle); mergeErr != nil {
		return fmt.Errorf("read configuration from %s: %w", path, mergeErr)
	}
	return nil
}
