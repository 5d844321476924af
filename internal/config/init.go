package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/temirov/repolens/internal/utils"
)

// InitTarget identifies where configuration should be initialized.
type InitTarget string

const (
	// InitTargetLocal writes configuration into the working directory.
	InitTargetLocal InitTarget = "local"
	// InitTargetGlobal writes configuration into the global configuration directory.
	InitTargetGlobal InitTarget = "global"

	defaultConfigurationTemplate = `server:
  address: 127.0.0.1:8000
  shutdown_timeout: 10s
  allowed_origins: ["*"]
workspace:
  # root: /var/tmp/repolens/workspaces
  session_idle_timeout: 30m
  reclaim_retry:
    max_retries: 3
    initial_backoff: 200ms
    max_backoff: 5s
repository:
  fetch_timeout: 5m
  probe_timeout: 5s
  depth: 1
  username: ""
  token: ""
policy:
  max_file_bytes: 20000
  max_total_bytes: 1048576
  ignore_patterns: []
  use_gitignore: true
cache:
  enabled: true
  # path: /var/tmp/repolens/cache.db
  busy_timeout: 5s
llm:
  # api_key is read from GEMINI_API_KEY when unset.
  model: gemini-1.5-flash
  request_timeout: 60s
  requests_per_minute: 60
  burst: 5
  context_limits:
    overview_chars: 100000
    security_chars: 100000
    chat_chars: 50000
    generate_chars: 50000
security:
  bandit: true
  safety: true
  secrets: true
tokens:
  model: gpt-4o
logging:
  level: info
  encoding: console
`
)

// InitOptions controls how configuration initialization behaves.
type InitOptions struct {
	Target           InitTarget
	Force            bool
	WorkingDirectory string
}

// InitializeConfiguration writes the default configuration to the requested target.
func InitializeConfiguration(options InitOptions) (string, error) {
	target := options.Target
	if target == "" {
		target = InitTargetLocal
	}
	var destinationPath string
	switch target {
	case InitTargetLocal:
		workingDirectory := options.WorkingDirectory
		if workingDirectory == "" {
			current, err := os.Getwd()
			if err != nil {
				return "", fmt.Errorf("determine working directory for configuration: %w", err)
			}
			workingDirectory = current
		}
		destinationPath = filepath.Join(workingDirectory, utils.ConfigFileName)
	case InitTargetGlobal:
		homeDirectory, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory for configuration: %w", err)
		}
		configurationDirectory := filepath.Join(homeDirectory, utils.GlobalConfigDirectoryName)
		if err := os.MkdirAll(configurationDirectory, 0o755); err != nil {
			return "", fmt.Errorf("create configuration directory %s: %w", configurationDirectory, err)
		}
		destinationPath = filepath.Join(configurationDirectory, utils.ConfigFileName)
	default:
		return "", fmt.Errorf("unsupported init target %q", target)
	}

	if _, err := os.Stat(destinationPath); err == nil {
		if !options.Force {
			return "", fmt.Errorf("configuration file already exists at %s", destinationPath)
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("inspect configuration path %s: %w", destinationPath, err)
	}

	if err := os.WriteFile(destinationPath, []byte(defaultConfigurationTemplate), 0o600); err != nil {
		return "", fmt.Errorf("write configuration to %s: %w", destinationPath, err)
	}

	return destinationPath, nil
}
