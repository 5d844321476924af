package utils

// EmptyString represents a reusable empty string constant.
const EmptyString = ""

// Application-wide configuration file locations.
const (
	// ConfigFileName is the configuration file searched for in the working directory.
	ConfigFileName = "repolens.yaml"
	// GlobalConfigDirectoryName is the directory under the user's home holding the global configuration.
	GlobalConfigDirectoryName = ".repolens"
	// EnvironmentPrefix prefixes every environment variable override.
	EnvironmentPrefix = "REPOLENS"
)

// Logger and process lifecycle messages.
const (
	LoggerInitializationFailedMessageFormat = "failed to initialize logger: %v"
	ApplicationExecutionFailedMessage       = "application execution failed"
)
