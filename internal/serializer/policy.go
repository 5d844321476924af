package serializer

import (
	"path/filepath"
	"strings"

	"github.com/temirov/repolens/internal/utils"
)

const (
	// DefaultMaxFileBytes is the per-file content limit applied when a policy sets none.
	DefaultMaxFileBytes = 20000
	// DefaultMaxTotalBytes is the total content limit applied when a policy sets none.
	DefaultMaxTotalBytes = 1 << 20

	extensionPrefix = "."
)

// DefaultExcludedDirectoryNames lists directory basenames skipped at every depth.
var DefaultExcludedDirectoryNames = []string{
	".git", "node_modules", "dist", "build", "__pycache__", "venv", ".venv", ".idea", ".vscode",
	".next", "target", "vendor", "coverage", ".cache", ".mypy_cache", ".pytest_cache",
}

// DefaultIncludedExtensions lists the source and documentation extensions read by default.
var DefaultIncludedExtensions = []string{
	".py", ".js", ".jsx", ".ts", ".tsx", ".mjs", ".cjs", ".go", ".rs", ".java", ".kt", ".kts", ".scala",
	".c", ".h", ".cc", ".cpp", ".hpp", ".cs", ".rb", ".php", ".swift", ".m", ".sh", ".bash", ".ps1",
	".sql", ".html", ".css", ".scss", ".vue", ".svelte", ".md", ".rst", ".txt", ".json", ".yaml",
	".yml", ".toml", ".ini", ".cfg", ".xml", ".gradle", ".proto", ".graphql", ".tf", ".lua", ".r",
	".dart", ".ex", ".exs", ".erl", ".hs", ".clj", ".env.example",
}

// DefaultIncludedFileNames lists basenames included regardless of extension.
var DefaultIncludedFileNames = []string{
	"Dockerfile", "Makefile", "LICENSE", "Procfile", "Gemfile", "Rakefile", "Jenkinsfile", "Vagrantfile",
}

// Policy decides which entries of a working copy are serialized and how much of them.
type Policy struct {
	// ExcludedDirectoryNames are exact basenames skipped at every depth.
	ExcludedDirectoryNames []string `mapstructure:"excluded_directories"`
	// IncludedExtensions are extensions, with or without the leading dot, matched case-insensitively.
	IncludedExtensions []string `mapstructure:"included_extensions"`
	// IncludedFileNames are exact basenames included regardless of extension.
	IncludedFileNames []string `mapstructure:"included_file_names"`
	// MaxFileBytes truncates longer file contents.
	MaxFileBytes int `mapstructure:"max_file_bytes"`
	// MaxTotalBytes stops further records once the next one would exceed it.
	MaxTotalBytes int `mapstructure:"max_total_bytes"`
	// IgnorePatterns are gitignore-style patterns relative to the working copy root.
	IgnorePatterns []string `mapstructure:"ignore_patterns"`
	// UseGitignore loads .gitignore and .ignore files found in the working copy.
	UseGitignore bool `mapstructure:"use_gitignore"`
}

// DefaultPolicy returns the built-in serialization policy.
func DefaultPolicy() Policy {
	return Policy{
		ExcludedDirectoryNames: append([]string(nil), DefaultExcludedDirectoryNames...),
		IncludedExtensions:     append([]string(nil), DefaultIncludedExtensions...),
		IncludedFileNames:      append([]string(nil), DefaultIncludedFileNames...),
		MaxFileBytes:           DefaultMaxFileBytes,
		MaxTotalBytes:          DefaultMaxTotalBytes,
	}
}

// compiledPolicy is a Policy with lookup sets built once per serialization.
type compiledPolicy struct {
	excludedDirectories map[string]struct{}
	includedExtensions  map[string]struct{}
	includedFileNames   map[string]struct{}
	maxFileBytes        int
	maxTotalBytes       int
	ignorePatterns      []string
}

func (policy Policy) compile() compiledPolicy {
	compiled := compiledPolicy{
		excludedDirectories: toSet(policy.ExcludedDirectoryNames, identity),
		includedExtensions:  toSet(policy.IncludedExtensions, normalizeExtension),
		includedFileNames:   toSet(policy.IncludedFileNames, identity),
		maxFileBytes:        policy.MaxFileBytes,
		maxTotalBytes:       policy.MaxTotalBytes,
		ignorePatterns:      utils.DeduplicatePatterns(policy.IgnorePatterns),
	}
	if compiled.maxFileBytes <= 0 {
		compiled.maxFileBytes = DefaultMaxFileBytes
	}
	if compiled.maxTotalBytes <= 0 {
		compiled.maxTotalBytes = DefaultMaxTotalBytes
	}
	return compiled
}

func (compiled compiledPolicy) excludesDirectory(name string) bool {
	_, excluded := compiled.excludedDirectories[name]
	return excluded
}

// includesFile reports whether a file name passes the extension or explicit-name allow list.
// Compound extensions such as ".env.example" are matched against every dotted suffix.
func (compiled compiledPolicy) includesFile(name string) bool {
	if _, named := compiled.includedFileNames[name]; named {
		return true
	}
	lowerName := strings.ToLower(name)
	if _, matched := compiled.includedExtensions[filepath.Ext(lowerName)]; matched {
		return true
	}
	for index := 1; index < len(lowerName); index++ {
		if lowerName[index] != '.' {
			continue
		}
		if _, matched := compiled.includedExtensions[lowerName[index:]]; matched {
			return true
		}
	}
	return false
}

func (compiled compiledPolicy) ignores(relativePath string) bool {
	return utils.ShouldIgnoreByPath(relativePath, compiled.ignorePatterns)
}

func normalizeExtension(extension string) string {
	trimmed := strings.ToLower(strings.TrimSpace(extension))
	if trimmed == utils.EmptyString {
		return trimmed
	}
	if !strings.HasPrefix(trimmed, extensionPrefix) {
		trimmed = extensionPrefix + trimmed
	}
	return trimmed
}

func identity(value string) string {
	return value
}

func toSet(values []string, normalize func(string) string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		normalized := normalize(value)
		if normalized == utils.EmptyString {
			continue
		}
		set[normalized] = struct{}{}
	}
	return set
}
