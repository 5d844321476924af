package utils_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/temirov/repolens/internal/utils"
)

// textFileName defines the name of the text file used in tests.
const textFileName = "sample.txt"

// nestedDirectoryName defines the directory used for nested path tests.
const nestedDirectoryName = "subdir"

// nodeModulesDirectoryPattern defines the ignore pattern for the node_modules directory inside nestedDirectoryName.
const nodeModulesDirectoryPattern = nestedDirectoryName + "/node_modules/"

// backslashNodeModulesDirectoryPattern defines the same pattern with backslashes to verify normalization.
const backslashNodeModulesDirectoryPattern = nestedDirectoryName + `\node_modules\`

// nodeModulesDirectoryPath defines the path to the node_modules directory.
const nodeModulesDirectoryPath = nestedDirectoryName + "/node_modules"

// nodeModulesFilePath defines a file inside the node_modules directory.
const nodeModulesFilePath = nestedDirectoryName + "/node_modules/index.js"

// claspFilePattern defines the ignore pattern for a clasp configuration file inside nestedDirectoryName.
const claspFilePattern = nestedDirectoryName + "/.clasp.json"

// nestedFilePath defines the path to the clasp configuration file inside nestedDirectoryName.
const nestedFilePath = nestedDirectoryName + "/.clasp.json"

// unrelatedNodeModulesFilePath defines a node_modules path in an unrelated directory.
const unrelatedNodeModulesFilePath = "other/" + nodeModulesFilePath

// unrelatedNestedFilePath defines the clasp configuration file path in an unrelated directory.
const unrelatedNestedFilePath = "other/" + nestedFilePath

// TestDeduplicatePatterns verifies that DeduplicatePatterns removes duplicate patterns.
func TestDeduplicatePatterns(testingInstance *testing.T) {
	testCases := []struct {
		testName string
		patterns []string
		expected []string
	}{
		{
			testName: "removes duplicates",
			patterns: []string{"a", "b", "a"},
			expected: []string{"a", "b"},
		},
		{
			testName: "keeps unique",
			patterns: []string{"a", "b"},
			expected: []string{"a", "b"},
		},
	}
	for index, testCase := range testCases {
		actual := utils.DeduplicatePatterns(testCase.patterns)
		if len(actual) != len(testCase.expected) {
			testingInstance.Errorf("case %d (%s): expected length %d, got %d", index, testCase.testName, len(testCase.expected), len(actual))
			continue
		}
		for position, value := range actual {
			if value != testCase.expected[position] {
				testingInstance.Errorf("case %d (%s): expected %s at position %d, got %s", index, testCase.testName, testCase.expected[position], position, value)
			}
		}
	}
}

func TestRelativePathOrSelf(testingInstance *testing.T) {
	temporaryRoot := testingInstance.TempDir()
	subPath := filepath.Join(temporaryRoot, textFileName)
	creationError := os.WriteFile(subPath, []byte("content"), 0600)
	if creationError != nil {
		testingInstance.Fatalf("failed to create file: %v", creationError)
	}
	testCases := []struct {
		testName string
		fullPath string
		root     string
		expected string
	}{
		{
			testName: "root path returns dot",
			fullPath: temporaryRoot,
			root:     temporaryRoot,
			expected: ".",
		},
		{
			testName: "sub path returns relative",
			fullPath: subPath,
			root:     temporaryRoot,
			expected: textFileName,
		},
	}
	for index, testCase := range testCases {
		actual := utils.RelativePathOrSelf(testCase.fullPath, testCase.root)
		if actual != testCase.expected {
			testingInstance.Errorf("case %d (%s): expected %s, got %s", index, testCase.testName, testCase.expected, actual)
		}
	}
}

// TestShouldIgnoreByPath verifies path ignoring logic.
func TestShouldIgnoreByPath(testingInstance *testing.T) {
	testCases := []struct {
		testName       string
		relativePath   string
		patterns       []string
		expectedIgnore bool
	}{
		{
			testName:       "ignore files are regular content",
			relativePath:   ".gitignore",
			patterns:       nil,
			expectedIgnore: false,
		},
		{
			testName:       "directory pattern for directory",
			relativePath:   "dir",
			patterns:       []string{"dir/"},
			expectedIgnore: true,
		},
		{
			testName:       "nested directory pattern",
			relativePath:   "dir/file.txt",
			patterns:       []string{"dir/*"},
			expectedIgnore: true,
		},
		{
			testName:       "wildcard file pattern",
			relativePath:   "dir/file.txt",
			patterns:       []string{"*.txt"},
			expectedIgnore: true,
		},
		{
			testName:       "path pattern",
			relativePath:   "dir/file.txt",
			patterns:       []string{"dir/*.txt"},
			expectedIgnore: true,
		},
		{
			testName:       "not ignored",
			relativePath:   "dir/file.txt",
			patterns:       []string{"*.md"},
			expectedIgnore: false,
		},
		{
			testName:       "nested directory with slash",
			relativePath:   nodeModulesFilePath,
			patterns:       []string{nodeModulesDirectoryPattern},
			expectedIgnore: true,
		},
		{
			testName:       "nested directory with backslashes",
			relativePath:   nodeModulesFilePath,
			patterns:       []string{backslashNodeModulesDirectoryPattern},
			expectedIgnore: true,
		},
		{
			testName:       "directory match short circuits",
			relativePath:   nodeModulesDirectoryPath,
			patterns:       []string{nodeModulesDirectoryPattern},
			expectedIgnore: true,
		},
		{
			testName:       "nested file pattern",
			relativePath:   nestedFilePath,
			patterns:       []string{claspFilePattern},
			expectedIgnore: true,
		},
		{
			testName:       "nested file pattern no match",
			relativePath:   unrelatedNestedFilePath,
			patterns:       []string{claspFilePattern},
			expectedIgnore: false,
		},
		{
			testName:       "nested directory pattern no match",
			relativePath:   unrelatedNodeModulesFilePath,
			patterns:       []string{nodeModulesDirectoryPattern},
			expectedIgnore: false,
		},
	}
	for index, testCase := range testCases {
		actual := utils.ShouldIgnoreByPath(testCase.relativePath, testCase.patterns)
		if actual != testCase.expectedIgnore {
			testingInstance.Errorf("case %d (%s): expected %t, got %t", index, testCase.testName, testCase.expectedIgnore, actual)
		}
	}
}

func TestIsWithinDirectory(testingInstance *testing.T) {
	temporaryRoot := testingInstance.TempDir()
	testCases := []struct {
		testName      string
		candidatePath string
		directoryPath string
		expected      bool
	}{
		{
			testName:      "same directory",
			candidatePath: temporaryRoot,
			directoryPath: temporaryRoot,
			expected:      true,
		},
		{
			testName:      "nested directory",
			candidatePath: filepath.Join(temporaryRoot, "a", "b"),
			directoryPath: temporaryRoot,
			expected:      true,
		},
		{
			testName:      "sibling with shared prefix",
			candidatePath: temporaryRoot + "-sibling",
			directoryPath: temporaryRoot,
			expected:      false,
		},
		{
			testName:      "parent directory",
			candidatePath: filepath.Dir(temporaryRoot),
			directoryPath: temporaryRoot,
			expected:      false,
		},
	}
	for index, testCase := range testCases {
		actual := utils.IsWithinDirectory(testCase.candidatePath, testCase.directoryPath)
		if actual != testCase.expected {
			testingInstance.Errorf("case %d (%s): expected %t, got %t", index, testCase.testName, testCase.expected, actual)
		}
	}
}

// TestNewApplicationLogger verifies level and encoding validation.
func TestNewApplicationLogger(testingInstance *testing.T) {
	testCases := []struct {
		testName    string
		level       string
		encoding    string
		expectError bool
	}{
		{testName: "defaults", level: "", encoding: "", expectError: false},
		{testName: "json debug", level: "debug", encoding: utils.LogEncodingJSON, expectError: false},
		{testName: "unknown level", level: "loud", encoding: utils.LogEncodingConsole, expectError: true},
		{testName: "unknown encoding", level: "info", encoding: "yaml", expectError: true},
	}
	for index, testCase := range testCases {
		logger, loggerError := utils.NewApplicationLogger(testCase.level, testCase.encoding)
		if testCase.expectError {
			if loggerError == nil {
				testingInstance.Errorf("case %d (%s): expected error", index, testCase.testName)
			}
			continue
		}
		if loggerError != nil || logger == nil {
			testingInstance.Errorf("case %d (%s): unexpected error %v", index, testCase.testName, loggerError)
		}
	}
}

// TestFormatFileSize verifies human-readable size rendering.
func TestFormatFileSize(testingInstance *testing.T) {
	testCases := []struct {
		bytes    int64
		expected string
	}{
		{bytes: -1, expected: "0b"},
		{bytes: 512, expected: "512b"},
		{bytes: 1536, expected: "1.5kb"},
		{bytes: 1048576, expected: "1mb"},
		{bytes: 20 * 1024, expected: "20kb"},
	}
	for index, testCase := range testCases {
		actual := utils.FormatFileSize(testCase.bytes)
		if actual != testCase.expected {
			testingInstance.Errorf("case %d: expected %s, got %s", index, testCase.expected, actual)
		}
	}
}

func TestTruncateRunes(testingInstance *testing.T) {
	testCases := []struct {
		name     string
		input    string
		limit    int
		expected string
	}{
		{name: "shorter than limit", input: "abc", limit: 5, expected: "abc"},
		{name: "ascii cut", input: "abcdef", limit: 3, expected: "abc"},
		{name: "multibyte kept whole", input: "héllo wörld", limit: 5, expected: "héllo"},
		{name: "zero limit", input: "abc", limit: 0, expected: "abc"},
	}
	for _, testCase := range testCases {
		testingInstance.Run(testCase.name, func(subTestingInstance *testing.T) {
			if actual := utils.TruncateRunes(testCase.input, testCase.limit); actual != testCase.expected {
				subTestingInstance.Errorf("TruncateRunes(%q, %d) = %q, want %q", testCase.input, testCase.limit, actual, testCase.expected)
			}
		})
	}
}

func TestStripCodeFences(testingInstance *testing.T) {
	input := "```json\n{\"a\": 1}\n```"
	if actual := utils.StripCodeFences(input); actual != "{\"a\": 1}" {
		testingInstance.Errorf("StripCodeFences returned %q", actual)
	}
}
