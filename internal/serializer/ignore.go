package serializer

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/temirov/repolens/internal/utils"
)

const (
	commentPrefix  = "#"
	negationPrefix = "!"
	anchorPrefix   = "/"

	loadIgnoreFileErrorFormat = "loading %s from %s: %w"
)

// LoadIgnoreFilePatterns reads one ignore file. A missing file yields no patterns.
// Negated patterns are dropped because patterns may only ever remove entries.
//
// #nosec G304
func LoadIgnoreFilePatterns(ignoreFilePath string) ([]string, error) {
	fileHandle, openFileError := os.Open(ignoreFilePath)
	if openFileError != nil {
		if os.IsNotExist(openFileError) {
			return nil, nil
		}
		return nil, openFileError
	}
	defer fileHandle.Close()

	var ignorePatterns []string
	scanner := bufio.NewScanner(fileHandle)
	for scanner.Scan() {
		trimmedLine := strings.TrimSpace(scanner.Text())
		if trimmedLine == utils.EmptyString || strings.HasPrefix(trimmedLine, commentPrefix) || strings.HasPrefix(trimmedLine, negationPrefix) {
			continue
		}
		trimmedLine = strings.TrimPrefix(trimmedLine, anchorPrefix)
		if trimmedLine == utils.EmptyString {
			continue
		}
		ignorePatterns = append(ignorePatterns, trimmedLine)
	}
	if scanError := scanner.Err(); scanError != nil {
		return nil, scanError
	}
	return ignorePatterns, nil
}

// LoadRecursiveIgnorePatterns walks rootDirectoryPath and aggregates patterns from every
// utils.IgnoreFileName and utils.GitIgnoreFileName it finds. Patterns from a nested directory are
// prefixed with that directory's path relative to rootDirectoryPath. Directories named in
// excludedDirectoryNames are not descended into.
func LoadRecursiveIgnorePatterns(rootDirectoryPath string, excludedDirectoryNames []string) ([]string, error) {
	excludedDirectories := toSet(excludedDirectoryNames, identity)
	var aggregatedPatterns []string

	walkFunction := func(currentDirectoryPath string, directoryEntry fs.DirEntry, walkError error) error {
		if walkError != nil {
			return walkError
		}
		if !directoryEntry.IsDir() {
			return nil
		}
		relativeDirectory := utils.RelativePathOrSelf(currentDirectoryPath, rootDirectoryPath)
		if relativeDirectory != "." {
			if _, excluded := excludedDirectories[directoryEntry.Name()]; excluded {
				return filepath.SkipDir
			}
		}
		prefix := utils.EmptyString
		if relativeDirectory != "." {
			prefix = relativeDirectory + "/"
		}

		for _, ignoreFileName := range []string{utils.IgnoreFileName, utils.GitIgnoreFileName} {
			ignoreFilePath := filepath.Join(currentDirectoryPath, ignoreFileName)
			filePatterns, loadError := LoadIgnoreFilePatterns(ignoreFilePath)
			if loadError != nil {
				return fmt.Errorf(loadIgnoreFileErrorFormat, ignoreFileName, currentDirectoryPath, loadError)
			}
			for _, pattern := range filePatterns {
				aggregatedPatterns = append(aggregatedPatterns, prefix+pattern)
			}
		}
		return nil
	}

	if walkError := filepath.WalkDir(rootDirectoryPath, walkFunction); walkError != nil {
		return nil, walkError
	}
	return utils.DeduplicatePatterns(aggregatedPatterns), nil
}
