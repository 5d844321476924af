// Package serializer flattens a working copy into an ordered, bounded set of
// file records plus a directory tree.
package serializer

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/temirov/repolens/internal/types"
	"github.com/temirov/repolens/internal/utils"
)

const (
	rootRelativePath = "."

	errorAbsolutePathFormat     = "getting absolute path for %s: %w"
	errorRootNotDirectoryFormat = "%s is not a directory"
	errorLoadIgnoreFormat       = "loading ignore patterns for %s: %w"
	warningReadDirectoryFormat  = "Warning: skipping directory %s: %v"
	warningReadFileFormat       = "Warning: skipping file %s: %v"
	warningSkipBinaryFormat     = "skipping binary or undecodable file %s"
	warningLimitReachedFormat   = "total content limit of %d bytes reached at %s"
)

// errLimitReached unwinds the content walk once no further records may be appended.
var errLimitReached = errors.New("total content limit reached")

// SerializationError reports that the working copy as a whole could not be serialized.
type SerializationError struct {
	Path string
	Err  error
}

// Error describes the failure.
func (serializationError *SerializationError) Error() string {
	return fmt.Sprintf("serialize %s: %v", serializationError.Path, serializationError.Err)
}

// Unwrap exposes the underlying cause.
func (serializationError *SerializationError) Unwrap() error {
	return serializationError.Err
}

// Options configures a serialization.
type Options struct {
	Policy Policy
	// Warn receives messages about skipped entries.
	Warn func(message string)
}

// Serialize flattens workingCopyPath according to policy.
func Serialize(workingCopyPath string, policy Policy) (types.IngestedContext, error) {
	return SerializeWithOptions(workingCopyPath, Options{Policy: policy})
}

// SerializeWithOptions flattens workingCopyPath according to options.Policy.
// Per-file failures are skipped; a missing or non-directory root is returned as *SerializationError.
func SerializeWithOptions(workingCopyPath string, options Options) (types.IngestedContext, error) {
	absoluteRootPath, absolutePathError := filepath.Abs(workingCopyPath)
	if absolutePathError != nil {
		return types.IngestedContext{}, &SerializationError{Path: workingCopyPath, Err: fmt.Errorf(errorAbsolutePathFormat, workingCopyPath, absolutePathError)}
	}
	rootInfo, statError := os.Stat(absoluteRootPath)
	if statError != nil {
		return types.IngestedContext{}, &SerializationError{Path: workingCopyPath, Err: statError}
	}
	if !rootInfo.IsDir() {
		return types.IngestedContext{}, &SerializationError{Path: workingCopyPath, Err: fmt.Errorf(errorRootNotDirectoryFormat, workingCopyPath)}
	}

	compiled := options.Policy.compile()
	if options.Policy.UseGitignore {
		loadedPatterns, loadError := LoadRecursiveIgnorePatterns(absoluteRootPath, options.Policy.ExcludedDirectoryNames)
		if loadError != nil {
			return types.IngestedContext{}, &SerializationError{Path: workingCopyPath, Err: fmt.Errorf(errorLoadIgnoreFormat, workingCopyPath, loadError)}
		}
		compiled.ignorePatterns = utils.DeduplicatePatterns(append(compiled.ignorePatterns, loadedPatterns...))
	}

	warn := options.Warn
	if warn == nil {
		warn = func(string) {}
	}
	walker := treeWalker{policy: compiled, warn: warn}

	ingested := types.IngestedContext{Files: []types.FileRecord{}}
	contentError := walker.collectContent(absoluteRootPath, rootRelativePath, &ingested)
	if contentError != nil && !errors.Is(contentError, errLimitReached) {
		return types.IngestedContext{}, &SerializationError{Path: workingCopyPath, Err: contentError}
	}
	ingested.Tree = walker.buildTree(absoluteRootPath, rootRelativePath)
	if ingested.Tree == nil {
		ingested.Tree = []*types.TreeNode{}
	}
	return ingested, nil
}

type treeWalker struct {
	policy compiledPolicy
	warn   func(string)
}

// sortedEntries lists a directory with directories first, each group ordered
// case-insensitively with the exact name as tie-break.
func sortedEntries(directoryPath string) ([]os.DirEntry, error) {
	directoryEntries, readError := os.ReadDir(directoryPath)
	if readError != nil {
		return nil, readError
	}
	sort.SliceStable(directoryEntries, func(leftIndex, rightIndex int) bool {
		left, right := directoryEntries[leftIndex], directoryEntries[rightIndex]
		if left.IsDir() != right.IsDir() {
			return left.IsDir()
		}
		leftFolded, rightFolded := strings.ToLower(left.Name()), strings.ToLower(right.Name())
		if leftFolded != rightFolded {
			return leftFolded < rightFolded
		}
		return left.Name() < right.Name()
	})
	return directoryEntries, nil
}

func joinRelative(parentRelativePath string, name string) string {
	if parentRelativePath == rootRelativePath {
		return name
	}
	return path.Join(parentRelativePath, name)
}

// skipsEntry applies the directory exclusions, ignore patterns and the regular-file rule shared by both halves.
func (walker treeWalker) skipsEntry(directoryEntry os.DirEntry, relativePath string) bool {
	if directoryEntry.IsDir() {
		return walker.policy.excludesDirectory(directoryEntry.Name()) || walker.policy.ignores(relativePath)
	}
	if !directoryEntry.Type().IsRegular() {
		return true
	}
	return walker.policy.ignores(relativePath)
}

func (walker treeWalker) collectContent(directoryPath string, relativeDirectoryPath string, ingested *types.IngestedContext) error {
	directoryEntries, readError := sortedEntries(directoryPath)
	if readError != nil {
		if relativeDirectoryPath == rootRelativePath {
			return readError
		}
		walker.warn(fmt.Sprintf(warningReadDirectoryFormat, relativeDirectoryPath, readError))
		return nil
	}

	for _, directoryEntry := range directoryEntries {
		childPath := filepath.Join(directoryPath, directoryEntry.Name())
		relativePath := joinRelative(relativeDirectoryPath, directoryEntry.Name())
		if walker.skipsEntry(directoryEntry, relativePath) {
			continue
		}
		if directoryEntry.IsDir() {
			if walkError := walker.collectContent(childPath, relativePath, ingested); walkError != nil {
				return walkError
			}
			continue
		}
		if !walker.policy.includesFile(directoryEntry.Name()) {
			continue
		}
		record, readable := walker.readRecord(childPath, relativePath)
		if !readable {
			continue
		}
		if ingested.TotalBytes+len(record.Content) > walker.policy.maxTotalBytes {
			ingested.LimitReached = true
			walker.warn(fmt.Sprintf(warningLimitReachedFormat, walker.policy.maxTotalBytes, relativePath))
			return errLimitReached
		}
		ingested.Files = append(ingested.Files, record)
		ingested.TotalBytes += len(record.Content)
	}
	return nil
}

// readRecord loads a file, skipping unreadable and binary content and truncating oversized content.
//
// #nosec G304
func (walker treeWalker) readRecord(filePath string, relativePath string) (types.FileRecord, bool) {
	fileBytes, readError := os.ReadFile(filePath)
	if readError != nil {
		walker.warn(fmt.Sprintf(warningReadFileFormat, relativePath, readError))
		return types.FileRecord{}, false
	}
	if isUndecodable(fileBytes) {
		walker.warn(fmt.Sprintf(warningSkipBinaryFormat, relativePath))
		return types.FileRecord{}, false
	}
	record := types.FileRecord{Path: relativePath, Content: string(fileBytes)}
	if len(fileBytes) > walker.policy.maxFileBytes {
		record.Content = string(fileBytes[:walker.policy.maxFileBytes]) + types.TruncationMarker
		record.Truncated = true
	}
	return record, true
}

// buildTree renders every non-excluded entry, regardless of extension or content.
func (walker treeWalker) buildTree(directoryPath string, relativeDirectoryPath string) []*types.TreeNode {
	directoryEntries, readError := sortedEntries(directoryPath)
	if readError != nil {
		if !errors.Is(readError, fs.ErrNotExist) {
			walker.warn(fmt.Sprintf(warningReadDirectoryFormat, relativeDirectoryPath, readError))
		}
		return nil
	}

	var nodes []*types.TreeNode
	for _, directoryEntry := range directoryEntries {
		relativePath := joinRelative(relativeDirectoryPath, directoryEntry.Name())
		if walker.skipsEntry(directoryEntry, relativePath) {
			continue
		}
		node := &types.TreeNode{Name: directoryEntry.Name(), Path: relativePath, Type: types.NodeTypeFile}
		if directoryEntry.IsDir() {
			node.Type = types.NodeTypeFolder
			node.Children = walker.buildTree(filepath.Join(directoryPath, directoryEntry.Name()), relativePath)
		}
		nodes = append(nodes, node)
	}
	return nodes
}

// isUndecodable reports content that is not text: NUL bytes or invalid UTF-8.
func isUndecodable(content []byte) bool {
	return bytes.IndexByte(content, 0) >= 0 || !utf8.Valid(content)
}
