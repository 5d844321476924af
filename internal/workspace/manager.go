// Package workspace owns the directory where repository working copies live.
// It names, tracks and reclaims clone directories ("slots").
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/temirov/repolens/internal/retry"
	"github.com/temirov/repolens/internal/utils"
)

const (
	slotNamePrefix = "slot-"
	slotNameFormat = slotNamePrefix + "%019d-%d"

	rootDirectoryPermissions = 0o700
	writableDirectoryMode    = 0o700
	writableFileMode         = 0o600

	resolveRootErrorFormat     = "resolve workspace root %s: %w"
	createRootErrorFormat      = "create workspace root %s: %w"
	protectedRootErrorFormat   = "%w: %s is inside %s"
	readRootErrorFormat        = "read workspace root %s: %w"
	slotAllocationErrorFormat  = "allocate workspace slot: %w"
	emptyOwnerErrorMessage     = "workspace slot owner must not be empty"
	reclaimedSlotLogMessage    = "reclaimed workspace slot"
	reclaimFailedLogMessage    = "failed to reclaim workspace slot"
	reclaimRetryingLogMessage  = "retrying workspace slot removal"
	reclaimSummaryLogMessage   = "workspace reclaim finished"
	reclaimFailureSeparator    = "; "
)

// ErrRootInsideProtectedTree is returned when the workspace root would live inside a protected directory.
var ErrRootInsideProtectedTree = errors.New("workspace root is inside a protected directory")

// ErrEmptyOwner is returned when a slot is allocated without an owner.
var ErrEmptyOwner = errors.New(emptyOwnerErrorMessage)

// Slot is one uniquely named working-copy directory under the workspace root.
type Slot struct {
	Name string
	Path string
}

// ReclaimFailure describes a stale slot that could not be removed.
type ReclaimFailure struct {
	Path    string
	Message string
}

// ReclaimReport lists the outcome of a ReclaimStale pass.
type ReclaimReport struct {
	Removed []string
	Failed  []ReclaimFailure
}

// HasFailures reports whether any stale slot survived reclamation.
func (report ReclaimReport) HasFailures() bool {
	return len(report.Failed) > 0
}

// Summary renders the failures as a single message, or an empty string.
func (report ReclaimReport) Summary() string {
	messages := make([]string, 0, len(report.Failed))
	for _, failure := range report.Failed {
		messages = append(messages, failure.Path+": "+failure.Message)
	}
	return strings.Join(messages, reclaimFailureSeparator)
}

// Options configures a Manager.
type Options struct {
	// RootDirectory holds every slot. It is created when missing.
	RootDirectory string
	// ProtectedRoots must never contain RootDirectory. Defaults to the process working directory.
	ProtectedRoots []string
	// RetryConfig bounds the removal retries of a stale slot.
	RetryConfig retry.Config
	// Remover deletes a slot directory. Defaults to os.RemoveAll.
	Remover func(path string) error
	Logger  *zap.Logger
}

// Manager allocates, tracks ownership of, and reclaims workspace slots.
type Manager struct {
	rootDirectory string
	retryConfig   retry.Config
	remover       func(path string) error
	logger        *zap.Logger

	mutex    sync.Mutex
	owners   map[string]map[string]struct{}
	sequence uint64
}

// NewManager validates the root directory against the protected roots and creates it.
func NewManager(options Options) (*Manager, error) {
	absoluteRoot, absoluteRootError := filepath.Abs(options.RootDirectory)
	if absoluteRootError != nil {
		return nil, fmt.Errorf(resolveRootErrorFormat, options.RootDirectory, absoluteRootError)
	}

	protectedRoots := options.ProtectedRoots
	if len(protectedRoots) == 0 {
		workingDirectory, workingDirectoryError := os.Getwd()
		if workingDirectoryError == nil {
			protectedRoots = []string{workingDirectory}
		}
	}
	for _, protectedRoot := range protectedRoots {
		if isFilesystemRoot(protectedRoot) {
			continue
		}
		if utils.IsWithinDirectory(absoluteRoot, protectedRoot) {
			return nil, fmt.Errorf(protectedRootErrorFormat, ErrRootInsideProtectedTree, absoluteRoot, protectedRoot)
		}
	}

	if makeDirectoryError := os.MkdirAll(absoluteRoot, rootDirectoryPermissions); makeDirectoryError != nil {
		return nil, fmt.Errorf(createRootErrorFormat, absoluteRoot, makeDirectoryError)
	}

	remover := options.Remover
	if remover == nil {
		remover = os.RemoveAll
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		rootDirectory: absoluteRoot,
		retryConfig:   options.RetryConfig,
		remover:       remover,
		logger:        logger,
		owners:        make(map[string]map[string]struct{}),
	}, nil
}

// Root returns the absolute workspace root.
func (manager *Manager) Root() string {
	return manager.rootDirectory
}

// Allocate reserves a new unique slot for owner. The slot directory is not created.
func (manager *Manager) Allocate(owner string) (Slot, error) {
	if owner == utils.EmptyString {
		return Slot{}, fmt.Errorf(slotAllocationErrorFormat, ErrEmptyOwner)
	}
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	for {
		manager.sequence++
		slotName := fmt.Sprintf(slotNameFormat, time.Now().UnixNano(), manager.sequence)
		slotPath := filepath.Join(manager.rootDirectory, slotName)
		if _, exists := manager.owners[slotPath]; exists {
			continue
		}
		if _, statError := os.Lstat(slotPath); statError == nil {
			continue
		} else if !errors.Is(statError, fs.ErrNotExist) {
			return Slot{}, fmt.Errorf(slotAllocationErrorFormat, statError)
		}
		manager.owners[slotPath] = map[string]struct{}{owner: {}}
		return Slot{Name: slotName, Path: slotPath}, nil
	}
}

// Claim adds owner to an active slot. It returns false when the slot is no longer active.
func (manager *Manager) Claim(slotPath string, owner string) bool {
	if owner == utils.EmptyString {
		return false
	}
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	slotOwners, exists := manager.owners[slotPath]
	if !exists {
		return false
	}
	slotOwners[owner] = struct{}{}
	return true
}

// Release removes owner from a slot. A slot without owners becomes stale and can never be claimed again.
func (manager *Manager) Release(slotPath string, owner string) {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	slotOwners, exists := manager.owners[slotPath]
	if !exists {
		return
	}
	delete(slotOwners, owner)
	if len(slotOwners) == 0 {
		delete(manager.owners, slotPath)
	}
}

// IsActive reports whether any owner holds the slot.
func (manager *Manager) IsActive(slotPath string) bool {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	_, exists := manager.owners[slotPath]
	return exists
}

// ActiveSlots returns the paths of every active slot in lexical order.
func (manager *Manager) ActiveSlots() []string {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	slotPaths := make([]string, 0, len(manager.owners))
	for slotPath := range manager.owners {
		slotPaths = append(slotPaths, slotPath)
	}
	sort.Strings(slotPaths)
	return slotPaths
}

// ReclaimStale deletes every slot directory under the root that is not active.
// Permissions are forced writable before deletion and removal is retried with backoff.
// Slots that still cannot be removed are reported, never returned as an error.
func (manager *Manager) ReclaimStale(ctx context.Context) ReclaimReport {
	report := ReclaimReport{}
	directoryEntries, readError := os.ReadDir(manager.rootDirectory)
	if readError != nil {
		report.Failed = append(report.Failed, ReclaimFailure{
			Path:    manager.rootDirectory,
			Message: fmt.Errorf(readRootErrorFormat, manager.rootDirectory, readError).Error(),
		})
		return report
	}

	for _, directoryEntry := range directoryEntries {
		if !strings.HasPrefix(directoryEntry.Name(), slotNamePrefix) {
			continue
		}
		slotPath := filepath.Join(manager.rootDirectory, directoryEntry.Name())
		if manager.IsActive(slotPath) {
			continue
		}
		if ctx.Err() != nil {
			report.Failed = append(report.Failed, ReclaimFailure{Path: slotPath, Message: ctx.Err().Error()})
			continue
		}

		removeError := manager.removeSlot(ctx, slotPath)
		if removeError != nil {
			manager.logger.Warn(reclaimFailedLogMessage, zap.String("path", slotPath), zap.Error(removeError))
			report.Failed = append(report.Failed, ReclaimFailure{Path: slotPath, Message: removeError.Error()})
			continue
		}
		manager.logger.Debug(reclaimedSlotLogMessage, zap.String("path", slotPath))
		report.Removed = append(report.Removed, slotPath)
	}

	if len(report.Removed) > 0 || len(report.Failed) > 0 {
		manager.logger.Info(reclaimSummaryLogMessage,
			zap.Int("removed", len(report.Removed)),
			zap.Int("failed", len(report.Failed)),
		)
	}
	return report
}

func (manager *Manager) removeSlot(ctx context.Context, slotPath string) error {
	return retry.Do(ctx, manager.retryConfig, func() error {
		forceWritable(slotPath)
		return manager.remover(slotPath)
	}, func(attemptError error, delay time.Duration) {
		manager.logger.Debug(reclaimRetryingLogMessage,
			zap.String("path", slotPath),
			zap.Duration("delay", delay),
			zap.Error(attemptError),
		)
	})
}

// forceWritable makes every directory and regular file under rootPath owner-writable.
// Symbolic links are left untouched so their targets outside the slot are never modified.
func forceWritable(rootPath string) {
	_ = filepath.WalkDir(rootPath, func(currentPath string, directoryEntry fs.DirEntry, walkError error) error {
		if walkError != nil {
			if directoryEntry != nil && directoryEntry.IsDir() {
				_ = os.Chmod(currentPath, writableDirectoryMode)
			}
			return nil
		}
		switch {
		case directoryEntry.Type()&fs.ModeSymlink != 0:
		case directoryEntry.IsDir():
			_ = os.Chmod(currentPath, writableDirectoryMode)
		default:
			_ = os.Chmod(currentPath, writableFileMode)
		}
		return nil
	})
}

func isFilesystemRoot(candidatePath string) bool {
	absolutePath, absoluteError := filepath.Abs(candidatePath)
	if absoluteError != nil {
		return false
	}
	return filepath.Dir(absolutePath) == absolutePath
}
