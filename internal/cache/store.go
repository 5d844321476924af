// Package cache persists results keyed by operation, repository and revision.
// Every read or write failure degrades to a miss or a no-op; the cache is never fatal.
package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const (
	driverName               = "sqlite"
	dataSourceFormat         = "file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	defaultBusyTimeout       = 5 * time.Second
	storeDirectoryPermission = 0o755
	keyComponentSeparator    = "|"
	keyLengthSeparator       = ":"

	createTableStatement = `CREATE TABLE IF NOT EXISTS cache (
	cache_key TEXT PRIMARY KEY,
	data TEXT NOT NULL,
	timestamp REAL NOT NULL
)`
	selectEntryStatement = `SELECT data, timestamp FROM cache WHERE cache_key = ?`
	upsertEntryStatement = `INSERT INTO cache (cache_key, data, timestamp) VALUES (?, ?, ?)
ON CONFLICT(cache_key) DO UPDATE SET data = excluded.data, timestamp = excluded.timestamp`
	countEntriesStatement = `SELECT COUNT(*) FROM cache`

	createDirectoryErrorFormat = "create cache directory %s: %w"
	openDatabaseErrorFormat    = "open cache database %s: %w"
	pingDatabaseErrorFormat    = "ping cache database %s: %w"
	createSchemaErrorFormat    = "create cache schema: %w"

	readFailedLogMessage    = "cache read failed"
	writeFailedLogMessage   = "cache write failed"
	encodeFailedLogMessage  = "cache value could not be encoded"
	decodeFailedLogMessage  = "cache value could not be decoded"
	cacheHitLogMessage      = "cache hit"
	cacheMissLogMessage     = "cache miss"
	cacheStoredLogMessage   = "cache entry stored"
	cacheClosedErrorMessage = "cache store is closed"
)

// ErrClosed is reported when the store is used after Close.
var ErrClosed = errors.New(cacheClosedErrorMessage)

// Entry is one stored result.
type Entry struct {
	Key       string
	Data      json.RawMessage
	CreatedAt time.Time
}

// Options configures a Store.
type Options struct {
	// Path is the SQLite database file. Its parent directory is created when missing.
	Path string
	// BusyTimeout bounds how long a statement waits on a locked database.
	BusyTimeout time.Duration
	Logger      *zap.Logger
}

// Store is a durable (operation, repository, revision) to JSON mapping.
// Readers run concurrently; writers are serialized.
type Store struct {
	database   *sql.DB
	logger     *zap.Logger
	writeMutex sync.Mutex
	closeOnce  sync.Once
	closed     chan struct{}
}

// Open opens or creates the cache database.
func Open(options Options) (*Store, error) {
	storeDirectory := filepath.Dir(options.Path)
	if makeDirectoryError := os.MkdirAll(storeDirectory, storeDirectoryPermission); makeDirectoryError != nil {
		return nil, fmt.Errorf(createDirectoryErrorFormat, storeDirectory, makeDirectoryError)
	}
	busyTimeout := options.BusyTimeout
	if busyTimeout <= 0 {
		busyTimeout = defaultBusyTimeout
	}
	dataSource := fmt.Sprintf(dataSourceFormat, options.Path, busyTimeout.Milliseconds())
	database, openError := sql.Open(driverName, dataSource)
	if openError != nil {
		return nil, fmt.Errorf(openDatabaseErrorFormat, options.Path, openError)
	}
	if pingError := database.Ping(); pingError != nil {
		_ = database.Close()
		return nil, fmt.Errorf(pingDatabaseErrorFormat, options.Path, pingError)
	}
	if _, schemaError := database.Exec(createTableStatement); schemaError != nil {
		_ = database.Close()
		return nil, fmt.Errorf(createSchemaErrorFormat, schemaError)
	}

	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{database: database, logger: logger, closed: make(chan struct{})}, nil
}

// Key derives the storage key for a tuple. Each component is length-prefixed
// before hashing, so no character inside a URL can make two tuples collide.
func Key(operation string, repository string, revision string) string {
	var builder strings.Builder
	for index, component := range []string{operation, repository, revision} {
		if index > 0 {
			builder.WriteString(keyComponentSeparator)
		}
		builder.WriteString(strconv.Itoa(len(component)))
		builder.WriteString(keyLengthSeparator)
		builder.WriteString(component)
	}
	digest := sha256.Sum256([]byte(builder.String()))
	return hex.EncodeToString(digest[:])
}

// Get returns the stored JSON for the tuple. A miss and a failed read both return false.
func (store *Store) Get(ctx context.Context, operation string, repository string, revision string) (json.RawMessage, bool) {
	entry, found := store.Entry(ctx, operation, repository, revision)
	if !found {
		return nil, false
	}
	return entry.Data, true
}

// GetInto decodes the stored JSON for the tuple into target.
func (store *Store) GetInto(ctx context.Context, operation string, repository string, revision string, target any) bool {
	data, found := store.Get(ctx, operation, repository, revision)
	if !found {
		return false
	}
	if decodeError := json.Unmarshal(data, target); decodeError != nil {
		store.logger.Warn(decodeFailedLogMessage, zap.String("operation", operation), zap.String("repository", repository), zap.Error(decodeError))
		return false
	}
	return true
}

// Entry returns the stored entry with its creation time.
func (store *Store) Entry(ctx context.Context, operation string, repository string, revision string) (Entry, bool) {
	if store.isClosed() {
		store.logger.Warn(readFailedLogMessage, zap.Error(ErrClosed))
		return Entry{}, false
	}
	cacheKey := Key(operation, repository, revision)
	var data string
	var timestamp float64
	queryError := store.database.QueryRowContext(ctx, selectEntryStatement, cacheKey).Scan(&data, &timestamp)
	if queryError != nil {
		if errors.Is(queryError, sql.ErrNoRows) {
			store.logger.Debug(cacheMissLogMessage, zap.String("operation", operation), zap.String("repository", repository), zap.String("revision", revision))
		} else {
			store.logger.Warn(readFailedLogMessage, zap.String("operation", operation), zap.String("repository", repository), zap.Error(queryError))
		}
		return Entry{}, false
	}
	store.logger.Debug(cacheHitLogMessage, zap.String("operation", operation), zap.String("repository", repository), zap.String("revision", revision))
	return Entry{
		Key:       cacheKey,
		Data:      json.RawMessage(data),
		CreatedAt: fromUnixSeconds(timestamp),
	}, true
}

// Put stores value under the tuple, replacing any previous value.
// Values are encoded as JSON; json.RawMessage values are stored verbatim.
func (store *Store) Put(ctx context.Context, operation string, repository string, revision string, value any) {
	if store.isClosed() {
		store.logger.Warn(writeFailedLogMessage, zap.Error(ErrClosed))
		return
	}
	encoded, encodeError := json.Marshal(value)
	if encodeError != nil {
		store.logger.Warn(encodeFailedLogMessage, zap.String("operation", operation), zap.String("repository", repository), zap.Error(encodeError))
		return
	}
	cacheKey := Key(operation, repository, revision)

	store.writeMutex.Lock()
	defer store.writeMutex.Unlock()
	_, execError := store.database.ExecContext(ctx, upsertEntryStatement, cacheKey, string(encoded), toUnixSeconds(time.Now()))
	if execError != nil {
		store.logger.Warn(writeFailedLogMessage, zap.String("operation", operation), zap.String("repository", repository), zap.Error(execError))
		return
	}
	store.logger.Debug(cacheStoredLogMessage, zap.String("operation", operation), zap.String("repository", repository), zap.String("revision", revision))
}

// Len reports the number of stored entries, or zero when the count cannot be read.
func (store *Store) Len(ctx context.Context) int {
	if store.isClosed() {
		return 0
	}
	var count int
	if countError := store.database.QueryRowContext(ctx, countEntriesStatement).Scan(&count); countError != nil {
		store.logger.Warn(readFailedLogMessage, zap.Error(countError))
		return 0
	}
	return count
}

// Close releases the database. Subsequent calls are no-ops.
func (store *Store) Close() error {
	var closeError error
	store.closeOnce.Do(func() {
		close(store.closed)
		store.writeMutex.Lock()
		defer store.writeMutex.Unlock()
		closeError = store.database.Close()
	})
	return closeError
}

func (store *Store) isClosed() bool {
	select {
	case <-store.closed:
		return true
	default:
		return false
	}
}

func toUnixSeconds(moment time.Time) float64 {
	return float64(moment.UnixNano()) / float64(time.Second)
}

func fromUnixSeconds(seconds float64) time.Time {
	return time.Unix(0, int64(seconds*float64(time.Second)))
}
