// Package ingestion composes fetching, serialization and the revision-keyed cache
// into a single "current context for this repository" operation.
package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/temirov/repolens/internal/repository"
	"github.com/temirov/repolens/internal/serializer"
	"github.com/temirov/repolens/internal/types"
	"github.com/temirov/repolens/internal/utils"
	"github.com/temirov/repolens/internal/workspace"
)

// OperationContext is the cache operation kind under which serialized contexts are stored.
const OperationContext = "context"

const (
	defaultSessionIdleTimeout = 30 * time.Minute

	allocateSlotErrorFormat = "allocate workspace for %s: %w"

	sessionHitLogMessage        = "serving context from session"
	cacheHitLogMessage          = "serving context from cache"
	coalescedLogMessage         = "reusing in-flight context"
	fetchingLogMessage          = "fetching repository"
	serializedLogMessage        = "serialized working copy"
	serializeWarningLogMessage  = "serializer skipped entry"
	reclaimFailedLogMessage     = "stale workspace slots could not be reclaimed"
	sessionExpiredLogMessage    = "expired idle session"
	cacheDecodeFailedLogMessage = "ignoring undecodable cached context"
)

var (
	// ErrEmptySessionID is returned when a call carries no session identifier.
	ErrEmptySessionID = errors.New("session identifier is empty")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("ingestion facade is closed")
)

// Fetcher acquires a working copy into a destination that does not exist yet.
type Fetcher interface {
	Fetch(ctx context.Context, repositoryURL string, destination string) error
}

// Prober resolves a remote revision, degrading to repository.SentinelRevision.
type Prober interface {
	Probe(ctx context.Context, repositoryURL string) string
}

// ResultCache is the durable revision-keyed store.
type ResultCache interface {
	Get(ctx context.Context, operation string, repository string, revision string) (json.RawMessage, bool)
	Put(ctx context.Context, operation string, repository string, revision string, value any)
}

// EnsureOptions tunes a single EnsureContext call.
type EnsureOptions struct {
	// RequireWorkspace demands an on-disk working copy, bypassing the durable cache.
	RequireWorkspace bool
	// Revision skips probing when the caller already knows it.
	Revision string
}

// Result is the outcome of EnsureContext.
type Result struct {
	Context       types.IngestedContext
	WorkspacePath string
	Revision      string
	FromCache     bool
	FromSession   bool
}

// Summary describes the result without token counts.
func (result Result) Summary(repositoryURL string) types.ContextSummary {
	return types.ContextSummary{
		Repository:   repositoryURL,
		Revision:     result.Revision,
		TotalFiles:   result.Context.FileCount(),
		TotalSize:    utils.FormatFileSize(int64(result.Context.TotalBytes)),
		LimitReached: result.Context.LimitReached,
		FromCache:    result.FromCache,
	}
}

// Options wires a Facade.
type Options struct {
	Fetcher    Fetcher
	Prober     Prober
	Workspaces *workspace.Manager
	Cache      ResultCache
	Policy     serializer.Policy
	Metrics    *Metrics
	// SessionIdleTimeout forgets sessions unused for this long. Defaults to 30 minutes.
	SessionIdleTimeout time.Duration
	Logger             *zap.Logger
}

type session struct {
	mutex    sync.Mutex
	url      string
	revision string
	context  *types.IngestedContext
	slotPath string
	lastUsed time.Time
}

type recentResult struct {
	revision string
	slotPath string
	context  types.IngestedContext
}

// Facade serves ingested contexts per session.
type Facade struct {
	fetcher            Fetcher
	prober             Prober
	workspaces         *workspace.Manager
	cache              ResultCache
	policy             serializer.Policy
	metrics            *Metrics
	sessionIdleTimeout time.Duration
	logger             *zap.Logger

	repositoryLocks *keyedMutex

	sessionsMutex sync.Mutex
	sessions      map[string]*session
	closed        bool

	recentMutex sync.Mutex
	recent      map[string]recentResult
}

// NewFacade constructs a Facade.
func NewFacade(options Options) *Facade {
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := options.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	idleTimeout := options.SessionIdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = defaultSessionIdleTimeout
	}
	return &Facade{
		fetcher:            options.Fetcher,
		prober:             options.Prober,
		workspaces:         options.Workspaces,
		cache:              options.Cache,
		policy:             options.Policy,
		metrics:            metrics,
		sessionIdleTimeout: idleTimeout,
		logger:             logger,
		repositoryLocks:    newKeyedMutex(),
		sessions:           make(map[string]*session),
		recent:             make(map[string]recentResult),
	}
}

// Revision probes the remote revision of repositoryURL.
func (facade *Facade) Revision(ctx context.Context, repositoryURL string) string {
	revision := facade.prober.Probe(ctx, repositoryURL)
	if revision == repository.SentinelRevision {
		facade.metrics.probeDegraded.Inc()
	}
	return revision
}

// CachedContext returns the context stored for (repositoryURL, revision), byte for byte as serialized.
func (facade *Facade) CachedContext(ctx context.Context, repositoryURL string, revision string) (types.IngestedContext, bool) {
	if facade.cache == nil {
		return types.IngestedContext{}, false
	}
	data, found := facade.cache.Get(ctx, OperationContext, repositoryURL, revision)
	if !found {
		return types.IngestedContext{}, false
	}
	cached, decodeError := decodeCachedContext(data)
	if decodeError != nil {
		facade.logger.Debug(cacheDecodeFailedLogMessage, zap.String("url", repositoryURL), zap.Error(decodeError))
		return types.IngestedContext{}, false
	}
	return cached, true
}

// GetCached returns a cached result for operation at the repository's current revision.
func (facade *Facade) GetCached(ctx context.Context, operation string, repositoryURL string) (json.RawMessage, bool) {
	return facade.GetCachedAt(ctx, operation, repositoryURL, facade.Revision(ctx, repositoryURL))
}

// GetCachedAt returns a cached result for operation at a known revision.
func (facade *Facade) GetCachedAt(ctx context.Context, operation string, repositoryURL string, revision string) (json.RawMessage, bool) {
	if facade.cache == nil {
		return nil, false
	}
	return facade.cache.Get(ctx, operation, repositoryURL, revision)
}

// PutCached stores a result for operation at the repository's current revision.
func (facade *Facade) PutCached(ctx context.Context, operation string, repositoryURL string, value any) {
	facade.PutCachedAt(ctx, operation, repositoryURL, facade.Revision(ctx, repositoryURL), value)
}

// PutCachedAt stores a result for operation at a known revision.
func (facade *Facade) PutCachedAt(ctx context.Context, operation string, repositoryURL string, revision string, value any) {
	if facade.cache == nil {
		return
	}
	facade.cache.Put(ctx, operation, repositoryURL, revision, value)
}

// EnsureContext returns the ingested context of repositoryURL for sessionID, fetching
// and serializing only when neither the session, the durable cache, nor a concurrent
// request for the same revision can supply it. Fetch failures are returned as
// *repository.FetchError.
func (facade *Facade) EnsureContext(ctx context.Context, sessionID string, repositoryURL string, options EnsureOptions) (Result, error) {
	if sessionID == utils.EmptyString {
		return Result{}, ErrEmptySessionID
	}
	if repositoryURL == utils.EmptyString {
		facade.metrics.ensureTotal.WithLabelValues(sourceError).Inc()
		return Result{}, repository.Classify(repositoryURL, repository.ErrEmptyURL)
	}
	currentSession, sessionError := facade.acquireSession(sessionID)
	if sessionError != nil {
		return Result{}, sessionError
	}
	defer currentSession.mutex.Unlock()
	currentSession.lastUsed = time.Now()

	if facade.sessionSatisfies(currentSession, repositoryURL, options) {
		facade.metrics.ensureTotal.WithLabelValues(sourceSession).Inc()
		facade.logger.Debug(sessionHitLogMessage, zap.String("session", sessionID), zap.String("url", repositoryURL))
		return Result{
			Context:       *currentSession.context,
			WorkspacePath: currentSession.slotPath,
			Revision:      currentSession.revision,
			FromSession:   true,
		}, nil
	}

	revision := options.Revision
	if revision == utils.EmptyString {
		revision = facade.Revision(ctx, repositoryURL)
	}

	if !options.RequireWorkspace && facade.cache != nil {
		if cached, found := facade.CachedContext(ctx, repositoryURL, revision); found {
			facade.metrics.ensureTotal.WithLabelValues(sourceCache).Inc()
			facade.logger.Debug(cacheHitLogMessage, zap.String("url", repositoryURL), zap.String("revision", revision))
			facade.adopt(currentSession, sessionID, repositoryURL, revision, cached, utils.EmptyString)
			facade.reclaim(ctx)
			return Result{Context: cached, Revision: revision, FromCache: true}, nil
		}
	}

	acquired, source, acquireError := facade.acquire(ctx, sessionID, repositoryURL, revision)
	if acquireError != nil {
		facade.metrics.ensureTotal.WithLabelValues(sourceError).Inc()
		return Result{}, acquireError
	}
	facade.metrics.ensureTotal.WithLabelValues(source).Inc()
	facade.adopt(currentSession, sessionID, repositoryURL, revision, acquired.context, acquired.slotPath)
	facade.reclaim(ctx)

	return Result{Context: acquired.context, WorkspacePath: acquired.slotPath, Revision: revision}, nil
}

// EndSession releases the session's slot and forgets it.
func (facade *Facade) EndSession(sessionID string) {
	facade.sessionsMutex.Lock()
	endedSession, exists := facade.sessions[sessionID]
	delete(facade.sessions, sessionID)
	facade.metrics.activeSessions.Set(float64(len(facade.sessions)))
	facade.sessionsMutex.Unlock()
	if !exists {
		return
	}
	endedSession.mutex.Lock()
	defer endedSession.mutex.Unlock()
	if endedSession.slotPath != utils.EmptyString {
		facade.workspaces.Release(endedSession.slotPath, sessionID)
		endedSession.slotPath = utils.EmptyString
	}
	endedSession.context = nil
}

// Close ends every session and reclaims all slots that are no longer held.
func (facade *Facade) Close(ctx context.Context) workspace.ReclaimReport {
	facade.sessionsMutex.Lock()
	facade.closed = true
	sessionIDs := make([]string, 0, len(facade.sessions))
	for sessionID := range facade.sessions {
		sessionIDs = append(sessionIDs, sessionID)
	}
	facade.sessionsMutex.Unlock()

	for _, sessionID := range sessionIDs {
		facade.EndSession(sessionID)
	}
	return facade.workspaces.ReclaimStale(ctx)
}

// acquireSession returns the locked session for sessionID, creating it when needed.
func (facade *Facade) acquireSession(sessionID string) (*session, error) {
	facade.sessionsMutex.Lock()
	if facade.closed {
		facade.sessionsMutex.Unlock()
		return nil, ErrClosed
	}
	facade.expireIdleSessionsLocked(sessionID)
	currentSession, exists := facade.sessions[sessionID]
	if !exists {
		currentSession = &session{lastUsed: time.Now()}
		facade.sessions[sessionID] = currentSession
		facade.metrics.activeSessions.Set(float64(len(facade.sessions)))
	}
	currentSession.lastUsed = time.Now()
	facade.sessionsMutex.Unlock()

	currentSession.mutex.Lock()
	return currentSession, nil
}

// expireIdleSessionsLocked drops idle sessions that are not busy. Callers hold sessionsMutex.
func (facade *Facade) expireIdleSessionsLocked(exceptSessionID string) {
	cutoff := time.Now().Add(-facade.sessionIdleTimeout)
	for sessionID, candidate := range facade.sessions {
		if sessionID == exceptSessionID || !candidate.mutex.TryLock() {
			continue
		}
		if candidate.lastUsed.Before(cutoff) {
			if candidate.slotPath != utils.EmptyString {
				facade.workspaces.Release(candidate.slotPath, sessionID)
			}
			candidate.context = nil
			candidate.slotPath = utils.EmptyString
			delete(facade.sessions, sessionID)
			facade.logger.Debug(sessionExpiredLogMessage, zap.String("session", sessionID))
		}
		candidate.mutex.Unlock()
	}
	facade.metrics.activeSessions.Set(float64(len(facade.sessions)))
}

func (facade *Facade) sessionSatisfies(currentSession *session, repositoryURL string, options EnsureOptions) bool {
	if currentSession.context == nil || currentSession.url != repositoryURL {
		return false
	}
	if options.Revision != utils.EmptyString && options.Revision != currentSession.revision {
		return false
	}
	if options.RequireWorkspace {
		return currentSession.slotPath != utils.EmptyString && facade.workspaces.IsActive(currentSession.slotPath)
	}
	return true
}

// adopt points the session at a new context and slot, releasing its previous slot.
func (facade *Facade) adopt(currentSession *session, sessionID string, repositoryURL string, revision string, ingested types.IngestedContext, slotPath string) {
	previousSlot := currentSession.slotPath
	contextCopy := ingested
	currentSession.url = repositoryURL
	currentSession.revision = revision
	currentSession.context = &contextCopy
	currentSession.slotPath = slotPath
	if previousSlot != utils.EmptyString && previousSlot != slotPath {
		facade.workspaces.Release(previousSlot, sessionID)
	}
}

// acquire produces a working copy and its context for (repositoryURL, revision), owned by sessionID.
// Concurrent callers for the same repository are serialized; a caller arriving after another
// finished the same revision joins its slot instead of fetching again.
func (facade *Facade) acquire(ctx context.Context, sessionID string, repositoryURL string, revision string) (recentResult, string, error) {
	unlock := facade.repositoryLocks.Lock(repositoryURL)
	defer unlock()

	if reused, found := facade.reuseRecent(sessionID, repositoryURL, revision); found {
		facade.logger.Debug(coalescedLogMessage, zap.String("url", repositoryURL), zap.String("revision", revision))
		return reused, sourceCoalesced, nil
	}

	slot, allocateError := facade.workspaces.Allocate(sessionID)
	if allocateError != nil {
		return recentResult{}, sourceError, fmt.Errorf(allocateSlotErrorFormat, repositoryURL, allocateError)
	}

	facade.logger.Info(fetchingLogMessage, zap.String("url", repositoryURL), zap.String("revision", revision), zap.String("slot", slot.Name))
	fetchStartedAt := time.Now()
	fetchError := facade.fetcher.Fetch(context.WithoutCancel(ctx), repositoryURL, slot.Path)
	facade.metrics.fetchDuration.Observe(time.Since(fetchStartedAt).Seconds())
	if fetchError != nil {
		facade.workspaces.Release(slot.Path, sessionID)
		var classified *repository.FetchError
		if errors.As(fetchError, &classified) {
			facade.metrics.fetchFailures.WithLabelValues(string(classified.Kind)).Inc()
		}
		return recentResult{}, sourceError, fetchError
	}

	serializeStartedAt := time.Now()
	ingested, serializeError := serializer.SerializeWithOptions(slot.Path, serializer.Options{
		Policy: facade.policy,
		Warn: func(message string) {
			facade.logger.Debug(serializeWarningLogMessage, zap.String("url", repositoryURL), zap.String("detail", message))
		},
	})
	facade.metrics.serializeDuration.Observe(time.Since(serializeStartedAt).Seconds())
	if serializeError != nil {
		facade.workspaces.Release(slot.Path, sessionID)
		return recentResult{}, sourceError, serializeError
	}
	facade.metrics.contextBytes.Observe(float64(ingested.TotalBytes))
	facade.logger.Info(serializedLogMessage,
		zap.String("url", repositoryURL),
		zap.Int("files", ingested.FileCount()),
		zap.Int("bytes", ingested.TotalBytes),
		zap.Bool("limit_reached", ingested.LimitReached),
	)

	if facade.cache != nil {
		facade.cache.Put(ctx, OperationContext, repositoryURL, revision, newCachedContext(ingested))
	}
	produced := recentResult{revision: revision, slotPath: slot.Path, context: ingested}
	facade.recentMutex.Lock()
	facade.recent[repositoryURL] = produced
	facade.recentMutex.Unlock()
	return produced, sourceFetch, nil
}

// reuseRecent claims the latest slot produced for repositoryURL when it matches revision and is still active.
func (facade *Facade) reuseRecent(sessionID string, repositoryURL string, revision string) (recentResult, bool) {
	facade.recentMutex.Lock()
	defer facade.recentMutex.Unlock()
	latest, exists := facade.recent[repositoryURL]
	if !exists || latest.revision != revision {
		return recentResult{}, false
	}
	if !facade.workspaces.Claim(latest.slotPath, sessionID) {
		delete(facade.recent, repositoryURL)
		return recentResult{}, false
	}
	return latest, true
}

func (facade *Facade) reclaim(ctx context.Context) {
	report := facade.workspaces.ReclaimStale(ctx)
	if report.HasFailures() {
		facade.metrics.reclaimFailures.Add(float64(len(report.Failed)))
		facade.logger.Warn(reclaimFailedLogMessage, zap.String("detail", report.Summary()))
	}
}
