package ingestion

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/temirov/repolens/internal/repository"
	"github.com/temirov/repolens/internal/serializer"
	"github.com/temirov/repolens/internal/workspace"
)

type sentinelProber struct{}

func (sentinelProber) Probe(context.Context, string) string { return repository.SentinelRevision }

type failingFetcher struct{}

func (failingFetcher) Fetch(_ context.Context, repositoryURL string, _ string) error {
	return repository.Classify(repositoryURL, context.DeadlineExceeded)
}

func TestMetricsRecordDegradationAndFailures(testingInstance *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	workspaces, managerError := workspace.NewManager(workspace.Options{
		RootDirectory:  filepath.Join(testingInstance.TempDir(), "workspaces"),
		ProtectedRoots: []string{filepath.Join(testingInstance.TempDir(), "source")},
	})
	require.NoError(testingInstance, managerError)

	facade := NewFacade(Options{
		Fetcher:    failingFetcher{},
		Prober:     sentinelProber{},
		Workspaces: workspaces,
		Policy:     serializer.DefaultPolicy(),
		Metrics:    metrics,
	})
	_, ensureError := facade.EnsureContext(context.Background(), "session", "https://example.com/r.git", EnsureOptions{})
	require.Error(testingInstance, ensureError)

	require.Equal(testingInstance, 1.0, testutil.ToFloat64(metrics.probeDegraded))
	require.Equal(testingInstance, 1.0, testutil.ToFloat64(metrics.fetchFailures.WithLabelValues(string(repository.KindNetworkUnreachable))))
	require.Equal(testingInstance, 1.0, testutil.ToFloat64(metrics.ensureTotal.WithLabelValues(sourceError)))
	require.Equal(testingInstance, 1.0, testutil.ToFloat64(metrics.activeSessions))

	families, gatherError := registry.Gather()
	require.NoError(testingInstance, gatherError)
	require.NotEmpty(testingInstance, families)
}

func TestKeyedMutexForgetsReleasedKeys(testingInstance *testing.T) {
	keyed := newKeyedMutex()
	unlock := keyed.Lock("a")
	require.Len(testingInstance, keyed.entries, 1)
	unlock()
	require.Empty(testingInstance, keyed.entries)
}
