package cache_test

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/temirov/repolens/internal/cache"
)

const (
	operationContext = "context"
	repositoryURL    = "https://example.com/r.git"
)

type overview struct {
	Description string   `json:"description"`
	TechStack   []string `json:"tech_stack"`
}

func openStore(testingInstance *testing.T, databasePath string) *cache.Store {
	testingInstance.Helper()
	store, openError := cache.Open(cache.Options{Path: databasePath})
	require.NoError(testingInstance, openError)
	testingInstance.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPutThenGetReturnsValue(testingInstance *testing.T) {
	store := openStore(testingInstance, filepath.Join(testingInstance.TempDir(), "cache.db"))
	ctx := context.Background()

	_, found := store.Get(ctx, operationContext, repositoryURL, "abc123")
	require.False(testingInstance, found)

	before := time.Now().Add(-time.Second)
	store.Put(ctx, operationContext, repositoryURL, "abc123", overview{Description: "first", TechStack: []string{"Go"}})

	var decoded overview
	require.True(testingInstance, store.GetInto(ctx, operationContext, repositoryURL, "abc123", &decoded))
	require.Equal(testingInstance, overview{Description: "first", TechStack: []string{"Go"}}, decoded)

	entry, entryFound := store.Entry(ctx, operationContext, repositoryURL, "abc123")
	require.True(testingInstance, entryFound)
	require.Equal(testingInstance, cache.Key(operationContext, repositoryURL, "abc123"), entry.Key)
	require.True(testingInstance, entry.CreatedAt.After(before))
}

func TestPutIsLastWriteWins(testingInstance *testing.T) {
	store := openStore(testingInstance, filepath.Join(testingInstance.TempDir(), "cache.db"))
	ctx := context.Background()

	store.Put(ctx, operationContext, repositoryURL, "abc123", "v1")
	store.Put(ctx, operationContext, repositoryURL, "abc123", "v2")

	data, found := store.Get(ctx, operationContext, repositoryURL, "abc123")
	require.True(testingInstance, found)
	require.JSONEq(testingInstance, `"v2"`, string(data))
	require.Equal(testingInstance, 1, store.Len(ctx))
}

func TestRevisionsAndOperationsNeverCollide(testingInstance *testing.T) {
	store := openStore(testingInstance, filepath.Join(testingInstance.TempDir(), "cache.db"))
	ctx := context.Background()

	store.Put(ctx, operationContext, repositoryURL, "r1", "first revision")
	_, found := store.Get(ctx, operationContext, repositoryURL, "r2")
	require.False(testingInstance, found)
	_, found = store.Get(ctx, "overview", repositoryURL, "r1")
	require.False(testingInstance, found)
}

func TestKeyIsInjectiveAcrossDelimiters(testingInstance *testing.T) {
	testCases := []struct {
		left  [3]string
		right [3]string
	}{
		{left: [3]string{"a", "b|c", "d"}, right: [3]string{"a|b", "c", "d"}},
		{left: [3]string{"op", "https://h/x:1", "2"}, right: [3]string{"op", "https://h/x", "1:2"}},
		{left: [3]string{"", "ab", ""}, right: [3]string{"a", "b", ""}},
		{left: [3]string{"op", "1:a|1:b", "r"}, right: [3]string{"op", "1:a", "1:b|r"}},
	}
	for index, testCase := range testCases {
		leftKey := cache.Key(testCase.left[0], testCase.left[1], testCase.left[2])
		rightKey := cache.Key(testCase.right[0], testCase.right[1], testCase.right[2])
		require.NotEqual(testingInstance, leftKey, rightKey, "case %d", index)
		require.Len(testingInstance, leftKey, 64)
	}
	require.Equal(testingInstance, cache.Key("a", "b", "c"), cache.Key("a", "b", "c"))
}

func TestEntriesSurviveReopen(testingInstance *testing.T) {
	databasePath := filepath.Join(testingInstance.TempDir(), "nested", "cache.db")
	ctx := context.Background()

	first, openError := cache.Open(cache.Options{Path: databasePath})
	require.NoError(testingInstance, openError)
	first.Put(ctx, operationContext, repositoryURL, "abc123", json.RawMessage(`{"files":[]}`))
	require.NoError(testingInstance, first.Close())

	second := openStore(testingInstance, databasePath)
	data, found := second.Get(ctx, operationContext, repositoryURL, "abc123")
	require.True(testingInstance, found)
	require.JSONEq(testingInstance, `{"files":[]}`, string(data))
}

func TestConcurrentWritersAndReaders(testingInstance *testing.T) {
	store := openStore(testingInstance, filepath.Join(testingInstance.TempDir(), "cache.db"))
	ctx := context.Background()

	var waitGroup sync.WaitGroup
	for writerIndex := 0; writerIndex < 8; writerIndex++ {
		waitGroup.Add(1)
		go func(writerIndex int) {
			defer waitGroup.Done()
			for iteration := 0; iteration < 10; iteration++ {
				revision := fmt.Sprintf("rev-%d-%d", writerIndex, iteration)
				store.Put(ctx, operationContext, repositoryURL, revision, iteration)
				_, _ = store.Get(ctx, operationContext, repositoryURL, revision)
			}
		}(writerIndex)
	}
	waitGroup.Wait()
	require.Equal(testingInstance, 80, store.Len(ctx))
}

func TestClosedStoreDegradesSilently(testingInstance *testing.T) {
	store := openStore(testingInstance, filepath.Join(testingInstance.TempDir(), "cache.db"))
	ctx := context.Background()
	store.Put(ctx, operationContext, repositoryURL, "abc123", "value")
	require.NoError(testingInstance, store.Close())
	require.NoError(testingInstance, store.Close())

	_, found := store.Get(ctx, operationContext, repositoryURL, "abc123")
	require.False(testingInstance, found)
	store.Put(ctx, operationContext, repositoryURL, "abc123", "ignored")
	require.Equal(testingInstance, 0, store.Len(ctx))
}

func TestUnencodableValueIsIgnored(testingInstance *testing.T) {
	store := openStore(testingInstance, filepath.Join(testingInstance.TempDir(), "cache.db"))
	ctx := context.Background()
	store.Put(ctx, operationContext, repositoryURL, "abc123", make(chan int))
	_, found := store.Get(ctx, operationContext, repositoryURL, "abc123")
	require.False(testingInstance, found)
}
