package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/temirov/repolens/internal/types"
)

// cachedContextFormat identifies the stored layout of a cached context.
const cachedContextFormat = 1

const decodeCachedContextErrorFormat = "decode cached context: %w"

var errCachedContextFormat = errors.New("unsupported cached context format")

// cachedContext is the stored form of types.IngestedContext. Contents and names are
// kept as bytes so that a truncation cut inside a multi-byte rune survives storage.
type cachedContext struct {
	Format       int            `json:"format"`
	Files        []cachedRecord `json:"files"`
	Tree         []*cachedNode  `json:"tree"`
	TotalBytes   int            `json:"totalBytes"`
	LimitReached bool           `json:"limitReached,omitempty"`
}

type cachedRecord struct {
	Path      []byte `json:"path"`
	Content   []byte `json:"content"`
	Truncated bool   `json:"truncated,omitempty"`
}

type cachedNode struct {
	Name     []byte        `json:"name"`
	Path     []byte        `json:"path"`
	Type     string        `json:"type"`
	Children []*cachedNode `json:"children,omitempty"`
}

func newCachedContext(ingested types.IngestedContext) cachedContext {
	stored := cachedContext{
		Format:       cachedContextFormat,
		Tree:         newCachedNodes(ingested.Tree),
		TotalBytes:   ingested.TotalBytes,
		LimitReached: ingested.LimitReached,
	}
	if ingested.Files != nil {
		stored.Files = make([]cachedRecord, 0, len(ingested.Files))
	}
	for _, record := range ingested.Files {
		stored.Files = append(stored.Files, cachedRecord{
			Path:      []byte(record.Path),
			Content:   []byte(record.Content),
			Truncated: record.Truncated,
		})
	}
	return stored
}

func newCachedNodes(nodes []*types.TreeNode) []*cachedNode {
	if nodes == nil {
		return nil
	}
	stored := make([]*cachedNode, 0, len(nodes))
	for _, node := range nodes {
		stored = append(stored, &cachedNode{
			Name:     []byte(node.Name),
			Path:     []byte(node.Path),
			Type:     node.Type,
			Children: newCachedNodes(node.Children),
		})
	}
	return stored
}

func (stored cachedContext) ingestedContext() types.IngestedContext {
	var files []types.FileRecord
	if stored.Files != nil {
		files = make([]types.FileRecord, 0, len(stored.Files))
	}
	for _, record := range stored.Files {
		files = append(files, types.FileRecord{
			Path:      string(record.Path),
			Content:   string(record.Content),
			Truncated: record.Truncated,
		})
	}
	return types.IngestedContext{
		Files:        files,
		Tree:         treeNodes(stored.Tree),
		TotalBytes:   stored.TotalBytes,
		LimitReached: stored.LimitReached,
	}
}

func treeNodes(stored []*cachedNode) []*types.TreeNode {
	if stored == nil {
		return nil
	}
	nodes := make([]*types.TreeNode, 0, len(stored))
	for _, node := range stored {
		nodes = append(nodes, &types.TreeNode{
			Name:     string(node.Name),
			Path:     string(node.Path),
			Type:     node.Type,
			Children: treeNodes(node.Children),
		})
	}
	return nodes
}

// decodeCachedContext restores a context stored by newCachedContext.
func decodeCachedContext(data json.RawMessage) (types.IngestedContext, error) {
	var stored cachedContext
	if decodeError := json.Unmarshal(data, &stored); decodeError != nil {
		return types.IngestedContext{}, fmt.Errorf(decodeCachedContextErrorFormat, decodeError)
	}
	if stored.Format != cachedContextFormat {
		return types.IngestedContext{}, fmt.Errorf(decodeCachedContextErrorFormat, errCachedContextFormat)
	}
	return stored.ingestedContext(), nil
}
