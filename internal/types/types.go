// Package types defines every cross‑package data structure used by repolens.
package types

import (
	"encoding/xml"
	"strings"
)

const (
	NodeTypeFile   = "file"
	NodeTypeFolder = "folder"

	FormatRaw  = "raw"
	FormatJSON = "json"
	FormatXML  = "xml"

	// TruncationMarker is appended to file content cut at the per-file limit.
	TruncationMarker = "\n... [truncated]"

	fileHeaderPrefix = "\n--- FILE: "
	fileHeaderSuffix = " ---\n"
)

// FileRecord is one serialized file of an ingested working copy.
type FileRecord struct {
	Path      string `json:"path" xml:"path"`
	Content   string `json:"content" xml:"content"`
	Truncated bool   `json:"truncated,omitempty" xml:"truncated,omitempty"`
}

// TreeNode is a node of the directory tree of an ingested working copy.
type TreeNode struct {
	XMLName  xml.Name    `json:"-" xml:"node"`
	Name     string      `json:"name" xml:"name"`
	Path     string      `json:"path" xml:"path"`
	Type     string      `json:"type" xml:"type"`
	Children []*TreeNode `json:"children,omitempty" xml:"children>node,omitempty"`
}

// IngestedContext is the flattened representation of a working copy.
// Paths are relative and slash separated so that identical trees produce identical values.
type IngestedContext struct {
	XMLName      xml.Name     `json:"-" xml:"context"`
	Files        []FileRecord `json:"files" xml:"files>file"`
	Tree         []*TreeNode  `json:"tree" xml:"tree>node"`
	TotalBytes   int          `json:"totalBytes" xml:"totalBytes"`
	LimitReached bool         `json:"limitReached,omitempty" xml:"limitReached,omitempty"`
}

// Text concatenates every record into the prompt-ready blob.
func (ingested IngestedContext) Text() string {
	var builder strings.Builder
	for _, record := range ingested.Files {
		builder.WriteString(fileHeaderPrefix)
		builder.WriteString(record.Path)
		builder.WriteString(fileHeaderSuffix)
		builder.WriteString(record.Content)
		builder.WriteString("\n")
	}
	return builder.String()
}

// FileCount reports the number of serialized records.
func (ingested IngestedContext) FileCount() int {
	return len(ingested.Files)
}

// ContextSummary captures aggregate information about an ingested context.
type ContextSummary struct {
	Repository   string `json:"repository" xml:"repository"`
	Revision     string `json:"revision" xml:"revision"`
	TotalFiles   int    `json:"totalFiles" xml:"totalFiles"`
	TotalSize    string `json:"totalSize" xml:"totalSize"`
	TotalTokens  int    `json:"totalTokens,omitempty" xml:"totalTokens,omitempty"`
	Model        string `json:"model,omitempty" xml:"model,omitempty"`
	LimitReached bool   `json:"limitReached,omitempty" xml:"limitReached,omitempty"`
	FromCache    bool   `json:"fromCache,omitempty" xml:"fromCache,omitempty"`
}
