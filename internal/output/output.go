// Package output renders ingested contexts as raw text, JSON or XML.
package output

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/temirov/repolens/internal/types"
)

const (
	indentPrefix = ""
	indentSpacer = "  "

	xmlHeader = xml.Header

	treeRootLabel       = "."
	treeHeader          = "--- Directory Tree ---"
	treeBranchConnector = "├── "
	treeLastConnector   = "└── "
	treeBranchPadding   = "│   "
	treeLastPadding     = "    "
	folderSuffix        = "/"

	limitReachedNotice = "Note: total size limit reached; remaining files were omitted."
)

// ErrUnsupportedFormat is returned for an unknown output format.
var ErrUnsupportedFormat = errors.New("unsupported output format")

// Document is the structured rendering of an ingested repository.
type Document struct {
	XMLName xml.Name              `json:"-" xml:"repository"`
	Summary *types.ContextSummary `json:"summary,omitempty" xml:"summary,omitempty"`
	Tree    []*types.TreeNode     `json:"tree,omitempty" xml:"tree>node,omitempty"`
	Files   []types.FileRecord    `json:"files" xml:"files>file"`
}

// NewDocument assembles a Document, leaving the tree out unless includeTree is set.
func NewDocument(ingested types.IngestedContext, summary *types.ContextSummary, includeTree bool) Document {
	document := Document{Summary: summary, Files: ingested.Files}
	if document.Files == nil {
		document.Files = []types.FileRecord{}
	}
	if includeTree {
		document.Tree = ingested.Tree
	}
	return document
}

// Render writes ingested in the requested format.
func Render(writer io.Writer, format string, ingested types.IngestedContext, summary *types.ContextSummary, includeTree bool) error {
	var rendered string
	var renderError error
	switch strings.ToLower(format) {
	case types.FormatRaw:
		rendered = RenderRaw(ingested, summary, includeTree)
	case types.FormatJSON:
		rendered, renderError = RenderJSON(NewDocument(ingested, summary, includeTree))
	case types.FormatXML:
		rendered, renderError = RenderXML(NewDocument(ingested, summary, includeTree))
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if renderError != nil {
		return renderError
	}
	_, writeError := io.WriteString(writer, rendered)
	return writeError
}

// RenderJSON marshals a Document as indented JSON.
func RenderJSON(document Document) (string, error) {
	encoded, jsonEncodeError := json.MarshalIndent(document, indentPrefix, indentSpacer)
	return string(encoded), jsonEncodeError
}

// RenderXML marshals a Document as an indented XML document.
func RenderXML(document Document) (string, error) {
	encoded, xmlMarshalError := xml.MarshalIndent(document, indentPrefix, indentSpacer)
	if xmlMarshalError != nil {
		return "", xmlMarshalError
	}
	return xmlHeader + string(encoded), nil
}

// RenderRaw returns the prompt-ready text: an optional summary line, an optional tree,
// then every file framed by its path header.
func RenderRaw(ingested types.IngestedContext, summary *types.ContextSummary, includeTree bool) string {
	var builder strings.Builder
	if summary != nil {
		builder.WriteString(FormatSummaryLine(*summary))
		builder.WriteString("\n")
		if summary.LimitReached {
			builder.WriteString(limitReachedNotice)
			builder.WriteString("\n")
		}
		builder.WriteString("\n")
	}
	if includeTree {
		builder.WriteString(treeHeader)
		builder.WriteString("\n")
		WriteTreeRaw(&builder, ingested.Tree)
	}
	builder.WriteString(ingested.Text())
	return builder.String()
}

// WriteTreeRaw renders a forest of tree nodes beneath a "." root.
func WriteTreeRaw(writer io.Writer, nodes []*types.TreeNode) {
	fmt.Fprintln(writer, treeRootLabel)
	renderTreeNodes(writer, nodes, "")
}

func renderTreeNodes(writer io.Writer, nodes []*types.TreeNode, prefix string) {
	for index, node := range nodes {
		if node == nil {
			continue
		}
		isLast := index == len(nodes)-1
		connector, childPrefix := treeBranchConnector, prefix+treeBranchPadding
		if isLast {
			connector, childPrefix = treeLastConnector, prefix+treeLastPadding
		}
		if node.Type == types.NodeTypeFolder {
			fmt.Fprintf(writer, "%s%s%s%s\n", prefix, connector, node.Name, folderSuffix)
			renderTreeNodes(writer, node.Children, childPrefix)
			continue
		}
		fmt.Fprintf(writer, "%s%s%s\n", prefix, connector, node.Name)
	}
}

// FormatSummaryLine formats a ContextSummary into the raw summary line.
func FormatSummaryLine(summary types.ContextSummary) string {
	label := "files"
	if summary.TotalFiles == 1 {
		label = "file"
	}
	extra := ""
	if summary.TotalTokens > 0 {
		extra = fmt.Sprintf(", %d tokens", summary.TotalTokens)
	}
	modelSuffix := ""
	if summary.Model != "" {
		modelSuffix = fmt.Sprintf(" (model: %s)", summary.Model)
	}
	revisionSuffix := ""
	if summary.Revision != "" {
		revisionSuffix = fmt.Sprintf(" @ %s", summary.Revision)
	}
	return fmt.Sprintf("Summary: %d %s, %s%s%s%s", summary.TotalFiles, label, summary.TotalSize, extra, modelSuffix, revisionSuffix)
}
