package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/workmesh/ndp/internal/llm"
	"github.com/workmesh/ndp/internal/ndperr"
	"github.com/workmesh/ndp/internal/process"
)

// maxDocBytes caps how much of a document is returned.
const maxDocBytes = 200000

// ReadDocsConfig configures the read_docs tool.
type ReadDocsConfig struct {
	// Root is the directory documents are served from.
	Root string
}

// ReadDocs returns the read_docs tool. Without a path argument it lists
// the available documents; with one it returns the document's text.
func ReadDocs(cfg ReadDocsConfig) *Provider {
	return &Provider{
		Name:        "read_docs",
		Description: "Reads a document from the workspace docs. Call without a path to list available documents.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string"}
			},
			"additionalProperties": false
		}`),
		Factory: func(args json.RawMessage) process.Runner {
			return RunnerFunc(func(ctx context.Context, h *process.Handle) (json.RawMessage, error) {
				var a struct {
					Path string `json:"path"`
				}
				if err := json.Unmarshal(args, &a); err != nil {
					return nil, ndperr.BadToolArgumentsError("read_docs", err)
				}
				if a.Path == "" {
					listing, err := listDocs(cfg.Root)
					if err != nil {
						return nil, ndperr.New(500, "ToolError.read_docs", ndperr.KindRuntime, "list documents").WithCause(err)
					}
					return MarshalOutput(llm.Content{Mode: llm.ModeRequired, Text: listing})
				}
				target, err := resolveDocPath(cfg.Root, a.Path)
				if err != nil {
					return nil, ndperr.New(400, "ToolError.read_docs", ndperr.KindNormal, err.Error())
				}
				data, err := os.ReadFile(target)
				if err != nil {
					if os.IsNotExist(err) {
						return nil, ndperr.New(404, "ToolError.read_docs", ndperr.KindNormal,
							fmt.Sprintf("document %q not found", a.Path))
					}
					return nil, ndperr.New(500, "ToolError.read_docs", ndperr.KindRuntime, "read document").WithCause(err)
				}
				if len(data) > maxDocBytes {
					data = data[:maxDocBytes]
				}
				return MarshalOutput(
					llm.Content{Mode: llm.ModeRequired, Text: "document: " + a.Path},
					llm.Content{Mode: llm.ModeTemp, Text: string(data)},
				)
			})
		},
	}
}

// resolveDocPath returns an absolute path inside the docs root, rejecting
// escapes.
func resolveDocPath(root, path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	if root == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve docs root: %w", err)
	}
	target := filepath.Join(rootAbs, filepath.Clean(path))
	rel, err := filepath.Rel(rootAbs, target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes the docs root")
	}
	return target, nil
}

func listDocs(root string) (string, error) {
	if root == "" {
		root = "."
	}
	var paths []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return "no documents available", nil
	}
	return strings.Join(paths, "\n"), nil
}
