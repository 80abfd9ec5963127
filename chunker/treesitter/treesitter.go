/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package treesitter provides a chunker.BoundaryFinder that reads declaration
// starts from a tree-sitter parse instead of matching keywords per line.
package treesitter

import (
	"context"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"chainguard.dev/issuefix/chunker"
)

// declarationTypes are the top-level node types that start a cut point.
var declarationTypes = map[string]bool{
	"function_declaration":           true,
	"generator_function_declaration": true,
	"class_declaration":              true,
	"abstract_class_declaration":     true,
	"interface_declaration":          true,
	"type_alias_declaration":         true,
	"enum_declaration":               true,
	"module":                         true,
	"internal_module":                true,
	"export_statement":               true,
	"lexical_declaration":            true,
}

// Finder is a chunker.BoundaryFinder backed by a tree-sitter grammar. A
// Finder is safe for concurrent use; each call parses with its own parser.
type Finder struct {
	lang     *sitter.Language
	fallback chunker.BoundaryFinder
}

var _ chunker.BoundaryFinder = (*Finder)(nil)

// TypeScript returns a Finder for .ts sources.
func TypeScript() *Finder { return &Finder{lang: typescript.GetLanguage(), fallback: chunker.Heuristic{}} }

// TSX returns a Finder for .tsx sources.
func TSX() *Finder { return &Finder{lang: tsx.GetLanguage(), fallback: chunker.Heuristic{}} }

// JavaScript returns a Finder for .js, .jsx, .mjs and .cjs sources.
func JavaScript() *Finder { return &Finder{lang: javascript.GetLanguage(), fallback: chunker.Heuristic{}} }

// ForPath picks a grammar by file extension, returning chunker.Heuristic
// for anything it has no grammar for.
func ForPath(path string) chunker.BoundaryFinder {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ts", ".mts", ".cts":
		return TypeScript()
	case ".tsx":
		return TSX()
	case ".js", ".jsx", ".mjs", ".cjs":
		return JavaScript()
	default:
		return chunker.Heuristic{}
	}
}

// Boundaries implements chunker.BoundaryFinder. Rows where a top-level
// declaration starts are boundaries, as are rows where a comment block
// directly preceding such a declaration starts. When parsing fails the
// heuristic finder is used instead.
func (f *Finder) Boundaries(lines []string) func(int) bool {
	rows, err := f.declarationRows([]byte(strings.Join(lines, "\n")))
	if err != nil {
		return f.fallback.Boundaries(lines)
	}
	return func(i int) bool { return rows[i] }
}

func (f *Finder) declarationRows(src []byte) (map[int]bool, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(f.lang)

	tree, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	root := tree.RootNode()
	rows := make(map[int]bool)
	commentStart := -1
	prevEnd := -2
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		start, end := int(child.StartPoint().Row), int(child.EndPoint().Row)

		switch {
		case child.Type() == "comment":
			if commentStart < 0 || start > prevEnd+1 {
				commentStart = start
			}
		case declarationTypes[child.Type()]:
			rows[start] = true
			if commentStart >= 0 && start == prevEnd+1 {
				rows[commentStart] = true
			}
			commentStart = -1
		default:
			commentStart = -1
		}
		prevEnd = end
	}
	return rows, nil
}
