/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

/*
Package chunker splits source files into bounded, ordered line ranges that a
generation service can consume without losing the file's imports.

Files within the line budget are returned whole. Larger files are cut near
the budget, preferring a line where a declaration starts so that functions
and classes stay intact. Every chunk after the first carries the file's
leading context (comments, directives and imports) and a marker naming the
line range that was left out:

	chunks := chunker.Split(content, chunker.Options{MaxLines: 700})
	for _, c := range chunks {
		fmt.Printf("lines %d-%d\n", c.StartLine, c.EndLine)
	}

Declaration detection is pluggable through BoundaryFinder. Heuristic
matches declaration keywords line by line. The treesitter subpackage offers a
grammar-backed finder for TypeScript.
*/
package chunker
