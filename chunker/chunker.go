/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package chunker

import (
	"fmt"
	"strings"
)

const (
	// DefaultMaxLines is the line budget used when Options.MaxLines is unset.
	DefaultMaxLines = 700

	// contextScanLimit bounds how many leading lines are examined when
	// collecting the leading context of a file.
	contextScanLimit = 50
)

// Chunk is a contiguous line range of a source file.
type Chunk struct {
	// Snippet holds the lines StartLine through EndLine joined by "\n".
	Snippet string
	// StartLine is the 1-based first line of the chunk.
	StartLine int
	// EndLine is the 1-based inclusive last line of the chunk.
	EndLine int
	// Context is the file's leading context followed by an omitted-range
	// marker. It is empty for the first chunk of a file.
	Context string
}

// Text returns the chunk as presented downstream: its context, if any,
// followed by the snippet.
func (c Chunk) Text() string {
	if c.Context == "" {
		return c.Snippet
	}
	return c.Context + "\n" + c.Snippet
}

// BoundaryFinder reports where declarations begin.
type BoundaryFinder interface {
	// Boundaries is called once per file with its lines and returns a
	// predicate reporting whether the 0-based line index starts a
	// declaration.
	Boundaries(lines []string) func(int) bool
}

// Options configures Split.
type Options struct {
	// MaxLines is the soft per-chunk line budget. Zero means DefaultMaxLines.
	MaxLines int
	// Boundary locates declaration starts. Nil means Heuristic.
	Boundary BoundaryFinder
}

// Split partitions content into ordered chunks whose line ranges cover the
// file exactly once. Files within the budget come back as a single chunk.
// Larger files are cut at declaration starts where one is found in the back
// half of a window, and hard cut at the budget otherwise.
func Split(content string, opts Options) []Chunk {
	maxLines := opts.MaxLines
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	finder := opts.Boundary
	if finder == nil {
		finder = Heuristic{}
	}

	lines := strings.Split(content, "\n")
	if len(lines) <= maxLines {
		return []Chunk{{
			Snippet:   content,
			StartLine: 1,
			EndLine:   len(lines),
		}}
	}

	leading, contextEnd := LeadingContext(lines)
	isBoundary := finder.Boundaries(lines)

	var chunks []Chunk
	start, anchor := 0, contextEnd
	for start < len(lines) {
		end := nextBoundary(anchor, maxLines, len(lines), isBoundary)
		c := Chunk{
			Snippet:   strings.Join(lines[start:end], "\n"),
			StartLine: start + 1,
			EndLine:   end,
		}
		if len(chunks) > 0 {
			c.Context = withMarker(leading, contextEnd, start)
		}
		chunks = append(chunks, c)
		start, anchor = end, end
	}
	return chunks
}

// nextBoundary returns the exclusive end index of the window anchored at
// current. The search runs backward from current+maxLines and stops before
// reaching the first half of the window, so every chunk makes progress.
func nextBoundary(current, maxLines, total int, isBoundary func(int) bool) int {
	hard := current + maxLines
	if hard >= total {
		return total
	}
	for i := hard; i > current+maxLines/2; i-- {
		if isBoundary(i) {
			return i
		}
	}
	return hard
}

func withMarker(leading string, contextEnd, start int) string {
	marker := fmt.Sprintf("// [issuefix] lines %d-%d omitted", contextEnd+1, start)
	if leading == "" {
		return marker
	}
	return leading + "\n" + marker
}
