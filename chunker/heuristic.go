/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package chunker

import (
	"regexp"
	"strings"
)

var (
	declarationRE = regexp.MustCompile(
		`^\s*(?:export\s+(?:default\s+)?)?(?:declare\s+)?(?:abstract\s+)?(?:async\s+)?` +
			`(?:function\b|class\b|interface\b|(?:const\s+)?enum\b|type\s+[A-Za-z_$][\w$]*\s*(?:<[^=]*>)?\s*=|func\s|def\s)`)

	directiveRE = regexp.MustCompile(`^['"]use [\w ]+['"];?$`)
	requireRE   = regexp.MustCompile(`^(?:const|let|var)\s+[\w${},\s]+=\s*require\(`)
)

// Heuristic is the default BoundaryFinder. It matches lines that open a
// function, class, interface, type alias or enum declaration, with optional
// export, default, declare, abstract and async modifiers.
type Heuristic struct{}

var _ BoundaryFinder = Heuristic{}

// Boundaries implements BoundaryFinder.
func (Heuristic) Boundaries(lines []string) func(int) bool {
	return func(i int) bool {
		return i >= 0 && i < len(lines) && IsDeclaration(lines[i])
	}
}

// IsDeclaration reports whether line opens a top-level style declaration.
func IsDeclaration(line string) bool {
	return declarationRE.MatchString(line)
}

// LeadingContext collects the contiguous run of blank, comment, directive and
// import or re-export lines at the top of a file, examining at most the first
// 50 lines. It returns the collected text (trailing blank lines trimmed) and
// the 0-based index of the first line after the run.
func LeadingContext(lines []string) (string, int) {
	limit := min(len(lines), contextScanLimit)

	end := 0
	inComment, inImport := false, false
	for i := range limit {
		line := strings.TrimSpace(lines[i])

		switch {
		case inComment:
			if strings.Contains(line, "*/") {
				inComment = false
			}
		case inImport:
			if strings.Contains(line, "}") {
				inImport = false
			}
		case line == "",
			strings.HasPrefix(line, "//"),
			strings.HasPrefix(line, "#!"),
			strings.HasPrefix(line, "*"),
			directiveRE.MatchString(line),
			requireRE.MatchString(line):
		case strings.HasPrefix(line, "/*"):
			inComment = !strings.Contains(line[2:], "*/")
		case isImport(line):
			inImport = strings.Contains(line, "{") && !strings.Contains(line, "}")
		default:
			return trimmedContext(lines[:end]), end
		}
		end = i + 1
	}
	return trimmedContext(lines[:end]), end
}

func isImport(line string) bool {
	switch {
	case strings.HasPrefix(line, "import "),
		strings.HasPrefix(line, "import{"),
		strings.HasPrefix(line, "import'"),
		strings.HasPrefix(line, `import"`),
		strings.HasPrefix(line, "export *"):
		return true
	case strings.HasPrefix(line, "export {"), strings.HasPrefix(line, "export type {"):
		// A single-line export list only counts when it re-exports.
		return strings.Contains(line, " from ") || !strings.Contains(line, "}")
	}
	return false
}

func trimmedContext(lines []string) string {
	n := len(lines)
	for n > 0 && strings.TrimSpace(lines[n-1]) == "" {
		n--
	}
	return strings.Join(lines[:n], "\n")
}
