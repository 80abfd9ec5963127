/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package generator

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"chainguard.dev/issuefix/fixerr"
)

// placeholders match the elisions models use instead of writing out code.
var placeholders = []*regexp.Regexp{
	regexp.MustCompile(`(?i)//\s*\.{3}\s*(?:existing|rest|remaining|unchanged|previous|other|same)\b`),
	regexp.MustCompile(`(?i)//\s*(?:the\s+)?(?:rest|remainder)\s+of\s+(?:the\s+)?(?:code|file|implementation|function|class|component)`),
	regexp.MustCompile(`(?im)//\s*(?:existing|unchanged|previous)\s+code\b[^\w\n]*$`),
	regexp.MustCompile(`(?i)/\*\s*\.{3}\s*(?:(?:existing|rest|remaining|unchanged)[^*]*)?\*/`),
	regexp.MustCompile(`(?i)#\s*\.{3}\s*(?:existing|rest|remaining|unchanged)\b`),
	regexp.MustCompile(`(?i)<!--\s*\.{3}.*?-->`),
	regexp.MustCompile(`(?i)\.{3}\s*existing code\s*\.{3}`),
	regexp.MustCompile(`(?m)^\s*//\s*\.{3}\s*$`),
	// Chunk markers echoed back from the prompt.
	regexp.MustCompile(`\[issuefix\] lines \d+-\d+ omitted`),
}

// Placeholder returns the first elision marker in content, or "" if there is
// none.
func Placeholder(content string) string {
	for _, re := range placeholders {
		if m := re.FindString(content); m != "" {
			return strings.TrimSpace(m)
		}
	}
	return ""
}

// Check verifies that res is a usable, complete change set: at least one
// change, safe unique relative paths, known modes, and contents that are
// neither blank nor elided.
func Check(res *Result) error {
	if len(res.Changes) == 0 {
		return fixerr.New(fixerr.Generation, "generate", "generation service proposed no changes")
	}

	seen := make(map[string]bool, len(res.Changes))
	for _, c := range res.Changes {
		p := path.Clean(c.Path)
		switch {
		case strings.TrimSpace(c.Path) == "" || p == ".":
			return fixerr.New(fixerr.Generation, "generate", "change has an empty path")
		case path.IsAbs(c.Path) || p == ".." || strings.HasPrefix(p, "../"):
			return fixerr.New(fixerr.Generation, "generate", fmt.Sprintf("change path %q escapes the repository", c.Path))
		case seen[p]:
			return fixerr.New(fixerr.Generation, "generate", fmt.Sprintf("path %q changed more than once", c.Path))
		}
		seen[p] = true

		switch c.Mode {
		case "", ModeRegular, ModeExecutable:
		default:
			return fixerr.New(fixerr.Generation, "generate", fmt.Sprintf("%s: unsupported file mode %q", c.Path, c.Mode))
		}

		if strings.TrimSpace(c.Content) == "" {
			return fixerr.New(fixerr.Generation, "generate", fmt.Sprintf("%s: generated content is empty", c.Path))
		}
		if m := Placeholder(c.Content); m != "" {
			return fixerr.New(fixerr.Generation, "generate",
				fmt.Sprintf("%s: generated content is incomplete, found placeholder %q", c.Path, m))
		}
	}
	return nil
}
