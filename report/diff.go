/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package report

import (
	"fmt"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/waigani/diffparser"

	"chainguard.dev/issuefix/generator"
)

// FileStat counts the lines a change adds and removes.
type FileStat struct {
	Path    string
	Added   int
	Removed int
	// New is set when the file did not exist before.
	New bool
}

// UnifiedDiff returns a git-style unified diff of one file; when exists is
// false the diff creates it. It returns "" when nothing changed.
func UnifiedDiff(path, before, after string, exists bool) (string, error) {
	from := "a/" + path
	if !exists {
		from = "/dev/null"
	}
	body, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        lines(before),
		B:        lines(after),
		FromFile: from,
		ToFile:   "b/" + path,
		Context:  3,
	})
	if err != nil || body == "" {
		return "", err
	}
	return fmt.Sprintf("diff --git a/%s b/%s\n%s", path, path, body), nil
}

func lines(s string) []string {
	if s == "" {
		return nil
	}
	return difflib.SplitLines(s)
}

// Diffstat compares each change against the original content of its path.
// Paths missing from originals are new files. Unchanged files are omitted.
func Diffstat(originals map[string]string, changes []generator.FileChange) ([]FileStat, error) {
	var stats []FileStat
	for _, c := range changes {
		before, exists := originals[c.Path]
		diff, err := UnifiedDiff(c.Path, before, c.Content, exists)
		if err != nil {
			return nil, fmt.Errorf("diffing %s: %w", c.Path, err)
		}
		if diff == "" {
			continue
		}
		parsed, err := diffparser.Parse(diff)
		if err != nil {
			return nil, fmt.Errorf("parsing diff of %s: %w", c.Path, err)
		}
		st := FileStat{Path: c.Path, New: !exists}
		for _, f := range parsed.Files {
			for _, h := range f.Hunks {
				for _, l := range h.WholeRange.Lines {
					switch l.Mode {
					case diffparser.ADDED:
						st.Added++
					case diffparser.REMOVED:
						st.Removed++
					}
				}
			}
		}
		stats = append(stats, st)
	}
	return stats, nil
}
