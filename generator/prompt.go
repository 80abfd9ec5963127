/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package generator

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strings"

	"chainguard.dev/issuefix/generator/promptbuilder"
)

// SystemPrompt instructs the service on the shape of its answer.
const SystemPrompt = `You are an experienced software engineer fixing a reported issue in an existing repository.

Rules:
- Only change the files you were given, unless the fix requires a new file.
- For every file you change, return its COMPLETE new contents. Never abbreviate,
  never write placeholders such as "// ... existing code ..." or "/* ... */",
  and never copy the chunk or omitted-line markers you see in the input.
- Keep the existing style, imports and formatting of each file.
- Do not return files that need no change.
- The result must compile; it is type-checked before anyone reviews it.

Answer with a JSON object with a "summary" of the fix and a "changes" array
whose entries have "path", "content", optional "mode" ("100644" or "100755")
and an optional one-sentence "summary".`

const userTemplate = `Fix the following issue.

{{issue}}

Files selected for this issue:

{{manifest}}

Current contents of those files. Files too large to send whole are split into
chunks labelled with their line range; later chunks repeat the file's imports
followed by a marker naming the lines in between.

{{files}}
`

var userPrompt = promptbuilder.MustNewPrompt(userTemplate)

type issue struct {
	XMLName xml.Name `xml:"issue"`
	Title   string   `xml:"title"`
	Body    string   `xml:"body"`
}

type manifestEntry struct {
	Path   string `yaml:"path"`
	Lines  int    `yaml:"lines"`
	Chunks int    `yaml:"chunks"`
}

// Render produces the prompt for req.
func Render(req Request) (Prompt, error) {
	if len(req.Files) == 0 {
		return Prompt{}, errors.New("no files to send")
	}

	p, err := userPrompt.BindXML("issue", issue{Title: req.IssueTitle, Body: req.IssueBody})
	if err != nil {
		return Prompt{}, err
	}
	if p, err = p.BindYAML("manifest", map[string]any{"files": manifest(req.Files)}); err != nil {
		return Prompt{}, err
	}
	if p, err = p.BindText("files", filesText(req.Files)); err != nil {
		return Prompt{}, err
	}
	user, err := p.Build()
	if err != nil {
		return Prompt{}, err
	}
	return Prompt{System: SystemPrompt, User: user}, nil
}

func manifest(files []File) []manifestEntry {
	entries := make([]manifestEntry, 0, len(files))
	for _, f := range files {
		e := manifestEntry{Path: f.Path, Chunks: len(f.Chunks)}
		if n := len(f.Chunks); n > 0 {
			e.Lines = f.Chunks[n-1].EndLine
		}
		entries = append(entries, e)
	}
	return entries
}

func filesText(files []File) string {
	var sb strings.Builder
	for i, f := range files {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(`<file path="`)
		_ = xml.EscapeText(&sb, []byte(f.Path))
		sb.WriteString(`">` + "\n")

		if len(f.Chunks) == 1 {
			sb.WriteString(f.Chunks[0].Snippet)
		} else {
			for j, c := range f.Chunks {
				if j > 0 {
					sb.WriteString("\n")
				}
				fmt.Fprintf(&sb, "--- lines %d-%d of %d ---\n", c.StartLine, c.EndLine, f.Chunks[len(f.Chunks)-1].EndLine)
				sb.WriteString(c.Text())
			}
		}
		sb.WriteString("\n</file>")
	}
	return sb.String()
}
