/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package report renders generated changes and their validation outcome as
// Markdown, for pull request bodies and API responses.
package report

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"

	"chainguard.dev/issuefix/generator"
	"chainguard.dev/issuefix/sandbox"
)

// Input is everything a report covers.
type Input struct {
	Summary string
	Changes []generator.FileChange
	Stats   []FileStat
	// Job is nil when validation was not run.
	Job *sandbox.Job
}

// Markdown writes the report for in to w.
func Markdown(w io.Writer, in Input) error {
	var sb strings.Builder

	if in.Summary != "" {
		sb.WriteString(in.Summary)
		sb.WriteString("\n\n")
	}

	if len(in.Stats) > 0 {
		sb.WriteString("#### Changed files\n\n")
		table := newTable([]string{"File", "Added", "Removed"}, &sb)
		for _, st := range in.Stats {
			name := "`" + st.Path + "`"
			if st.New {
				name += " (new)"
			}
			_ = table.Append([]string{name, fmt.Sprintf("+%d", st.Added), fmt.Sprintf("-%d", st.Removed)})
		}
		if err := table.Render(); err != nil {
			return fmt.Errorf("rendering file table: %w", err)
		}
		sb.WriteString("\n")
	}

	if in.Job != nil {
		fmt.Fprintf(&sb, "#### Validation: %s\n\n", in.Job.Status)
		fmt.Fprintf(&sb, "Type-check job `%s` finished in %s.\n", in.Job.ID, in.Job.Duration.Round(time.Millisecond))
		if len(in.Job.Warnings) > 0 {
			sb.WriteString("\n")
			for _, warn := range in.Job.Warnings {
				fmt.Fprintf(&sb, "- %s\n", warn)
			}
		}
		if len(in.Job.Errors) > 0 {
			sb.WriteString("\n")
			raw := "```\n" + strings.Join(in.Job.Errors, "\n") + "\n```\n"
			if len(sandbox.ParseDiagnostics(strings.Join(in.Job.Errors, "\n"))) == 0 {
				sb.WriteString(raw)
			} else {
				if err := Errors(&sb, in.Job); err != nil {
					return fmt.Errorf("rendering diagnostics table: %w", err)
				}
				sb.WriteString("\n<details><summary>Compiler output</summary>\n\n" + raw + "\n</details>\n")
			}
		}
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

// Errors renders the diagnostics of a job as a table of location, code and
// message.
func Errors(w io.Writer, job *sandbox.Job) error {
	table := newTable([]string{"Location", "Code", "Message"}, w)
	for _, d := range sandbox.ParseDiagnostics(strings.Join(job.Errors, "\n")) {
		loc := d.File
		if loc != "" {
			loc = fmt.Sprintf("%s:%d:%d", d.File, d.Line, d.Column)
		}
		_ = table.Append([]string{loc, d.Code, d.Message})
	}
	return table.Render()
}

// Paths returns the sorted paths touched by changes.
func Paths(changes []generator.FileChange) []string {
	out := make([]string, 0, len(changes))
	for _, c := range changes {
		out = append(out, c.Path)
	}
	slices.Sort(out)
	return out
}

func newTable(headers []string, w io.Writer) *tablewriter.Table {
	cfg := tablewriter.Config{
		Header: tw.CellConfig{
			Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			Formatting: tw.CellFormatting{AutoFormat: tw.Off},
		},
		Row: tw.CellConfig{
			Alignment: tw.CellAlignment{Global: tw.AlignLeft},
		},
		Behavior: tw.Behavior{TrimSpace: tw.Off},
	}
	return tablewriter.NewTable(w,
		tablewriter.WithConfig(cfg),
		tablewriter.WithHeader(headers),
		tablewriter.WithRenderer(renderer.NewBlueprint()),
		tablewriter.WithRendition(tw.Rendition{
			Symbols: tw.NewSymbols(tw.StyleMarkdown),
			Borders: tw.Border{
				Left:   tw.On,
				Top:    tw.Off,
				Right:  tw.On,
				Bottom: tw.Off,
			},
		}),
		tablewriter.WithRowAutoWrap(tw.WrapNone),
	)
}
