/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package generator_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"chainguard.dev/issuefix/chunker"
	"chainguard.dev/issuefix/fixerr"
	"chainguard.dev/issuefix/generator"
)

type fakeService struct {
	result *generator.Result
	err    error
	calls  int
	prompt generator.Prompt
}

func (f *fakeService) Generate(_ context.Context, p generator.Prompt) (*generator.Result, error) {
	f.calls++
	f.prompt = p
	return f.result, f.err
}

func request() generator.Request {
	return generator.Request{
		IssueTitle: "Crash on empty input",
		IssueBody:  "Calling parse('') throws <TypeError> & exits",
		Files: []generator.File{{
			Path:   "src/parse.ts",
			Chunks: chunker.Split("export function parse(s: string) {\n  return s.trim();\n}", chunker.Options{}),
		}},
	}
}

func TestGenerateSuccess(t *testing.T) {
	svc := &fakeService{result: &generator.Result{
		Summary: "Guard against empty input",
		Changes: []generator.FileChange{{
			Path:    "src/parse.ts",
			Content: "export function parse(s: string) {\n  if (!s) return '';\n  return s.trim();\n}\n",
		}},
	}}

	got, err := generator.New(svc).Generate(context.Background(), request())
	if err != nil {
		t.Fatalf("Generate() = %v", err)
	}
	if svc.calls != 1 {
		t.Errorf("service calls = %d, wanted = 1", svc.calls)
	}
	if got.Changes[0].Mode != generator.ModeRegular {
		t.Errorf("mode = %q, wanted = %q", got.Changes[0].Mode, generator.ModeRegular)
	}
	if svc.prompt.System != generator.SystemPrompt {
		t.Error("system prompt was not passed to the service")
	}
}

func TestGenerateServiceErrorIsNotRetried(t *testing.T) {
	svc := &fakeService{err: errors.New("503 overloaded")}
	_, err := generator.New(svc).Generate(context.Background(), request())
	if !errors.Is(err, fixerr.Generation) {
		t.Fatalf("Generate() = %v, wanted a generation error", err)
	}
	if svc.calls != 1 {
		t.Errorf("service calls = %d, wanted = 1", svc.calls)
	}
}

func TestGenerateRejectsIncompleteOutput(t *testing.T) {
	good := generator.FileChange{Path: "src/ok.ts", Content: "export const ok = true;\n"}
	tests := []struct {
		name    string
		changes []generator.FileChange
		want    string
	}{{
		name:    "no changes",
		changes: nil,
		want:    "no changes",
	}, {
		name:    "blank content",
		changes: []generator.FileChange{good, {Path: "src/a.ts", Content: " \n\t\n"}},
		want:    "src/a.ts: generated content is empty",
	}, {
		name: "placeholder",
		changes: []generator.FileChange{good, {
			Path:    "src/a.ts",
			Content: "import x from 'x';\n// ... existing code ...\nexport const y = x;\n",
		}},
		want: "placeholder",
	}, {
		name:    "absolute path",
		changes: []generator.FileChange{{Path: "/etc/passwd", Content: "x"}},
		want:    "escapes the repository",
	}, {
		name:    "parent path",
		changes: []generator.FileChange{{Path: "src/../../x.ts", Content: "x"}},
		want:    "escapes the repository",
	}, {
		name:    "duplicate path",
		changes: []generator.FileChange{good, {Path: "./src/ok.ts", Content: "x"}},
		want:    "more than once",
	}, {
		name:    "bad mode",
		changes: []generator.FileChange{{Path: "run.sh", Content: "echo", Mode: "120000"}},
		want:    "unsupported file mode",
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{result: &generator.Result{Changes: tt.changes}}
			got, err := generator.New(svc).Generate(context.Background(), request())
			if got != nil {
				t.Errorf("Generate() returned a partial result: %+v", got)
			}
			if !errors.Is(err, fixerr.Generation) {
				t.Fatalf("Generate() = %v, wanted a generation error", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, wanted it to mention %q", err, tt.want)
			}
		})
	}
}

func TestPlaceholder(t *testing.T) {
	tests := map[string]bool{
		"// ... existing code ...":                   true,
		"  // ...rest of the implementation":          true,
		"// rest of the code remains the same":        true,
		"// existing code":                            true,
		"/* ... */":                                   true,
		"{/* ... existing JSX */}":                    true,
		"# ... existing imports":                      true,
		"<!-- ... -->":                                true,
		"// ...":                                      true,
		"// [issuefix] lines 11-709 omitted":          true,
		"const args = [...rest];":                     false,
		"/* ...args are forwarded */":                 false,
		"// TODO: handle the rest of the cases later": false,
		"return { ...existing, name };":               false,
	}
	for content, want := range tests {
		if got := generator.Placeholder(content) != ""; got != want {
			t.Errorf("Placeholder(%q) found = %v, wanted = %v", content, got, want)
		}
	}
}

func TestRenderSingleChunk(t *testing.T) {
	req := request()
	req.Files[0].Chunks = chunker.Split("const tmpl = '{{name}}';", chunker.Options{})

	p, err := generator.Render(req)
	if err != nil {
		t.Fatalf("Render() = %v", err)
	}
	for _, want := range []string{
		"<title>Crash on empty input</title>",
		"&lt;TypeError&gt; &amp; exits",
		"path: src/parse.ts",
		`<file path="src/parse.ts">` + "\nconst tmpl = '{{name}}';\n</file>",
	} {
		if !strings.Contains(p.User, want) {
			t.Errorf("prompt is missing %q:\n%s", want, p.User)
		}
	}
	if strings.Contains(p.User, "--- lines") {
		t.Error("single-chunk file should be sent without line markers")
	}
}

func TestRenderMultiChunk(t *testing.T) {
	var lines []string
	lines = append(lines, "import { a } from './a';")
	for range 30 {
		lines = append(lines, "a();")
	}
	req := request()
	req.Files[0].Chunks = chunker.Split(strings.Join(lines, "\n"), chunker.Options{MaxLines: 20})

	p, err := generator.Render(req)
	if err != nil {
		t.Fatalf("Render() = %v", err)
	}

	var markers []string
	for _, l := range strings.Split(p.User, "\n") {
		if strings.HasPrefix(l, "--- lines") || strings.Contains(l, "omitted") {
			markers = append(markers, l)
		}
	}
	want := []string{
		"--- lines 1-21 of 31 ---",
		"--- lines 22-31 of 31 ---",
		"// [issuefix] lines 2-21 omitted",
	}
	if diff := cmp.Diff(want, markers); diff != "" {
		t.Errorf("markers mismatch (-want +got):\n%s", diff)
	}
}

func TestRenderNoFiles(t *testing.T) {
	if _, err := generator.Render(generator.Request{IssueTitle: "x"}); err == nil {
		t.Error("Render() with no files succeeded, wanted error")
	}
}
