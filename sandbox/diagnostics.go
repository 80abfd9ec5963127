/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package sandbox

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Diagnostic is one compiler error.
type Diagnostic struct {
	File    string
	Line    int
	Column  int
	Code    string
	Message string
}

// String renders the diagnostic the way tsc does with --pretty false.
func (d Diagnostic) String() string {
	if d.File == "" {
		return fmt.Sprintf("error %s: %s", d.Code, d.Message)
	}
	return fmt.Sprintf("%s(%d,%d): error %s: %s", d.File, d.Line, d.Column, d.Code, d.Message)
}

var (
	// app.ts(3,7): error TS2322: Type 'string' is not assignable to type 'number'.
	plainRE = regexp.MustCompile(`^(.+?)\((\d+),(\d+)\): error (TS\d+): (.*)$`)
	// app.ts:3:7 - error TS2322: ...
	prettyRE = regexp.MustCompile(`^(.+?):(\d+):(\d+) - error (TS\d+): (.*)$`)
	// error TS5083: Cannot read file '/tmp/tsconfig.json'.
	globalRE = regexp.MustCompile(`^error (TS\d+): (.*)$`)
)

// ParseDiagnostics extracts diagnostics from compiler output. Indented
// continuation lines are folded into the preceding message.
func ParseDiagnostics(output string) []Diagnostic {
	var diags []Diagnostic
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if m := plainRE.FindStringSubmatch(line); m != nil {
			diags = append(diags, located(m))
			continue
		}
		if m := prettyRE.FindStringSubmatch(line); m != nil {
			diags = append(diags, located(m))
			continue
		}
		if m := globalRE.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			diags = append(diags, Diagnostic{Code: m[1], Message: m[2]})
			continue
		}
		if len(diags) > 0 && strings.HasPrefix(line, "  ") && strings.TrimSpace(line) != "" {
			last := &diags[len(diags)-1]
			last.Message += " " + strings.TrimSpace(line)
		}
	}
	return diags
}

func located(m []string) Diagnostic {
	line, _ := strconv.Atoi(m[2])
	col, _ := strconv.Atoi(m[3])
	return Diagnostic{File: m[1], Line: line, Column: col, Code: m[4], Message: m[5]}
}

// Diagnostics about modules the sandbox never has.
var unresolvedModuleCodes = map[string]bool{
	"TS2307": true, // Cannot find module 'x' or its corresponding type declarations.
	"TS2792": true, // Cannot find module 'x'. Did you mean to set 'moduleResolution'?
	"TS7016": true, // Could not find a declaration file for module 'x'.
}

// Diagnostics about names that come from @types packages or globals.
var unresolvedNameCodes = map[string]bool{
	"TS2304": true, // Cannot find name 'x'.
	"TS2580": true, // Cannot find name 'x'. Do you need to install type definitions for node?
	"TS2582": true, // Cannot find name 'x'. Do you need to install type definitions for a test runner?
	"TS2591": true, // Cannot find name 'x'. ... add 'node' to the types field.
	"TS2503": true, // Cannot find namespace 'x'.
}

var ambientNames = map[string]bool{
	// Node.js
	"process": true, "require": true, "module": true, "exports": true,
	"__dirname": true, "__filename": true, "Buffer": true, "global": true,
	"NodeJS": true, "setImmediate": true, "clearImmediate": true,
	// Test runners
	"describe": true, "it": true, "test": true, "expect": true, "jest": true,
	"beforeEach": true, "afterEach": true, "beforeAll": true, "afterAll": true,
	"vi": true, "suite": true, "context": true,
	// Browser and frameworks
	"window": true, "document": true, "navigator": true, "localStorage": true,
	"React": true, "JSX": true, "Deno": true, "Bun": true,
}

var nameRE = regexp.MustCompile(`^Cannot find (?:name|namespace) '([^']+)'`)

// IsNoise reports whether d is caused by the scoped check itself rather
// than by the generated code: an unresolved module, or an unresolved
// well-known ambient name.
func IsNoise(d Diagnostic) bool {
	if unresolvedModuleCodes[d.Code] {
		return true
	}
	if !unresolvedNameCodes[d.Code] {
		return false
	}
	m := nameRE.FindStringSubmatch(d.Message)
	return m != nil && ambientNames[m[1]]
}

// Filter drops noise from diags, returning what remains and how many were
// dropped.
func Filter(diags []Diagnostic) (kept []Diagnostic, suppressed int) {
	for _, d := range diags {
		if IsNoise(d) {
			suppressed++
			continue
		}
		kept = append(kept, d)
	}
	return kept, suppressed
}
