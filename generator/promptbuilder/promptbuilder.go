/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package promptbuilder fills {{name}} placeholders in developer-written
// prompt templates. Structured values are encoded with encoding/xml or
// yaml.v3, and every substituted value is written once and never rescanned,
// so issue text or file contents that contain braces cannot introduce new
// placeholders.
//
//	p := promptbuilder.MustNewPrompt(`Fix this: {{issue}}`)
//	p, err := p.BindXML("issue", issue)
//	...
//	text, err := p.Build()
//
// Prompts are immutable; each Bind method returns a new Prompt.
package promptbuilder

import (
	"encoding/xml"
	"errors"
	"fmt"
	"maps"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// template is unexported so NewPrompt only accepts untyped string constants
// from callers outside this package.
type template string

// Prompt is a template plus its bound values.
type Prompt struct {
	text     string
	bindings map[string]encoder
}

// encoder renders a bound value. A nil encoder marks a placeholder that has
// not been bound yet.
type encoder func() (string, error)

// NewPrompt parses tmpl and records its placeholders.
func NewPrompt(tmpl template) (*Prompt, error) {
	bindings := make(map[string]encoder)
	if _, err := walk(string(tmpl), func(name string) (string, error) {
		bindings[name] = nil
		return "", nil
	}); err != nil {
		return nil, err
	}
	return &Prompt{text: string(tmpl), bindings: bindings}, nil
}

// BindXML binds data marshalled as indented XML.
func (p *Prompt) BindXML(name string, data any) (*Prompt, error) {
	return p.bind(name, func() (string, error) {
		b, err := xml.MarshalIndent(data, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal %s as XML: %w", name, err)
		}
		return string(b), nil
	})
}

// BindYAML binds data marshalled as YAML, without the trailing newline.
func (p *Prompt) BindYAML(name string, data any) (*Prompt, error) {
	return p.bind(name, func() (string, error) {
		b, err := yaml.Marshal(data)
		if err != nil {
			return "", fmt.Errorf("marshal %s as YAML: %w", name, err)
		}
		return strings.TrimRight(string(b), "\n"), nil
	})
}

// BindText binds text that is already formatted for the prompt, such as
// source code framed by the caller. It is inserted verbatim.
func (p *Prompt) BindText(name, text string) (*Prompt, error) {
	return p.bind(name, func() (string, error) { return text, nil })
}

func (p *Prompt) bind(name string, enc encoder) (*Prompt, error) {
	existing, ok := p.bindings[name]
	switch {
	case !ok:
		return nil, fmt.Errorf("placeholder %q not found in template", name)
	case existing != nil:
		return nil, fmt.Errorf("placeholder %q already bound", name)
	}
	next := &Prompt{text: p.text, bindings: maps.Clone(p.bindings)}
	next.bindings[name] = enc
	return next, nil
}

// Build renders the prompt. Every placeholder must be bound.
func (p *Prompt) Build() (string, error) {
	values := make(map[string]string, len(p.bindings))
	for name, enc := range p.bindings {
		if enc == nil {
			return "", fmt.Errorf("unbound placeholder: %s", name)
		}
		v, err := enc()
		if err != nil {
			return "", err
		}
		values[name] = v
	}
	return walk(p.text, func(name string) (string, error) {
		return values[name], nil
	})
}

// Must panics if err is non-nil.
func Must(p *Prompt, err error) *Prompt {
	if err != nil {
		panic(err)
	}
	return p
}

// MustNewPrompt is Must(NewPrompt(tmpl)), for package-level templates.
func MustNewPrompt(tmpl template) *Prompt {
	return Must(NewPrompt(tmpl))
}

// walk copies tmpl, replacing each placeholder with resolve's answer.
func walk(tmpl string, resolve func(name string) (string, error)) (string, error) {
	var out strings.Builder
	for {
		start := strings.Index(tmpl, "{{")
		if start < 0 {
			out.WriteString(tmpl)
			return out.String(), nil
		}
		out.WriteString(tmpl[:start])

		end := strings.Index(tmpl[start:], "}}")
		if end < 0 {
			return "", errors.New("unclosed placeholder: missing '}}'")
		}
		name := strings.TrimSpace(tmpl[start+2 : start+end])
		if !identifier(name) {
			return "", fmt.Errorf("invalid placeholder %q", name)
		}
		v, err := resolve(name)
		if err != nil {
			return "", err
		}
		out.WriteString(v)
		tmpl = tmpl[start+end+2:]
	}
}

// identifier reports whether s is a letter followed by letters, digits or
// underscores.
func identifier(s string) bool {
	for i, r := range s {
		switch {
		case unicode.IsLetter(r):
		case i > 0 && (unicode.IsDigit(r) || r == '_'):
		default:
			return false
		}
	}
	return s != ""
}
