/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package llmjson pulls a JSON document out of free-form model output.
package llmjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON is returned when text holds nothing that looks like JSON.
var ErrNoJSON = errors.New("no JSON found in response")

// Find returns the JSON document in text. In order of preference it takes
// the body of the first ```json fence, the body of the first bare ``` fence
// that starts with an object or array, or the span from the first opening
// brace or bracket to the last matching closer.
func Find(text string) string {
	if body, ok := fence(text, "```json"); ok {
		return body
	}
	if body, ok := fence(text, "```"); ok {
		if t := strings.TrimSpace(body); strings.HasPrefix(t, "{") || strings.HasPrefix(t, "[") {
			return t
		}
	}

	text = strings.TrimSpace(text)
	open := strings.IndexAny(text, "{[")
	if open < 0 {
		return ""
	}
	closer := "}"
	if text[open] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(text, closer)
	if end < open {
		return ""
	}
	return text[open : end+1]
}

// fence returns the content between a line equal to opener and the next
// line equal to ```.
func fence(text, opener string) (string, bool) {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		if strings.TrimSpace(l) != opener {
			continue
		}
		for j := i + 1; j < len(lines); j++ {
			if strings.TrimSpace(lines[j]) == "```" {
				return strings.TrimSpace(strings.Join(lines[i+1:j], "\n")), true
			}
		}
		return "", false
	}
	return "", false
}

// Decode finds the JSON document in text and unmarshals it into a T.
func Decode[T any](text string) (T, error) {
	var out T
	doc := Find(text)
	if doc == "" {
		return out, ErrNoJSON
	}
	if err := json.Unmarshal([]byte(doc), &out); err != nil {
		return out, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}
