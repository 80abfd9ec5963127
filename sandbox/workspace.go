/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"chainguard.dev/issuefix/generator"
)

// checkedExtensions are the files handed to the type-checker.
var checkedExtensions = map[string]bool{
	".ts": true, ".tsx": true, ".mts": true, ".cts": true,
	".js": true, ".jsx": true, ".mjs": true, ".cjs": true,
}

func checkJobID(id string) error {
	switch {
	case id == "", id == ".", id == "..":
		return fmt.Errorf("invalid job id %q", id)
	case strings.ContainsAny(id, `/\`+"\x00"):
		return fmt.Errorf("job id %q must be a single path element", id)
	case strings.HasSuffix(id, QuarantineSuffix):
		return fmt.Errorf("job id %q cannot end in %q", id, QuarantineSuffix)
	}
	return nil
}

// WorkspacePath returns the primary workspace directory for jobID.
func WorkspacePath(baseDir, jobID string) string {
	return filepath.Join(baseDir, WorkspacePrefix+jobID)
}

// QuarantinePath returns the quarantine directory for jobID.
func QuarantinePath(baseDir, jobID string) string {
	return WorkspacePath(baseDir, jobID) + QuarantineSuffix
}

func exists(p string) bool {
	_, err := os.Lstat(p)
	return err == nil
}

// materialize writes files under dir and returns the slash-separated
// relative paths of the ones the type-checker should see.
func materialize(dir string, files []generator.FileChange) ([]string, error) {
	var checked []string
	for _, f := range files {
		rel := path.Clean(strings.TrimPrefix(f.Path, "./"))
		if !filepath.IsLocal(filepath.FromSlash(rel)) || rel == ProjectFile {
			return nil, fmt.Errorf("refusing to write %q outside the workspace", f.Path)
		}
		target := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, fmt.Errorf("creating parent of %s: %w", rel, err)
		}
		perm := fs.FileMode(0o644)
		if f.Mode == generator.ModeExecutable {
			perm = 0o755
		}
		if err := os.WriteFile(target, []byte(f.Content), perm); err != nil {
			return nil, fmt.Errorf("writing %s: %w", rel, err)
		}
		if checkedExtensions[path.Ext(rel)] {
			checked = append(checked, rel)
		}
	}
	return checked, nil
}

type project struct {
	CompilerOptions compilerOptions `json:"compilerOptions"`
	Files           []string        `json:"files"`
}

type compilerOptions struct {
	NoEmit           bool     `json:"noEmit"`
	NoResolve        bool     `json:"noResolve"`
	SkipLibCheck     bool     `json:"skipLibCheck"`
	AllowJS          bool     `json:"allowJs"`
	CheckJS          bool     `json:"checkJs"`
	Types            []string `json:"types"`
	Target           string   `json:"target"`
	Module           string   `json:"module"`
	ModuleResolution string   `json:"moduleResolution"`
	JSX              string   `json:"jsx"`
	ESModuleInterop  bool     `json:"esModuleInterop"`
}

// writeProject writes a compiler configuration that checks exactly files
// and resolves nothing outside them.
func writeProject(dir string, files []string) error {
	p := project{
		CompilerOptions: compilerOptions{
			NoEmit:           true,
			NoResolve:        true,
			SkipLibCheck:     true,
			AllowJS:          true,
			Types:            []string{},
			Target:           "es2022",
			Module:           "esnext",
			ModuleResolution: "bundler",
			JSX:              "preserve",
			ESModuleInterop:  true,
		},
		Files: files,
	}
	b, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, ProjectFile), b, 0o644)
}

// quarantine moves primary to its quarantine sibling and returns the new
// path. The two directories never both exist once it returns: on failure
// primary is left where it was.
func quarantine(primary string) (string, error) {
	q := primary + QuarantineSuffix
	if err := os.RemoveAll(q); err != nil {
		return "", fmt.Errorf("removing stale quarantine: %w", err)
	}
	if err := os.Rename(primary, q); err == nil {
		return q, nil
	}

	// Rename fails across filesystems.
	if err := os.CopyFS(q, os.DirFS(primary)); err != nil {
		return "", errors.Join(fmt.Errorf("copying to quarantine: %w", err), os.RemoveAll(q))
	}
	if err := os.RemoveAll(primary); err != nil {
		return "", errors.Join(fmt.Errorf("removing primary after copy: %w", err), os.RemoveAll(q))
	}
	return q, nil
}
