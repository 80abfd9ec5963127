/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package gcsarchive uploads quarantined validation workspaces to a Cloud
// Storage bucket as gzipped tarballs.
package gcsarchive

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"github.com/chainguard-dev/clog"

	"chainguard.dev/issuefix/sandbox"
)

// Archiver implements sandbox.Archiver.
type Archiver struct {
	prefix    string
	newWriter func(ctx context.Context, object string) io.WriteCloser
	now       func() time.Time
}

var _ sandbox.Archiver = (*Archiver)(nil)

// New returns an Archiver writing objects named
// <prefix>/<date>/<jobID>.tar.gz into bucket.
func New(client *storage.Client, bucket, prefix string) *Archiver {
	b := client.Bucket(bucket)
	return &Archiver{
		prefix: prefix,
		newWriter: func(ctx context.Context, object string) io.WriteCloser {
			w := b.Object(object).NewWriter(ctx)
			w.ContentType = "application/gzip"
			return w
		},
		now: time.Now,
	}
}

// ObjectName returns where the archive for jobID is stored.
func (a *Archiver) ObjectName(jobID string) string {
	return path.Join(a.prefix, a.now().UTC().Format("2006-01-02"), jobID+".tar.gz")
}

// Archive implements sandbox.Archiver.
func (a *Archiver) Archive(ctx context.Context, jobID, dir string) error {
	object := a.ObjectName(jobID)
	w := a.newWriter(ctx, object)
	if err := writeTarball(w, dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("archiving %s: %w", dir, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("uploading %s: %w", object, err)
	}
	clog.FromContext(ctx).With("object", object).Info("Archived quarantined workspace")
	return nil
}

func writeTarball(w io.Writer, dir string) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}
