// Copyright (C) 2025 Dyne.org foundation
// designed, written and maintained by Denis Roio <jaromil@dyne.org>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package discover implements the structured filesystem discovery tools:
// directory listing, bounded file reads and ripgrep-backed searches. The
// tools fail soft: every failure is a typed error the dispatcher renders as
// result text.
package discover

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"toolrun/internal/payload"
	"toolrun/internal/paths"

	apperrors "toolrun/internal/errors"
)

// Discoverer executes discovery tools against a working directory.
type Discoverer struct {
	WorkDir string
}

// New returns a discoverer rooted at workdir.
func New(workdir string) *Discoverer {
	return &Discoverer{WorkDir: workdir}
}

// ListDirResult carries a bounded directory listing.
type ListDirResult struct {
	Path      string
	Lines     []string
	Shown     int
	Truncated bool
}

// ListDir emits numbered entries, optionally recursing. Output stops at the
// entry bound with an explicit truncation flag.
func (d *Discoverer) ListDir(ctx context.Context, args *payload.ListDirArgs) (*ListDirResult, error) {
	resolved, err := paths.Resolve(args.Path, d.WorkDir)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeToolExecution, "invalid directory path", err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeToolExecution, "cannot stat directory", err)
	}
	if !info.IsDir() {
		return nil, apperrors.Newf(apperrors.CodeToolExecution, "path %q is not a directory", args.Path)
	}

	res := &ListDirResult{Path: args.Path}
	emit := func(kind, name string) bool {
		if len(res.Lines) >= args.MaxEntries {
			res.Truncated = true
			return false
		}
		res.Lines = append(res.Lines, fmt.Sprintf("%d. [%s] %s", len(res.Lines)+1, kind, name))
		return true
	}

	if args.Recursive {
		err = filepath.WalkDir(resolved, func(path string, entry fs.DirEntry, walkErr error) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if walkErr != nil || path == resolved {
				return walkErr
			}
			rel, relErr := filepath.Rel(resolved, path)
			if relErr != nil {
				rel = path
			}
			if !emit(entryKind(entry.Type()), rel) {
				return io.EOF
			}
			return nil
		})
		if err == io.EOF {
			err = nil
		}
	} else {
		var entries []fs.DirEntry
		entries, err = os.ReadDir(resolved)
		if err == nil {
			for _, entry := range entries {
				if !emit(entryKind(entry.Type()), entry.Name()) {
					break
				}
			}
		}
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeToolExecution, "directory walk failed", err)
	}
	res.Shown = len(res.Lines)
	return res, nil
}

func entryKind(mode fs.FileMode) string {
	switch {
	case mode.IsDir():
		return "dir"
	case mode&fs.ModeSymlink != 0:
		return "link"
	default:
		return "file"
	}
}

// ReadFileResult carries a bounded file read.
type ReadFileResult struct {
	Path    string
	Size    int64
	Content string
	Binary  bool
}

// ReadFile reads up to the byte cap. Files above the cap fail; binary
// content is flagged and omitted while the size is still reported.
func (d *Discoverer) ReadFile(ctx context.Context, args *payload.ReadFileArgs) (*ReadFileResult, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	resolved, err := paths.Resolve(args.Path, d.WorkDir)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeToolExecution, "invalid file path", err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeToolExecution, "cannot stat file", err)
	}
	if info.IsDir() {
		return nil, apperrors.Newf(apperrors.CodeToolExecution, "path %q is a directory", args.Path)
	}
	if info.Size() > int64(args.MaxBytes) {
		return nil, apperrors.Newf(apperrors.CodeToolExecution, "file too big (max_bytes:%d)", args.MaxBytes)
	}

	content, err := os.ReadFile(resolved)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeToolExecution, "cannot read file", err)
	}

	res := &ReadFileResult{Path: args.Path, Size: info.Size()}
	if looksBinary(content) {
		res.Binary = true
		return res, nil
	}
	res.Content = string(content)
	return res, nil
}

// looksBinary flags content with any NUL byte, or more than 10% control
// bytes within the first KiB.
func looksBinary(data []byte) bool {
	for _, b := range data {
		if b == 0 {
			return true
		}
	}
	sample := data
	if len(sample) > 1024 {
		sample = sample[:1024]
	}
	if len(sample) == 0 {
		return false
	}
	control := 0
	for _, b := range sample {
		switch b {
		case '\n', '\r', '\t':
			continue
		}
		if b < 0x20 || b == 0x7f {
			control++
		}
	}
	return control*10 > len(sample)
}
