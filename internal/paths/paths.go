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

// Package paths validates and resolves filesystem paths for tool calls.
// Relative paths resolve against the runtime working directory; absolute
// paths are used as-is.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// MaxPathLength bounds raw path input before resolution.
const MaxPathLength = 4096

// Validate rejects empty, NUL-bearing, non-UTF-8 or oversized path strings.
func Validate(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if strings.IndexByte(path, 0) != -1 {
		return fmt.Errorf("path contains null byte")
	}
	if !utf8.ValidString(path) {
		return fmt.Errorf("path is not valid UTF-8")
	}
	if len(path) > MaxPathLength {
		return fmt.Errorf("path exceeds maximum length of %d characters", MaxPathLength)
	}
	return nil
}

// Resolve turns a tool-supplied path into an absolute one. Relative paths
// join the given working directory.
func Resolve(path, workdir string) (string, error) {
	if err := Validate(path); err != nil {
		return "", err
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	abs, err := filepath.Abs(filepath.Join(workdir, path))
	if err != nil {
		return "", fmt.Errorf("invalid path: %v", err)
	}
	return abs, nil
}

// EnsureParent creates the parent directory chain for a file path.
func EnsureParent(path string) error {
	parent := filepath.Dir(path)
	if parent == "" || parent == "." {
		return nil
	}
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("failed to create parent directories: %v", err)
	}
	return nil
}
