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

package patch

import (
	"fmt"
	"os"
	"strings"

	"toolrun/internal/paths"

	apperrors "toolrun/internal/errors"
)

// Stats summarizes an apply. Committed lists operations already written to
// disk, in order; when Err is set by the caller the listed operations remain
// committed — there is no rollback.
type Stats struct {
	Added     int
	Deleted   int
	Updated   int
	Moved     int
	Committed []string
}

// Plan renders one row per parsed operation (A/D/U plus path), independent
// of whether the apply later succeeds.
func Plan(doc *Document) []string {
	rows := make([]string, 0, len(doc.Operations))
	for _, op := range doc.Operations {
		switch op.Kind {
		case OpAdd:
			rows = append(rows, "A "+op.Path)
		case OpDelete:
			rows = append(rows, "D "+op.Path)
		default:
			if op.MoveTo != "" && op.MoveTo != op.Path {
				rows = append(rows, fmt.Sprintf("U %s -> %s", op.Path, op.MoveTo))
			} else {
				rows = append(rows, "U "+op.Path)
			}
		}
	}
	return rows
}

// Apply executes the document's operations sequentially against workdir.
// A failed operation halts the patch; earlier operations stay committed and
// are reported through the returned stats.
func Apply(doc *Document, workdir string) (*Stats, error) {
	stats := &Stats{}
	for _, op := range doc.Operations {
		var err error
		switch op.Kind {
		case OpAdd:
			err = applyAdd(op, workdir, stats)
		case OpDelete:
			err = applyDelete(op, workdir, stats)
		case OpUpdate:
			err = applyUpdate(op, workdir, stats)
		}
		if err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func applyAdd(op Operation, workdir string, stats *Stats) error {
	target, err := resolvePatchPath(op.Path, workdir)
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(target); statErr == nil {
		return apperrors.Newf(apperrors.CodeAddTargetExists, "add file %s: target already exists", op.Path)
	}
	if err := paths.EnsureParent(target); err != nil {
		return apperrors.Wrap(apperrors.CodeToolExecution, fmt.Sprintf("add file %s", op.Path), err)
	}
	body := strings.Join(op.Lines, "\n")
	if len(op.Lines) > 0 {
		body += "\n"
	}
	if err := os.WriteFile(target, []byte(body), 0o644); err != nil {
		return apperrors.Wrap(apperrors.CodeToolExecution, fmt.Sprintf("add file %s", op.Path), err)
	}
	stats.Added++
	stats.Committed = append(stats.Committed, "A "+op.Path)
	return nil
}

func applyDelete(op Operation, workdir string, stats *Stats) error {
	target, err := resolvePatchPath(op.Path, workdir)
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(target); statErr != nil {
		return apperrors.Newf(apperrors.CodeDeleteTargetMissing, "delete file %s: target does not exist", op.Path)
	}
	if err := os.Remove(target); err != nil {
		return apperrors.Wrap(apperrors.CodeToolExecution, fmt.Sprintf("delete file %s", op.Path), err)
	}
	stats.Deleted++
	stats.Committed = append(stats.Committed, "D "+op.Path)
	return nil
}

func applyUpdate(op Operation, workdir string, stats *Stats) error {
	source, err := resolvePatchPath(op.Path, workdir)
	if err != nil {
		return err
	}
	raw, readErr := os.ReadFile(source)
	if readErr != nil {
		return apperrors.Newf(apperrors.CodeUpdateTargetMissing, "update file %s: target does not exist", op.Path)
	}

	content := string(raw)
	hadTrailingNewline := strings.HasSuffix(content, "\n")
	var lines []string
	if content != "" {
		lines = strings.Split(content, "\n")
		if hadTrailingNewline {
			lines = lines[:len(lines)-1]
		}
	}

	updated, err := applyHunks(op, lines)
	if err != nil {
		return err
	}

	out := strings.Join(updated, "\n")
	if hadTrailingNewline {
		out += "\n"
	}

	target := source
	if op.MoveTo != "" {
		if target, err = resolvePatchPath(op.MoveTo, workdir); err != nil {
			return err
		}
		if err := paths.EnsureParent(target); err != nil {
			return apperrors.Wrap(apperrors.CodeToolExecution, fmt.Sprintf("update file %s", op.Path), err)
		}
	}
	if err := os.WriteFile(target, []byte(out), 0o644); err != nil {
		return apperrors.Wrap(apperrors.CodeToolExecution, fmt.Sprintf("update file %s", op.Path), err)
	}
	if target != source {
		if err := os.Remove(source); err != nil {
			return apperrors.Wrap(apperrors.CodeToolExecution, fmt.Sprintf("update file %s: remove original", op.Path), err)
		}
		stats.Moved++
	}
	stats.Updated++
	stats.Committed = append(stats.Committed, "U "+op.Path)
	return nil
}

// applyHunks applies every hunk in document order with a monotonic cursor:
// each hunk's old pattern (context plus removed lines) is searched as a
// contiguous run starting at the end of the previous match, then replaced by
// the new pattern (context plus added lines). An empty old pattern splices
// at the cursor without consuming source lines.
func applyHunks(op Operation, lines []string) ([]string, error) {
	var out []string
	cursor := 0
	for i, hunk := range op.Hunks {
		oldPattern, newPattern := hunkPatterns(hunk)
		if len(oldPattern) == 0 {
			out = append(out, newPattern...)
			continue
		}
		match := findRun(lines, oldPattern, cursor)
		if match == -1 {
			return nil, apperrors.Newf(apperrors.CodePatchContextNotFound,
				"update file %s: hunk %d context not found (starting %q)", op.Path, i+1, oldPattern[0])
		}
		out = append(out, lines[cursor:match]...)
		out = append(out, newPattern...)
		cursor = match + len(oldPattern)
	}
	out = append(out, lines[cursor:]...)
	return out, nil
}

func hunkPatterns(hunk Hunk) (oldPattern, newPattern []string) {
	for _, line := range hunk.Lines {
		switch line.Kind {
		case Context:
			oldPattern = append(oldPattern, line.Text)
			newPattern = append(newPattern, line.Text)
		case Remove:
			oldPattern = append(oldPattern, line.Text)
		case Add:
			newPattern = append(newPattern, line.Text)
		}
	}
	return oldPattern, newPattern
}

// findRun locates pattern as a contiguous subsequence of lines at or after
// from, returning the start index or -1.
func findRun(lines, pattern []string, from int) int {
	for i := from; i+len(pattern) <= len(lines); i++ {
		matched := true
		for j := range pattern {
			if lines[i+j] != pattern[j] {
				matched = false
				break
			}
		}
		if matched {
			return i
		}
	}
	return -1
}

func resolvePatchPath(path, workdir string) (string, error) {
	resolved, err := paths.Resolve(path, workdir)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeInvalidPatchPath, fmt.Sprintf("path %q", path), err)
	}
	return resolved, nil
}
