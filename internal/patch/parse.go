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

// Package patch parses and applies the textual patch grammar: a document
// bounded by "*** Begin Patch" / "*** End Patch" holding Add File, Delete
// File and Update File operations. Update hunks carry context, added and
// removed lines matched verbatim against the source.
package patch

import (
	"strings"

	apperrors "toolrun/internal/errors"
)

const (
	beginMarker  = "*** Begin Patch"
	endMarker    = "*** End Patch"
	addHeader    = "*** Add File: "
	deleteHeader = "*** Delete File: "
	updateHeader = "*** Update File: "
	moveHeader   = "*** Move to: "
	hunkMarker   = "@@"
)

// LineKind classifies one hunk line.
type LineKind int

const (
	Context LineKind = iota
	Add
	Remove
)

// HunkLine is a single context/add/remove line inside an update hunk.
type HunkLine struct {
	Kind LineKind
	Text string
}

// Hunk is a contiguous block of hunk lines; the "@@" marker that opens it
// is purely a boundary and carries no position information.
type Hunk struct {
	Lines []HunkLine
}

// Operation is one file operation inside a patch document.
type Operation struct {
	Kind   OpKind
	Path   string
	Lines  []string // Add File body
	MoveTo string   // Update File move target, optional
	Hunks  []Hunk   // Update File hunks
}

// OpKind identifies the operation type.
type OpKind int

const (
	OpAdd OpKind = iota
	OpDelete
	OpUpdate
)

func (k OpKind) String() string {
	switch k {
	case OpAdd:
		return "add"
	case OpDelete:
		return "delete"
	default:
		return "update"
	}
}

// Document is an ordered list of parsed operations.
type Document struct {
	Operations []Operation
}

// Parse validates the patch grammar and builds a document. Every failure
// carries a taxonomy code and a human-readable detail.
func Parse(text string) (*Document, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	start := -1
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.TrimRight(line, " \t") == beginMarker {
			start = i
		}
		break
	}
	if start == -1 {
		return nil, apperrors.Newf(apperrors.CodeMissingBeginPatch, "patch must start with %q", beginMarker)
	}

	end := -1
	for i := len(lines) - 1; i > start; i-- {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		if strings.TrimRight(lines[i], " \t") == endMarker {
			end = i
		}
		break
	}
	if end == -1 {
		return nil, apperrors.Newf(apperrors.CodeMissingEndPatch, "patch must end with %q", endMarker)
	}

	doc := &Document{}
	body := lines[start+1 : end]
	i := 0
	for i < len(body) {
		line := body[i]
		switch {
		case strings.TrimSpace(line) == "":
			i++
		case strings.HasPrefix(line, addHeader):
			op, next, err := parseAdd(body, i)
			if err != nil {
				return nil, err
			}
			doc.Operations = append(doc.Operations, op)
			i = next
		case strings.HasPrefix(line, deleteHeader):
			path := strings.TrimSpace(strings.TrimPrefix(line, deleteHeader))
			if path == "" {
				return nil, apperrors.New(apperrors.CodeInvalidPatchPath, "delete file operation has an empty path")
			}
			doc.Operations = append(doc.Operations, Operation{Kind: OpDelete, Path: path})
			i++
		case strings.HasPrefix(line, updateHeader):
			op, next, err := parseUpdate(body, i)
			if err != nil {
				return nil, err
			}
			doc.Operations = append(doc.Operations, op)
			i = next
		default:
			return nil, apperrors.Newf(apperrors.CodeInvalidPatchHeader, "unexpected line %q where an operation header was expected", line)
		}
	}

	if len(doc.Operations) == 0 {
		return nil, apperrors.New(apperrors.CodeEmptyPatchOperations, "patch contains no operations")
	}
	return doc, nil
}

// parseAdd consumes an Add File block; every body line must carry a "+"
// prefix until the next operation header.
func parseAdd(body []string, i int) (Operation, int, error) {
	path := strings.TrimSpace(strings.TrimPrefix(body[i], addHeader))
	if path == "" {
		return Operation{}, 0, apperrors.New(apperrors.CodeInvalidPatchPath, "add file operation has an empty path")
	}
	op := Operation{Kind: OpAdd, Path: path, Lines: []string{}}
	i++
	for i < len(body) {
		line := body[i]
		if isHeader(line) {
			break
		}
		if !strings.HasPrefix(line, "+") {
			return Operation{}, 0, apperrors.Newf(apperrors.CodeInvalidAddFileLine, "add file %s: line %q must start with '+'", path, line)
		}
		op.Lines = append(op.Lines, line[1:])
		i++
	}
	return op, i, nil
}

// parseUpdate consumes an Update File block: an optional move target then
// zero or more hunks opened by "@@" markers.
func parseUpdate(body []string, i int) (Operation, int, error) {
	path := strings.TrimSpace(strings.TrimPrefix(body[i], updateHeader))
	if path == "" {
		return Operation{}, 0, apperrors.New(apperrors.CodeInvalidPatchPath, "update file operation has an empty path")
	}
	op := Operation{Kind: OpUpdate, Path: path}
	i++

	if i < len(body) && strings.HasPrefix(body[i], moveHeader) {
		op.MoveTo = strings.TrimSpace(strings.TrimPrefix(body[i], moveHeader))
		if op.MoveTo == "" {
			return Operation{}, 0, apperrors.Newf(apperrors.CodeInvalidPatchPath, "update file %s: move target is empty", path)
		}
		i++
	}

	var current *Hunk
	for i < len(body) {
		line := body[i]
		if isHeader(line) {
			break
		}
		if strings.TrimRight(line, " \t") == hunkMarker || strings.HasPrefix(line, hunkMarker+" ") {
			op.Hunks = append(op.Hunks, Hunk{})
			current = &op.Hunks[len(op.Hunks)-1]
			i++
			continue
		}
		if current == nil {
			return Operation{}, 0, apperrors.Newf(apperrors.CodeInvalidUpdateLine, "update file %s: line %q appears before any @@ hunk marker", path, line)
		}
		hl, err := parseHunkLine(path, line)
		if err != nil {
			return Operation{}, 0, err
		}
		current.Lines = append(current.Lines, hl)
		i++
	}

	if op.MoveTo == "" && len(op.Hunks) == 0 {
		return Operation{}, 0, apperrors.Newf(apperrors.CodeEmptyPatchOperations, "update file %s has no hunks and no move target", path)
	}
	return op, i, nil
}

func parseHunkLine(path, line string) (HunkLine, error) {
	if line == "" {
		// Blank context lines often lose their leading space in transit.
		return HunkLine{Kind: Context, Text: ""}, nil
	}
	switch line[0] {
	case ' ':
		return HunkLine{Kind: Context, Text: line[1:]}, nil
	case '+':
		return HunkLine{Kind: Add, Text: line[1:]}, nil
	case '-':
		return HunkLine{Kind: Remove, Text: line[1:]}, nil
	default:
		return HunkLine{}, apperrors.Newf(apperrors.CodeInvalidUpdateLine, "update file %s: line %q must start with ' ', '+' or '-'", path, line)
	}
}

func isHeader(line string) bool {
	return strings.HasPrefix(line, addHeader) ||
		strings.HasPrefix(line, deleteHeader) ||
		strings.HasPrefix(line, updateHeader) ||
		strings.TrimRight(line, " \t") == endMarker
}
