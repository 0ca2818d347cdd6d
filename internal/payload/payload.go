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

// Package payload decodes raw tool payloads. A payload is either bare text,
// interpreted as the tool's primary field, or a JSON object with per-tool
// fields and aliases. Parsed argument structs are immutable once returned.
package payload

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	apperrors "toolrun/internal/errors"
)

// Limits are the per-tool clamp bounds and defaults. Zero-value fields are
// replaced by Normalize; callers obtain a Limits from config.
type Limits struct {
	DefaultGrepMatches int
	MaxGrepMatches     int
	DefaultSearchFiles int
	MaxSearchFiles     int
	DefaultReadBytes   int
	MaxReadBytes       int
	DefaultListEntries int
	MaxListEntries     int
	DefaultYieldMs     int
	MaxYieldMs         int
}

// DefaultLimits returns the built-in clamp bounds.
func DefaultLimits() Limits {
	return Limits{
		DefaultGrepMatches: 100,
		MaxGrepMatches:     2000,
		DefaultSearchFiles: 50,
		MaxSearchFiles:     500,
		DefaultReadBytes:   64 * 1024,
		MaxReadBytes:       256 * 1024,
		DefaultListEntries: 500,
		MaxListEntries:     2000,
		DefaultYieldMs:     700,
		MaxYieldMs:         5000,
	}
}

// Normalize replaces zero or negative bounds with the built-in defaults.
func (l Limits) Normalize() Limits {
	def := DefaultLimits()
	if l.DefaultGrepMatches <= 0 {
		l.DefaultGrepMatches = def.DefaultGrepMatches
	}
	if l.MaxGrepMatches <= 0 {
		l.MaxGrepMatches = def.MaxGrepMatches
	}
	if l.DefaultSearchFiles <= 0 {
		l.DefaultSearchFiles = def.DefaultSearchFiles
	}
	if l.MaxSearchFiles <= 0 {
		l.MaxSearchFiles = def.MaxSearchFiles
	}
	if l.DefaultReadBytes <= 0 {
		l.DefaultReadBytes = def.DefaultReadBytes
	}
	if l.MaxReadBytes <= 0 {
		l.MaxReadBytes = def.MaxReadBytes
	}
	if l.DefaultListEntries <= 0 {
		l.DefaultListEntries = def.DefaultListEntries
	}
	if l.MaxListEntries <= 0 {
		l.MaxListEntries = def.MaxListEntries
	}
	if l.DefaultYieldMs <= 0 {
		l.DefaultYieldMs = def.DefaultYieldMs
	}
	if l.MaxYieldMs <= 0 {
		l.MaxYieldMs = def.MaxYieldMs
	}
	return l
}

// Parsed argument structs, one per tool.

type ReadArgs struct {
	Cmd string
}

type ListDirArgs struct {
	Path       string
	Recursive  bool
	MaxEntries int
}

type ReadFileArgs struct {
	Path     string
	MaxBytes int
}

type GrepArgs struct {
	Query      string
	Glob       string
	MaxMatches int
}

type SearchArgs struct {
	Query      string
	Glob       string
	MaxFiles   int
	MaxMatches int
}

type PatchArgs struct {
	Patch string
}

type ExecArgs struct {
	Cmd     string
	YieldMs int
}

type StdinArgs struct {
	SessionID int
	Chars     string
	YieldMs   int
}

// ParseRead decodes a sandboxed read command payload.
func ParseRead(raw string) (*ReadArgs, error) {
	obj, bare, err := decode(raw)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		if bare == "" {
			return nil, missingField("cmd")
		}
		return &ReadArgs{Cmd: bare}, nil
	}
	cmd, err := stringField(obj, true, "cmd", "command")
	if err != nil {
		return nil, err
	}
	return &ReadArgs{Cmd: cmd}, nil
}

// ParseListDir decodes a directory listing payload. An empty payload lists
// the working directory.
func ParseListDir(raw string, limits Limits) (*ListDirArgs, error) {
	limits = limits.Normalize()
	args := &ListDirArgs{Path: ".", MaxEntries: limits.DefaultListEntries}
	obj, bare, err := decode(raw)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		if bare != "" {
			args.Path = bare
		}
		return args, nil
	}
	if path, err := stringField(obj, false, "path", "file", "dir"); err != nil {
		return nil, err
	} else if path != "" {
		args.Path = path
	}
	if args.Recursive, err = boolField(obj, "recursive"); err != nil {
		return nil, err
	}
	if args.MaxEntries, err = intField(obj, limits.DefaultListEntries, 1, limits.MaxListEntries, "max_entries", "limit"); err != nil {
		return nil, err
	}
	return args, nil
}

// ParseReadFile decodes a file read payload.
func ParseReadFile(raw string, limits Limits) (*ReadFileArgs, error) {
	limits = limits.Normalize()
	obj, bare, err := decode(raw)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		if bare == "" {
			return nil, missingField("path")
		}
		return &ReadFileArgs{Path: bare, MaxBytes: limits.DefaultReadBytes}, nil
	}
	path, err := stringField(obj, true, "path", "file", "filepath")
	if err != nil {
		return nil, err
	}
	maxBytes, err := intField(obj, limits.DefaultReadBytes, 1, limits.MaxReadBytes, "max_bytes", "max_size")
	if err != nil {
		return nil, err
	}
	return &ReadFileArgs{Path: path, MaxBytes: maxBytes}, nil
}

// ParseGrep decodes a grep payload.
func ParseGrep(raw string, limits Limits) (*GrepArgs, error) {
	limits = limits.Normalize()
	obj, bare, err := decode(raw)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		if bare == "" {
			return nil, missingField("query")
		}
		return &GrepArgs{Query: bare, MaxMatches: limits.DefaultGrepMatches}, nil
	}
	query, err := stringField(obj, true, "query", "pattern")
	if err != nil {
		return nil, err
	}
	glob, err := stringField(obj, false, "glob", "include")
	if err != nil {
		return nil, err
	}
	maxMatches, err := intField(obj, limits.DefaultGrepMatches, 1, limits.MaxGrepMatches, "max_matches", "limit")
	if err != nil {
		return nil, err
	}
	return &GrepArgs{Query: query, Glob: glob, MaxMatches: maxMatches}, nil
}

// ParseSearch decodes a project search payload.
func ParseSearch(raw string, limits Limits) (*SearchArgs, error) {
	limits = limits.Normalize()
	obj, bare, err := decode(raw)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		if bare == "" {
			return nil, missingField("query")
		}
		return &SearchArgs{Query: bare, MaxFiles: limits.DefaultSearchFiles, MaxMatches: limits.MaxGrepMatches}, nil
	}
	query, err := stringField(obj, true, "query", "pattern")
	if err != nil {
		return nil, err
	}
	glob, err := stringField(obj, false, "glob", "include")
	if err != nil {
		return nil, err
	}
	maxFiles, err := intField(obj, limits.DefaultSearchFiles, 1, limits.MaxSearchFiles, "max_files", "limit")
	if err != nil {
		return nil, err
	}
	maxMatches, err := intField(obj, limits.MaxGrepMatches, 1, limits.MaxGrepMatches, "max_matches")
	if err != nil {
		return nil, err
	}
	return &SearchArgs{Query: query, Glob: glob, MaxFiles: maxFiles, MaxMatches: maxMatches}, nil
}

// ParsePatch decodes a patch payload. Bare text is the patch body itself.
func ParsePatch(raw string) (*PatchArgs, error) {
	obj, bare, err := decode(raw)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		if bare == "" {
			return nil, missingField("patch")
		}
		return &PatchArgs{Patch: bare}, nil
	}
	patch, err := stringField(obj, true, "patch", "input", "diff")
	if err != nil {
		return nil, err
	}
	return &PatchArgs{Patch: patch}, nil
}

// ParseExec decodes an interactive command spawn payload.
func ParseExec(raw string, limits Limits) (*ExecArgs, error) {
	limits = limits.Normalize()
	obj, bare, err := decode(raw)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		if bare == "" {
			return nil, missingField("cmd")
		}
		return &ExecArgs{Cmd: bare, YieldMs: limits.DefaultYieldMs}, nil
	}
	cmd, err := stringField(obj, true, "cmd", "command")
	if err != nil {
		return nil, err
	}
	yield, err := intField(obj, limits.DefaultYieldMs, 1, limits.MaxYieldMs, "yield_ms", "timeout_ms")
	if err != nil {
		return nil, err
	}
	return &ExecArgs{Cmd: cmd, YieldMs: yield}, nil
}

// ParseStdin decodes a session stdin write payload. A session id is required,
// so bare payloads are rejected.
func ParseStdin(raw string, limits Limits) (*StdinArgs, error) {
	limits = limits.Normalize()
	obj, _, err := decode(raw)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, apperrors.New(apperrors.CodeInvalidPayload, "write_stdin requires a JSON object with a session_id field")
	}
	id, err := intField(obj, -1, 0, math.MaxInt32, "session_id", "id")
	if err != nil {
		return nil, err
	}
	if id < 0 {
		return nil, missingField("session_id")
	}
	chars, err := rawStringField(obj, "chars", "input", "text")
	if err != nil {
		return nil, err
	}
	yield, err := intField(obj, limits.DefaultYieldMs, 1, limits.MaxYieldMs, "yield_ms", "timeout_ms")
	if err != nil {
		return nil, err
	}
	return &StdinArgs{SessionID: id, Chars: chars, YieldMs: yield}, nil
}

// decode splits a raw payload into either a JSON object or bare text. Bare
// text is trimmed and stripped of one pair of matching outer quotes.
func decode(raw string) (map[string]interface{}, string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, "", nil
	}
	if strings.HasPrefix(trimmed, "{") {
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
			return nil, "", apperrors.Wrap(apperrors.CodeInvalidPayload, "malformed JSON payload", err)
		}
		return obj, "", nil
	}
	return nil, stripQuotes(trimmed), nil
}

func stripQuotes(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if first == last && (first == '"' || first == '\'') {
			return strings.TrimSpace(s[1 : len(s)-1])
		}
	}
	return s
}

func missingField(key string) error {
	return apperrors.Newf(apperrors.CodeInvalidPayload, "missing or empty %q field", key)
}

// stringField fetches the first present alias as a cleaned string. Wrong
// types fail; required fields must be non-empty after cleaning.
func stringField(obj map[string]interface{}, required bool, keys ...string) (string, error) {
	for _, key := range keys {
		val, ok := obj[key]
		if !ok || val == nil {
			continue
		}
		str, ok := val.(string)
		if !ok {
			return "", apperrors.Newf(apperrors.CodeInvalidPayload, "field %q must be a string", key)
		}
		cleaned := stripQuotes(strings.TrimSpace(str))
		if cleaned == "" {
			continue
		}
		return cleaned, nil
	}
	if required {
		return "", missingField(keys[0])
	}
	return "", nil
}

// rawStringField fetches a string alias without trimming; stdin bytes are
// forwarded verbatim.
func rawStringField(obj map[string]interface{}, keys ...string) (string, error) {
	for _, key := range keys {
		val, ok := obj[key]
		if !ok || val == nil {
			continue
		}
		str, ok := val.(string)
		if !ok {
			return "", apperrors.Newf(apperrors.CodeInvalidPayload, "field %q must be a string", key)
		}
		return str, nil
	}
	return "", nil
}

func boolField(obj map[string]interface{}, key string) (bool, error) {
	val, ok := obj[key]
	if !ok || val == nil {
		return false, nil
	}
	b, ok := val.(bool)
	if !ok {
		return false, apperrors.Newf(apperrors.CodeInvalidPayload, "field %q must be a boolean", key)
	}
	return b, nil
}

// intField fetches the first present alias as an int clamped into [min, max].
// Missing or zero falls back to def.
func intField(obj map[string]interface{}, def, min, max int, keys ...string) (int, error) {
	for _, key := range keys {
		val, ok := obj[key]
		if !ok || val == nil {
			continue
		}
		n, err := intValue(key, val)
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return def, nil
		}
		if n < min {
			return min, nil
		}
		if n > max {
			return max, nil
		}
		return n, nil
	}
	return def, nil
}

func intValue(key string, val interface{}) (int, error) {
	switch v := val.(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, apperrors.Newf(apperrors.CodeInvalidPayload, "field %q must be an integer", key)
		}
		return int(v), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, apperrors.Newf(apperrors.CodeInvalidPayload, "field %q must be an integer", key)
		}
		return n, nil
	default:
		return 0, apperrors.Newf(apperrors.CodeInvalidPayload, "field %q must be an integer", key)
	}
}
